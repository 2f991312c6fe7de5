package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const userAgentFormat = "/mako:%s/"

// Version the version of the node, set at build time.
var Version string

// Config top level struct representing the node configuration.
type Config struct {
	ProtocolConfiguration    ProtocolConfiguration    `yaml:"ProtocolConfiguration"`
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// ApplicationConfiguration covers the knobs that are not part of the
// protocol: where to listen, how many peers to keep, what to log.
type ApplicationConfiguration struct {
	Address  string `yaml:"Address"`
	Listen   bool   `yaml:"Listen"`
	LogPath  string `yaml:"LogPath"`
	LogLevel string `yaml:"LogLevel"`
	// MaxOutbound and MaxInbound bound the two halves of the peer set.
	MaxOutbound int `yaml:"MaxOutbound"`
	MaxInbound  int `yaml:"MaxInbound"`
	// OnlyNet filters outbound candidates: "", "ipv4", "ipv6" or "onion".
	OnlyNet string `yaml:"OnlyNet"`
	// Onion permits onion-routed candidates even when OnlyNet is unset.
	Onion bool `yaml:"Onion"`
}

// GenerateUserAgent creates a user agent string based on the build version.
func (c Config) GenerateUserAgent() string {
	return fmt.Sprintf(userAgentFormat, Version)
}

// Load attempts to load the config from the given path for the given
// network, filling in per-network defaults for anything left unset.
func Load(path string, net NetMode) (Config, error) {
	configFile := fmt.Sprintf("%s/protocol.%s.yml", path, net)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "unable to load config")
	}

	configData, err := ioutil.ReadFile(configFile)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to read config")
	}

	config := Config{
		ProtocolConfiguration: ProtocolConfiguration{
			Magic: net,
		},
		ApplicationConfiguration: ApplicationConfiguration{
			Listen:      true,
			MaxOutbound: 8,
			MaxInbound:  8,
		},
	}

	err = yaml.Unmarshal(configData, &config)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config YAML")
	}

	if config.ProtocolConfiguration.Port == 0 {
		config.ProtocolConfiguration.Port = net.Port()
	}

	return config, nil
}
