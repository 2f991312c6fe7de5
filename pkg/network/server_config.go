package network

import (
	"time"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/network/payload"
)

// ServerConfig holds the server configuration.
type ServerConfig struct {
	// Net is the network the server runs on.
	Net config.NetMode

	// The host address to bind the listener to.
	Address string

	// Port the server listens on and advertises.
	Port uint16

	// Listen enables the inbound listener.
	Listen bool

	// MaxOutbound is the number of outbound slots to keep filled.
	MaxOutbound int

	// MaxInbound is the number of inbound connections accepted.
	MaxInbound int

	// Services is the capability mask this node advertises.
	Services payload.ServiceFlag

	// RequiredServices is what outbound candidates must advertise.
	// Defaults to Services when zero.
	RequiredServices payload.ServiceFlag

	// UserAgent of the server.
	UserAgent string

	// Seeds dialed before the address manager has candidates.
	Seeds []string

	// DialTimeout bounds outbound connection attempts.
	DialTimeout time.Duration

	// Relay announces our willingness to receive unconfirmed
	// transactions.
	Relay bool

	// CheckpointsEnabled gates the initial sync on the hard-coded
	// checkpoint table.
	CheckpointsEnabled bool

	// BIP37Enabled permits serving mempool requests.
	BIP37Enabled bool

	// BIP152Enabled turns on compact block relay.
	BIP152Enabled bool

	// BlockMode is the compact block bandwidth mode (0 or 1).
	BlockMode int

	// OnlyNet filters outbound candidates ("", "ipv4", "ipv6",
	// "onion").
	OnlyNet string

	// Onion permits onion candidates.
	Onion bool

	// SelfConnect tolerates connections to our own nonce.
	SelfConnect bool
}

// NewServerConfig creates a new ServerConfig struct using the main
// applications config.
func NewServerConfig(cfg config.Config) ServerConfig {
	appConfig := cfg.ApplicationConfiguration
	protoConfig := cfg.ProtocolConfiguration

	services := payload.ServiceNetwork | payload.ServiceWitness
	required := payload.ServiceFlag(protoConfig.RequiredServices)
	if required == 0 {
		required = services
	}

	return ServerConfig{
		Net:                protoConfig.Magic,
		Address:            appConfig.Address,
		Port:               protoConfig.Port,
		Listen:             appConfig.Listen,
		MaxOutbound:        appConfig.MaxOutbound,
		MaxInbound:         appConfig.MaxInbound,
		Services:           services,
		RequiredServices:   required,
		UserAgent:          cfg.GenerateUserAgent(),
		Seeds:              protoConfig.SeedList,
		DialTimeout:        10 * time.Second,
		Relay:              true,
		CheckpointsEnabled: protoConfig.CheckpointsEnabled,
		BIP37Enabled:       protoConfig.BIP37Enabled,
		BIP152Enabled:      protoConfig.BIP152Enabled,
		BlockMode:          protoConfig.BlockMode,
		OnlyNet:            appConfig.OnlyNet,
		Onion:              appConfig.Onion,
		SelfConnect:        protoConfig.SelfConnectAllowed(),
	}
}
