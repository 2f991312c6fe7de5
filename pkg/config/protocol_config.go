package config

// ProtocolConfiguration represents the part of the configuration that is
// fixed per network: how peers of this network frame, gate and relay.
type (
	ProtocolConfiguration struct {
		Magic NetMode `yaml:"Magic"`
		// Port is the canonical p2p port, advertised in version
		// messages and required of outbound candidates early on.
		Port     uint16   `yaml:"Port"`
		SeedList []string `yaml:"SeedList"`
		// CheckpointsEnabled gates headers-first sync against the
		// hard-coded checkpoint table of the network.
		CheckpointsEnabled bool `yaml:"CheckpointsEnabled"`
		// BIP37Enabled permits serving mempool requests.
		BIP37Enabled bool `yaml:"BIP37Enabled"`
		// BIP152Enabled turns on compact block relay.
		BIP152Enabled bool `yaml:"BIP152Enabled"`
		// BlockMode selects compact block bandwidth mode: 0 for
		// low-bandwidth (announce, pull on demand), 1 for
		// high-bandwidth (blocks pushed unsolicited).
		BlockMode int `yaml:"BlockMode"`
		// RequiredServices is the service mask outbound candidates
		// must advertise. Zero means "same as our own services".
		RequiredServices uint64 `yaml:"RequiredServices"`
		// SelfConnect permits loopback connections to our own nonce.
		// Defaults to the per-network rule when unset.
		SelfConnect *bool `yaml:"SelfConnect,omitempty"`
	}
)

// SelfConnectAllowed resolves the self connection policy against the
// network default.
func (p ProtocolConfiguration) SelfConnectAllowed() bool {
	if p.SelfConnect != nil {
		return *p.SelfConnect
	}
	return p.Magic.SelfConnectAllowed()
}
