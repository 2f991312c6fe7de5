package payload

// ServiceFlag is the 64-bit capability mask a peer advertises in its
// version message and address announcements.
type ServiceFlag uint64

// Service bits.
const (
	// ServiceNetwork means the peer serves the full block chain.
	ServiceNetwork ServiceFlag = 1 << 0
	// ServiceGetUTXO is the BIP64 bit. Unused here, kept for masks.
	ServiceGetUTXO ServiceFlag = 1 << 1
	// ServiceBloom means the peer accepts BIP37 filter commands.
	ServiceBloom ServiceFlag = 1 << 2
	// ServiceWitness means the peer can serve witness data.
	ServiceWitness ServiceFlag = 1 << 3
	// ServiceNetworkLimited means the peer serves only recent blocks.
	ServiceNetworkLimited ServiceFlag = 1 << 10
)

// Has returns true if all bits of the given mask are set.
func (s ServiceFlag) Has(mask ServiceFlag) bool {
	return s&mask == mask
}
