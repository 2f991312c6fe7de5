package core

import (
	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

func mustHash(s string) util.Uint256 {
	h, err := util.Uint256DecodeReverseString(s)
	if err != nil {
		panic(err)
	}
	return h
}

// genesisMerkleRoot is shared by every network, the genesis coinbase
// never changed.
var genesisMerkleRoot = mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")

// GenesisHeader returns the hard-coded first block header of the given
// network.
func GenesisHeader(net config.NetMode) *payload.Header {
	switch net {
	case config.ModeTestNet:
		return &payload.Header{
			Version:    1,
			MerkleRoot: genesisMerkleRoot,
			Timestamp:  1296688602,
			Bits:       0x1d00ffff,
			Nonce:      414098458,
		}
	case config.ModeRegTest:
		return &payload.Header{
			Version:    1,
			MerkleRoot: genesisMerkleRoot,
			Timestamp:  1296688602,
			Bits:       0x207fffff,
			Nonce:      2,
		}
	case config.ModeSigNet:
		return &payload.Header{
			Version:    1,
			MerkleRoot: genesisMerkleRoot,
			Timestamp:  1598918400,
			Bits:       0x1e0377ae,
			Nonce:      52613770,
		}
	case config.ModeSimNet:
		return &payload.Header{
			Version:    1,
			MerkleRoot: genesisMerkleRoot,
			Timestamp:  1401292357,
			Bits:       0x207fffff,
			Nonce:      2,
		}
	default:
		return &payload.Header{
			Version:    1,
			MerkleRoot: genesisMerkleRoot,
			Timestamp:  1231006505,
			Bits:       0x1d00ffff,
			Nonce:      2083236893,
		}
	}
}
