package payload

import (
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// MaxLocatorAllowed bounds the locator of getblocks/getheaders. An
// exponentially thinning locator over a chain of any realistic height
// fits well within it.
const MaxLocatorAllowed = 101

// GetBlocks is the body shared by getblocks and getheaders: a block
// locator plus a stop hash.
type GetBlocks struct {
	Version int32
	// Locator is a sequence of block hashes, exponentially thinning
	// backwards from the sender's tip.
	Locator []util.Uint256
	// HashStop is where to stop answering; zero means "as many as
	// allowed".
	HashStop util.Uint256
}

// NewGetBlocks returns a GetBlocks object.
func NewGetBlocks(locator []util.Uint256, stop util.Uint256) *GetBlocks {
	return &GetBlocks{
		Version:  ProtocolVersion,
		Locator:  locator,
		HashStop: stop,
	}
}

// DecodeBinary implements the Payload interface.
func (p *GetBlocks) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&p.Version)
	p.Locator = nil
	r.ReadArray(func(i int) {
		if i >= MaxLocatorAllowed {
			r.Err = errTooLong
			return
		}
		var h util.Uint256
		r.ReadBytes(h[:])
		p.Locator = append(p.Locator, h)
	})
	r.ReadBytes(p.HashStop[:])
}

// EncodeBinary implements the Payload interface.
func (p *GetBlocks) EncodeBinary(w *io.BinWriter) {
	w.WriteLE(p.Version)
	w.WriteVarUint(uint64(len(p.Locator)))
	for i := range p.Locator {
		w.WriteBytes(p.Locator[i][:])
	}
	w.WriteBytes(p.HashStop[:])
}
