package payload

import (
	"github.com/timgates42/mako/pkg/io"
)

// FeeFilter asks the peer not to relay transactions paying below the
// given fee rate (satoshi per kilobyte).
type FeeFilter struct {
	MinFee int64
}

// DecodeBinary implements the Payload interface.
func (p *FeeFilter) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&p.MinFee)
}

// EncodeBinary implements the Payload interface.
func (p *FeeFilter) EncodeBinary(w *io.BinWriter) {
	w.WriteLE(p.MinFee)
}
