package payload

import (
	"github.com/timgates42/mako/pkg/io"
)

// Ping carries the 64-bit challenge echoed back by pong. Peers before
// PingNonceVersion send it empty; the codec substitutes a zero nonce.
type Ping struct {
	Nonce uint64
}

// NewPing creates a ping payload with the given challenge.
func NewPing(nonce uint64) *Ping {
	return &Ping{Nonce: nonce}
}

// DecodeBinary implements the Payload interface.
func (p *Ping) DecodeBinary(r *io.BinReader) {
	p.Nonce = r.ReadU64LE()
}

// EncodeBinary implements the Payload interface.
func (p *Ping) EncodeBinary(w *io.BinWriter) {
	w.WriteU64LE(p.Nonce)
}
