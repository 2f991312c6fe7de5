package payload

import (
	"github.com/timgates42/mako/pkg/io"
)

// Compact block protocol versions carried in sendcmpct.
const (
	CmpctLegacyVersion  = 1
	CmpctWitnessVersion = 2
)

// SendCmpct negotiates compact block relay. Announce selects
// high-bandwidth mode (blocks pushed as cmpctblock without a prior inv).
type SendCmpct struct {
	Announce bool
	Version  uint64
}

// DecodeBinary implements the Payload interface.
func (p *SendCmpct) DecodeBinary(r *io.BinReader) {
	p.Announce = r.ReadBool()
	p.Version = r.ReadU64LE()
}

// EncodeBinary implements the Payload interface.
func (p *SendCmpct) EncodeBinary(w *io.BinWriter) {
	w.WriteBool(p.Announce)
	w.WriteU64LE(p.Version)
}
