package payload

import (
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// RejectCode is the numeric reason of a reject message.
type RejectCode uint8

// Reject codes.
const (
	RejectMalformed       RejectCode = 0x01
	RejectInvalid         RejectCode = 0x10
	RejectObsolete        RejectCode = 0x11
	RejectDuplicate       RejectCode = 0x12
	RejectNonstandard     RejectCode = 0x40
	RejectDust            RejectCode = 0x41
	RejectInsufficientFee RejectCode = 0x42
	RejectCheckpoint      RejectCode = 0x43
)

// Reject tells a peer why its block or transaction was refused. The
// hash field is present only for "block" and "tx" subjects.
type Reject struct {
	Message string
	Code    RejectCode
	Reason  string
	Hash    util.Uint256
}

// hasHash returns whether the trailing hash is part of the wire form.
func (p *Reject) hasHash() bool {
	return p.Message == "block" || p.Message == "tx"
}

// DecodeBinary implements the Payload interface.
func (p *Reject) DecodeBinary(r *io.BinReader) {
	p.Message = r.ReadString()
	p.Code = RejectCode(r.ReadB())
	p.Reason = r.ReadString()
	if p.hasHash() {
		r.ReadBytes(p.Hash[:])
	}
}

// EncodeBinary implements the Payload interface.
func (p *Reject) EncodeBinary(w *io.BinWriter) {
	w.WriteString(p.Message)
	w.WriteB(byte(p.Code))
	w.WriteString(p.Reason)
	if p.hasHash() {
		w.WriteBytes(p.Hash[:])
	}
}
