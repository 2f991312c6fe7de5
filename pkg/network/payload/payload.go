package payload

import (
	"github.com/timgates42/mako/pkg/io"
)

// Payload is anything that can be binary encoded/decoded as a message
// body.
type Payload interface {
	io.Serializable
}

// NullPayload is a dummy payload with no fields, used for messages that
// are a bare command (verack, getaddr, mempool, sendheaders).
type NullPayload struct {
}

// NewNullPayload returns a zero-sized stub payload.
func NewNullPayload() *NullPayload {
	return &NullPayload{}
}

// DecodeBinary implements the Payload interface.
func (p *NullPayload) DecodeBinary(r *io.BinReader) {}

// EncodeBinary implements the Payload interface.
func (p *NullPayload) EncodeBinary(w *io.BinWriter) {}
