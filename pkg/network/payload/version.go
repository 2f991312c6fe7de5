package payload

import (
	"github.com/timgates42/mako/pkg/io"
)

const (
	// MinSupportedVersion is the lowest protocol version this node
	// talks to at all.
	MinSupportedVersion = 70001
	// HeadersVersion is the version headers-first sync appeared in.
	HeadersVersion = 31800
	// PingNonceVersion is the version ping challenges appeared in.
	PingNonceVersion = 60000
	// RelayVersion is the version the trailing relay flag appeared in.
	RelayVersion = 70001
	// ProtocolVersion is what we advertise ourselves.
	ProtocolVersion = 70015
	// maxUserAgentLength bounds the user agent varstring.
	maxUserAgentLength = 256
)

// Version payload, the first message of the handshake.
type Version struct {
	// The protocol version of the node.
	Version int32
	// Service mask of the node.
	Services ServiceFlag
	// UNIX timestamp of the node.
	Timestamp int64
	// The endpoint of the receiving node as seen by the sender.
	Recv NetAddress
	// The endpoint of the sender. Largely vestigial, carried anyway.
	From NetAddress
	// Connection nonce, used to detect connections to self.
	Nonce uint64
	// Client identifier.
	UserAgent []byte
	// Height of the sender's best chain.
	StartHeight int32
	// Whether unconfirmed transactions should be relayed to the
	// sender. Absent on the wire for peers before RelayVersion,
	// which implies true.
	Relay bool
}

// NewVersion returns a new version payload.
func NewVersion(nonce uint64, services ServiceFlag, recv, from NetAddress, ts int64, ua string, height int32, relay bool) *Version {
	return &Version{
		Version:     ProtocolVersion,
		Services:    services,
		Timestamp:   ts,
		Recv:        recv,
		From:        from,
		Nonce:       nonce,
		UserAgent:   []byte(ua),
		StartHeight: height,
		Relay:       relay,
	}
}

// DecodeBinary implements the Payload interface.
func (p *Version) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&p.Version)
	p.Services = ServiceFlag(r.ReadU64LE())
	r.ReadLE(&p.Timestamp)
	p.Recv.DecodeBinary(r)
	p.From.DecodeBinary(r)
	p.Nonce = r.ReadU64LE()
	p.UserAgent = r.ReadVarBytes()
	if r.Err == nil && len(p.UserAgent) > maxUserAgentLength {
		r.Err = errTooLong
		return
	}
	r.ReadLE(&p.StartHeight)
	if p.Version >= RelayVersion {
		p.Relay = r.ReadBool()
	} else {
		p.Relay = true
	}
}

// EncodeBinary implements the Payload interface.
func (p *Version) EncodeBinary(w *io.BinWriter) {
	w.WriteLE(p.Version)
	w.WriteU64LE(uint64(p.Services))
	w.WriteLE(p.Timestamp)
	p.Recv.EncodeBinary(w)
	p.From.EncodeBinary(w)
	w.WriteU64LE(p.Nonce)
	w.WriteVarBytes(p.UserAgent)
	w.WriteLE(p.StartHeight)
	if p.Version >= RelayVersion {
		w.WriteBool(p.Relay)
	}
}
