package payload

import (
	"errors"
	"math/big"

	"github.com/timgates42/mako/pkg/crypto/hash"
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// Header is an 80-byte block header.
type Header struct {
	Version    int32
	PrevBlock  util.Uint256
	MerkleRoot util.Uint256
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32

	hash       util.Uint256
	hashCached bool
}

// DecodeBinary implements the Payload interface.
func (h *Header) DecodeBinary(r *io.BinReader) {
	r.ReadLE(&h.Version)
	r.ReadBytes(h.PrevBlock[:])
	r.ReadBytes(h.MerkleRoot[:])
	h.Timestamp = r.ReadU32LE()
	h.Bits = r.ReadU32LE()
	h.Nonce = r.ReadU32LE()
	h.hashCached = false
}

// EncodeBinary implements the Payload interface.
func (h *Header) EncodeBinary(w *io.BinWriter) {
	w.WriteLE(h.Version)
	w.WriteBytes(h.PrevBlock[:])
	w.WriteBytes(h.MerkleRoot[:])
	w.WriteU32LE(h.Timestamp)
	w.WriteU32LE(h.Bits)
	w.WriteU32LE(h.Nonce)
}

// Hash returns the sha256d of the 80-byte serialization, cached after
// the first call.
func (h *Header) Hash() util.Uint256 {
	if !h.hashCached {
		buf := io.NewBufBinWriter()
		h.EncodeBinary(buf.BinWriter)
		h.hash = hash.DoubleSha256(buf.Bytes())
		h.hashCached = true
	}
	return h.hash
}

// CompactToBig expands the compact difficulty representation of the bits
// field into a full target.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// ErrHighHash is returned by CheckProofOfWork when the header hash does
// not satisfy its own claimed target.
var ErrHighHash = errors.New("block hash higher than target")

// CheckProofOfWork verifies the header hash against the target encoded
// in its bits field. It does not verify the target against the network
// difficulty rules, that is a chain concern.
func (h *Header) CheckProofOfWork() error {
	target := CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return errors.New("invalid target in bits field")
	}

	hashInt := new(big.Int).SetBytes(h.Hash().BytesReverse())
	if hashInt.Cmp(target) > 0 {
		return ErrHighHash
	}
	return nil
}

// Headers is the body of a headers message. Each entry carries a
// trailing transaction count varint that is always zero.
type Headers struct {
	Hdrs []*Header
}

// MaxHeadersAllowed is the largest batch of headers a peer may send.
const MaxHeadersAllowed = 2000

// DecodeBinary implements the Payload interface.
func (p *Headers) DecodeBinary(r *io.BinReader) {
	p.Hdrs = nil
	r.ReadArray(func(i int) {
		if i >= MaxHeadersAllowed {
			r.Err = ErrTooManyHeaders
			return
		}
		h := &Header{}
		h.DecodeBinary(r)
		if n := r.ReadVarUint(); n != 0 && r.Err == nil {
			r.Err = errors.New("non-empty header transaction count")
		}
		p.Hdrs = append(p.Hdrs, h)
	})
}

// EncodeBinary implements the Payload interface.
func (p *Headers) EncodeBinary(w *io.BinWriter) {
	w.WriteVarUint(uint64(len(p.Hdrs)))
	for _, h := range p.Hdrs {
		h.EncodeBinary(w)
		w.WriteVarUint(0)
	}
}
