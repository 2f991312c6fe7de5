package payload

import (
	"errors"

	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// maxShortIDs bounds the short id list of a compact block.
const maxShortIDs = 1000000

// ShortIDSize is the wire size of a compact block short id.
const ShortIDSize = 6

// ShortID is the 6-byte truncated siphash of a transaction id.
type ShortID uint64

// PrefilledTx is a transaction the sender predicted the receiver would
// miss, included in full. Indexes are differentially encoded.
type PrefilledTx struct {
	Index uint32
	Tx    *Transaction
}

// CompactBlock is the cmpctblock body: a header, a shortid nonce, the
// short ids of most transactions and a handful of prefilled ones.
type CompactBlock struct {
	Header    Header
	Nonce     uint64
	ShortIDs  []ShortID
	Prefilled []PrefilledTx
}

// DecodeBinary implements the Payload interface.
func (p *CompactBlock) DecodeBinary(r *io.BinReader) {
	p.Header.DecodeBinary(r)
	p.Nonce = r.ReadU64LE()
	p.ShortIDs = nil
	r.ReadArray(func(i int) {
		if i >= maxShortIDs {
			r.Err = errTooLong
			return
		}
		var b [ShortIDSize]byte
		r.ReadBytes(b[:])
		p.ShortIDs = append(p.ShortIDs, shortIDFromBytes(b))
	})
	p.Prefilled = nil
	last := -1
	r.ReadArray(func(i int) {
		if i >= maxShortIDs {
			r.Err = errTooLong
			return
		}
		diff := r.ReadVarUint()
		tx := &Transaction{}
		tx.DecodeBinary(r)
		idx := uint64(last) + 1 + diff
		if idx > 0xffffffff {
			r.Err = errors.New("prefilled index overflow")
			return
		}
		last = int(idx)
		p.Prefilled = append(p.Prefilled, PrefilledTx{Index: uint32(idx), Tx: tx})
	})
}

// EncodeBinary implements the Payload interface.
func (p *CompactBlock) EncodeBinary(w *io.BinWriter) {
	p.Header.EncodeBinary(w)
	w.WriteU64LE(p.Nonce)
	w.WriteVarUint(uint64(len(p.ShortIDs)))
	for _, id := range p.ShortIDs {
		b := id.Bytes()
		w.WriteBytes(b[:])
	}
	w.WriteVarUint(uint64(len(p.Prefilled)))
	last := -1
	for _, pf := range p.Prefilled {
		w.WriteVarUint(uint64(int(pf.Index) - last - 1))
		last = int(pf.Index)
		pf.Tx.EncodeBinary(w)
	}
}

// TxCount returns the total number of transactions the block claims.
func (p *CompactBlock) TxCount() int {
	return len(p.ShortIDs) + len(p.Prefilled)
}

func shortIDFromBytes(b [ShortIDSize]byte) ShortID {
	return ShortID(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40)
}

// Bytes returns the 6-byte little-endian wire form.
func (id ShortID) Bytes() [ShortIDSize]byte {
	var b [ShortIDSize]byte
	v := uint64(id)
	for i := 0; i < ShortIDSize; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// BlockTxnRequest is the getblocktxn body: the indexes of the
// transactions the receiver is missing, differentially encoded.
type BlockTxnRequest struct {
	BlockHash util.Uint256
	Indexes   []uint32
}

// DecodeBinary implements the Payload interface.
func (p *BlockTxnRequest) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(p.BlockHash[:])
	p.Indexes = nil
	last := -1
	r.ReadArray(func(i int) {
		if i >= maxShortIDs {
			r.Err = errTooLong
			return
		}
		diff := r.ReadVarUint()
		idx := uint64(last) + 1 + diff
		if idx > 0xffffffff {
			r.Err = errors.New("transaction index overflow")
			return
		}
		last = int(idx)
		p.Indexes = append(p.Indexes, uint32(idx))
	})
}

// EncodeBinary implements the Payload interface.
func (p *BlockTxnRequest) EncodeBinary(w *io.BinWriter) {
	w.WriteBytes(p.BlockHash[:])
	w.WriteVarUint(uint64(len(p.Indexes)))
	last := -1
	for _, idx := range p.Indexes {
		w.WriteVarUint(uint64(int(idx) - last - 1))
		last = int(idx)
	}
}

// BlockTxn is the blocktxn body: the requested transactions in block
// order.
type BlockTxn struct {
	BlockHash util.Uint256
	Txs       []*Transaction
}

// DecodeBinary implements the Payload interface.
func (p *BlockTxn) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(p.BlockHash[:])
	p.Txs = nil
	r.ReadArray(func(i int) {
		if i >= maxShortIDs {
			r.Err = errTooLong
			return
		}
		tx := &Transaction{}
		tx.DecodeBinary(r)
		p.Txs = append(p.Txs, tx)
	})
}

// EncodeBinary implements the Payload interface.
func (p *BlockTxn) EncodeBinary(w *io.BinWriter) {
	w.WriteBytes(p.BlockHash[:])
	w.WriteVarUint(uint64(len(p.Txs)))
	for _, tx := range p.Txs {
		tx.EncodeBinary(w)
	}
}
