package payload

import (
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/util"
)

// maxBlockTxs bounds the per-block transaction count on decode.
const maxBlockTxs = 1000000

// Block is a full block: a header plus its transactions.
type Block struct {
	Header Header
	Txs    []*Transaction
}

// Hash returns the header hash.
func (b *Block) Hash() util.Uint256 {
	return b.Header.Hash()
}

// DecodeBinary implements the Payload interface.
func (b *Block) DecodeBinary(r *io.BinReader) {
	b.Header.DecodeBinary(r)
	b.Txs = nil
	r.ReadArray(func(i int) {
		if i >= maxBlockTxs {
			r.Err = errTooLong
			return
		}
		tx := &Transaction{}
		tx.DecodeBinary(r)
		b.Txs = append(b.Txs, tx)
	})
}

// EncodeBinary implements the Payload interface.
func (b *Block) EncodeBinary(w *io.BinWriter) {
	b.Header.EncodeBinary(w)
	w.WriteVarUint(uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		tx.EncodeBinary(w)
	}
}
