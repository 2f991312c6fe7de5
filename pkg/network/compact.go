package network

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/dchest/siphash"
	"github.com/timgates42/mako/pkg/io"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

var (
	// errShortIDCollision means two transactions of the block share a
	// short id and reconstruction cannot proceed.
	errShortIDCollision = errors.New("short id collision")
	errBadPrefilled     = errors.New("prefilled index out of range")
)

// compactBlock is the reconstruction state of one in-flight compact
// block: every transaction slot, the short id table, and the siphash
// keys derived from the header.
type compactBlock struct {
	header  payload.Header
	nonce   uint64
	witness bool

	k0, k1 uint64

	// slots in block order, nil while unresolved.
	txs    []*payload.Transaction
	filled int

	ids map[payload.ShortID]int

	peerID   int64
	deadline time.Time
}

// newCompactBlock builds the slot table from a cmpctblock payload.
// A short id collision inside the announcement itself is unrecoverable
// and reported as errShortIDCollision, the caller falls back to a full
// block.
func newCompactBlock(p *payload.CompactBlock, witness bool) (*compactBlock, error) {
	cb := &compactBlock{
		header:  p.Header,
		nonce:   p.Nonce,
		witness: witness,
		txs:     make([]*payload.Transaction, p.TxCount()),
		ids:     make(map[payload.ShortID]int, len(p.ShortIDs)),
	}
	cb.k0, cb.k1 = shortIDKeys(&p.Header, p.Nonce)

	for _, pf := range p.Prefilled {
		if int(pf.Index) >= len(cb.txs) || cb.txs[pf.Index] != nil {
			return nil, errBadPrefilled
		}
		cb.txs[pf.Index] = pf.Tx
		cb.filled++
	}

	slot := 0
	for _, id := range p.ShortIDs {
		for slot < len(cb.txs) && cb.txs[slot] != nil {
			slot++
		}
		if slot >= len(cb.txs) {
			return nil, errBadPrefilled
		}
		if _, ok := cb.ids[id]; ok {
			return nil, errShortIDCollision
		}
		cb.ids[id] = slot
		slot++
	}
	return cb, nil
}

// shortIDKeys derives the siphash keys: the first 16 bytes of
// sha256(header || nonce), little-endian.
func shortIDKeys(h *payload.Header, nonce uint64) (uint64, uint64) {
	buf := io.NewBufBinWriter()
	h.EncodeBinary(buf.BinWriter)
	buf.WriteU64LE(nonce)
	sum := sha256.Sum256(buf.Bytes())
	return binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])
}

// ShortID computes the 48-bit short id of a transaction hash.
func (cb *compactBlock) ShortID(hash util.Uint256) payload.ShortID {
	v := siphash.Hash(cb.k0, cb.k1, hash.Bytes())
	return payload.ShortID(v & 0xffffffffffff)
}

// txHash returns the hash short ids are computed over: the wtxid when
// witness short ids were negotiated, the txid otherwise.
func (cb *compactBlock) txHash(tx *payload.Transaction) util.Uint256 {
	if cb.witness {
		return tx.WitnessHash()
	}
	return tx.Hash()
}

// Fill tries to resolve slots from the given transactions. Duplicate
// short id hits on an already-filled slot are ignored.
func (cb *compactBlock) Fill(txs []*payload.Transaction) {
	for _, tx := range txs {
		slot, ok := cb.ids[cb.ShortID(cb.txHash(tx))]
		if !ok || cb.txs[slot] != nil {
			continue
		}
		cb.txs[slot] = tx
		cb.filled++
	}
}

// Complete returns true when every slot is resolved.
func (cb *compactBlock) Complete() bool {
	return cb.filled == len(cb.txs)
}

// Missing returns the unresolved slot indexes in block order.
func (cb *compactBlock) Missing() []uint32 {
	var idx []uint32
	for i, tx := range cb.txs {
		if tx == nil {
			idx = append(idx, uint32(i))
		}
	}
	return idx
}

// FillMissing resolves the remaining slots from a blocktxn reply, in
// order. It returns false when the reply does not cover every hole.
func (cb *compactBlock) FillMissing(txs []*payload.Transaction) bool {
	i := 0
	for slot := range cb.txs {
		if cb.txs[slot] != nil {
			continue
		}
		if i >= len(txs) {
			return false
		}
		cb.txs[slot] = txs[i]
		cb.filled++
		i++
	}
	return i == len(txs)
}

// Finalize assembles the full block. It must only be called when
// Complete().
func (cb *compactBlock) Finalize() *payload.Block {
	return &payload.Block{
		Header: cb.header,
		Txs:    cb.txs,
	}
}
