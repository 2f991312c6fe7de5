package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

// testCompactTx builds a distinct transaction per sequence value.
func testCompactTx(seq uint32) *payload.Transaction {
	return &payload.Transaction{
		Version: 1,
		Inputs: []*payload.TxInput{{
			PrevOut:  payload.OutPoint{Hash: util.Uint256{0x01}, Index: 0},
			Sequence: seq,
		}},
		Outputs: []*payload.TxOutput{{Value: int64(seq), Script: []byte{0x51}}},
	}
}

// buildAnnouncement compresses txs into a cmpctblock payload with the
// first transaction prefilled. The header carries a target any hash
// meets; it is set before the short id keys are derived from it.
func buildAnnouncement(txs []*payload.Transaction, nonce uint64) *payload.CompactBlock {
	cp := &payload.CompactBlock{Nonce: nonce}
	cp.Header.Version = 1
	cp.Header.Bits = 0x2100ffff
	cb := &compactBlock{}
	cb.k0, cb.k1 = shortIDKeys(&cp.Header, nonce)
	for i, tx := range txs {
		if i == 0 {
			cp.Prefilled = append(cp.Prefilled, payload.PrefilledTx{Index: 0, Tx: tx})
			continue
		}
		cp.ShortIDs = append(cp.ShortIDs, cb.ShortID(tx.Hash()))
	}
	return cp
}

func TestCompactBlockReconstruction(t *testing.T) {
	txs := []*payload.Transaction{
		testCompactTx(0), testCompactTx(1), testCompactTx(2), testCompactTx(3),
	}
	cp := buildAnnouncement(txs, 7)

	cb, err := newCompactBlock(cp, false)
	require.NoError(t, err)
	require.False(t, cb.Complete())
	assert.Equal(t, 1, cb.filled)

	// Two of the three shortid slots resolve from the "mempool".
	cb.Fill([]*payload.Transaction{txs[1], txs[3], testCompactTx(99)})
	require.False(t, cb.Complete())
	assert.Equal(t, []uint32{2}, cb.Missing())

	// The rest arrives via blocktxn.
	require.True(t, cb.FillMissing([]*payload.Transaction{txs[2]}))
	require.True(t, cb.Complete())

	b := cb.Finalize()
	require.Len(t, b.Txs, 4)
	for i, tx := range txs {
		assert.Equal(t, tx.Hash(), b.Txs[i].Hash())
	}
}

func TestCompactBlockShortIDCollision(t *testing.T) {
	txs := []*payload.Transaction{testCompactTx(0), testCompactTx(1), testCompactTx(2)}
	cp := buildAnnouncement(txs, 1)
	cp.ShortIDs[1] = cp.ShortIDs[0]

	_, err := newCompactBlock(cp, false)
	require.Equal(t, errShortIDCollision, err)
}

func TestCompactBlockBadPrefilled(t *testing.T) {
	txs := []*payload.Transaction{testCompactTx(0), testCompactTx(1)}
	cp := buildAnnouncement(txs, 1)
	cp.Prefilled[0].Index = 5

	_, err := newCompactBlock(cp, false)
	require.Equal(t, errBadPrefilled, err)
}

func TestCompactBlockIncompleteReply(t *testing.T) {
	txs := []*payload.Transaction{
		testCompactTx(0), testCompactTx(1), testCompactTx(2),
	}
	cp := buildAnnouncement(txs, 3)

	cb, err := newCompactBlock(cp, false)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2}, cb.Missing())

	// One of two missing: not enough.
	require.False(t, cb.FillMissing([]*payload.Transaction{txs[1]}))
	require.False(t, cb.Complete())
}

func TestCompactBlockWitnessShortIDs(t *testing.T) {
	tx := testCompactTx(1)
	tx.Inputs[0].Witness = [][]byte{{0xaa}}
	require.True(t, tx.HasWitness())
	require.NotEqual(t, tx.Hash(), tx.WitnessHash())

	cb := &compactBlock{witness: true}
	cbPlain := &compactBlock{witness: false}
	assert.Equal(t, tx.WitnessHash(), cb.txHash(tx))
	assert.Equal(t, tx.Hash(), cbPlain.txHash(tx))
}
