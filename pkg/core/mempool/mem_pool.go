package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

var (
	// ErrDup is returned when transaction being added is already present
	// in the memory pool.
	ErrDup = errors.New("already in the memory pool")
	// ErrOOM is returned when transaction just doesn't fit in the memory
	// pool because of its capacity constraints.
	ErrOOM = errors.New("out of memory")
)

// defaultCapacity is the transaction count the pool holds before it
// starts evicting.
const defaultCapacity = 50000

// rejectCapacity bounds the recently-rejected hash set.
const rejectCapacity = 10000

// item represents a transaction in the Memory pool.
type item struct {
	txn       *payload.Transaction
	timeStamp time.Time
}

// items is a slice of item.
type items []*item

func (p items) Len() int           { return len(p) }
func (p items) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p items) Less(i, j int) bool { return p[i].CompareTo(p[j]) < 0 }

// CompareTo returns the difference between two items: newer
// transactions sort higher, ties break on the hash.
func (p *item) CompareTo(otherP *item) int {
	if otherP == nil {
		return 1
	}
	if p.timeStamp.After(otherP.timeStamp) {
		return 1
	}
	if p.timeStamp.Before(otherP.timeStamp) {
		return -1
	}
	return otherP.txn.Hash().CompareTo(p.txn.Hash())
}

// Pool stores the unconfirmed transactions. It is a relay pool: it
// frames, deduplicates and serves transactions without running script
// or UTXO validation, which stays with the consensus engine.
type Pool struct {
	lock         sync.RWMutex
	verifiedMap  map[util.Uint256]*item
	verifiedTxes items

	rejects     map[util.Uint256]bool
	rejectOrder []util.Uint256

	capacity int
	// minFeeRate is the advertised relay floor (satoshi/kB).
	minFeeRate int64
}

// New returns a new Pool struct.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Pool{
		verifiedMap:  make(map[util.Uint256]*item),
		verifiedTxes: make(items, 0, capacity),
		rejects:      make(map[util.Uint256]bool),
		capacity:     capacity,
	}
}

// SetMinFeeRate sets the relay fee floor advertised through feefilter.
func (mp *Pool) SetMinFeeRate(rate int64) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.minFeeRate = rate
}

// MinFeeRate returns the relay fee floor.
func (mp *Pool) MinFeeRate() int64 {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	return mp.minFeeRate
}

// Count returns the total number of unconfirmed transactions.
func (mp *Pool) Count() int {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	return len(mp.verifiedTxes)
}

// Has checks if a transaction hash is in the Pool.
func (mp *Pool) Has(hash util.Uint256) bool {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	_, ok := mp.verifiedMap[hash]
	return ok
}

// Get returns a transaction by hash, nil when absent.
func (mp *Pool) Get(hash util.Uint256) *payload.Transaction {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	if it, ok := mp.verifiedMap[hash]; ok {
		return it.txn
	}
	return nil
}

// HasReject checks the recently-rejected set.
func (mp *Pool) HasReject(hash util.Uint256) bool {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	return mp.rejects[hash]
}

// AddTx tries to add the given transaction to the Pool.
func (mp *Pool) AddTx(t *payload.Transaction, peerID int64) error {
	var pItem = &item{
		txn:       t,
		timeStamp: time.Now().UTC(),
	}
	mp.lock.Lock()
	defer mp.lock.Unlock()

	h := t.Hash()
	if _, ok := mp.verifiedMap[h]; ok {
		return ErrDup
	}

	mp.verifiedMap[h] = pItem
	// Insert into the sorted array (from max to min). We expect most
	// arrivals to be the freshest, so inserting at the front is the
	// common case.
	n := sort.Search(len(mp.verifiedTxes), func(n int) bool {
		return pItem.CompareTo(mp.verifiedTxes[n]) > 0
	})

	if len(mp.verifiedTxes) == mp.capacity {
		// Older than the oldest we already have, won't fit.
		if n == len(mp.verifiedTxes) {
			delete(mp.verifiedMap, h)
			mp.markRejected(h)
			return ErrOOM
		}
		// Ditch the last one.
		unlucky := mp.verifiedTxes[len(mp.verifiedTxes)-1]
		delete(mp.verifiedMap, unlucky.txn.Hash())
		mp.verifiedTxes[len(mp.verifiedTxes)-1] = pItem
	} else {
		mp.verifiedTxes = append(mp.verifiedTxes, pItem)
	}
	if n != len(mp.verifiedTxes)-1 {
		copy(mp.verifiedTxes[n+1:], mp.verifiedTxes[n:])
		mp.verifiedTxes[n] = pItem
	}
	return nil
}

// Remove drops a transaction from the pool, typically because a block
// confirmed it.
func (mp *Pool) Remove(hash util.Uint256) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	it, ok := mp.verifiedMap[hash]
	if !ok {
		return
	}
	delete(mp.verifiedMap, hash)
	for i, cand := range mp.verifiedTxes {
		if cand == it {
			mp.verifiedTxes = append(mp.verifiedTxes[:i], mp.verifiedTxes[i+1:]...)
			break
		}
	}
}

// Reject marks a hash as recently rejected.
func (mp *Pool) Reject(hash util.Uint256) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.markRejected(hash)
}

func (mp *Pool) markRejected(hash util.Uint256) {
	if mp.rejects[hash] {
		return
	}
	if len(mp.rejectOrder) >= rejectCapacity {
		oldest := mp.rejectOrder[0]
		mp.rejectOrder = mp.rejectOrder[1:]
		delete(mp.rejects, oldest)
	}
	mp.rejects[hash] = true
	mp.rejectOrder = append(mp.rejectOrder, hash)
}

// Hashes snapshots the hashes currently in the pool, newest first.
func (mp *Pool) Hashes() []util.Uint256 {
	mp.lock.RLock()
	defer mp.lock.RUnlock()
	out := make([]util.Uint256, len(mp.verifiedTxes))
	for i, it := range mp.verifiedTxes {
		out[i] = it.txn.Hash()
	}
	return out
}
