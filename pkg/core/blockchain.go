package core

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/network"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

// maxOrphans bounds the orphan block buffer.
const maxOrphans = 100

// syncWindow is how recent the tip must be for the chain to consider
// itself caught up with the network.
const syncWindow = 24 * time.Hour

// ErrBlockNotFound is returned when a requested block is missing.
var ErrBlockNotFound = errors.New("block not found")

// Blockchain is an in-memory, non-validating best-chain index. It
// keeps headers and bodies, tracks orphans, and answers the locator
// queries the networking layer needs. Full consensus validation,
// persistence and reorg handling belong to a real chain service
// plugged in instead of it.
type Blockchain struct {
	lock sync.RWMutex
	log  *zap.Logger

	hashes  []util.Uint256
	index   map[util.Uint256]uint32
	headers map[util.Uint256]*payload.Header
	blocks  map[util.Uint256]*payload.Block

	orphans map[util.Uint256]*payload.Block
	invalid map[util.Uint256]bool
}

// NewBlockchain creates a chain index rooted at the genesis block of
// the given network.
func NewBlockchain(net config.NetMode, log *zap.Logger) *Blockchain {
	genesis := GenesisHeader(net)
	h := genesis.Hash()
	bc := &Blockchain{
		log:     log,
		hashes:  []util.Uint256{h},
		index:   map[util.Uint256]uint32{h: 0},
		headers: map[util.Uint256]*payload.Header{h: genesis},
		blocks:  make(map[util.Uint256]*payload.Block),
		orphans: make(map[util.Uint256]*payload.Block),
		invalid: make(map[util.Uint256]bool),
	}
	return bc
}

// Height returns the height of the best chain.
func (bc *Blockchain) Height() uint32 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return uint32(len(bc.hashes) - 1)
}

// Tip returns the best block hash.
func (bc *Blockchain) Tip() util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.hashes[len(bc.hashes)-1]
}

// IsSynced reports whether the tip is recent enough to treat the chain
// as caught up.
func (bc *Blockchain) IsSynced() bool {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	tip := bc.headers[bc.hashes[len(bc.hashes)-1]]
	return int64(tip.Timestamp) > time.Now().Add(-syncWindow).Unix()
}

// HeightOf resolves a hash to its main chain height.
func (bc *Blockchain) HeightOf(h util.Uint256) (uint32, bool) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	height, ok := bc.index[h]
	return height, ok
}

// HasBlock returns true if the block is on the main chain.
func (bc *Blockchain) HasBlock(h util.Uint256) bool {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	_, ok := bc.index[h]
	return ok
}

// HasInvalid returns true for blocks that failed verification before.
func (bc *Blockchain) HasInvalid(h util.Uint256) bool {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.invalid[h]
}

// HasOrphan returns true for parked blocks without a known parent.
func (bc *Blockchain) HasOrphan(h util.Uint256) bool {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	_, ok := bc.orphans[h]
	return ok
}

// GetOrphanRoot walks the orphan chain back to its most distant known
// ancestor.
func (bc *Blockchain) GetOrphanRoot(h util.Uint256) util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	root := h
	for {
		b, ok := bc.orphans[root]
		if !ok {
			return root
		}
		root = b.Header.PrevBlock
	}
}

// GetLocator builds a locator thinning exponentially back from the tip.
func (bc *Blockchain) GetLocator() []util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	var (
		locator []util.Uint256
		step    = uint32(1)
		height  = uint32(len(bc.hashes) - 1)
	)
	for {
		locator = append(locator, bc.hashes[height])
		if height == 0 {
			break
		}
		if len(locator) > 10 {
			step *= 2
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
	}
	return locator
}

// FindLocator returns the best block of the locator we have on the
// main chain, falling back to genesis.
func (bc *Blockchain) FindLocator(locator []util.Uint256) util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	for _, h := range locator {
		if _, ok := bc.index[h]; ok {
			return h
		}
	}
	return bc.hashes[0]
}

// GetHashes returns up to max main chain hashes after from.
func (bc *Blockchain) GetHashes(from, stop util.Uint256, max int) []util.Uint256 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	start, ok := bc.index[from]
	if !ok {
		return nil
	}
	var out []util.Uint256
	for i := start + 1; int(i) < len(bc.hashes) && len(out) < max; i++ {
		h := bc.hashes[i]
		if h.Equals(stop) {
			break
		}
		out = append(out, h)
	}
	return out
}

// GetHeaders returns up to max main chain headers after from.
func (bc *Blockchain) GetHeaders(from, stop util.Uint256, max int) []*payload.Header {
	hashes := bc.GetHashes(from, stop, max)
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	out := make([]*payload.Header, 0, len(hashes))
	for _, h := range hashes {
		if hdr, ok := bc.headers[h]; ok {
			out = append(out, hdr)
		}
	}
	return out
}

// GetBlock fetches a block body by hash.
func (bc *Blockchain) GetBlock(h util.Uint256) (*payload.Block, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	b, ok := bc.blocks[h]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return b, nil
}

// AddBlock appends a block to the chain. Blocks with an unknown parent
// are parked as orphans, blocks failing their own proof of work are
// marked invalid.
func (bc *Blockchain) AddBlock(b *payload.Block, peerID int64) error {
	h := b.Hash()

	if err := b.Header.CheckProofOfWork(); err != nil {
		bc.lock.Lock()
		bc.invalid[h] = true
		bc.lock.Unlock()
		return &network.VerifyError{
			Code:   payload.RejectInvalid,
			Reason: "high-hash",
			Score:  50,
		}
	}

	bc.lock.Lock()
	defer bc.lock.Unlock()

	if _, ok := bc.index[h]; ok {
		return nil
	}
	tip := bc.hashes[len(bc.hashes)-1]
	if !b.Header.PrevBlock.Equals(tip) {
		if len(bc.orphans) >= maxOrphans {
			for k := range bc.orphans {
				delete(bc.orphans, k)
				break
			}
		}
		bc.orphans[h] = b
		bc.log.Debug("block parked as orphan",
			zap.Stringer("hash", h),
			zap.Int64("peer", peerID))
		return nil
	}

	hdr := b.Header
	bc.index[h] = uint32(len(bc.hashes))
	bc.hashes = append(bc.hashes, h)
	bc.headers[h] = &hdr
	bc.blocks[h] = b

	// Connect any orphans that were waiting for this block.
	for connected := true; connected; {
		connected = false
		tip := bc.hashes[len(bc.hashes)-1]
		for oh, ob := range bc.orphans {
			if !ob.Header.PrevBlock.Equals(tip) {
				continue
			}
			delete(bc.orphans, oh)
			ohdr := ob.Header
			bc.index[oh] = uint32(len(bc.hashes))
			bc.hashes = append(bc.hashes, oh)
			bc.headers[oh] = &ohdr
			bc.blocks[oh] = ob
			connected = true
			break
		}
	}
	return nil
}
