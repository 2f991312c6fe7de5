package network

import (
	"fmt"

	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

// Ledger is the chain service as the networking core sees it: an opaque,
// synchronous best-chain view. Validation, storage and reorg logic all
// live behind it.
type Ledger interface {
	// Height returns the height of the best chain.
	Height() uint32
	// Tip returns the hash of the best block.
	Tip() util.Uint256
	// IsSynced returns true once the chain considers itself caught up.
	IsSynced() bool
	// HeightOf resolves a block hash to its main-chain height.
	HeightOf(hash util.Uint256) (uint32, bool)
	// HasBlock returns true if the block is known (main chain or side).
	HasBlock(hash util.Uint256) bool
	// HasInvalid returns true if the hash is a known-invalid block.
	HasInvalid(hash util.Uint256) bool
	// HasOrphan returns true if the block is parked as an orphan.
	HasOrphan(hash util.Uint256) bool
	// GetOrphanRoot returns the root of the orphan chain the hash
	// belongs to.
	GetOrphanRoot(hash util.Uint256) util.Uint256
	// GetLocator builds a locator thinning back from the tip.
	GetLocator() []util.Uint256
	// FindLocator returns the best common block of the locator.
	FindLocator(locator []util.Uint256) util.Uint256
	// GetHashes returns up to max main-chain hashes after from,
	// stopping early at stop (zero stop means no early stop).
	GetHashes(from, stop util.Uint256, max int) []util.Uint256
	// GetHeaders returns up to max main-chain headers after from.
	GetHeaders(from, stop util.Uint256, max int) []*payload.Header
	// GetBlock fetches a full block by hash.
	GetBlock(hash util.Uint256) (*payload.Block, error)
	// AddBlock submits a downloaded block. A *VerifyError describes
	// consensus rejection, any other error is internal.
	AddBlock(block *payload.Block, peerID int64) error
}

// Mempooler is the unconfirmed transaction pool as the networking core
// sees it.
type Mempooler interface {
	// Get fetches a transaction by txid.
	Get(hash util.Uint256) *payload.Transaction
	// Has returns true if the txid is in the pool.
	Has(hash util.Uint256) bool
	// HasReject returns true if the txid was recently rejected.
	HasReject(hash util.Uint256) bool
	// AddTx submits a relayed transaction. A *VerifyError describes
	// policy/consensus rejection.
	AddTx(tx *payload.Transaction, peerID int64) error
	// Hashes snapshots the txids currently in the pool.
	Hashes() []util.Uint256
	// MinFeeRate is the lowest fee rate (satoshi/kB) the pool accepts,
	// 0 when unlimited.
	MinFeeRate() int64
}

// VerifyError is a consensus or policy rejection from the chain or the
// mempool, carrying what the remote should be told and how badly the
// relaying peer should be scored.
type VerifyError struct {
	Code   payload.RejectCode
	Reason string
	Score  int
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed: %s (code 0x%02x)", e.Reason, uint8(e.Code))
}
