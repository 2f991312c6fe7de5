package network

import (
	"errors"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/util"
)

var (
	errHeaderNotLinked = errors.New("header does not link to sync chain")
	errCheckpointHash  = errors.New("header disagrees with checkpoint")
)

// headerNode is one entry of the checkpoint-gated sync chain.
type headerNode struct {
	hash   util.Uint256
	height uint32
	next   *headerNode
}

// headerChain accumulates (hash, height) pairs between the chain tip
// and the final checkpoint during headers-first sync. It hands out
// batches of unrequested hashes for block download.
type headerChain struct {
	head *headerNode
	tail *headerNode

	checkpoints []config.Checkpoint
	// nextCheckpoint indexes the checkpoint the chain is walking
	// towards; len(checkpoints) once past the last one.
	nextCheckpoint int

	// nextRequest is the first node whose block was not yet handed
	// out for download.
	nextRequest *headerNode
}

// newHeaderChain starts a sync chain at the current tip. It returns nil
// when there is nothing left to gate: no checkpoints, or tip already at
// or beyond the last one.
func newHeaderChain(tip util.Uint256, height uint32, checkpoints []config.Checkpoint) *headerChain {
	next := -1
	for i, cp := range checkpoints {
		if cp.Height > height {
			next = i
			break
		}
	}
	if next == -1 {
		return nil
	}
	head := &headerNode{hash: tip, height: height}
	return &headerChain{
		head:           head,
		tail:           head,
		checkpoints:    checkpoints,
		nextCheckpoint: next,
	}
}

// Tail returns the last appended node.
func (c *headerChain) Tail() *headerNode {
	return c.tail
}

// Checkpoint returns the checkpoint currently walked towards and true,
// or false when past the final one.
func (c *headerChain) Checkpoint() (config.Checkpoint, bool) {
	if c.nextCheckpoint >= len(c.checkpoints) {
		return config.Checkpoint{}, false
	}
	return c.checkpoints[c.nextCheckpoint], true
}

// Add appends a header hash that claims prev as its parent. At a
// checkpoint height the hash must match the hard-coded one.
func (c *headerChain) Add(hash, prev util.Uint256) error {
	if !prev.Equals(c.tail.hash) {
		return errHeaderNotLinked
	}
	height := c.tail.height + 1
	if cp, ok := c.Checkpoint(); ok && height == cp.Height && !hash.Equals(cp.Hash) {
		return errCheckpointHash
	}
	node := &headerNode{hash: hash, height: height}
	c.tail.next = node
	c.tail = node
	if c.nextRequest == nil {
		c.nextRequest = node
	}
	return nil
}

// AtCheckpoint returns true when the tail sits exactly on the
// checkpoint currently walked towards.
func (c *headerChain) AtCheckpoint() bool {
	cp, ok := c.Checkpoint()
	return ok && c.tail.height == cp.Height
}

// AdvanceCheckpoint moves to the next checkpoint. It returns false when
// the final one has been passed and sync should switch to getblocks.
func (c *headerChain) AdvanceCheckpoint() bool {
	c.nextCheckpoint++
	return c.nextCheckpoint < len(c.checkpoints)
}

// NextBatch hands out up to max unrequested hashes in height order.
func (c *headerChain) NextBatch(max int) []util.Uint256 {
	var hashes []util.Uint256
	for c.nextRequest != nil && len(hashes) < max {
		hashes = append(hashes, c.nextRequest.hash)
		c.nextRequest = c.nextRequest.next
	}
	return hashes
}
