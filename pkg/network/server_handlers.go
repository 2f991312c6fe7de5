package network

import (
	"time"

	"github.com/twmb/murmur3"
	"go.uber.org/zap"

	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

// handleAddrCmd processes received addresses: book them, and echo the
// fresh unsolicited ones to a deterministic pair of peers.
func (s *Server) handleAddrCmd(p *TCPPeer, addrs *payload.AddressList) error {
	p.lock.Lock()
	solicited := p.gettingAddr
	if len(addrs.Addrs) >= 10 {
		p.gettingAddr = false
	}
	p.lock.Unlock()

	now := time.Now()
	for _, a := range addrs.Addrs {
		p.lock.Lock()
		p.addrFilter.Add(addrKey(a))
		p.lock.Unlock()

		if !a.Address.IsRoutable() {
			continue
		}
		if !a.Address.Services.Has(payload.ServiceNetwork) {
			continue
		}
		if s.addrman.IsBanned(a.Address.IPPortString()) {
			continue
		}
		s.addrman.Add(a, p.PeerAddr())

		if !solicited && len(addrs.Addrs) < 10 &&
			int64(a.Timestamp) > now.Add(-addrRelayWindow).Unix() {
			s.relayAddress(a)
		}
	}
	return nil
}

// addrKey is what address Bloom filters are keyed on.
func addrKey(a *payload.AddressAndTime) []byte {
	return a.Address.IP[:]
}

// relayAddress echoes a fresh address to addrRelayFanout peers picked
// by hashing the address bytes, skipping peers that already saw it.
func (s *Server) relayAddress(a *payload.AddressAndTime) {
	peers := s.Peers()
	if len(peers) == 0 {
		return
	}
	for seed := uint32(0); seed < addrRelayFanout; seed++ {
		idx := murmur3.SeedSum32(seed, a.Address.IP[:]) % uint32(len(peers))
		target := peers[idx]
		if !target.Handshaked() {
			continue
		}
		target.lock.Lock()
		seen := target.addrFilter.Test(addrKey(a))
		if !seen {
			target.addrFilter.Add(addrKey(a))
		}
		target.lock.Unlock()
		if seen {
			continue
		}
		_ = target.EnqueueMessage(s.mkMsg(CMDAddr, &payload.AddressList{
			Addrs: []*payload.AddressAndTime{a},
		}))
	}
}

// handleGetAddrCmd serves known addresses, once per connection.
func (s *Server) handleGetAddrCmd(p *TCPPeer) error {
	p.lock.Lock()
	if p.sentAddr {
		p.lock.Unlock()
		return nil
	}
	p.sentAddr = true
	p.lock.Unlock()

	addrs := s.addrman.Addresses(maxAddrsToSend)
	if len(addrs) == 0 {
		return nil
	}
	p.lock.Lock()
	for _, a := range addrs {
		p.addrFilter.Add(addrKey(a))
	}
	p.lock.Unlock()
	return p.EnqueueMessage(s.mkMsg(CMDAddr, &payload.AddressList{Addrs: addrs}))
}

// handleInvCmd dispatches announced inventory into block and tx
// requests, deduplicated pool-wide.
func (s *Server) handleInvCmd(p *TCPPeer, inv *payload.Inventory) error {
	var (
		blocks []util.Uint256
		txs    []util.Uint256
	)
	for i := range inv.Vects {
		p.MarkInventory(inv.Vects[i].Hash)
		switch inv.Vects[i].Type.Base() {
		case payload.BlockType:
			blocks = append(blocks, inv.Vects[i].Hash)
		case payload.TXType:
			txs = append(txs, inv.Vects[i].Hash)
		}
	}

	if len(blocks) > 0 {
		if err := s.handleBlockInv(p, blocks); err != nil {
			return err
		}
	}
	if len(txs) > 0 {
		s.handleTxInv(p, txs)
	}
	return nil
}

func (s *Server) handleBlockInv(p *TCPPeer, hashes []util.Uint256) error {
	s.lock.RLock()
	gated := s.hdrChain != nil
	s.lock.RUnlock()
	// Announcements mean nothing while headers gate the sync, the
	// loader drives all downloads.
	if gated {
		return nil
	}
	if !s.chainSynced() && !p.Loader() {
		return nil
	}

	var want []util.Uint256
	for _, h := range hashes {
		if s.chain.HasInvalid(h) {
			continue
		}
		if s.chain.HasOrphan(h) {
			root := s.chain.GetOrphanRoot(h)
			p.lock.Lock()
			p.gbTime = time.Now()
			p.lock.Unlock()
			_ = p.EnqueueMessage(s.mkMsg(CMDGetBlocks, payload.NewGetBlocks(s.chain.GetLocator(), root)))
			continue
		}
		if !s.chain.HasBlock(h) {
			want = append(want, h)
		}
	}
	s.requestBlocks(p, want, false)

	// The continue trick: a known trailing hash means the remote has
	// more to tell past what it could fit, ask from there.
	last := hashes[len(hashes)-1]
	if s.chain.HasBlock(last) {
		p.lock.Lock()
		p.gbTime = time.Now()
		p.lock.Unlock()
		_ = p.EnqueueMessage(s.mkMsg(CMDGetBlocks, payload.NewGetBlocks(s.chain.GetLocator(), util.Uint256{})))
	}
	return nil
}

func (s *Server) handleTxInv(p *TCPPeer, hashes []util.Uint256) {
	if !s.chainSynced() || s.mempool == nil {
		return
	}
	var want []util.Uint256
	for _, h := range hashes {
		if s.mempool.Has(h) || s.mempool.HasReject(h) {
			continue
		}
		if _, ok := s.rejects.Get(h); ok {
			continue
		}
		want = append(want, h)
	}
	s.requestTxs(p, want)
}

// requestBlocks registers block requests and sends the getdata. Hashes
// some other peer already requested are skipped; deadlines are
// staggered so simultaneous batches do not all expire at once. The
// unlimited flag lifts the per-peer window for checkpoint-gated
// downloads.
func (s *Server) requestBlocks(p *TCPPeer, hashes []util.Uint256, unlimited bool) {
	if len(hashes) == 0 {
		return
	}
	invType := payload.WitnessBlockType
	compact := false
	if s.BIP152Enabled && s.chainSynced() {
		p.lock.RLock()
		compact = p.compactMode >= 0 && p.compactWitness
		p.lock.RUnlock()
		if compact {
			invType = payload.CmpctBlockType
		}
	}

	now := time.Now()
	var want []util.Uint256
	s.lock.Lock()
	p.lock.Lock()
	for _, h := range hashes {
		if _, ok := s.blockMap[h]; ok {
			continue
		}
		if !unlimited && len(p.blockReqs) >= maxBlockRequests {
			break
		}
		s.blockMap[h] = p.id
		p.blockReqs[h] = now
		now = now.Add(requestStaggerMs * time.Millisecond)
		want = append(want, h)
	}
	p.lock.Unlock()
	s.lock.Unlock()

	if len(want) == 0 {
		return
	}
	p.lock.Lock()
	p.blockTime = time.Now()
	p.lock.Unlock()
	_ = p.EnqueueMessage(s.mkMsg(CMDGetData, payload.NewInventory(invType, want)))
}

// requestTxs registers tx requests and sends the getdata.
func (s *Server) requestTxs(p *TCPPeer, hashes []util.Uint256) {
	if len(hashes) == 0 {
		return
	}
	now := time.Now()
	var want []util.Uint256
	s.lock.Lock()
	p.lock.Lock()
	for _, h := range hashes {
		if _, ok := s.txMap[h]; ok {
			continue
		}
		if len(p.txReqs) >= maxTxRequests {
			break
		}
		s.txMap[h] = p.id
		p.txReqs[h] = now
		now = now.Add(requestStaggerMs * time.Millisecond)
		want = append(want, h)
	}
	p.lock.Unlock()
	s.lock.Unlock()

	if len(want) == 0 {
		return
	}
	_ = p.EnqueueMessage(s.mkMsg(CMDGetData, payload.NewInventory(payload.WitnessTXType, want)))
}

// handleGetDataCmd serves requested blocks and transactions, answering
// the misses with a notfound.
func (s *Server) handleGetDataCmd(p *TCPPeer, inv *payload.Inventory) error {
	var notFound []payload.InvVect
	for i := range inv.Vects {
		vect := inv.Vects[i]
		switch vect.Type.Base() {
		case payload.TXType:
			if s.mempool == nil {
				notFound = append(notFound, vect)
				continue
			}
			if tx := s.mempool.Get(vect.Hash); tx != nil {
				p.MarkInventory(vect.Hash)
				if err := p.EnqueueMessage(s.mkMsg(CMDTX, tx)); err != nil {
					return err
				}
			} else {
				notFound = append(notFound, vect)
			}
		case payload.BlockType:
			b, err := s.chain.GetBlock(vect.Hash)
			if err != nil || b == nil {
				notFound = append(notFound, vect)
				continue
			}
			p.MarkInventory(vect.Hash)
			if err := p.EnqueueMessage(s.mkMsg(CMDBlock, b)); err != nil {
				return err
			}
		case payload.CmpctBlockType:
			if err := s.serveCompactBlock(p, vect.Hash, &notFound); err != nil {
				return err
			}
		default:
			notFound = append(notFound, vect)
		}
	}
	if len(notFound) > 0 {
		return p.EnqueueMessage(s.mkMsg(CMDNotFound, &payload.Inventory{Vects: notFound}))
	}
	return nil
}

// serveCompactBlock answers a compact block request. Blocks deep below
// the tip are served in full, predicting mempool contents that old
// makes no sense.
func (s *Server) serveCompactBlock(p *TCPPeer, h util.Uint256, notFound *[]payload.InvVect) error {
	b, err := s.chain.GetBlock(h)
	if err != nil || b == nil {
		*notFound = append(*notFound, payload.InvVect{Type: payload.CmpctBlockType, Hash: h})
		return nil
	}
	if height, ok := s.chain.HeightOf(h); !ok || s.chain.Height() > height+compactServeDepth {
		p.MarkInventory(h)
		return p.EnqueueMessage(s.mkMsg(CMDBlock, b))
	}
	p.MarkInventory(h)
	return p.EnqueueMessage(s.mkMsg(CMDCmpctBlock, s.buildCompactBlock(b)))
}

// buildCompactBlock compresses a block, prefilling only the coinbase.
func (s *Server) buildCompactBlock(b *payload.Block) *payload.CompactBlock {
	cp := &payload.CompactBlock{
		Header: b.Header,
		Nonce:  s.rand64(),
	}
	cb := &compactBlock{witness: true}
	cb.k0, cb.k1 = shortIDKeys(&cp.Header, cp.Nonce)
	for i, tx := range b.Txs {
		if i == 0 {
			cp.Prefilled = append(cp.Prefilled, payload.PrefilledTx{Index: 0, Tx: tx})
			continue
		}
		cp.ShortIDs = append(cp.ShortIDs, cb.ShortID(tx.WitnessHash()))
	}
	return cp
}

// handleNotFoundCmd clears requests the remote cannot serve.
func (s *Server) handleNotFoundCmd(p *TCPPeer, inv *payload.Inventory) error {
	s.lock.Lock()
	p.lock.Lock()
	for i := range inv.Vects {
		h := inv.Vects[i].Hash
		switch inv.Vects[i].Type.Base() {
		case payload.BlockType, payload.CmpctBlockType:
			if _, ok := p.blockReqs[h]; ok {
				delete(p.blockReqs, h)
				if s.blockMap[h] == p.id {
					delete(s.blockMap, h)
				}
			}
			if _, ok := p.compactReqs[h]; ok {
				delete(p.compactReqs, h)
				if s.compactMap[h] == p.id {
					delete(s.compactMap, h)
				}
			}
		case payload.TXType:
			if _, ok := p.txReqs[h]; ok {
				delete(p.txReqs, h)
				if s.txMap[h] == p.id {
					delete(s.txMap, h)
				}
			}
		}
	}
	p.lock.Unlock()
	s.lock.Unlock()
	return nil
}

// handleGetBlocksCmd serves an inv continuation of the main chain past
// the remote's locator.
func (s *Server) handleGetBlocksCmd(p *TCPPeer, gb *payload.GetBlocks) error {
	common := s.chain.FindLocator(gb.Locator)
	hashes := s.chain.GetHashes(common, gb.HashStop, maxServeHashes)
	if len(hashes) == 0 {
		return nil
	}
	return p.EnqueueMessage(s.mkMsg(CMDInv, payload.NewInventory(payload.BlockType, hashes)))
}

// handleGetHeadersCmd serves headers past the remote's locator.
func (s *Server) handleGetHeadersCmd(p *TCPPeer, gh *payload.GetBlocks) error {
	common := s.chain.FindLocator(gh.Locator)
	hdrs := s.chain.GetHeaders(common, gh.HashStop, payload.MaxHeadersAllowed)
	if len(hdrs) == 0 {
		return nil
	}
	return p.EnqueueMessage(s.mkMsg(CMDHeaders, &payload.Headers{Hdrs: hdrs}))
}

// handleHeadersCmd advances the checkpoint-gated sync chain with a
// headers batch from the loader.
func (s *Server) handleHeadersCmd(p *TCPPeer, headers *payload.Headers) error {
	p.lock.Lock()
	p.ghTime = time.Time{}
	p.lock.Unlock()

	for _, h := range headers.Hdrs {
		if err := h.CheckProofOfWork(); err != nil {
			p.IncreaseBan(banThreshold, "headers without proof of work")
			return nil
		}
	}

	var (
		batch       []util.Uint256
		syncDone    bool
		nextLocator util.Uint256
		nextStop    util.Uint256
		hdrErr      error
	)
	s.lock.Lock()
	hdrChain := s.hdrChain
	if hdrChain == nil || !p.Loader() {
		s.lock.Unlock()
		return nil
	}
	for _, h := range headers.Hdrs {
		if hdrErr = hdrChain.Add(h.Hash(), h.PrevBlock); hdrErr != nil {
			break
		}
	}
	if hdrErr == nil {
		batch = hdrChain.NextBatch(payload.MaxInvAllowed)
		if hdrChain.AtCheckpoint() {
			s.log.Info("checkpoint reached", zap.Uint32("height", hdrChain.Tail().height))
			if !hdrChain.AdvanceCheckpoint() {
				// Past the final checkpoint: headers stop gating
				// the sync, getblocks takes over.
				s.hdrChain = nil
				syncDone = true
			}
		}
		if !syncDone && len(headers.Hdrs) > 0 {
			cp, _ := hdrChain.Checkpoint()
			nextLocator = hdrChain.Tail().hash
			nextStop = cp.Hash
		}
	}
	s.lock.Unlock()

	if hdrErr != nil {
		s.log.Warn("broken header chain",
			zap.String("addr", p.PeerAddr()),
			zap.Error(hdrErr))
		return errCheckpointSync
	}

	// Pull the bodies for everything collected so far.
	s.requestBlocks(p, batch, true)

	if syncDone {
		s.sendSync(p, true)
		return nil
	}
	if len(headers.Hdrs) > 0 {
		p.lock.Lock()
		p.ghTime = time.Now()
		p.lock.Unlock()
		return p.EnqueueMessage(s.mkMsg(CMDGetHeaders,
			payload.NewGetBlocks([]util.Uint256{nextLocator}, nextStop)))
	}
	return nil
}

// handleBlockCmd submits a downloaded block to the chain.
func (s *Server) handleBlockCmd(p *TCPPeer, block *payload.Block) error {
	h := block.Hash()

	s.lock.Lock()
	p.lock.Lock()
	_, requested := p.blockReqs[h]
	if requested {
		delete(p.blockReqs, h)
		if s.blockMap[h] == p.id {
			delete(s.blockMap, h)
		}
	}
	p.blockTime = time.Now()
	p.lock.Unlock()
	s.lock.Unlock()

	if !requested && s.BlockMode != 1 {
		return errUnsolicitedData
	}

	return s.submitBlock(p, block)
}

// submitBlock pushes a complete block into the chain and deals with the
// verdict.
func (s *Server) submitBlock(p *TCPPeer, block *payload.Block) error {
	err := s.chain.AddBlock(block, p.id)
	if err != nil {
		if ve, ok := err.(*VerifyError); ok {
			s.sendReject(p, "block", block.Hash(), ve)
			return nil
		}
		return err
	}

	if s.chainSynced() {
		s.AnnounceBlock(block)
	}
	return nil
}

// handleTxCmd submits a relayed transaction to the mempool and relays
// it further on success.
func (s *Server) handleTxCmd(p *TCPPeer, tx *payload.Transaction) error {
	h := tx.Hash()

	s.lock.Lock()
	p.lock.Lock()
	_, requested := p.txReqs[h]
	if requested {
		delete(p.txReqs, h)
		if s.txMap[h] == p.id {
			delete(s.txMap, h)
		}
	}
	p.lock.Unlock()
	s.lock.Unlock()

	if !requested && s.BlockMode != 1 {
		return errUnsolicitedData
	}
	if s.mempool == nil {
		return nil
	}

	if err := s.mempool.AddTx(tx, p.id); err != nil {
		if ve, ok := err.(*VerifyError); ok {
			s.rejects.Add(h, struct{}{})
			s.sendReject(p, "tx", h, ve)
			return nil
		}
		return err
	}

	s.AnnounceTx(tx, 0)
	return nil
}

// handleMempoolCmd serves the mempool contents, gated the same way
// client-side filtering is.
func (s *Server) handleMempoolCmd(p *TCPPeer) error {
	if !s.BIP37Enabled || s.mempool == nil {
		return nil
	}
	hashes := s.mempool.Hashes()
	for start := 0; start < len(hashes); start += payload.MaxInvAllowed {
		end := start + payload.MaxInvAllowed
		if end > len(hashes) {
			end = len(hashes)
		}
		if err := p.EnqueueMessage(s.mkMsg(CMDInv, payload.NewInventory(payload.TXType, hashes[start:end]))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleFeeFilterCmd(p *TCPPeer, ff *payload.FeeFilter) error {
	p.lock.Lock()
	p.feeRate = ff.MinFee
	p.lock.Unlock()
	return nil
}

func (s *Server) handleSendHeadersCmd(p *TCPPeer) error {
	p.lock.Lock()
	p.prefersHeaders = true
	p.lock.Unlock()
	return nil
}

func (s *Server) handleSendCmpctCmd(p *TCPPeer, sc *payload.SendCmpct) error {
	if sc.Version != payload.CmpctLegacyVersion && sc.Version != payload.CmpctWitnessVersion {
		// Future versions must be ignored, not rejected.
		return nil
	}
	p.lock.Lock()
	if sc.Version == payload.CmpctWitnessVersion {
		p.compactWitness = true
	}
	if p.compactMode == -1 || sc.Version == payload.CmpctWitnessVersion {
		if sc.Announce {
			p.compactMode = 1
		} else {
			p.compactMode = 0
		}
	}
	p.lock.Unlock()
	return nil
}

// handleCmpctBlockCmd runs the compact block pipeline: header check,
// short id table, mempool fill, and the getblocktxn round-trip when
// transactions are missing.
func (s *Server) handleCmpctBlockCmd(p *TCPPeer, cp *payload.CompactBlock) error {
	if !s.BIP152Enabled {
		return nil
	}
	h := cp.Header.Hash()

	s.lock.Lock()
	p.lock.Lock()
	_, dupPeer := p.compactReqs[h]
	_, dupPool := s.compactMap[h]
	_, requested := p.blockReqs[h]
	witness := p.compactWitness
	p.lock.Unlock()
	s.lock.Unlock()

	if dupPeer || dupPool {
		p.IncreaseBan(banThreshold, "duplicate compact block")
		return nil
	}
	if !requested && s.BlockMode != 1 {
		return errUnsolicitedData
	}
	if err := cp.Header.CheckProofOfWork(); err != nil {
		p.IncreaseBan(banThreshold, "compact block without proof of work")
		return nil
	}

	cb, err := newCompactBlock(cp, witness)
	if err == errShortIDCollision {
		p.IncreaseBan(10, "short id collision")
		s.requestFullBlock(p, h)
		return nil
	}
	if err != nil {
		p.IncreaseBan(banThreshold, err.Error())
		return nil
	}
	cb.peerID = p.id

	if s.mempool != nil {
		var txs []*payload.Transaction
		for _, mh := range s.mempool.Hashes() {
			if tx := s.mempool.Get(mh); tx != nil {
				txs = append(txs, tx)
			}
		}
		cb.Fill(txs)
	}

	if cb.Complete() {
		s.clearBlockRequest(p, h)
		return s.submitBlock(p, cb.Finalize())
	}

	s.lock.Lock()
	p.lock.Lock()
	if len(p.compactReqs) >= maxCompactBlocks {
		p.lock.Unlock()
		s.lock.Unlock()
		return errTooManyCompact
	}
	cb.deadline = time.Now()
	p.compactReqs[h] = cb
	s.compactMap[h] = p.id
	p.lock.Unlock()
	s.lock.Unlock()

	return p.EnqueueMessage(s.mkMsg(CMDGetBlockTxn, &payload.BlockTxnRequest{
		BlockHash: h,
		Indexes:   cb.Missing(),
	}))
}

// handleGetBlockTxnCmd serves the missing transactions of a recently
// announced block.
func (s *Server) handleGetBlockTxnCmd(p *TCPPeer, req *payload.BlockTxnRequest) error {
	height, ok := s.chain.HeightOf(req.BlockHash)
	if !ok || s.chain.Height() > height+compactServeDepth {
		s.log.Debug("getblocktxn for unservable block",
			zap.String("addr", p.PeerAddr()),
			zap.Stringer("hash", req.BlockHash))
		return nil
	}
	b, err := s.chain.GetBlock(req.BlockHash)
	if err != nil || b == nil {
		return nil
	}
	reply := &payload.BlockTxn{BlockHash: req.BlockHash}
	for _, idx := range req.Indexes {
		if int(idx) >= len(b.Txs) {
			return errBadTxnRequest
		}
		reply.Txs = append(reply.Txs, b.Txs[idx])
	}
	return p.EnqueueMessage(s.mkMsg(CMDBlockTxn, reply))
}

// handleBlockTxnCmd completes an in-flight compact block with the
// requested transactions.
func (s *Server) handleBlockTxnCmd(p *TCPPeer, btx *payload.BlockTxn) error {
	h := btx.BlockHash

	s.lock.Lock()
	p.lock.Lock()
	cb, ok := p.compactReqs[h]
	if ok {
		delete(p.compactReqs, h)
		if s.compactMap[h] == p.id {
			delete(s.compactMap, h)
		}
	}
	p.lock.Unlock()
	s.lock.Unlock()

	if !ok {
		s.log.Debug("blocktxn for unknown block",
			zap.String("addr", p.PeerAddr()),
			zap.Stringer("hash", h))
		return nil
	}

	if !cb.FillMissing(btx.Txs) || !cb.Complete() {
		p.IncreaseBan(10, "incomplete blocktxn reply")
		s.requestFullBlock(p, h)
		return nil
	}

	s.clearBlockRequest(p, h)
	return s.submitBlock(p, cb.Finalize())
}

// requestFullBlock falls back from compact relay to a witness block
// download from the same peer.
func (s *Server) requestFullBlock(p *TCPPeer, h util.Uint256) {
	if p.Dead() {
		return
	}
	now := time.Now()
	s.lock.Lock()
	p.lock.Lock()
	p.blockReqs[h] = now
	s.blockMap[h] = p.id
	p.lock.Unlock()
	s.lock.Unlock()
	_ = p.EnqueueMessage(s.mkMsg(CMDGetData, payload.NewInventory(payload.WitnessBlockType, []util.Uint256{h})))
}

// clearBlockRequest drops any outstanding download of the hash from
// this peer.
func (s *Server) clearBlockRequest(p *TCPPeer, h util.Uint256) {
	s.lock.Lock()
	p.lock.Lock()
	delete(p.blockReqs, h)
	if s.blockMap[h] == p.id {
		delete(s.blockMap, h)
	}
	p.lock.Unlock()
	s.lock.Unlock()
}

// AnnounceBlock tells every connected peer about a new block: compact
// push for high-bandwidth peers, header push for sendheaders ones, inv
// for the rest.
func (s *Server) AnnounceBlock(b *payload.Block) {
	h := b.Hash()
	var cmpct *Message
	for _, p := range s.Peers() {
		if !p.Handshaked() || p.KnowsInventory(h) {
			continue
		}
		p.lock.RLock()
		mode := p.compactMode
		prefersHeaders := p.prefersHeaders
		p.lock.RUnlock()

		switch {
		case s.BIP152Enabled && mode == 1:
			if cmpct == nil {
				cmpct = s.mkMsg(CMDCmpctBlock, s.buildCompactBlock(b))
			}
			p.MarkInventory(h)
			_ = p.EnqueueMessage(cmpct)
		case prefersHeaders:
			p.MarkInventory(h)
			_ = p.EnqueueMessage(s.mkMsg(CMDHeaders, &payload.Headers{Hdrs: []*payload.Header{&b.Header}}))
		default:
			p.QueueInventory(payload.InvVect{Type: payload.BlockType, Hash: h})
		}
	}
}

// AnnounceTx queues a transaction announcement on every relaying peer
// whose fee filter it clears. A zero feeRate bypasses filters.
func (s *Server) AnnounceTx(tx *payload.Transaction, feeRate int64) {
	h := tx.Hash()
	for _, p := range s.Peers() {
		if !p.Handshaked() {
			continue
		}
		version := p.Version()
		if version == nil || !version.Relay {
			continue
		}
		p.lock.RLock()
		minRate := p.feeRate
		p.lock.RUnlock()
		if feeRate > 0 && minRate > 0 && feeRate < minRate {
			continue
		}
		p.QueueInventory(payload.InvVect{Type: payload.TXType, Hash: h})
	}
}
