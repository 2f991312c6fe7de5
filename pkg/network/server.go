package network

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

const (
	defaultMaxOutbound = 8
	defaultMaxInbound  = 8
	// refillInterval is how often outbound slots are refilled.
	refillInterval = 3 * time.Second
	// tickInterval drives per-peer timers.
	tickInterval = time.Second
	// retryInterval is the minimum time between dials to one address.
	retryInterval = 600 * time.Second
	// maxServeHashes bounds one getblocks answer.
	maxServeHashes = 500
	// maxAddrsToSend bounds one getaddr answer.
	maxAddrsToSend = 1000
	// addrRelayFanout is how many peers a fresh address is echoed to.
	addrRelayFanout = 2
	// addrRelayWindow is how fresh an address must be to be echoed.
	addrRelayWindow = 10 * time.Minute
	// compactServeDepth is how far behind the tip getblocktxn is
	// still served.
	compactServeDepth = 15
	// rejectCacheSize bounds the recently-rejected tx cache.
	rejectCacheSize = 2048
	// portFilterAttempts / retryFilterAttempts relax candidate
	// filtering once the easy candidates run out.
	portFilterAttempts  = 50
	retryFilterAttempts = 30
)

var (
	errServerShutdown   = errors.New("server shutdown")
	errIdenticalNonce   = errors.New("identical handshake nonce")
	errAlreadyConnected = errors.New("already connected")
	errBanned           = errors.New("address banned")
	errInvalidInvType   = errors.New("invalid inventory type")
	errBadTxnRequest    = errors.New("blocktxn request out of range")
	errTooManyCompact   = errors.New("too many in-flight compact blocks")
	errCheckpointSync   = errors.New("checkpoint sync violation")
)

type (
	// Server represents the local node in the network. It owns every
	// peer and every piece of cross-peer accounting.
	Server struct {
		// ServerConfig holds the Server configuration.
		ServerConfig

		transport Transporter
		addrman   AddrManager
		chain     Ledger
		mempool   Mempooler

		nonces *nonceSet

		lock  sync.RWMutex
		peers *peerList

		// blockMap, txMap and compactMap are the pool-wide sets of
		// hashes some peer has an outstanding request for, mapped
		// to the requesting peer id.
		blockMap   map[util.Uint256]int64
		txMap      map[util.Uint256]int64
		compactMap map[util.Uint256]int64

		// hdrChain gates the initial sync on checkpoints, nil once
		// past them.
		hdrChain *headerChain

		// rejects remembers recently rejected txids so they are not
		// re-requested.
		rejects *lru.Cache

		register   chan *TCPPeer
		unregister chan peerDrop

		synced *atomic.Bool
		nextID atomic.Int64

		rngLock sync.Mutex
		rng     *mrand.Rand

		quit chan struct{}

		log *zap.Logger
	}

	peerDrop struct {
		peer   *TCPPeer
		reason error
	}
)

// NewServer returns a new Server, initialized with the given
// configuration.
func NewServer(config ServerConfig, chain Ledger, mempool Mempooler, addrman AddrManager, log *zap.Logger) (*Server, error) {
	if log == nil {
		return nil, errors.New("logger is a required parameter")
	}
	if chain == nil {
		return nil, errors.New("chain is a required parameter")
	}

	if config.MaxOutbound <= 0 {
		config.MaxOutbound = defaultMaxOutbound
	}
	if config.MaxInbound < 0 {
		config.MaxInbound = defaultMaxInbound
	}
	if addrman == nil {
		addrman = NewDefaultAddrManager()
	}

	rejects, err := lru.New(rejectCacheSize)
	if err != nil {
		return nil, err
	}

	var seed [8]byte
	_, _ = rand.Read(seed[:])

	s := &Server{
		ServerConfig: config,
		chain:        chain,
		mempool:      mempool,
		addrman:      addrman,
		nonces:       newNonceSet(),
		peers:        newPeerList(),
		blockMap:     make(map[util.Uint256]int64),
		txMap:        make(map[util.Uint256]int64),
		compactMap:   make(map[util.Uint256]int64),
		rejects:      rejects,
		register:     make(chan *TCPPeer),
		unregister:   make(chan peerDrop),
		synced:       atomic.NewBool(false),
		rng:          mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:])))),
		quit:         make(chan struct{}),
		log:          log,
	}

	s.transport = NewTCPTransport(s, net.JoinHostPort(config.Address, strconv.Itoa(int(config.Port))), log)
	return s, nil
}

// mkMsg creates a new message based on the server configured network
// and given parameters.
func (s *Server) mkMsg(cmd CommandType, p payload.Payload) *Message {
	return NewMessage(s.Net, cmd, p)
}

func (s *Server) rand32() uint32 {
	s.rngLock.Lock()
	defer s.rngLock.Unlock()
	return s.rng.Uint32()
}

func (s *Server) rand64() uint64 {
	s.rngLock.Lock()
	defer s.rngLock.Unlock()
	return s.rng.Uint64()
}

// Start will start the server and its underlying transport.
func (s *Server) Start(errChan chan error) {
	s.log.Info("node started",
		zap.Uint32("height", s.chain.Height()),
		zap.Stringer("net", s.Net))

	s.synced.Store(s.chain.IsSynced())
	if s.CheckpointsEnabled {
		s.lock.Lock()
		s.hdrChain = newHeaderChain(s.chain.Tip(), s.chain.Height(), s.Net.Checkpoints())
		s.lock.Unlock()
	}

	for _, addr := range s.Seeds {
		s.addrman.Add(seedAddress(addr, s.Net.Port()), "seed")
	}
	if s.Listen {
		go s.transport.Accept()
	}
	setServerAndNodeVersions(s.UserAgent, strconv.FormatInt(s.nextID.Load(), 10))
	s.run()
}

// seedAddress converts a host:port seed string into a book entry.
func seedAddress(addr string, defaultPort uint16) *payload.AddressAndTime {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host, portStr = addr, strconv.Itoa(int(defaultPort))
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		port = uint64(defaultPort)
	}
	tcp := &net.TCPAddr{IP: net.ParseIP(host), Port: int(port)}
	return payload.NewAddressAndTime(tcp, time.Now(), payload.ServiceNetwork|payload.ServiceWitness)
}

// Shutdown disconnects all peers and stops listening.
func (s *Server) Shutdown() {
	s.log.Info("shutting down server", zap.Int("peers", s.PeerCount()))
	close(s.quit)
}

// run deals with peer registration and the periodic outbound refill,
// while runProto drives the per-peer timers.
func (s *Server) run() {
	go s.runProto()
	refillTimer := time.NewTicker(refillInterval)
	defer refillTimer.Stop()
	for {
		select {
		case <-s.quit:
			s.transport.Close()
			s.lock.Lock()
			for _, p := range s.peers.Snapshot() {
				p.Disconnect(errServerShutdown)
			}
			s.lock.Unlock()
			return
		case <-refillTimer.C:
			s.refillOutbound()
			if !s.chainSynced() {
				s.resync(false)
			}
		case p := <-s.register:
			s.lock.Lock()
			ok := s.peers.Add(p)
			count := s.peers.Len()
			s.lock.Unlock()
			if !ok {
				p.Disconnect(errAlreadyConnected)
				break
			}
			s.log.Info("new peer connected",
				zap.String("addr", p.PeerAddr()),
				zap.Bool("outbound", p.Outbound()),
				zap.Int("peerCount", count))
			updatePeersConnectedMetric(count)

		case drop := <-s.unregister:
			s.lock.Lock()
			wasLoader := s.peers.Loader() == drop.peer
			removed := s.peers.Remove(drop.peer)
			s.dropRequests(drop.peer)
			count := s.peers.Len()
			s.lock.Unlock()
			s.nonces.Remove(drop.peer.nonce)
			if removed {
				s.addrman.Disconnected(drop.peer.PeerAddr())
				s.log.Warn("peer disconnected",
					zap.String("addr", drop.peer.PeerAddr()),
					zap.String("reason", drop.reason.Error()),
					zap.Int("peerCount", count))
				updatePeersConnectedMetric(count)
			}
			if wasLoader {
				s.electLoader(nil)
			}
		}
	}
}

// runProto ticks every peer and re-latches the synced flag.
func (s *Server) runProto() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case now := <-ticker.C:
			s.chainSynced()
			for _, p := range s.Peers() {
				p.Tick(now)
			}
		}
	}
}

// chainSynced latches and returns the synced flag. Once up, it stays
// up for the lifetime of the server.
func (s *Server) chainSynced() bool {
	if !s.synced.Load() && s.chain.IsSynced() {
		s.log.Info("chain is synced", zap.Uint32("height", s.chain.Height()))
		s.synced.Store(true)
	}
	return s.synced.Load()
}

// Peers returns the current list of peers in insertion order.
func (s *Server) Peers() []*TCPPeer {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.peers.Snapshot()
}

// PeerCount returns the number of current connected peers.
func (s *Server) PeerCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.peers.Len()
}

// HandshakedPeersCount returns the number of connected peers which have
// already performed handshake.
func (s *Server) HandshakedPeersCount() int {
	var count int
	for _, p := range s.Peers() {
		if p.Handshaked() {
			count++
		}
	}
	return count
}

// acceptConn wraps an established connection into a peer and starts its
// lifecycle. Used for both directions.
func (s *Server) acceptConn(conn net.Conn, outbound bool) {
	if !outbound {
		s.lock.RLock()
		full := s.peers.inbound >= s.MaxInbound
		s.lock.RUnlock()
		if full {
			conn.Close()
			return
		}
	}
	if s.addrman.IsBanned(hostOf(conn.RemoteAddr().String())) {
		conn.Close()
		return
	}

	p := NewTCPPeer(conn, outbound, s)
	p.nonce = s.nonces.Alloc()
	select {
	case s.register <- p:
	case <-s.quit:
		conn.Close()
		return
	}

	p.lock.Lock()
	p.state = stateWaitVersion
	p.lock.Unlock()
	p.run()

	if outbound {
		s.addrman.Connected(p.PeerAddr())
		if err := s.sendVersion(p); err != nil {
			p.Disconnect(err)
		}
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// releaseNonce frees the peer's handshake nonce once the remote version
// was processed.
func (s *Server) releaseNonce(p *TCPPeer) {
	s.nonces.Remove(p.nonce)
}

// sendVersion sends our version message to the peer.
func (s *Server) sendVersion(p *TCPPeer) error {
	remote, _ := net.ResolveTCPAddr("tcp", p.PeerAddr())
	local, _ := net.ResolveTCPAddr("tcp", p.LocalAddr())
	if remote == nil {
		remote = &net.TCPAddr{}
	}
	if local == nil {
		local = &net.TCPAddr{}
	}
	version := payload.NewVersion(
		p.nonce,
		s.Services,
		*payload.NewNetAddress(remote, 0),
		*payload.NewNetAddress(local, s.Services),
		time.Now().Unix(),
		s.UserAgent,
		int32(s.chain.Height()),
		s.Relay,
	)
	return p.EnqueueMessage(s.mkMsg(CMDVersion, version))
}

// handleMessage processes the given message. A non-nil return
// disconnects the peer.
func (s *Server) handleMessage(p *TCPPeer, msg *Message) error {
	if p.Dead() {
		return nil
	}
	s.log.Debug("got msg",
		zap.String("addr", p.PeerAddr()),
		zap.String("type", msg.RawCommand()))

	if msg.Magic != s.Net {
		return fmt.Errorf("message from wrong network 0x%x", uint32(msg.Magic))
	}

	if err := msg.OversizeErr(); err != nil {
		p.IncreaseBan(banThreshold, err.Error())
		return nil
	}

	if p.Handshaked() {
		if inv, ok := msg.Payload.(*payload.Inventory); ok {
			for i := range inv.Vects {
				if !inv.Vects[i].Type.Valid() {
					return errInvalidInvType
				}
			}
		}
		switch msg.CommandType() {
		case CMDAddr:
			return s.handleAddrCmd(p, msg.Payload.(*payload.AddressList))
		case CMDGetAddr:
			return s.handleGetAddrCmd(p)
		case CMDInv:
			return s.handleInvCmd(p, msg.Payload.(*payload.Inventory))
		case CMDGetData:
			return s.handleGetDataCmd(p, msg.Payload.(*payload.Inventory))
		case CMDNotFound:
			return s.handleNotFoundCmd(p, msg.Payload.(*payload.Inventory))
		case CMDGetBlocks:
			return s.handleGetBlocksCmd(p, msg.Payload.(*payload.GetBlocks))
		case CMDGetHeaders:
			return s.handleGetHeadersCmd(p, msg.Payload.(*payload.GetBlocks))
		case CMDHeaders:
			return s.handleHeadersCmd(p, msg.Payload.(*payload.Headers))
		case CMDBlock:
			return s.handleBlockCmd(p, msg.Payload.(*payload.Block))
		case CMDTX:
			return s.handleTxCmd(p, msg.Payload.(*payload.Transaction))
		case CMDMempool:
			return s.handleMempoolCmd(p)
		case CMDFeeFilter:
			return s.handleFeeFilterCmd(p, msg.Payload.(*payload.FeeFilter))
		case CMDSendHeaders:
			return s.handleSendHeadersCmd(p)
		case CMDSendCmpct:
			return s.handleSendCmpctCmd(p, msg.Payload.(*payload.SendCmpct))
		case CMDCmpctBlock:
			return s.handleCmpctBlockCmd(p, msg.Payload.(*payload.CompactBlock))
		case CMDGetBlockTxn:
			return s.handleGetBlockTxnCmd(p, msg.Payload.(*payload.BlockTxnRequest))
		case CMDBlockTxn:
			return s.handleBlockTxnCmd(p, msg.Payload.(*payload.BlockTxn))
		case CMDPing:
			return p.HandlePing(msg.Payload.(*payload.Ping))
		case CMDPong:
			return p.HandlePong(msg.Payload.(*payload.Ping))
		case CMDReject:
			rej := msg.Payload.(*payload.Reject)
			s.log.Debug("peer rejected our message",
				zap.String("addr", p.PeerAddr()),
				zap.String("message", rej.Message),
				zap.String("reason", rej.Reason))
			return nil
		case CMDUnknown:
			s.log.Debug("unknown command", zap.String("command", msg.RawCommand()))
			return nil
		case CMDVersion, CMDVerack:
			return fmt.Errorf("received '%s' after the handshake", msg.RawCommand())
		}
	} else {
		switch msg.CommandType() {
		case CMDVersion:
			return s.handleVersionCmd(p, msg.Payload.(*payload.Version))
		case CMDVerack:
			if err := p.HandleVersionAck(); err != nil {
				return err
			}
			s.handleConnected(p)
		default:
			return fmt.Errorf("received '%s' during handshake", msg.RawCommand())
		}
	}
	return nil
}

// handleVersionCmd processes the remote version, the first step of the
// handshake.
func (s *Server) handleVersionCmd(p *TCPPeer, version *payload.Version) error {
	if err := p.HandleVersion(version); err != nil {
		return err
	}
	if s.BIP152Enabled && !version.Services.Has(payload.ServiceWitness) {
		s.log.Warn("peer cannot do witness compact blocks",
			zap.String("addr", p.PeerAddr()))
	}
	return nil
}

// handleConnected wires a freshly handshaked peer into the pool:
// address solicitation, relay negotiation and sync kick-off.
func (s *Server) handleConnected(p *TCPPeer) {
	s.addrman.Good(p.PeerAddr())

	_ = p.EnqueueMessage(s.mkMsg(CMDSendHeaders, nil))
	if s.BIP152Enabled {
		_ = p.EnqueueMessage(s.mkMsg(CMDSendCmpct, &payload.SendCmpct{
			Announce: s.BlockMode == 1,
			Version:  payload.CmpctWitnessVersion,
		}))
	}
	if s.mempool != nil {
		if rate := s.mempool.MinFeeRate(); rate > 0 {
			_ = p.EnqueueMessage(s.mkMsg(CMDFeeFilter, &payload.FeeFilter{MinFee: rate}))
		}
	}
	if p.Outbound() {
		p.lock.Lock()
		p.sentGetAddr = true
		p.gettingAddr = true
		p.lock.Unlock()
		_ = p.EnqueueMessage(s.mkMsg(CMDGetAddr, nil))

		if s.Listen {
			s.advertiseSelf(p)
		}

		s.lock.Lock()
		needLoader := s.peers.Loader() == nil
		s.lock.Unlock()
		if needLoader {
			s.electLoader(p)
		} else {
			s.sendSync(p, false)
		}
	}
}

// advertiseSelf pushes our own endpoint to the peer.
func (s *Server) advertiseSelf(p *TCPPeer) {
	local, err := net.ResolveTCPAddr("tcp", p.LocalAddr())
	if err != nil {
		return
	}
	local.Port = int(s.Port)
	s.addrman.MarkLocal(local.String())
	addr := payload.NewAddressAndTime(local, time.Now(), s.Services)
	_ = p.EnqueueMessage(s.mkMsg(CMDAddr, &payload.AddressList{
		Addrs: []*payload.AddressAndTime{addr},
	}))
}

// electLoader promotes the given peer, or any handshaked outbound one,
// into the loader slot and starts sync through it.
func (s *Server) electLoader(candidate *TCPPeer) {
	s.lock.Lock()
	if s.peers.Loader() != nil {
		s.lock.Unlock()
		return
	}
	if candidate == nil || !candidate.Handshaked() {
		candidate = nil
		for _, p := range s.peers.Snapshot() {
			if p.Outbound() && p.Handshaked() {
				candidate = p
				break
			}
		}
	}
	if candidate == nil {
		s.lock.Unlock()
		return
	}
	s.peers.SetLoader(candidate)
	candidate.lock.Lock()
	candidate.loader = true
	candidate.syncing = false
	candidate.lock.Unlock()
	s.lock.Unlock()

	s.log.Info("loader peer elected", zap.String("addr", candidate.PeerAddr()))
	s.sendSync(candidate, true)
}

// sendSync starts chain sync through the peer, if the peer qualifies.
func (s *Server) sendSync(p *TCPPeer, force bool) {
	if !p.Handshaked() {
		return
	}
	version := p.Version()
	if version == nil || !version.Services.Has(s.RequiredServices) {
		return
	}
	if !s.chainSynced() && !p.Loader() {
		return
	}

	p.lock.Lock()
	if p.syncing && !force {
		p.lock.Unlock()
		return
	}
	p.syncing = true
	p.blockTime = time.Now()
	p.lock.Unlock()

	if s.BIP37Enabled && s.chainSynced() && p.Loader() {
		_ = p.EnqueueMessage(s.mkMsg(CMDMempool, nil))
	}

	locator := s.chain.GetLocator()
	s.lock.RLock()
	hdrChain := s.hdrChain
	s.lock.RUnlock()
	if hdrChain != nil {
		cp, ok := hdrChain.Checkpoint()
		if ok {
			p.lock.Lock()
			p.ghTime = time.Now()
			p.lock.Unlock()
			_ = p.EnqueueMessage(s.mkMsg(CMDGetHeaders, payload.NewGetBlocks(locator, cp.Hash)))
			return
		}
	}
	p.lock.Lock()
	p.gbTime = time.Now()
	p.lock.Unlock()
	_ = p.EnqueueMessage(s.mkMsg(CMDGetBlocks, payload.NewGetBlocks(locator, util.Uint256{})))
}

// resync re-kicks sync on all outbound peers.
func (s *Server) resync(force bool) {
	for _, p := range s.Peers() {
		if p.Outbound() {
			s.sendSync(p, force)
		}
	}
}

// refillOutbound elects a loader when there is none and keeps the
// outbound slots filled with fresh candidates.
func (s *Server) refillOutbound() {
	s.lock.RLock()
	needLoader := s.peers.Loader() == nil
	outbound := s.peers.outbound
	s.lock.RUnlock()

	if needLoader {
		s.electLoader(nil)
	}
	for i := outbound; i < s.MaxOutbound; i++ {
		addr, ok := s.pickCandidate()
		if !ok {
			break
		}
		s.addrman.Attempt(addr)
		go func(addr string) {
			if err := s.transport.Dial(addr, s.DialTimeout); err != nil {
				s.log.Debug("dial failed", zap.String("addr", addr), zap.Error(err))
			}
		}(addr)
	}
}

// pickCandidate pulls dialable addresses out of the address manager.
// The port and retry-interval filters relax after enough attempts, the
// hard filters never do.
func (s *Server) pickCandidate() (string, bool) {
	for attempt := 0; attempt < 100; attempt++ {
		cand, ok := s.addrman.Allocate()
		if !ok {
			return "", false
		}
		addrStr := cand.Address.IPPortString()

		s.lock.RLock()
		connected := s.peers.Has(addrStr)
		s.lock.RUnlock()
		if connected {
			continue
		}
		if s.addrman.IsLocal(addrStr) || s.addrman.IsBanned(addrStr) {
			continue
		}
		if !cand.Address.IsRoutable() {
			continue
		}
		if !cand.Address.Services.Has(s.RequiredServices) {
			continue
		}
		if cand.Address.IsOnion() && !s.Onion && s.OnlyNet != "onion" {
			continue
		}
		switch s.OnlyNet {
		case "ipv4":
			if !cand.Address.IsIPv4() {
				continue
			}
		case "ipv6":
			if cand.Address.IsIPv4() || cand.Address.IsOnion() {
				continue
			}
		case "onion":
			if !cand.Address.IsOnion() {
				continue
			}
		}
		if attempt < portFilterAttempts && cand.Address.Port != s.Net.Port() {
			continue
		}
		if attempt < retryFilterAttempts {
			if last := s.addrman.LastAttempt(addrStr); !last.IsZero() && time.Since(last) < retryInterval {
				continue
			}
		}
		return addrStr, true
	}
	return "", false
}

// banPeer bans the remote address and drops the connection.
func (s *Server) banPeer(p *TCPPeer) {
	host := hostOf(p.PeerAddr())
	s.addrman.Ban(host)
	incPeersBannedMetric()
	s.log.Warn("peer banned", zap.String("addr", p.PeerAddr()))
	p.Disconnect(errBanned)
}

// sendReject reports a verify failure back to the peer.
func (s *Server) sendReject(p *TCPPeer, subject string, hash util.Uint256, ve *VerifyError) {
	_ = p.EnqueueMessage(s.mkMsg(CMDReject, &payload.Reject{
		Message: subject,
		Code:    ve.Code,
		Reason:  ve.Reason,
		Hash:    hash,
	}))
	if ve.Score > 0 {
		p.IncreaseBan(ve.Score, ve.Reason)
	}
}

// dropRequests removes every outstanding request of the peer from the
// pool-wide sets. Peer maps go first, the pool sets follow.
func (s *Server) dropRequests(p *TCPPeer) {
	p.lock.Lock()
	blocks := p.blockReqs
	txs := p.txReqs
	compacts := p.compactReqs
	p.blockReqs = make(map[util.Uint256]time.Time)
	p.txReqs = make(map[util.Uint256]time.Time)
	p.compactReqs = make(map[util.Uint256]*compactBlock)
	p.lock.Unlock()

	for h := range blocks {
		if s.blockMap[h] == p.id {
			delete(s.blockMap, h)
		}
	}
	for h := range txs {
		if s.txMap[h] == p.id {
			delete(s.txMap, h)
		}
	}
	for h := range compacts {
		if s.compactMap[h] == p.id {
			delete(s.compactMap, h)
		}
	}
}
