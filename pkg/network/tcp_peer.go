package network

import (
	"container/list"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/timgates42/mako/pkg/bloom"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

type peerState int32

// Peer lifecycle states.
const (
	stateConnecting peerState = iota
	stateWaitVersion
	stateWaitVerack
	stateConnected
	stateDead
)

func (s peerState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateWaitVersion:
		return "wait-version"
	case stateWaitVerack:
		return "wait-verack"
	case stateConnected:
		return "connected"
	case stateDead:
		return "dead"
	default:
		return "unknown"
	}
}

const (
	// handshakeTimeout is how long a peer may take to reach the
	// connected state.
	handshakeTimeout = 5 * time.Second
	// pingInterval is the keep-alive challenge cadence.
	pingInterval = 30 * time.Second
	// invFlushInterval is the inventory trickle cadence.
	invFlushInterval = 5 * time.Second
	// stallInterval is how often stall detection runs.
	stallInterval = 5 * time.Second
	// invQueueFlushSize flushes the inventory queue early.
	invQueueFlushSize = 500
	// maxQueuedBytes closes a peer that stops draining its socket.
	maxQueuedBytes = 30 * 1024 * 1024
	// sendQueueDepth is the outbound packet channel depth.
	sendQueueDepth = 4096

	// gbStallTimeout bounds the wait for an inv after getblocks.
	gbStallTimeout = 30 * time.Second
	// ghStallTimeout bounds the wait for headers after getheaders.
	ghStallTimeout = 60 * time.Second
	// loaderBlockTimeout bounds block progress of the loader.
	loaderBlockTimeout = 120 * time.Second
	// requestTimeout bounds a single block/tx request.
	requestTimeout = 120 * time.Second
	// compactTimeout bounds a compact block round-trip.
	compactTimeout = 30 * time.Second
	// gracePeriod is how long after connect the idle rules start.
	gracePeriod = 60 * time.Second
	// idleTimeout is the send/recv/ping inactivity bound.
	idleTimeout = 20 * time.Minute
	// preNonceRecvMult relaxes the receive bound for peers that
	// cannot answer ping challenges.
	preNonceRecvMult = 4

	// banThreshold is the misbehavior score that bans an address.
	banThreshold = 100

	// maxBlockRequests bounds announced-block requests per peer.
	maxBlockRequests = 16
	// maxTxRequests bounds transaction requests per peer.
	maxTxRequests = 10000
	// maxCompactBlocks bounds in-flight compact blocks per peer.
	maxCompactBlocks = 15

	// addrFilterSize and invFilterSize shape the per-peer relay
	// dedup filters.
	addrFilterSize   = 5000
	addrFilterRate   = 0.001
	invFilterSize    = 50000
	invFilterRate    = 0.000001
	requestStaggerMs = 100
)

var (
	errStateMismatch   = errors.New("tried to send protocol message before handshake completed")
	errPeerDead        = errors.New("peer is dead")
	errSendQueueFull   = errors.New("send queue full")
	errDrainStall      = errors.New("outbound queue stalled")
	errConnectStall    = errors.New("handshake stalled")
	errInvStall        = errors.New("no inv after getblocks")
	errHeadersStall    = errors.New("no headers after getheaders")
	errBlockStall      = errors.New("loader stopped making block progress")
	errRequestStall    = errors.New("request timed out")
	errIdleTimeout     = errors.New("peer is idle")
	errUnsolicitedData = errors.New("unsolicited block or transaction")
)

// TCPPeer represents a connected remote node in the network that this
// server is connected to.
type TCPPeer struct {
	server *Server
	conn   net.Conn

	id       int64
	outbound bool
	// loader marks the single peer driving chain sync.
	loader bool
	elem   *list.Element

	// nonce is what we advertised to this peer in our version.
	nonce uint64

	lock  sync.RWMutex
	state peerState

	version *payload.Version

	// negotiated session state
	prefersHeaders bool
	// compactMode is -1 until the peer sent sendcmpct, then 0 or 1.
	compactMode    int
	compactWitness bool
	feeRate        int64
	syncing        bool
	sentAddr       bool
	gettingAddr    bool
	sentGetAddr    bool

	addrFilter *bloom.Filter
	invFilter  *bloom.Filter

	// blockReqs and txReqs map in-flight request hashes to their
	// deadlines. They own the keys mirrored in the server-wide sets.
	blockReqs map[util.Uint256]time.Time
	txReqs    map[util.Uint256]time.Time
	// compactReqs holds in-flight compact block reconstructions.
	compactReqs map[util.Uint256]*compactBlock

	invQueue []payload.InvVect

	connectedAt time.Time
	lastPingAt  time.Time
	lastPongAt  time.Time
	lastFlushAt time.Time
	lastStallAt time.Time
	// blockTime advances whenever the peer makes block progress.
	blockTime time.Time
	// gbTime/ghTime are set while a getblocks/getheaders answer is
	// awaited.
	gbTime time.Time
	ghTime time.Time

	// pingNonce is the outstanding challenge, 0 when none.
	pingNonce uint64
	// minPing is the best observed round-trip, 0 when unmeasured.
	minPing time.Duration

	banScore int

	lastSend atomic.Int64
	lastRecv atomic.Int64

	parser *Parser

	queuedBytes atomic.Int64
	sendQ       chan []byte
	done        chan struct{}
	closeOnce   sync.Once

	log *zap.Logger
}

// NewTCPPeer returns a TCPPeer structure based on the given connection.
func NewTCPPeer(conn net.Conn, outbound bool, s *Server) *TCPPeer {
	p := &TCPPeer{
		server:      s,
		conn:        conn,
		id:          s.nextID.Inc(),
		outbound:    outbound,
		state:       stateConnecting,
		compactMode: -1,
		addrFilter:  bloom.New(addrFilterSize, addrFilterRate, s.rand32()),
		invFilter:   bloom.New(invFilterSize, invFilterRate, s.rand32()),
		blockReqs:   make(map[util.Uint256]time.Time),
		txReqs:      make(map[util.Uint256]time.Time),
		compactReqs: make(map[util.Uint256]*compactBlock),
		connectedAt: time.Now(),
		sendQ:       make(chan []byte, sendQueueDepth),
		done:        make(chan struct{}),
		parser:      NewParser(s.Net),
	}
	p.log = s.log.With(zap.Int64("peer", p.id), zap.String("addr", p.PeerAddr()))
	return p
}

// ID returns the server-assigned peer id.
func (p *TCPPeer) ID() int64 {
	return p.id
}

// Outbound returns true for peers we dialed ourselves.
func (p *TCPPeer) Outbound() bool {
	return p.outbound
}

// Loader returns true if this peer drives chain sync.
func (p *TCPPeer) Loader() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.loader
}

// PeerAddr returns the remote address of the connection.
func (p *TCPPeer) PeerAddr() string {
	return p.conn.RemoteAddr().String()
}

// LocalAddr returns the local endpoint of the connection.
func (p *TCPPeer) LocalAddr() string {
	return p.conn.LocalAddr().String()
}

// Version returns the version message the peer sent, nil before that.
func (p *TCPPeer) Version() *payload.Version {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.version
}

// Handshaked returns true once both version and verack are through.
func (p *TCPPeer) Handshaked() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.state == stateConnected
}

// Dead returns true once the peer was torn down.
func (p *TCPPeer) Dead() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.state == stateDead
}

// BanScore returns the accumulated misbehavior score.
func (p *TCPPeer) BanScore() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.banScore
}

// run starts the IO loops. The read loop owns message dispatch, so
// on-the-wire order is preserved all the way into the server.
func (p *TCPPeer) run() {
	p.parser.OnMessage = func(msg *Message) {
		p.lastRecv.Store(time.Now().UnixNano())
		incMessageReceivedMetric(msg.RawCommand())
		if err := p.server.handleMessage(p, msg); err != nil {
			p.Disconnect(err)
		}
	}
	p.parser.OnParseError = func(err error) {
		p.log.Warn("parse error", zap.Error(err))
		p.IncreaseBan(10, "parse error")
	}
	go p.writeLoop()
	go p.readLoop()
}

func (p *TCPPeer) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			p.parser.Feed(buf[:n])
		}
		if err != nil {
			p.Disconnect(err)
			return
		}
		if p.Dead() {
			return
		}
	}
}

func (p *TCPPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case pkt := <-p.sendQ:
			if _, err := p.conn.Write(pkt); err != nil {
				p.Disconnect(err)
				return
			}
			p.lastSend.Store(time.Now().UnixNano())
			p.queuedBytes.Sub(int64(len(pkt)))
		}
	}
}

// EnqueuePacket puts a raw frame on the send queue.
func (p *TCPPeer) EnqueuePacket(pkt []byte) error {
	if p.Dead() {
		return errPeerDead
	}
	if p.queuedBytes.Add(int64(len(pkt))) > maxQueuedBytes {
		p.Disconnect(errDrainStall)
		return errDrainStall
	}
	select {
	case p.sendQ <- pkt:
		return nil
	default:
		p.Disconnect(errSendQueueFull)
		return errSendQueueFull
	}
}

// EnqueueMessage encodes the message and puts it on the send queue.
func (p *TCPPeer) EnqueueMessage(msg *Message) error {
	pkt, err := msg.Bytes()
	if err != nil {
		return err
	}
	return p.EnqueuePacket(pkt)
}

// Disconnect tears the peer down. It is idempotent; every later input
// is dropped.
func (p *TCPPeer) Disconnect(reason error) {
	p.closeOnce.Do(func() {
		p.lock.Lock()
		p.state = stateDead
		p.lock.Unlock()
		p.parser.Close()
		close(p.done)
		p.conn.Close()
		// The unregister channel is drained by the same loop that
		// may be calling us, so hand over asynchronously.
		go func() {
			select {
			case p.server.unregister <- peerDrop{peer: p, reason: reason}:
			case <-p.server.quit:
			}
		}()
	})
}

// IncreaseBan adds to the misbehavior score. Crossing the threshold
// bans the remote address and drops the connection.
func (p *TCPPeer) IncreaseBan(score int, reason string) {
	p.lock.Lock()
	if p.state == stateDead {
		p.lock.Unlock()
		return
	}
	p.banScore += score
	total := p.banScore
	p.lock.Unlock()

	p.log.Info("misbehavior",
		zap.String("reason", reason),
		zap.Int("score", score),
		zap.Int("total", total))
	if total >= banThreshold {
		p.server.banPeer(p)
	}
}

// HandleVersion processes the remote's version message, moving the
// handshake forward.
func (p *TCPPeer) HandleVersion(version *payload.Version) error {
	p.lock.Lock()
	if p.state != stateWaitVersion {
		p.lock.Unlock()
		return errStateMismatch
	}
	p.version = version
	p.lock.Unlock()

	if err := p.validateVersion(version); err != nil {
		return err
	}

	if !p.outbound {
		if err := p.server.sendVersion(p); err != nil {
			return err
		}
	}
	if err := p.EnqueueMessage(p.server.mkMsg(CMDVerack, nil)); err != nil {
		return err
	}
	p.lock.Lock()
	p.state = stateWaitVerack
	p.lock.Unlock()
	p.server.releaseNonce(p)
	return nil
}

// validateVersion applies the handshake compatibility checks. Inbound
// peers only get the self-connection check, outbound candidates must
// be fully usable.
func (p *TCPPeer) validateVersion(version *payload.Version) error {
	if p.server.nonces.Has(version.Nonce) && !p.server.SelfConnect {
		return errIdenticalNonce
	}
	if !p.outbound {
		return nil
	}
	if version.Version < payload.MinSupportedVersion {
		return fmt.Errorf("obsolete protocol version %d", version.Version)
	}
	if !version.Services.Has(payload.ServiceNetwork) {
		return errors.New("peer does not serve the network")
	}
	if p.server.CheckpointsEnabled && version.Version < payload.HeadersVersion {
		return errors.New("peer cannot serve headers")
	}
	if !version.Services.Has(payload.ServiceWitness) {
		return errors.New("peer cannot serve witness data")
	}
	return nil
}

// HandleVersionAck completes the handshake.
func (p *TCPPeer) HandleVersionAck() error {
	p.lock.Lock()
	if p.state != stateWaitVerack {
		p.lock.Unlock()
		return errStateMismatch
	}
	p.state = stateConnected
	p.blockTime = time.Now()
	p.lock.Unlock()
	p.log.Info("handshake completed",
		zap.Int32("version", p.version.Version),
		zap.String("useragent", string(p.version.UserAgent)),
		zap.Int32("height", p.version.StartHeight))
	return nil
}

// HandlePing answers a keep-alive challenge. Challenge-free pings from
// ancient peers get no answer.
func (p *TCPPeer) HandlePing(ping *payload.Ping) error {
	if p.version.Version < payload.PingNonceVersion {
		return nil
	}
	return p.EnqueueMessage(p.server.mkMsg(CMDPong, payload.NewPing(ping.Nonce)))
}

// HandlePong resolves our outstanding challenge.
func (p *TCPPeer) HandlePong(pong *payload.Ping) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.pingNonce == 0 || pong.Nonce != p.pingNonce {
		p.log.Debug("stray pong", zap.Uint64("nonce", pong.Nonce))
		return nil
	}
	now := time.Now()
	p.lastPongAt = now
	if rtt := now.Sub(p.lastPingAt); p.minPing == 0 || rtt < p.minPing {
		p.minPing = rtt
	}
	p.pingNonce = 0
	return nil
}

// SendPing issues a fresh challenge unless one is outstanding.
func (p *TCPPeer) SendPing(now time.Time) {
	p.lock.Lock()
	if p.pingNonce != 0 {
		p.lock.Unlock()
		return
	}
	p.pingNonce = p.server.rand64()
	nonce := p.pingNonce
	p.lastPingAt = now
	p.lock.Unlock()
	_ = p.EnqueueMessage(p.server.mkMsg(CMDPing, payload.NewPing(nonce)))
}

// QueueInventory queues an announcement, deduplicated through the
// inventory filter. Blocks flush the queue immediately.
func (p *TCPPeer) QueueInventory(vect payload.InvVect) {
	if !p.Handshaked() {
		return
	}
	p.lock.Lock()
	if p.invFilter.Test(vect.Hash.Bytes()) {
		p.lock.Unlock()
		return
	}
	p.invFilter.Add(vect.Hash.Bytes())
	p.invQueue = append(p.invQueue, vect)
	flush := len(p.invQueue) >= invQueueFlushSize || vect.Type.Base() == payload.BlockType
	p.lock.Unlock()
	if flush {
		p.FlushInventory()
	}
}

// KnowsInventory returns whether the hash passed through this peer's
// announcements in either direction.
func (p *TCPPeer) KnowsInventory(hash util.Uint256) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.invFilter.Test(hash.Bytes())
}

// MarkInventory records the hash in the peer's inventory filter.
func (p *TCPPeer) MarkInventory(hash util.Uint256) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.invFilter.Add(hash.Bytes())
}

// FlushInventory sends the queued announcements out.
func (p *TCPPeer) FlushInventory() {
	p.lock.Lock()
	queue := p.invQueue
	p.invQueue = nil
	p.lastFlushAt = time.Now()
	p.lock.Unlock()
	if len(queue) == 0 {
		return
	}
	_ = p.EnqueueMessage(p.server.mkMsg(CMDInv, &payload.Inventory{Vects: queue}))
}

// Tick runs the peer's periodic work: handshake/keep-alive timers, the
// inventory trickle and stall detection.
func (p *TCPPeer) Tick(now time.Time) {
	p.lock.Lock()
	state := p.state
	connectedAt := p.connectedAt
	p.lock.Unlock()

	switch state {
	case stateDead:
		return
	case stateConnected:
	default:
		if now.Sub(connectedAt) > handshakeTimeout {
			p.Disconnect(errConnectStall)
		}
		return
	}

	p.lock.Lock()
	pingDue := now.Sub(p.lastPingAt) >= pingInterval
	flushDue := now.Sub(p.lastFlushAt) >= invFlushInterval
	stallDue := now.Sub(p.lastStallAt) >= stallInterval
	if stallDue {
		p.lastStallAt = now
	}
	p.lock.Unlock()

	if pingDue {
		p.SendPing(now)
	}
	if flushDue {
		p.FlushInventory()
	}
	if stallDue {
		if err := p.checkStall(now); err != nil {
			p.Disconnect(err)
			return
		}
	}
	if p.queuedBytes.Load() > maxQueuedBytes {
		p.Disconnect(errDrainStall)
	}
}

// checkStall looks for overdue answers. All thresholds run on the
// caller's monotonic now.
func (p *TCPPeer) checkStall(now time.Time) error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	synced := p.server.chainSynced()

	if !synced && !p.gbTime.IsZero() && now.Sub(p.gbTime) > gbStallTimeout {
		return errInvStall
	}
	if !p.ghTime.IsZero() && now.Sub(p.ghTime) > ghStallTimeout {
		return errHeadersStall
	}
	if p.loader && !synced && now.Sub(p.blockTime) > loaderBlockTimeout {
		return errBlockStall
	}

	if synced || !p.syncing {
		for _, deadline := range p.blockReqs {
			if now.Sub(deadline) > requestTimeout {
				return errRequestStall
			}
		}
		for _, deadline := range p.txReqs {
			if now.Sub(deadline) > requestTimeout {
				return errRequestStall
			}
		}
		for _, cb := range p.compactReqs {
			if now.Sub(cb.deadline) > compactTimeout {
				return errRequestStall
			}
		}
	}

	if now.Sub(p.connectedAt) > gracePeriod {
		lastSend := time.Unix(0, p.lastSend.Load())
		lastRecv := time.Unix(0, p.lastRecv.Load())
		if p.lastSend.Load() == 0 || p.lastRecv.Load() == 0 {
			return errIdleTimeout
		}
		if now.Sub(lastSend) > idleTimeout {
			return errIdleTimeout
		}
		mult := time.Duration(1)
		if p.version != nil && p.version.Version < payload.PingNonceVersion {
			mult = preNonceRecvMult
		}
		if now.Sub(lastRecv) > idleTimeout*mult {
			return errIdleTimeout
		}
		if p.pingNonce != 0 && now.Sub(p.lastPingAt) > idleTimeout {
			return errIdleTimeout
		}
	}
	return nil
}
