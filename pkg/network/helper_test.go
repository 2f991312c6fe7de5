package network

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

// fakeChain is a Ledger stub with a linear in-memory chain.
type fakeChain struct {
	lock    sync.RWMutex
	hashes  []util.Uint256
	heights map[util.Uint256]uint32
	blocks  map[util.Uint256]*payload.Block
	orphans map[util.Uint256]util.Uint256
	invalid map[util.Uint256]bool
	synced  bool

	added []*payload.Block
	// verifyErr makes AddBlock fail.
	verifyErr error
}

func newFakeChain(synced bool) *fakeChain {
	genesis := util.Uint256{0xfa, 0xce}
	return &fakeChain{
		hashes:  []util.Uint256{genesis},
		heights: map[util.Uint256]uint32{genesis: 0},
		blocks:  make(map[util.Uint256]*payload.Block),
		orphans: make(map[util.Uint256]util.Uint256),
		invalid: make(map[util.Uint256]bool),
		synced:  synced,
	}
}

func (c *fakeChain) Height() uint32 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return uint32(len(c.hashes) - 1)
}

func (c *fakeChain) Tip() util.Uint256 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.hashes[len(c.hashes)-1]
}

func (c *fakeChain) IsSynced() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.synced
}

func (c *fakeChain) HeightOf(h util.Uint256) (uint32, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	height, ok := c.heights[h]
	return height, ok
}

func (c *fakeChain) HasBlock(h util.Uint256) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.heights[h]
	return ok
}

func (c *fakeChain) HasInvalid(h util.Uint256) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.invalid[h]
}

func (c *fakeChain) HasOrphan(h util.Uint256) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.orphans[h]
	return ok
}

func (c *fakeChain) GetOrphanRoot(h util.Uint256) util.Uint256 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.orphans[h]
}

func (c *fakeChain) GetLocator() []util.Uint256 {
	return []util.Uint256{c.Tip()}
}

func (c *fakeChain) FindLocator(locator []util.Uint256) util.Uint256 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for _, h := range locator {
		if _, ok := c.heights[h]; ok {
			return h
		}
	}
	return c.hashes[0]
}

func (c *fakeChain) GetHashes(from, stop util.Uint256, max int) []util.Uint256 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	start, ok := c.heights[from]
	if !ok {
		return nil
	}
	var out []util.Uint256
	for i := start + 1; int(i) < len(c.hashes) && len(out) < max; i++ {
		h := c.hashes[i]
		if h.Equals(stop) {
			break
		}
		out = append(out, h)
	}
	return out
}

func (c *fakeChain) GetHeaders(from, stop util.Uint256, max int) []*payload.Header {
	var out []*payload.Header
	for _, h := range c.GetHashes(from, stop, max) {
		if b, ok := c.blocks[h]; ok {
			hdr := b.Header
			out = append(out, &hdr)
		}
	}
	return out
}

func (c *fakeChain) GetBlock(h util.Uint256) (*payload.Block, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	b, ok := c.blocks[h]
	if !ok {
		return nil, errors.New("block not found")
	}
	return b, nil
}

func (c *fakeChain) AddBlock(b *payload.Block, peerID int64) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.verifyErr != nil {
		return c.verifyErr
	}
	h := b.Hash()
	if _, ok := c.heights[h]; ok {
		return nil
	}
	c.heights[h] = uint32(len(c.hashes))
	c.hashes = append(c.hashes, h)
	c.blocks[h] = b
	c.added = append(c.added, b)
	return nil
}

func (c *fakeChain) addedCount() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.added)
}

// fakeMempool is a Mempooler stub.
type fakeMempool struct {
	lock    sync.RWMutex
	txs     map[util.Uint256]*payload.Transaction
	rejects map[util.Uint256]bool
	minFee  int64

	verifyErr error
}

func newFakeMempool() *fakeMempool {
	return &fakeMempool{
		txs:     make(map[util.Uint256]*payload.Transaction),
		rejects: make(map[util.Uint256]bool),
	}
}

func (m *fakeMempool) Get(h util.Uint256) *payload.Transaction {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.txs[h]
}

func (m *fakeMempool) Has(h util.Uint256) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.txs[h]
	return ok
}

func (m *fakeMempool) HasReject(h util.Uint256) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.rejects[h]
}

func (m *fakeMempool) AddTx(tx *payload.Transaction, peerID int64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.verifyErr != nil {
		return m.verifyErr
	}
	m.txs[tx.Hash()] = tx
	return nil
}

func (m *fakeMempool) Hashes() []util.Uint256 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	out := make([]util.Uint256, 0, len(m.txs))
	for h := range m.txs {
		out = append(out, h)
	}
	return out
}

func (m *fakeMempool) put(tx *payload.Transaction) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.txs[tx.Hash()] = tx
}

func (m *fakeMempool) MinFeeRate() int64 {
	return m.minFee
}

// newTestServer builds an unstarted server on the simnet magic.
func newTestServer(t *testing.T, chain Ledger, mempool Mempooler) *Server {
	cfg := ServerConfig{
		Net:         config.ModeSimNet,
		MaxOutbound: 8,
		MaxInbound:  8,
		Services:    payload.ServiceNetwork | payload.ServiceWitness,
		UserAgent:   "/mako:test/",
		DialTimeout: time.Second,
		Relay:       true,
	}
	cfg.RequiredServices = cfg.Services
	s, err := NewServer(cfg, chain, mempool, NewDefaultAddrManager(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

// addrConn gives a pipe connection a distinct remote address, so that
// several fake peers can coexist in the registry.
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c *addrConn) RemoteAddr() net.Addr { return c.remote }

// newTestPeer wires a fake connected peer directly into the server's
// registry, bypassing the wire handshake.
func newTestPeer(t *testing.T, s *Server, addr string, outbound bool) (*TCPPeer, net.Conn) {
	local, remote := net.Pipe()
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	require.NoError(t, err)
	p := NewTCPPeer(&addrConn{Conn: local, remote: tcpAddr}, outbound, s)
	p.nonce = s.nonces.Alloc()
	p.version = &payload.Version{
		Version:     payload.ProtocolVersion,
		Services:    payload.ServiceNetwork | payload.ServiceWitness,
		StartHeight: 0,
		Relay:       true,
	}
	p.state = stateConnected
	s.lock.Lock()
	require.True(t, s.peers.Add(p))
	s.lock.Unlock()
	return p, remote
}

// scriptedRemote is a remote node driven by a handler function, used to
// exercise the real wire path.
type scriptedRemote struct {
	t        *testing.T
	ln       net.Listener
	magic    config.NetMode
	lock     sync.Mutex
	received []CommandType
	conn     net.Conn
	handler  func(r *scriptedRemote, msg *Message)
}

func newScriptedRemote(t *testing.T, magic config.NetMode, handler func(*scriptedRemote, *Message)) *scriptedRemote {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &scriptedRemote{t: t, ln: ln, magic: magic, handler: handler}
	go r.serve()
	t.Cleanup(func() { ln.Close() })
	return r
}

func (r *scriptedRemote) Addr() string {
	return r.ln.Addr().String()
}

func (r *scriptedRemote) serve() {
	conn, err := r.ln.Accept()
	if err != nil {
		return
	}
	r.lock.Lock()
	r.conn = conn
	r.lock.Unlock()

	parser := NewParser(r.magic)
	parser.OnMessage = func(msg *Message) {
		r.lock.Lock()
		r.received = append(r.received, msg.CommandType())
		r.lock.Unlock()
		if r.handler != nil {
			r.handler(r, msg)
		}
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *scriptedRemote) send(msg *Message) {
	b, err := msg.Bytes()
	require.NoError(r.t, err)
	r.lock.Lock()
	conn := r.conn
	r.lock.Unlock()
	if conn != nil {
		_, _ = conn.Write(b)
	}
}

func (r *scriptedRemote) sendRaw(b []byte) {
	r.lock.Lock()
	conn := r.conn
	r.lock.Unlock()
	if conn != nil {
		_, _ = conn.Write(b)
	}
}

func (r *scriptedRemote) saw(cmd CommandType) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, c := range r.received {
		if c == cmd {
			return true
		}
	}
	return false
}
