package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/network/payload"
	"github.com/timgates42/mako/pkg/util"
)

func startTestServer(t *testing.T, s *Server) {
	go s.Start(nil)
	t.Cleanup(s.Shutdown)
}

func remoteVersion(nonce uint64) *payload.Version {
	return &payload.Version{
		Version:     payload.ProtocolVersion,
		Services:    payload.ServiceNetwork | payload.ServiceWitness,
		Nonce:       nonce,
		UserAgent:   []byte("/remote:1.0/"),
		StartHeight: 0,
		Relay:       true,
	}
}

func TestHandshakeHappyPath(t *testing.T) {
	chain := newFakeChain(false)
	s := newTestServer(t, chain, newFakeMempool())
	startTestServer(t, s)

	remote := newScriptedRemote(t, s.Net, func(r *scriptedRemote, msg *Message) {
		if msg.CommandType() == CMDVersion {
			r.send(NewMessage(r.magic, CMDVersion, remoteVersion(0x1111111111111111)))
			r.send(NewMessage(r.magic, CMDVerack, nil))
		}
	})

	require.NoError(t, s.transport.Dial(remote.Addr(), time.Second))

	require.Eventually(t, func() bool {
		return remote.saw(CMDVersion) && remote.saw(CMDVerack)
	}, 2*time.Second, 10*time.Millisecond, "remote did not complete handshake")

	// The first outbound peer becomes the loader and sync starts with
	// a getblocks (no checkpoints on this network).
	require.Eventually(t, func() bool {
		s.lock.RLock()
		defer s.lock.RUnlock()
		return s.peers.Loader() != nil && s.peers.Loader().Handshaked()
	}, 2*time.Second, 10*time.Millisecond, "loader was not elected")

	require.Eventually(t, func() bool {
		return remote.saw(CMDGetBlocks)
	}, 2*time.Second, 10*time.Millisecond, "sync was not started")

	assert.Equal(t, 1, s.HandshakedPeersCount())
}

func TestSelfConnectionClosed(t *testing.T) {
	chain := newFakeChain(false)
	s := newTestServer(t, chain, newFakeMempool())
	startTestServer(t, s)

	// The remote echoes back whatever nonce our version advertised.
	remote := newScriptedRemote(t, s.Net, func(r *scriptedRemote, msg *Message) {
		if msg.CommandType() == CMDVersion {
			v := msg.Payload.(*payload.Version)
			r.send(NewMessage(r.magic, CMDVersion, remoteVersion(v.Nonce)))
		}
	})

	require.NoError(t, s.transport.Dial(remote.Addr(), time.Second))

	require.Eventually(t, func() bool {
		return s.PeerCount() == 0 && s.nonces.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "self connection was not torn down")
	assert.False(t, remote.saw(CMDVerack))
}

func TestParseErrorsLeadToBan(t *testing.T) {
	chain := newFakeChain(false)
	s := newTestServer(t, chain, newFakeMempool())
	startTestServer(t, s)

	badFrame, err := NewMessage(s.Net, CMDPing, payload.NewPing(1)).Bytes()
	require.NoError(t, err)
	badFrame[20] ^= 0x01

	remote := newScriptedRemote(t, s.Net, func(r *scriptedRemote, msg *Message) {
		if msg.CommandType() == CMDVersion {
			for i := 0; i < 10; i++ {
				r.sendRaw(badFrame)
			}
		}
	})

	require.NoError(t, s.transport.Dial(remote.Addr(), time.Second))

	require.Eventually(t, func() bool {
		return s.addrman.IsBanned("127.0.0.1") && s.PeerCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "checksum flood did not ban the peer")
}

func TestBlockRequestDeduplication(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)

	p1, _ := newTestPeer(t, s, "203.0.113.31:18555", true)
	p2, _ := newTestPeer(t, s, "203.0.113.32:18555", true)

	h := util.Uint256{0x77}
	inv := payload.NewInventory(payload.BlockType, []util.Uint256{h})

	require.NoError(t, s.handleInvCmd(p1, inv))
	s.lock.RLock()
	owner, ok := s.blockMap[h]
	s.lock.RUnlock()
	require.True(t, ok)
	require.Equal(t, p1.ID(), owner)
	p1.lock.RLock()
	require.Contains(t, p1.blockReqs, h)
	p1.lock.RUnlock()

	// The second announcer is not asked while the request is live.
	require.NoError(t, s.handleInvCmd(p2, inv))
	p2.lock.RLock()
	require.Empty(t, p2.blockReqs)
	p2.lock.RUnlock()
	s.lock.RLock()
	require.Len(t, s.blockMap, 1)
	s.lock.RUnlock()

	// The first announcer dies: its request leaves the pool set and
	// the second peer may now be asked.
	s.lock.Lock()
	s.peers.Remove(p1)
	s.dropRequests(p1)
	s.lock.Unlock()

	s.lock.RLock()
	require.Empty(t, s.blockMap)
	s.lock.RUnlock()

	require.NoError(t, s.handleInvCmd(p2, inv))
	p2.lock.RLock()
	require.Contains(t, p2.blockReqs, h)
	p2.lock.RUnlock()
}

func TestBlockRequestWindow(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)

	p, _ := newTestPeer(t, s, "203.0.113.33:18555", true)

	hashes := make([]util.Uint256, maxBlockRequests+10)
	for i := range hashes {
		hashes[i][0] = byte(i + 1)
		hashes[i][1] = 0x99
	}
	require.NoError(t, s.handleInvCmd(p, payload.NewInventory(payload.BlockType, hashes)))

	p.lock.RLock()
	require.Len(t, p.blockReqs, maxBlockRequests)
	p.lock.RUnlock()
}

func TestUnsolicitedBlockCloses(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)

	p, _ := newTestPeer(t, s, "203.0.113.34:18555", true)

	b := &payload.Block{}
	b.Header.Version = 1
	b.Header.Bits = 0x2100ffff
	require.Equal(t, errUnsolicitedData, s.handleBlockCmd(p, b))

	// In high-bandwidth mode unsolicited blocks are how relay works.
	s.BlockMode = 1
	require.NoError(t, s.handleBlockCmd(p, b))
	require.Equal(t, 1, chain.addedCount())
}

func TestRequestedBlockIsSubmitted(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)

	p, _ := newTestPeer(t, s, "203.0.113.35:18555", true)

	b := &payload.Block{}
	b.Header.Version = 1
	b.Header.Bits = 0x2100ffff
	h := b.Hash()

	s.lock.Lock()
	p.lock.Lock()
	p.blockReqs[h] = time.Now()
	s.blockMap[h] = p.id
	p.lock.Unlock()
	s.lock.Unlock()

	require.NoError(t, s.handleBlockCmd(p, b))
	require.Equal(t, 1, chain.addedCount())
	s.lock.RLock()
	require.Empty(t, s.blockMap)
	s.lock.RUnlock()
}

func TestVerifyErrorSendsRejectAndScores(t *testing.T) {
	chain := newFakeChain(true)
	chain.verifyErr = &VerifyError{Code: payload.RejectInvalid, Reason: "bad-block", Score: 20}
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)
	s.BlockMode = 1

	p, _ := newTestPeer(t, s, "203.0.113.36:18555", true)

	b := &payload.Block{}
	b.Header.Version = 1
	b.Header.Bits = 0x2100ffff
	require.NoError(t, s.handleBlockCmd(p, b))
	assert.Equal(t, 20, p.BanScore())
}

func TestCompactBlockFallback(t *testing.T) {
	chain := newFakeChain(true)
	mp := newFakeMempool()
	s := newTestServer(t, chain, mp)
	s.synced.Store(true)
	s.BIP152Enabled = true

	p, _ := newTestPeer(t, s, "203.0.113.37:18555", true)
	p.lock.Lock()
	p.compactWitness = true
	p.compactMode = 0
	p.lock.Unlock()

	txs := []*payload.Transaction{
		testCompactTx(0), testCompactTx(1), testCompactTx(2),
	}
	cp := buildAnnouncement(txs, 0xfeed)
	cp.Header.Bits = 0x2100ffff
	h := cp.Header.Hash()

	// The block was requested via getdata before the announcement.
	s.lock.Lock()
	p.lock.Lock()
	p.blockReqs[h] = time.Now()
	s.blockMap[h] = p.id
	p.lock.Unlock()
	s.lock.Unlock()

	require.NoError(t, s.handleCmpctBlockCmd(p, cp))

	// Two transactions are missing, the round-trip is in flight.
	s.lock.RLock()
	require.Contains(t, s.compactMap, h)
	s.lock.RUnlock()
	p.lock.RLock()
	require.Contains(t, p.compactReqs, h)
	require.Equal(t, []uint32{1, 2}, p.compactReqs[h].Missing())
	p.lock.RUnlock()

	// The reply covers only one of the two: fall back to a full
	// block from the same peer and score the offense.
	require.NoError(t, s.handleBlockTxnCmd(p, &payload.BlockTxn{
		BlockHash: h,
		Txs:       []*payload.Transaction{txs[1]},
	}))

	assert.Equal(t, 10, p.BanScore())
	s.lock.RLock()
	assert.NotContains(t, s.compactMap, h)
	s.lock.RUnlock()
	p.lock.RLock()
	assert.NotContains(t, p.compactReqs, h)
	assert.Contains(t, p.blockReqs, h)
	p.lock.RUnlock()
}

func TestCompactBlockCompletesFromMempool(t *testing.T) {
	chain := newFakeChain(true)
	mp := newFakeMempool()
	s := newTestServer(t, chain, mp)
	s.synced.Store(true)
	s.BIP152Enabled = true
	s.BlockMode = 1

	p, _ := newTestPeer(t, s, "203.0.113.38:18555", true)
	p.lock.Lock()
	p.compactWitness = true
	p.compactMode = 1
	p.lock.Unlock()

	txs := []*payload.Transaction{
		testCompactTx(0), testCompactTx(1), testCompactTx(2),
	}
	mp.put(txs[1])
	mp.put(txs[2])

	cp := buildAnnouncement(txs, 0xbeef)
	cp.Header.Bits = 0x2100ffff

	require.NoError(t, s.handleCmpctBlockCmd(p, cp))
	require.Equal(t, 1, chain.addedCount())
	s.lock.RLock()
	assert.Empty(t, s.compactMap)
	s.lock.RUnlock()
}

func TestDuplicateCompactBlockScores(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())
	s.synced.Store(true)
	s.BIP152Enabled = true
	s.BlockMode = 1

	p, _ := newTestPeer(t, s, "203.0.113.39:18555", true)
	p.lock.Lock()
	p.compactWitness = true
	p.lock.Unlock()

	txs := []*payload.Transaction{
		testCompactTx(0), testCompactTx(1),
	}
	cp := buildAnnouncement(txs, 0xf00d)
	cp.Header.Bits = 0x2100ffff
	h := cp.Header.Hash()

	require.NoError(t, s.handleCmpctBlockCmd(p, cp))
	p.lock.RLock()
	require.Contains(t, p.compactReqs, h)
	p.lock.RUnlock()

	require.NoError(t, s.handleCmpctBlockCmd(p, cp))
	assert.Equal(t, banThreshold, p.BanScore())
}

func TestTxInvRespectsRejectCaches(t *testing.T) {
	chain := newFakeChain(true)
	mp := newFakeMempool()
	s := newTestServer(t, chain, mp)
	s.synced.Store(true)

	p, _ := newTestPeer(t, s, "203.0.113.40:18555", true)

	inPool := testCompactTx(1)
	rejected := util.Uint256{0x66}
	cached := util.Uint256{0x67}
	fresh := util.Uint256{0x68}

	mp.put(inPool)
	mp.rejects[rejected] = true
	s.rejects.Add(cached, struct{}{})

	inv := payload.NewInventory(payload.TXType, []util.Uint256{
		inPool.Hash(), rejected, cached, fresh,
	})
	require.NoError(t, s.handleInvCmd(p, inv))

	p.lock.RLock()
	defer p.lock.RUnlock()
	require.Len(t, p.txReqs, 1)
	require.Contains(t, p.txReqs, fresh)
}

func TestAddrRelayBooksRoutableAddresses(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())

	p, _ := newTestPeer(t, s, "203.0.113.41:18555", true)

	good := payload.NewAddressAndTime(mustTCPAddr(t, "198.51.100.1:18555"), time.Now(), payload.ServiceNetwork|payload.ServiceWitness)
	noPort := payload.NewAddressAndTime(mustTCPAddr(t, "198.51.100.2:18555"), time.Now(), payload.ServiceNetwork)
	noPort.Address.Port = 0
	noServices := payload.NewAddressAndTime(mustTCPAddr(t, "198.51.100.3:18555"), time.Now(), 0)

	list := &payload.AddressList{Addrs: []*payload.AddressAndTime{good, noPort, noServices}}
	require.NoError(t, s.handleAddrCmd(p, list))

	assert.Equal(t, 1, s.addrman.Size())
	assert.False(t, s.addrman.IsBanned(good.Address.IPPortString()))
}

func TestGetAddrServedOnce(t *testing.T) {
	chain := newFakeChain(true)
	s := newTestServer(t, chain, newFakeMempool())

	addr := payload.NewAddressAndTime(mustTCPAddr(t, "198.51.100.9:18555"), time.Now(), payload.ServiceNetwork)
	s.addrman.Add(addr, "test")

	p, _ := newTestPeer(t, s, "203.0.113.42:18555", true)
	require.NoError(t, s.handleGetAddrCmd(p))
	p.lock.RLock()
	require.True(t, p.sentAddr)
	p.lock.RUnlock()

	// Second request is ignored.
	require.NoError(t, s.handleGetAddrCmd(p))
}

func TestHeaderSyncWalksCheckpoints(t *testing.T) {
	chain := newFakeChain(false)
	s := newTestServer(t, chain, newFakeMempool())
	s.CheckpointsEnabled = true

	p, _ := newTestPeer(t, s, "203.0.113.43:18555", true)
	p.lock.Lock()
	p.loader = true
	p.lock.Unlock()
	s.lock.Lock()
	s.peers.SetLoader(p)
	s.lock.Unlock()

	// A two-header chain from the fake tip, gated by one checkpoint
	// at height 2.
	h1 := &payload.Header{Version: 1, PrevBlock: chain.Tip(), Bits: 0x2100ffff, Nonce: 1}
	h2 := &payload.Header{Version: 1, PrevBlock: h1.Hash(), Bits: 0x2100ffff, Nonce: 2}

	s.lock.Lock()
	s.hdrChain = newHeaderChain(chain.Tip(), 0, []config.Checkpoint{
		{Height: 2, Hash: h2.Hash()},
	})
	require.NotNil(t, s.hdrChain)
	s.lock.Unlock()

	require.NoError(t, s.handleHeadersCmd(p, &payload.Headers{Hdrs: []*payload.Header{h1, h2}}))

	// Both bodies were requested from the loader.
	p.lock.RLock()
	assert.Contains(t, p.blockReqs, h1.Hash())
	assert.Contains(t, p.blockReqs, h2.Hash())
	// The final checkpoint was reached: headers no longer gate the
	// sync and a getblocks round started.
	assert.False(t, p.gbTime.IsZero())
	p.lock.RUnlock()
	s.lock.RLock()
	assert.Nil(t, s.hdrChain)
	s.lock.RUnlock()
}

func TestHeaderSyncChecksPoW(t *testing.T) {
	chain := newFakeChain(false)
	s := newTestServer(t, chain, newFakeMempool())
	s.CheckpointsEnabled = true

	p, _ := newTestPeer(t, s, "203.0.113.44:18555", true)
	p.lock.Lock()
	p.loader = true
	p.lock.Unlock()
	s.lock.Lock()
	s.peers.SetLoader(p)
	s.hdrChain = newHeaderChain(chain.Tip(), 0, []config.Checkpoint{
		{Height: 100, Hash: util.Uint256{0x01}},
	})
	s.lock.Unlock()

	// Zero bits cannot satisfy any target.
	bad := &payload.Header{Version: 1, PrevBlock: chain.Tip(), Bits: 0}
	require.NoError(t, s.handleHeadersCmd(p, &payload.Headers{Hdrs: []*payload.Header{bad}}))
	assert.Equal(t, banThreshold, p.BanScore())
}

func mustTCPAddr(t *testing.T, s string) *net.TCPAddr {
	a, err := net.ResolveTCPAddr("tcp", s)
	require.NoError(t, err)
	return a
}
