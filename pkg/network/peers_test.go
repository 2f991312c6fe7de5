package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerListInvariants(t *testing.T) {
	s := newTestServer(t, newFakeChain(true), newFakeMempool())
	l := newPeerList()

	out1, _ := newTestPeer(t, s, "203.0.113.1:18555", true)
	out2, _ := newTestPeer(t, s, "203.0.113.2:18555", true)
	in1, _ := newTestPeer(t, s, "203.0.113.3:45001", false)

	// The helper registered them with the server, this test drives a
	// fresh list.
	require.True(t, l.Add(out1))
	require.True(t, l.Add(out2))
	require.True(t, l.Add(in1))
	require.False(t, l.Add(out1), "double add must fail")

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 2, l.outbound)
	assert.Equal(t, 1, l.inbound)
	assert.Equal(t, l.inbound+l.outbound, l.Len())

	assert.True(t, l.Has("203.0.113.1:18555"))
	assert.Equal(t, out2, l.Get("203.0.113.2:18555"))
	assert.Equal(t, in1, l.Find(in1.ID()))

	// Insertion order is preserved.
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []*TCPPeer{out1, out2, in1}, snap)

	// Loader slot: outbound only.
	require.False(t, l.SetLoader(in1))
	require.True(t, l.SetLoader(out1))
	assert.Equal(t, out1, l.Loader())
	assert.True(t, l.Loader().Outbound())

	// Removing the loader clears the slot.
	require.True(t, l.Remove(out1))
	assert.Nil(t, l.Loader())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, l.outbound)
	require.False(t, l.Remove(out1))

	require.True(t, l.Remove(out2))
	require.True(t, l.Remove(in1))
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.inbound)
	assert.Equal(t, 0, l.outbound)
}
