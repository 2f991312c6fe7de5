package network

import (
	"container/list"
)

// peerList is the set of live peers, indexed by remote address and by
// numeric id, iterable in insertion order. It also tracks the single
// loader slot.
type peerList struct {
	byAddr map[string]*TCPPeer
	byID   map[int64]*TCPPeer
	order  *list.List

	inbound  int
	outbound int

	// load is the loader peer, nil when none is elected. It is always
	// an outbound member of the list.
	load *TCPPeer
}

func newPeerList() *peerList {
	return &peerList{
		byAddr: make(map[string]*TCPPeer),
		byID:   make(map[int64]*TCPPeer),
		order:  list.New(),
	}
}

// Add registers the peer. It returns false when the address is taken.
func (l *peerList) Add(p *TCPPeer) bool {
	addr := p.PeerAddr()
	if _, ok := l.byAddr[addr]; ok {
		return false
	}
	l.byAddr[addr] = p
	l.byID[p.ID()] = p
	p.elem = l.order.PushBack(p)
	if p.Outbound() {
		l.outbound++
	} else {
		l.inbound++
	}
	return true
}

// Remove deregisters the peer. Removing the loader clears the loader
// slot.
func (l *peerList) Remove(p *TCPPeer) bool {
	if _, ok := l.byAddr[p.PeerAddr()]; !ok {
		return false
	}
	delete(l.byAddr, p.PeerAddr())
	delete(l.byID, p.ID())
	if p.elem != nil {
		l.order.Remove(p.elem)
		p.elem = nil
	}
	if p.Outbound() {
		l.outbound--
	} else {
		l.inbound--
	}
	if l.load == p {
		l.load = nil
	}
	return true
}

// Has tests for an address.
func (l *peerList) Has(addr string) bool {
	_, ok := l.byAddr[addr]
	return ok
}

// Get returns the peer connected from/to addr.
func (l *peerList) Get(addr string) *TCPPeer {
	return l.byAddr[addr]
}

// Find returns the peer with the given id.
func (l *peerList) Find(id int64) *TCPPeer {
	return l.byID[id]
}

// Len returns the number of live peers.
func (l *peerList) Len() int {
	return len(l.byAddr)
}

// SetLoader elects the given peer. The peer must be a registered
// outbound one.
func (l *peerList) SetLoader(p *TCPPeer) bool {
	if !p.Outbound() || !l.Has(p.PeerAddr()) {
		return false
	}
	l.load = p
	return true
}

// Loader returns the elected loader, nil when none.
func (l *peerList) Loader() *TCPPeer {
	return l.load
}

// Snapshot returns the peers in insertion order. The returned slice is
// the caller's to keep.
func (l *peerList) Snapshot() []*TCPPeer {
	peers := make([]*TCPPeer, 0, l.order.Len())
	for e := l.order.Front(); e != nil; e = e.Next() {
		peers = append(peers, e.Value.(*TCPPeer))
	}
	return peers
}
