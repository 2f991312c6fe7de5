package network

import (
	"sync"
	"time"

	"github.com/timgates42/mako/pkg/network/payload"
)

// AddrManager is the address book collaborator: it stores candidate
// endpoints, their quality history and bans. Persistence, bucketing and
// eviction policy live behind this interface.
type AddrManager interface {
	// Allocate picks a dial candidate. The second return is false
	// when the book is empty.
	Allocate() (payload.AddressAndTime, bool)
	// Add records an address learned from src.
	Add(addr *payload.AddressAndTime, src string)
	// Attempt marks a dial attempt to the address.
	Attempt(addr string)
	// Connected marks a completed connection.
	Connected(addr string)
	// Good marks a completed handshake.
	Good(addr string)
	// Disconnected marks the address free for dialing again.
	Disconnected(addr string)
	// Ban bans the address.
	Ban(addr string)
	// IsBanned tests the ban list.
	IsBanned(addr string) bool
	// MarkLocal records one of our own advertised endpoints.
	MarkLocal(addr string)
	// IsLocal tests whether the address is one of ours.
	IsLocal(addr string) bool
	// LastAttempt returns the time of the last dial attempt.
	LastAttempt(addr string) time.Time
	// Size returns the number of known addresses.
	Size() int
	// Addresses returns up to max known addresses for addr serving.
	Addresses(max int) []*payload.AddressAndTime
}

type knownAddress struct {
	addr        *payload.AddressAndTime
	lastAttempt time.Time
	attempts    int
	connected   bool
}

// DefaultAddrManager is the in-memory address book used when no
// external one is plugged in.
type DefaultAddrManager struct {
	lock   sync.RWMutex
	book   map[string]*knownAddress
	order  []string
	banned map[string]time.Time
	local  map[string]bool
	// next is the rotating pick cursor.
	next int
}

// NewDefaultAddrManager returns a new DefaultAddrManager.
func NewDefaultAddrManager() *DefaultAddrManager {
	return &DefaultAddrManager{
		book:   make(map[string]*knownAddress),
		banned: make(map[string]time.Time),
		local:  make(map[string]bool),
	}
}

// Allocate implements the AddrManager interface with a rotating pick
// over the insertion order.
func (d *DefaultAddrManager) Allocate() (payload.AddressAndTime, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	for i := 0; i < len(d.order); i++ {
		key := d.order[d.next%len(d.order)]
		d.next++
		if ka, ok := d.book[key]; ok && !ka.connected {
			return *ka.addr, true
		}
	}
	return payload.AddressAndTime{}, false
}

// Add implements the AddrManager interface.
func (d *DefaultAddrManager) Add(addr *payload.AddressAndTime, src string) {
	key := addr.Address.IPPortString()
	d.lock.Lock()
	defer d.lock.Unlock()
	if ka, ok := d.book[key]; ok {
		if addr.Timestamp > ka.addr.Timestamp {
			ka.addr = addr
		}
		return
	}
	d.book[key] = &knownAddress{addr: addr}
	d.order = append(d.order, key)
}

// Attempt implements the AddrManager interface.
func (d *DefaultAddrManager) Attempt(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ka, ok := d.book[addr]; ok {
		ka.lastAttempt = time.Now()
		ka.attempts++
	}
}

// Connected implements the AddrManager interface.
func (d *DefaultAddrManager) Connected(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ka, ok := d.book[addr]; ok {
		ka.connected = true
	}
}

// Good implements the AddrManager interface.
func (d *DefaultAddrManager) Good(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ka, ok := d.book[addr]; ok {
		ka.attempts = 0
	}
}

// Disconnected implements the AddrManager interface.
func (d *DefaultAddrManager) Disconnected(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ka, ok := d.book[addr]; ok {
		ka.connected = false
	}
}

// Ban implements the AddrManager interface.
func (d *DefaultAddrManager) Ban(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.banned[addr] = time.Now()
}

// IsBanned implements the AddrManager interface.
func (d *DefaultAddrManager) IsBanned(addr string) bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	_, ok := d.banned[addr]
	return ok
}

// MarkLocal implements the AddrManager interface.
func (d *DefaultAddrManager) MarkLocal(addr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.local[addr] = true
}

// IsLocal implements the AddrManager interface.
func (d *DefaultAddrManager) IsLocal(addr string) bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.local[addr]
}

// LastAttempt implements the AddrManager interface.
func (d *DefaultAddrManager) LastAttempt(addr string) time.Time {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if ka, ok := d.book[addr]; ok {
		return ka.lastAttempt
	}
	return time.Time{}
}

// Size implements the AddrManager interface.
func (d *DefaultAddrManager) Size() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.book)
}

// Addresses implements the AddrManager interface.
func (d *DefaultAddrManager) Addresses(max int) []*payload.AddressAndTime {
	d.lock.RLock()
	defer d.lock.RUnlock()
	addrs := make([]*payload.AddressAndTime, 0, max)
	for _, key := range d.order {
		if len(addrs) >= max {
			break
		}
		if ka, ok := d.book[key]; ok {
			addrs = append(addrs, ka.addr)
		}
	}
	return addrs
}
