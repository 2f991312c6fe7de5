package payload

import (
	"net"
	"strconv"
	"time"

	"github.com/timgates42/mako/pkg/io"
)

// MaxAddrsAllowed is the maximum number of entries an addr message may
// carry. Anything above it is a protocol violation.
const MaxAddrsAllowed = 1000

// NetAddress is the 26-byte wire form of a peer endpoint: a service
// mask, an IPv6-mapped address and a big-endian port.
type NetAddress struct {
	Services ServiceFlag
	IP       [16]byte
	Port     uint16
}

// NewNetAddress creates a NetAddress from a TCP endpoint.
func NewNetAddress(e *net.TCPAddr, services ServiceFlag) *NetAddress {
	na := NetAddress{
		Services: services,
		Port:     uint16(e.Port),
	}
	copy(na.IP[:], e.IP.To16())
	return &na
}

// DecodeBinary implements the Payload interface.
func (p *NetAddress) DecodeBinary(r *io.BinReader) {
	p.Services = ServiceFlag(r.ReadU64LE())
	r.ReadBytes(p.IP[:])
	p.Port = r.ReadU16BE()
}

// EncodeBinary implements the Payload interface.
func (p *NetAddress) EncodeBinary(w *io.BinWriter) {
	w.WriteU64LE(uint64(p.Services))
	w.WriteBytes(p.IP[:])
	w.WriteU16BE(p.Port)
}

// IPPortString makes a string from IP and port specified.
func (p *NetAddress) IPPortString() string {
	var netip net.IP = make(net.IP, 16)

	copy(netip, p.IP[:])
	port := strconv.Itoa(int(p.Port))
	return net.JoinHostPort(netip.String(), port)
}

// IsRoutable reports whether the address is usable on the public
// network: not unspecified, not loopback, with a non-zero port.
func (p *NetAddress) IsRoutable() bool {
	if p.Port == 0 {
		return false
	}
	var netip net.IP = p.IP[:]
	return !netip.IsUnspecified() && !netip.IsLoopback()
}

// IsIPv4 reports whether the address is an IPv4-mapped one.
func (p *NetAddress) IsIPv4() bool {
	var netip net.IP = p.IP[:]
	return netip.To4() != nil
}

// onionPrefix is the OnionCat translation prefix of Tor v2 endpoints.
var onionPrefix = []byte{0xfd, 0x87, 0xd8, 0x7e, 0xeb, 0x43}

// IsOnion reports whether the address is an onion-routed endpoint in
// OnionCat encoding.
func (p *NetAddress) IsOnion() bool {
	for i, b := range onionPrefix {
		if p.IP[i] != b {
			return false
		}
	}
	return true
}

// AddressAndTime is a NetAddress plus the timestamp it was last seen at,
// the form used inside addr messages.
type AddressAndTime struct {
	Timestamp uint32
	Address   NetAddress
}

// NewAddressAndTime creates a new AddressAndTime object.
func NewAddressAndTime(e *net.TCPAddr, t time.Time, services ServiceFlag) *AddressAndTime {
	return &AddressAndTime{
		Timestamp: uint32(t.UTC().Unix()),
		Address:   *NewNetAddress(e, services),
	}
}

// DecodeBinary implements the Payload interface.
func (p *AddressAndTime) DecodeBinary(r *io.BinReader) {
	p.Timestamp = r.ReadU32LE()
	p.Address.DecodeBinary(r)
}

// EncodeBinary implements the Payload interface.
func (p *AddressAndTime) EncodeBinary(w *io.BinWriter) {
	w.WriteU32LE(p.Timestamp)
	p.Address.EncodeBinary(w)
}

// AddressList is a list with AddrAndTime.
type AddressList struct {
	Addrs []*AddressAndTime
}

// NewAddressList creates a list for n AddressAndTime elements.
func NewAddressList(n int) *AddressList {
	alist := AddressList{
		Addrs: make([]*AddressAndTime, n),
	}
	return &alist
}

// DecodeBinary implements the Payload interface.
func (p *AddressList) DecodeBinary(r *io.BinReader) {
	p.Addrs = nil
	r.ReadArray(func(i int) {
		if i >= MaxAddrsAllowed {
			r.Err = ErrTooManyAddrs
			return
		}
		a := &AddressAndTime{}
		a.DecodeBinary(r)
		p.Addrs = append(p.Addrs, a)
	})
}

// EncodeBinary implements the Payload interface.
func (p *AddressList) EncodeBinary(w *io.BinWriter) {
	w.WriteVarUint(uint64(len(p.Addrs)))
	for _, addr := range p.Addrs {
		addr.EncodeBinary(w)
	}
}
