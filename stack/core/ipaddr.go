package core

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IP4Addr is an IPv4 address in host order
type IP4Addr uint32

const (
	IP4AddrAny       IP4Addr = 0
	IP4AddrBroadcast IP4Addr = 0xffffffff
)

// NewIP4Addr builds an address from its dotted octets
func NewIP4Addr(a, b, c, d uint8) IP4Addr {
	return IP4Addr(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

// IP4AddrFromBytes converts 4 network order bytes
func IP4AddrFromBytes(b []byte) IP4Addr {
	return IP4Addr(binary.BigEndian.Uint32(b))
}

// ParseIP4Addr parse dotted decimal notation
func ParseIP4Addr(s string) (IP4Addr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid ipv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("not an ipv4 address %q", s)
	}
	return IP4AddrFromBytes(ip4), nil
}

func (o IP4Addr) IsAny() bool {
	return o == IP4AddrAny
}

func (o IP4Addr) IsBroadcast() bool {
	return o == IP4AddrBroadcast
}

func (o IP4Addr) IsMulticast() bool {
	return o&0xf0000000 == 0xe0000000
}

// Octets returns the network order representation
func (o IP4Addr) Octets() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(o))
	return b
}

// NetIP converts to net.IP
func (o IP4Addr) NetIP() net.IP {
	b := o.Octets()
	return net.IPv4(b[0], b[1], b[2], b[3]).To4()
}

// NetCmp true when both addresses are on the same network
func (o IP4Addr) NetCmp(other, mask IP4Addr) bool {
	return o&mask == other&mask
}

func (o IP4Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(o>>24), byte(o>>16), byte(o>>8), byte(o))
}
