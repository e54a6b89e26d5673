// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package ip

import (
	"encoding/binary"

	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/op/go-logging"
	"golang.org/x/net/ipv4"
)

var log = logging.MustGetLogger("ip")

const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17

	HeaderLen    = ipv4.HeaderLen
	maxHeaderLen = 60
)

// InputHandler is a transport protocol. p holds the transport header and payload, the handler owns it.
type InputHandler interface {
	Input(p *core.Pbuf, src, dst core.IP4Addr, inp *Netif)
}

type ipStats struct {
	recv      uint64
	xmit      uint64
	drop      uint64
	chkErr    uint64
	lenErr    uint64
	protoErr  uint64
	fragErr   uint64
	rteErr    uint64
	memErr    uint64
	notForUs  uint64
	linkError uint64
}

// IP the IPv4 delivery shim of one stack instance
type IP struct {
	pbufs        *core.PbufCtx
	netifs       []*Netif
	defaultNetif *Netif
	protos       map[uint8]InputHandler
	ttl          uint8
	id           uint16
	stats        ipStats
	Cdb          *core.CCounterDb
}

func NewIP(cfg *core.Config, pbufs *core.PbufCtx) *IP {
	o := new(IP)
	o.pbufs = pbufs
	o.protos = make(map[uint8]InputHandler)
	o.ttl = cfg.IpDefaultTtl
	o.Cdb = newIPCounterDb(&o.stats)
	return o
}

func newIPCounterDb(s *ipStats) *core.CCounterDb {
	db := core.NewCCounterDb("ip")
	db.Add(&core.CCounterRec{Counter: &s.recv, Name: "recv", Help: "datagrams received", Unit: "pkts", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.xmit, Name: "xmit", Help: "datagrams sent", Unit: "pkts", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.drop, Name: "drop", Help: "datagrams dropped", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.chkErr, Name: "chkErr", Help: "bad header checksum", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.lenErr, Name: "lenErr", Help: "bad length", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.protoErr, Name: "protoErr", Help: "unsupported protocol", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.fragErr, Name: "fragErr", Help: "fragments are not supported", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.rteErr, Name: "rteErr", Help: "no route", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.memErr, Name: "memErr", Help: "no pbuf for the input", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.notForUs, Name: "notForUs", Help: "destination is not local", Unit: "pkts", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.linkError, Name: "linkErr", Help: "interface has no output", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	return db
}

// AddNetif adds an interface. The first one becomes the default.
func (o *IP) AddNetif(n *Netif) {
	n.num = uint8(len(o.netifs))
	o.netifs = append(o.netifs, n)
	if o.defaultNetif == nil {
		o.defaultNetif = n
	}
	log.Debugf("add netif %s", n)
}

func (o *IP) SetDefault(n *Netif) {
	o.defaultNetif = n
}

func (o *IP) Netifs() []*Netif {
	return o.netifs
}

// Register sets the handler of a transport protocol
func (o *IP) Register(proto uint8, h InputHandler) {
	o.protos[proto] = h
}

// Route returns the interface on the network of dst, the default interface otherwise
func (o *IP) Route(dst core.IP4Addr) *Netif {
	for _, n := range o.netifs {
		if n.IsUp() && dst.NetCmp(n.Addr, n.Netmask) {
			return n
		}
	}
	if o.defaultNetif == nil || !o.defaultNetif.IsUp() {
		log.Debugf("ip_route: no route to %s", dst)
		o.stats.rteErr++
		return nil
	}
	return o.defaultNetif
}

// IsLocal true if addr is one of the interfaces or a broadcast on inp
func (o *IP) IsLocal(addr core.IP4Addr, inp *Netif) bool {
	for _, n := range o.netifs {
		if n.IsUp() && n.Addr == addr {
			return true
		}
	}
	return inp != nil && inp.IsBroadcast(addr)
}

// Deliver copies a transport payload into a new pool chain and hands it to the protocol
func (o *IP) Deliver(buf []byte, src, dst core.IP4Addr, proto uint8, inp *Netif) core.Err {
	if len(buf) > 0xffff {
		o.stats.lenErr++
		return core.ErrVal
	}
	p := o.pbufs.Alloc(core.PbufRaw, uint16(len(buf)), core.PbufPOOL)
	if p == nil {
		o.stats.memErr++
		o.stats.drop++
		return core.ErrMem
	}
	p.Take(buf)
	return o.demux(p, src, dst, proto, inp)
}

func (o *IP) demux(p *core.Pbuf, src, dst core.IP4Addr, proto uint8, inp *Netif) core.Err {
	o.stats.recv++
	h, ok := o.protos[proto]
	if !ok {
		log.Debugf("unsupported transport protocol %d", proto)
		o.stats.protoErr++
		o.stats.drop++
		p.Free()
		return core.ErrOK
	}
	h.Input(p, src, dst, inp)
	return core.ErrOK
}

// Input processes a full IPv4 datagram received on inp. The pbuf is consumed.
func (o *IP) Input(p *core.Pbuf, inp *Netif) core.Err {
	var raw [maxHeaderLen]byte
	n := p.CopyPartial(raw[:], 0)
	if n < HeaderLen {
		return o.dropLen(p, "datagram shorter than the header")
	}
	hlen := int(raw[0]&0x0f) << 2
	if int(n) < hlen || hlen < HeaderLen {
		return o.dropLen(p, "bad header length")
	}
	hdr, err := ipv4.ParseHeader(raw[:hlen])
	if err != nil {
		return o.dropLen(p, err.Error())
	}
	if hdr.Version != ipv4.Version {
		return o.dropLen(p, "not ipv4")
	}
	if core.InetChksum(raw[:hlen]) != 0 {
		log.Debugf("checksum failed 0x%04x", binary.BigEndian.Uint16(raw[10:12]))
		o.stats.chkErr++
		o.stats.drop++
		p.Free()
		return core.ErrOK
	}
	totLen := binary.BigEndian.Uint16(raw[2:4])
	if int(totLen) > int(p.TotLen) || int(totLen) < hlen {
		return o.dropLen(p, "total length")
	}
	// trim the link layer padding
	p.Realloc(totLen)

	if hdr.Flags&ipv4.MoreFragments != 0 || hdr.FragOff != 0 {
		log.Debugf("fragment dropped id:%d", hdr.ID)
		o.stats.fragErr++
		o.stats.drop++
		p.Free()
		return core.ErrOK
	}
	src := core.IP4AddrFromBytes(hdr.Src.To4())
	dst := core.IP4AddrFromBytes(hdr.Dst.To4())
	if !o.IsLocal(dst, inp) {
		o.stats.notForUs++
		o.stats.drop++
		p.Free()
		return core.ErrOK
	}
	if !p.HeaderAdjust(-hlen) {
		// header spans more than the first node
		q := p.FreeHeader(uint16(hlen))
		if q == nil {
			o.stats.lenErr++
			o.stats.drop++
			return core.ErrOK
		}
		p = q
	}
	return o.demux(p, src, dst, uint8(hdr.Protocol), inp)
}

func (o *IP) dropLen(p *core.Pbuf, why string) core.Err {
	log.Debugf("ip_input: drop, %s", why)
	o.stats.lenErr++
	o.stats.drop++
	p.Free()
	return core.ErrOK
}

// Output routes and sends a transport packet. The pbuf is not consumed.
func (o *IP) Output(p *core.Pbuf, src, dst core.IP4Addr, ttl, tos, proto uint8) core.Err {
	netif := o.Route(dst)
	if netif == nil {
		return core.ErrRte
	}
	return o.OutputIf(p, src, dst, ttl, tos, proto, netif)
}

// OutputIf sends on a given interface. src any is replaced by the interface address.
func (o *IP) OutputIf(p *core.Pbuf, src, dst core.IP4Addr, ttl, tos, proto uint8, netif *Netif) core.Err {
	if netif.Output == nil {
		o.stats.linkError++
		return core.ErrIf
	}
	if src.IsAny() {
		src = netif.Addr
	}
	if int(p.TotLen)+HeaderLen > int(netif.Mtu) && netif.Mtu != 0 {
		log.Debugf("ip_output: %d bytes bigger than mtu %d", p.TotLen, netif.Mtu)
		o.stats.lenErr++
		return core.ErrBuf
	}
	o.stats.xmit++
	netif.Output(netif, p.Bytes(), src, dst, proto)
	return core.ErrOK
}

// DefaultTtl the ttl used when the caller has no opinion
func (o *IP) DefaultTtl() uint8 {
	return o.ttl
}

// NextId returns a new identification for a datagram
func (o *IP) NextId() uint16 {
	o.id++
	return o.id
}
