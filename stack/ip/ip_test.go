// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package ip

import (
	"bytes"
	"testing"

	"github.com/h7ga40/uITron3-sub000/stack/core"
)

type protoRecTest struct {
	pkts [][]byte
	src  []core.IP4Addr
	dst  []core.IP4Addr
}

func (o *protoRecTest) Input(p *core.Pbuf, src, dst core.IP4Addr, inp *Netif) {
	o.pkts = append(o.pkts, p.Bytes())
	o.src = append(o.src, src)
	o.dst = append(o.dst, dst)
	p.Free()
}

type sinkRecTest struct {
	bufs  [][]byte
	dst   []core.IP4Addr
	src   []core.IP4Addr
	proto []uint8
}

func (o *sinkRecTest) output(netif *Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
	o.bufs = append(o.bufs, buf)
	o.src = append(o.src, src)
	o.dst = append(o.dst, dst)
	o.proto = append(o.proto, proto)
}

func newIPTest() (*IP, *core.PbufCtx, *Netif, *sinkRecTest) {
	core.Debug = true
	cfg := core.DefaultConfig()
	pbufs := core.NewPbufCtx(cfg)
	o := NewIP(cfg, pbufs)
	sink := &sinkRecTest{}
	n := NewNetif("en", core.NewIP4Addr(10, 0, 0, 1), core.NewIP4Addr(255, 255, 255, 0),
		core.NewIP4Addr(10, 0, 0, 254), sink.output)
	n.SetUp()
	o.AddNetif(n)
	return o, pbufs, n, sink
}

func TestIPDeliver1(t *testing.T) {
	o, pbufs, n, _ := newIPTest()
	rec := &protoRecTest{}
	o.Register(ProtoTCP, rec)
	data := bytes.Repeat([]byte{0xab}, 1500)
	src := core.NewIP4Addr(10, 0, 0, 2)
	if o.Deliver(data, src, n.Addr, ProtoTCP, n) != core.ErrOK {
		t.Fatalf(" deliver ")
	}
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], data) || rec.src[0] != src {
		t.Fatalf(" payload not delivered ")
	}
	// no handler, dropped and freed
	o.Deliver(data, src, n.Addr, ProtoUDP, n)
	if pbufs.Pool().Used() != 0 {
		t.Fatalf(" pool leak %d ", pbufs.Pool().Used())
	}
}

func TestIPInput1(t *testing.T) {
	o, pbufs, n, _ := newIPTest()
	rec := &protoRecTest{}
	o.Register(ProtoTCP, rec)
	payload := []byte("0123456789")
	src := core.NewIP4Addr(10, 0, 0, 2)
	dgram, err := Encap(payload, src, n.Addr, ProtoTCP, 64, 1)
	if err != nil {
		t.Fatalf(" %v ", err)
	}
	// link padding is trimmed
	dgram = append(dgram, 0, 0, 0, 0)
	p := pbufs.Alloc(core.PbufRaw, uint16(len(dgram)), core.PbufPOOL)
	p.Take(dgram)
	o.Input(p, n)
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], payload) || rec.dst[0] != n.Addr {
		t.Fatalf(" input %q ", rec.pkts)
	}

	// bad checksum
	dgram[10] ^= 0xff
	p = pbufs.Alloc(core.PbufRaw, uint16(len(dgram)), core.PbufPOOL)
	p.Take(dgram)
	o.Input(p, n)
	if len(rec.pkts) != 1 || o.stats.chkErr != 1 {
		t.Fatalf(" bad checksum accepted ")
	}

	// not for us
	dgram, _ = Encap(payload, src, core.NewIP4Addr(10, 0, 0, 9), ProtoTCP, 64, 2)
	p = pbufs.Alloc(core.PbufRaw, uint16(len(dgram)), core.PbufPOOL)
	p.Take(dgram)
	o.Input(p, n)
	if len(rec.pkts) != 1 || o.stats.notForUs != 1 {
		t.Fatalf(" foreign datagram accepted ")
	}
	if pbufs.Pool().Used() != 0 {
		t.Fatalf(" pool leak %d ", pbufs.Pool().Used())
	}
}

func TestIPOutput1(t *testing.T) {
	o, pbufs, n, sink := newIPTest()
	p := pbufs.Alloc(core.PbufRaw, 1000, core.PbufPOOL)
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 250)
	p.Take(data)
	dst := core.NewIP4Addr(8, 8, 8, 8)
	if o.Output(p, core.IP4AddrAny, dst, 64, 0, ProtoTCP) != core.ErrOK {
		t.Fatalf(" output ")
	}
	if len(sink.bufs) != 1 || !bytes.Equal(sink.bufs[0], data) || sink.src[0] != n.Addr || sink.proto[0] != ProtoTCP {
		t.Fatalf(" sink did not get the flattened chain ")
	}
	if p.RefCount() != 1 {
		t.Fatalf(" output must not consume the pbuf ")
	}
	p.Free()

	n.SetDown()
	p = pbufs.Alloc(core.PbufRaw, 10, core.PbufRAM)
	if o.Output(p, core.IP4AddrAny, dst, 64, 0, ProtoTCP) != core.ErrRte {
		t.Fatalf(" no route expected ")
	}
	p.Free()
}

func TestIPRoute1(t *testing.T) {
	o, _, n, _ := newIPTest()
	n2 := NewNetif("tun", core.NewIP4Addr(192, 168, 7, 1), core.NewIP4Addr(255, 255, 255, 0), 0, nil)
	n2.SetUp()
	o.AddNetif(n2)
	if o.Route(core.NewIP4Addr(192, 168, 7, 9)) != n2 {
		t.Fatalf(" route by netmask ")
	}
	if o.Route(core.NewIP4Addr(1, 1, 1, 1)) != n {
		t.Fatalf(" default route ")
	}
	if !n.IsBroadcast(core.NewIP4Addr(10, 0, 0, 255)) || n.IsBroadcast(core.NewIP4Addr(10, 0, 0, 7)) {
		t.Fatalf(" broadcast ")
	}
}

func TestIPDecap1(t *testing.T) {
	src := core.NewIP4Addr(1, 2, 3, 4)
	dst := core.NewIP4Addr(5, 6, 7, 8)
	dgram, err := Encap([]byte("abc"), src, dst, ProtoUDP, 33, 7)
	if err != nil {
		t.Fatalf(" %v ", err)
	}
	if core.InetChksum(dgram[:HeaderLen]) != 0 {
		t.Fatalf(" header checksum ")
	}
	s, d, proto, payload, err := Decap(dgram)
	if err != nil || s != src || d != dst || proto != ProtoUDP || string(payload) != "abc" {
		t.Fatalf(" decap %v %s %s %d %q ", err, s, d, proto, payload)
	}
}
