// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package stack

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
	"github.com/h7ga40/uITron3-sub000/stack/tcp"
)

var mask24 = core.NewIP4Addr(255, 255, 255, 0)

// pairTest two simulated instances on one wire
type pairTest struct {
	a, b   *Stack
	na, nb *ip.Netif
}

func newPairTest(t *testing.T) *pairTest {
	core.Debug = true
	o := &pairTest{}
	var err error
	if o.a, err = New(nil, true); err != nil {
		t.Fatalf(" new %v ", err)
	}
	if o.b, err = New(nil, true); err != nil {
		t.Fatalf(" new %v ", err)
	}
	o.na = o.a.AddNetif("en", core.NewIP4Addr(10, 0, 0, 1), mask24, core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			o.b.LinkInput(buf, src, dst, proto, o.nb)
		})
	o.nb = o.b.AddNetif("en", core.NewIP4Addr(10, 0, 0, 2), mask24, core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			o.a.LinkInput(buf, src, dst, proto, o.na)
		})
	return o
}

func (o *pairTest) run(ticks int) {
	for i := 0; i < ticks; i++ {
		o.a.Step()
		o.b.Step()
	}
}

type echoTest struct {
	got    bytes.Buffer
	closed bool
}

func (o *echoTest) accept(arg interface{}, pcb *tcp.Pcb, err core.Err) tcp.CbAction {
	pcb.Recv(o.echo)
	return tcp.CbOK
}

func (o *echoTest) echo(arg interface{}, pcb *tcp.Pcb, p *core.Pbuf, err core.Err) tcp.CbAction {
	if p == nil {
		o.closed = true
		pcb.Close()
		return tcp.CbOK
	}
	b := p.Bytes()
	o.got.Write(b)
	pcb.Write(b, tcp.WriteFlagCopy)
	pcb.Recved(p.TotLen)
	p.Free()
	return tcp.CbOK
}

func (o *echoTest) recv(arg interface{}, pcb *tcp.Pcb, p *core.Pbuf, err core.Err) tcp.CbAction {
	if p == nil {
		o.closed = true
		return tcp.CbOK
	}
	o.got.Write(p.Bytes())
	pcb.Recved(p.TotLen)
	p.Free()
	return tcp.CbOK
}

func TestStackEcho1(t *testing.T) {
	n := newPairTest(t)
	defer n.a.Close()
	defer n.b.Close()

	srv := &echoTest{}
	n.b.Callback(func() {
		pcb := n.b.Tcp().New()
		pcb.Bind(core.IP4AddrAny, 7)
		lpcb, err := pcb.Listen()
		if err != core.ErrOK {
			t.Fatalf(" listen %s ", err)
		}
		lpcb.Accept(srv.accept)
	})
	n.run(1)

	cli := &echoTest{}
	var cpcb *tcp.Pcb
	n.a.Callback(func() {
		cpcb = n.a.Tcp().New()
		cpcb.Recv(cli.recv)
		err := cpcb.Connect(n.nb.Addr, 7, func(arg interface{}, pcb *tcp.Pcb, err core.Err) tcp.CbAction {
			pcb.Write([]byte("hello"), tcp.WriteFlagCopy)
			pcb.Output()
			return tcp.CbOK
		})
		if err != core.ErrOK {
			t.Fatalf(" connect %s ", err)
		}
	})
	n.run(10)

	if srv.got.String() != "hello" {
		t.Fatalf(" server got %q ", srv.got.String())
	}
	if cli.got.String() != "hello" {
		t.Fatalf(" client got %q ", cli.got.String())
	}

	n.a.Callback(func() { cpcb.Close() })
	n.run(10)
	if !srv.closed || !cli.closed {
		t.Fatalf(" close server %v client %v ", srv.closed, cli.closed)
	}

	/* TIME-WAIT expires after 2*MSL */
	n.run(int(2*n.a.Config().TcpMsl/100) + 20)
	_, _, active, tw := n.a.Tcp().NumPcbs()
	if active != 0 || tw != 0 {
		t.Fatalf(" pcbs left active %d tw %d ", active, tw)
	}
	if n.a.Tcp().TimerActive() {
		t.Fatalf(" tcp timer still armed ")
	}
	if n.a.Pbufs().Pool().Used() != 0 || n.b.Pbufs().Pool().Used() != 0 {
		t.Fatalf(" pool leak ")
	}
	if !n.a.Tcp().PcbsSane() || !n.b.Tcp().PcbsSane() {
		t.Fatalf(" pcb lists corrupted ")
	}
}

func TestStackBadConfig1(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.TcpMss = 1
	if _, err := New(cfg, true); err == nil {
		t.Fatalf(" invalid config accepted ")
	}
}

func TestStackMboxFull1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, true)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	defer s.Close()
	calls := 0
	for i := 0; i < mboxSize; i++ {
		if err := s.Callback(func() { calls++ }); err != nil {
			t.Fatalf(" post %d %v ", i, err)
		}
	}
	if err := s.Callback(func() { calls++ }); err != ErrMboxFull {
		t.Fatalf(" expected ErrMboxFull got %v ", err)
	}
	s.Poll()
	if calls != mboxSize {
		t.Fatalf(" calls %d ", calls)
	}
	if s.stats.mboxFull != 1 || s.stats.msgCallback != uint64(mboxSize) {
		t.Fatalf(" stats %+v ", s.stats)
	}
}

func TestStackPoolEmpty1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, true)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	defer s.Close()
	var ps []*core.Pbuf
	for {
		p := s.Pbufs().Alloc(core.PbufRaw, 1, core.PbufPOOL)
		if p == nil {
			break
		}
		ps = append(ps, p)
	}
	/* a second failure is not reported again until the context handled the first */
	if s.Pbufs().Alloc(core.PbufRaw, 1, core.PbufPOOL) != nil {
		t.Fatalf(" alloc from an empty pool ")
	}
	if len(s.mbox) != 1 {
		t.Fatalf(" expected one queued message got %d ", len(s.mbox))
	}
	s.Poll()
	if s.stats.ooseqFree != 1 {
		t.Fatalf(" ooseq handler not run ")
	}
	for _, p := range ps {
		p.Free()
	}
	if s.Pbufs().Pool().Used() != 0 {
		t.Fatalf(" pool leak ")
	}
}

func TestStackDatagram1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, true)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	defer s.Close()
	var sent [][]byte
	netif := s.AddNetif("tun", core.NewIP4Addr(10, 0, 0, 2), mask24, core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			sent = append(sent, buf)
		})
	/* SYN to a closed port is answered with a RST */
	src := core.NewIP4Addr(10, 0, 0, 1)
	ipl := &layers.IPv4{SrcIP: src.NetIP(), DstIP: netif.Addr.NetIP(), Protocol: layers.IPProtocolTCP}
	th := &layers.TCP{SrcPort: 49152, DstPort: 80, Seq: 1, DataOffset: 5, SYN: true, Window: 0xff}
	th.SetNetworkLayerForChecksum(ipl)
	buf := gopacket.NewSerializeBuffer()
	if err := th.SerializeTo(buf, gopacket.SerializeOptions{ComputeChecksums: true}); err != nil {
		t.Fatalf(" serialize %v ", err)
	}
	syn := buf.Bytes()
	dgram, err := ip.Encap(syn, src, netif.Addr, ip.ProtoTCP, 64, 1)
	if err != nil {
		t.Fatalf(" encap %v ", err)
	}
	if err := s.DatagramInput(dgram, netif); err != nil {
		t.Fatalf(" post %v ", err)
	}
	s.Poll()
	if len(sent) != 1 {
		t.Fatalf(" expected a RST, sent %d ", len(sent))
	}
	if sent[0][13]&tcp.TH_RST == 0 {
		t.Fatalf(" not a RST flags %x ", sent[0][13])
	}
	js, err := s.Counters().MarshalJson(false)
	if err != nil {
		t.Fatalf(" counters %v ", err)
	}
	if !strings.Contains(string(js), "msgDatagram") {
		t.Fatalf(" counters %s ", js)
	}
}

func TestStackMainLoop1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, false)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.MainLoop(ctx)
		close(done)
	}()
	/* the callback runs on the loop goroutine */
	got := make(chan bool, 1)
	if err := s.Callback(func() {
		pcb := s.Tcp().New()
		got <- pcb != nil && pcb.State() == tcp.Closed
		pcb.Abort()
	}); err != nil {
		t.Fatalf(" post %v ", err)
	}
	select {
	case ok := <-got:
		if !ok {
			t.Fatalf(" bad pcb ")
		}
	case <-time.After(time.Second):
		t.Fatalf(" callback did not run ")
	}
	cancel()
	<-done
}

func TestStackLoopback1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, true)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	defer s.Close()
	var lo *ip.Netif
	lo = s.AddNetif("lo", core.NewIP4Addr(127, 0, 0, 1), core.NewIP4Addr(255, 0, 0, 0), core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			s.LinkInput(buf, src, dst, proto, lo)
		})

	srv := &echoTest{}
	pcb := s.Tcp().New()
	pcb.Bind(core.IP4AddrAny, 7)
	lpcb, e := pcb.Listen()
	if e != core.ErrOK {
		t.Fatalf(" listen %s ", e)
	}
	lpcb.Accept(srv.accept)

	cli := &echoTest{}
	cpcb := s.Tcp().New()
	cpcb.Recv(cli.recv)
	e = cpcb.Connect(lo.Addr, 7, func(arg interface{}, pcb *tcp.Pcb, err core.Err) tcp.CbAction {
		pcb.Write([]byte("loop"), tcp.WriteFlagCopy)
		pcb.Output()
		return tcp.CbOK
	})
	if e != core.ErrOK {
		t.Fatalf(" connect %s ", e)
	}
	s.MainLoopSim(time.Second)
	if srv.got.String() != "loop" || cli.got.String() != "loop" {
		t.Fatalf(" server %q client %q ", srv.got.String(), cli.got.String())
	}
	if s.stats.msgLink == 0 {
		t.Fatalf(" no link messages ")
	}
}

func TestStackClose1(t *testing.T) {
	core.Debug = true
	s, err := New(nil, true)
	if err != nil {
		t.Fatalf(" new %v ", err)
	}
	calls := 0
	for i := 0; i < 3; i++ {
		s.Callback(func() { calls++ })
	}
	s.Close()
	if len(s.mbox) != 0 {
		t.Fatalf(" %d messages left after close ", len(s.mbox))
	}
	s.Poll()
	if calls != 0 {
		t.Fatalf(" queued callback ran after close ")
	}
}
