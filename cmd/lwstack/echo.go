// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package main

import (
	"fmt"

	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/tcp"
)

// echoServer writes back everything it receives
type echoServer struct {
	lpcb   *tcp.ListenPcb
	conns  int
	echoed int
}

func startEchoServer(ctx *tcp.TcpCtx, port uint16) (*echoServer, error) {
	o := &echoServer{}
	pcb := ctx.New()
	if pcb == nil {
		return nil, fmt.Errorf("no free pcb")
	}
	if err := pcb.Bind(core.IP4AddrAny, port); err != core.ErrOK {
		pcb.Abort()
		return nil, fmt.Errorf("bind port %d: %s", port, err)
	}
	lpcb, err := pcb.Listen()
	if err != core.ErrOK {
		pcb.Abort()
		return nil, fmt.Errorf("listen: %s", err)
	}
	o.lpcb = lpcb
	lpcb.Arg(o)
	lpcb.Accept(o.accept)
	log.Infof("echo server on port %d", port)
	return o, nil
}

func (o *echoServer) accept(arg interface{}, pcb *tcp.Pcb, err core.Err) tcp.CbAction {
	o.conns++
	log.Infof("echo: accepted %s", pcb)
	pcb.Arg(o)
	pcb.Recv(o.recv)
	pcb.Err(func(arg interface{}, err core.Err) {
		log.Warningf("echo: connection error %s", err)
	})
	return tcp.CbOK
}

func (o *echoServer) recv(arg interface{}, pcb *tcp.Pcb, p *core.Pbuf, err core.Err) tcp.CbAction {
	if p == nil {
		log.Infof("echo: peer closed %s", pcb)
		pcb.Close()
		return tcp.CbOK
	}
	data := p.Bytes()
	if int(pcb.Sndbuf()) < len(data) {
		/* keep it, tcp offers it again from the fast timer */
		return tcp.CbRefuse
	}
	if e := pcb.Write(data, tcp.WriteFlagCopy); e != core.ErrOK {
		log.Warningf("echo: write %s", e)
		return tcp.CbRefuse
	}
	o.echoed += len(data)
	pcb.Recved(p.TotLen)
	p.Free()
	return tcp.CbOK
}

// echoClient sends count messages one at a time and waits for each echo
type echoClient struct {
	pcb     *tcp.Pcb
	count   int
	sent    int
	pending int
	rx      int
	done    bool
	failed  error
}

func startEchoClient(ctx *tcp.TcpCtx, dst core.IP4Addr, port uint16, count int) (*echoClient, error) {
	o := &echoClient{count: count}
	pcb := ctx.New()
	if pcb == nil {
		return nil, fmt.Errorf("no free pcb")
	}
	o.pcb = pcb
	pcb.Arg(o)
	pcb.Recv(o.recv)
	pcb.Err(o.err)
	if err := pcb.Connect(dst, port, o.connected); err != core.ErrOK {
		pcb.Abort()
		return nil, fmt.Errorf("connect %s:%d: %s", dst, port, err)
	}
	return o, nil
}

func (o *echoClient) next(pcb *tcp.Pcb) {
	msg := []byte(fmt.Sprintf("echo message %d\n", o.sent))
	if e := pcb.Write(msg, tcp.WriteFlagCopy); e != core.ErrOK {
		log.Warningf("client: write %s", e)
		return
	}
	o.sent++
	o.pending = len(msg)
	pcb.Output()
}

func (o *echoClient) connected(arg interface{}, pcb *tcp.Pcb, err core.Err) tcp.CbAction {
	log.Infof("client: connected %s", pcb)
	if o.count > 0 {
		o.next(pcb)
	}
	return tcp.CbOK
}

func (o *echoClient) recv(arg interface{}, pcb *tcp.Pcb, p *core.Pbuf, err core.Err) tcp.CbAction {
	if p == nil {
		o.done = true
		return tcp.CbOK
	}
	n := int(p.TotLen)
	o.rx += n
	o.pending -= n
	pcb.Recved(p.TotLen)
	p.Free()
	if o.pending > 0 {
		return tcp.CbOK
	}
	if o.sent < o.count {
		o.next(pcb)
	} else if pcb.Close() != core.ErrOK {
		pcb.Abort()
		o.done = true
		return tcp.CbAbort
	}
	return tcp.CbOK
}

func (o *echoClient) err(arg interface{}, err core.Err) {
	o.failed = fmt.Errorf("connection failed: %s", err)
	o.pcb = nil
	o.done = true
}
