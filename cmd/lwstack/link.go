// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/h7ga40/uITron3-sub000/stack"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
	"github.com/songgao/water"
)

const (
	maxPktSize = 65536
)

var mask24 = core.NewIP4Addr(255, 255, 255, 0)

// captureWriter records raw IPv4 datagrams to a pcap file, rx and tx may run on different goroutines
type captureWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

func newCaptureWriter(path string) (*captureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(maxPktSize, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, err
	}
	return &captureWriter{f: f, w: w}, nil
}

func (o *captureWriter) Write(ts time.Time, datagram []byte) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		Length:        len(datagram),
		CaptureLength: len(datagram),
	}, datagram)
	if err != nil {
		log.Warningf("capture: %v", err)
	}
}

func (o *captureWriter) Close() {
	o.f.Close()
}

func encap(s *stack.Stack, buf []byte, src, dst core.IP4Addr, proto uint8) []byte {
	d, err := ip.Encap(buf, src, dst, proto, s.IP().DefaultTtl(), s.IP().NextId())
	if err != nil {
		log.Errorf("encap: %v", err)
		return nil
	}
	return d
}

// runSim joins two simulated stacks with an in-memory wire, the peer runs the client
func runSim(args *MainArgs, cfg *core.Config, addr, peer core.IP4Addr, capture *captureWriter) error {
	cli, err := stack.New(cfg, true)
	if err != nil {
		return err
	}
	defer cli.Close()
	srv, err := stack.New(cfg, true)
	if err != nil {
		return err
	}
	defer srv.Close()

	simTime := func(s *stack.Stack) time.Time {
		return time.Unix(0, 0).Add(time.Duration(s.NowMs()) * time.Millisecond)
	}

	var cliIf, srvIf *ip.Netif
	cliIf = cli.AddNetif("sim", peer, mask24, core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			if capture != nil {
				capture.Write(simTime(cli), encap(cli, buf, src, dst, proto))
			}
			srv.LinkInput(buf, src, dst, proto, srvIf)
		})
	srvIf = srv.AddNetif("sim", addr, mask24, core.IP4AddrAny,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			if capture != nil {
				capture.Write(simTime(srv), encap(srv, buf, src, dst, proto))
			}
			cli.LinkInput(buf, src, dst, proto, cliIf)
		})

	port := uint16(*args.port)
	echo, err := startEchoServer(srv.Tcp(), port)
	if err != nil {
		return err
	}
	client, err := startEchoClient(cli.Tcp(), addr, port, *args.count)
	if err != nil {
		return err
	}

	maxticks := cli.TimerCtx().DurationToTicks(args.duration)
	for tick := uint32(0); tick <= maxticks; tick++ {
		cli.Step()
		srv.Step()
	}

	fmt.Printf("client: sent %d messages, received %d bytes, done %v\n", client.sent, client.rx, client.done)
	fmt.Printf("server: %d connections, echoed %d bytes\n", echo.conns, echo.echoed)
	if *args.counters {
		dumpCounters("client", cli)
		dumpCounters("server", srv)
		cli.Tcp().DebugPrintPcbs()
		srv.Tcp().DebugPrintPcbs()
	}
	if client.failed != nil {
		return client.failed
	}
	if !client.done {
		return fmt.Errorf("client did not finish in %v", args.duration)
	}
	return nil
}

// runTun serves the echo port on a TUN interface until ctx is done
func runTun(ctx context.Context, args *MainArgs, cfg *core.Config, addr, peer core.IP4Addr, capture *captureWriter) error {
	config := water.Config{
		DeviceType: water.TUN,
	}
	config.Name = *args.tun
	tun, err := water.New(config)
	if err != nil {
		return fmt.Errorf("tun %s: %w", *args.tun, err)
	}
	defer tun.Close()

	s, err := stack.New(cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	netif := s.AddNetif("tun", addr, mask24, peer,
		func(netif *ip.Netif, buf []byte, src, dst core.IP4Addr, proto uint8) {
			d := encap(s, buf, src, dst, proto)
			if d == nil {
				return
			}
			capture.Write(time.Now(), d)
			if n, err := tun.Write(d); err != nil {
				log.Warningf("tun write error %v : %v", err, n)
			}
		})

	if _, err := startEchoServer(s.Tcp(), uint16(*args.port)); err != nil {
		return err
	}
	log.Infof("stack %s up on %s", addr, tun.Name())

	go func() {
		buf := make([]byte, maxPktSize)
		for {
			cnt, err := tun.Read(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warningf("tun read error %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			d := append([]byte(nil), buf[:cnt]...)
			capture.Write(time.Now(), d)
			if err := s.DatagramInput(d, netif); err != nil {
				log.Debugf("tun rx dropped: %v", err)
			}
		}
	}()

	err = s.MainLoop(ctx)
	if *args.counters {
		dumpCounters("stack", s)
	}
	if err == context.Canceled {
		return nil
	}
	return err
}
