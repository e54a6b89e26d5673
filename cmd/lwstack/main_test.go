// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/h7ga40/uITron3-sub000/stack/core"
)

func simArgsTest(count int) *MainArgs {
	port := 7
	n := count
	counters := false
	return &MainArgs{port: &port, count: &n, counters: &counters, duration: 20 * time.Second}
}

func TestLwstackSim1(t *testing.T) {
	core.Debug = true
	file := filepath.Join(t.TempDir(), "sim.pcap")
	capture, err := newCaptureWriter(file)
	if err != nil {
		t.Fatalf(" capture %v ", err)
	}
	args := simArgsTest(3)
	err = runSim(args, core.DefaultConfig(), core.NewIP4Addr(10, 0, 0, 2), core.NewIP4Addr(10, 0, 0, 1), capture)
	capture.Close()
	if err != nil {
		t.Fatalf(" sim %v ", err)
	}

	f, err := os.Open(file)
	if err != nil {
		t.Fatalf(" open %v ", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf(" reader %v ", err)
	}
	if r.LinkType() != layers.LinkTypeRaw {
		t.Fatalf(" link type %v ", r.LinkType())
	}
	var syn, fin, payload int
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
		l := pkt.Layer(layers.LayerTypeTCP)
		if l == nil {
			t.Fatalf(" not a tcp datagram %v ", pkt)
		}
		th := l.(*layers.TCP)
		if th.SYN {
			syn++
		}
		if th.FIN {
			fin++
		}
		payload += len(th.Payload)
	}
	/* SYN and SYN|ACK, a FIN each way */
	if syn != 2 || fin != 2 {
		t.Fatalf(" syn %d fin %d ", syn, fin)
	}
	/* every message goes both ways */
	want := 0
	for i := 0; i < 3; i++ {
		want += 2 * len("echo message 0\n")
	}
	if payload != want {
		t.Fatalf(" payload %d expected %d ", payload, want)
	}
}
