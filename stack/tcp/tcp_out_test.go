// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/pmezard/go-difflib/difflib"
)

func hexDiff(exp, got []byte) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(hex.Dump(exp)),
		B:        difflib.SplitLines(hex.Dump(got)),
		FromFile: "expected",
		ToFile:   "got",
		Context:  2,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}

func TestTcpHeader1(t *testing.T) {
	core.Debug = true
	cfg := core.DefaultConfig()
	pbufs := core.NewPbufCtx(cfg)
	src := core.NewIP4Addr(192, 168, 1, 1)
	dst := core.NewIP4Addr(192, 168, 1, 2)

	p := pbufs.Alloc(core.PbufIP, TCP_HLEN+4, core.PbufRAM)
	h := &tcpHdr{
		src:    49152,
		dest:   80,
		seqno:  0x01020304,
		ackno:  0xa0b0c0d0,
		hdrlen: 6,
		flags:  TH_SYN | TH_ACK,
		wnd:    2144,
	}
	putHeader(p, h, 1460)
	putChksum(p, src, dst)
	got := p.Bytes()
	p.Free()

	/* the same header serialized by gopacket with its own checksum */
	ipl := &layers.IPv4{SrcIP: src.NetIP(), DstIP: dst.NetIP(), Protocol: layers.IPProtocolTCP}
	th := &layers.TCP{
		SrcPort:    49152,
		DstPort:    80,
		Seq:        0x01020304,
		Ack:        0xa0b0c0d0,
		DataOffset: 6,
		SYN:        true,
		ACK:        true,
		Window:     2144,
		Options: []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{0x05, 0xb4},
		}},
	}
	th.SetNetworkLayerForChecksum(ipl)
	buf := gopacket.NewSerializeBuffer()
	if err := th.SerializeTo(buf, gopacket.SerializeOptions{ComputeChecksums: true}); err != nil {
		t.Fatalf(" serialize %v ", err)
	}
	exp := buf.Bytes()
	if !bytes.Equal(exp, got) {
		t.Fatalf(" header mismatch \n%s", hexDiff(exp, got))
	}

	/* the parser reads it back */
	q := pbufs.Alloc(core.PbufRaw, uint16(len(got)), core.PbufPOOL)
	q.Take(got)
	if core.InetChksumPseudo(q, src, dst, 6, q.TotLen) != 0 {
		t.Fatalf(" checksum does not verify ")
	}
	rh, opts, err := parseHeader(q)
	q.Free()
	if err != nil || rh != *h {
		t.Fatalf(" parsed %+v expected %+v ", rh, *h)
	}
	if len(opts) != 1 || opts[0].OptionType != layers.TCPOptionKindMSS {
		t.Fatalf(" options %+v ", opts)
	}
	if pbufs.Pool().Used() != 0 {
		t.Fatalf(" pool leak ")
	}
}

func TestTcpHeaderBad1(t *testing.T) {
	core.Debug = true
	cfg := core.DefaultConfig()
	pbufs := core.NewPbufCtx(cfg)
	/* data offset below the minimum */
	b := make([]byte, TCP_HLEN)
	b[12] = 4 << 4
	p := pbufs.Alloc(core.PbufRaw, TCP_HLEN, core.PbufPOOL)
	p.Take(b)
	if _, _, err := parseHeader(p); err != errBadOffset {
		t.Fatalf(" short data offset, got %v ", err)
	}
	/* data offset past the end */
	b[12] = 15 << 4
	p.Take(b)
	if _, _, err := parseHeader(p); err != errBadOffset {
		t.Fatalf(" long data offset, got %v ", err)
	}
	p.Free()
	/* option length below 2 */
	b = append(b, byte(layers.TCPOptionKindMSS), 1, 0, 0)
	b[12] = 6 << 4
	p = pbufs.Alloc(core.PbufRaw, uint16(len(b)), core.PbufPOOL)
	p.Take(b)
	if _, _, err := parseHeader(p); err != errBadOptions {
		t.Fatalf(" bad option length, got %v ", err)
	}
	p.Free()
}
