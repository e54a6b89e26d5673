package core

import (
	"encoding/binary"
	"testing"
)

func TestChksumZero1(t *testing.T) {
	for _, n := range []int{0, 2, 20, 1500} {
		if c := Chksum(make([]byte, n)); c != 0 {
			t.Fatalf(" sum of %d zero bytes is %04x ", n, c)
		}
	}
}

func TestChksumOdd1(t *testing.T) {
	// the trailing byte is the high byte of a padded word
	if c := Chksum([]byte{0x01, 0x02, 0x03}); c != 0x0402 {
		t.Fatalf(" odd sum %04x ", c)
	}
	// end around carry
	if c := Chksum([]byte{0xff, 0xff, 0x00, 0x01}); c != 0x0001 {
		t.Fatalf(" carry %04x ", c)
	}
}

func TestChksumSelfCheck1(t *testing.T) {
	// ipv4 header 192.168.0.1 -> 192.168.0.199, the example of RFC 1071 style tests
	hdr := []byte{0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00, 0x40, 0x11, 0x00, 0x00,
		0xc0, 0xa8, 0x00, 0x01, 0xc0, 0xa8, 0x00, 0xc7}
	c := InetChksum(hdr)
	if c != 0xb861 {
		t.Fatalf(" header checksum %04x expected b861 ", c)
	}
	binary.BigEndian.PutUint16(hdr[10:], c)
	if InetChksum(hdr) != 0 {
		t.Fatalf(" checksum does not validate ")
	}
}

func TestChksumPbufSplit1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	data := getBufIndex(101)
	flat := ctx.Alloc(PbufRaw, 101, PbufRAM)
	flat.Take(data)

	// 33 + 68, the first node is odd
	a := ctx.Alloc(PbufRaw, 33, PbufRAM)
	a.Take(data[:33])
	b := ctx.Alloc(PbufRaw, 68, PbufRAM)
	b.Take(data[33:])
	Cat(a, b)

	if InetChksumPbuf(flat) != InetChksumPbuf(a) || InetChksumPbuf(a) != InetChksum(data) {
		t.Fatalf(" odd split changes the sum %04x %04x ", InetChksumPbuf(flat), InetChksumPbuf(a))
	}
	src := NewIP4Addr(10, 0, 0, 1)
	dst := NewIP4Addr(10, 0, 0, 2)
	if InetChksumPseudo(flat, src, dst, 6, 101) != InetChksumPseudo(a, src, dst, 6, 101) {
		t.Fatalf(" pseudo sum differs over a chain ")
	}
	part := InetChksumPseudoPartial(a, src, dst, 6, 101, 40)
	first := ctx.Alloc(PbufRaw, 40, PbufRAM)
	first.Take(data[:40])
	if part != InetChksumPseudoPartial(first, src, dst, 6, 101, 40) {
		t.Fatalf(" partial sum ")
	}
	flat.Free()
	a.Free()
	first.Free()
}

func TestChksumPseudoValidate1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	src := NewIP4Addr(192, 168, 1, 10)
	dst := NewIP4Addr(192, 168, 1, 20)
	seg := getBufIndex(40)
	seg[16], seg[17] = 0, 0
	p := ctx.Alloc(PbufRaw, 40, PbufRAM)
	p.Take(seg)
	c := InetChksumPseudo(p, src, dst, 6, 40)
	p.PutAt(16, byte(c>>8))
	p.PutAt(17, byte(c))
	if v := InetChksumPseudo(p, src, dst, 6, 40); v != 0 {
		t.Fatalf(" segment does not validate %04x ", v)
	}
	p.Free()
}
