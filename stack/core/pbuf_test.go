// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"bytes"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func newTestPbufCtx(blockSize uint16, poolSize uint16) *PbufCtx {
	Debug = true
	cfg := DefaultConfig()
	cfg.PbufPoolBufSize = blockSize
	cfg.PbufPoolSize = poolSize
	return NewPbufCtx(cfg)
}

func getBufIndex(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func checkTotLen(t *testing.T, p *Pbuf) {
	for q := p; q != nil; q = q.Next {
		var next uint16
		if q.Next != nil {
			next = q.Next.TotLen
		}
		if q.TotLen != q.Len+next {
			t.Fatalf(" tot_len %d != len %d + next %d \n%s", q.TotLen, q.Len, next, spew.Sdump(q))
		}
	}
}

func TestPbufPoolChain1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	p := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	if p == nil {
		t.Fatalf(" pool alloc failed ")
	}
	expLen := []uint16{128, 128, 44}
	expTot := []uint16{300, 172, 44}
	i := 0
	for q := p; q != nil; q = q.Next {
		if i >= len(expLen) {
			t.Fatalf(" chain is longer than 3 ")
		}
		if q.Len != expLen[i] || q.TotLen != expTot[i] || q.RefCount() != 1 || q.Type() != PbufPOOL {
			t.Fatalf(" node %d len:%d tot_len:%d ref:%d ", i, q.Len, q.TotLen, q.RefCount())
		}
		i++
	}
	if p.Clen() != 3 {
		t.Fatalf(" clen %d ", p.Clen())
	}
	checkTotLen(t, p)
	if ctx.Pool().Used() != 3 {
		t.Fatalf(" pool used %d ", ctx.Pool().Used())
	}
	if n := p.Free(); n != 3 {
		t.Fatalf(" freed %d nodes ", n)
	}
	if ctx.Pool().Used() != 0 {
		t.Fatalf(" pool leak %d ", ctx.Pool().Used())
	}
}

func TestPbufPoolHeader1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	off := memAlignSize(ctx.LayerOffset(PbufTransport))
	p := ctx.Alloc(PbufTransport, 200, PbufPOOL)
	if p.Len != 128-off || p.Next.Len != 200-(128-off) {
		t.Fatalf(" bad split %d %d ", p.Len, p.Next.Len)
	}
	if !p.HeaderAdjust(int(off)) {
		t.Fatalf(" should reveal the reserved header ")
	}
	if p.HeaderAdjust(1) {
		t.Fatalf(" no room before the block ")
	}
	if p.Next.HeaderAdjust(1) {
		t.Fatalf(" continuation blocks have no header room ")
	}
	checkTotLen(t, p)
	p.Free()
}

func TestPbufPoolEmpty1(t *testing.T) {
	ctx := newTestPbufCtx(128, 2)
	calls := 0
	ctx.OnPoolEmpty = func() { calls++ }

	if p := ctx.Alloc(PbufRaw, 300, PbufPOOL); p != nil {
		t.Fatalf(" should fail, only 2 blocks ")
	}
	if ctx.Pool().Used() != 0 {
		t.Fatalf(" partial chain leaked %d ", ctx.Pool().Used())
	}
	ctx.Alloc(PbufRaw, 300, PbufPOOL)
	if calls != 1 {
		t.Fatalf(" pool empty hook called %d times ", calls)
	}
	ctx.ClearPoolEmpty()
	ctx.Alloc(PbufRaw, 300, PbufPOOL)
	if calls != 2 {
		t.Fatalf(" pool empty hook not re-armed ")
	}
}

func TestPbufRam1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	off := int(memAlignSize(ctx.LayerOffset(PbufTransport)))
	p := ctx.Alloc(PbufTransport, 100, PbufRAM)
	if p == nil || p.Next != nil || p.Len != 100 || p.TotLen != 100 {
		t.Fatalf(" bad ram pbuf %s", spew.Sdump(p))
	}
	if p.Headroom() != off {
		t.Fatalf(" headroom %d expected %d ", p.Headroom(), off)
	}
	if !p.HeaderAdjust(20) || p.Len != 120 || p.TotLen != 120 {
		t.Fatalf(" reveal failed ")
	}
	if p.HeaderAdjust(off) {
		t.Fatalf(" should fail, headroom is %d ", p.Headroom())
	}
	if p.Len != 120 {
		t.Fatalf(" failed adjust changed the pbuf ")
	}
	if p.HeaderAdjust(-121) {
		t.Fatalf(" hide more than len ")
	}
	if !p.HeaderAdjust(-40) || p.Len != 80 {
		t.Fatalf(" hide failed ")
	}
	used := ctx.Heap().Used()
	if used == 0 {
		t.Fatalf(" heap not used ")
	}
	p.Free()
	if ctx.Heap().Used() != 0 {
		t.Fatalf(" heap leak %d ", ctx.Heap().Used())
	}
}

func TestPbufRamExhausted1(t *testing.T) {
	Debug = true
	cfg := DefaultConfig()
	cfg.MemSize = 256
	ctx := NewPbufCtx(cfg)
	p := ctx.Alloc(PbufRaw, 200, PbufRAM)
	if p == nil {
		t.Fatalf(" first alloc should pass ")
	}
	if ctx.Alloc(PbufRaw, 100, PbufRAM) != nil {
		t.Fatalf(" heap should be exhausted ")
	}
	p.Free()
	q := ctx.Alloc(PbufRaw, 100, PbufRAM)
	if q == nil {
		t.Fatalf(" heap should be available again ")
	}
	q.Free()
}

func TestPbufRom1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	data := []byte("hello world")
	p := ctx.AllocRef(data, PbufROM)
	if p == nil || !bytes.Equal(p.Payload(), data) {
		t.Fatalf(" bad rom pbuf ")
	}
	if p.HeaderAdjust(1) {
		t.Fatalf(" rom pbuf can't reveal ")
	}
	if !p.HeaderAdjust(-6) || string(p.Payload()) != "world" || p.TotLen != 5 {
		t.Fatalf(" rom hide failed %q ", p.Payload())
	}
	if ctx.RefPool().Used() != 1 {
		t.Fatalf(" ref pool used %d ", ctx.RefPool().Used())
	}
	p.Free()
	if ctx.RefPool().Used() != 0 {
		t.Fatalf(" ref pool leak ")
	}
}

func TestPbufFreeNil1(t *testing.T) {
	var p *Pbuf
	if p.Free() != 0 {
		t.Fatalf(" free of nil should release nothing ")
	}
}

func TestPbufChain1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	h := ctx.Alloc(PbufRaw, 10, PbufRAM)
	tl := ctx.Alloc(PbufRaw, 20, PbufRAM)
	Chain(h, tl)
	if h.TotLen != 30 || tl.RefCount() != 2 {
		t.Fatalf(" chain tot_len:%d ref:%d ", h.TotLen, tl.RefCount())
	}
	// drop our own reference, the chain keeps the tail alive
	if n := tl.Free(); n != 0 {
		t.Fatalf(" tail released while chained ")
	}
	if h.Next != tl || tl.Len != 20 || tl.RefCount() != 1 {
		t.Fatalf(" tail is not valid ")
	}
	if n := h.Free(); n != 2 {
		t.Fatalf(" expected 2 released, got %d ", n)
	}
	if ctx.Heap().Used() != 0 {
		t.Fatalf(" heap leak ")
	}
}

func TestPbufCat1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	h := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	tl := ctx.Alloc(PbufRaw, 20, PbufRAM)
	Cat(h, tl)
	if h.TotLen != 320 || tl.RefCount() != 1 {
		t.Fatalf(" cat tot_len:%d ref:%d ", h.TotLen, tl.RefCount())
	}
	checkTotLen(t, h)
	if n := h.Free(); n != 4 {
		t.Fatalf(" expected 4 released, got %d ", n)
	}
	if ctx.Heap().Used() != 0 || ctx.Pool().Used() != 0 {
		t.Fatalf(" leak ")
	}
}

func TestPbufSharedTail1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	h := ctx.Alloc(PbufRaw, 10, PbufRAM)
	tl := ctx.Alloc(PbufRaw, 20, PbufRAM)
	Chain(h, tl)
	// freeing the head stops at the tail that is still referenced
	if n := h.Free(); n != 1 {
		t.Fatalf(" expected 1 released, got %d ", n)
	}
	if tl.RefCount() != 1 || tl.Len != 20 {
		t.Fatalf(" tail should survive ")
	}
	tl.Free()
}

func TestPbufDechain1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	h := ctx.Alloc(PbufRaw, 10, PbufRAM)
	tl := ctx.Alloc(PbufRaw, 20, PbufRAM)
	Chain(h, tl)
	q := h.Dechain()
	if q != tl || h.TotLen != 10 || h.Next != nil || q.TotLen != 20 {
		t.Fatalf(" dechain failed ")
	}
	h.Free()
	q.Free()

	h = ctx.Alloc(PbufRaw, 10, PbufRAM)
	tl = ctx.Alloc(PbufRaw, 20, PbufRAM)
	Cat(h, tl)
	if q = h.Dechain(); q != nil {
		t.Fatalf(" the tail was only referenced by the chain ")
	}
	h.Free()
	if ctx.Heap().Used() != 0 {
		t.Fatalf(" heap leak ")
	}
}

func TestPbufRealloc1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	p := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	p.Realloc(150)
	if p.Clen() != 2 || p.TotLen != 150 || p.Next.Len != 22 || p.Next.TotLen != 22 {
		t.Fatalf(" realloc %s", spew.Sdump(p.Len, p.TotLen, p.Clen()))
	}
	checkTotLen(t, p)
	if ctx.Pool().Used() != 2 {
		t.Fatalf(" tail block not freed ")
	}
	p.Realloc(400)
	if p.TotLen != 150 {
		t.Fatalf(" realloc must not grow ")
	}
	p.Free()

	r := ctx.Alloc(PbufRaw, 1000, PbufRAM)
	before := ctx.Heap().Used()
	r.Realloc(100)
	if r.Len != 100 || ctx.Heap().Used() >= before {
		t.Fatalf(" ram realloc did not trim %d %d ", before, ctx.Heap().Used())
	}
	r.Free()
	if ctx.Heap().Used() != 0 {
		t.Fatalf(" heap leak %d ", ctx.Heap().Used())
	}
}

func TestPbufCopy1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	data := getBufIndex(300)
	src := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	if src.Take(data) != ErrOK {
		t.Fatalf(" take failed ")
	}
	dst := ctx.Alloc(PbufRaw, 310, PbufRAM)
	if PbufCopy(dst, src) != ErrOK {
		t.Fatalf(" copy failed ")
	}
	if dst.Memcmp(0, data) != 0 {
		t.Fatalf(" copied data differs ")
	}
	out := make([]byte, 50)
	if n := src.CopyPartial(out, 120); n != 50 || !bytes.Equal(out, data[120:170]) {
		t.Fatalf(" copy partial across nodes failed ")
	}
	small := ctx.Alloc(PbufRaw, 10, PbufRAM)
	if PbufCopy(small, src) != ErrArg {
		t.Fatalf(" target too small ")
	}
	if src.Take(getBufIndex(301)) == ErrOK {
		t.Fatalf(" take bigger than the packet ")
	}
	src.Free()
	dst.Free()
	small.Free()
}

func TestPbufCopyQueue1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	p1 := ctx.Alloc(PbufRaw, 10, PbufRAM)
	p2 := ctx.Alloc(PbufRaw, 10, PbufRAM)
	// a queue, the second packet is not part of the tot_len of the first
	p1.Next = p2
	dst := ctx.Alloc(PbufRaw, 30, PbufRAM)
	if PbufCopy(dst, p1) != ErrVal {
		t.Fatalf(" copy of a packet queue must fail ")
	}
	p1.Free()
	dst.Free()
}

func TestPbufSearch1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	msg := []byte("GET /index.html HTTP/1.1\r\nHost: lwip\r\n\r\n")
	p := ctx.Alloc(PbufRaw, uint16(len(msg)), PbufPOOL)
	p.Take(msg)
	if p.GetAt(4) != '/' {
		t.Fatalf(" get_at ")
	}
	if p.GetAt(1000) != 0 {
		t.Fatalf(" get_at out of range ")
	}
	if p.Memcmp(0, []byte("GET")) != 0 {
		t.Fatalf(" memcmp ")
	}
	if p.Memcmp(0, []byte("GEX")) != 3 {
		t.Fatalf(" memcmp should report the first difference ")
	}
	if p.Memcmp(1000, []byte("G")) != PbufSearchNotFound {
		t.Fatalf(" memcmp out of range ")
	}
	if i := p.Strstr("Host"); i != 26 {
		t.Fatalf(" strstr %d ", i)
	}
	if p.Strstr("lwip2") != PbufSearchNotFound {
		t.Fatalf(" strstr should not find ")
	}
	if p.Strstr("") != PbufSearchNotFound {
		t.Fatalf(" empty strstr ")
	}
	if i := p.Memfind([]byte("\r\n"), 25); i != 36 {
		t.Fatalf(" memfind from offset %d ", i)
	}
	p.Free()
}

func TestPbufSearchChain1(t *testing.T) {
	ctx := newTestPbufCtx(64, 16)
	data := bytes.Repeat([]byte("a"), 200)
	copy(data[62:], "needle")
	p := ctx.Alloc(PbufRaw, 200, PbufPOOL)
	p.Take(data)
	if p.Clen() < 2 {
		t.Fatalf(" expected a chain ")
	}
	if i := p.Strstr("needle"); i != 62 {
		t.Fatalf(" needle across nodes at %d ", i)
	}
	if i := p.Strstr("aaneedle"); i != 60 {
		t.Fatalf(" overlapping prefix at %d ", i)
	}
	p.Free()
}

func TestPbufCustom1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	freed := 0
	buf := make([]byte, 200)
	p := ctx.AllocCustom(PbufRaw, 100, PbufRAM, buf, func(p *Pbuf) { freed++ })
	if p == nil || p.Flags&PbufFlagIsCustom == 0 {
		t.Fatalf(" custom alloc ")
	}
	p.Ref()
	p.Free()
	if freed != 0 {
		t.Fatalf(" freed with a reference left ")
	}
	p.Free()
	if freed != 1 {
		t.Fatalf(" custom free hook not called ")
	}
	if ctx.AllocCustom(PbufTransport, 190, PbufRAM, buf, nil) != nil {
		t.Fatalf(" buffer too small for the header ")
	}
}

func TestPbufFreeHeader1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	data := getBufIndex(300)
	p := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	p.Take(data)
	q := p.FreeHeader(130)
	if q.TotLen != 170 || q.Clen() != 2 || q.GetAt(0) != data[130] {
		t.Fatalf(" free header %d %d ", q.TotLen, q.Clen())
	}
	if ctx.Pool().Used() != 2 {
		t.Fatalf(" first block not freed ")
	}
	q.Free()
}

func TestPbufCoalesce1(t *testing.T) {
	ctx := newTestPbufCtx(128, 16)
	data := getBufIndex(300)
	p := ctx.Alloc(PbufRaw, 300, PbufPOOL)
	p.Take(data)
	q := p.Coalesce(PbufRaw)
	if q.Next != nil || q.Type() != PbufRAM || !bytes.Equal(q.Payload(), data) {
		t.Fatalf(" coalesce ")
	}
	if ctx.Pool().Used() != 0 {
		t.Fatalf(" source chain not freed ")
	}
	if !bytes.Equal(q.Bytes(), data) {
		t.Fatalf(" bytes ")
	}
	q.Free()
}

func TestPbufConcurrentFree1(t *testing.T) {
	ctx := newTestPbufCtx(128, 40)
	ps := make([]*Pbuf, 40)
	for i := range ps {
		if ps[i] = ctx.Alloc(PbufRaw, 64, PbufPOOL); ps[i] == nil {
			t.Fatalf(" alloc %d failed ", i)
		}
	}
	/* released from other goroutines, as a driver does with tx buffers */
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(ps []*Pbuf) {
			defer wg.Done()
			for _, p := range ps {
				p.Free()
			}
		}(ps[g*20 : (g+1)*20])
	}
	wg.Wait()
	if ctx.Pool().Used() != 0 {
		t.Fatalf(" used %d ", ctx.Pool().Used())
	}
	if ctx.stats.free != 40 || ctx.stats.allocPool != 40 {
		t.Fatalf(" stats %+v ", ctx.stats)
	}
}

func TestPbufConcurrentPoolEmpty1(t *testing.T) {
	ctx := newTestPbufCtx(128, 1)
	p := ctx.Alloc(PbufRaw, 64, PbufPOOL)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ctx.poolIsEmpty()
			}
		}()
	}
	wg.Wait()
	if ctx.stats.poolEmpty != 40 {
		t.Fatalf(" poolEmpty %d ", ctx.stats.poolEmpty)
	}
	p.Free()
}
