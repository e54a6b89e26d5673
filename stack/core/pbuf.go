// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"encoding/hex"
	"fmt"
	"sync"
)

/*pbuf

Packet buffers, the lwIP way.

A packet is a singly linked chain of pbufs. TotLen of a node is the length of the node and all the
nodes that follow it in the same packet. A chain can continue into the next packet of a queue, the
end of a packet is where TotLen == Len.

	POOL  fixed size blocks from the pbuf pool, a long packet is a chain of blocks
	RAM   one block from the heap, payload and header room in one piece
	ROM   payload is external memory that never changes, only the pbuf is allocated
	REF   payload is external memory that may change, only the pbuf is allocated

	ctx := NewPbufCtx(cfg)
	p := ctx.Alloc(PbufTransport, 100, PbufRAM)
	p.HeaderAdjust(20)          # reveal 20 bytes of header
	p.Free()

*/

// PbufLayer selects how much header room is reserved in front of the payload
type PbufLayer uint8

const (
	PbufTransport PbufLayer = iota
	PbufIP
	PbufLink
	PbufRaw
)

// PbufType the backing storage of a pbuf
type PbufType uint8

const (
	PbufRAM PbufType = iota
	PbufROM
	PbufREF
	PbufPOOL
)

func (o PbufType) String() string {
	switch o {
	case PbufRAM:
		return "RAM"
	case PbufROM:
		return "ROM"
	case PbufREF:
		return "REF"
	case PbufPOOL:
		return "POOL"
	}
	return "unknown"
}

const (
	PbufFlagPush      uint8 = 0x01 /* push to the application on receive */
	PbufFlagIsCustom  uint8 = 0x02 /* freed through the custom free hook */
	PbufFlagMcastLoop uint8 = 0x04
	PbufFlagLLBcast   uint8 = 0x08
	PbufFlagLLMcast   uint8 = 0x10
	PbufFlagTcpFin    uint8 = 0x20 /* the packet had a FIN, used when the data is refused */
)

const (
	pbufTransportHlen = 20
	pbufIPHlen        = 20
	// PbufSearchNotFound is returned by Memfind/Strstr/Memcmp when out of range
	PbufSearchNotFound = 0xffff
)

// Pbuf one node of a packet chain
type Pbuf struct {
	Next   *Pbuf
	Len    uint16 // bytes in this node
	TotLen uint16 // bytes in this node and the rest of the packet
	Flags  uint8

	buf        []byte // backing storage
	off        int    // payload offset inside buf
	typ        PbufType
	ref        uint16
	ctx        *PbufCtx
	customFree func(p *Pbuf)
}

type pbufStats struct {
	allocPool uint64
	allocRam  uint64
	allocRef  uint64
	free      uint64
	errPool   uint64
	errRam    uint64
	errRef    uint64
	poolEmpty uint64
}

// PbufCtx owns the pbuf storage of one stack instance
type PbufCtx struct {
	mu        sync.Mutex // protects ref counts, free and poolEmpty counters
	pool      *Memp[Pbuf]
	refPool   *Memp[Pbuf]
	heap      *Heap
	linkHlen  uint16
	blockSize uint16

	// OnPoolEmpty is called once when the pool runs out, until ClearPoolEmpty is called
	OnPoolEmpty  func()
	emptyPending bool

	stats pbufStats
	Cdb   *CCounterDb
}

// NewPbufCtx creates the pbuf pools and heap described by cfg
func NewPbufCtx(cfg *Config) *PbufCtx {
	o := new(PbufCtx)
	o.linkHlen = cfg.PbufLinkHlen + cfg.PbufLinkEncapsulHlen
	o.blockSize = memAlignSize(cfg.PbufPoolBufSize)
	blockSize := int(o.blockSize)
	o.pool = NewMemp[Pbuf]("pbuf_pool", cfg.PbufPoolSize)
	o.pool.New = func() *Pbuf {
		return &Pbuf{buf: make([]byte, blockSize)}
	}
	o.pool.Reset = func(p *Pbuf) {
		buf := p.buf
		*p = Pbuf{}
		p.buf = buf
	}
	o.refPool = NewMemp[Pbuf]("pbuf", cfg.MempNumPbuf)
	o.heap = NewHeap(cfg.MemSize)

	o.Cdb = NewCCounterDb("pbuf")
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.allocPool, Name: "allocPool", Help: "pool pbufs allocated", Unit: "pkts", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.allocRam, Name: "allocRam", Help: "ram pbufs allocated", Unit: "pkts", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.allocRef, Name: "allocRef", Help: "rom/ref pbufs allocated", Unit: "pkts", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.free, Name: "free", Help: "pbufs released", Unit: "pkts", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.errPool, Name: "errPool", Help: "pool exhausted", Unit: "ops", DumpZero: false, Info: ScERROR})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.errRam, Name: "errRam", Help: "heap exhausted", Unit: "ops", DumpZero: false, Info: ScERROR})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.errRef, Name: "errRef", Help: "pbuf pool exhausted", Unit: "ops", DumpZero: false, Info: ScERROR})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.poolEmpty, Name: "poolEmpty", Help: "pool empty notifications", Unit: "ops", DumpZero: false, Info: ScWARNING})
	return o
}

// Pool the POOL block pool
func (o *PbufCtx) Pool() *Memp[Pbuf] { return o.pool }

// RefPool the ROM/REF pbuf pool
func (o *PbufCtx) RefPool() *Memp[Pbuf] { return o.refPool }

func (o *PbufCtx) Heap() *Heap { return o.heap }

// BlockSize the payload capacity of one POOL block
func (o *PbufCtx) BlockSize() uint16 { return o.blockSize }

// CdbVec counters of the pbuf storage
func (o *PbufCtx) CdbVec() []*CCounterDb {
	return []*CCounterDb{o.Cdb, o.pool.Cdb, o.refPool.Cdb, o.heap.Cdb}
}

// ClearPoolEmpty re-arms the pool empty notification
func (o *PbufCtx) ClearPoolEmpty() {
	o.mu.Lock()
	o.emptyPending = false
	o.mu.Unlock()
}

func (o *PbufCtx) poolIsEmpty() {
	o.mu.Lock()
	queued := o.emptyPending
	o.emptyPending = true
	o.stats.poolEmpty++
	o.mu.Unlock()
	if !queued && o.OnPoolEmpty != nil {
		o.OnPoolEmpty()
	}
}

// LayerOffset the header room reserved for layer
func (o *PbufCtx) LayerOffset(layer PbufLayer) uint16 {
	switch layer {
	case PbufTransport:
		return o.linkHlen + pbufIPHlen + pbufTransportHlen
	case PbufIP:
		return o.linkHlen + pbufIPHlen
	case PbufLink:
		return o.linkHlen
	case PbufRaw:
		return 0
	}
	Assert(false, "pbuf_alloc: bad pbuf layer %d", layer)
	return 0
}

// Alloc allocates a packet of length bytes. It returns nil when the memory is exhausted.
func (o *PbufCtx) Alloc(layer PbufLayer, length uint16, typ PbufType) *Pbuf {
	offset := memAlignSize(o.LayerOffset(layer))

	switch typ {
	case PbufPOOL:
		if offset >= o.blockSize {
			Assert(false, "pbuf_alloc: pool block %d too small for header %d", o.blockSize, offset)
			return nil
		}
		p := o.pool.Alloc()
		if p == nil {
			o.stats.errPool++
			o.poolIsEmpty()
			return nil
		}
		p.typ = PbufPOOL
		p.ctx = o
		p.off = int(offset)
		p.TotLen = length
		p.Len = minU16(length, o.blockSize-offset)
		p.ref = 1
		o.stats.allocPool++

		r := p
		remLen := int(length) - int(p.Len)
		for remLen > 0 {
			q := o.pool.Alloc()
			if q == nil {
				o.stats.errPool++
				o.poolIsEmpty()
				p.Free()
				return nil
			}
			q.typ = PbufPOOL
			q.ctx = o
			q.off = 0
			q.TotLen = uint16(remLen)
			q.Len = minU16(uint16(remLen), o.blockSize)
			q.ref = 1
			o.stats.allocPool++
			r.Next = q
			remLen -= int(q.Len)
			r = q
		}
		return p

	case PbufRAM:
		buf := o.heap.Alloc(uint32(offset) + uint32(length))
		if buf == nil {
			o.stats.errRam++
			return nil
		}
		p := &Pbuf{buf: buf, off: int(offset), Len: length, TotLen: length, typ: PbufRAM, ref: 1, ctx: o}
		o.stats.allocRam++
		return p

	case PbufROM, PbufREF:
		p := o.refPool.Alloc()
		if p == nil {
			o.stats.errRef++
			log.Debugf("pbuf_alloc: could not allocate %s pbuf", typ)
			return nil
		}
		p.typ = typ
		p.ctx = o
		p.Len = length
		p.TotLen = length
		p.ref = 1
		o.stats.allocRef++
		return p
	}
	Assert(false, "pbuf_alloc: erroneous type %d", typ)
	return nil
}

// AllocRef allocates a ROM/REF pbuf that points to data
func (o *PbufCtx) AllocRef(data []byte, typ PbufType) *Pbuf {
	Assert(typ == PbufROM || typ == PbufREF, "pbuf_alloc_ref: bad type %s", typ)
	if len(data) > 0xffff {
		return nil
	}
	p := o.Alloc(PbufRaw, uint16(len(data)), typ)
	if p != nil {
		p.SetPayload(data)
	}
	return p
}

// AllocCustom initializes a pbuf over a caller owned buffer. free is called instead of returning
// the memory to a pool. buf must have room for the layer header plus length.
func (o *PbufCtx) AllocCustom(layer PbufLayer, length uint16, typ PbufType, buf []byte, free func(p *Pbuf)) *Pbuf {
	offset := int(memAlignSize(o.LayerOffset(layer)))
	if offset+int(length) > len(buf) {
		log.Warningf("pbuf_alloced_custom: buffer too small, %d < %d", len(buf), offset+int(length))
		return nil
	}
	return &Pbuf{buf: buf, off: offset, Len: length, TotLen: length, typ: typ, ref: 1, ctx: o,
		Flags: PbufFlagIsCustom, customFree: free}
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

// Type the backing storage type
func (p *Pbuf) Type() PbufType { return p.typ }

// RefCount current number of references
func (p *Pbuf) RefCount() uint16 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.ref
}

// Payload the bytes of this node
func (p *Pbuf) Payload() []byte {
	if p.buf == nil {
		return nil
	}
	return p.buf[p.off : p.off+int(p.Len)]
}

// Headroom bytes that HeaderAdjust can still reveal
func (p *Pbuf) Headroom() int {
	if p.typ == PbufROM || p.typ == PbufREF {
		return 0
	}
	return p.off
}

// SetPayload points a ROM/REF pbuf to external memory, Len is not changed
func (p *Pbuf) SetPayload(data []byte) {
	Assert(p.typ == PbufROM || p.typ == PbufREF, "pbuf_set_payload: %s pbuf", p.typ)
	Assert(len(data) >= int(p.Len), "pbuf_set_payload: %d bytes for len %d", len(data), p.Len)
	p.buf = data
	p.off = 0
}

// IsPacketEnd true if this node is the last node of its packet
func (p *Pbuf) IsPacketEnd() bool {
	return p.TotLen == p.Len
}

// HeaderAdjust moves the payload. delta > 0 reveals header room, delta < 0 hides it.
// It returns false and leaves p unchanged when the move is not possible.
func (p *Pbuf) HeaderAdjust(delta int) bool {
	if delta == 0 || p == nil {
		return true
	}
	if delta < 0 {
		if -delta > int(p.Len) {
			log.Debugf("pbuf_header: hide %d bytes of %d", -delta, p.Len)
			return false
		}
	}
	switch p.typ {
	case PbufRAM, PbufPOOL:
		if p.off-delta < 0 {
			log.Debugf("pbuf_header: failed to reveal %d bytes, headroom %d", delta, p.off)
			return false
		}
		p.off -= delta
	case PbufROM, PbufREF:
		if delta > 0 {
			return false
		}
		p.off -= delta
	default:
		Assert(false, "pbuf_header: bad pbuf type %d", p.typ)
		return false
	}
	p.Len = uint16(int(p.Len) + delta)
	p.TotLen = uint16(int(p.TotLen) + delta)
	return true
}

// Free drops one reference of p, releasing every node whose count reaches zero.
// It returns the number of nodes released.
func (p *Pbuf) Free() int {
	if p == nil {
		log.Debugf("pbuf_free(p == NULL) was called")
		return 0
	}
	count := 0
	for p != nil {
		ctx := p.ctx
		ctx.mu.Lock()
		Assert(p.ref > 0, "pbuf_free: ref count of %p is zero", p)
		if p.ref > 0 {
			p.ref--
		}
		ref := p.ref
		if ref == 0 {
			ctx.stats.free++
		}
		ctx.mu.Unlock()
		if ref != 0 {
			break
		}
		q := p.Next
		p.release()
		count++
		p = q
	}
	return count
}

func (p *Pbuf) release() {
	ctx := p.ctx
	p.Next = nil
	if p.Flags&PbufFlagIsCustom != 0 {
		if p.customFree != nil {
			p.customFree(p)
		}
		return
	}
	switch p.typ {
	case PbufPOOL:
		ctx.pool.Free(p)
	case PbufROM, PbufREF:
		p.buf = nil
		ctx.refPool.Free(p)
	case PbufRAM:
		ctx.heap.Free(p.buf)
		p.buf = nil
	}
}

// Ref adds a reference to p
func (p *Pbuf) Ref() {
	if p == nil {
		return
	}
	p.ctx.mu.Lock()
	Assert(p.ref < 0xffff, "pbuf_ref: ref count overflow")
	p.ref++
	p.ctx.mu.Unlock()
}

// Clen number of nodes in the chain
func (p *Pbuf) Clen() int {
	n := 0
	for ; p != nil; p = p.Next {
		n++
	}
	return n
}

// Realloc shrinks the packet to newLen bytes, the nodes past the new end are freed.
// Growing is not supported.
func (p *Pbuf) Realloc(newLen uint16) {
	if newLen >= p.TotLen {
		return
	}
	grow := int(newLen) - int(p.TotLen)

	remLen := newLen
	q := p
	for remLen > q.Len {
		remLen -= q.Len
		q.TotLen = uint16(int(q.TotLen) + grow)
		q = q.Next
		Assert(q != nil, "pbuf_realloc: q != NULL")
	}
	// q is the last node to keep
	if q.typ == PbufRAM && remLen != q.Len && q.Flags&PbufFlagIsCustom == 0 {
		q.buf = q.ctx.heap.Trim(q.buf, uint32(q.off)+uint32(remLen))
	}
	q.Len = remLen
	q.TotLen = remLen
	if q.Next != nil {
		q.Next.Free()
	}
	q.Next = nil
}

// Cat appends t to the chain of h. The reference of the caller to t moves into the chain.
func Cat(h, t *Pbuf) {
	if h == nil || t == nil {
		Assert(false, "pbuf_cat: h != NULL && t != NULL")
		return
	}
	p := h
	for ; p.Next != nil; p = p.Next {
		p.TotLen += t.TotLen
	}
	Assert(p.TotLen == p.Len, "pbuf_cat: last pbuf in chain has tot_len %d != len %d", p.TotLen, p.Len)
	p.TotLen += t.TotLen
	p.Next = t
}

// Chain appends t to the chain of h and takes a reference to t, the caller keeps its own.
func Chain(h, t *Pbuf) {
	Cat(h, t)
	t.Ref()
}

// Dechain splits p from the rest of the chain. The rest is returned if it is still referenced elsewhere.
func (p *Pbuf) Dechain() *Pbuf {
	q := p.Next
	if q != nil {
		Assert(q.TotLen == p.TotLen-p.Len, "pbuf_dechain: tot_len %d of tail", q.TotLen)
		q.TotLen = p.TotLen - p.Len
		p.Next = nil
		p.TotLen = p.Len
		if q.Free() > 0 {
			q = nil
		}
	}
	Assert(p.TotLen == p.Len, "pbuf_dechain: p.tot_len == p.len")
	return q
}

// FreeHeader drops size bytes from the front of the packet, freeing the nodes that become empty.
// It returns the new head.
func (p *Pbuf) FreeHeader(size uint16) *Pbuf {
	left := size
	for left > 0 && p != nil {
		if left >= p.Len {
			f := p
			left -= p.Len
			p = p.Next
			f.Next = nil
			f.TotLen = f.Len
			f.Free()
		} else {
			p.HeaderAdjust(-int(left))
			left = 0
		}
	}
	return p
}

// Dump prints the chain for debug
func (p *Pbuf) Dump() {
	for q := p; q != nil; q = q.Next {
		fmt.Printf(" pbuf %p type:%s len:%d tot_len:%d ref:%d flags:%02x off:%d\n",
			q, q.typ, q.Len, q.TotLen, q.ref, q.Flags, q.off)
		fmt.Println(hex.Dump(q.Payload()))
		if q.IsPacketEnd() {
			break
		}
	}
}
