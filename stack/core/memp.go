// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"fmt"
	"sync"
)

/*memp

Fixed size object pools and a byte budgeted heap.

1. Each pool holds objects of one type and has a hard capacity (MEMP_NUM_xx)
2. Freed objects are cached on a free list and reused, the memory itself is GC memory
3. A pool instance has one coarse lock. Free can be called from another goroutine
4. Alloc returns nil when the capacity is reached. This is a normal event, not an error

	pool := NewMemp[TcpSeg]("tcp_seg", 16)
	seg := pool.Alloc()        # zeroed object or nil
	pool.Free(seg)             # back to the cache
	pool.Cdb.Dump()            # dump statistic
*/

// MempStats per pool statistic
type MempStats struct {
	Avail         uint64
	Used          uint64
	Max           uint64
	Err           uint64
	CntAlloc      uint64
	CntFree       uint64
	CntCacheAlloc uint64
	CntCacheFree  uint64
}

//HitRate return the hit rate in precent
func (o *MempStats) HitRate() float32 {
	if o.CntCacheFree == 0 {
		return 0.0
	}
	return float32(o.CntCacheAlloc) * 100.0 / float32(o.CntCacheFree)
}

func newMempCdb(name string, s *MempStats) *CCounterDb {
	db := NewCCounterDb(name)
	db.Add(&CCounterRec{Counter: &s.Avail, Name: "avail", Help: "pool capacity", Unit: "objs", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.Used, Name: "used", Help: "objects in use", Unit: "objs", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.Max, Name: "max", Help: "high water mark", Unit: "objs", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.Err, Name: "err", Help: "allocation failures", Unit: "ops", DumpZero: false, Info: ScERROR})
	db.Add(&CCounterRec{Counter: &s.CntAlloc, Name: "alloc", Help: "new objects", Unit: "ops", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.CntFree, Name: "free", Help: "objects released", Unit: "ops", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.CntCacheAlloc, Name: "cacheAlloc", Help: "allocations from the cache", Unit: "ops", DumpZero: false, Info: ScINFO})
	db.Add(&CCounterRec{Counter: &s.CntCacheFree, Name: "cacheFree", Help: "objects returned to the cache", Unit: "ops", DumpZero: false, Info: ScINFO})
	return db
}

// Memp fixed capacity pool of T
type Memp[T any] struct {
	mu    sync.Mutex
	name  string
	cache []*T
	num   uint32
	stats MempStats
	Cdb   *CCounterDb

	// New creates a fresh object, new(T) when nil
	New func() *T
	// Reset prepares a cached object for reuse, zero value when nil
	Reset func(*T)
}

// NewMemp creates a pool that holds at most num objects
func NewMemp[T any](name string, num uint16) *Memp[T] {
	o := new(Memp[T])
	o.name = name
	o.num = uint32(num)
	o.cache = make([]*T, 0, num)
	o.stats.Avail = uint64(num)
	o.Cdb = newMempCdb("memp_"+name, &o.stats)
	return o
}

func (o *Memp[T]) Name() string {
	return o.name
}

// Alloc returns a zeroed object, nil when the pool is exhausted
func (o *Memp[T]) Alloc() *T {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stats.Used >= uint64(o.num) {
		o.stats.Err++
		log.Debugf("memp %s: out of memory", o.name)
		return nil
	}
	var obj *T
	if n := len(o.cache); n > 0 {
		obj = o.cache[n-1]
		o.cache[n-1] = nil
		o.cache = o.cache[:n-1]
		if o.Reset != nil {
			o.Reset(obj)
		} else {
			var zero T
			*obj = zero
		}
		o.stats.CntCacheAlloc++
	} else {
		if o.New != nil {
			obj = o.New()
		} else {
			obj = new(T)
		}
		o.stats.CntAlloc++
	}
	o.stats.Used++
	if o.stats.Used > o.stats.Max {
		o.stats.Max = o.stats.Used
	}
	return obj
}

// Free returns obj to the pool
func (o *Memp[T]) Free(obj *T) {
	if obj == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	Assert(o.stats.Used > 0, "memp %s: free of unallocated object", o.name)
	if o.stats.Used == 0 {
		return
	}
	o.stats.Used--
	o.stats.CntFree++
	if uint32(len(o.cache)) < o.num {
		o.cache = append(o.cache, obj)
		o.stats.CntCacheFree++
	}
}

// Used number of objects currently allocated
func (o *Memp[T]) Used() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return uint32(o.stats.Used)
}

// Avail the pool capacity
func (o *Memp[T]) Avail() uint32 {
	return o.num
}

// GetStats returns a snapshot of the statistics
func (o *Memp[T]) GetStats() MempStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *Memp[T]) DumpStats() {
	s := o.GetStats()
	fmt.Printf(" %-16s | %3.0f%%  %+v  \n", o.name, s.HitRate(), s)
}

// Heap a byte budget shared by the RAM pbufs. Blocks are GC memory, only the accounting is bounded.
type Heap struct {
	mu    sync.Mutex
	size  uint64
	stats MempStats
	Cdb   *CCounterDb
}

// NewHeap creates a heap of size bytes
func NewHeap(size uint32) *Heap {
	o := new(Heap)
	o.size = uint64(size)
	o.stats.Avail = uint64(size)
	o.Cdb = newMempCdb("mem_heap", &o.stats)
	return o
}

func heapAlign(n uint32) uint32 {
	return (n + 3) &^ 3
}

// Alloc returns a block of n bytes, nil when the heap budget is exhausted
func (o *Heap) Alloc(n uint32) []byte {
	sz := heapAlign(n)
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stats.Used+uint64(sz) > o.size {
		o.stats.Err++
		log.Debugf("mem heap: out of memory (%d bytes)", n)
		return nil
	}
	o.stats.Used += uint64(sz)
	o.stats.CntAlloc++
	if o.stats.Used > o.stats.Max {
		o.stats.Max = o.stats.Used
	}
	return make([]byte, n, sz)
}

// Trim shrinks a block to n bytes and releases the tail to the budget. Growing is not supported.
func (o *Heap) Trim(b []byte, n uint32) []byte {
	if n >= uint32(len(b)) {
		return b
	}
	old := uint32(cap(b))
	sz := heapAlign(n)
	if sz >= old {
		return b[:n]
	}
	o.mu.Lock()
	o.stats.Used -= uint64(old - sz)
	o.mu.Unlock()
	return b[:n:sz]
}

// Free releases a block returned by Alloc or Trim
func (o *Heap) Free(b []byte) {
	if b == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	sz := uint64(cap(b))
	Assert(o.stats.Used >= sz, "mem heap: free of %d bytes, only %d used", sz, o.stats.Used)
	if o.stats.Used < sz {
		o.stats.Used = 0
	} else {
		o.stats.Used -= sz
	}
	o.stats.CntFree++
}

// Used bytes currently allocated
func (o *Heap) Used() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return uint32(o.stats.Used)
}

func (o *Heap) GetStats() MempStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}
