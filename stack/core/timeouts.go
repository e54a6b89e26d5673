// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"context"
	"time"
)

/* one shot timeouts (sys_timeout)

   The list is sorted by fire time. Each node keeps the delay relative to the node before it,
   the head keeps the delay relative to lastTime.

     now = 1000  Timeout(100,a) Timeout(300,b) Timeout(200,c)
     lastTime=1000  a:100 -> c:100 -> b:100
*/

// TimeoutHandler is called once when the timeout expires. A handler is identified by (handler, arg),
// so the dynamic type must be comparable (a pointer).
type TimeoutHandler interface {
	OnTimeout(arg interface{})
}

type sysTimeo struct {
	next *sysTimeo
	time uint32
	h    TimeoutHandler
	arg  interface{}
}

type timeoutsStats struct {
	add    uint64
	cancel uint64
	fired  uint64
	errMem uint64
}

// Mbox the message box of the network context, see Timeouts.Fetch
type Mbox chan interface{}

// Timeouts the one shot timer list of one stack instance
type Timeouts struct {
	clock    Clock
	pool     *Memp[sysTimeo]
	next     *sysTimeo
	lastTime uint32
	inCheck  bool
	stats    timeoutsStats
	Cdb      *CCounterDb
}

// NewTimeouts creates the list. num is the capacity of the node pool (MEMP_NUM_SYS_TIMEOUT)
func NewTimeouts(clock Clock, num uint16) *Timeouts {
	o := new(Timeouts)
	o.clock = clock
	o.pool = NewMemp[sysTimeo]("sys_timeout", num)
	o.lastTime = clock.NowMs()
	o.Cdb = NewCCounterDb("timeouts")
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.add, Name: "add", Help: "timeouts added", Unit: "ops", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.cancel, Name: "cancel", Help: "timeouts canceled", Unit: "ops", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.fired, Name: "fired", Help: "timeouts fired", Unit: "ops", DumpZero: false, Info: ScINFO})
	o.Cdb.Add(&CCounterRec{Counter: &o.stats.errMem, Name: "errMem", Help: "no free timeout node", Unit: "ops", DumpZero: false, Info: ScERROR})
	return o
}

// Pool exposes the node pool, for statistics
func (o *Timeouts) Pool() *Memp[sysTimeo] {
	return o.pool
}

// Timeout schedules h.OnTimeout(arg) after msecs
func (o *Timeouts) Timeout(msecs uint32, h TimeoutHandler, arg interface{}) Err {
	Assert(h != nil, "sys_timeout: handler is nil")
	t := o.pool.Alloc()
	if t == nil {
		o.stats.errMem++
		log.Errorf("sys_timeout: no free timeout node")
		return ErrMem
	}
	o.stats.add++
	t.h = h
	t.arg = arg

	// inside a handler the delay counts from the due time of the fired timeout
	now := o.clock.NowMs()
	if o.inCheck {
		now = o.lastTime
	}
	if o.next == nil {
		o.lastTime = now
		t.time = msecs
		o.next = t
		return ErrOK
	}
	t.time = msecs + (now - o.lastTime)

	if o.next.time > t.time {
		o.next.time -= t.time
		t.next = o.next
		o.next = t
		return ErrOK
	}
	for p := o.next; p != nil; p = p.next {
		t.time -= p.time
		if p.next == nil || p.next.time > t.time {
			if p.next != nil {
				p.next.time -= t.time
			}
			t.next = p.next
			p.next = t
			break
		}
	}
	return ErrOK
}

// Untimeout cancels the first timeout that matches (h,arg). The remaining delay is moved to the next node
func (o *Timeouts) Untimeout(h TimeoutHandler, arg interface{}) {
	var prev *sysTimeo
	for t := o.next; t != nil; prev, t = t, t.next {
		if t.h == h && t.arg == arg {
			if prev == nil {
				o.next = t.next
			} else {
				prev.next = t.next
			}
			if t.next != nil {
				t.next.time += t.time
			}
			o.stats.cancel++
			o.pool.Free(t)
			return
		}
	}
}

// IsScheduled true if (h,arg) is in the list
func (o *Timeouts) IsScheduled(h TimeoutHandler, arg interface{}) bool {
	for t := o.next; t != nil; t = t.next {
		if t.h == h && t.arg == arg {
			return true
		}
	}
	return false
}

// Len number of pending timeouts
func (o *Timeouts) Len() int {
	n := 0
	for t := o.next; t != nil; t = t.next {
		n++
	}
	return n
}

// Check fires all the expired timeouts in order. Handlers may add or cancel timeouts.
func (o *Timeouts) Check() {
	now := o.clock.NowMs()
	for {
		t := o.next
		if t == nil {
			return
		}
		diff := now - o.lastTime
		if t.time > diff {
			return
		}
		o.lastTime += t.time
		o.next = t.next
		h, arg := t.h, t.arg
		o.pool.Free(t)
		o.stats.fired++
		o.inCheck = true
		h.OnTimeout(arg)
		o.inCheck = false
	}
}

// SleepTime msec until the next timeout, ok is false when the list is empty
func (o *Timeouts) SleepTime() (ms uint32, ok bool) {
	if o.next == nil {
		return 0, false
	}
	diff := o.clock.NowMs() - o.lastTime
	if o.next.time <= diff {
		return 0, true
	}
	return o.next.time - diff, true
}

// Restart rebases the list on the current time, used after the clock was stopped for a long time
func (o *Timeouts) Restart() {
	o.lastTime = o.clock.NowMs()
}

// Fetch waits for a message on mbox and handles the timeouts that expire meanwhile (sys_timeouts_mbox_fetch).
// It returns ctx.Err() when the context is done.
func (o *Timeouts) Fetch(ctx context.Context, mbox Mbox) (interface{}, error) {
	for {
		ms, ok := o.SleepTime()
		if !ok {
			select {
			case msg := <-mbox:
				return msg, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ms == 0 {
			o.Check()
			continue
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		select {
		case msg := <-mbox:
			timer.Stop()
			return msg, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			o.Check()
		}
	}
}
