// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"time"
)

/* timer context is the clock of a stack instance.
   In simulation mode the time moves only by HandleTicks/Advance, so runs are deterministic.
*/

/* ticks */
const (
	eTIMER_TICK     = 10 * time.Millisecond
	eTIMER_TICK_SIM = 100 * time.Millisecond
)

// Clock msec time source used by the timeout list
type Clock interface {
	NowMs() uint32
}

type TimerCtx struct {
	TickDuration time.Duration // the duration of the tick
	Ticks        uint64
	Simulation   bool
	start        time.Time
	simMs        uint64
	Cdb          *CCounterDb
}

// NewTimerCtx create a context
func NewTimerCtx(simulation bool) *TimerCtx {
	o := new(TimerCtx)
	o.Simulation = simulation
	if simulation {
		o.TickDuration = eTIMER_TICK_SIM
	} else {
		o.TickDuration = eTIMER_TICK
	}
	o.start = time.Now()
	o.Cdb = NewCCounterDb("timer")
	o.Cdb.Add(&CCounterRec{
		Counter:  &o.Ticks,
		Name:     "ticks",
		Help:     "ticks",
		Unit:     "ops",
		DumpZero: false,
		Info:     ScINFO})
	o.Cdb.Add(&CCounterRec{
		Counter:  &o.simMs,
		Name:     "simMsec",
		Help:     "simulated time",
		Unit:     "msec",
		DumpZero: false,
		Info:     ScINFO})
	return o
}

// NowMs the time in msec since the context was created. It wraps like sys_now
func (o *TimerCtx) NowMs() uint32 {
	if o.Simulation {
		return uint32(o.simMs)
	}
	return uint32(time.Since(o.start) / time.Millisecond)
}

// DurationToTicks convert to ticks
func (o *TimerCtx) DurationToTicks(duration time.Duration) uint32 {
	return uint32(duration / o.TickDuration)
}

// Advance moves the simulated clock. No-op for the real clock
func (o *TimerCtx) Advance(d time.Duration) {
	if o.Simulation {
		o.simMs += uint64(d / time.Millisecond)
	}
}

// HandleTicks should be called only by main loop
func (o *TimerCtx) HandleTicks() {
	o.Ticks++
	o.Advance(o.TickDuration)
}
