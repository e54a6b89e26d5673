// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"testing"
	"time"
)

func TestTimerCtxSim1(t *testing.T) {
	Debug = true
	o := NewTimerCtx(true)
	if o.NowMs() != 0 {
		t.Fatalf(" sim clock starts at %d ", o.NowMs())
	}
	for i := 0; i < 25; i++ {
		o.HandleTicks()
	}
	if o.Ticks != 25 || o.NowMs() != 2500 {
		t.Fatalf(" ticks %d now %d ", o.Ticks, o.NowMs())
	}
	o.Advance(750 * time.Millisecond)
	if o.NowMs() != 3250 {
		t.Fatalf(" advance now %d ", o.NowMs())
	}
	if o.DurationToTicks(time.Second) != 10 {
		t.Fatalf(" ticks in a second %d ", o.DurationToTicks(time.Second))
	}
}

func TestTimerCtxReal1(t *testing.T) {
	Debug = true
	o := NewTimerCtx(false)
	/* the real clock ignores the simulated advance */
	o.Advance(time.Hour)
	o.HandleTicks()
	if o.NowMs() > 1000 {
		t.Fatalf(" real clock moved by advance %d ", o.NowMs())
	}
	if o.Ticks != 1 {
		t.Fatalf(" ticks %d ", o.Ticks)
	}
	if o.DurationToTicks(time.Second) != 100 {
		t.Fatalf(" ticks in a second %d ", o.DurationToTicks(time.Second))
	}
}
