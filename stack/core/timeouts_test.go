// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

type testClock struct {
	now uint32
}

func (o *testClock) NowMs() uint32 {
	return o.now
}

type myTimeoutTest struct {
	name  string
	fired *[]string
	tmo   *Timeouts
	again uint32
}

func (o *myTimeoutTest) OnTimeout(arg interface{}) {
	*o.fired = append(*o.fired, o.name)
	if o.again != 0 {
		o.tmo.Timeout(o.again, o, arg)
	}
}

func newTimeoutsTest(num uint16) (*Timeouts, *testClock, *[]string) {
	Debug = true
	clock := &testClock{now: 1000}
	var fired []string
	return NewTimeouts(clock, num), clock, &fired
}

func checkFired(t *testing.T, fired *[]string, exp []string) {
	if len(*fired) == 0 && len(exp) == 0 {
		return
	}
	if !reflect.DeepEqual(*fired, exp) {
		t.Fatalf(" fired %s expected %s", spew.Sdump(*fired), spew.Sdump(exp))
	}
}

func TestTimeouts1(t *testing.T) {
	tmo, clock, fired := newTimeoutsTest(16)
	a := &myTimeoutTest{name: "a", fired: fired}
	b := &myTimeoutTest{name: "b", fired: fired}
	c := &myTimeoutTest{name: "c", fired: fired}
	tmo.Timeout(100, a, nil)
	tmo.Timeout(300, b, nil)
	tmo.Timeout(200, c, nil)
	if tmo.Len() != 3 {
		t.Fatalf(" len %d ", tmo.Len())
	}
	if ms, ok := tmo.SleepTime(); !ok || ms != 100 {
		t.Fatalf(" sleep time %d ", ms)
	}
	clock.now += 99
	tmo.Check()
	checkFired(t, fired, nil)
	clock.now += 51
	tmo.Check()
	checkFired(t, fired, []string{"a"})
	if ms, _ := tmo.SleepTime(); ms != 50 {
		t.Fatalf(" sleep time %d expected 50 ", ms)
	}
	clock.now += 500
	tmo.Check()
	checkFired(t, fired, []string{"a", "c", "b"})
	if _, ok := tmo.SleepTime(); ok {
		t.Fatalf(" list should be empty ")
	}
	if tmo.Pool().Used() != 0 {
		t.Fatalf(" node leak ")
	}
}

func TestTimeoutsCancel1(t *testing.T) {
	tmo, clock, fired := newTimeoutsTest(16)
	a := &myTimeoutTest{name: "a", fired: fired}
	b := &myTimeoutTest{name: "b", fired: fired}
	tmo.Timeout(100, a, nil)
	tmo.Timeout(200, b, nil)
	tmo.Untimeout(a, nil)
	if tmo.IsScheduled(a, nil) || !tmo.IsScheduled(b, nil) {
		t.Fatalf(" cancel removed the wrong node ")
	}
	clock.now += 150
	tmo.Check()
	checkFired(t, fired, nil)
	clock.now += 50
	tmo.Check()
	checkFired(t, fired, []string{"b"})
}

func TestTimeoutsCancelArg1(t *testing.T) {
	tmo, clock, fired := newTimeoutsTest(16)
	a := &myTimeoutTest{name: "a", fired: fired}
	tmo.Timeout(100, a, 1)
	tmo.Timeout(100, a, 2)
	tmo.Untimeout(a, 2)
	clock.now += 100
	tmo.Check()
	checkFired(t, fired, []string{"a"})
	if tmo.Len() != 0 {
		t.Fatalf(" only one node should be canceled ")
	}
}

func TestTimeoutsElapsed1(t *testing.T) {
	tmo, clock, fired := newTimeoutsTest(16)
	a := &myTimeoutTest{name: "a", fired: fired}
	b := &myTimeoutTest{name: "b", fired: fired}
	tmo.Timeout(100, a, nil)
	clock.now += 50
	// b is due at +150 from the start
	tmo.Timeout(100, b, nil)
	clock.now += 50
	tmo.Check()
	checkFired(t, fired, []string{"a"})
	clock.now += 49
	tmo.Check()
	checkFired(t, fired, []string{"a"})
	clock.now++
	tmo.Check()
	checkFired(t, fired, []string{"a", "b"})
}

func TestTimeoutsPeriodic1(t *testing.T) {
	tmo, clock, fired := newTimeoutsTest(16)
	a := &myTimeoutTest{name: "a", fired: fired, again: 250}
	a.tmo = tmo
	tmo.Timeout(250, a, nil)
	for i := 0; i < 10; i++ {
		clock.now += 100
		tmo.Check()
	}
	// 1000 msec, fired at 250,500,750,1000
	if len(*fired) != 4 {
		t.Fatalf(" periodic fired %d times ", len(*fired))
	}
}

func TestTimeoutsNoMem1(t *testing.T) {
	tmo, _, fired := newTimeoutsTest(2)
	a := &myTimeoutTest{name: "a", fired: fired}
	if tmo.Timeout(1, a, 1) != ErrOK || tmo.Timeout(2, a, 2) != ErrOK {
		t.Fatalf(" add failed ")
	}
	if tmo.Timeout(3, a, 3) != ErrMem {
		t.Fatalf(" pool should be exhausted ")
	}
}

func TestTimeoutsFetch1(t *testing.T) {
	Debug = true
	clock := NewTimerCtx(false)
	tmo := NewTimeouts(clock, 16)
	var fired []string
	a := &myTimeoutTest{name: "a", fired: &fired}
	tmo.Timeout(10, a, nil)

	mbox := make(Mbox, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		mbox <- "msg"
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := tmo.Fetch(ctx, mbox)
	if err != nil || msg.(string) != "msg" {
		t.Fatalf(" fetch %v %v ", msg, err)
	}
	if len(fired) != 1 {
		t.Fatalf(" timeout did not fire while waiting ")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := tmo.Fetch(ctx2, mbox); err == nil {
		t.Fatalf(" fetch should end with the context ")
	}
}
