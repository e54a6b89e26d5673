// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package stack

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
	"github.com/h7ga40/uITron3-sub000/stack/tcp"
	"github.com/op/go-logging"
)

/* Stack is one instance of the network context (tcpip thread).

   All the layers of an instance are owned by a single goroutine, the one running
   MainLoop/MainLoopSim/Poll. Other goroutines talk to it only through the mbox:

     LinkInput/DatagramInput  -> packet from a link driver
     Callback                 -> run a function inside the context

   Timers (tcp fast/slow) are one shot timeouts handled while waiting on the mbox.
*/

var log = logging.MustGetLogger("stack")

const (
	mboxSize = 256
)

// ErrMboxFull is returned when a message could not be posted without blocking
var ErrMboxFull = errors.New("stack mbox is full")

type linkMsg struct {
	buf   []byte
	src   core.IP4Addr
	dst   core.IP4Addr
	proto uint8
	netif *ip.Netif
}

type datagramMsg struct {
	buf   []byte
	netif *ip.Netif
}

type callbackMsg struct {
	fn func()
}

type stackStats struct {
	msgLink     uint64
	msgDatagram uint64
	msgCallback uint64
	msgUnknown  uint64
	mboxFull    uint64
	linkNoMem   uint64
	ooseqFree   uint64
}

func newStackCounterDb(s *stackStats) *core.CCounterDb {
	db := core.NewCCounterDb("stack")
	db.Add(&core.CCounterRec{Counter: &s.msgLink, Name: "msgLink", Help: "link input messages", Unit: "msgs", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.msgDatagram, Name: "msgDatagram", Help: "ipv4 datagram messages", Unit: "msgs", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.msgCallback, Name: "msgCallback", Help: "callback messages", Unit: "msgs", DumpZero: false, Info: core.ScINFO})
	db.Add(&core.CCounterRec{Counter: &s.msgUnknown, Name: "msgUnknown", Help: "unknown messages", Unit: "msgs", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.mboxFull, Name: "mboxFull", Help: "post to a full mbox", Unit: "msgs", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.linkNoMem, Name: "linkNoMem", Help: "no pbuf for link input", Unit: "pkts", DumpZero: false, Info: core.ScERROR})
	db.Add(&core.CCounterRec{Counter: &s.ooseqFree, Name: "ooseqFree", Help: "ooseq freed on pool empty", Unit: "ops", DumpZero: false, Info: core.ScINFO})
	return db
}

// Stack composes the layers of one instance
type Stack struct {
	Id       uuid.UUID
	cfg      *core.Config
	timerctx *core.TimerCtx
	tmo      *core.Timeouts
	pbufs    *core.PbufCtx
	ip       *ip.IP
	tcp      *tcp.TcpCtx
	mbox     core.Mbox
	stats    stackStats
	cdbv     *core.CCounterDbVec
}

// New creates an instance. A nil cfg means the defaults. In simulation the clock moves only by MainLoopSim/Step.
func New(cfg *core.Config, simulation bool) (*Stack, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := new(Stack)
	o.Id = uuid.New()
	o.cfg = cfg
	o.timerctx = core.NewTimerCtx(simulation)
	o.tmo = core.NewTimeouts(o.timerctx, cfg.MempNumSysTimeout)
	o.pbufs = core.NewPbufCtx(cfg)
	o.pbufs.OnPoolEmpty = o.poolEmpty
	o.ip = ip.NewIP(cfg, o.pbufs)
	o.tcp = tcp.NewTcpCtx(cfg, o.pbufs, o.ip, o.tmo, o.timerctx)
	o.mbox = make(core.Mbox, mboxSize)

	o.cdbv = core.NewCCounterDbVec("stack")
	o.cdbv.Add(newStackCounterDb(&o.stats))
	o.cdbv.Add(o.timerctx.Cdb)
	o.cdbv.Add(o.tmo.Cdb)
	o.cdbv.Add(o.tmo.Pool().Cdb)
	for _, db := range o.pbufs.CdbVec() {
		o.cdbv.Add(db)
	}
	o.cdbv.Add(o.ip.Cdb)
	for _, db := range o.tcp.CdbVec() {
		o.cdbv.Add(db)
	}
	log.Infof("stack %s created, simulation %v", o.Id, simulation)
	return o, nil
}

func (o *Stack) Config() *core.Config          { return o.cfg }
func (o *Stack) Pbufs() *core.PbufCtx          { return o.pbufs }
func (o *Stack) IP() *ip.IP                    { return o.ip }
func (o *Stack) Tcp() *tcp.TcpCtx              { return o.tcp }
func (o *Stack) Timeouts() *core.Timeouts      { return o.tmo }
func (o *Stack) TimerCtx() *core.TimerCtx      { return o.timerctx }
func (o *Stack) Counters() *core.CCounterDbVec { return o.cdbv }

// NowMs the clock of the instance
func (o *Stack) NowMs() uint32 {
	return o.timerctx.NowMs()
}

// AddNetif creates an interface, brings it up and adds it. The first one is the default route.
func (o *Stack) AddNetif(name string, addr, netmask, gw core.IP4Addr, output ip.OutputFunc) *ip.Netif {
	n := ip.NewNetif(name, addr, netmask, gw, output)
	n.SetUp()
	o.ip.AddNetif(n)
	if len(o.ip.Netifs()) == 1 {
		o.ip.SetDefault(n)
	}
	log.Infof("netif %s added", n)
	return n
}

func (o *Stack) post(msg interface{}) error {
	select {
	case o.mbox <- msg:
		return nil
	default:
		o.stats.mboxFull++
		return ErrMboxFull
	}
}

// LinkInput posts a transport payload received on netif. The stack owns buf after the call.
func (o *Stack) LinkInput(buf []byte, src, dst core.IP4Addr, proto uint8, netif *ip.Netif) error {
	return o.post(&linkMsg{buf: buf, src: src, dst: dst, proto: proto, netif: netif})
}

// DatagramInput posts a full IPv4 datagram received on netif. The stack owns buf after the call.
func (o *Stack) DatagramInput(buf []byte, netif *ip.Netif) error {
	return o.post(&datagramMsg{buf: buf, netif: netif})
}

// Callback runs fn inside the context of the instance (tcpip_callback)
func (o *Stack) Callback(fn func()) error {
	return o.post(&callbackMsg{fn: fn})
}

func (o *Stack) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case *linkMsg:
		o.stats.msgLink++
		if o.ip.Deliver(m.buf, m.src, m.dst, m.proto, m.netif) == core.ErrMem {
			o.stats.linkNoMem++
		}
	case *datagramMsg:
		o.stats.msgDatagram++
		if len(m.buf) > 0xffff {
			log.Warningf("datagram of %d bytes dropped", len(m.buf))
			return
		}
		p := o.pbufs.Alloc(core.PbufRaw, uint16(len(m.buf)), core.PbufPOOL)
		if p == nil {
			o.stats.linkNoMem++
			return
		}
		p.Take(m.buf)
		o.ip.Input(p, m.netif)
	case *callbackMsg:
		o.stats.msgCallback++
		m.fn()
	default:
		o.stats.msgUnknown++
		log.Errorf("unknown message %T", msg)
	}
}

// poolEmpty is called by the pbuf layer when the pool runs dry. The ooseq queues are freed
// later from the context, a failed post re-arms the notification.
func (o *Stack) poolEmpty() {
	if o.post(&callbackMsg{fn: o.freeOoseq}) != nil {
		o.pbufs.ClearPoolEmpty()
	}
}

func (o *Stack) freeOoseq() {
	o.pbufs.ClearPoolEmpty()
	o.stats.ooseqFree++
	o.tcp.FreeOoseq()
}

// drain handles the queued messages without blocking
func (o *Stack) drain() {
	for {
		select {
		case msg := <-o.mbox:
			o.dispatch(msg)
		default:
			return
		}
	}
}

// MainLoop runs the instance until ctx is done
func (o *Stack) MainLoop(ctx context.Context) error {
	o.tmo.Restart()
	for {
		msg, err := o.tmo.Fetch(ctx, o.mbox)
		if err != nil {
			log.Infof("stack %s main loop done: %v", o.Id, err)
			return err
		}
		o.dispatch(msg)
	}
}

// Step handles the queued messages, moves the simulated clock by one tick and fires the due timeouts
func (o *Stack) Step() {
	o.drain()
	o.timerctx.HandleTicks()
	o.tmo.Check()
	o.drain()
}

// Poll handles the queued messages and the due timeouts without moving the clock
func (o *Stack) Poll() {
	o.drain()
	o.tmo.Check()
}

// MainLoopSim runs a simulated instance for duration of simulated time
func (o *Stack) MainLoopSim(duration time.Duration) {
	var tick uint32
	maxticks := o.timerctx.DurationToTicks(duration)
	for {
		o.Step()
		tick++
		if tick > maxticks {
			break
		}
	}
}

// Close drops the messages still queued, the instance must not be run afterwards
func (o *Stack) Close() {
	dropped := 0
	for {
		select {
		case <-o.mbox:
			dropped++
		default:
			log.Infof("stack %s closed, %d messages dropped", o.Id, dropped)
			return
		}
	}
}
