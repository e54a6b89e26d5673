// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"fmt"

	"github.com/h7ga40/uITron3-sub000/stack/core"
)

// CbAction is what an application callback asks the stack to do next
type CbAction uint8

const (
	CbOK     CbAction = iota // continue
	CbRefuse                 // recv: keep the data and offer it again later, accept: abort the new connection
	CbAbort                  // the callback called Abort on the pcb, it must not be touched again
)

func (o CbAction) String() string {
	switch o {
	case CbOK:
		return "ok"
	case CbRefuse:
		return "refuse"
	case CbAbort:
		return "abort"
	}
	return "unknown"
}

// AcceptFn is called when a connection on a listen pcb is established
type AcceptFn func(arg interface{}, newpcb *Pcb, err core.Err) CbAction

// ConnectedFn is called when an active open completes
type ConnectedFn func(arg interface{}, pcb *Pcb, err core.Err) CbAction

// RecvFn delivers in-order data. p nil means the remote side closed.
// The callee owns p unless it returns CbRefuse.
type RecvFn func(arg interface{}, pcb *Pcb, p *core.Pbuf, err core.Err) CbAction

// SentFn reports acked bytes
type SentFn func(arg interface{}, pcb *Pcb, n uint16) CbAction

// PollFn is called every poll interval of the slow timer
type PollFn func(arg interface{}, pcb *Pcb) CbAction

// ErrFn reports a fatal error, the pcb is already freed when it is called
type ErrFn func(arg interface{}, err core.Err)

// tcpHdr the host order fields of a header
type tcpHdr struct {
	src    uint16
	dest   uint16
	seqno  uint32
	ackno  uint32
	hdrlen uint8 /* 32 bit words */
	flags  uint8
	wnd    uint16
	urgp   uint16
}

// Seg a segment on the unsent, unacked or ooseq queue
type Seg struct {
	next  *Seg
	p     *core.Pbuf
	len   uint16 /* payload length, without SYN/FIN */
	flags uint8  /* option flags */
	hdr   tcpHdr
}

// tcpLen the sequence space taken by the segment
func (o *Seg) tcpLen() uint32 {
	l := uint32(o.len)
	if o.hdr.flags&(TH_FIN|TH_SYN) != 0 {
		l++
	}
	return l
}

// ListenPcb a pcb in LISTEN state, much smaller than a connection pcb
type ListenPcb struct {
	next  *ListenPcb
	ctx   *TcpCtx
	freed bool

	localIP   core.IP4Addr
	localPort uint16
	soOptions uint8
	tos       uint8
	ttl       uint8
	prio      uint8
	state     State

	callbackArg    interface{}
	accept         AcceptFn
	backlog        uint8
	acceptsPending uint8
}

// Pcb the protocol control block of one connection
type Pcb struct {
	next  *Pcb
	ctx   *TcpCtx
	freed bool

	/* ip */
	localIP   core.IP4Addr
	remoteIP  core.IP4Addr
	soOptions uint8
	tos       uint8
	ttl       uint8

	state      State
	prio       uint8
	localPort  uint16
	remotePort uint16
	flags      uint8

	/* receiver variables */
	rcvNxt          uint32 /* next seqno expected */
	rcvWnd          uint16 /* receiver window available */
	rcvAnnWnd       uint16 /* receiver window to announce */
	rcvAnnRightEdge uint32 /* announced right edge of window */

	/* timers */
	tmr          uint32
	lastTimer    uint8
	polltmr      uint8
	pollinterval uint8
	rtime        int16 /* retransmission timer */

	mss uint16 /* maximum segment size */

	/* RTT estimation */
	rttest uint32 /* RTT estimate in slow ticks */
	rtseq  uint32 /* sequence number being timed */
	sa     int16
	sv     int16
	rto    int16 /* retransmission time-out */
	nrtx   uint8 /* number of retransmissions */

	/* fast retransmit/recovery */
	dupacks uint8
	lastack uint32 /* highest acknowledged seqno */

	/* congestion avoidance/control */
	cwnd     uint16
	ssthresh uint16

	/* sender variables */
	sndNxt    uint32 /* next new seqno to be sent */
	sndWl1    uint32 /* seqno of last window update */
	sndWl2    uint32 /* ackno of last window update */
	sndLbb    uint32 /* seqno of next byte to be buffered */
	sndWnd    uint16 /* sender window */
	sndWndMax uint16 /* the maximum sender window announced by the remote host */

	acked uint16

	sndBuf      uint16 /* available buffer space for sending */
	sndQueuelen uint16 /* number of pbufs currently in the send buffer */

	unsentOversize uint16
	unsent         *Seg /* unsent (queued) segments */
	unacked        *Seg /* sent but unacknowledged segments */
	ooseq          *Seg /* received out of sequence segments */

	refusedData *core.Pbuf /* data previously received but not yet taken by upper layer */

	callbackArg interface{}
	sent        SentFn
	recv        RecvFn
	connected   ConnectedFn
	poll        PollFn
	errf        ErrFn
	accept      AcceptFn

	/* keepalive */
	keepIdle    uint32
	keepCntSent uint8

	/* persist timer */
	persistCnt     uint8
	persistBackoff uint8
}

func (o *Pcb) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d %s", o.localIP, o.localPort, o.remoteIP, o.remotePort, o.state)
}

func (o *ListenPcb) String() string {
	return fmt.Sprintf("%s:%d %s", o.localIP, o.localPort, o.state)
}

/* accessors */

func (o *Pcb) State() State                { return o.state }
func (o *Pcb) LocalIP() core.IP4Addr       { return o.localIP }
func (o *Pcb) RemoteIP() core.IP4Addr      { return o.remoteIP }
func (o *Pcb) LocalPort() uint16           { return o.localPort }
func (o *Pcb) RemotePort() uint16          { return o.remotePort }
func (o *Pcb) Mss() uint16                 { return o.mss }
func (o *Pcb) Prio() uint8                 { return o.prio }
func (o *Pcb) RcvWnd() uint16              { return o.rcvWnd }
func (o *Pcb) SndQueuelen() uint16         { return o.sndQueuelen }
func (o *Pcb) Flags() uint8                { return o.flags }
func (o *ListenPcb) State() State          { return o.state }
func (o *ListenPcb) LocalPort() uint16     { return o.localPort }
func (o *ListenPcb) LocalIP() core.IP4Addr { return o.localIP }
func (o *ListenPcb) AcceptsPending() uint8 { return o.acceptsPending }

// Sndbuf free space of the send buffer
func (o *Pcb) Sndbuf() uint16 { return o.sndBuf }

// Arg sets the argument passed to every callback
func (o *Pcb) Arg(arg interface{})       { o.callbackArg = arg }
func (o *ListenPcb) Arg(arg interface{}) { o.callbackArg = arg }

func (o *Pcb) Recv(f RecvFn)           { o.recv = f }
func (o *Pcb) Sent(f SentFn)           { o.sent = f }
func (o *Pcb) Err(f ErrFn)             { o.errf = f }
func (o *ListenPcb) Accept(f AcceptFn) { o.accept = f }

// Poll sets the poll callback, interval is in slow timer ticks
func (o *Pcb) Poll(f PollFn, interval uint8) {
	o.poll = f
	o.pollinterval = interval
}

func (o *Pcb) SetPrio(prio uint8) { o.prio = prio }

// Nagle
func (o *Pcb) NagleDisable()       { o.flags |= TF_NODELAY }
func (o *Pcb) NagleEnable()        { o.flags &^= TF_NODELAY }
func (o *Pcb) NagleDisabled() bool { return o.flags&TF_NODELAY != 0 }
func (o *Pcb) SetKeepAlive(on bool) {
	if on {
		o.soOptions |= SOF_KEEPALIVE
	} else {
		o.soOptions &^= SOF_KEEPALIVE
	}
}

// SetKeepIdle idle time in msec before the first keepalive
func (o *Pcb) SetKeepIdle(ms uint32) { o.keepIdle = ms }

// SetReuseAddr allows binding a port that is held by a TIME_WAIT pcb
func (o *Pcb) SetReuseAddr(on bool) {
	if on {
		o.soOptions |= SOF_REUSEADDR
	} else {
		o.soOptions &^= SOF_REUSEADDR
	}
}

func (o *Pcb) ackNow() {
	o.flags |= TF_ACK_NOW
}

// ack delays the first ack and acks every second segment
func (o *Pcb) ack() {
	if o.flags&TF_ACK_DELAY != 0 {
		o.flags &^= TF_ACK_DELAY
		o.flags |= TF_ACK_NOW
	} else {
		o.flags |= TF_ACK_DELAY
	}
}

func (o *Pcb) doOutputNagle() bool {
	return o.unacked == nil ||
		o.flags&(TF_NODELAY|TF_INFR) != 0 ||
		(o.unsent != nil && (o.unsent.next != nil || o.unsent.len >= o.mss)) ||
		o.sndBuf == 0 || o.sndQueuelen >= o.ctx.cfg.TcpSndQueueLen
}
