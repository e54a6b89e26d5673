// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"fmt"

	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("tcp")

// TcpCtx the tcp layer of one stack instance. It is not safe for concurrent use,
// every call must come from the stack main loop.
type TcpCtx struct {
	cfg   *core.Config
	pbufs *core.PbufCtx
	ip    *ip.IP
	tmo   *core.Timeouts
	clock core.Clock

	pcbPool    *core.Memp[Pcb]
	listenPool *core.Memp[ListenPcb]
	segPool    *core.Memp[Seg]

	boundPcbs  *Pcb       /* bound but not listening or connected */
	listenPcbs *ListenPcb /* in LISTEN state */
	activePcbs *Pcb       /* in a state in which they accept or send data */
	twPcbs     *Pcb       /* in TIME-WAIT state */

	activePcbsChanged bool
	ticks             uint32 /* slow timer ticks */
	timerCtr          uint8  /* stamp of the running timer walk */
	timer             uint8  /* fast/slow alternation */
	timerActive       bool
	port              uint16 /* last local port handed out */
	isn               *isnGen

	in       inputSeg
	inputPcb *Pcb

	stats TcpStats
	Cdb   *core.CCounterDb
}

// NewTcpCtx creates the tcp layer and registers it as the tcp protocol of ipl
func NewTcpCtx(cfg *core.Config, pbufs *core.PbufCtx, ipl *ip.IP, tmo *core.Timeouts, clock core.Clock) *TcpCtx {
	o := new(TcpCtx)
	o.cfg = cfg
	o.pbufs = pbufs
	o.ip = ipl
	o.tmo = tmo
	o.clock = clock
	o.pcbPool = core.NewMemp[Pcb]("tcp_pcb", cfg.MempNumTcpPcb)
	o.listenPool = core.NewMemp[ListenPcb]("tcp_pcb_listen", cfg.MempNumTcpPcbListen)
	o.segPool = core.NewMemp[Seg]("tcp_seg", cfg.MempNumTcpSeg)
	o.port = cfg.TcpLocalPortStart
	o.isn = newIsnGen(cfg.LegacyIss)
	o.Cdb = NewTcpStatsDb(&o.stats)
	if ipl != nil {
		ipl.Register(ip.ProtoTCP, o)
	}
	return o
}

// CdbVec the counters of the layer and its pools
func (o *TcpCtx) CdbVec() []*core.CCounterDb {
	return []*core.CCounterDb{o.Cdb, o.pcbPool.Cdb, o.listenPool.Cdb, o.segPool.Cdb}
}

// Ticks the slow timer ticks since the layer was created
func (o *TcpCtx) Ticks() uint32 {
	return o.ticks
}

func (o *TcpCtx) slowTicks(ms uint32) uint32 {
	return ms / o.cfg.TcpSlowTmrInterval()
}

/* list handling */

func pcbListRemove(list **Pcb, pcb *Pcb) {
	if *list == pcb {
		*list = pcb.next
	} else {
		for p := *list; p != nil; p = p.next {
			if p.next == pcb {
				p.next = pcb.next
				break
			}
		}
	}
	pcb.next = nil
}

func (o *TcpCtx) reg(list **Pcb, pcb *Pcb) {
	core.Assert(pcb.next == nil && *list != pcb, "TCP_REG: pcb already on a list")
	pcb.next = *list
	*list = pcb
	o.timerNeeded()
}

func (o *TcpCtx) regActive(pcb *Pcb) {
	o.reg(&o.activePcbs, pcb)
	o.activePcbsChanged = true
}

func (o *TcpCtx) rmvActive(pcb *Pcb) {
	pcbListRemove(&o.activePcbs, pcb)
	o.activePcbsChanged = true
}

func (o *TcpCtx) pcbRemoveActive(pcb *Pcb) {
	o.pcbRemove(&o.activePcbs, pcb)
	o.activePcbsChanged = true
}

func (o *TcpCtx) pcbFree(pcb *Pcb) {
	core.Assert(!pcb.freed, "tcp pcb double free")
	pcb.freed = true
	pcb.state = Closed
	o.pcbPool.Free(pcb)
}

func (o *TcpCtx) listenFree(lpcb *ListenPcb) {
	lpcb.freed = true
	lpcb.state = Closed
	o.listenPool.Free(lpcb)
}

/* pcb allocation */

// New creates a pcb in CLOSED state with normal priority
func (o *TcpCtx) New() *Pcb {
	return o.alloc(TCP_PRIO_NORMAL)
}

func (o *TcpCtx) alloc(prio uint8) *Pcb {
	pcb := o.pcbPool.Alloc()
	if pcb == nil {
		/* try killing oldest connection in TIME-WAIT */
		o.killTimewait()
		pcb = o.pcbPool.Alloc()
		if pcb == nil {
			/* try killing active connections with lower priority than the new one */
			o.killPrio(prio)
			pcb = o.pcbPool.Alloc()
		}
	}
	if pcb == nil {
		o.stats.tcps_memerr++
		return nil
	}
	slow := o.cfg.TcpSlowTmrInterval()
	pcb.ctx = o
	pcb.prio = prio
	pcb.sndBuf = o.cfg.TcpSndBuf
	pcb.rcvWnd = o.cfg.TcpWnd
	pcb.rcvAnnWnd = o.cfg.TcpWnd
	pcb.ttl = o.cfg.TcpTtl
	/* As initial send MSS, we use TCP_MSS but limit it to 536. */
	pcb.mss = minU16(o.cfg.TcpMss, 536)
	pcb.rto = int16(3000 / slow)
	pcb.sv = int16(3000 / slow)
	pcb.rtime = -1
	pcb.cwnd = 1
	iss := o.nextIss(pcb)
	pcb.sndWl2 = iss
	pcb.sndNxt = iss
	pcb.lastack = iss
	pcb.sndLbb = iss
	pcb.tmr = o.ticks
	pcb.lastTimer = o.timerCtr
	pcb.recv = recvNull
	pcb.keepIdle = o.cfg.TcpKeepIdle
	return pcb
}

func (o *TcpCtx) nextIss(pcb *Pcb) uint32 {
	var now uint32
	if o.clock != nil {
		now = o.clock.NowMs()
	}
	return o.isn.next(pcb.localIP, pcb.remoteIP, pcb.localPort, pcb.remotePort, o.ticks, now)
}

// killTimewait aborts the oldest TIME-WAIT pcb
func (o *TcpCtx) killTimewait() {
	var inactive *Pcb
	var inactivity uint32
	for pcb := o.twPcbs; pcb != nil; pcb = pcb.next {
		if o.ticks-pcb.tmr >= inactivity {
			inactivity = o.ticks - pcb.tmr
			inactive = pcb
		}
	}
	if inactive != nil {
		log.Debugf("tcp_kill_timewait: killing oldest TIME-WAIT PCB %p (%d)", inactive, inactivity)
		o.stats.tcps_killtw++
		inactive.Abort()
	}
}

// killPrio aborts the oldest active connection that has lower or equal priority than prio
func (o *TcpCtx) killPrio(prio uint8) {
	var inactive *Pcb
	var inactivity uint32
	mprio := TCP_PRIO_MAX
	for pcb := o.activePcbs; pcb != nil; pcb = pcb.next {
		if pcb.prio <= prio && pcb.prio <= mprio && o.ticks-pcb.tmr >= inactivity {
			inactivity = o.ticks - pcb.tmr
			inactive = pcb
			mprio = pcb.prio
		}
	}
	if inactive != nil {
		log.Debugf("tcp_kill_prio: killing oldest PCB %p (%d)", inactive, inactivity)
		o.stats.tcps_killprio++
		inactive.Abort()
	}
}

/* ports */

func (o *TcpCtx) portInUse(port uint16) bool {
	for l := o.listenPcbs; l != nil; l = l.next {
		if l.localPort == port {
			return true
		}
	}
	for _, list := range []*Pcb{o.boundPcbs, o.activePcbs, o.twPcbs} {
		for pcb := list; pcb != nil; pcb = pcb.next {
			if pcb.localPort == port {
				return true
			}
		}
	}
	return false
}

// newPort returns the next free local port of the dynamic range, 0 when all are used.
// The range is inclusive, so every one of its rng+1 ports is tried once before giving up.
func (o *TcpCtx) newPort() uint16 {
	start := o.cfg.TcpLocalPortStart
	end := o.cfg.TcpLocalPortEnd
	n := 0
	rng := int(end) - int(start)
	for {
		if o.port >= end || o.port < start {
			o.port = start
		} else {
			o.port++
		}
		if !o.portInUse(o.port) {
			return o.port
		}
		n++
		if n > rng {
			log.Warningf("tcp_new_port: out of local ports %d-%d", start, end)
			o.stats.tcps_porterr++
			return 0
		}
	}
}

/* lifecycle */

// Bind binds the pcb to a local address and port. Port 0 picks a free port of the dynamic range.
func (o *Pcb) Bind(ipaddr core.IP4Addr, port uint16) core.Err {
	ctx := o.ctx
	if o.state != Closed || o.localPort != 0 {
		log.Debugf("tcp_bind: can only bind an unbound pcb in state CLOSED")
		return core.ErrVal
	}
	reuse := o.soOptions&SOF_REUSEADDR != 0
	if port == 0 {
		port = ctx.newPort()
		if port == 0 {
			return core.ErrBuf
		}
	}
	conflict := func(lip core.IP4Addr, opts uint8) bool {
		if reuse && opts&SOF_REUSEADDR != 0 {
			return false
		}
		return lip.IsAny() || ipaddr.IsAny() || lip == ipaddr
	}
	for l := ctx.listenPcbs; l != nil; l = l.next {
		if l.localPort == port && conflict(l.localIP, l.soOptions) {
			return core.ErrUse
		}
	}
	lists := []*Pcb{ctx.boundPcbs, ctx.activePcbs}
	if !reuse {
		/* SO_REUSEADDR allows reusing a port held by TIME-WAIT */
		lists = append(lists, ctx.twPcbs)
	}
	for _, list := range lists {
		for cpcb := list; cpcb != nil; cpcb = cpcb.next {
			if cpcb.localPort == port && conflict(cpcb.localIP, cpcb.soOptions) {
				return core.ErrUse
			}
		}
	}
	if !ipaddr.IsAny() {
		o.localIP = ipaddr
	}
	o.localPort = port
	ctx.reg(&ctx.boundPcbs, o)
	log.Debugf("tcp_bind: bind to port %d", port)
	return core.ErrOK
}

// Listen see ListenWithBacklog, with the configured default backlog
func (o *Pcb) Listen() (*ListenPcb, core.Err) {
	return o.ListenWithBacklog(o.ctx.cfg.TcpListenBacklog)
}

// ListenWithBacklog moves the pcb to LISTEN state. The pcb is freed and replaced by the returned
// listen pcb, the caller must not use o afterward unless an error is returned.
func (o *Pcb) ListenWithBacklog(backlog uint8) (*ListenPcb, core.Err) {
	ctx := o.ctx
	if o.state != Closed {
		log.Debugf("tcp_listen: pcb already connected")
		return nil, core.ErrIsConn
	}
	if o.soOptions&SOF_REUSEADDR != 0 {
		/* Since SOF_REUSEADDR allows reusing a local address before the pcb is bound,
		   a second listen to the same address and port is checked here */
		for l := ctx.listenPcbs; l != nil; l = l.next {
			if l.localPort == o.localPort && l.localIP == o.localIP {
				return nil, core.ErrUse
			}
		}
	}
	lpcb := ctx.listenPool.Alloc()
	if lpcb == nil {
		ctx.stats.tcps_memerr++
		return nil, core.ErrMem
	}
	lpcb.ctx = ctx
	lpcb.callbackArg = o.callbackArg
	lpcb.localPort = o.localPort
	lpcb.state = Listen
	lpcb.prio = o.prio
	lpcb.soOptions = o.soOptions | SOF_ACCEPTCONN
	lpcb.ttl = o.ttl
	lpcb.tos = o.tos
	lpcb.localIP = o.localIP
	if o.localPort != 0 {
		pcbListRemove(&ctx.boundPcbs, o)
	}
	ctx.pcbFree(o)
	lpcb.accept = acceptNull
	if backlog == 0 {
		backlog = 1
	}
	lpcb.backlog = backlog
	lpcb.next = ctx.listenPcbs
	ctx.listenPcbs = lpcb
	return lpcb, core.ErrOK
}

// Close closes a listen pcb
func (o *ListenPcb) Close() core.Err {
	ctx := o.ctx
	if ctx.listenPcbs == o {
		ctx.listenPcbs = o.next
	} else {
		for l := ctx.listenPcbs; l != nil; l = l.next {
			if l.next == o {
				l.next = o.next
				break
			}
		}
	}
	o.next = nil
	ctx.listenFree(o)
	return core.ErrOK
}

// Connect starts an active open. connected is called when the handshake completes.
func (o *Pcb) Connect(ipaddr core.IP4Addr, port uint16, connected ConnectedFn) core.Err {
	ctx := o.ctx
	if o.state != Closed {
		log.Debugf("tcp_connect: can only connect from state CLOSED")
		return core.ErrIsConn
	}
	o.remoteIP = ipaddr
	o.remotePort = port

	/* check if we have a route to the remote host */
	if o.localIP.IsAny() {
		netif := ctx.ip.Route(o.remoteIP)
		if netif == nil {
			return core.ErrRte
		}
		o.localIP = netif.Addr
	}

	oldLocalPort := o.localPort
	if o.localPort == 0 {
		o.localPort = ctx.newPort()
		if o.localPort == 0 {
			return core.ErrBuf
		}
	}
	if o.soOptions&SOF_REUSEADDR != 0 {
		/* the 4-tuple must be unique */
		for _, list := range []*Pcb{ctx.activePcbs, ctx.twPcbs} {
			for cpcb := list; cpcb != nil; cpcb = cpcb.next {
				if cpcb.localPort == o.localPort && cpcb.remotePort == port &&
					cpcb.localIP == o.localIP && cpcb.remoteIP == ipaddr {
					return core.ErrUse
				}
			}
		}
	}

	iss := ctx.nextIss(o)
	o.rcvNxt = 0
	o.sndNxt = iss
	o.lastack = iss - 1
	o.sndLbb = iss - 1
	o.rcvWnd = ctx.cfg.TcpWnd
	o.rcvAnnWnd = ctx.cfg.TcpWnd
	o.rcvAnnRightEdge = o.rcvNxt
	o.sndWnd = ctx.cfg.TcpWnd
	/* The send MSS is updated when an MSS option is received. */
	o.mss = minU16(ctx.cfg.TcpMss, 536)
	o.mss = ctx.effSendMss(o.mss, o.remoteIP)
	o.cwnd = 1
	o.ssthresh = o.mss * 10
	o.connected = connected

	/* Send a SYN together with the MSS option. */
	ret := o.enqueueFlags(TH_SYN)
	if ret == core.ErrOK {
		/* SYN segment was enqueued, changed the pcbs state now */
		o.state = SynSent
		if oldLocalPort != 0 {
			pcbListRemove(&ctx.boundPcbs, o)
		}
		ctx.regActive(o)
		ctx.stats.tcps_connattempt++
		o.Output()
	}
	return ret
}

// Close closes the connection. The pcb must not be used after ErrOK is returned,
// it is freed by the stack once the closing handshake is done.
func (o *Pcb) Close() core.Err {
	log.Debugf("tcp_close: closing in %s", o.state)
	/* Set a flag not to receive any more data */
	o.flags |= TF_RXCLOSED
	return o.closeShutdown(true)
}

// Shutdown closes the receive and/or the transmit side
func (o *Pcb) Shutdown(shutRx, shutTx bool) core.Err {
	if shutRx {
		/* shut down the receive side: set a flag not to receive any more data */
		o.flags |= TF_RXCLOSED
		if shutTx {
			/* shutting down the tx AND rx side is the same as closing for the raw API */
			return o.closeShutdown(true)
		}
		/* ... and free buffered data */
		if o.refusedData != nil {
			o.refusedData.Free()
			o.refusedData = nil
		}
	}
	if shutTx {
		/* This can't happen twice since if it succeeds, the pcb's state is changed. */
		switch o.state {
		case SynRcvd, Established, CloseWait:
			return o.closeShutdown(shutRx)
		default:
			/* Not (yet?) connected, cannot shutdown the TX side as that would bring us into CLOSED state, where the PCB is deallocated. */
			return core.ErrConn
		}
	}
	return core.ErrOK
}

func (o *Pcb) closeShutdown(rstOnUnackedData bool) core.Err {
	ctx := o.ctx
	if rstOnUnackedData && (o.state == Established || o.state == CloseWait) {
		if o.refusedData != nil || o.rcvWnd != ctx.cfg.TcpWnd {
			/* Not all data received by application, send RST to tell the remote side about this. */
			core.Assert(o.flags&TF_RXCLOSED != 0, "pcb->flags & TF_RXCLOSED")
			ctx.rst(o.sndNxt, o.rcvNxt, o.localIP, o.remoteIP, o.localPort, o.remotePort)
			ctx.pcbPurge(o)
			ctx.rmvActive(o)
			ctx.stats.tcps_drops++
			if o.state == Established {
				/* move to TIME_WAIT since we close actively */
				o.state = TimeWait
				ctx.reg(&ctx.twPcbs, o)
			} else {
				/* CLOSE_WAIT: deallocate the pcb since we already sent a RST for it */
				ctx.stats.tcps_closed++
				ctx.pcbFree(o)
			}
			return core.ErrOK
		}
	}

	var err core.Err
	keep := true
	switch o.state {
	case Closed:
		/* Closing a pcb in the CLOSED state might seem erroneous, however, it is in this state once allocated and as yet unused */
		if o.localPort != 0 {
			pcbListRemove(&ctx.boundPcbs, o)
		}
		ctx.pcbFree(o)
		keep = false
	case SynSent:
		ctx.pcbRemoveActive(o)
		ctx.pcbFree(o)
		ctx.stats.tcps_attemptfail++
		keep = false
	case SynRcvd:
		err = o.sendFin()
		if err == core.ErrOK {
			ctx.stats.tcps_attemptfail++
			o.state = FinWait1
		}
	case Established:
		err = o.sendFin()
		if err == core.ErrOK {
			ctx.stats.tcps_estabresets++
			o.state = FinWait1
		}
	case CloseWait:
		err = o.sendFin()
		if err == core.ErrOK {
			ctx.stats.tcps_estabresets++
			o.state = LastAck
		}
	default:
		/* Has already been closed, do nothing. */
		keep = false
	}
	if keep && err == core.ErrOK {
		/* To ensure all data has been sent when tcp_close returns, we have to make sure tcp_output doesn't fail. */
		o.Output()
	}
	return err
}

// Abandon frees the pcb, sending a RST when reset is set. The err callback is called with ErrAbrt.
func (o *Pcb) Abandon(reset bool) {
	ctx := o.ctx
	if o.state == Listen {
		core.Assert(false, "don't call tcp_abort/tcp_abandon for listen-pcbs")
		return
	}
	if o.state == TimeWait {
		ctx.pcbRemove(&ctx.twPcbs, o)
		ctx.pcbFree(o)
		return
	}
	seqno := o.sndNxt
	ackno := o.rcvNxt
	localIP, remoteIP := o.localIP, o.remoteIP
	localPort, remotePort := o.localPort, o.remotePort
	errf := o.errf
	errfArg := o.callbackArg
	sendRst := false
	if o.state == Closed {
		if o.localPort != 0 {
			pcbListRemove(&ctx.boundPcbs, o)
		}
	} else {
		sendRst = reset
		ctx.pcbRemoveActive(o)
	}
	o.freeQueues()
	ctx.stats.tcps_drops++
	if sendRst {
		log.Debugf("tcp_abandon: sending RST")
		ctx.rst(seqno, ackno, localIP, remoteIP, localPort, remotePort)
	}
	ctx.pcbFree(o)
	if errf != nil {
		errf(errfArg, core.ErrAbrt)
	}
}

// Abort sends a RST and frees the pcb. Callbacks that abort must return CbAbort.
func (o *Pcb) Abort() {
	o.Abandon(true)
}

func (o *Pcb) freeQueues() {
	ctx := o.ctx
	ctx.segsFree(o.unacked)
	ctx.segsFree(o.unsent)
	ctx.segsFree(o.ooseq)
	o.unacked, o.unsent, o.ooseq = nil, nil, nil
	if o.refusedData != nil {
		o.refusedData.Free()
		o.refusedData = nil
	}
}

// Recved must be called by the application once it has processed n bytes of received data,
// it opens the receive window.
func (o *Pcb) Recved(n uint16) {
	ctx := o.ctx
	core.Assert(o.state != Listen, "don't call tcp_recved for listen-pcbs")
	wnd := uint32(o.rcvWnd) + uint32(n)
	if wnd > uint32(ctx.cfg.TcpWnd) {
		wnd = uint32(ctx.cfg.TcpWnd)
	}
	o.rcvWnd = uint16(wnd)
	wndInflation := o.updateRcvAnnWnd()

	/* If the change in the right edge of window is significant (default watermark is TCP_WND/4), then send an explicit update now. */
	if wndInflation >= ctx.cfg.TcpWndUpdateThreshold() {
		o.ackNow()
		o.Output()
	}
}

// updateRcvAnnWnd returns how much the announced right edge can grow
func (o *Pcb) updateRcvAnnWnd() uint32 {
	newRightEdge := o.rcvNxt + uint32(o.rcvWnd)
	thr := uint32(o.ctx.cfg.TcpWnd / 2)
	if uint32(o.mss) < thr {
		thr = uint32(o.mss)
	}
	if seqGEQ(newRightEdge, o.rcvAnnRightEdge+thr) {
		/* we can advertise more window */
		o.rcvAnnWnd = o.rcvWnd
		return newRightEdge - o.rcvAnnRightEdge
	}
	if seqGT(o.rcvNxt, o.rcvAnnRightEdge) {
		/* Can happen due to other end sending out of advertised window, but within actual available (but not yet advertised) window */
		o.rcvAnnWnd = 0
	} else {
		/* keep the right edge of window constant */
		o.rcvAnnWnd = uint16(o.rcvAnnRightEdge - o.rcvNxt)
	}
	return 0
}

// effSendMss limits the mss to the mtu of the outgoing interface
func (o *TcpCtx) effSendMss(sendmss uint16, addr core.IP4Addr) uint16 {
	netif := o.ip.Route(addr)
	if netif != nil && netif.Mtu > ip.HeaderLen+TCP_HLEN {
		mssS := netif.Mtu - ip.HeaderLen - TCP_HLEN
		/* RFC 1122, chap 4.2.2.6: Eff.snd.MSS = min(SendMSS+20, MMS_S) - TCPhdrsize - IPoptionsize */
		if mssS < sendmss {
			sendmss = mssS
		}
	}
	return sendmss
}

/* segments */

func (o *TcpCtx) segFree(seg *Seg) {
	if seg == nil {
		return
	}
	if seg.p != nil {
		seg.p.Free()
		seg.p = nil
	}
	seg.next = nil
	o.segPool.Free(seg)
}

func (o *TcpCtx) segsFree(seg *Seg) {
	for seg != nil {
		next := seg.next
		o.segFree(seg)
		seg = next
	}
}

// segCopy a copy of seg sharing its pbuf
func (o *TcpCtx) segCopy(seg *Seg) *Seg {
	cseg := o.segPool.Alloc()
	if cseg == nil {
		o.stats.tcps_memerr++
		return nil
	}
	*cseg = *seg
	cseg.next = nil
	cseg.p.Ref()
	return cseg
}

/* purge and remove */

// pcbPurge frees the queues of the pcb, the pcb itself stays allocated
func (o *TcpCtx) pcbPurge(pcb *Pcb) {
	if pcb.state == Closed || pcb.state == TimeWait || pcb.state == Listen {
		return
	}
	if pcb.state == SynRcvd {
		/* the connection never reached the application, release its backlog slot */
		for lpcb := o.listenPcbs; lpcb != nil; lpcb = lpcb.next {
			if lpcb.localPort == pcb.localPort && (lpcb.localIP.IsAny() || lpcb.localIP == pcb.localIP) {
				core.Assert(lpcb.acceptsPending > 0, "accepts_pending != 0")
				if lpcb.acceptsPending > 0 {
					lpcb.acceptsPending--
				}
				break
			}
		}
	}
	if pcb.refusedData != nil {
		log.Debugf("tcp_pcb_purge: data left on ->refused_data")
		pcb.refusedData.Free()
		pcb.refusedData = nil
	}
	if pcb.ooseq != nil {
		log.Debugf("tcp_pcb_purge: data left on ->ooseq")
	}
	o.segsFree(pcb.ooseq)
	pcb.ooseq = nil

	/* Stop the retransmission timer as it will expect data on unacked queue if it fires */
	pcb.rtime = -1

	o.segsFree(pcb.unsent)
	o.segsFree(pcb.unacked)
	pcb.unacked = nil
	pcb.unsent = nil
	pcb.unsentOversize = 0
}

// pcbRemove takes the pcb off list and purges it, the pcb is left CLOSED and allocated
func (o *TcpCtx) pcbRemove(list **Pcb, pcb *Pcb) {
	pcbListRemove(list, pcb)
	o.pcbPurge(pcb)

	/* if there is an outstanding delayed ACKs, send it */
	if pcb.state != TimeWait && pcb.state != Listen && pcb.flags&TF_ACK_DELAY != 0 {
		pcb.flags |= TF_ACK_NOW
		pcb.Output()
	}
	if pcb.state != Listen {
		core.Assert(pcb.unsent == nil, "unsent segments leaking")
		core.Assert(pcb.unacked == nil, "unacked segments leaking")
		core.Assert(pcb.ooseq == nil, "ooseq segments leaking")
	}
	pcb.state = Closed
}

// FreeOoseq drops the out of sequence queue of the first active pcb that has one.
// It is the reaction to an empty pbuf pool.
func (o *TcpCtx) FreeOoseq() {
	for pcb := o.activePcbs; pcb != nil; pcb = pcb.next {
		if pcb.ooseq != nil {
			log.Debugf("pbuf_free_ooseq: freeing out-of-sequence pbufs of %s", pcb)
			o.segsFree(pcb.ooseq)
			pcb.ooseq = nil
			o.stats.tcps_ooseqdrop++
			return
		}
	}
}

/* default callbacks */

// recvNull frees the data and closes the connection on FIN
func recvNull(arg interface{}, pcb *Pcb, p *core.Pbuf, err core.Err) CbAction {
	if p != nil {
		pcb.Recved(p.TotLen)
		p.Free()
	} else if err == core.ErrOK {
		pcb.Close()
	}
	return CbOK
}

// acceptNull refuses the connection when nobody called Accept
func acceptNull(arg interface{}, pcb *Pcb, err core.Err) CbAction {
	pcb.Abort()
	return CbAbort
}

/* debug */

// PcbsSane checks the state invariants of the lists
func (o *TcpCtx) PcbsSane() bool {
	for pcb := o.activePcbs; pcb != nil; pcb = pcb.next {
		if pcb.state == Closed || pcb.state == Listen || pcb.state == TimeWait {
			return false
		}
	}
	for pcb := o.twPcbs; pcb != nil; pcb = pcb.next {
		if pcb.state != TimeWait {
			return false
		}
	}
	for pcb := o.boundPcbs; pcb != nil; pcb = pcb.next {
		if pcb.state != Closed {
			return false
		}
	}
	return true
}

// NumPcbs counts the pcbs on each list
func (o *TcpCtx) NumPcbs() (bound, listen, active, tw int) {
	for pcb := o.boundPcbs; pcb != nil; pcb = pcb.next {
		bound++
	}
	for l := o.listenPcbs; l != nil; l = l.next {
		listen++
	}
	for pcb := o.activePcbs; pcb != nil; pcb = pcb.next {
		active++
	}
	for pcb := o.twPcbs; pcb != nil; pcb = pcb.next {
		tw++
	}
	return
}

// DebugPrintPcbs dumps all the pcbs
func (o *TcpCtx) DebugPrintPcbs() {
	fmt.Println("Active PCB states:")
	for pcb := o.activePcbs; pcb != nil; pcb = pcb.next {
		fmt.Printf(" %s snd_nxt %d rcv_nxt %d\n", pcb, pcb.sndNxt, pcb.rcvNxt)
	}
	fmt.Println("Listen PCB states:")
	for l := o.listenPcbs; l != nil; l = l.next {
		fmt.Printf(" %s pending %d/%d\n", l, l.acceptsPending, l.backlog)
	}
	fmt.Println("TIME-WAIT PCB states:")
	for pcb := o.twPcbs; pcb != nil; pcb = pcb.next {
		fmt.Printf(" %s\n", pcb)
	}
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
