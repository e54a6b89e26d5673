// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
)

const tcpMaxHlen = 60

var (
	errBadOffset  = errors.New("bad header length")
	errBadOptions = errors.New("bad options")
)

// inputSeg the segment being processed by Input
type inputSeg struct {
	seg       Seg
	src       core.IP4Addr
	dst       core.IP4Addr
	seqno     uint32
	ackno     uint32
	flags     uint8
	tcplen    uint32
	hasMss    bool
	mss       uint16
	recvFlags uint8
	recvData  *core.Pbuf
}

// parseHeader decodes the header at the front of p
func parseHeader(p *core.Pbuf) (h tcpHdr, opts []layers.TCPOption, err error) {
	var raw [tcpMaxHlen]byte
	n := p.CopyPartial(raw[:], 0)
	if n < TCP_HLEN {
		return h, nil, errBadOffset
	}
	hlen := int(raw[12]>>4) * 4
	if hlen < TCP_HLEN || hlen > int(n) {
		return h, nil, errBadOffset
	}
	var t layers.TCP
	if err := t.DecodeFromBytes(raw[:hlen], gopacket.NilDecodeFeedback); err != nil {
		log.Debugf("tcp_input: bad header, %v", err)
		return h, nil, errBadOptions
	}
	h.src = uint16(t.SrcPort)
	h.dest = uint16(t.DstPort)
	h.seqno = t.Seq
	h.ackno = t.Ack
	h.hdrlen = t.DataOffset
	h.wnd = t.Window
	h.urgp = t.Urgent
	h.flags = raw[13] & 0x3f
	return h, t.Options, nil
}

// Input processes a segment received by ip. p starts at the tcp header and is consumed.
func (o *TcpCtx) Input(p *core.Pbuf, src, dst core.IP4Addr, inp *ip.Netif) {
	o.stats.tcps_rcvtotal++

	if p.TotLen < TCP_HLEN {
		/* drop short packets */
		log.Debugf("tcp_input: short packet (%d bytes) discarded", p.TotLen)
		o.stats.tcps_rcvshort++
		o.drop(p)
		return
	}

	/* Don't even process incoming broadcasts/multicasts. */
	if dst.IsBroadcast() || dst.IsMulticast() || (inp != nil && inp.IsBroadcast(dst)) {
		o.stats.tcps_rcvbcast++
		o.drop(p)
		return
	}

	/* Verify TCP checksum. */
	if chk := core.InetChksumPseudo(p, src, dst, ip.ProtoTCP, p.TotLen); chk != 0 {
		log.Debugf("tcp_input: packet discarded due to failing checksum 0x%04x", chk)
		o.stats.tcps_rcvbadsum++
		o.drop(p)
		return
	}

	hdr, opts, err := parseHeader(p)
	if err != nil {
		if err == errBadOffset {
			o.stats.tcps_rcvbadoff++
		}
		o.stats.tcps_proterr++
		o.drop(p)
		return
	}

	/* Move the payload pointer in the pbuf so that it points to the TCP data instead of the TCP header. */
	hlen := int(hdr.hdrlen) * 4
	if !p.HeaderAdjust(-hlen) {
		p = p.FreeHeader(uint16(hlen))
		if p == nil {
			/* header only segment spread over the chain */
			p = o.pbufs.Alloc(core.PbufRaw, 0, core.PbufRAM)
			if p == nil {
				o.stats.tcps_memerr++
				o.stats.tcps_rx_drop++
				return
			}
		}
	}

	in := &o.in
	in.src = src
	in.dst = dst
	in.seqno = hdr.seqno
	in.ackno = hdr.ackno
	in.flags = hdr.flags
	in.tcplen = uint32(p.TotLen)
	if in.flags&(TH_FIN|TH_SYN) != 0 {
		in.tcplen++
	}
	in.hasMss = false
	for _, opt := range opts {
		if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
			in.hasMss = true
			in.mss = binary.BigEndian.Uint16(opt.OptionData)
		}
	}

	/* Demultiplex an incoming segment. First, we check if it is destined for an active connection. */
	var prev *Pcb
	pcb := o.activePcbs
	for ; pcb != nil; pcb = pcb.next {
		core.Assert(pcb.state != Closed, "tcp_input: active pcb->state != CLOSED")
		core.Assert(pcb.state != TimeWait, "tcp_input: active pcb->state != TIME-WAIT")
		core.Assert(pcb.state != Listen, "tcp_input: active pcb->state != LISTEN")
		if pcb.remotePort == hdr.src && pcb.localPort == hdr.dest &&
			pcb.remoteIP == src && pcb.localIP == dst {
			/* Move this PCB to the front of the list so that subsequent lookups will be faster (we exploit locality in TCP segment arrivals). */
			core.Assert(pcb.next != pcb, "tcp_input: pcb->next != pcb (before cache)")
			if prev != nil {
				prev.next = pcb.next
				pcb.next = o.activePcbs
				o.activePcbs = pcb
			}
			break
		}
		prev = pcb
	}

	if pcb == nil {
		/* If it did not go to an active connection, we check the connections in the TIME-WAIT state. */
		for tw := o.twPcbs; tw != nil; tw = tw.next {
			if tw.remotePort == hdr.src && tw.localPort == hdr.dest &&
				tw.remoteIP == src && tw.localIP == dst {
				log.Debugf("tcp_input: packed for TIME_WAITing connection.")
				o.timewaitInput(tw, &hdr)
				p.Free()
				return
			}
		}

		/* Finally, if we still did not get a match, we check all PCBs that are LISTENing for incoming connections. */
		var lprev *ListenPcb
		lpcb := o.listenPcbs
		for ; lpcb != nil; lpcb = lpcb.next {
			if lpcb.localPort == hdr.dest && (lpcb.localIP == dst || lpcb.localIP.IsAny()) {
				break
			}
			lprev = lpcb
		}
		if lpcb != nil {
			if lprev != nil {
				lprev.next = lpcb.next
				lpcb.next = o.listenPcbs
				o.listenPcbs = lpcb
			}
			log.Debugf("tcp_input: packed for LISTENing connection.")
			o.listenInput(lpcb, &hdr)
			p.Free()
			return
		}

		/* If no matching PCB was found, send a TCP RST (reset) to the sender. */
		log.Debugf("tcp_input: no PCB match found, resetting.")
		if hdr.flags&TH_RST == 0 {
			o.stats.tcps_noport++
			o.rst(in.ackno, in.seqno+in.tcplen, dst, src, hdr.dest, hdr.src)
		}
		o.stats.tcps_rx_drop++
		p.Free()
		return
	}

	/* The incoming segment belongs to a connection. */
	in.seg = Seg{len: p.TotLen, p: p, hdr: hdr}
	in.recvData = nil
	in.recvFlags = 0

	if in.flags&TH_PSH != 0 {
		p.Flags |= core.PbufFlagPush
	}

	o.inputConn(pcb)

	/* Below this line, 'pcb' may not be dereferenced! */
	o.inputPcb = nil
	in.recvData = nil
	/* give up our reference to inseg.p */
	if in.seg.p != nil {
		in.seg.p.Free()
		in.seg.p = nil
	}
}

func (o *TcpCtx) drop(p *core.Pbuf) {
	o.stats.tcps_rx_drop++
	p.Free()
}

// inputConn runs the segment through a connection and delivers the results to the application
func (o *TcpCtx) inputConn(pcb *Pcb) {
	in := &o.in

	/* If there is data which was previously "refused" by upper layer */
	if pcb.refusedData != nil {
		if o.processRefusedData(pcb) == CbAbort || (pcb.refusedData != nil && in.tcplen > 0) {
			/* pcb has been aborted or refused data is still refused and the new segment contains data */
			o.stats.tcps_rx_drop++
			return
		}
	}
	o.inputPcb = pcb
	err := o.process(pcb)
	/* A return value of ERR_ABRT means that tcp_abort() was called and that the pcb has been freed. If so, we don't do anything. */
	if err == core.ErrAbrt {
		return
	}
	if in.recvFlags&tfReset != 0 {
		/* TF_RESET means that the connection was reset by the other end. We then call the error callback to inform the application that the connection is dead before we deallocate the PCB. */
		errf, arg := pcb.errf, pcb.callbackArg
		o.pcbRemoveActive(pcb)
		o.pcbFree(pcb)
		o.stats.tcps_closed++
		if errf != nil {
			errf(arg, core.ErrRst)
		}
		return
	}
	if in.recvFlags&tfClosed != 0 {
		/* The connection has been closed and we will deallocate the PCB. */
		errf, arg := pcb.errf, pcb.callbackArg
		rxClosed := pcb.flags&TF_RXCLOSED != 0
		o.pcbRemoveActive(pcb)
		o.pcbFree(pcb)
		o.stats.tcps_closed++
		if !rxClosed && errf != nil {
			/* Connection closed although the application has only shut down the tx side: call the PCB's err callback and indicate the closure to ensure the application doesn't continue using the PCB. */
			errf(arg, core.ErrClsd)
		}
		return
	}

	/* If the application has registered a "sent" function to be called when new send buffer space is available, we call it now. */
	if pcb.acked > 0 {
		if o.eventSent(pcb, pcb.acked) == CbAbort {
			return
		}
	}

	if in.recvData != nil {
		core.Assert(pcb.refusedData == nil, "pcb->refused_data == NULL")
		data := in.recvData
		in.recvData = nil
		if pcb.flags&TF_RXCLOSED != 0 {
			/* received data although already closed -> abort (send RST) to notify the remote host that not all data has been processed */
			data.Free()
			pcb.Abort()
			return
		}
		/* Notify application that data has been received. */
		switch o.eventRecv(pcb, data, core.ErrOK) {
		case CbAbort:
			return
		case CbRefuse:
			/* If the upper layer can't receive this data, store it */
			o.stats.tcps_rcvrefused++
			pcb.refusedData = data
		}
	}

	/* If a FIN segment was received, we call the callback function with a NULL buffer to indicate EOF. */
	if in.recvFlags&tfGotFin != 0 {
		if pcb.refusedData != nil {
			/* Delay this if we have refused data. */
			pcb.refusedData.Flags |= core.PbufFlagTcpFin
		} else {
			/* correct rcv_wnd as the application won't call tcp_recved() for the FIN's seqno */
			if pcb.rcvWnd != o.cfg.TcpWnd {
				pcb.rcvWnd++
			}
			if o.eventClosed(pcb) == CbAbort {
				return
			}
		}
	}

	o.inputPcb = nil
	/* Try to send something out. */
	pcb.Output()
}

/* application events */

func (o *TcpCtx) cbResult(pcb *Pcb, r CbAction) CbAction {
	if r == CbAbort {
		core.Assert(pcb.freed, "callback returned CbAbort but the pcb %s is alive", pcb)
		return CbAbort
	}
	if pcb.freed {
		/* the callback closed or aborted the pcb */
		return CbAbort
	}
	return r
}

func (o *TcpCtx) eventRecv(pcb *Pcb, p *core.Pbuf, err core.Err) CbAction {
	var r CbAction
	if pcb.recv != nil {
		r = pcb.recv(pcb.callbackArg, pcb, p, err)
	} else {
		r = recvNull(nil, pcb, p, err)
	}
	return o.cbResult(pcb, r)
}

func (o *TcpCtx) eventClosed(pcb *Pcb) CbAction {
	if pcb.recv == nil {
		return CbOK
	}
	return o.cbResult(pcb, pcb.recv(pcb.callbackArg, pcb, nil, core.ErrOK))
}

func (o *TcpCtx) eventSent(pcb *Pcb, acked uint16) CbAction {
	if pcb.sent == nil {
		return CbOK
	}
	return o.cbResult(pcb, pcb.sent(pcb.callbackArg, pcb, acked))
}

func (o *TcpCtx) eventPoll(pcb *Pcb) CbAction {
	if pcb.poll == nil {
		return CbOK
	}
	return o.cbResult(pcb, pcb.poll(pcb.callbackArg, pcb))
}

// processRefusedData offers the refused data to the application again
func (o *TcpCtx) processRefusedData(pcb *Pcb) CbAction {
	refused := pcb.refusedData
	refusedFlags := refused.Flags
	pcb.refusedData = nil
	switch o.eventRecv(pcb, refused, core.ErrOK) {
	case CbOK:
		/* did refused_data include a FIN? */
		if refusedFlags&core.PbufFlagTcpFin != 0 {
			/* correct rcv_wnd as the application won't call tcp_recved() for the FIN's seqno */
			if pcb.rcvWnd != o.cfg.TcpWnd {
				pcb.rcvWnd++
			}
			if o.eventClosed(pcb) == CbAbort {
				return CbAbort
			}
		}
	case CbAbort:
		/* if err == ERR_ABRT, 'pcb' is already deallocated */
		log.Debugf("tcp_input: drop incoming packets, because pcb was aborted")
		return CbAbort
	default:
		/* data is still refused, pbuf is still valid (go on for ACK-only packets) */
		pcb.refusedData = refused
	}
	return CbOK
}

// parseOpt applies the MSS option of a SYN
func (o *TcpCtx) parseOpt(pcb *Pcb) {
	in := &o.in
	if in.flags&TH_SYN == 0 || !in.hasMss {
		return
	}
	/* Limit the mss to the configured TCP_MSS and prevent division by zero */
	if in.mss > o.cfg.TcpMss || in.mss == 0 {
		pcb.mss = o.cfg.TcpMss
	} else {
		pcb.mss = in.mss
	}
}

// listenInput answers a SYN with a SYN|ACK from a new pcb
func (o *TcpCtx) listenInput(lpcb *ListenPcb, hdr *tcpHdr) core.Err {
	in := &o.in
	/* In the LISTEN state, we check for incoming SYN segments, creates a new PCB, and responds with a SYN|ACK. */
	if in.flags&TH_ACK != 0 {
		/* For incoming segments with the ACK flag set, respond with a RST. */
		log.Debugf("tcp_listen_input: ACK in LISTEN, sending reset")
		o.rst(in.ackno, in.seqno+in.tcplen, in.dst, in.src, hdr.dest, hdr.src)
		return core.ErrOK
	}
	if in.flags&TH_SYN == 0 {
		return core.ErrOK
	}
	log.Debugf("TCP connection request %d -> %d.", hdr.src, hdr.dest)
	if lpcb.acceptsPending >= lpcb.backlog {
		log.Debugf("tcp_listen_input: listen backlog exceeded for port %d", lpcb.localPort)
		o.stats.tcps_backlogdrop++
		return core.ErrAbrt
	}
	npcb := o.alloc(lpcb.prio)
	/* If a new PCB could not be created (probably due to lack of memory), we don't do anything, but rely on the sender will retransmit the SYN at a time when we have more memory available. */
	if npcb == nil {
		log.Debugf("tcp_listen_input: could not allocate PCB")
		return core.ErrMem
	}
	lpcb.acceptsPending++

	/* Set up the new PCB. */
	npcb.localIP = in.dst
	npcb.localPort = lpcb.localPort
	npcb.remoteIP = in.src
	npcb.remotePort = hdr.src
	if !o.cfg.LegacyIss {
		iss := o.nextIss(npcb)
		npcb.sndWl2 = iss
		npcb.sndNxt = iss
		npcb.lastack = iss
		npcb.sndLbb = iss
	}
	npcb.state = SynRcvd
	npcb.rcvNxt = in.seqno + 1
	npcb.rcvAnnRightEdge = npcb.rcvNxt
	npcb.sndWnd = hdr.wnd
	npcb.sndWndMax = hdr.wnd
	npcb.ssthresh = npcb.sndWnd
	npcb.sndWl1 = in.seqno - 1 /* initialise to seqno-1 to force window update */
	npcb.callbackArg = lpcb.callbackArg
	npcb.accept = lpcb.accept
	/* inherit socket options */
	npcb.soOptions = lpcb.soOptions & sofInherited

	/* Register the new PCB so that we can begin receiving segments for it. */
	o.regActive(npcb)

	/* Parse any options in the SYN. */
	o.parseOpt(npcb)
	npcb.mss = o.effSendMss(npcb.mss, npcb.remoteIP)

	/* Send a SYN|ACK together with the MSS option. */
	if rc := npcb.enqueueFlags(TH_SYN | TH_ACK); rc != core.ErrOK {
		npcb.Abandon(false)
		return rc
	}
	return npcb.Output()
}

// timewaitInput handles a segment for a TIME_WAIT pcb, RFC 1337
func (o *TcpCtx) timewaitInput(pcb *Pcb, hdr *tcpHdr) core.Err {
	in := &o.in
	/* RFC 1337: in TIME_WAIT, ignore RST and ACK FINs + any 'acceptable' segments */
	if in.flags&TH_RST != 0 {
		return core.ErrOK
	}
	/* - fourth, check the SYN bit, */
	if in.flags&TH_SYN != 0 {
		/* If an incoming segment is not acceptable, an acknowledgment should be sent in reply */
		if seqBetween(in.seqno, pcb.rcvNxt, pcb.rcvNxt+uint32(pcb.rcvWnd)) {
			/* If the SYN is in the window it is an error, send a reset */
			o.rst(in.ackno, in.seqno+in.tcplen, in.dst, in.src, hdr.dest, hdr.src)
			return core.ErrOK
		}
	} else if in.flags&TH_FIN != 0 {
		/* - eighth, check the FIN bit: Remain in the TIME-WAIT state. Restart the 2 MSL time-wait timeout.*/
		pcb.tmr = o.ticks
	}

	if in.tcplen > 0 {
		/* Acknowledge data, FIN or out-of-window SYN */
		pcb.flags |= TF_ACK_NOW
		return pcb.Output()
	}
	return core.ErrOK
}

func (o *TcpCtx) toTimeWait(pcb *Pcb) {
	pcb.ackNow()
	o.pcbPurge(pcb)
	o.rmvActive(pcb)
	pcb.state = TimeWait
	o.reg(&o.twPcbs, pcb)
}

// process implements the state machine for a segment of a connection
func (o *TcpCtx) process(pcb *Pcb) core.Err {
	in := &o.in

	/* Process incoming RST segments. */
	if in.flags&TH_RST != 0 {
		acceptable := false
		/* First, determine if the reset is acceptable. */
		if pcb.state == SynSent {
			if in.ackno == pcb.sndNxt {
				acceptable = true
			}
		} else {
			if seqBetween(in.seqno, pcb.rcvNxt, pcb.rcvNxt+uint32(pcb.rcvWnd)) {
				acceptable = true
			}
		}
		if acceptable {
			log.Debugf("tcp_process: Connection RESET")
			core.Assert(pcb.state != Closed, "tcp_input: pcb->state != CLOSED")
			o.stats.tcps_rcvrst++
			in.recvFlags |= tfReset
			pcb.flags &^= TF_ACK_DELAY
			return core.ErrRst
		}
		log.Debugf("tcp_process: unacceptable reset seqno %d rcv_nxt %d", in.seqno, pcb.rcvNxt)
		return core.ErrOK
	}

	if in.flags&TH_SYN != 0 && pcb.state != SynSent && pcb.state != SynRcvd {
		/* Cope with new connection attempt after remote end crashed */
		pcb.ackNow()
		return core.ErrOK
	}

	if pcb.flags&TF_RXCLOSED == 0 {
		/* Update the PCB (in)activity timer unless rx is closed (see tcp_shutdown) */
		pcb.tmr = o.ticks
	}
	pcb.keepCntSent = 0

	o.parseOpt(pcb)

	/* Do different things depending on the TCP state. */
	switch pcb.state {
	case SynSent:
		/* received SYN ACK with expected sequence number? */
		if in.flags&TH_ACK != 0 && in.flags&TH_SYN != 0 && pcb.unacked != nil &&
			in.ackno == pcb.unacked.hdr.seqno+1 {
			pcb.sndBuf++
			pcb.rcvNxt = in.seqno + 1
			pcb.rcvAnnRightEdge = pcb.rcvNxt
			pcb.lastack = in.ackno
			pcb.sndWnd = in.seg.hdr.wnd
			pcb.sndWndMax = in.seg.hdr.wnd
			pcb.sndWl1 = in.seqno - 1 /* initialise to seqno - 1 to force window update */
			pcb.state = Established

			pcb.mss = o.effSendMss(pcb.mss, pcb.remoteIP)

			/* Set ssthresh again after changing pcb->mss (already set in tcp_connect but for the default value of pcb->mss) */
			pcb.ssthresh = pcb.mss * 10
			if pcb.cwnd == 1 {
				pcb.cwnd = pcb.mss * 2
			} else {
				pcb.cwnd = pcb.mss
			}
			core.Assert(pcb.sndQueuelen > 0, "pcb->snd_queuelen > 0")
			pcb.sndQueuelen--
			rseg := pcb.unacked
			pcb.unacked = rseg.next
			o.segFree(rseg)

			/* If there's nothing left to acknowledge, stop the retransmit timer, otherwise reset it to start again */
			if pcb.unacked == nil {
				pcb.rtime = -1
			} else {
				pcb.rtime = 0
				pcb.nrtx = 0
			}
			o.stats.tcps_connects++

			/* Call the user specified function to call when sucessfully connected. */
			if pcb.connected != nil {
				if o.cbResult(pcb, pcb.connected(pcb.callbackArg, pcb, core.ErrOK)) == CbAbort {
					return core.ErrAbrt
				}
			}
			pcb.ackNow()
		} else if in.flags&TH_ACK != 0 {
			/* received ACK? possibly a half-open connection */
			/* send a RST to bring the other side in a non-synchronized state. */
			o.rst(in.ackno, in.seqno+in.tcplen, in.dst, in.src, in.seg.hdr.dest, in.seg.hdr.src)
		}

	case SynRcvd:
		if in.flags&TH_ACK != 0 {
			/* expected ACK number? */
			if seqBetween(in.ackno, pcb.lastack+1, pcb.sndNxt) {
				pcb.state = Established
				log.Debugf("TCP connection established %d -> %d.", in.seg.hdr.src, in.seg.hdr.dest)
				o.stats.tcps_accepts++
				o.stats.tcps_connects++
				o.acceptDelivered(pcb)

				/* Call the accept function. */
				var r CbAction = CbOK
				if pcb.accept != nil {
					r = o.cbResult(pcb, pcb.accept(pcb.callbackArg, pcb, core.ErrOK))
				}
				if r != CbOK {
					/* If the accept function returns with an error, we abort the connection. */
					/* Already aborted? */
					if r != CbAbort {
						pcb.Abort()
					}
					return core.ErrAbrt
				}
				oldCwnd := pcb.cwnd
				/* If there was any data contained within this ACK, we'd better pass it on to the application as well. */
				o.receive(pcb)

				/* Prevent ACK for SYN to generate a sent event */
				if pcb.acked != 0 {
					pcb.acked--
				}
				if oldCwnd == 1 {
					pcb.cwnd = pcb.mss * 2
				} else {
					pcb.cwnd = pcb.mss
				}
				if in.recvFlags&tfGotFin != 0 {
					pcb.ackNow()
					pcb.state = CloseWait
				}
			} else {
				/* incorrect ACK number, send RST */
				o.rst(in.ackno, in.seqno+in.tcplen, in.dst, in.src, in.seg.hdr.dest, in.seg.hdr.src)
			}
		} else if in.flags&TH_SYN != 0 && in.seqno == pcb.rcvNxt-1 {
			/* Looks like another copy of the SYN - retransmit our SYN-ACK */
			pcb.rexmit()
		}

	case CloseWait, Established:
		o.receive(pcb)
		if in.recvFlags&tfGotFin != 0 { /* passive close */
			pcb.ackNow()
			pcb.state = CloseWait
		}

	case FinWait1:
		o.receive(pcb)
		if in.recvFlags&tfGotFin != 0 {
			if in.flags&TH_ACK != 0 && in.ackno == pcb.sndNxt {
				log.Debugf("TCP connection closed: FIN_WAIT_1 %d -> %d.", in.seg.hdr.src, in.seg.hdr.dest)
				o.toTimeWait(pcb)
			} else {
				pcb.ackNow()
				pcb.state = Closing
			}
		} else if in.flags&TH_ACK != 0 && in.ackno == pcb.sndNxt {
			pcb.state = FinWait2
		}

	case FinWait2:
		o.receive(pcb)
		if in.recvFlags&tfGotFin != 0 {
			log.Debugf("TCP connection closed: FIN_WAIT_2 %d -> %d.", in.seg.hdr.src, in.seg.hdr.dest)
			o.toTimeWait(pcb)
		}

	case Closing:
		o.receive(pcb)
		if in.flags&TH_ACK != 0 && in.ackno == pcb.sndNxt {
			log.Debugf("TCP connection closed: CLOSING %d -> %d.", in.seg.hdr.src, in.seg.hdr.dest)
			o.pcbPurge(pcb)
			o.rmvActive(pcb)
			pcb.state = TimeWait
			o.reg(&o.twPcbs, pcb)
		}

	case LastAck:
		o.receive(pcb)
		if in.flags&TH_ACK != 0 && in.ackno == pcb.sndNxt {
			log.Debugf("TCP connection closed: LAST_ACK %d -> %d.", in.seg.hdr.src, in.seg.hdr.dest)
			/* bugfix #21699: don't set pcb->state to CLOSED here or we risk leaking segments */
			in.recvFlags |= tfClosed
		}
	}
	return core.ErrOK
}

// acceptDelivered releases the backlog slot of the listener of pcb
func (o *TcpCtx) acceptDelivered(pcb *Pcb) {
	for lpcb := o.listenPcbs; lpcb != nil; lpcb = lpcb.next {
		if lpcb.localPort == pcb.localPort && (lpcb.localIP.IsAny() || lpcb.localIP == pcb.localIP) {
			if lpcb.acceptsPending > 0 {
				lpcb.acceptsPending--
			}
			return
		}
	}
}

// oosInsertSegment links cseg in front of next, dropping what cseg covers
func (o *TcpCtx) oosInsertSegment(cseg, next *Seg) {
	if cseg.hdr.flags&TH_FIN != 0 {
		/* received segment overlaps all following segments */
		o.segsFree(next)
		next = nil
	} else {
		/* delete some following segments oos queue may have segments with FIN flag */
		for next != nil && seqGEQ(o.in.seqno+uint32(cseg.len), next.hdr.seqno+uint32(next.len)) {
			/* cseg with FIN already processed */
			if next.hdr.flags&TH_FIN != 0 {
				cseg.hdr.flags |= TH_FIN
			}
			old := next
			next = next.next
			o.segFree(old)
		}
		if next != nil && seqGT(o.in.seqno+uint32(cseg.len), next.hdr.seqno) {
			/* We need to trim the incoming segment. */
			cseg.len = uint16(next.hdr.seqno - o.in.seqno)
			cseg.p.Realloc(cseg.len)
		}
	}
	cseg.next = next
}

// trimFirstEdge drops off bytes at the front of the incoming segment, keeping its first pbuf
func (in *inputSeg) trimFirstEdge(off uint32) {
	p := in.seg.p
	core.Assert(p != nil, "inseg.p != NULL")
	core.Assert(off < 0x7fff, "insane offset!")
	if uint32(p.Len) < off {
		core.Assert(uint32(p.TotLen) >= off, "pbuf too short!")
		newTotLen := p.TotLen - uint16(off)
		for uint32(p.Len) < off {
			off -= uint32(p.Len)
			p.TotLen = newTotLen
			p.Len = 0
			p = p.Next
		}
	}
	if !p.HeaderAdjust(-int(off)) {
		core.Assert(false, "pbuf_header failed")
	}
}

// receive processes the ack and the data of a segment of a synchronized connection
func (o *TcpCtx) receive(pcb *Pcb) {
	in := &o.in
	cfg := o.cfg
	core.Assert(pcb.state >= Established, "tcp_receive: wrong state")

	if in.flags&TH_ACK != 0 {
		rightWndEdge := uint32(pcb.sndWnd) + pcb.sndWl2
		wnd := in.seg.hdr.wnd

		/* Update window. */
		if seqLT(pcb.sndWl1, in.seqno) ||
			(pcb.sndWl1 == in.seqno && seqLT(pcb.sndWl2, in.ackno)) ||
			(pcb.sndWl2 == in.ackno && wnd > pcb.sndWnd) {
			pcb.sndWnd = wnd
			/* keep track of the biggest window announced by the remote host to calculate the maximum segment size */
			if pcb.sndWndMax < wnd {
				pcb.sndWndMax = wnd
			}
			pcb.sndWl1 = in.seqno
			pcb.sndWl2 = in.ackno
			if pcb.sndWnd == 0 {
				if pcb.persistBackoff == 0 {
					/* start persist timer */
					pcb.persistCnt = 0
					pcb.persistBackoff = 1
				}
			} else if pcb.persistBackoff > 0 {
				/* stop persist timer */
				pcb.persistBackoff = 0
			}
		}

		/* (From Stevens TCP/IP Illustrated Vol II, p970.) Its only a duplicate ack if:
		 * 1) It doesn't ACK new data
		 * 2) length of received packet is zero (i.e. no payload)
		 * 3) the advertised window hasn't changed
		 * 4) There is outstanding unacknowledged data (retransmission timer running)
		 * 5) The ACK is == biggest ACK sequence number so far seen (snd_una)
		 */
		if seqLEQ(in.ackno, pcb.lastack) {
			foundDupack := false
			pcb.acked = 0
			/* Clause 2 */
			if in.tcplen == 0 {
				/* Clause 3 */
				if pcb.sndWl2+uint32(pcb.sndWnd) == rightWndEdge {
					/* Clause 4 */
					if pcb.rtime >= 0 {
						/* Clause 5 */
						if pcb.lastack == in.ackno {
							foundDupack = true
							o.stats.tcps_rcvdupack++
							if pcb.dupacks+1 > pcb.dupacks {
								pcb.dupacks++
							}
							if pcb.dupacks > 3 {
								/* Inflate the congestion window, but not if it means that the value overflows. */
								if pcb.cwnd+pcb.mss > pcb.cwnd {
									pcb.cwnd += pcb.mss
								}
							} else if pcb.dupacks == 3 {
								/* Do fast retransmit */
								pcb.rexmitFast()
							}
						}
					}
				}
			}
			/* If Clause (1) or more is true, but not a duplicate ack, reset count of consecutive duplicate acks */
			if !foundDupack {
				pcb.dupacks = 0
			}
		} else if seqBetween(in.ackno, pcb.lastack+1, pcb.sndNxt) {
			/* We come here when the ACK acknowledges new data. */

			/* Reset the "IN Fast Retransmit" flag, since we are no longer in fast retransmit. Also reset the congestion window to the slow start threshold. */
			if pcb.flags&TF_INFR != 0 {
				pcb.flags &^= TF_INFR
				pcb.cwnd = pcb.ssthresh
			}

			/* Reset the number of retransmissions. */
			pcb.nrtx = 0

			/* Reset the retransmission time-out. */
			pcb.rto = (pcb.sa >> 3) + pcb.sv

			/* Update the send buffer space. Diff between the two can never exceed 64K? */
			pcb.acked = uint16(in.ackno - pcb.lastack)
			pcb.sndBuf += pcb.acked
			o.stats.tcps_rcvackpack++
			o.stats.tcps_rcvackbyte += uint64(pcb.acked)

			/* Reset the fast retransmit variables. */
			pcb.dupacks = 0
			pcb.lastack = in.ackno

			/* Update the congestion control variables (cwnd and ssthresh). */
			if pcb.state >= Established {
				if pcb.cwnd < pcb.ssthresh {
					if pcb.cwnd+pcb.mss > pcb.cwnd {
						pcb.cwnd += pcb.mss
					}
					log.Debugf("tcp_receive: slow start cwnd %d", pcb.cwnd)
				} else {
					newCwnd := pcb.cwnd + pcb.mss*pcb.mss/pcb.cwnd
					if newCwnd > pcb.cwnd {
						pcb.cwnd = newCwnd
					}
					log.Debugf("tcp_receive: congestion avoidance cwnd %d", pcb.cwnd)
				}
			}

			/* Remove segment from the unacknowledged list if the incoming ACK acknowlegdes them. */
			for pcb.unacked != nil && seqLEQ(pcb.unacked.hdr.seqno+pcb.unacked.tcpLen(), in.ackno) {
				next := pcb.unacked
				pcb.unacked = next.next
				clen := uint16(next.p.Clen())
				core.Assert(pcb.sndQueuelen >= clen, "pcb->snd_queuelen >= pbuf_clen(next->p)")
				/* Prevent ACK for FIN to generate a sent event */
				if pcb.acked != 0 && next.hdr.flags&TH_FIN != 0 {
					pcb.acked--
				}
				pcb.sndQueuelen -= clen
				o.segFree(next)
				if pcb.sndQueuelen != 0 {
					core.Assert(pcb.unacked != nil || pcb.unsent != nil, "tcp_receive: valid queue length")
				}
			}

			/* If there's nothing left to acknowledge, stop the retransmit timer, otherwise reset it to start again */
			if pcb.unacked == nil {
				pcb.rtime = -1
			} else {
				pcb.rtime = 0
			}
			pcb.polltmr = 0
		} else {
			/* Fix bug bug #21582: out of sequence ACK, didn't really ack anything */
			pcb.acked = 0
		}

		/* We go through the ->unsent list to see if any of the segments on the list are acknowledged by the ACK. This may seem strange since an "unsent" segment shouldn't be acked. The rationale is that lwIP puts all outstanding segments on the ->unsent list after a retransmission, so these segments may in fact have been sent once. */
		for pcb.unsent != nil && seqBetween(in.ackno, pcb.unsent.hdr.seqno+pcb.unsent.tcpLen(), pcb.sndNxt) {
			next := pcb.unsent
			pcb.unsent = next.next
			if pcb.unsent == nil {
				pcb.unsentOversize = 0
			}
			/* Prevent ACK for FIN to generate a sent event */
			if pcb.acked != 0 && next.hdr.flags&TH_FIN != 0 {
				pcb.acked--
			}
			pcb.sndQueuelen -= uint16(next.p.Clen())
			o.segFree(next)
		}
		/* End of ACK for new data processing. */

		/* RTT estimation calculations. This is done by checking if the incoming segment acknowledges the segment we use to take a round-trip time measurement. */
		if pcb.rttest != 0 && seqLT(pcb.rtseq, in.ackno) {
			/* diff between this shouldn't exceed 32K since this are tcp timer ticks and a round-trip shouldn't be that long... */
			m := int16(o.ticks - pcb.rttest)
			log.Debugf("tcp_receive: experienced rtt %d ticks (%d msec).", m, int(m)*int(cfg.TcpSlowTmrInterval()))

			/* Van Jacobson RTT estimator */
			m = m - (pcb.sa >> 3)
			pcb.sa += m
			if m < 0 {
				m = -m
			}
			m = m - (pcb.sv >> 2)
			pcb.sv += m
			pcb.rto = (pcb.sa >> 3) + pcb.sv
			pcb.rttest = 0
		}
	}

	/* If the incoming segment contains data, we must process it further unless the pcb already received a FIN. (RFC 793, chapeter 3.9, "SEGMENT ARRIVES" in states CLOSE-WAIT, CLOSING, LAST-ACK and TIME-WAIT: "Ignore the segment text.") */
	if in.tcplen > 0 && pcb.state < CloseWait {
		/* First, we check if we must trim the first edge. We have to do this if the sequence number of the incoming segment is less than rcv_nxt, and the sequence number plus the length of the segment is larger than rcv_nxt. */
		if seqBetween(pcb.rcvNxt, in.seqno+1, in.seqno+in.tcplen-1) {
			off := pcb.rcvNxt - in.seqno
			in.trimFirstEdge(off)
			in.seg.len -= uint16(off)
			in.seqno = pcb.rcvNxt
			in.seg.hdr.seqno = pcb.rcvNxt
		} else if seqLT(in.seqno, pcb.rcvNxt) {
			/* the whole segment is < rcv_nxt */
			/* must be a duplicate of a packet that has already been correctly handled */
			log.Debugf("tcp_receive: duplicate seqno %d", in.seqno)
			o.stats.tcps_rcvduppack++
			pcb.ackNow()
		}

		/* The sequence number must be within the window (above rcv_nxt and below rcv_nxt + rcv_wnd) in order to be further processed. */
		if seqBetween(in.seqno, pcb.rcvNxt, pcb.rcvNxt+uint32(pcb.rcvWnd)-1) {
			if pcb.rcvNxt == in.seqno {
				o.receiveInSequence(pcb)
			} else {
				o.receiveOutOfSequence(pcb)
			}
		} else {
			/* The incoming segment is not withing the window. */
			pcb.sendEmptyAck()
		}
	} else {
		/* Segments with length 0 is taken care of here. Segments that fall out of the window are ACKed. */
		if !seqBetween(in.seqno, pcb.rcvNxt, pcb.rcvNxt+uint32(pcb.rcvWnd)-1) {
			pcb.ackNow()
		}
	}
}

// receiveInSequence accepts the next in sequence segment and the ooseq segments it makes contiguous
func (o *TcpCtx) receiveInSequence(pcb *Pcb) {
	in := &o.in
	/* The incoming segment is the next in sequence. We check if we have to trim the end of the segment and update rcv_nxt and pass the data to the application. */
	tcplen := in.seg.tcpLen()
	if tcplen > uint32(pcb.rcvWnd) {
		log.Debugf("tcp_receive: other end overran receive window seqno %d len %d right edge %d",
			in.seqno, tcplen, pcb.rcvNxt+uint32(pcb.rcvWnd))
		if in.seg.hdr.flags&TH_FIN != 0 {
			/* Must remove the FIN from the header as we're trimming that byte of sequence-space from the packet */
			in.seg.hdr.flags &^= TH_FIN
		}
		/* Adjust length of segment to fit in the window. */
		in.seg.len = pcb.rcvWnd
		if in.seg.hdr.flags&TH_SYN != 0 {
			in.seg.len--
		}
		in.seg.p.Realloc(in.seg.len)
		tcplen = in.seg.tcpLen()
		core.Assert(in.seqno+tcplen == pcb.rcvNxt+uint32(pcb.rcvWnd), "tcp_receive: segment not trimmed correctly to rcv_wnd")
	}

	/* Received in-sequence data, adjust ooseq data if: - FIN has been received or - inseq overlaps with ooseq */
	if pcb.ooseq != nil {
		if in.seg.hdr.flags&TH_FIN != 0 {
			log.Debugf("tcp_receive: received in-order FIN, binning ooseq queue")
			/* Received in-order FIN means anything that was received out of order must now have been received in-order, so bin the ooseq queue */
			o.segsFree(pcb.ooseq)
			pcb.ooseq = nil
		} else {
			next := pcb.ooseq
			/* Remove all segments on ooseq that are covered by inseg already. FIN is copied from ooseq to inseg if present. */
			for next != nil && seqGEQ(in.seqno+tcplen, next.hdr.seqno+uint32(next.len)) {
				/* inseg cannot have FIN here (already processed above) */
				if next.hdr.flags&TH_FIN != 0 && in.seg.hdr.flags&TH_SYN == 0 {
					in.seg.hdr.flags |= TH_FIN
					tcplen = in.seg.tcpLen()
				}
				prev := next
				next = next.next
				o.segFree(prev)
			}
			/* Now trim right side of inseg if it overlaps with the first segment on ooseq */
			if next != nil && seqGT(in.seqno+tcplen, next.hdr.seqno) {
				/* inseg cannot have FIN here (already processed above) */
				in.seg.len = uint16(next.hdr.seqno - in.seqno)
				if in.seg.hdr.flags&TH_SYN != 0 {
					in.seg.len--
				}
				in.seg.p.Realloc(in.seg.len)
				tcplen = in.seg.tcpLen()
				core.Assert(in.seqno+tcplen == next.hdr.seqno, "tcp_receive: segment not trimmed correctly to ooseq queue")
			}
			pcb.ooseq = next
		}
	}

	pcb.rcvNxt = in.seqno + tcplen

	/* Update the receiver's (our) window. */
	core.Assert(uint32(pcb.rcvWnd) >= tcplen, "tcp_receive: tcplen > rcv_wnd")
	pcb.rcvWnd -= uint16(tcplen)
	pcb.updateRcvAnnWnd()
	o.stats.tcps_rcvpack++
	o.stats.tcps_rcvbyte += uint64(in.seg.len)

	/* If there is data in the segment, we make preparations to pass this up to the application. The ->recv_data variable is used for holding the pbuf that goes to the application. The code for reassembling out-of-sequence data chains its data on this pbuf as well. If the segment was a FIN, we set the TF_GOT_FIN flag that will be used to indicate to the application that the remote side has closed its end of the connection. */
	if in.seg.p.TotLen > 0 {
		in.recvData = in.seg.p
		/* Since this pbuf now is the responsibility of the application, we delete our reference to it so that we won't (mistakingly) deallocate it. */
		in.seg.p = nil
	}
	if in.seg.hdr.flags&TH_FIN != 0 {
		log.Debugf("tcp_receive: received FIN.")
		in.recvFlags |= tfGotFin
	}

	/* We now check if we have segments on the ->ooseq queue that are now in sequence. */
	for pcb.ooseq != nil && pcb.ooseq.hdr.seqno == pcb.rcvNxt {
		cseg := pcb.ooseq
		in.seqno = cseg.hdr.seqno

		pcb.rcvNxt += cseg.tcpLen()
		core.Assert(uint32(pcb.rcvWnd) >= cseg.tcpLen(), "tcp_receive: ooseq tcplen > rcv_wnd")
		pcb.rcvWnd -= uint16(cseg.tcpLen())
		pcb.updateRcvAnnWnd()

		if cseg.p.TotLen > 0 {
			/* Chain this pbuf onto the pbuf that we will pass to the application. */
			if in.recvData != nil {
				core.Cat(in.recvData, cseg.p)
			} else {
				in.recvData = cseg.p
			}
			cseg.p = nil
		}
		if cseg.hdr.flags&TH_FIN != 0 {
			log.Debugf("tcp_receive: dequeued FIN.")
			in.recvFlags |= tfGotFin
			if pcb.state == Established { /* force passive close or we can move to active close */
				pcb.state = CloseWait
			}
		}
		pcb.ooseq = cseg.next
		o.segFree(cseg)
	}

	/* Acknowledge the segment(s). */
	pcb.ack()
}

// receiveOutOfSequence acks and queues a segment above rcv_nxt
func (o *TcpCtx) receiveOutOfSequence(pcb *Pcb) {
	in := &o.in
	/* We get here if the incoming segment is out-of-sequence. */
	pcb.sendEmptyAck()
	o.stats.tcps_rcvoopack++
	if !o.cfg.TcpQueueOoseq {
		return
	}
	seqno := in.seqno

	/* We queue the segment on the ->ooseq queue. */
	if pcb.ooseq == nil {
		pcb.ooseq = o.segCopy(&in.seg)
		return
	}
	/* If the queue is not empty, we walk through the queue and try to find a place where the sequence number of the incoming segment is between the sequence numbers of the previous and the next segment on the ->ooseq queue. That is the place where we put the incoming segment. If needed, we trim the second edges of the previous and the incoming segment so that it will fit into the sequence. If the incoming segment has the same sequence number as a segment on the ->ooseq queue, we discard the segment that contains less data. */
	var prev *Seg
	for next := pcb.ooseq; next != nil; next = next.next {
		if seqno == next.hdr.seqno {
			/* The sequence number of the incoming segment is the same as the sequence number of the segment on ->ooseq. We check the lengths to see which one to discard. */
			if in.seg.len > next.len {
				/* The incoming segment is larger than the old segment. We replace some segments with the new one. */
				cseg := o.segCopy(&in.seg)
				if cseg != nil {
					if prev != nil {
						prev.next = cseg
					} else {
						pcb.ooseq = cseg
					}
					o.oosInsertSegment(cseg, next)
				}
			}
			/* Either the lenghts are the same or the incoming segment was smaller than the old one; in either case, we ditch the incoming segment. */
			return
		}
		if prev == nil {
			if seqLT(seqno, next.hdr.seqno) {
				/* The sequence number of the incoming segment is lower than the sequence number of the first segment on the queue. We put the incoming segment first on the queue. */
				cseg := o.segCopy(&in.seg)
				if cseg != nil {
					pcb.ooseq = cseg
					o.oosInsertSegment(cseg, next)
				}
				return
			}
		} else if seqBetween(seqno, prev.hdr.seqno+1, next.hdr.seqno-1) {
			/* The sequence number of the incoming segment is in between the sequence numbers of the previous and the next segment on ->ooseq. We trim trim the previous segment, delete next segments that included in received segment and trim received, if needed. */
			cseg := o.segCopy(&in.seg)
			if cseg != nil {
				if seqGT(prev.hdr.seqno+uint32(prev.len), seqno) {
					/* We need to trim the prev segment. */
					prev.len = uint16(seqno - prev.hdr.seqno)
					prev.p.Realloc(prev.len)
				}
				prev.next = cseg
				o.oosInsertSegment(cseg, next)
			}
			return
		}
		/* If the "next" segment is the last segment on the ooseq queue, we add the incoming segment to the end of the list. */
		if next.next == nil && seqGT(seqno, next.hdr.seqno) {
			if next.hdr.flags&TH_FIN != 0 {
				/* segment "next" already contains all data */
				return
			}
			next.next = o.segCopy(&in.seg)
			if next.next != nil {
				if seqGT(next.hdr.seqno+uint32(next.len), seqno) {
					/* We need to trim the last segment. */
					next.len = uint16(seqno - next.hdr.seqno)
					next.p.Realloc(next.len)
				}
				/* check if the remote side overruns our receive window */
				if in.tcplen+seqno > pcb.rcvNxt+uint32(pcb.rcvWnd) {
					log.Debugf("tcp_receive: other end overran receive window seqno %d len %d right edge %d",
						seqno, in.tcplen, pcb.rcvNxt+uint32(pcb.rcvWnd))
					if next.next.hdr.flags&TH_FIN != 0 {
						/* Must remove the FIN from the header as we're trimming that byte of sequence-space from the packet */
						next.next.hdr.flags &^= TH_FIN
					}
					/* Adjust length of segment to fit in the window. */
					next.next.len = uint16(pcb.rcvNxt + uint32(pcb.rcvWnd) - seqno)
					next.next.p.Realloc(next.next.len)
				}
			}
			return
		}
		prev = next
	}
}
