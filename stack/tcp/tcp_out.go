// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/h7ga40/uITron3-sub000/stack/ip"
)

/* Write flags */
const (
	WriteFlagCopy uint8 = 0x01 /* data is copied into the stack, otherwise it is referenced until acked */
	WriteFlagMore uint8 = 0x02 /* more data follows, PSH is not set */
)

// putHeader serializes h and the MSS option (when mss != 0) at the payload of p
func putHeader(p *core.Pbuf, h *tcpHdr, mss uint16) {
	t := &layers.TCP{
		SrcPort:    layers.TCPPort(h.src),
		DstPort:    layers.TCPPort(h.dest),
		Seq:        h.seqno,
		Ack:        h.ackno,
		DataOffset: h.hdrlen,
		FIN:        h.flags&TH_FIN != 0,
		SYN:        h.flags&TH_SYN != 0,
		RST:        h.flags&TH_RST != 0,
		PSH:        h.flags&TH_PSH != 0,
		ACK:        h.flags&TH_ACK != 0,
		URG:        h.flags&TH_URG != 0,
		Window:     h.wnd,
		Urgent:     h.urgp,
	}
	if mss != 0 {
		t.Options = []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{byte(mss >> 8), byte(mss)},
		}}
	}
	buf := gopacket.NewSerializeBuffer()
	if err := t.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		core.Assert(false, "tcp header serialize: %v", err)
		return
	}
	b := buf.Bytes()
	core.Assert(len(b) == int(h.hdrlen)*4 && int(p.Len) >= len(b), "tcp header of %d bytes in a %d bytes pbuf", len(b), p.Len)
	copy(p.Payload(), b)
}

// putChksum computes the checksum of the segment at p and stores it in the header
func putChksum(p *core.Pbuf, src, dst core.IP4Addr) {
	hdr := p.Payload()
	hdr[16] = 0
	hdr[17] = 0
	binary.BigEndian.PutUint16(hdr[16:18], core.InetChksumPseudo(p, src, dst, ip.ProtoTCP, p.TotLen))
}

func (o *TcpCtx) ipOutput(p *core.Pbuf, src, dst core.IP4Addr, ttl, tos uint8) core.Err {
	o.stats.tcps_sndtotal++
	err := o.ip.Output(p, src, dst, ttl, tos, ip.ProtoTCP)
	if err != core.ErrOK {
		log.Debugf("tcp output to %s failed, %s", dst, err)
	}
	return err
}

// createSegment builds a segment around p. p holds optlen option bytes followed by the data.
// On failure p is freed.
func (o *Pcb) createSegment(p *core.Pbuf, flags uint8, seqno uint32, optflags uint8) *Seg {
	ctx := o.ctx
	optlen := optLength(optflags)
	seg := ctx.segPool.Alloc()
	if seg == nil {
		log.Debugf("tcp_create_segment: no memory.")
		ctx.stats.tcps_memerr++
		p.Free()
		return nil
	}
	seg.flags = optflags
	seg.next = nil
	seg.p = p
	seg.len = p.TotLen - optlen

	/* build TCP header */
	if !p.HeaderAdjust(TCP_HLEN) {
		log.Debugf("tcp_create_segment: no room for TCP header in pbuf.")
		ctx.stats.tcps_memerr++
		ctx.segFree(seg)
		return nil
	}
	seg.hdr = tcpHdr{
		src:    o.localPort,
		dest:   o.remotePort,
		seqno:  seqno,
		hdrlen: uint8(5 + optlen/4),
		flags:  flags,
	}
	return seg
}

func (o *Pcb) writeChecks(n int) core.Err {
	ctx := o.ctx
	/* connection is in invalid state for data transmission? */
	if o.state != Established && o.state != CloseWait && o.state != SynSent && o.state != SynRcvd {
		log.Debugf("tcp_write() called in invalid state %s", o.state)
		return core.ErrConn
	} else if n == 0 {
		return core.ErrOK
	}
	/* fail on too much data */
	if n > int(o.sndBuf) {
		log.Debugf("tcp_write: too much data (len=%d > snd_buf=%d)", n, o.sndBuf)
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}
	/* If total number of pbufs on the unsent/unacked queues exceeds the configured maximum, return an error */
	if o.sndQueuelen >= ctx.cfg.TcpSndQueueLen || o.sndQueuelen > tcpSndQueueLenMax {
		log.Debugf("tcp_write: too long queue %d (max %d)", o.sndQueuelen, ctx.cfg.TcpSndQueueLen)
		ctx.stats.tcps_memerr++
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}
	if o.sndQueuelen != 0 {
		core.Assert(o.unacked != nil || o.unsent != nil, "tcp_write: pbufs on queue => at least one queue non-empty")
	} else {
		core.Assert(o.unacked == nil && o.unsent == nil, "tcp_write: no pbufs on queue => both queues empty")
	}
	return core.ErrOK
}

// Write enqueues data for sending. Without WriteFlagCopy the data is referenced and must
// stay unchanged until it is acked. The data is sent by Output or by the timers.
func (o *Pcb) Write(data []byte, apiflags uint8) core.Err {
	ctx := o.ctx
	if len(data) > 0xffff {
		return core.ErrArg
	}
	err := o.writeChecks(len(data))
	if err != core.ErrOK || len(data) == 0 {
		return err
	}
	length := uint16(len(data))
	queuelen := o.sndQueuelen

	mssLocal := minU16(o.mss, o.sndWndMax/2)
	if mssLocal == 0 {
		mssLocal = o.mss
	}

	var queue, prevSeg *Seg
	pos := uint16(0)
	for pos < length {
		left := length - pos
		seglen := minU16(left, mssLocal)
		var p *core.Pbuf
		if apiflags&WriteFlagCopy != 0 {
			p = ctx.pbufs.Alloc(core.PbufTransport, seglen, core.PbufRAM)
			if p == nil {
				log.Debugf("tcp_write: could not allocate memory for pbuf copy size %d", seglen)
				goto memerr
			}
			copy(p.Payload(), data[pos:pos+seglen])
		} else {
			/* Copy is not set: First allocate a pbuf for holding the data. */
			p2 := ctx.pbufs.AllocRef(data[pos:pos+seglen], core.PbufROM)
			if p2 == nil {
				log.Debugf("tcp_write: could not allocate memory for zero-copy pbuf")
				goto memerr
			}
			/* Second, allocate a pbuf for the headers. */
			p = ctx.pbufs.Alloc(core.PbufTransport, 0, core.PbufRAM)
			if p == nil {
				p2.Free()
				log.Debugf("tcp_write: could not allocate memory for header pbuf")
				goto memerr
			}
			/* Concatenate the headers and data pbufs together. */
			core.Cat(p, p2)
		}

		queuelen += uint16(p.Clen())
		/* Now that there are more segments queued, we check again if the length of the queue exceeds the configured maximum or overflows. */
		if queuelen > ctx.cfg.TcpSndQueueLen || queuelen > tcpSndQueueLenMax {
			log.Debugf("tcp_write: queue too long %d (%d)", queuelen, ctx.cfg.TcpSndQueueLen)
			p.Free()
			goto memerr
		}

		seg := o.createSegment(p, 0, o.sndLbb+uint32(pos), 0)
		if seg == nil {
			goto memerr
		}
		/* first segment of to-be-queued data? */
		if queue == nil {
			queue = seg
		} else {
			prevSeg.next = seg
		}
		prevSeg = seg
		pos += seglen
	}

	/* Now that the data to be enqueued has been broken up into TCP segments in the queue variable, we add them to the end of the pcb->unsent queue. */
	if o.unsent == nil {
		o.unsent = queue
	} else {
		last := o.unsent
		for last.next != nil {
			last = last.next
		}
		last.next = queue
	}
	o.unsentOversize = 0

	o.sndLbb += uint32(length)
	o.sndBuf -= length
	o.sndQueuelen = queuelen
	ctx.stats.tcps_sndbyte += uint64(length)

	if o.sndQueuelen != 0 {
		core.Assert(o.unacked != nil || o.unsent != nil, "tcp_write: valid queue length")
	}

	/* Set the PSH flag in the last segment that we enqueued. */
	if prevSeg != nil && apiflags&WriteFlagMore == 0 {
		prevSeg.hdr.flags |= TH_PSH
	}
	return core.ErrOK

memerr:
	o.flags |= TF_NAGLEMEMERR
	ctx.stats.tcps_memerr++
	ctx.segsFree(queue)
	return core.ErrMem
}

// enqueueFlags queues a SYN or FIN segment without data
func (o *Pcb) enqueueFlags(flags uint8) core.Err {
	ctx := o.ctx
	core.Assert(flags&(TH_SYN|TH_FIN) != 0, "tcp_enqueue_flags: need either TCP_SYN or TCP_FIN in flags (programmer violates API)")

	/* check for configured max queuelen and possible overflow */
	if o.sndQueuelen >= ctx.cfg.TcpSndQueueLen || o.sndQueuelen > tcpSndQueueLenMax {
		log.Debugf("tcp_enqueue_flags: too long queue %d (max %d)", o.sndQueuelen, ctx.cfg.TcpSndQueueLen)
		ctx.stats.tcps_memerr++
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}

	var optflags uint8
	if flags&TH_SYN != 0 {
		optflags = tfSegOptsMss
	}
	optlen := optLength(optflags)

	/* We need one available snd_buf byte for the SYN or FIN sequence number. */
	if o.sndBuf == 0 {
		log.Debugf("tcp_enqueue_flags: no send buffer available")
		ctx.stats.tcps_memerr++
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}

	p := ctx.pbufs.Alloc(core.PbufTransport, optlen, core.PbufRAM)
	if p == nil {
		ctx.stats.tcps_memerr++
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}
	seg := o.createSegment(p, flags, o.sndLbb, optflags)
	if seg == nil {
		o.flags |= TF_NAGLEMEMERR
		return core.ErrMem
	}
	core.Assert(seg.len == 0, "tcp_enqueue_flags: invalid segment length")

	/* Now append seg to pcb->unsent queue */
	if o.unsent == nil {
		o.unsent = seg
	} else {
		useg := o.unsent
		for useg.next != nil {
			useg = useg.next
		}
		useg.next = seg
	}
	o.unsentOversize = 0

	/* SYN and FIN bump the sequence number */
	o.sndLbb++
	/* optlen does not influence snd_buf */
	o.sndBuf--
	if flags&TH_FIN != 0 {
		o.flags |= TF_FIN
	}
	ctx.stats.tcps_sndctrl++

	/* update number of segments on the queues */
	o.sndQueuelen += uint16(seg.p.Clen())
	if o.sndQueuelen != 0 {
		core.Assert(o.unacked != nil || o.unsent != nil, "tcp_enqueue_flags: invalid queue length")
	}
	return core.ErrOK
}

// sendFin adds a FIN to the last unsent segment or queues a FIN segment
func (o *Pcb) sendFin() core.Err {
	/* first, try to add the fin to the last unsent segment */
	if o.unsent != nil {
		last := o.unsent
		for last.next != nil {
			last = last.next
		}
		if last.hdr.flags&(TH_SYN|TH_FIN|TH_RST) == 0 {
			/* no SYN/FIN/RST flag in the header, we can add the FIN flag */
			last.hdr.flags |= TH_FIN
			o.flags |= TF_FIN
			return core.ErrOK
		}
	}
	/* no data, no length, flags, copy=1, no optdata */
	return o.enqueueFlags(TH_FIN)
}

// Output sends the queued segments the windows and Nagle allow
func (o *Pcb) Output() core.Err {
	ctx := o.ctx
	/* pcb->state LISTEN not allowed here */
	core.Assert(o.state != Listen, "don't call tcp_output for listen-pcbs")

	/* First, check if we are invoked by the TCP input processing code. If so, we do not output anything. Instead, we rely on the input processing code to call us when input processing is done with. */
	if ctx.inputPcb == o {
		return core.ErrOK
	}

	wnd := uint32(minU16(o.sndWnd, o.cwnd))
	seg := o.unsent

	/* If the TF_ACK_NOW flag is set and no data will be sent (either because the ->unsent queue is empty or because the window does not allow it), construct an empty ACK segment and send it. If data is to be sent, we will just piggyback the ACK (see below). */
	if o.flags&TF_ACK_NOW != 0 && (seg == nil || seg.hdr.seqno-o.lastack+uint32(seg.len) > wnd) {
		return o.sendEmptyAck()
	}

	/* useg should point to last segment on unacked queue */
	useg := o.unacked
	if useg != nil {
		for useg.next != nil {
			useg = useg.next
		}
	}

	/* data available and window allows it to be sent? */
	for seg != nil && seg.hdr.seqno-o.lastack+uint32(seg.len) <= wnd {
		core.Assert(seg.hdr.flags&TH_RST == 0, "RST not expected here!")
		/* Stop sending if the nagle algorithm would prevent it. Don't stop: - if tcp_write had a memory error before (prevent delayed ACK timeout) or - if FIN was already enqueued for this PCB (SYN is always alone in a segment - if it is not, nagle will allow) */
		if !o.doOutputNagle() && o.flags&(TF_NAGLEMEMERR|TF_FIN) == 0 {
			break
		}
		o.unsent = seg.next

		if o.state != SynSent {
			seg.hdr.flags |= TH_ACK
			o.flags &^= TF_ACK_DELAY | TF_ACK_NOW
		}

		o.outputSegment(seg)
		sndNxt := seg.hdr.seqno + seg.tcpLen()
		if seqLT(o.sndNxt, sndNxt) {
			o.sndNxt = sndNxt
		}
		/* put segment on unacknowledged list if length > 0 */
		if seg.tcpLen() > 0 {
			seg.next = nil
			/* unacked list is empty? */
			if o.unacked == nil {
				o.unacked = seg
				useg = seg
			} else {
				/* In the case of fast retransmit, the packet should not go to the tail of the unacked queue, but rather somewhere before it. */
				if seqLT(seg.hdr.seqno, useg.hdr.seqno) {
					/* add segment to before tail of unacked list, keeping the list sorted */
					cur := &o.unacked
					for *cur != nil && seqLT((*cur).hdr.seqno, seg.hdr.seqno) {
						cur = &(*cur).next
					}
					seg.next = *cur
					*cur = seg
				} else {
					/* add segment to tail of unacked list */
					useg.next = seg
					useg = seg
				}
			}
		} else {
			/* do not queue empty segments on the unacked list */
			ctx.segFree(seg)
		}
		seg = o.unsent
	}

	if o.unsent == nil {
		/* last unsent has been removed, reset unsent_oversize */
		o.unsentOversize = 0
	}
	o.flags &^= TF_NAGLEMEMERR
	return core.ErrOK
}

// outputSegment fills the ack and window of a queued segment and sends it
func (o *Pcb) outputSegment(seg *Seg) {
	ctx := o.ctx
	/* The TCP header has already been constructed, but the ackno and wnd fields remain. */
	seg.hdr.ackno = o.rcvNxt

	/* advertise our receive window size in this TCP segment */
	seg.hdr.wnd = o.rcvAnnWnd
	o.rcvAnnRightEdge = o.rcvNxt + uint32(o.rcvAnnWnd)

	/* Add any requested options.  NB MSS option is only set on SYN packets, so ignore it here */
	var mss uint16
	if seg.flags&tfSegOptsMss != 0 {
		mss = ctx.effSendMss(ctx.cfg.TcpMss, o.remoteIP)
	}

	/* Set retransmission timer running if it is not currently enabled. This must be set before checking the route. */
	if o.rtime == -1 {
		o.rtime = 0
	}

	/* If we don't have a local IP address, we get one by calling ip_route(). */
	if o.localIP.IsAny() {
		netif := ctx.ip.Route(o.remoteIP)
		if netif == nil {
			return
		}
		o.localIP = netif.Addr
	}

	if o.rttest == 0 {
		o.rttest = ctx.ticks
		o.rtseq = seg.hdr.seqno
		log.Debugf("tcp_output_segment: rtseq %d", o.rtseq)
	}

	putHeader(seg.p, &seg.hdr, mss)
	putChksum(seg.p, o.localIP, o.remoteIP)
	if seg.len > 0 {
		ctx.stats.tcps_sndpack++
	}
	ctx.ipOutput(seg.p, o.localIP, o.remoteIP, o.ttl, o.tos)
}

// outputAllocHeader allocates a segment with an ACK header and room for datalen bytes
func (o *Pcb) outputAllocHeader(optlen, datalen uint16, seqno uint32) (*core.Pbuf, *tcpHdr) {
	p := o.ctx.pbufs.Alloc(core.PbufIP, TCP_HLEN+optlen+datalen, core.PbufRAM)
	if p == nil {
		return nil, nil
	}
	h := &tcpHdr{
		src:    o.localPort,
		dest:   o.remotePort,
		seqno:  seqno,
		ackno:  o.rcvNxt,
		hdrlen: uint8(5 + optlen/4),
		flags:  TH_ACK,
		wnd:    o.rcvAnnWnd,
	}
	/* If we're sending a packet, update the announced right window edge */
	o.rcvAnnRightEdge = o.rcvNxt + uint32(o.rcvAnnWnd)
	return p, h
}

// sendEmptyAck sends an ACK without data
func (o *Pcb) sendEmptyAck() core.Err {
	ctx := o.ctx
	p, h := o.outputAllocHeader(0, 0, o.sndNxt)
	if p == nil {
		log.Debugf("tcp_output: (ACK) could not allocate pbuf")
		ctx.stats.tcps_memerr++
		return core.ErrBuf
	}
	/* remove ACK flags from the PCB, as we send an empty ACK now */
	o.flags &^= TF_ACK_DELAY | TF_ACK_NOW
	putHeader(p, h, 0)
	putChksum(p, o.localIP, o.remoteIP)
	ctx.stats.tcps_sndacks++
	ctx.ipOutput(p, o.localIP, o.remoteIP, o.ttl, o.tos)
	p.Free()
	return core.ErrOK
}

// rst sends a RST, it does not need a pcb
func (o *TcpCtx) rst(seqno, ackno uint32, localIP, remoteIP core.IP4Addr, localPort, remotePort uint16) {
	p := o.pbufs.Alloc(core.PbufIP, TCP_HLEN, core.PbufRAM)
	if p == nil {
		log.Debugf("tcp_rst: could not allocate memory for pbuf")
		o.stats.tcps_memerr++
		return
	}
	h := &tcpHdr{
		src:    localPort,
		dest:   remotePort,
		seqno:  seqno,
		ackno:  ackno,
		hdrlen: 5,
		flags:  TH_RST | TH_ACK,
		wnd:    o.cfg.TcpWnd,
	}
	putHeader(p, h, 0)
	putChksum(p, localIP, remoteIP)
	o.stats.tcps_sndrst++
	o.ipOutput(p, localIP, remoteIP, o.cfg.TcpTtl, 0)
	p.Free()
	log.Debugf("tcp_rst: seqno %d ackno %d", seqno, ackno)
}

// rexmitRto moves all unacked segments back to unsent and sends them
func (o *Pcb) rexmitRto() {
	if o.unacked == nil {
		return
	}
	/* Move all unacked segments to the head of the unsent queue */
	seg := o.unacked
	for seg.next != nil {
		seg = seg.next
	}
	/* concatenate unsent queue after unacked queue */
	seg.next = o.unsent
	/* unsent queue is the concatenated queue (of unacked, unsent) */
	o.unsent = o.unacked
	/* unacked queue is now empty */
	o.unacked = nil

	/* increment number of retransmissions */
	o.nrtx++
	/* Don't take any RTT measurements after retransmitting. */
	o.rttest = 0
	/* Do the actual retransmission */
	o.Output()
}

// rexmit moves the first unacked segment back to unsent, keeping unsent sorted.
// It is called from input processing, the segment goes out when the input is done.
func (o *Pcb) rexmit() {
	if o.unacked == nil {
		return
	}
	seg := o.unacked
	o.unacked = seg.next

	cur := &o.unsent
	for *cur != nil && seqLT((*cur).hdr.seqno, seg.hdr.seqno) {
		cur = &(*cur).next
	}
	seg.next = *cur
	*cur = seg

	o.nrtx++
	/* Don't take any rtt measurements after retransmitting. */
	o.rttest = 0
}

// rexmitFast handles the third duplicate ack
func (o *Pcb) rexmitFast() {
	if o.unacked == nil || o.flags&TF_INFR != 0 {
		return
	}
	/* This is fast retransmit. Retransmit the first unacked segment. */
	log.Debugf("tcp_receive: dupacks %d (%d), fast retransmit %d", o.dupacks, o.lastack, o.unacked.hdr.seqno)
	o.ctx.stats.tcps_fastrexmt++
	o.rexmit()

	/* Set ssthresh to half of the minimum of the current cwnd and the advertised window */
	if o.cwnd > o.sndWnd {
		o.ssthresh = o.sndWnd / 2
	} else {
		o.ssthresh = o.cwnd / 2
	}
	/* The minimum value for ssthresh should be 2 MSS */
	if o.ssthresh < 2*o.mss {
		o.ssthresh = 2 * o.mss
	}
	o.cwnd = o.ssthresh + 3*o.mss
	o.flags |= TF_INFR
}

// keepalive sends an empty ACK one below snd_nxt to trigger an ACK from the remote side
func (o *Pcb) keepalive() {
	ctx := o.ctx
	log.Debugf("tcp_keepalive: sending KEEPALIVE to %s", o.remoteIP)
	p, h := o.outputAllocHeader(0, 0, o.sndNxt-1)
	if p == nil {
		log.Debugf("tcp_keepalive: could not allocate memory for pbuf")
		ctx.stats.tcps_memerr++
		return
	}
	putHeader(p, h, 0)
	putChksum(p, o.localIP, o.remoteIP)
	ctx.stats.tcps_keepsent++
	ctx.ipOutput(p, o.localIP, o.remoteIP, o.ttl, 0)
	p.Free()
}

// sendWindowCheck sends one byte (or the FIN) of the first outstanding segment
func (o *Pcb) sendWindowCheck() {
	ctx := o.ctx
	seg := o.unacked
	if seg == nil {
		seg = o.unsent
	}
	if seg == nil {
		return
	}
	isFin := seg.hdr.flags&TH_FIN != 0 && seg.len == 0
	/* we want to send one seqno: either FIN or data (no options) */
	var length uint16 = 1
	if isFin {
		length = 0
	}
	p, h := o.outputAllocHeader(0, length, seg.hdr.seqno)
	if p == nil {
		log.Debugf("tcp_zero_window: no memory for pbuf")
		ctx.stats.tcps_memerr++
		return
	}
	if isFin {
		/* FIN segment, no data */
		h.flags = TH_ACK | TH_FIN
	}
	putHeader(p, h, 0)
	if !isFin {
		/* Data segment, copy in one byte from the head of the unacked queue */
		var d [1]byte
		seg.p.CopyPartial(d[:], seg.p.TotLen-seg.len)
		p.Payload()[TCP_HLEN] = d[0]
	}
	putChksum(p, o.localIP, o.remoteIP)
	ctx.stats.tcps_sndwinchk++
	ctx.ipOutput(p, o.localIP, o.remoteIP, o.ttl, 0)
	p.Free()
}
