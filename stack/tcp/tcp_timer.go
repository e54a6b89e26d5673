// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"github.com/h7ga40/uITron3-sub000/stack/core"
)

// OnTimeout runs the tcp timer and re-arms it while there are pcbs to serve
func (o *TcpCtx) OnTimeout(arg interface{}) {
	o.Tmr()
	if o.activePcbs != nil || o.twPcbs != nil {
		if o.tmo.Timeout(o.cfg.TcpTmrInterval, o, nil) == core.ErrOK {
			return
		}
		log.Warningf("tcp timer could not be re-armed")
	}
	o.timerActive = false
}

// timerNeeded starts the timer when the first pcb shows up on the active or TIME-WAIT list
func (o *TcpCtx) timerNeeded() {
	if o.timerActive || o.tmo == nil {
		return
	}
	if o.activePcbs == nil && o.twPcbs == nil {
		return
	}
	if o.tmo.Timeout(o.cfg.TcpTmrInterval, o, nil) == core.ErrOK {
		o.timerActive = true
	}
}

// TimerActive true while the periodic timer is scheduled
func (o *TcpCtx) TimerActive() bool {
	return o.timerActive
}

// Tmr is called every TcpTmrInterval msec. It runs the fast timer on every call
// and the slow timer on every second one.
func (o *TcpCtx) Tmr() {
	o.fasttmr()
	o.timer++
	if o.timer&1 != 0 {
		o.slowtmr()
	}
}

// fasttmr sends the delayed acks and offers refused data again
func (o *TcpCtx) fasttmr() {
	o.timerCtr++

restart:
	pcb := o.activePcbs
	for pcb != nil {
		if pcb.lastTimer == o.timerCtr {
			pcb = pcb.next
			continue
		}
		pcb.lastTimer = o.timerCtr
		/* send delayed ACKs */
		if pcb.flags&TF_ACK_DELAY != 0 {
			log.Debugf("tcp_fasttmr: delayed ACK")
			pcb.ackNow()
			pcb.Output()
			pcb.flags &^= TF_ACK_DELAY | TF_ACK_NOW
		}
		next := pcb.next

		/* If there is data which was previously "refused" by upper layer */
		if pcb.refusedData != nil {
			o.activePcbsChanged = false
			o.processRefusedData(pcb)
			if o.activePcbsChanged {
				/* application callback has changed the pcb list: restart the loop */
				goto restart
			}
		}
		pcb = next
	}
}

// slowRemove reports why an active pcb has to go, reset is true when the peer is told with a RST
func (o *TcpCtx) slowRemove(pcb *Pcb) (remove bool, reset bool) {
	cfg := o.cfg
	idle := o.ticks - pcb.tmr

	if pcb.state == SynSent && pcb.nrtx == cfg.TcpSynMaxRtx {
		log.Debugf("tcp_slowtmr: max SYN retries reached")
		o.stats.tcps_timeoutdrop++
		remove = true
	} else if pcb.nrtx == cfg.TcpMaxRtx {
		log.Debugf("tcp_slowtmr: max DATA retries reached")
		o.stats.tcps_timeoutdrop++
		remove = true
	} else {
		if pcb.persistBackoff > 0 {
			/* If snd_wnd is zero, use persist timer to send 1 byte segments instead of using the standard retransmission mechanism. */
			pcb.persistCnt++
			if pcb.persistCnt >= tcp_persist_backoff[pcb.persistBackoff-1] {
				pcb.persistCnt = 0
				if int(pcb.persistBackoff) < len(tcp_persist_backoff) {
					pcb.persistBackoff++
				}
				o.stats.tcps_persisttimeo++
				pcb.sendWindowCheck()
			}
		} else {
			/* Increase the retransmission timer if it is running */
			if pcb.rtime >= 0 {
				pcb.rtime++
			}
			if pcb.unacked != nil && pcb.rtime >= pcb.rto {
				log.Debugf("tcp_slowtmr: rtime %d pcb->rto %d", pcb.rtime, pcb.rto)
				/* Double retransmission time-out unless we are trying to connect to somebody (i.e., we are in SYN_SENT). */
				if pcb.state != SynSent {
					pcb.rto = ((pcb.sa >> 3) + pcb.sv) << tcp_backoff[pcb.nrtx]
				}
				/* Reset the retransmission timer. */
				pcb.rtime = 0

				/* Reduce congestion window and ssthresh. */
				effWnd := minU16(pcb.cwnd, pcb.sndWnd)
				pcb.ssthresh = effWnd >> 1
				if pcb.ssthresh < pcb.mss<<1 {
					pcb.ssthresh = pcb.mss << 1
				}
				pcb.cwnd = pcb.mss
				o.stats.tcps_rexmttimeo++
				/* The following needs to be called AFTER cwnd is set to one mss */
				pcb.rexmitRto()
			}
		}
	}

	/* Check if this PCB has stayed too long in FIN-WAIT-2 */
	if pcb.state == FinWait2 {
		/* If this PCB is in FIN_WAIT_2 because of SHUT_WR don't let it time out. */
		if pcb.flags&TF_RXCLOSED != 0 && idle > o.slowTicks(cfg.TcpFinWaitTimeout) {
			log.Debugf("tcp_slowtmr: removing pcb stuck in FIN-WAIT-2")
			o.stats.tcps_finwaitdrop++
			remove = true
		}
	}

	/* Check if KEEPALIVE should be sent */
	if pcb.soOptions&SOF_KEEPALIVE != 0 && (pcb.state == Established || pcb.state == CloseWait) {
		if idle > o.slowTicks(pcb.keepIdle+cfg.TcpKeepCnt*cfg.TcpKeepIntvl) {
			log.Debugf("tcp_slowtmr: KEEPALIVE timeout. Aborting connection to %s", pcb.remoteIP)
			o.stats.tcps_keepdrops++
			remove = true
			reset = true
		} else if idle > o.slowTicks(pcb.keepIdle+uint32(pcb.keepCntSent)*cfg.TcpKeepIntvl) {
			pcb.keepalive()
			pcb.keepCntSent++
		}
	}

	/* If this PCB has queued out of sequence data, but has been inactive for too long, will drop the data (it will eventually be retransmitted). */
	if pcb.ooseq != nil && idle >= uint32(pcb.rto)*cfg.TcpOoseqTimeout {
		o.segsFree(pcb.ooseq)
		pcb.ooseq = nil
		o.stats.tcps_ooseqdrop++
		log.Debugf("tcp_slowtmr: dropping OOSEQ queued data")
	}

	/* Check if this PCB has stayed too long in SYN-RCVD */
	if pcb.state == SynRcvd && idle > o.slowTicks(cfg.TcpSynRcvdTimeout) {
		log.Debugf("tcp_slowtmr: removing pcb stuck in SYN-RCVD")
		o.stats.tcps_synrcvddrop++
		remove = true
	}

	/* Check if this PCB has stayed too long in LAST-ACK */
	if pcb.state == LastAck && idle > o.slowTicks(2*cfg.TcpMsl) {
		log.Debugf("tcp_slowtmr: removing pcb stuck in LAST-ACK")
		o.stats.tcps_lastackdrop++
		remove = true
	}
	return
}

// slowtmr runs the retransmission, persist, keepalive and state timeouts
func (o *TcpCtx) slowtmr() {
	o.ticks++
	o.timerCtr++

restart:
	var prev *Pcb
	pcb := o.activePcbs
	for pcb != nil {
		if pcb.lastTimer == o.timerCtr {
			/* skip this pcb, we have already processed it */
			prev = pcb
			pcb = pcb.next
			continue
		}
		pcb.lastTimer = o.timerCtr

		remove, reset := o.slowRemove(pcb)
		if remove {
			o.pcbPurge(pcb)
			/* Remove PCB from tcp_active_pcbs list. */
			if prev != nil {
				core.Assert(pcb != o.activePcbs, "tcp_slowtmr: middle tcp != tcp_active_pcbs")
				prev.next = pcb.next
			} else {
				core.Assert(o.activePcbs == pcb, "tcp_slowtmr: first pcb == tcp_active_pcbs")
				o.activePcbs = pcb.next
			}
			if reset {
				o.rst(pcb.sndNxt, pcb.rcvNxt, pcb.localIP, pcb.remoteIP, pcb.localPort, pcb.remotePort)
			}
			errf, arg := pcb.errf, pcb.callbackArg
			dead := pcb
			pcb = pcb.next
			dead.next = nil
			o.pcbFree(dead)
			o.stats.tcps_closed++

			o.activePcbsChanged = false
			if errf != nil {
				errf(arg, core.ErrAbrt)
			}
			if o.activePcbsChanged {
				goto restart
			}
			continue
		}

		/* get the 'next' element now and work with 'prev' below (in case of abort) */
		prev = pcb
		pcb = pcb.next

		/* We check if we should poll the connection. */
		prev.polltmr++
		if prev.polltmr >= prev.pollinterval {
			prev.polltmr = 0
			log.Debugf("tcp_slowtmr: polling application")
			o.activePcbsChanged = false
			r := o.eventPoll(prev)
			if o.activePcbsChanged {
				goto restart
			}
			/* if the callback aborted, 'prev' is already deallocated */
			if r != CbAbort {
				prev.Output()
			}
		}
	}

	/* Steps through all of the TIME-WAIT PCBs. */
	prev = nil
	pcb = o.twPcbs
	for pcb != nil {
		core.Assert(pcb.state == TimeWait, "tcp_slowtmr: TIME-WAIT pcb->state == TIME-WAIT")
		/* Check if this PCB has stayed long enough in TIME-WAIT */
		if o.ticks-pcb.tmr > o.slowTicks(2*o.cfg.TcpMsl) {
			o.pcbPurge(pcb)
			/* Remove PCB from tcp_tw_pcbs list. */
			if prev != nil {
				prev.next = pcb.next
			} else {
				o.twPcbs = pcb.next
			}
			dead := pcb
			pcb = pcb.next
			dead.next = nil
			o.pcbFree(dead)
		} else {
			prev = pcb
			pcb = pcb.next
		}
	}
}
