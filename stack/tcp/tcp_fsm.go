// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

/*
 * TCP FSM state definitions.
 * Per RFC793, September, 1981.
 */

// State of a pcb
type State uint8

const (
	TCP_NSTATES = 11

	Closed      State = 0  /* closed */
	Listen      State = 1  /* listening for connection */
	SynSent     State = 2  /* active, have sent syn */
	SynRcvd     State = 3  /* have send and received syn */
	Established State = 4  /* established */
	FinWait1    State = 5  /* have closed, sent fin */
	FinWait2    State = 6  /* have closed, fin is acked */
	CloseWait   State = 7  /* rcvd fin, waiting for close */
	Closing     State = 8  /* closed xchd FIN; await FIN ACK */
	LastAck     State = 9  /* had fin and close; await FIN ACK */
	TimeWait    State = 10 /* in 2*msl quiet wait after close */
)

var tcpstatename = [...]string{
	"CLOSED", "LISTEN", "SYN_SENT", "SYN_RCVD",
	"ESTABLISHED", "FIN_WAIT_1", "FIN_WAIT_2", "CLOSE_WAIT",
	"CLOSING", "LAST_ACK", "TIME_WAIT",
}

func (o State) String() string {
	if int(o) < len(tcpstatename) {
		return tcpstatename[o]
	}
	return "UNKNOWN"
}

// IsSynchronized true once the three way handshake is done
func (o State) IsSynchronized() bool {
	return o >= Established
}

/* header flags */
const (
	TH_FIN uint8 = 0x01
	TH_SYN uint8 = 0x02
	TH_RST uint8 = 0x04
	TH_PSH uint8 = 0x08
	TH_ACK uint8 = 0x10
	TH_URG uint8 = 0x20
)

/* pcb flags */
const (
	TF_ACK_DELAY   uint8 = 0x01 /* Delayed ACK. */
	TF_ACK_NOW     uint8 = 0x02 /* Immediate ACK. */
	TF_INFR        uint8 = 0x04 /* In fast recovery. */
	TF_TIMESTAMP   uint8 = 0x08 /* Timestamp option enabled */
	TF_RXCLOSED    uint8 = 0x10 /* rx closed by tcp_shutdown */
	TF_FIN         uint8 = 0x20 /* Connection was closed locally (FIN segment enqueued). */
	TF_NODELAY     uint8 = 0x40 /* Disable Nagle algorithm */
	TF_NAGLEMEMERR uint8 = 0x80 /* nagle enabled, memerr, try to output to prevent delayed ACK to happen */
)

/* input recv_flags */
const (
	tfReset  uint8 = 0x08 /* Connection was reset. */
	tfClosed uint8 = 0x10 /* Connection was sucessfully closed. */
	tfGotFin uint8 = 0x20 /* Connection was closed by the remote end. */
)

/* socket options */
const (
	SOF_REUSEADDR  uint8 = 0x04
	SOF_KEEPALIVE  uint8 = 0x08
	SOF_ACCEPTCONN uint8 = 0x02
	sofInherited         = SOF_REUSEADDR | SOF_KEEPALIVE
)

const (
	TCP_PRIO_MIN    uint8 = 1
	TCP_PRIO_NORMAL uint8 = 64
	TCP_PRIO_MAX    uint8 = 127
)

const (
	TCP_HLEN = 20

	tfSegOptsMss      uint8 = 0x01
	tcpSndQueueLenMax       = 0xffff - 3
)

var tcp_backoff = [...]uint8{1, 2, 3, 4, 5, 6, 7, 7, 7, 7, 7, 7, 7}

var tcp_persist_backoff = [...]uint8{3, 6, 12, 24, 48, 96, 120}

/* sequence number arithmetic */

func seqLT(a, b uint32) bool  { return int32(a-b) < 0 }
func seqLEQ(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGT(a, b uint32) bool  { return int32(a-b) > 0 }
func seqGEQ(a, b uint32) bool { return int32(a-b) >= 0 }

// seqBetween b <= a <= c
func seqBetween(a, b, c uint32) bool {
	return seqGEQ(a, b) && seqLEQ(a, c)
}

func optLength(optFlags uint8) uint16 {
	if optFlags&tfSegOptsMss != 0 {
		return 4
	}
	return 0
}
