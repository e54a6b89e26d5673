// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import "github.com/h7ga40/uITron3-sub000/stack/core"

type TcpStats struct {
	tcps_connattempt uint64 /* connections initiated */
	tcps_accepts     uint64 /* connections accepted */
	tcps_connects    uint64 /* connections established */
	tcps_closed      uint64 /* conn. closed (includes drops) */
	tcps_attemptfail uint64 /* connection attempts that failed */
	tcps_estabresets uint64 /* established connections closed */
	tcps_backlogdrop uint64 /* SYN dropped, backlog full */

	tcps_sndtotal  uint64 /* total packets sent */
	tcps_sndpack   uint64 /* data packets sent */
	tcps_sndbyte   uint64 /* data bytes queued by application layer */
	tcps_sndctrl   uint64 /* control (SYN|FIN) segments queued */
	tcps_sndacks   uint64 /* ack-only packets sent */
	tcps_sndrst    uint64 /* RST packets sent */
	tcps_sndwinchk uint64 /* zero window checks sent */
	tcps_keepsent  uint64 /* keepalives sent */

	tcps_rcvtotal   uint64 /* total packets received */
	tcps_rcvpack    uint64 /* packets received in sequence */
	tcps_rcvbyte    uint64 /* bytes received in sequence */
	tcps_rcvoopack  uint64 /* out-of-order packets received */
	tcps_rcvduppack uint64 /* duplicate-only packets received */
	tcps_rcvdupack  uint64 /* rcvd duplicate acks */
	tcps_rcvackpack uint64 /* rcvd ack packets */
	tcps_rcvackbyte uint64 /* bytes acked by rcvd acks */
	tcps_rcvbadsum  uint64 /* packets received with ccksum errs */
	tcps_rcvshort   uint64 /* packets received too short */
	tcps_rcvbadoff  uint64 /* packets received with bad offset */
	tcps_rcvrst     uint64 /* acceptable RST received */
	tcps_rcvbcast   uint64 /* broadcast/multicast dropped */
	tcps_noport     uint64 /* no pcb, answered with RST */
	tcps_rcvrefused uint64 /* data refused by the application */

	tcps_rexmttimeo   uint64 /* retransmit timeouts */
	tcps_fastrexmt    uint64 /* fast retransmits */
	tcps_persisttimeo uint64 /* persist timeouts */
	tcps_keepdrops    uint64 /* connections dropped in keepalive */
	tcps_timeoutdrop  uint64 /* conn. dropped in rxmt timeout */
	tcps_finwaitdrop  uint64 /* FIN_WAIT_2 timed out */
	tcps_synrcvddrop  uint64 /* SYN_RCVD timed out */
	tcps_lastackdrop  uint64 /* LAST_ACK timed out */
	tcps_ooseqdrop    uint64 /* ooseq queue dropped by timer or memory */
	tcps_killtw       uint64 /* TIME_WAIT pcb killed for memory */
	tcps_killprio     uint64 /* active pcb killed for memory */

	tcps_memerr  uint64 /* out of pcb, segment or pbuf */
	tcps_proterr uint64 /* protocol errors */
	tcps_porterr uint64 /* local port space exhausted */
	tcps_drops   uint64 /* connections dropped */
	tcps_rx_drop uint64 /* received segments dropped */
}

func NewTcpStatsDb(o *TcpStats) *core.CCounterDb {
	db := core.NewCCounterDb("tcp")

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_connattempt,
		Name:     "connattempt",
		Help:     "connect attempt",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_accepts,
		Name:     "accepts",
		Help:     "connections accepted",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_connects,
		Name:     "connects",
		Help:     "connections established",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_closed,
		Name:     "closed",
		Help:     "conn. closed (includes drops)",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_attemptfail,
		Name:     "attemptfail",
		Help:     "connection attempts that failed",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_estabresets,
		Name:     "estabresets",
		Help:     "established connections closed",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_backlogdrop,
		Name:     "backlogdrop",
		Help:     "SYN dropped, listen backlog is full",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndtotal,
		Name:     "sndtotal",
		Help:     "total packets sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndpack,
		Name:     "sndpack",
		Help:     "data packets sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndbyte,
		Name:     "sndbyte",
		Help:     "data bytes queued by the application",
		Unit:     "bytes",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndctrl,
		Name:     "sndctrl",
		Help:     "control (SYN|FIN) segments queued",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndacks,
		Name:     "sndacks",
		Help:     "ack-only packets sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndrst,
		Name:     "sndrst",
		Help:     "RST packets sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_sndwinchk,
		Name:     "sndwinchk",
		Help:     "zero window checks sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_keepsent,
		Name:     "keepsent",
		Help:     "keepalives sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvtotal,
		Name:     "rcvtotal",
		Help:     "total packets received",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvpack,
		Name:     "rcvpack",
		Help:     "packets received in sequence",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvbyte,
		Name:     "rcvbyte",
		Help:     "bytes received in sequence",
		Unit:     "bytes",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvoopack,
		Name:     "rcvoopack",
		Help:     "out-of-order packets received",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvduppack,
		Name:     "rcvduppack",
		Help:     "duplicate-only packets received",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvdupack,
		Name:     "rcvdupack",
		Help:     "rcvd duplicate acks",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvackpack,
		Name:     "rcvackpack",
		Help:     "rcvd ack packets",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvackbyte,
		Name:     "rcvackbyte",
		Help:     "tx bytes acked by rcvd acks",
		Unit:     "bytes",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvbadsum,
		Name:     "rcvbadsum",
		Help:     "packets received with checksum errors",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvshort,
		Name:     "rcvshort",
		Help:     "packets received too short",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvbadoff,
		Name:     "rcvbadoff",
		Help:     "packets received with bad offset",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvrst,
		Name:     "rcvrst",
		Help:     "acceptable RST received",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvbcast,
		Name:     "rcvbcast",
		Help:     "broadcast or multicast segment dropped",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_noport,
		Name:     "noport",
		Help:     "no pcb for the segment, RST sent",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rcvrefused,
		Name:     "rcvrefused",
		Help:     "data refused by the application",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rexmttimeo,
		Name:     "rexmttimeo",
		Help:     "retransmit timeouts",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_fastrexmt,
		Name:     "fastrexmt",
		Help:     "fast retransmits",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_persisttimeo,
		Name:     "persisttimeo",
		Help:     "persist timeouts",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_keepdrops,
		Name:     "keepdrops",
		Help:     "connections dropped in keepalive",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_timeoutdrop,
		Name:     "timeoutdrop",
		Help:     "conn. dropped in rxmt timeout",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_finwaitdrop,
		Name:     "finwaitdrop",
		Help:     "FIN_WAIT_2 timed out",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_synrcvddrop,
		Name:     "synrcvddrop",
		Help:     "SYN_RCVD timed out",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_lastackdrop,
		Name:     "lastackdrop",
		Help:     "LAST_ACK timed out",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_ooseqdrop,
		Name:     "ooseqdrop",
		Help:     "out of order queue dropped",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_killtw,
		Name:     "killtw",
		Help:     "TIME_WAIT pcb killed, out of pcbs",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScWARNING})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_killprio,
		Name:     "killprio",
		Help:     "active pcb killed, out of pcbs",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScWARNING})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_memerr,
		Name:     "memerr",
		Help:     "out of pcb, segment or pbuf",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_proterr,
		Name:     "proterr",
		Help:     "protocol errors",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_porterr,
		Name:     "porterr",
		Help:     "local port range exhausted",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_drops,
		Name:     "drops",
		Help:     "connections dropped",
		Unit:     "event",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.tcps_rx_drop,
		Name:     "rx_drop",
		Help:     "received segments dropped",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	return db
}
