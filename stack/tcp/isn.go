// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package tcp

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/h7ga40/uITron3-sub000/stack/core"
	"golang.org/x/crypto/blake2b"
)

const legacyIssInit = 6510

// isnGen generates initial sequence numbers, RFC 6528: ISN = M + F(4-tuple, secret)
// where M is a 4 usec clock. legacy keeps the old iss += ticks counter.
type isnGen struct {
	key    [blake2b.Size256]byte
	legacy bool
	iss    uint32
}

func newIsnGen(legacy bool) *isnGen {
	o := new(isnGen)
	o.legacy = legacy
	o.iss = legacyIssInit
	if !legacy {
		if _, err := rand.Read(o.key[:]); err != nil {
			log.Warningf("no random source for the isn secret, %v", err)
		}
	}
	return o
}

func (o *isnGen) next(localIP, remoteIP core.IP4Addr, localPort, remotePort uint16, ticks uint32, nowMs uint32) uint32 {
	if o.legacy {
		o.iss += ticks
		return o.iss
	}
	h, err := blake2b.New256(o.key[:])
	if err != nil {
		o.iss += ticks
		return o.iss
	}
	var tuple [12]byte
	binary.BigEndian.PutUint32(tuple[0:], uint32(localIP))
	binary.BigEndian.PutUint32(tuple[4:], uint32(remoteIP))
	binary.BigEndian.PutUint16(tuple[8:], localPort)
	binary.BigEndian.PutUint16(tuple[10:], remotePort)
	h.Write(tuple[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4]) + nowMs*250
}
