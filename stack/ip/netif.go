// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package ip

import (
	"fmt"

	"github.com/h7ga40/uITron3-sub000/stack/core"
)

// OutputFunc is the link layer sink. buf is the flattened transport payload, the link driver owns it.
type OutputFunc func(netif *Netif, buf []byte, src, dst core.IP4Addr, proto uint8)

// Netif a network interface
type Netif struct {
	Name    string
	Addr    core.IP4Addr
	Netmask core.IP4Addr
	Gw      core.IP4Addr
	Mtu     uint16
	Output  OutputFunc
	num     uint8
	up      bool
}

// NewNetif creates an interface, it is down until SetUp
func NewNetif(name string, addr, netmask, gw core.IP4Addr, output OutputFunc) *Netif {
	return &Netif{Name: name, Addr: addr, Netmask: netmask, Gw: gw, Mtu: 1500, Output: output}
}

func (o *Netif) SetUp()     { o.up = true }
func (o *Netif) SetDown()   { o.up = false }
func (o *Netif) IsUp() bool { return o.up }

// Num the index assigned by AddNetif
func (o *Netif) Num() uint8 { return o.num }

// IsBroadcast true for the limited broadcast and the directed broadcast of this interface
func (o *Netif) IsBroadcast(addr core.IP4Addr) bool {
	if addr.IsBroadcast() || addr.IsAny() {
		return true
	}
	if addr == o.Addr {
		return false
	}
	return addr.NetCmp(o.Addr, o.Netmask) && addr&^o.Netmask == ^o.Netmask
}

func (o *Netif) String() string {
	return fmt.Sprintf("%s%d %s/%s gw %s", o.Name, o.num, o.Addr, o.Netmask, o.Gw)
}
