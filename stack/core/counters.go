// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"fmt"
	"sort"

	"github.com/intel-go/fastjson"
)

/* CCounter Type */
const ScINFO = 0x12
const ScWARNING = 0x13
const ScERROR = 0x14

// CCounterRec describes one statistic counter. Counter points to a uint32/uint64 field owned by the module.
type CCounterRec struct {
	Counter  interface{} `json:"-"`
	Name     string      `json:"name"`
	Help     string      `json:"help"`
	Unit     string      `json:"unit"`
	DumpZero bool        `json:"zero"`
	Info     uint8       `json:"info"` // see ScINFO,ScWARNING,ScERROR
}

func (o *CCounterRec) IsValid() bool {
	return o.DumpZero || !o.IsZero()
}

// Value returns the current value of the counter widened to uint64
func (o *CCounterRec) Value() uint64 {
	switch c := o.Counter.(type) {
	case *uint16:
		return uint64(*c)
	case *uint32:
		return uint64(*c)
	case *uint64:
		return *c
	case *int:
		return uint64(*c)
	}
	return 0
}

func (o *CCounterRec) IsZero() bool {
	return o.Value() == 0
}

func (o *CCounterRec) ClearValue() {
	switch c := o.Counter.(type) {
	case *uint16:
		*c = 0
	case *uint32:
		*c = 0
	case *uint64:
		*c = 0
	case *int:
		*c = 0
	}
}

func (o *CCounterRec) Dump() {
	if !o.IsZero() {
		fmt.Printf("%-30s : %10d \n", o.Name, o.Value())
	}
}

type CCounterDb struct {
	Name string         `json:"name"`
	Vec  []*CCounterRec `json:"meta"`
}

func NewCCounterDb(name string) *CCounterDb {
	return &CCounterDb{Name: name, Vec: []*CCounterRec{}}
}

func (o *CCounterDb) Add(cnt *CCounterRec) {
	o.Vec = append(o.Vec, cnt)
}

// Get returns the counter record by name, nil if not found
func (o *CCounterDb) Get(name string) *CCounterRec {
	for _, obj := range o.Vec {
		if obj.Name == name {
			return obj
		}
	}
	return nil
}

func (o *CCounterDb) Dump() {
	fmt.Println(" counters " + o.Name + " db")
	for _, obj := range o.Vec {
		obj.Dump()
	}
	fmt.Println(" ===")
}

func (o *CCounterDb) MarshalValues(zero bool) map[string]interface{} {
	m := make(map[string]interface{})
	for _, obj := range o.Vec {
		if zero || obj.IsValid() {
			m[obj.Name] = obj.Value()
		}
	}
	return m
}

func (o *CCounterDb) ClearValues() {
	for _, obj := range o.Vec {
		obj.ClearValue()
	}
}

type CCounterDbVec struct {
	Name      string        `json:"name"`
	Vec       []*CCounterDb `json:"vec"`
	validator map[string]int
}

func NewCCounterDbVec(name string) *CCounterDbVec {
	return &CCounterDbVec{Name: name,
		Vec:       []*CCounterDb{},
		validator: make(map[string]int)}
}

func (o *CCounterDbVec) Add(cnt *CCounterDb) {
	_, ok := o.validator[cnt.Name]
	if ok {
		s := fmt.Sprintf(" same key is added twice %s", cnt.Name)
		panic(s)
	}
	o.validator[cnt.Name] = 1
	o.Vec = append(o.Vec, cnt)
}

// Get returns the db by name, nil if not found
func (o *CCounterDbVec) Get(name string) *CCounterDb {
	for _, obj := range o.Vec {
		if obj.Name == name {
			return obj
		}
	}
	return nil
}

func (o *CCounterDbVec) ClearValues() {
	for _, obj := range o.Vec {
		obj.ClearValues()
	}
}

func (o *CCounterDbVec) Dump() {
	fmt.Println(" counters " + o.Name + " dbvec")
	for _, obj := range o.Vec {
		obj.Dump()
	}
	fmt.Println(" ===")
}

func (o *CCounterDbVec) MarshalValues(zero bool) map[string]interface{} {
	m := make(map[string]interface{})
	for _, obj := range o.Vec {
		r := obj.MarshalValues(zero)
		if len(r) > 0 {
			m[obj.Name] = r
		}
	}
	return m
}

// MarshalValuesMask like MarshalValues but only for the dbs named in mask
func (o *CCounterDbVec) MarshalValuesMask(zero bool, mask []string) map[string]interface{} {
	sorted := append([]string(nil), mask...)
	sort.Strings(sorted)
	m := make(map[string]interface{})
	for _, obj := range o.Vec {
		i := sort.SearchStrings(sorted, obj.Name)
		if i < len(sorted) && sorted[i] == obj.Name {
			r := obj.MarshalValues(zero)
			if len(r) > 0 {
				m[obj.Name] = r
			}
		}
	}
	return m
}

// MarshalJson encode the values of all the dbs
func (o *CCounterDbVec) MarshalJson(zero bool) ([]byte, error) {
	return fastjson.Marshal(o.MarshalValues(zero))
}
