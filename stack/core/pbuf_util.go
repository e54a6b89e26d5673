// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

// copy and search helpers over a pbuf chain

// PbufCopy copies the packet from into the packet to. to must be at least as long as from.
// Neither chain may continue into a packet queue.
func PbufCopy(to, from *Pbuf) Err {
	if to == nil || from == nil || to.TotLen < from.TotLen {
		log.Debugf("pbuf_copy: target not big enough to hold source")
		return ErrArg
	}
	offTo, offFrom := 0, 0
	for from != nil {
		if from.IsPacketEnd() && from.Next != nil {
			log.Debugf("pbuf_copy() does not allow packet queues!")
			return ErrVal
		}
		if to.IsPacketEnd() && to.Next != nil {
			log.Debugf("pbuf_copy() does not allow packet queues!")
			return ErrVal
		}
		n := copy(to.Payload()[offTo:], from.Payload()[offFrom:])
		offTo += n
		offFrom += n
		if offFrom >= int(from.Len) {
			offFrom = 0
			from = from.Next
		}
		if offTo >= int(to.Len) {
			offTo = 0
			to = to.Next
			if to == nil && from != nil {
				return ErrArg
			}
		}
	}
	return ErrOK
}

// CopyPartial copies up to len(out) bytes starting at offset into out. It returns the number of bytes copied.
func (p *Pbuf) CopyPartial(out []byte, offset uint16) uint16 {
	if p == nil || out == nil {
		return 0
	}
	var copied uint16
	left := len(out)
	off := int(offset)
	for q := p; q != nil && left > 0; q = q.Next {
		if off != 0 && off >= int(q.Len) {
			off -= int(q.Len)
			continue
		}
		n := copy(out[copied:], q.Payload()[off:])
		copied += uint16(n)
		left -= n
		off = 0
	}
	return copied
}

// Take copies data into the packet. The packet must be long enough and must not span a queue.
func (p *Pbuf) Take(data []byte) Err {
	if p == nil || data == nil {
		return ErrArg
	}
	if int(p.TotLen) < len(data) {
		log.Debugf("pbuf_take: buf not large enough")
		return ErrMem
	}
	left := data
	for q := p; q != nil && len(left) > 0; q = q.Next {
		n := copy(q.Payload(), left)
		left = left[n:]
		if len(left) > 0 && q.IsPacketEnd() && q.Next != nil {
			log.Debugf("pbuf_take() does not allow packet queues!")
			return ErrVal
		}
	}
	Assert(len(left) == 0, "pbuf_take: did not copy all data")
	return ErrOK
}

// Skip returns the node that holds offset and the offset inside it
func (p *Pbuf) Skip(offset uint16) (*Pbuf, uint16) {
	q := p
	for q != nil && q.Len <= offset {
		offset -= q.Len
		q = q.Next
	}
	return q, offset
}

// GetAt returns the byte at offset, 0 when out of range
func (p *Pbuf) GetAt(offset uint16) byte {
	q, off := p.Skip(offset)
	if q == nil {
		return 0
	}
	return q.Payload()[off]
}

// PutAt writes the byte at offset, ignored when out of range
func (p *Pbuf) PutAt(offset uint16, data byte) {
	q, off := p.Skip(offset)
	if q != nil {
		q.Payload()[off] = data
	}
}

// Memcmp compares the packet at offset with s. It returns 0 when equal, the position of the
// first difference + 1 otherwise, PbufSearchNotFound when offset is out of range.
func (p *Pbuf) Memcmp(offset uint16, s []byte) uint16 {
	q, start := p.Skip(offset)
	if q == nil {
		return PbufSearchNotFound
	}
	for i := 0; i < len(s); i++ {
		if q.GetAt(start+uint16(i)) != s[i] {
			return uint16(i + 1)
		}
	}
	return 0
}

// Memfind returns the offset of the first match of mem at or after start, PbufSearchNotFound if none
func (p *Pbuf) Memfind(mem []byte, start uint16) uint16 {
	if len(mem) > int(p.TotLen) {
		return PbufSearchNotFound
	}
	max := int(p.TotLen) - len(mem)
	if int(start)+len(mem) > int(p.TotLen) {
		return PbufSearchNotFound
	}
	for i := int(start); i <= max; i++ {
		if p.Memcmp(uint16(i), mem) == 0 {
			return uint16(i)
		}
	}
	return PbufSearchNotFound
}

// Strstr find substr in the packet
func (p *Pbuf) Strstr(substr string) uint16 {
	if len(substr) == 0 || len(substr) >= 0xffff {
		return PbufSearchNotFound
	}
	return p.Memfind([]byte(substr), 0)
}

// Coalesce returns a single RAM pbuf with the content of the chain and frees p.
// If p is a single node or the allocation fails, p is returned as is.
func (p *Pbuf) Coalesce(layer PbufLayer) *Pbuf {
	if p.Next == nil {
		return p
	}
	q := p.ctx.Alloc(layer, p.TotLen, PbufRAM)
	if q == nil {
		return p
	}
	err := PbufCopy(q, p)
	Assert(err == ErrOK, "pbuf_coalesce: pbuf_copy failed %s", err)
	p.Free()
	return q
}

// Bytes flattens the packet into a new slice
func (p *Pbuf) Bytes() []byte {
	out := make([]byte, p.TotLen)
	p.CopyPartial(out, 0)
	return out
}
