package core

// Internet checksum, RFC 1071. Sums are kept in host order over big endian 16 bit words.

func foldU32(acc uint32) uint32 {
	acc = (acc >> 16) + (acc & 0xffff)
	acc = (acc >> 16) + (acc & 0xffff)
	return acc
}

func swapU16(acc uint32) uint32 {
	return ((acc & 0xff) << 8) | ((acc & 0xff00) >> 8)
}

// Chksum the ones complement sum of data, not complemented. An odd trailing byte is the high byte of a padded word.
func Chksum(data []byte) uint16 {
	var acc uint32
	n := len(data)
	i := 0
	for ; i+1 < n; i += 2 {
		acc += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n&1 != 0 {
		acc += uint32(data[n-1]) << 8
	}
	return uint16(foldU32(acc))
}

// InetChksum the checksum field value for data
func InetChksum(data []byte) uint16 {
	return ^Chksum(data)
}

// chksumPbuf sums the first limit bytes of the chain. Odd sized nodes swap the accumulator
// so the following node stays word aligned.
func chksumPbuf(p *Pbuf, limit uint16) uint32 {
	var acc uint32
	swapped := false
	for q := p; q != nil && limit > 0; q = q.Next {
		n := q.Len
		if n > limit {
			n = limit
		}
		limit -= n
		acc += uint32(Chksum(q.Payload()[:n]))
		acc = foldU32(acc)
		if n%2 != 0 {
			swapped = !swapped
			acc = swapU16(acc)
		}
	}
	if swapped {
		acc = swapU16(acc)
	}
	return acc
}

// InetChksumPbuf the checksum field value over the whole packet
func InetChksumPbuf(p *Pbuf) uint16 {
	return ^uint16(foldU32(chksumPbuf(p, p.TotLen)))
}

// InetChksumPseudo the TCP/UDP checksum with the IPv4 pseudo header
func InetChksumPseudo(p *Pbuf, src, dst IP4Addr, proto uint8, protoLen uint16) uint16 {
	return InetChksumPseudoPartial(p, src, dst, proto, protoLen, p.TotLen)
}

// InetChksumPseudoPartial like InetChksumPseudo but sums only the first chksumLen bytes of data,
// the pseudo header still carries protoLen
func InetChksumPseudoPartial(p *Pbuf, src, dst IP4Addr, proto uint8, protoLen uint16, chksumLen uint16) uint16 {
	acc := chksumPbuf(p, chksumLen)
	acc += uint32(src>>16) + uint32(src&0xffff)
	acc += uint32(dst>>16) + uint32(dst&0xffff)
	acc += uint32(proto)
	acc += uint32(protoLen)
	return ^uint16(foldU32(acc))
}
