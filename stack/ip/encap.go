package ip

import (
	"encoding/binary"

	"github.com/h7ga40/uITron3-sub000/stack/core"
	"golang.org/x/net/ipv4"
)

// Encap builds a full IPv4 datagram around a transport payload, for link drivers that carry raw IP (TUN, pcap)
func Encap(payload []byte, src, dst core.IP4Addr, proto, ttl uint8, id uint16) ([]byte, error) {
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      HeaderLen,
		TotalLen: HeaderLen + len(payload),
		ID:       int(id),
		Flags:    ipv4.DontFragment,
		TTL:      int(ttl),
		Protocol: int(proto),
		Src:      src.NetIP(),
		Dst:      dst.NetIP(),
	}
	hdr, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	// Marshal keeps the host order of some BSDs for the length, the wire is big endian
	binary.BigEndian.PutUint16(hdr[2:4], uint16(h.TotalLen))
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	binary.BigEndian.PutUint16(hdr[10:12], core.InetChksum(hdr))
	out := make([]byte, 0, len(hdr)+len(payload))
	out = append(out, hdr...)
	return append(out, payload...), nil
}

// Decap parses a full IPv4 datagram and returns the header fields and the transport payload
func Decap(datagram []byte) (src, dst core.IP4Addr, proto uint8, payload []byte, err error) {
	h, err := ipv4.ParseHeader(datagram)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	totLen := int(binary.BigEndian.Uint16(datagram[2:4]))
	if totLen > len(datagram) || totLen < h.Len {
		totLen = len(datagram)
	}
	return core.IP4AddrFromBytes(h.Src.To4()), core.IP4AddrFromBytes(h.Dst.To4()), uint8(h.Protocol),
		datagram[h.Len:totLen], nil
}
