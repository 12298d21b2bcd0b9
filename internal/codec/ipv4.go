package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

const (
	IPv4HeaderLen = 20

	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// IPv4Packet is a parsed IPv4 header (no options support, matching
// what the virtual services ever emit or need to understand) plus
// its payload.
type IPv4Packet struct {
	TOS      byte
	TotalLen uint16
	ID       uint16
	Flags    uint8 // top 3 bits of the flags/fragment field
	FragOff  uint16
	TTL      byte
	Protocol byte
	Checksum uint16
	SrcIP    [4]byte
	DstIP    [4]byte
	Payload  []byte
}

// ParseIPv4 reads an IPv4 header. Options are skipped (IHL taken at
// face value and the header shifted accordingly) but never
// interpreted; a packet with IHL < 5 or a length inconsistent with
// the supplied bytes is a FrameParseFailure.
func ParseIPv4(raw []byte) (*IPv4Packet, error) {
	if len(raw) < IPv4HeaderLen {
		return nil, &cardtypes.FrameParseFailure{Reason: "ipv4 packet shorter than header"}
	}
	verIHL := raw[0]
	ihl := int(verIHL&0x0f) * 4
	if ihl < IPv4HeaderLen || len(raw) < ihl {
		return nil, &cardtypes.FrameParseFailure{Reason: "ipv4 invalid header length"}
	}
	flagsFrag := binary.BigEndian.Uint16(raw[6:8])

	p := &IPv4Packet{
		TOS:      raw[1],
		TotalLen: binary.BigEndian.Uint16(raw[2:4]),
		ID:       binary.BigEndian.Uint16(raw[4:6]),
		Flags:    uint8(flagsFrag >> 13),
		FragOff:  flagsFrag & 0x1fff,
		TTL:      raw[8],
		Protocol: raw[9],
		Checksum: binary.BigEndian.Uint16(raw[10:12]),
		Payload:  raw[ihl:],
	}
	copy(p.SrcIP[:], raw[12:16])
	copy(p.DstIP[:], raw[16:20])
	return p, nil
}

// BuildIPv4 serializes a 20-byte IPv4 header (no options) followed by
// payload, computing the header checksum. id is the caller-chosen
// identification field and ttl is passed through as given; TOS is
// always zero and flags/fragoff are fixed at DF with offset zero.
func BuildIPv4(src, dst [4]byte, protocol byte, id uint16, ttl byte, payload []byte) []byte {
	totalLen := IPv4HeaderLen + len(payload)
	h := make([]byte, IPv4HeaderLen)
	h[0] = 0x45 // version 4, IHL 5 (20 bytes, no options)
	h[1] = 0x00 // TOS
	binary.BigEndian.PutUint16(h[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(h[4:6], id)
	binary.BigEndian.PutUint16(h[6:8], 0x4000) // DF set, no fragmentation offset
	h[8] = ttl
	h[9] = protocol
	binary.BigEndian.PutUint16(h[10:12], 0) // checksum placeholder
	copy(h[12:16], src[:])
	copy(h[16:20], dst[:])

	sum := Checksum16(h)
	binary.BigEndian.PutUint16(h[10:12], sum)

	return append(h, payload...)
}
