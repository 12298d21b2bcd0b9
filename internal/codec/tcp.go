package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

const TCPHeaderLen = 20

// TCP flag bits, matching the teacher's packet builder layout.
const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
)

// TCPSegment is a parsed TCP segment. Options are skipped on parse
// (the virtual TCP translator never needs to interpret them beyond
// MSS, which it negotiates itself rather than reading off the wire).
type TCPSegment struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Flags    uint8
	Window   uint16
	Checksum uint16
	UrgentPtr uint16
	Payload  []byte
}

// ParseTCP reads a TCP segment off raw, skipping over any options
// indicated by the data-offset field.
func ParseTCP(raw []byte) (*TCPSegment, error) {
	if len(raw) < TCPHeaderLen {
		return nil, &cardtypes.FrameParseFailure{Reason: "tcp segment shorter than header"}
	}
	dataOffset := int(raw[12]>>4) * 4
	if dataOffset < TCPHeaderLen || len(raw) < dataOffset {
		return nil, &cardtypes.FrameParseFailure{Reason: "tcp invalid data offset"}
	}
	return &TCPSegment{
		SrcPort:   binary.BigEndian.Uint16(raw[0:2]),
		DstPort:   binary.BigEndian.Uint16(raw[2:4]),
		Seq:       binary.BigEndian.Uint32(raw[4:8]),
		Ack:       binary.BigEndian.Uint32(raw[8:12]),
		Flags:     raw[13],
		Window:    binary.BigEndian.Uint16(raw[14:16]),
		Checksum:  binary.BigEndian.Uint16(raw[16:18]),
		UrgentPtr: binary.BigEndian.Uint16(raw[18:20]),
		Payload:   raw[dataOffset:],
	}, nil
}

// BuildTCP serializes a TCP segment (no options, 20-byte header) with
// a pseudo-header checksum, the way BuildTCPHeaderWithChecksum does
// in the teacher's packet builder, minus the options handling this
// card never needs on the wire it synthesizes.
func BuildTCP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8, window uint16, payload []byte) []byte {
	h := make([]byte, TCPHeaderLen)
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint32(h[4:8], seq)
	binary.BigEndian.PutUint32(h[8:12], ack)
	h[12] = (5 << 4) // data offset 5 (20 bytes, no options)
	h[13] = flags
	binary.BigEndian.PutUint16(h[14:16], window)
	binary.BigEndian.PutUint16(h[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(h[18:20], 0)

	segment := append(h, payload...)
	pseudo := pseudoHeader(srcIP, dstIP, ProtoTCP, uint16(len(segment)))
	sum := Checksum16(append(pseudo, segment...))
	binary.BigEndian.PutUint16(segment[16:18], sum)
	return segment
}
