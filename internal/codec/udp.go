package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

const UDPHeaderLen = 8

// UDPDatagram is a parsed UDP header plus its payload.
type UDPDatagram struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
	Payload  []byte
}

// ParseUDP reads a UDP header off raw.
func ParseUDP(raw []byte) (*UDPDatagram, error) {
	if len(raw) < UDPHeaderLen {
		return nil, &cardtypes.FrameParseFailure{Reason: "udp datagram shorter than header"}
	}
	return &UDPDatagram{
		SrcPort:  binary.BigEndian.Uint16(raw[0:2]),
		DstPort:  binary.BigEndian.Uint16(raw[2:4]),
		Length:   binary.BigEndian.Uint16(raw[4:6]),
		Checksum: binary.BigEndian.Uint16(raw[6:8]),
		Payload:  raw[8:],
	}, nil
}

// BuildUDP serializes a UDP datagram with a pseudo-header checksum
// over src/dst IPv4 addresses, as BuildTCPHeaderWithChecksum does for
// TCP in the teacher's packet builder.
func BuildUDP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	length := UDPHeaderLen + len(payload)
	h := make([]byte, UDPHeaderLen)
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint16(h[4:6], uint16(length))
	binary.BigEndian.PutUint16(h[6:8], 0)

	segment := append(h, payload...)
	pseudo := pseudoHeader(srcIP, dstIP, ProtoUDP, uint16(length))
	sum := Checksum16(append(pseudo, segment...))
	if sum == 0 {
		sum = 0xffff // per RFC 768, a computed zero is transmitted as all-ones
	}
	binary.BigEndian.PutUint16(segment[6:8], sum)
	return segment
}
