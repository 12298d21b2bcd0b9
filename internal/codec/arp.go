package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

const (
	ARPLen = 28

	ARPHTypeEthernet = 1
	ARPPTypeIPv4     = 0x0800

	ARPOpRequest = 1
	ARPOpReply   = 2
)

// ARPPacket is a parsed Ethernet/IPv4 ARP packet.
type ARPPacket struct {
	Operation uint16
	SenderMAC [6]byte
	SenderIP  [4]byte
	TargetMAC [6]byte
	TargetIP  [4]byte
}

// ParseARP reads an ARP packet. It only accepts the Ethernet/IPv4
// combination (HTYPE=1, PTYPE=0x0800, HLEN=6, PLEN=4); anything else
// is a FrameParseFailure since the card never speaks any other ARP
// flavor.
func ParseARP(raw []byte) (*ARPPacket, error) {
	if len(raw) < ARPLen {
		return nil, &cardtypes.FrameParseFailure{Reason: "arp packet shorter than header"}
	}
	htype := binary.BigEndian.Uint16(raw[0:2])
	ptype := binary.BigEndian.Uint16(raw[2:4])
	hlen := raw[4]
	plen := raw[5]
	if htype != ARPHTypeEthernet || ptype != ARPPTypeIPv4 || hlen != 6 || plen != 4 {
		return nil, &cardtypes.FrameParseFailure{Reason: "unsupported arp address family"}
	}
	p := &ARPPacket{Operation: binary.BigEndian.Uint16(raw[6:8])}
	copy(p.SenderMAC[:], raw[8:14])
	copy(p.SenderIP[:], raw[14:18])
	copy(p.TargetMAC[:], raw[18:24])
	copy(p.TargetIP[:], raw[24:28])
	return p, nil
}

// BuildARP serializes an Ethernet/IPv4 ARP packet.
func BuildARP(p *ARPPacket) []byte {
	out := make([]byte, ARPLen)
	binary.BigEndian.PutUint16(out[0:2], ARPHTypeEthernet)
	binary.BigEndian.PutUint16(out[2:4], ARPPTypeIPv4)
	out[4] = 6
	out[5] = 4
	binary.BigEndian.PutUint16(out[6:8], p.Operation)
	copy(out[8:14], p.SenderMAC[:])
	copy(out[14:18], p.SenderIP[:])
	copy(out[18:24], p.TargetMAC[:])
	copy(out[24:28], p.TargetIP[:])
	return out
}
