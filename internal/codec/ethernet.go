package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

const (
	EthHeaderLen = 14
	EthTypeARP   = 0x0806
	EthTypeIPv4  = 0x0800

	EthBroadcastMAC = "\xff\xff\xff\xff\xff\xff"
)

// EthernetFrame is a parsed Ethernet II header plus its payload.
type EthernetFrame struct {
	DstMAC  [6]byte
	SrcMAC  [6]byte
	EType   uint16
	Payload []byte
}

// ParseEthernet reads an Ethernet II header off the front of raw. It
// requires at least EthHeaderLen bytes; anything shorter is a
// FrameParseFailure.
func ParseEthernet(raw []byte) (*EthernetFrame, error) {
	if len(raw) < EthHeaderLen {
		return nil, &cardtypes.FrameParseFailure{Reason: "ethernet frame shorter than header"}
	}
	f := &EthernetFrame{
		EType:   binary.BigEndian.Uint16(raw[12:14]),
		Payload: raw[14:],
	}
	copy(f.DstMAC[:], raw[0:6])
	copy(f.SrcMAC[:], raw[6:12])
	return f, nil
}

// BuildEthernet prepends an Ethernet II header to payload.
func BuildEthernet(dst, src [6]byte, etype uint16, payload []byte) []byte {
	out := make([]byte, EthHeaderLen+len(payload))
	copy(out[0:6], dst[:])
	copy(out[6:12], src[:])
	binary.BigEndian.PutUint16(out[12:14], etype)
	copy(out[14:], payload)
	return out
}

// IsBroadcast reports whether mac is the all-ones broadcast address.
func IsBroadcast(mac [6]byte) bool {
	for _, b := range mac {
		if b != 0xff {
			return false
		}
	}
	return true
}
