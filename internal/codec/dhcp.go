package codec

import (
	"encoding/binary"

	"uthernet2/internal/cardtypes"
)

// BOOTP/DHCP fixed header is 236 bytes, followed by a 4-byte magic
// cookie and a run of TLV options.
const (
	DHCPFixedLen  = 236
	DHCPCookie    = 0x63825363
	DHCPServerPort = 67
	DHCPClientPort = 68

	BootRequest = 1
	BootReply   = 2
)

// DHCP message types (option 53).
const (
	DHCPDiscover = 1
	DHCPOffer    = 2
	DHCPRequest  = 3
	DHCPDecline  = 4
	DHCPAck      = 5
	DHCPNak      = 6
	DHCPRelease  = 7
	DHCPInform   = 8
)

// DHCP option codes this card understands.
const (
	OptPad          = 0
	OptSubnetMask   = 1
	OptRouter       = 3
	OptDNS          = 6
	OptRequestedIP  = 50
	OptLeaseTime    = 51
	OptMsgType      = 53
	OptServerID     = 54
	OptParamReqList = 55
	OptEnd          = 255
)

// DHCPPacket is a parsed BOOTP/DHCP message.
type DHCPPacket struct {
	Op      byte
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  [4]byte
	YIAddr  [4]byte
	SIAddr  [4]byte
	GIAddr  [4]byte
	CHAddr  [16]byte
	Options map[byte][]byte
}

// MsgType returns the DHCP message type from option 53, or 0 if absent
// (i.e. a bare BOOTP request).
func (p *DHCPPacket) MsgType() byte {
	v, ok := p.Options[OptMsgType]
	if !ok || len(v) < 1 {
		return 0
	}
	return v[0]
}

// CHAddr0 returns the first 6 bytes of the client hardware address
// field — the Ethernet MAC, for the htype=1 case this card only ever
// speaks.
func (p *DHCPPacket) CHAddr0() [6]byte {
	var mac [6]byte
	copy(mac[:], p.CHAddr[:6])
	return mac
}

// ParseDHCP reads a BOOTP/DHCP packet (the UDP payload, not including
// the UDP header). The magic cookie is required; a packet without it
// is a FrameParseFailure since this card never needs to speak plain
// BOOTP without options.
func ParseDHCP(raw []byte) (*DHCPPacket, error) {
	if len(raw) < DHCPFixedLen+4 {
		return nil, &cardtypes.FrameParseFailure{Reason: "dhcp packet shorter than fixed header"}
	}
	if binary.BigEndian.Uint32(raw[DHCPFixedLen:DHCPFixedLen+4]) != DHCPCookie {
		return nil, &cardtypes.FrameParseFailure{Reason: "dhcp missing magic cookie"}
	}

	p := &DHCPPacket{
		Op:      raw[0],
		XID:     binary.BigEndian.Uint32(raw[4:8]),
		Secs:    binary.BigEndian.Uint16(raw[8:10]),
		Flags:   binary.BigEndian.Uint16(raw[10:12]),
		Options: map[byte][]byte{},
	}
	copy(p.CIAddr[:], raw[12:16])
	copy(p.YIAddr[:], raw[16:20])
	copy(p.SIAddr[:], raw[20:24])
	copy(p.GIAddr[:], raw[24:28])
	copy(p.CHAddr[:], raw[28:44])

	opts := raw[DHCPFixedLen+4:]
	i := 0
	for i < len(opts) {
		code := opts[i]
		if code == OptPad {
			i++
			continue
		}
		if code == OptEnd {
			break
		}
		if i+1 >= len(opts) {
			break
		}
		l := int(opts[i+1])
		if i+2+l > len(opts) {
			break
		}
		p.Options[code] = opts[i+2 : i+2+l]
		i += 2 + l
	}
	return p, nil
}

// BuildDHCP serializes a BOOTP/DHCP reply (OFFER or ACK) with the
// given options, in insertion order determined by optOrder so the
// message type (53) and server identifier (54) come first the way
// real DHCP servers emit them.
func BuildDHCP(op byte, xid uint32, yiaddr, siaddr [4]byte, chaddr [16]byte, optOrder []byte, options map[byte][]byte) []byte {
	buf := make([]byte, DHCPFixedLen)
	buf[0] = op
	buf[1] = ARPHTypeEthernet // htype = ethernet
	buf[2] = 6                // hlen
	buf[3] = 0                // hops
	binary.BigEndian.PutUint32(buf[4:8], xid)
	// secs, flags, ciaddr, giaddr left zero
	copy(buf[16:20], yiaddr[:])
	copy(buf[20:24], siaddr[:])
	copy(buf[28:44], chaddr[:])

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, DHCPCookie)
	buf = append(buf, cookie...)

	for _, code := range optOrder {
		v, ok := options[code]
		if !ok {
			continue
		}
		buf = append(buf, code, byte(len(v)))
		buf = append(buf, v...)
	}
	buf = append(buf, OptEnd)
	return buf
}
