package virtual

import "uthernet2/internal/codec"

// dhcpPhase tracks where the one supported lease negotiation is in
// its DISCOVER/OFFER/REQUEST/ACK dance.
type dhcpPhase int

const (
	dhcpIdle dhcpPhase = iota
	dhcpDiscoverSeen
	dhcpOfferSent
	dhcpRequestSeen
	dhcpComplete
)

type dhcpState struct {
	phase     dhcpPhase
	xid       uint32
	clientMAC [6]byte
}

// minDHCPPayloadLen is the zero-padded floor spec.md requires for
// every synthesized DHCP reply.
const minDHCPPayloadLen = 300

var dhcpOptionOrder = []byte{
	codec.OptMsgType,
	codec.OptServerID,
	codec.OptLeaseTime,
	codec.OptSubnetMask,
	codec.OptRouter,
	codec.OptDNS,
}

func (s *Services) handleDHCP(eth *codec.EthernetFrame, pkt *codec.DHCPPacket) {
	switch pkt.MsgType() {
	case codec.DHCPDiscover:
		s.dhcp.phase = dhcpDiscoverSeen
		s.dhcp.xid = pkt.XID
		s.dhcp.clientMAC = pkt.CHAddr0()
		s.sendDHCPReply(eth, pkt, codec.DHCPOffer, true)
		s.dhcp.phase = dhcpOfferSent
		s.OnEvent("dhcp: offer sent")

	case codec.DHCPRequest:
		s.dhcp.phase = dhcpRequestSeen
		s.dhcp.xid = pkt.XID
		s.dhcp.clientMAC = pkt.CHAddr0()
		s.sendDHCPReply(eth, pkt, codec.DHCPAck, false)
		s.dhcp.phase = dhcpComplete
		if s.SetCommonNetwork != nil {
			s.SetCommonNetwork(s.cfg.ClientIP, s.cfg.GatewayIP, s.cfg.Subnet)
		}
		s.OnEvent("dhcp: ack sent, lease complete")
	}
}

// sendDHCPReply builds and injects a BOOTREPLY for either phase of
// the handshake. broadcast selects the OFFER behavior (broadcast
// Ethernet and IP destination); REQUEST's ACK is unicast to the
// leased address.
func (s *Services) sendDHCPReply(eth *codec.EthernetFrame, req *codec.DHCPPacket, msgType byte, broadcast bool) {
	leaseBytes := make([]byte, 4)
	leaseBytes[0] = byte(s.cfg.LeaseSecs >> 24)
	leaseBytes[1] = byte(s.cfg.LeaseSecs >> 16)
	leaseBytes[2] = byte(s.cfg.LeaseSecs >> 8)
	leaseBytes[3] = byte(s.cfg.LeaseSecs)

	options := map[byte][]byte{
		codec.OptMsgType:    {msgType},
		codec.OptServerID:   s.cfg.GatewayIP[:],
		codec.OptLeaseTime:  leaseBytes,
		codec.OptSubnetMask: s.cfg.Subnet[:],
		codec.OptRouter:     s.cfg.GatewayIP[:],
		codec.OptDNS:        s.cfg.DNS[:],
	}

	body := codec.BuildDHCP(codec.BootReply, req.XID, s.cfg.ClientIP, s.cfg.GatewayIP, req.CHAddr, dhcpOptionOrder, options)
	if len(body) < minDHCPPayloadLen {
		body = append(body, make([]byte, minDHCPPayloadLen-len(body))...)
	}

	dstIP := s.cfg.ClientIP
	dstMAC := eth.SrcMAC
	if broadcast {
		dstIP = [4]byte{255, 255, 255, 255}
		dstMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}

	udp := codec.BuildUDP(s.cfg.GatewayIP, dstIP, codec.DHCPServerPort, codec.DHCPClientPort, body)
	ipPkt := codec.BuildIPv4(s.cfg.GatewayIP, dstIP, codec.ProtoUDP, 0, 64, udp)
	frame := codec.BuildEthernet(dstMAC, s.cfg.GatewayMAC, codec.EthTypeIPv4, ipPkt)
	s.inject(frame)
}
