package virtual

import "uthernet2/internal/codec"

// handleARP answers an ARP request for the virtual gateway's address
// with a synthesized reply; any other ARP traffic (requests for a
// different target, gratuitous announcements, replies) is silently
// dropped, per spec.md's ARP-detection rule.
func (s *Services) handleARP(eth *codec.EthernetFrame) {
	arp, err := codec.ParseARP(eth.Payload)
	if err != nil {
		s.OnDrop(err)
		return
	}
	if arp.Operation != codec.ARPOpRequest || arp.TargetIP != s.cfg.GatewayIP {
		return
	}

	reply := codec.BuildARP(&codec.ARPPacket{
		Operation: codec.ARPOpReply,
		SenderMAC: s.cfg.GatewayMAC,
		SenderIP:  s.cfg.GatewayIP,
		TargetMAC: arp.SenderMAC,
		TargetIP:  arp.SenderIP,
	})
	frame := codec.BuildEthernet(arp.SenderMAC, s.cfg.GatewayMAC, codec.EthTypeARP, reply)
	s.inject(frame)
	s.OnEvent("arp: answered request for virtual gateway")
}
