package virtual

import (
	"net"
	"testing"

	"uthernet2/internal/codec"
)

func testConfig() Config {
	_, net64, _ := net.ParseCIDR("192.168.64.0/24")
	_, net65, _ := net.ParseCIDR("192.168.65.0/24")
	return Config{
		ClientIP:     [4]byte{192, 168, 65, 100},
		GatewayIP:    [4]byte{192, 168, 65, 1},
		DNS:          [4]byte{8, 8, 8, 8},
		Subnet:       [4]byte{255, 255, 255, 0},
		GatewayMAC:   [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0x01},
		DefaultMAC:   [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef},
		LeaseSecs:    86400,
		RedirectNets: []*net.IPNet{net64, net65},
	}
}

func captureInjector() (Injector, *[][]byte) {
	var captured [][]byte
	return func(frame []byte) bool {
		captured = append(captured, frame)
		return true
	}, &captured
}

func buildARPRequest(senderMAC [6]byte, senderIP, targetIP [4]byte) []byte {
	arp := codec.BuildARP(&codec.ARPPacket{
		Operation: codec.ARPOpRequest,
		SenderMAC: senderMAC,
		SenderIP:  senderIP,
		TargetMAC: [6]byte{},
		TargetIP:  targetIP,
	})
	return codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, senderMAC, codec.EthTypeARP, arp)
}

func TestARPForGateway(t *testing.T) {
	inj, captured := captureInjector()
	svc := NewServices(testConfig(), inj)

	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	guestIP := [4]byte{192, 168, 65, 100}
	frame := buildARPRequest(guestMAC, guestIP, testConfig().GatewayIP)

	svc.HandleMACRawSend(frame)

	if len(*captured) != 1 {
		t.Fatalf("expected one injected reply, got %d", len(*captured))
	}
	reply := (*captured)[0]
	// strip the 2-byte MAC-raw length prefix before parsing.
	eth, err := codec.ParseEthernet(reply[2:])
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	arp, err := codec.ParseARP(eth.Payload)
	if err != nil {
		t.Fatalf("ParseARP: %v", err)
	}
	if arp.Operation != codec.ARPOpReply || arp.SenderMAC != testConfig().GatewayMAC {
		t.Fatalf("unexpected arp reply: %+v", arp)
	}
}

func TestARPForNonGatewayIsIgnored(t *testing.T) {
	inj, captured := captureInjector()
	svc := NewServices(testConfig(), inj)

	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	frame := buildARPRequest(guestMAC, [4]byte{192, 168, 65, 100}, [4]byte{192, 168, 65, 200})

	svc.HandleMACRawSend(frame)

	if len(*captured) != 0 {
		t.Fatalf("expected no reply for non-gateway ARP, got %d", len(*captured))
	}
}

func TestDHCPDiscoverThenRequest(t *testing.T) {
	inj, captured := captureInjector()
	svc := NewServices(testConfig(), inj)

	var mirrored [3][4]byte
	svc.SetCommonNetwork = func(client, gateway, subnet [4]byte) {
		mirrored[0], mirrored[1], mirrored[2] = client, gateway, subnet
	}

	chaddr := [16]byte{}
	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	copy(chaddr[:6], guestMAC[:])

	discover := codec.BuildDHCP(codec.BootRequest, 0x1234, [4]byte{}, [4]byte{}, chaddr,
		[]byte{codec.OptMsgType}, map[byte][]byte{codec.OptMsgType: {codec.DHCPDiscover}})
	udp := codec.BuildUDP([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.DHCPClientPort, codec.DHCPServerPort, discover)
	ip := codec.BuildIPv4([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.ProtoUDP, 1, 64, udp)
	frame := codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, guestMAC, codec.EthTypeIPv4, ip)

	svc.HandleMACRawSend(frame)
	if len(*captured) != 1 {
		t.Fatalf("expected an OFFER after DISCOVER, got %d frames", len(*captured))
	}
	if svc.dhcp.phase != dhcpOfferSent {
		t.Fatalf("phase after DISCOVER = %v, want dhcpOfferSent", svc.dhcp.phase)
	}

	request := codec.BuildDHCP(codec.BootRequest, 0x1234, [4]byte{}, [4]byte{}, chaddr,
		[]byte{codec.OptMsgType}, map[byte][]byte{codec.OptMsgType: {codec.DHCPRequest}})
	udp2 := codec.BuildUDP([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.DHCPClientPort, codec.DHCPServerPort, request)
	ip2 := codec.BuildIPv4([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.ProtoUDP, 2, 64, udp2)
	frame2 := codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, guestMAC, codec.EthTypeIPv4, ip2)

	svc.HandleMACRawSend(frame2)
	if len(*captured) != 2 {
		t.Fatalf("expected an ACK after REQUEST, got %d frames", len(*captured))
	}
	if svc.dhcp.phase != dhcpComplete {
		t.Fatalf("phase after REQUEST = %v, want dhcpComplete", svc.dhcp.phase)
	}
	if mirrored[0] != testConfig().ClientIP {
		t.Fatalf("SetCommonNetwork not invoked with expected client IP: %+v", mirrored)
	}
}
