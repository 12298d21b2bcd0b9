package codec

import (
	"bytes"
	"testing"
)

func TestChecksumRoundTrip(t *testing.T) {
	// A buffer with its own checksum field correctly filled must
	// checksum to zero when validated as a whole. Zero-padding the
	// field first, computing the sum, and inserting it, then
	// re-running Checksum16 over the full buffer, must yield 0.
	data := []byte{0x45, 0x00, 0x00, 0x1c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x01,
		0x00, 0x00, 0xac, 0x10, 0x0a, 0x63, 0xac, 0x10, 0x0a, 0x0c}
	sum := Checksum16(data)
	data[10] = byte(sum >> 8)
	data[11] = byte(sum)
	if got := Checksum16(data); got != 0 {
		t.Fatalf("checksum of self-validated buffer = 0x%04x, want 0", got)
	}
}

func TestEthernetRoundTrip(t *testing.T) {
	dst := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0x01}
	src := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	payload := []byte{1, 2, 3, 4}

	raw := BuildEthernet(dst, src, EthTypeIPv4, payload)
	f, err := ParseEthernet(raw)
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	if f.DstMAC != dst || f.SrcMAC != src || f.EType != EthTypeIPv4 {
		t.Fatalf("header mismatch: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: %v", f.Payload)
	}
}

func TestARPRoundTrip(t *testing.T) {
	p := &ARPPacket{
		Operation: ARPOpReply,
		SenderMAC: [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0x01},
		SenderIP:  [4]byte{192, 168, 65, 1},
		TargetMAC: [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef},
		TargetIP:  [4]byte{192, 168, 65, 100},
	}
	raw := BuildARP(p)
	got, err := ParseARP(raw)
	if err != nil {
		t.Fatalf("ParseARP: %v", err)
	}
	if *got != *p {
		t.Fatalf("arp round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	src := [4]byte{192, 168, 65, 1}
	dst := [4]byte{192, 168, 65, 100}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	raw := BuildIPv4(src, dst, ProtoUDP, 1, 64, payload)
	p, err := ParseIPv4(raw)
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if p.SrcIP != src || p.DstIP != dst || p.Protocol != ProtoUDP {
		t.Fatalf("header mismatch: %+v", p)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Fatalf("payload mismatch: %v", p.Payload)
	}
	if sum := Checksum16(raw[:IPv4HeaderLen]); sum != 0 {
		t.Fatalf("ipv4 header checksum invalid: 0x%04x", sum)
	}
}

func TestUDPRoundTrip(t *testing.T) {
	src := [4]byte{192, 168, 65, 100}
	dst := [4]byte{192, 168, 65, 1}
	payload := []byte("hello")

	seg := BuildUDP(src, dst, 12345, 53, payload)
	d, err := ParseUDP(seg)
	if err != nil {
		t.Fatalf("ParseUDP: %v", err)
	}
	if d.SrcPort != 12345 || d.DstPort != 53 {
		t.Fatalf("port mismatch: %+v", d)
	}
	if !bytes.Equal(d.Payload, payload) {
		t.Fatalf("payload mismatch: %v", d.Payload)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	src := [4]byte{192, 168, 65, 100}
	dst := [4]byte{93, 184, 216, 34}
	payload := []byte("GET / HTTP/1.0\r\n\r\n")

	seg := BuildTCP(src, dst, 40000, 80, 1000, 2000, TCPFlagPSH|TCPFlagACK, 4096, payload)
	s, err := ParseTCP(seg)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	if s.SrcPort != 40000 || s.DstPort != 80 || s.Seq != 1000 || s.Ack != 2000 {
		t.Fatalf("header mismatch: %+v", s)
	}
	if s.Flags != TCPFlagPSH|TCPFlagACK {
		t.Fatalf("flags mismatch: got 0x%02x", s.Flags)
	}
	if !bytes.Equal(s.Payload, payload) {
		t.Fatalf("payload mismatch: %v", s.Payload)
	}
}

func TestDHCPRoundTrip(t *testing.T) {
	chaddr := [16]byte{}
	copy(chaddr[:6], []byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef})

	options := map[byte][]byte{
		OptMsgType:  {DHCPOffer},
		OptServerID: {192, 168, 65, 1},
		OptLeaseTime: {0, 1, 81, 128},
	}
	raw := BuildDHCP(BootReply, 0xaabbccdd, [4]byte{192, 168, 65, 100}, [4]byte{192, 168, 65, 1}, chaddr,
		[]byte{OptMsgType, OptServerID, OptLeaseTime}, options)

	p, err := ParseDHCP(raw)
	if err != nil {
		t.Fatalf("ParseDHCP: %v", err)
	}
	if p.XID != 0xaabbccdd || p.MsgType() != DHCPOffer {
		t.Fatalf("header mismatch: %+v", p)
	}
	if p.YIAddr != [4]byte{192, 168, 65, 100} {
		t.Fatalf("yiaddr mismatch: %v", p.YIAddr)
	}
}
