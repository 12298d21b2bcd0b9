package virtual

import (
	"net"
	"testing"
	"time"

	"uthernet2/internal/codec"
)

// echoListener starts a TCP listener on 127.0.0.1 that echoes back
// whatever it reads, once, per connection — enough to exercise the
// translator's forward/drain round trip.
func echoListener(t *testing.T) (port uint16, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port), func() { ln.Close() }
}

func buildTestTCP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, flags byte, payload []byte) (*codec.EthernetFrame, *codec.IPv4Packet) {
	seg := codec.BuildTCP(srcIP, dstIP, srcPort, dstPort, seq, ack, flags, 4096, payload)
	eth := &codec.EthernetFrame{
		SrcMAC: [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef},
		DstMAC: [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0x01},
		EType:  codec.EthTypeIPv4,
	}
	ip := &codec.IPv4Packet{SrcIP: srcIP, DstIP: dstIP, Protocol: codec.ProtoTCP, Payload: seg}
	return eth, ip
}

// TestTCPTranslationEchoRoundTrip drives a guest SYN, then a data
// segment, through the translator against a real loopback echo
// server, and verifies the guest sees a SYN-ACK followed by its own
// data echoed back.
func TestTCPTranslationEchoRoundTrip(t *testing.T) {
	port, closeListener := echoListener(t)
	defer closeListener()

	inj, captured := captureInjector()
	svc := NewServices(testConfig(), inj)
	svc.cfg.ConnectWait = 500 * time.Millisecond
	svc.cfg.SendDrainPoll = 200 * time.Millisecond

	guestIP := [4]byte{192, 168, 65, 100}
	targetIP := [4]byte{192, 168, 65, 50}
	guestPort := uint16(54321)

	eth, ip := buildTestTCP(guestIP, targetIP, guestPort, port, 1000, 0, codec.TCPFlagSYN, nil)
	svc.handleTCP(eth, ip)

	if len(*captured) != 1 {
		t.Fatalf("expected a SYN-ACK after guest SYN, got %d frames", len(*captured))
	}
	synAck := parseBackTCP(t, (*captured)[0])
	if synAck.Flags&codec.TCPFlagSYN == 0 || synAck.Flags&codec.TCPFlagACK == 0 {
		t.Fatalf("expected SYN|ACK flags, got 0x%02x", synAck.Flags)
	}
	if synAck.Ack != 1001 {
		t.Fatalf("SYN-ACK ack = %d, want 1001", synAck.Ack)
	}

	eth2, ip2 := buildTestTCP(guestIP, targetIP, guestPort, port, 1001, synAck.Seq+1, codec.TCPFlagACK, []byte("ping"))
	svc.handleTCP(eth2, ip2)

	if len(*captured) < 3 {
		t.Fatalf("expected at least an ACK and an echoed data segment, got %d frames", len(*captured))
	}
	var sawEcho bool
	for _, frame := range (*captured)[2:] {
		seg := parseBackTCP(t, frame)
		if string(seg.Payload) == "ping" {
			sawEcho = true
		}
	}
	if !sawEcho {
		t.Fatalf("never observed the echoed \"ping\" payload among injected frames")
	}
}

// TestResetClosesActiveTranslation verifies a mode-register reset
// (Services.Reset) tears down an in-progress TCP translation rather
// than leaking the host connection.
func TestResetClosesActiveTranslation(t *testing.T) {
	port, closeListener := echoListener(t)
	defer closeListener()

	inj, _ := captureInjector()
	svc := NewServices(testConfig(), inj)
	svc.cfg.ConnectWait = 500 * time.Millisecond

	guestIP := [4]byte{192, 168, 65, 100}
	targetIP := [4]byte{192, 168, 65, 50}
	eth, ip := buildTestTCP(guestIP, targetIP, 54321, port, 1000, 0, codec.TCPFlagSYN, nil)
	svc.handleTCP(eth, ip)

	if svc.tcp.host == nil {
		t.Fatalf("expected an established translation before reset")
	}

	svc.Reset()

	if svc.tcp.host != nil {
		t.Fatalf("expected Reset to close the host connection and clear translation state")
	}
}

func parseBackTCP(t *testing.T, frame []byte) *codec.TCPSegment {
	t.Helper()
	eth, err := codec.ParseEthernet(frame[2:]) // strip MAC-raw length prefix
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	ip, err := codec.ParseIPv4(eth.Payload)
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	seg, err := codec.ParseTCP(ip.Payload)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	return seg
}
