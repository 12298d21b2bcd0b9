// Package virtual implements the synthetic link-layer environment the
// card presents to the guest: a gateway that answers ARP for its own
// address, a DHCP server that leases one fixed address, and a TCP
// translator that terminates guest TCP connections and re-originates
// them as host TCP sockets. All three share one entry point —
// HandleMACRawSend — fed every frame the guest writes to socket 0 in
// MAC-raw mode, and one injector callback used to deliver synthesized
// replies back into that socket's RX ring.
package virtual

import (
	"encoding/binary"
	"net"
	"time"

	"uthernet2/internal/cardtypes"
	"uthernet2/internal/codec"
)

// Config holds the card's non-configurable virtual-network constants
// (spec.md §3), structured so tests can substitute their own values.
type Config struct {
	ClientIP     [4]byte
	GatewayIP    [4]byte
	DNS          [4]byte
	Subnet       [4]byte
	GatewayMAC   [6]byte
	DefaultMAC   [6]byte
	LeaseSecs    uint32
	RedirectNets []*net.IPNet

	// ConnectWait bounds how long the TCP translator waits for its
	// re-originated host connection to complete before replying RST.
	// SendDrainPoll bounds how long it polls for unsolicited host data
	// after forwarding a guest segment. Both are suspension points of
	// the emulator thread (spec.md §5) and are configurable so tests
	// can shrink them.
	ConnectWait   time.Duration
	SendDrainPoll time.Duration
}

// Injector delivers a synthesized link-layer frame (already including
// the MAC-raw 2-byte length prefix) into socket 0's RX ring. It
// returns false if the ring had no room, in which case the frame is
// dropped.
type Injector func(frame []byte) bool

// Services owns the ARP, DHCP, and TCP translation state. One
// instance exists per card and is only ever driven by MAC-raw socket 0.
type Services struct {
	cfg Config
	inj Injector

	dhcp *dhcpState
	tcp  *tcpTranslator

	// OnDrop reports a parse failure, resource exhaustion, or host
	// socket failure encountered while servicing a frame.
	OnDrop func(error)
	// OnEvent reports a notable synthesized event (ARP reply sent,
	// DHCP lease issued, TCP translation opened/closed) for logging.
	OnEvent func(string)

	// SetCommonNetwork writes the leased client IP, gateway IP, and
	// subnet into the W5100 common-register bank once a DHCP lease
	// completes, so a guest driver that reads those registers back
	// sees the values it was just handed over the wire. Left nil in
	// tests that don't care about register mirroring.
	SetCommonNetwork func(clientIP, gatewayIP, subnet [4]byte)
}

// NewServices constructs the virtual-service state for one card.
func NewServices(cfg Config, inj Injector) *Services {
	return &Services{
		cfg:     cfg,
		inj:     inj,
		dhcp:    &dhcpState{},
		tcp:     &tcpTranslator{},
		OnDrop:  func(error) {},
		OnEvent: func(string) {},
	}
}

// withLengthPrefix prepends the W5100 MAC-raw 2-byte big-endian total
// length (including the prefix itself) that every received frame
// carries in that mode.
func withLengthPrefix(frame []byte) []byte {
	out := make([]byte, 2+len(frame))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(out)))
	copy(out[2:], frame)
	return out
}

func (s *Services) inject(frame []byte) {
	if !s.inj(withLengthPrefix(frame)) {
		s.OnDrop(&cardtypes.ResourceExhaustion{Socket: 0, Wanted: len(frame) + 2})
	}
}

// HandleMACRawSend is called with one frame written by the guest to
// socket 0 under a MAC-raw SEND command. It parses just enough of the
// frame to decide which virtual service, if any, should respond.
func (s *Services) HandleMACRawSend(frame []byte) {
	eth, err := codec.ParseEthernet(frame)
	if err != nil {
		s.OnDrop(err)
		return
	}

	switch eth.EType {
	case codec.EthTypeARP:
		s.handleARP(eth)
	case codec.EthTypeIPv4:
		s.handleIPv4(eth)
	}
}

func (s *Services) handleIPv4(eth *codec.EthernetFrame) {
	ip, err := codec.ParseIPv4(eth.Payload)
	if err != nil {
		s.OnDrop(err)
		return
	}
	switch ip.Protocol {
	case codec.ProtoUDP:
		s.handleUDP(eth, ip)
	case codec.ProtoTCP:
		s.handleTCP(eth, ip)
	}
}

func (s *Services) handleUDP(eth *codec.EthernetFrame, ip *codec.IPv4Packet) {
	udp, err := codec.ParseUDP(ip.Payload)
	if err != nil {
		s.OnDrop(err)
		return
	}
	if udp.SrcPort != codec.DHCPClientPort || udp.DstPort != codec.DHCPServerPort {
		return
	}
	dhcp, err := codec.ParseDHCP(udp.Payload)
	if err != nil {
		s.OnDrop(err)
		return
	}
	s.handleDHCP(eth, dhcp)
}

// Poll is called opportunistically on every status read of socket 0;
// it lets an active TCP translation deliver unsolicited host data
// between guest-triggered events.
func (s *Services) Poll() {
	s.pollTCP()
}

// Reset clears all virtual-service state and closes any active TCP
// translation. The card calls it on a mode-register reset; a socket
// CLOSE does not reach it.
func (s *Services) Reset() {
	s.dhcp = &dhcpState{}
	s.closeTCP()
}
