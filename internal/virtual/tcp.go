package virtual

import (
	"net"
	"time"

	"uthernet2/internal/codec"
	"uthernet2/internal/hostsock"
)

// defaultConnectWait and defaultDrainPoll back Config.ConnectWait and
// Config.SendDrainPoll when a caller leaves them unset (the zero
// value), so NewServices stays usable without a full Config literal.
const (
	defaultConnectWait = 100 * time.Millisecond
	defaultDrainPoll   = 50 * time.Millisecond
)

func (s *Services) connectWait() time.Duration {
	if s.cfg.ConnectWait <= 0 {
		return defaultConnectWait
	}
	return s.cfg.ConnectWait
}

func (s *Services) drainPoll() time.Duration {
	if s.cfg.SendDrainPoll <= 0 {
		return defaultDrainPoll
	}
	return s.cfg.SendDrainPoll
}

// tcpTranslator is the single synthesized TCP connection the card can
// have open at once (spec.md §3: "only one concurrent translated TCP
// connection is supported; opening a second closes the first").
type tcpTranslator struct {
	host *hostsock.Socket

	guestMAC  [6]byte
	guestIP   [4]byte
	localIP   [4]byte // the address the guest addressed; presented back as our source
	guestPort uint16
	localPort uint16 // the port the guest addressed; presented back as our source port

	ourSeq      uint32
	peerSeq     uint32
	established bool
	finSent     bool
	finReceived bool
}

func (s *Services) closeTCP() {
	if s.tcp.host != nil {
		s.tcp.host.Close()
	}
	s.tcp = &tcpTranslator{}
}

func (s *Services) handleTCP(eth *codec.EthernetFrame, ip *codec.IPv4Packet) {
	if !inRedirectRange(ip.DstIP, s.cfg.RedirectNets) {
		return
	}
	tcp, err := codec.ParseTCP(ip.Payload)
	if err != nil {
		s.OnDrop(err)
		return
	}

	switch {
	case tcp.Flags&codec.TCPFlagSYN != 0 && tcp.Flags&codec.TCPFlagACK == 0:
		s.tcpSYN(eth, ip, tcp)
	case tcp.Flags&codec.TCPFlagFIN != 0:
		s.tcpFIN(eth, ip, tcp)
	case tcp.Flags&codec.TCPFlagACK != 0:
		if len(tcp.Payload) > 0 {
			s.tcpData(eth, ip, tcp)
		} else if !s.tcp.established {
			s.tcp.established = true
			s.OnEvent("tcp: translation established")
		}
	}
}

func inRedirectRange(ip [4]byte, nets []*net.IPNet) bool {
	addr := net.IPv4(ip[0], ip[1], ip[2], ip[3])
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Services) tcpSYN(eth *codec.EthernetFrame, ip *codec.IPv4Packet, tcp *codec.TCPSegment) {
	s.closeTCP()

	host, err := hostsock.DialTCPNonBlocking(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(tcp.DstPort)})
	if err != nil {
		s.OnDrop(err)
		s.injectRSTACK(eth, ip, tcp, tcp.Seq+1, 0)
		return
	}

	wait := s.connectWait()
	deadline := time.Now().Add(wait)
	state := hostsock.ConnectPending
	for time.Now().Before(deadline) && state == hostsock.ConnectPending {
		state, err = host.PollConnect(wait)
		if state != hostsock.ConnectPending {
			break
		}
	}
	if state != hostsock.ConnectEstablished {
		if err != nil {
			s.OnDrop(err)
		}
		host.Close()
		s.injectRSTACK(eth, ip, tcp, tcp.Seq+1, 0)
		return
	}

	t := &tcpTranslator{
		host:      host,
		guestMAC:  eth.SrcMAC,
		guestIP:   ip.SrcIP,
		localIP:   ip.DstIP,
		guestPort: tcp.SrcPort,
		localPort: tcp.DstPort,
		ourSeq:    12345,
		peerSeq:   tcp.Seq + 1,
	}
	s.tcp = t

	s.injectTCP(t, codec.TCPFlagSYN|codec.TCPFlagACK, nil)
	t.ourSeq++ // SYN consumes one sequence number
	s.OnEvent("tcp: translation opened")
}

func (s *Services) tcpData(eth *codec.EthernetFrame, ip *codec.IPv4Packet, tcp *codec.TCPSegment) {
	t := s.tcp
	if t.host == nil {
		return
	}
	if _, err := t.host.Send(tcp.Payload); err != nil {
		s.OnDrop(err)
		s.closeTCP()
		return
	}
	t.peerSeq += uint32(len(tcp.Payload))
	s.injectTCP(t, codec.TCPFlagACK, nil)

	drain := s.drainPoll()
	deadline := time.Now().Add(drain)
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		ready, err := t.host.PollReadable(drain)
		if err != nil {
			s.OnDrop(err)
			s.closeTCP()
			return
		}
		if !ready {
			break
		}
		n, err := t.host.Recv(buf)
		if err != nil {
			s.OnDrop(err)
			s.closeTCP()
			return
		}
		if n == 0 {
			break
		}
		s.injectTCP(t, codec.TCPFlagPSH|codec.TCPFlagACK, buf[:n])
		t.ourSeq += uint32(n)
	}
}

func (s *Services) tcpFIN(eth *codec.EthernetFrame, ip *codec.IPv4Packet, tcp *codec.TCPSegment) {
	t := s.tcp
	t.peerSeq++
	flags := codec.TCPFlagACK
	if !t.finSent {
		flags |= codec.TCPFlagFIN
		t.finSent = true
	}
	s.injectTCP(t, byte(flags), nil)
	t.finReceived = true
	if t.host != nil {
		t.host.Close()
		t.host = nil
	}
	s.OnEvent("tcp: translation closed (guest FIN)")
}

func (s *Services) pollTCP() {
	t := s.tcp
	if t.host == nil || !t.established {
		return
	}
	ready, err := t.host.PollReadable(0)
	if err != nil {
		s.OnDrop(err)
		s.closeTCP()
		return
	}
	if !ready {
		return
	}
	buf := make([]byte, 4096)
	n, err := t.host.Recv(buf)
	if err != nil {
		s.OnDrop(err)
		s.closeTCP()
		return
	}
	if n == 0 {
		return
	}
	s.injectTCP(t, codec.TCPFlagPSH|codec.TCPFlagACK, buf[:n])
	t.ourSeq += uint32(n)
}

// injectTCP builds one synthesized TCP segment presenting localIP:localPort
// as the source and the guest as the destination, with correct IP and
// TCP pseudo-header checksums, and injects it into socket 0's RX ring.
func (s *Services) injectTCP(t *tcpTranslator, flags byte, payload []byte) {
	seg := codec.BuildTCP(t.localIP, t.guestIP, t.localPort, t.guestPort, t.ourSeq, t.peerSeq, flags, 4096, payload)
	ipPkt := codec.BuildIPv4(t.localIP, t.guestIP, codec.ProtoTCP, 0, 64, seg)
	frame := codec.BuildEthernet(t.guestMAC, s.cfg.GatewayMAC, codec.EthTypeIPv4, ipPkt)
	s.inject(frame)
}

// injectRSTACK responds to a failed SYN with an immediate RST+ACK,
// using the request's own addressing since no tcpTranslator state was
// ever committed.
func (s *Services) injectRSTACK(eth *codec.EthernetFrame, ip *codec.IPv4Packet, tcp *codec.TCPSegment, ack, seq uint32) {
	seg := codec.BuildTCP(ip.DstIP, ip.SrcIP, tcp.DstPort, tcp.SrcPort, seq, ack, codec.TCPFlagRST|codec.TCPFlagACK, 0, nil)
	ipPkt := codec.BuildIPv4(ip.DstIP, ip.SrcIP, codec.ProtoTCP, 0, 64, seg)
	frame := codec.BuildEthernet(eth.SrcMAC, s.cfg.GatewayMAC, codec.EthTypeIPv4, ipPkt)
	s.inject(frame)
}
