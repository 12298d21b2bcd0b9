// Package socket implements the per-socket command/status state
// machine: the Sn_SR status values, the five Sn_MR modes, and the seven
// Sn_CR commands a guest can issue, plus how each of those commands
// drives the host socket adapter and the TX/RX rings. One Socket
// value owns one of the card's four W5100 sockets end to end.
package socket

import (
	"net"
	"time"

	"uthernet2/internal/cardtypes"
	"uthernet2/internal/hostsock"
	"uthernet2/internal/register"
	"uthernet2/internal/ring"
)

// Socket drives one of the card's four register pages through its
// command/status lifecycle, owning the host socket (if any) and the
// RX ring that feeds the guest's Sn_RX_RD reads.
type Socket struct {
	reg *register.SocketReg
	rx  *ring.RXRing

	host *hostsock.Socket

	connectDeadline time.Time
	closing         bool

	// RedirectNets lists the CIDRs a guest CONNECT destination is
	// rewritten to 127.0.0.1 under, so guest software addressing the
	// virtual gateway's subnet reaches services running on the host.
	RedirectNets []*net.IPNet

	// OnDrop is called whenever a command fails or a frame must be
	// dropped, so the owning card can log it and bump a metric. Never
	// nil after NewSocket.
	OnDrop func(error)

	// OnMACRawSend, when set (socket 0 only, mode MAC-raw), receives
	// the whole TX ring's worth of bytes on a SEND command instead of
	// that socket owning a host socket at all — MAC-raw frames are
	// handed to the virtual services, never to a real network peer.
	OnMACRawSend func([]byte)
}

// NewSocket wires a Socket to its register page. macRaw controls the
// RX ring's per-frame reset behavior and is only ever true for socket 0.
func NewSocket(reg *register.SocketReg, macRaw bool) *Socket {
	s := &Socket{
		reg:    reg,
		rx:     ring.NewRXRing(reg, macRaw),
		OnDrop: func(error) {},
	}
	return s
}

// Reset returns the socket to CLOSED with default register values; it
// is what CLOSE and a card reset both leave behind.
func (s *Socket) Reset() {
	if s.host != nil {
		s.host.Close()
		s.host = nil
	}
	s.rx.Reset()
	s.reg.SetSR(register.SockClosed)
	s.reg.SetTXRD(0)
	s.reg.SetTXWR(0)
	s.reg.SetTXFSR(ring.WindowSize)
	s.reg.ClearCR()
	s.reg.SetIR(0)
	s.closing = false
}

// Tick is called once per emulator poll cycle; it advances any
// in-progress CONNECT, drains pending inbound data on ESTABLISHED
// sockets, and notices a host-side close. It never blocks beyond the
// timeout budget passed in.
func (s *Socket) Tick(pollBudget time.Duration) {
	switch s.reg.SR() {
	case register.SockSynSent:
		s.pollConnect(pollBudget)
	case register.SockEstablished:
		s.pollInbound(pollBudget)
	case register.SockListen:
		s.pollAccept()
	}
}

// HandleCommand dispatches a single Sn_CR write. The command register
// is cleared immediately after, matching real W5100 behavior (a
// command is a one-shot trigger, never a persistent mode).
func (s *Socket) HandleCommand(cmd byte) {
	defer s.reg.ClearCR()

	switch cmd {
	case register.CmdOpen:
		s.open()
	case register.CmdListen:
		s.listen()
	case register.CmdConnect:
		s.connect()
	case register.CmdDisconn:
		s.disconnect()
	case register.CmdClose:
		s.Reset()
	case register.CmdSend, register.CmdSendMAC, register.CmdSendKeep:
		s.send()
	case register.CmdRecv:
		s.recv()
	default:
		s.fail(&cardtypes.InvalidSocket{Socket: s.reg.Index(), Reason: "unrecognized command"})
	}
}

func (s *Socket) fail(err error) {
	s.OnDrop(err)
}

// open transitions CLOSED -> INIT/UDP/IPRAW/MACRAW per the mode byte,
// without touching the network yet.
func (s *Socket) open() {
	mode := s.reg.MR() & 0x0f
	switch mode {
	case register.ModeTCP:
		s.reg.SetSR(register.SockInit)
	case register.ModeUDP:
		s.bindUDP()
	case register.ModeIPRaw:
		s.reg.SetSR(register.SockIPRaw)
	case register.ModeMACRaw:
		s.reg.SetSR(register.SockMACRaw)
	default:
		s.fail(&cardtypes.InvalidSocket{Socket: s.reg.Index(), Reason: "open with mode CLOSED"})
	}
}

func (s *Socket) bindUDP() {
	h, err := hostsock.ListenUDP(s.reg.Port())
	if err != nil {
		s.fail(&cardtypes.HostSocketFailure{Socket: s.reg.Index(), Op: "bind-udp", Err: err})
		s.reg.SetSR(register.SockClosed)
		return
	}
	s.host = h
	s.reg.SetSR(register.SockUDP)
}

// listen moves INIT -> LISTEN, opening a host TCP listener on the
// socket's configured port.
func (s *Socket) listen() {
	if s.reg.SR() != register.SockInit {
		s.fail(&cardtypes.InvalidSocket{Socket: s.reg.Index(), Reason: "listen outside INIT"})
		return
	}
	h, err := hostsock.ListenTCP(s.reg.Port())
	if err != nil {
		s.fail(&cardtypes.HostSocketFailure{Socket: s.reg.Index(), Op: "listen", Err: err})
		s.reg.SetSR(register.SockClosed)
		return
	}
	s.host = h
	s.reg.SetSR(register.SockListen)
}

// connect moves INIT -> SYNSENT, kicking off a non-blocking connect
// to Sn_DIPR:Sn_DPORT.
func (s *Socket) connect() {
	if s.reg.SR() != register.SockInit {
		s.fail(&cardtypes.InvalidSocket{Socket: s.reg.Index(), Reason: "connect outside INIT"})
		return
	}
	ip := s.reg.DIPR()
	dst := net.IPv4(ip[0], ip[1], ip[2], ip[3])
	for _, n := range s.RedirectNets {
		if n.Contains(dst) {
			dst = net.IPv4(127, 0, 0, 1)
			break
		}
	}
	addr := &net.TCPAddr{IP: dst, Port: int(s.reg.DPort())}

	h, err := hostsock.DialTCPNonBlocking(addr)
	if err != nil {
		s.fail(&cardtypes.HostSocketFailure{Socket: s.reg.Index(), Op: "connect", Err: err})
		s.reg.SetSR(register.SockClosed)
		return
	}
	s.host = h
	s.reg.SetSR(register.SockSynSent)
}

func (s *Socket) pollConnect(budget time.Duration) {
	state, err := s.host.PollConnect(budget)
	switch state {
	case hostsock.ConnectEstablished:
		s.reg.SetSR(register.SockEstablished)
		s.reg.SetIR(s.reg.IR() | 0x01) // CON interrupt bit
	case hostsock.ConnectFailed:
		s.fail(err)
		s.reg.SetSR(register.SockClosed)
		s.host.Close()
		s.host = nil
	case hostsock.ConnectPending:
		// still waiting, nothing to do this tick
	}
}

func (s *Socket) pollAccept() {
	conn, err := s.host.AcceptNonBlocking()
	if err != nil {
		s.fail(err)
		return
	}
	if conn == nil {
		return
	}
	s.host.Close()
	s.host = conn
	s.reg.SetSR(register.SockEstablished)
	s.reg.SetIR(s.reg.IR() | 0x01)
}

// disconnect releases the host socket, if any, and moves the socket
// straight to CLOSED; no FIN_WAIT state is entered. A host-observed
// close is handled separately, in pollInbound.
func (s *Socket) disconnect() {
	if s.host != nil {
		s.host.Close()
		s.host = nil
	}
	s.reg.SetSR(register.SockClosed)
}

// send drains bytes queued between Sn_TX_RD and Sn_TX_WR to the host
// socket, advancing Sn_TX_RD by however much was actually accepted.
func (s *Socket) send() {
	wr := s.reg.TXWR()
	rd := s.reg.TXRD()
	used := ring.TXUsed(wr, rd)
	if used == 0 {
		s.reg.SetIR(s.reg.IR() | 0x10) // SEND_OK, trivially
		return
	}
	data := ring.ReadTX(s.reg, rd, used)

	if s.OnMACRawSend != nil && s.reg.MR()&0x0f == register.ModeMACRaw {
		s.OnMACRawSend(data)
		s.reg.SetTXRD(wr)
		s.reg.SetTXFSR(ring.WindowSize)
		s.reg.SetIR(s.reg.IR() | 0x10)
		return
	}

	if s.host == nil {
		s.fail(&cardtypes.InvalidSocket{Socket: s.reg.Index(), Reason: "send with no host socket"})
		return
	}

	n, err := s.host.Send(data)
	if err != nil {
		s.fail(&cardtypes.HostSocketFailure{Socket: s.reg.Index(), Op: "send", Err: err})
		s.reg.SetSR(register.SockClosed)
		s.host.Close()
		s.host = nil
		return
	}
	s.reg.SetTXRD(rd + uint16(n))
	s.reg.SetTXFSR(ring.TXFreeSize(wr, rd+uint16(n)))
	if uint16(n) == used {
		s.reg.SetIR(s.reg.IR() | 0x10)
	}
}

// recv advances the RX ring by whatever the guest claims to have
// consumed, by diffing its Sn_RX_RD write against the ring's head.
func (s *Socket) recv() {
	claimed := s.reg.RXRD()
	delta := claimed - s.rx.Head()
	s.rx.Advance(delta)
}

// pollInbound reads available bytes from the host socket into the RX
// ring, up to however much room is left.
func (s *Socket) pollInbound(budget time.Duration) {
	ready, err := s.host.PollReadable(budget)
	if err != nil {
		s.fail(err)
		s.reg.SetSR(register.SockClosed)
		s.host.Close()
		s.host = nil
		return
	}
	if !ready {
		return
	}

	free := s.rx.FreeSpace()
	if free == 0 {
		return
	}
	buf := make([]byte, free)
	n, err := s.host.Recv(buf)
	if err != nil {
		s.fail(err)
		s.reg.SetSR(register.SockClosed)
		s.host.Close()
		s.host = nil
		return
	}
	if n == 0 {
		// host peer closed its write side
		s.reg.SetSR(register.SockCloseWait)
		return
	}
	if !s.rx.Append(buf[:n]) {
		s.fail(&cardtypes.ResourceExhaustion{Socket: s.reg.Index(), Wanted: n, Free: int(free)})
		return
	}
	s.reg.SetIR(s.reg.IR() | 0x04) // RECV interrupt bit
}

// InjectRX appends a synthesized frame (used by virtual services for
// MACRAW delivery) directly into the RX ring, bypassing the host
// socket entirely.
func (s *Socket) InjectRX(data []byte) bool {
	if ok := s.rx.Append(data); ok {
		s.reg.SetIR(s.reg.IR() | 0x04)
		return true
	}
	return false
}

// RXRing exposes the ring for components (virtual services, the MMIO
// facade) that need direct access rather than going through commands.
func (s *Socket) RXRing() *ring.RXRing { return s.rx }

// Reg exposes the underlying register page.
func (s *Socket) Reg() *register.SocketReg { return s.reg }
