// Package register models the Uthernet II / WIZnet W5100 memory image:
// a flat 32KiB address space holding the common register block, four
// socket register pages, and the TX/RX buffer windows for each socket.
// It owns only byte storage and address arithmetic; it has no opinion
// about what a command or a status value means (that's internal/socket)
// and no opinion about host sockets (internal/hostsock).
package register

import "uthernet2/internal/cardtypes"

// Memory size and region boundaries, per the W5100 address map.
const (
	ImageSize = 0x8000

	CommonBase = 0x0000
	CommonSize = 0x0400

	SocketRegBase = 0x0400
	SocketRegSize = 0x0100 // per socket

	TXBase     = 0x4000
	TXSockSize = 0x0800 // 2KiB per socket

	RXBase     = 0x6000
	RXSockSize = 0x0800 // 2KiB per socket

	NumSockets = 4
)

// Common register offsets (within CommonBase).
const (
	MR      = 0x0000 // Mode Register
	GAR0    = 0x0001 // Gateway Address (4 bytes)
	SUBR0   = 0x0005 // Subnet Mask (4 bytes)
	SHAR0   = 0x0009 // Source Hardware Address (6 bytes)
	SIPR0   = 0x000F // Source IP Address (4 bytes)
	RTR0    = 0x0017 // Retry Time (2 bytes)
	RCR     = 0x0019 // Retry Count
	RMSR    = 0x001A // RX Memory Size (fixed at 2KiB/socket for this card)
	TMSR    = 0x001B // TX Memory Size (fixed at 2KiB/socket for this card)
)

// Per-socket register offsets (within a socket's SocketRegSize page).
const (
	SnMR     = 0x00 // Mode
	SnCR     = 0x01 // Command
	SnIR     = 0x02 // Interrupt
	SnSR     = 0x03 // Status
	SnPORT0  = 0x04 // Source port (2 bytes)
	SnDHAR0  = 0x06 // Destination hardware address (6 bytes)
	SnDIPR0  = 0x0C // Destination IP address (4 bytes)
	SnDPORT0 = 0x10 // Destination port (2 bytes)
	SnMSSR0  = 0x12 // Maximum segment size (2 bytes)
	SnPROTO  = 0x14 // IP protocol (MACRAW mode: unused)
	SnTOS    = 0x15 // IP type-of-service
	SnTTL    = 0x16 // IP time-to-live
	SnTXFSR0 = 0x20 // TX free size (2 bytes, derived)
	SnTXRD0  = 0x22 // TX read pointer (2 bytes)
	SnTXWR0  = 0x24 // TX write pointer (2 bytes)
	SnRXRSR0 = 0x26 // RX received size (2 bytes, derived)
	SnRXRD0  = 0x28 // RX read pointer (2 bytes)
)

// Socket modes (Sn_MR low nibble).
const (
	ModeClosed = 0x00
	ModeTCP    = 0x01
	ModeUDP    = 0x02
	ModeIPRaw  = 0x03
	ModeMACRaw = 0x04 // only valid on socket 0
)

// Socket commands, written to Sn_CR.
const (
	CmdOpen      = 0x01
	CmdListen    = 0x02
	CmdConnect   = 0x04
	CmdDisconn   = 0x08
	CmdClose     = 0x10
	CmdSend      = 0x20
	CmdSendMAC   = 0x21
	CmdSendKeep  = 0x22
	CmdRecv      = 0x40
)

// Socket statuses, read from Sn_SR.
const (
	SockClosed      = 0x00
	SockInit        = 0x13
	SockListen      = 0x14
	SockEstablished = 0x17
	SockCloseWait   = 0x1C
	SockUDP         = 0x22
	SockIPRaw       = 0x32
	SockMACRaw      = 0x42
	SockSynSent     = 0x15
	SockSynRecv     = 0x16
	SockFinWait     = 0x18
	SockClosing     = 0x1A
	SockTimeWait    = 0x1B
	SockLastAck     = 0x1D
)

// Memory is the 32KiB flat address space a slot access indexes into.
type Memory struct {
	bytes [ImageSize]byte
}

// NewMemory returns a freshly constructed, zeroed image. Callers apply
// their own mode-reset defaults on top (see internal/card).
func NewMemory() *Memory {
	return &Memory{}
}

// ReadByte returns the raw byte at addr with no side effects (no
// auto-increment, no derived-register computation). Out-of-range reads
// return zero and a cardtypes.AddressOutOfRange.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	if addr >= ImageSize {
		return 0, &cardtypes.AddressOutOfRange{Addr: addr}
	}
	return m.bytes[addr], nil
}

// WriteByte stores the raw byte at addr with no side effects.
// Out-of-range writes are dropped and report cardtypes.AddressOutOfRange.
func (m *Memory) WriteByte(addr uint32, v byte) error {
	if addr >= ImageSize {
		return &cardtypes.AddressOutOfRange{Addr: addr}
	}
	m.bytes[addr] = v
	return nil
}

// ReadUint16BE reads a big-endian 16-bit value at addr (used for every
// multi-byte register: pointers, ports, sizes). Per the W5100 data
// sheet all multi-byte registers, including Sn_DIPR, are big-endian.
func (m *Memory) ReadUint16BE(addr uint32) uint16 {
	hi, _ := m.ReadByte(addr)
	lo, _ := m.ReadByte(addr + 1)
	return uint16(hi)<<8 | uint16(lo)
}

// WriteUint16BE writes a big-endian 16-bit value at addr.
func (m *Memory) WriteUint16BE(addr uint32, v uint16) {
	m.WriteByte(addr, byte(v>>8))
	m.WriteByte(addr+1, byte(v))
}

// ReadBytes copies n bytes starting at addr; out-of-range positions
// read as zero.
func (m *Memory) ReadBytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i], _ = m.ReadByte(addr + uint32(i))
	}
	return out
}

// WriteBytes copies data into the image starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) {
	for i, b := range data {
		m.WriteByte(addr+uint32(i), b)
	}
}

// SocketRegBaseAddr returns the address of socket n's register page.
func SocketRegBaseAddr(n int) uint32 {
	return SocketRegBase + uint32(n)*SocketRegSize
}

// SocketTXBaseAddr returns the address of socket n's TX buffer window.
func SocketTXBaseAddr(n int) uint32 {
	return TXBase + uint32(n)*TXSockSize
}

// SocketRXBaseAddr returns the address of socket n's RX buffer window.
func SocketRXBaseAddr(n int) uint32 {
	return RXBase + uint32(n)*RXSockSize
}

// SocketReg is a thin, bounds-checked view onto one socket's register
// page plus its TX/RX buffer windows, so component D/E code never has
// to compute SocketRegBaseAddr(n)+offset by hand.
type SocketReg struct {
	mem *Memory
	n   int
	reg uint32
	tx  uint32
	rx  uint32
}

// Socket returns a view onto socket n (0..NumSockets-1) of mem.
func Socket(mem *Memory, n int) *SocketReg {
	return &SocketReg{
		mem: mem,
		n:   n,
		reg: SocketRegBaseAddr(n),
		tx:  SocketTXBaseAddr(n),
		rx:  SocketRXBaseAddr(n),
	}
}

func (s *SocketReg) Index() int { return s.n }

func (s *SocketReg) MR() byte     { b, _ := s.mem.ReadByte(s.reg + SnMR); return b }
func (s *SocketReg) SetMR(v byte) { s.mem.WriteByte(s.reg+SnMR, v) }

func (s *SocketReg) CR() byte     { b, _ := s.mem.ReadByte(s.reg + SnCR); return b }
func (s *SocketReg) SetCR(v byte) { s.mem.WriteByte(s.reg+SnCR, v) }
func (s *SocketReg) ClearCR()     { s.mem.WriteByte(s.reg+SnCR, 0) }

func (s *SocketReg) IR() byte     { b, _ := s.mem.ReadByte(s.reg + SnIR); return b }
func (s *SocketReg) SetIR(v byte) { s.mem.WriteByte(s.reg+SnIR, v) }

func (s *SocketReg) SR() byte     { b, _ := s.mem.ReadByte(s.reg + SnSR); return b }
func (s *SocketReg) SetSR(v byte) { s.mem.WriteByte(s.reg+SnSR, v) }

func (s *SocketReg) Port() uint16     { return s.mem.ReadUint16BE(s.reg + SnPORT0) }
func (s *SocketReg) SetPort(v uint16) { s.mem.WriteUint16BE(s.reg+SnPORT0, v) }

func (s *SocketReg) DHAR() []byte       { return s.mem.ReadBytes(s.reg+SnDHAR0, 6) }
func (s *SocketReg) SetDHAR(mac []byte) { s.mem.WriteBytes(s.reg+SnDHAR0, mac) }

func (s *SocketReg) DIPR() []byte       { return s.mem.ReadBytes(s.reg+SnDIPR0, 4) }
func (s *SocketReg) SetDIPR(ip []byte)  { s.mem.WriteBytes(s.reg+SnDIPR0, ip) }

func (s *SocketReg) DPort() uint16     { return s.mem.ReadUint16BE(s.reg + SnDPORT0) }
func (s *SocketReg) SetDPort(v uint16) { s.mem.WriteUint16BE(s.reg+SnDPORT0, v) }

func (s *SocketReg) MSSR() uint16     { return s.mem.ReadUint16BE(s.reg + SnMSSR0) }
func (s *SocketReg) SetMSSR(v uint16) { s.mem.WriteUint16BE(s.reg+SnMSSR0, v) }

func (s *SocketReg) TTL() byte     { b, _ := s.mem.ReadByte(s.reg + SnTTL); return b }
func (s *SocketReg) SetTTL(v byte) { s.mem.WriteByte(s.reg+SnTTL, v) }

func (s *SocketReg) TXRD() uint16     { return s.mem.ReadUint16BE(s.reg + SnTXRD0) }
func (s *SocketReg) SetTXRD(v uint16) { s.mem.WriteUint16BE(s.reg+SnTXRD0, v) }

func (s *SocketReg) TXWR() uint16     { return s.mem.ReadUint16BE(s.reg + SnTXWR0) }
func (s *SocketReg) SetTXWR(v uint16) { s.mem.WriteUint16BE(s.reg+SnTXWR0, v) }

func (s *SocketReg) TXFSR() uint16     { return s.mem.ReadUint16BE(s.reg + SnTXFSR0) }
func (s *SocketReg) SetTXFSR(v uint16) { s.mem.WriteUint16BE(s.reg+SnTXFSR0, v) }

func (s *SocketReg) RXRD() uint16     { return s.mem.ReadUint16BE(s.reg + SnRXRD0) }
func (s *SocketReg) SetRXRD(v uint16) { s.mem.WriteUint16BE(s.reg+SnRXRD0, v) }

func (s *SocketReg) RXRSR() uint16     { return s.mem.ReadUint16BE(s.reg + SnRXRSR0) }
func (s *SocketReg) SetRXRSR(v uint16) { s.mem.WriteUint16BE(s.reg+SnRXRSR0, v) }

// TXBufBase and RXBufBase expose the buffer window base addresses so
// internal/ring can do modulo arithmetic against the right window.
func (s *SocketReg) TXBufBase() uint32 { return s.tx }
func (s *SocketReg) RXBufBase() uint32 { return s.rx }

// TXByteAt, RXByteAtSet and RXByteAt read or write a byte directly inside a
// socket's buffer window at a physical offset (already reduced modulo
// the window size by the caller). They bypass the MMIO address
// pointer entirely — used by internal/ring and the SEND/RECV command
// handlers, never by the MMIO facade directly.
func (s *SocketReg) TXByteAt(offset uint16) byte {
	b, _ := s.mem.ReadByte(s.tx + uint32(offset))
	return b
}

func (s *SocketReg) RXByteAtSet(offset uint16, v byte) {
	s.mem.WriteByte(s.rx+uint32(offset), v)
}

func (s *SocketReg) RXByteAt(offset uint16) byte {
	b, _ := s.mem.ReadByte(s.rx + uint32(offset))
	return b
}
