// Package card implements the MMIO facade (component F) and owns the
// whole emulated Uthernet II instance: the 32KiB register image, the
// four sockets, and the virtual-service layer, wired together behind
// the four soft-switch registers the slot-I/O contract exposes.
package card

import (
	"net"
	"time"

	"uthernet2/internal/cardtypes"
	"uthernet2/internal/config"
	"uthernet2/internal/metrics"
	"uthernet2/internal/register"
	"uthernet2/internal/socket"
	"uthernet2/internal/virtual"
)

// Soft-switch offsets within the slot's I/O page (psw 0-15; this card
// only answers 4-7).
const (
	SwitchMode   = 4
	SwitchAddrHi = 5
	SwitchAddrLo = 6
	SwitchData   = 7
)

// Mode soft-switch bits.
const (
	modeAutoIncrement = 0x02
	modeReset         = 0x80
)

// Slot ROM identification pattern a driver probes for.
const (
	romIDOffset1 = 5
	romIDByte1   = 0x38
	romIDOffset2 = 7
	romIDByte2   = 0x18
)

// pollBudgetRoutine is the 0ms bounded poll spec.md names for routine
// register-read-triggered polling.
const pollBudgetRoutine = 0

// Card is one emulated Uthernet II instance, bound to one Apple II
// expansion slot.
type Card struct {
	mem      *register.Memory
	sockets  [4]*socket.Socket
	services *virtual.Services
	metrics  *metrics.Collector

	addr     uint16
	modeByte byte

	cfg *config.Config

	onLog func(format string, args ...interface{})
}

// New constructs a Card from cfg, wiring socket 0 to the virtual
// services and applying the common-register defaults spec.md §3
// requires after every reset.
func New(cfg *config.Config, m *metrics.Collector, onLog func(string, ...interface{})) *Card {
	if onLog == nil {
		onLog = func(string, ...interface{}) {}
	}
	c := &Card{
		mem:     register.NewMemory(),
		cfg:     cfg,
		metrics: m,
		onLog:   onLog,
	}
	c.reinit()
	return c
}

// reinit closes every descriptor the card currently holds open (each
// socket's host connection/listener and the virtual TCP translator's
// re-originated host connection) and rebuilds the card's state from
// scratch, including a fresh 32KiB register image — matching spec.md
// §5's requirement that a mode-register reset closes all descriptors
// and the translating TCP endpoint before re-initialization.
func (c *Card) reinit() {
	for i := 0; i < register.NumSockets; i++ {
		if c.sockets[i] != nil {
			c.sockets[i].Reset()
		}
	}
	if c.services != nil {
		c.services.Reset()
	}

	c.mem = register.NewMemory()

	for i := 0; i < register.NumSockets; i++ {
		reg := register.Socket(c.mem, i)
		s := socket.NewSocket(reg, i == 0)
		s.RedirectNets = c.redirectNets()
		s.OnDrop = func(err error) {
			c.onLog("socket error: %v", err)
			c.metrics.IncDrop(errKind(err))
		}
		s.Reset()
		c.sockets[i] = s
	}

	c.sockets[0].OnMACRawSend = func(data []byte) {
		c.services.HandleMACRawSend(data)
	}

	c.services = virtual.NewServices(c.virtualConfig(), c.injectSocket0)
	c.services.OnDrop = func(err error) {
		c.onLog("virtual service error: %v", err)
		c.metrics.IncDrop(errKind(err))
	}
	c.services.OnEvent = func(msg string) {
		c.onLog("virtual service: %s", msg)
		c.metrics.IncEvent(msg)
		if category, ok := eventCategory(msg); ok {
			c.metrics.IncFrame(category)
		}
	}
	c.services.SetCommonNetwork = func(clientIP, gatewayIP, subnet [4]byte) {
		c.mem.WriteBytes(register.CommonBase+register.SIPR0, clientIP[:])
		c.mem.WriteBytes(register.CommonBase+register.GAR0, gatewayIP[:])
		c.mem.WriteBytes(register.CommonBase+register.SUBR0, subnet[:])
	}

	c.seedCommonDefaults()
	c.addr = 0
	c.modeByte = 0
}

func (c *Card) redirectNets() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range c.cfg.Network.RedirectNets {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (c *Card) virtualConfig() virtual.Config {
	parseIP4 := func(s string) [4]byte {
		ip := net.ParseIP(s).To4()
		var out [4]byte
		copy(out[:], ip)
		return out
	}
	parseMAC := func(s string) [6]byte {
		mac, _ := net.ParseMAC(s)
		var out [6]byte
		copy(out[:], mac)
		return out
	}
	return virtual.Config{
		ClientIP:      parseIP4(c.cfg.Network.ClientIP),
		GatewayIP:     parseIP4(c.cfg.Network.GatewayIP),
		DNS:           parseIP4(c.cfg.Network.DNS),
		Subnet:        parseIP4(c.cfg.Network.Subnet),
		GatewayMAC:    parseMAC(c.cfg.Network.GatewayMAC),
		DefaultMAC:    parseMAC(c.cfg.Network.DefaultMAC),
		LeaseSecs:     uint32(c.cfg.Network.LeaseSecs),
		RedirectNets:  c.redirectNets(),
		ConnectWait:   time.Duration(c.cfg.Timeouts.ConnectWaitMillis) * time.Millisecond,
		SendDrainPoll: time.Duration(c.cfg.Timeouts.SendDrainPollMillis) * time.Millisecond,
	}
}

func (c *Card) injectSocket0(frame []byte) bool {
	ok := c.sockets[0].InjectRX(frame)
	if ok {
		c.metrics.AddBytes("rx", len(frame))
	}
	return ok
}

// eventCategory splits a virtual-service event message ("arp: ...",
// "dhcp: ...", "tcp: ...") into the prefix before its first colon, for
// metrics that are broken down by service rather than by message.
func eventCategory(msg string) (string, bool) {
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return msg[:i], true
		}
	}
	return "", false
}

// seedCommonDefaults re-applies the spec.md §3 common-register
// defaults: retry time 0x07D0, retry count 8, RX/TX memory size 0x55,
// source MAC, the virtual-detect byte, and every socket's TTL of 128.
func (c *Card) seedCommonDefaults() {
	c.mem.WriteUint16BE(register.CommonBase+register.RTR0, 0x07D0)
	c.mem.WriteByte(register.CommonBase+register.RCR, 8)
	c.mem.WriteByte(register.CommonBase+register.RMSR, 0x55)
	c.mem.WriteByte(register.CommonBase+register.TMSR, 0x55)
	c.mem.WriteByte(register.CommonBase+0x0028, 0x00) // virtual-detect byte

	mac, _ := net.ParseMAC(c.cfg.Network.DefaultMAC)
	c.mem.WriteBytes(register.CommonBase+register.SHAR0, mac)

	for i := 0; i < register.NumSockets; i++ {
		register.Socket(c.mem, i).SetTTL(128)
	}
}

// Access implements the slot-I/O contract: loc is the absolute
// address (unused by this card), val is the byte to
// write or -1 for a read, ploc is a ROM-area offset or -1, and psw is
// the soft-switch offset 0-15 or -1. Exactly one of ploc/psw is ever
// non-negative for a given call.
func (c *Card) Access(loc int, val int, ploc int, psw int) byte {
	if ploc >= 0 {
		return c.romRead(ploc)
	}
	if psw >= 0 {
		return c.switchAccess(psw, val)
	}
	return 0
}

func (c *Card) romRead(ploc int) byte {
	switch ploc {
	case romIDOffset1:
		return romIDByte1
	case romIDOffset2:
		return romIDByte2
	default:
		return 0
	}
}

func (c *Card) switchAccess(psw int, val int) byte {
	switch psw {
	case SwitchMode:
		if val >= 0 {
			c.writeMode(byte(val))
			return 0
		}
		return c.modeByte
	case SwitchAddrHi:
		if val >= 0 {
			c.addr = uint16(val)<<8 | (c.addr & 0x00ff)
			return 0
		}
		return byte(c.addr >> 8)
	case SwitchAddrLo:
		if val >= 0 {
			c.addr = (c.addr & 0xff00) | uint16(val)
			return 0
		}
		return byte(c.addr)
	case SwitchData:
		return c.dataAccess(val)
	default:
		return 0
	}
}

func (c *Card) writeMode(v byte) {
	c.modeByte = v
	if v&modeReset != 0 {
		c.onLog("mode register reset requested")
		c.reinit()
	}
}

// dataAccess performs one byte read or write through the address
// pointer, auto-incrementing it afterward if mode bit 1 is set, and
// triggers the side effects a real access at that address would have
// (command dispatch, register-read polling).
func (c *Card) dataAccess(val int) byte {
	addr := uint32(c.addr)
	var out byte

	if val >= 0 {
		c.mem.WriteByte(addr, byte(val))
		c.afterWrite(addr, byte(val))
	} else {
		out, _ = c.mem.ReadByte(addr)
		c.afterRead(addr)
	}

	if c.modeByte&modeAutoIncrement != 0 {
		c.addr++ // uint16 wraps at 0x10000 by construction
	}
	return out
}

// afterWrite dispatches a socket command the moment its Sn_CR byte is
// written, matching the one-shot trigger semantics of real W5100
// hardware (the guest never polls a "busy" bit; the command completes
// synchronously within this call).
func (c *Card) afterWrite(addr uint32, val byte) {
	for i := 0; i < register.NumSockets; i++ {
		base := register.SocketRegBaseAddr(i)
		if addr == base+register.SnCR {
			c.sockets[i].HandleCommand(val)
			return
		}
	}
}

// afterRead triggers the per-socket poll pass spec.md §4.D requires
// on every register read, plus a virtual-services poll when the read
// falls within socket 0's page (MAC-raw traffic is only ever observed
// through socket 0).
func (c *Card) afterRead(addr uint32) {
	for i := 0; i < register.NumSockets; i++ {
		base := register.SocketRegBaseAddr(i)
		if addr >= base && addr < base+register.SocketRegSize {
			c.sockets[i].Tick(pollBudgetRoutine)
			if i == 0 {
				c.services.Poll()
			}
			c.metrics.SetSocketState(i, int(c.sockets[i].Reg().SR()))
			return
		}
	}
}

// errKind classifies an error into the label the drop-count metric is
// broken down by, per internal/cardtypes' error kinds.
func errKind(err error) string {
	switch err.(type) {
	case *cardtypes.AddressOutOfRange:
		return "address_out_of_range"
	case *cardtypes.InvalidSocket:
		return "invalid_socket"
	case *cardtypes.HostSocketFailure:
		return "host_socket_failure"
	case *cardtypes.FrameParseFailure:
		return "frame_parse_failure"
	case *cardtypes.ResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "other"
	}
}
