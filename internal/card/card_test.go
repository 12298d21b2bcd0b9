package card

import (
	"testing"

	"uthernet2/internal/codec"
	"uthernet2/internal/config"
	"uthernet2/internal/metrics"
	"uthernet2/internal/register"
)

func newTestCard(t *testing.T) *Card {
	t.Helper()
	cfg := config.Default()
	return New(cfg, metrics.New(), nil)
}

func (c *Card) setAddr(addr uint16) {
	c.switchAccess(SwitchAddrHi, int(addr>>8))
	c.switchAccess(SwitchAddrLo, int(addr&0xff))
}

func (c *Card) writeByte(b byte) {
	c.switchAccess(SwitchData, int(b))
}

func (c *Card) readByte() byte {
	return c.switchAccess(SwitchData, -1)
}

func TestROMIdentificationBytes(t *testing.T) {
	c := newTestCard(t)
	if got := c.Access(0, -1, 5, -1); got != romIDByte1 {
		t.Fatalf("ROM byte at offset 5 = 0x%02x, want 0x%02x", got, romIDByte1)
	}
	if got := c.Access(0, -1, 7, -1); got != romIDByte2 {
		t.Fatalf("ROM byte at offset 7 = 0x%02x, want 0x%02x", got, romIDByte2)
	}
	if got := c.Access(0, -1, 3, -1); got != 0 {
		t.Fatalf("ROM byte at offset 3 = 0x%02x, want 0", got)
	}
}

func TestAutoIncrementWraparound(t *testing.T) {
	c := newTestCard(t)
	c.switchAccess(SwitchMode, modeAutoIncrement)
	c.setAddr(0xffff)

	c.writeByte(0xAA)
	if c.addr != 0 {
		t.Fatalf("address after auto-increment past 0xffff = 0x%04x, want 0", c.addr)
	}
	c.writeByte(0xBB)
	if c.addr != 1 {
		t.Fatalf("address after second write = 0x%04x, want 1", c.addr)
	}

	// 0xffff lies outside the 32KiB image, so the first write is
	// dropped; the second, after the pointer wrapped, lands at 0x0000.
	got1, _ := c.mem.ReadByte(0xffff)
	got2, _ := c.mem.ReadByte(0x0000)
	if got1 != 0 || got2 != 0xBB {
		t.Fatalf("wraparound write landed wrong: [0xffff]=0x%02x (want dropped) [0x0000]=0x%02x", got1, got2)
	}
}

func TestNoAutoIncrementWhenDisabled(t *testing.T) {
	c := newTestCard(t)
	c.setAddr(0x0500)
	c.writeByte(1)
	c.writeByte(2)
	if c.addr != 0x0500 {
		t.Fatalf("address moved without auto-increment enabled: 0x%04x", c.addr)
	}
}

func TestModeResetReseedsDefaults(t *testing.T) {
	c := newTestCard(t)

	// Perturb state: move socket 1 into INIT, write garbage into a
	// common register.
	reg1 := register.Socket(c.mem, 1)
	reg1.SetMR(register.ModeTCP)
	c.sockets[1].HandleCommand(register.CmdOpen)
	c.mem.WriteByte(register.CommonBase+register.RCR, 0xFF)

	c.switchAccess(SwitchMode, modeReset)

	if reg1.SR() != register.SockClosed {
		t.Fatalf("socket 1 status after reset = 0x%02x, want CLOSED", reg1.SR())
	}
	rcr, _ := c.mem.ReadByte(register.CommonBase + register.RCR)
	if rcr != 8 {
		t.Fatalf("RCR after reset = %d, want 8 (re-seeded default)", rcr)
	}
}

func TestCommandDispatchOnRegisterWrite(t *testing.T) {
	c := newTestCard(t)
	reg2 := register.Socket(c.mem, 2)

	c.setAddr(uint16(register.SocketRegBaseAddr(2) + register.SnMR))
	c.writeByte(register.ModeTCP)

	c.setAddr(uint16(register.SocketRegBaseAddr(2) + register.SnCR))
	c.writeByte(register.CmdOpen)

	if reg2.SR() != register.SockInit {
		t.Fatalf("socket 2 status after OPEN via MMIO = 0x%02x, want INIT", reg2.SR())
	}
	if reg2.CR() != 0 {
		t.Fatalf("Sn_CR should read back as 0 after dispatch, got 0x%02x", reg2.CR())
	}
}

func TestARPInjectedIntoSocket0RX(t *testing.T) {
	c := newTestCard(t)

	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	gatewayIP := c.virtualConfig().GatewayIP
	arp := codec.BuildARP(&codec.ARPPacket{
		Operation: codec.ARPOpRequest,
		SenderMAC: guestMAC,
		SenderIP:  [4]byte{192, 168, 65, 100},
		TargetIP:  gatewayIP,
	})
	frame := codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, guestMAC, codec.EthTypeARP, arp)

	reg0 := register.Socket(c.mem, 0)
	reg0.SetMR(register.ModeMACRaw)
	c.sockets[0].HandleCommand(register.CmdOpen)

	reg0.SetTXWR(uint16(len(frame)))
	for i, b := range frame {
		c.mem.WriteByte(reg0.TXBufBase()+uint32(i), b)
	}
	c.sockets[0].HandleCommand(register.CmdSendMAC)

	if reg0.RXRSR() == 0 {
		t.Fatalf("expected an injected ARP reply to raise Sn_RX_RSR, got 0")
	}
}
