package register

import "testing"

func TestOutOfRangeAccessIsReported(t *testing.T) {
	m := NewMemory()
	if _, err := m.ReadByte(ImageSize); err == nil {
		t.Fatalf("expected AddressOutOfRange for read past ImageSize")
	}
	if err := m.WriteByte(ImageSize+10, 1); err == nil {
		t.Fatalf("expected AddressOutOfRange for write past ImageSize")
	}
}

func TestUint16BERoundTrip(t *testing.T) {
	m := NewMemory()
	m.WriteUint16BE(0x0100, 0xBEEF)
	if got := m.ReadUint16BE(0x0100); got != 0xBEEF {
		t.Fatalf("ReadUint16BE = 0x%04x, want 0xBEEF", got)
	}
	hi, _ := m.ReadByte(0x0100)
	lo, _ := m.ReadByte(0x0101)
	if hi != 0xBE || lo != 0xEF {
		t.Fatalf("big-endian byte order wrong: hi=0x%02x lo=0x%02x", hi, lo)
	}
}

func TestSocketRegBaseAddresses(t *testing.T) {
	cases := []struct {
		n    int
		want uint32
	}{
		{0, 0x0400}, {1, 0x0500}, {2, 0x0600}, {3, 0x0700},
	}
	for _, c := range cases {
		if got := SocketRegBaseAddr(c.n); got != c.want {
			t.Errorf("SocketRegBaseAddr(%d) = 0x%04x, want 0x%04x", c.n, got, c.want)
		}
	}
}

func TestSocketTXRXWindows(t *testing.T) {
	m := NewMemory()
	s := Socket(m, 1)
	if s.TXBufBase() != 0x4800 {
		t.Errorf("socket 1 TX base = 0x%04x, want 0x4800", s.TXBufBase())
	}
	if s.RXBufBase() != 0x6800 {
		t.Errorf("socket 1 RX base = 0x%04x, want 0x6800", s.RXBufBase())
	}
}
