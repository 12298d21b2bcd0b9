package ring

import (
	"testing"

	"uthernet2/internal/register"
)

func TestTXFreeSizeFormula(t *testing.T) {
	var wrapRd uint16 = 0xfff0
	var wrapWr uint16 = 0 // pointer has wrapped past 0xffff back to 0
	wrapUsed := wrapWr - wrapRd

	cases := []struct{ wr, rd, want uint16 }{
		{0, 0, WindowSize},
		{100, 0, WindowSize - 100},
		{wrapWr, wrapRd, WindowSize - wrapUsed},
	}
	for _, c := range cases {
		if got := TXFreeSize(c.wr, c.rd); got != c.want {
			t.Errorf("TXFreeSize(%d,%d) = %d, want %d", c.wr, c.rd, got, c.want)
		}
	}
}

func TestRXRingAvailableRoundTrip(t *testing.T) {
	mem := register.NewMemory()
	s := register.Socket(mem, 0)
	r := NewRXRing(s, false)

	data := []byte("hello, uthernet")
	if !r.Append(data) {
		t.Fatalf("append failed unexpectedly")
	}
	if got := r.Available(); got != uint16(len(data)) {
		t.Fatalf("Available() = %d, want %d", got, len(data))
	}
	if got := s.RXRSR(); got != uint16(len(data)) {
		t.Fatalf("Sn_RX_RSR = %d, want %d", got, len(data))
	}

	readBack := make([]byte, len(data))
	for i := range readBack {
		readBack[i] = s.RXByteAt(uint16(i))
	}
	if string(readBack) != string(data) {
		t.Fatalf("readback mismatch: got %q, want %q", readBack, data)
	}

	r.Advance(uint16(len(data)))
	if got := r.Available(); got != 0 {
		t.Fatalf("Available() after full advance = %d, want 0", got)
	}
}

func TestRXRingMACRawResetsOnDrain(t *testing.T) {
	mem := register.NewMemory()
	s := register.Socket(mem, 0)
	r := NewRXRing(s, true)

	r.Append([]byte("frame one"))
	r.Advance(9) // fully drains
	if r.Head() != 0 || r.Tail() != 0 {
		t.Fatalf("macRaw ring should reset to 0/0 on full drain, got head=%d tail=%d", r.Head(), r.Tail())
	}
}

func TestRXRingExhaustion(t *testing.T) {
	mem := register.NewMemory()
	s := register.Socket(mem, 0)
	r := NewRXRing(s, false)

	big := make([]byte, WindowSize+1)
	if r.Append(big) {
		t.Fatalf("expected append of oversized frame to fail")
	}
}

func TestReadTXWraps(t *testing.T) {
	mem := register.NewMemory()
	s := register.Socket(mem, 1)

	// Write two bytes straddling the window boundary via the
	// TX buffer's raw offsets (as the guest's MMIO writes would).
	mem.WriteByte(s.TXBufBase()+uint32(WindowSize-1), 0xAA)
	mem.WriteByte(s.TXBufBase()+0, 0xBB)

	got := ReadTX(s, WindowSize-1, 2)
	if got[0] != 0xAA || got[1] != 0xBB {
		t.Fatalf("ReadTX did not wrap correctly: got %v", got)
	}
}
