// Package ring implements the two circular-buffer disciplines a
// socket's TX and RX windows follow. Both ends of each ring are kept
// as monotonically increasing 16-bit pointers (matching the W5100's
// own Sn_TX_WR/Sn_TX_RD/Sn_RX_RD semantics); the physical byte
// position is always the pointer reduced modulo the window size. That
// modulus — the socket's 2KiB buffer window — is the single source of
// truth used everywhere in this package, so the guest's Sn_TX_FSR and
// Sn_RX_RSR reads and this package's own bookkeeping can never drift
// out of sync the way a second, differently-sized buffer would invite.
package ring

import "uthernet2/internal/register"

// WindowSize is the size of a single socket's TX or RX buffer window.
// The W5100 supports configurable per-socket sizing; this emulation
// fixes every socket at 2KiB, matching register.TXSockSize/RXSockSize.
const WindowSize = register.TXSockSize

// TXFreeSize returns the guest-visible Sn_TX_FSR value: how many bytes
// of the TX window are free to write into, given the current write
// and read pointers. Both pointers are 16-bit and wrap at 0x10000;
// the difference, taken modulo WindowSize, is what's actually in
// flight.
func TXFreeSize(wr, rd uint16) uint16 {
	used := (wr - rd) % WindowSize // uint16 wraparound subtraction, correct even across pointer wrap
	return WindowSize - used
}

// TXUsed returns how many bytes are queued between rd and wr.
func TXUsed(wr, rd uint16) uint16 {
	return wr - rd
}

// ReadTX copies n bytes out of socket's TX window starting at rd,
// wrapping within the window as needed. It does not advance rd; the
// caller (the SEND command handler) does that once the bytes have
// been handed to the host socket adapter.
func ReadTX(s *register.SocketReg, rd uint16, n uint16) []byte {
	out := make([]byte, n)
	for i := uint16(0); i < n; i++ {
		offset := (rd + i) % WindowSize
		out[i] = s.TXByteAt(offset)
	}
	return out
}

// RXRing is the RX side of a socket: the guest-visible 2KiB buffer
// window backing Sn_RX_RD reads, plus the monotonic head/tail
// counters that track how much has been injected versus consumed.
// head == tail means the ring is empty; tail - head (mod 0x10000,
// but never exceeding WindowSize by construction) is what Sn_RX_RSR
// reports.
type RXRing struct {
	s      *register.SocketReg
	head   uint16
	tail   uint16
	macRaw bool
}

// NewRXRing returns an RX ring bound to socket s's RX buffer window.
// macRaw controls whether the ring auto-resets to empty once fully
// drained (MACRAW/UDP framed-read behavior) or keeps a running stream
// offset (TCP behavior, where head/tail track the connection's total
// byte count modulo 0x10000).
func NewRXRing(s *register.SocketReg, macRaw bool) *RXRing {
	return &RXRing{s: s, macRaw: macRaw}
}

// Reset clears the ring to empty, matching a socket OPEN or CLOSE.
func (r *RXRing) Reset() {
	r.head = 0
	r.tail = 0
	r.s.SetRXRD(0)
}

// Available returns the current Sn_RX_RSR value.
func (r *RXRing) Available() uint16 {
	return r.tail - r.head
}

// FreeSpace returns how much room is left to inject into before the
// ring would overflow its window.
func (r *RXRing) FreeSpace() uint16 {
	return WindowSize - r.Available()
}

// Append injects data into the ring at tail, advancing tail by
// len(data), and returns true. When there isn't room it writes
// nothing and returns false; reporting the drop (for example as a
// cardtypes.ResourceExhaustion) is left to the caller.
func (r *RXRing) Append(data []byte) bool {
	if uint16(len(data)) > r.FreeSpace() {
		return false
	}
	for i, b := range data {
		offset := (r.tail + uint16(i)) % WindowSize
		r.s.RXByteAtSet(offset, b)
	}
	r.tail += uint16(len(data))
	r.syncRSR()
	return true
}

// Advance moves head forward by n bytes, as the guest's RECV command
// does after reading n bytes out of the window via Sn_RX_RD. n is
// clamped to what's actually available. In MACRAW/UDP mode, once the
// ring drains completely, head and tail both snap back to zero and
// Sn_RX_RD is reset to the window base — mirroring the per-frame
// framing those modes use instead of a continuous byte stream.
func (r *RXRing) Advance(n uint16) {
	avail := r.Available()
	if n > avail {
		n = avail
	}
	r.head += n
	if r.macRaw && r.head == r.tail {
		r.head = 0
		r.tail = 0
	}
	r.s.SetRXRD(r.head)
	r.syncRSR()
}

func (r *RXRing) syncRSR() {
	r.s.SetRXRSR(r.Available())
}

// Head returns the current read pointer (mirrors Sn_RX_RD).
func (r *RXRing) Head() uint16 { return r.head }

// Tail returns the current write pointer.
func (r *RXRing) Tail() uint16 { return r.tail }
