package socket

import (
	"net"
	"testing"
	"time"

	"uthernet2/internal/register"
	"uthernet2/internal/ring"
)

func TestResetDefaults(t *testing.T) {
	mem := register.NewMemory()
	reg := register.Socket(mem, 0)
	s := NewSocket(reg, false)

	reg.SetSR(register.SockEstablished)
	reg.SetTXRD(123)
	reg.SetTXWR(456)
	reg.SetCR(register.CmdSend)

	s.Reset()

	if reg.SR() != register.SockClosed {
		t.Fatalf("SR after reset = 0x%02x, want CLOSED", reg.SR())
	}
	if reg.TXRD() != 0 || reg.TXWR() != 0 {
		t.Fatalf("TX pointers not cleared: rd=%d wr=%d", reg.TXRD(), reg.TXWR())
	}
	if reg.TXFSR() != ring.WindowSize {
		t.Fatalf("TXFSR after reset = %d, want %d", reg.TXFSR(), ring.WindowSize)
	}
	if reg.CR() != 0 {
		t.Fatalf("CR not cleared after reset: 0x%02x", reg.CR())
	}
}

func TestOpenWithClosedModeFails(t *testing.T) {
	mem := register.NewMemory()
	reg := register.Socket(mem, 1)
	s := NewSocket(reg, false)

	var gotErr error
	s.OnDrop = func(err error) { gotErr = err }

	reg.SetMR(register.ModeClosed)
	s.HandleCommand(register.CmdOpen)

	if gotErr == nil {
		t.Fatalf("expected OnDrop to be called for OPEN in mode CLOSED")
	}
	if reg.CR() != 0 {
		t.Fatalf("command register should be cleared even on failure")
	}
}

func TestOpenTCPEntersInit(t *testing.T) {
	mem := register.NewMemory()
	reg := register.Socket(mem, 2)
	s := NewSocket(reg, false)

	reg.SetMR(register.ModeTCP)
	s.HandleCommand(register.CmdOpen)

	if reg.SR() != register.SockInit {
		t.Fatalf("SR after OPEN(TCP) = 0x%02x, want INIT (0x%02x)", reg.SR(), register.SockInit)
	}
}

func TestConnectOutsideInitFails(t *testing.T) {
	mem := register.NewMemory()
	reg := register.Socket(mem, 3)
	s := NewSocket(reg, false)

	var gotErr error
	s.OnDrop = func(err error) { gotErr = err }

	reg.SetSR(register.SockClosed)
	s.HandleCommand(register.CmdConnect)

	if gotErr == nil {
		t.Fatalf("expected CONNECT outside INIT to fail")
	}
}

func TestInjectRXRespectsCapacity(t *testing.T) {
	mem := register.NewMemory()
	reg := register.Socket(mem, 0)
	s := NewSocket(reg, true)

	ok := s.InjectRX(make([]byte, ring.WindowSize))
	if !ok {
		t.Fatalf("expected a full-window inject to succeed")
	}
	if ok := s.InjectRX([]byte{1}); ok {
		t.Fatalf("expected inject past capacity to fail")
	}
}

// TestConnectRedirectsIntoLoopback verifies a guest CONNECT targeting
// the virtual gateway's subnet actually dials 127.0.0.1 instead of the
// unreachable address the guest wrote into Sn_DIPR: a listener bound
// to 127.0.0.1 accepts the connection only if the rewrite happened.
func TestConnectRedirectsIntoLoopback(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	mem := register.NewMemory()
	reg := register.Socket(mem, 0)
	s := NewSocket(reg, false)

	_, redirectNet, _ := net.ParseCIDR("192.168.65.0/24")
	s.RedirectNets = []*net.IPNet{redirectNet}

	reg.SetMR(register.ModeTCP)
	s.HandleCommand(register.CmdOpen)

	reg.SetDIPR([]byte{192, 168, 65, 50}) // never routable from this process
	reg.SetDPort(uint16(port))
	s.HandleCommand(register.CmdConnect)

	if reg.SR() != register.SockSynSent {
		t.Fatalf("SR after CONNECT = 0x%02x, want SYNSENT", reg.SR())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && reg.SR() == register.SockSynSent {
		s.Tick(0)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-accepted:
	default:
		t.Fatalf("listener on 127.0.0.1:%d never accepted a connection; CONNECT was not redirected", port)
	}
	if reg.SR() != register.SockEstablished {
		t.Fatalf("SR after connect completion = 0x%02x, want ESTABLISHED", reg.SR())
	}
}
