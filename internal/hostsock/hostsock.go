// Package hostsock adapts the card's socket state machine onto real
// host sockets. Every operation is non-blocking: CONNECT returns as
// soon as the connect(2) call is issued (not when it completes), and
// readiness (connect done, data to read, buffer space to write) is
// discovered by polling, never by blocking inside a call. This
// mirrors how the teacher's exporter/tcpinfo pair peels a raw fd off
// a net.Conn with netfd so it can drive syscalls the net package
// doesn't expose (here: non-blocking connect completion and
// SO_ERROR), while still using the stdlib net package for everything
// that already behaves correctly through it (listen, accept with a
// zero deadline standing in for a non-blocking poll).
package hostsock

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"uthernet2/internal/cardtypes"
)

// Kind distinguishes the two host transport flavors a socket can be
// adapted onto.
type Kind int

const (
	KindStream Kind = iota
	KindDatagram
)

// ConnectState reports how a non-blocking connect is progressing.
type ConnectState int

const (
	ConnectPending ConnectState = iota
	ConnectEstablished
	ConnectFailed
)

// Socket is one host-side endpoint: either a connecting/connected TCP
// stream, a listening TCP stream waiting for an inbound peer, or a UDP
// datagram endpoint. Exactly one of conn/listener/udp is set at a time.
type Socket struct {
	kind Kind
	fd   int

	conn     net.Conn
	listener *net.TCPListener
	udp      *net.UDPConn

	connecting bool
}

// DialTCPNonBlocking issues a non-blocking connect(2) to addr and
// returns immediately; the caller must poll PollConnect until it
// reports something other than ConnectPending. This bypasses
// net.Dial entirely (it blocks until the handshake completes or
// fails) so the card's CONNECT command can return control to the
// emulator's poll loop right away, per the card's bounded-wait model.
func DialTCPNonBlocking(addr *net.TCPAddr) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &cardtypes.HostSocketFailure{Op: "socket", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &cardtypes.HostSocketFailure{Op: "setnonblock", Err: err}
	}

	var sa unix.SockaddrInet4
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To4())

	err = unix.Connect(fd, &sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &cardtypes.HostSocketFailure{Op: "connect", Err: err}
	}

	return &Socket{kind: KindStream, fd: fd, connecting: true}, nil
}

// PollConnect checks whether a pending non-blocking connect has
// completed, by polling the fd for writability and then consulting
// SO_ERROR — the standard POSIX idiom for non-blocking connect
// completion. timeout is the bounded wait the caller is willing to
// spend (0 for an immediate check).
func (s *Socket) PollConnect(timeout time.Duration) (ConnectState, error) {
	if !s.connecting {
		return ConnectEstablished, nil
	}

	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(pfd, int(timeout/time.Millisecond))
	if err != nil {
		return ConnectFailed, &cardtypes.HostSocketFailure{Op: "poll", Err: err}
	}
	if n == 0 {
		return ConnectPending, nil
	}
	if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		s.connecting = false
		return ConnectFailed, &cardtypes.HostSocketFailure{Op: "connect", Err: unix.ECONNREFUSED}
	}

	errno, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return ConnectFailed, &cardtypes.HostSocketFailure{Op: "getsockopt", Err: gerr}
	}
	s.connecting = false
	if errno != 0 {
		return ConnectFailed, &cardtypes.HostSocketFailure{Op: "connect", Err: unix.Errno(errno)}
	}
	return ConnectEstablished, nil
}

// ListenTCP opens a passive TCP socket bound to port, using the
// stdlib net package (which already handles SO_REUSEADDR and dual
// address families correctly — there is no reason to reinvent that
// over raw syscalls the way DialTCPNonBlocking must for connect).
func ListenTCP(port uint16) (*Socket, error) {
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: int(port)})
	if err != nil {
		return nil, &cardtypes.HostSocketFailure{Op: "listen", Err: err}
	}
	return &Socket{kind: KindStream, listener: l}, nil
}

// AcceptNonBlocking polls the listener for a pending inbound
// connection without blocking: a zero read deadline on the listener's
// file descriptor makes Accept return immediately with a timeout
// error when nothing is pending, which is the accepted non-blocking
// idiom for net.Listener (it exposes no separate non-blocking mode).
// On success the accepted net.Conn's fd is extracted with netfd so it
// can be driven the same way as every other socket in this package.
func (s *Socket) AcceptNonBlocking() (*Socket, error) {
	if s.listener == nil {
		return nil, &cardtypes.HostSocketFailure{Op: "accept", Err: unix.EINVAL}
	}
	if err := s.listener.SetDeadline(time.Now()); err != nil {
		return nil, &cardtypes.HostSocketFailure{Op: "accept", Err: err}
	}
	conn, err := s.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil // no pending connection, not a failure
		}
		return nil, &cardtypes.HostSocketFailure{Op: "accept", Err: err}
	}
	fd := netfd.GetFdFromConn(conn)
	unix.SetNonblock(fd, true)
	return &Socket{kind: KindStream, conn: conn, fd: fd}, nil
}

// ListenUDP opens a datagram endpoint bound to port.
func ListenUDP(port uint16) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, &cardtypes.HostSocketFailure{Op: "listen-udp", Err: err}
	}
	fd := netfd.GetFdFromConn(conn)
	unix.SetNonblock(fd, true)
	return &Socket{kind: KindDatagram, udp: conn, fd: fd}, nil
}

// PollReadable reports whether the socket has data ready to read,
// waiting up to timeout.
func (s *Socket) PollReadable(timeout time.Duration) (bool, error) {
	return s.poll(unix.POLLIN, timeout)
}

// PollWritable reports whether the socket has buffer space to accept
// a write, waiting up to timeout.
func (s *Socket) PollWritable(timeout time.Duration) (bool, error) {
	return s.poll(unix.POLLOUT, timeout)
}

func (s *Socket) poll(events int16, timeout time.Duration) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	n, err := unix.Poll(pfd, int(timeout/time.Millisecond))
	if err != nil {
		return false, &cardtypes.HostSocketFailure{Op: "poll", Err: err}
	}
	if n == 0 {
		return false, nil
	}
	if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return false, &cardtypes.HostSocketFailure{Op: "poll", Err: unix.ECONNRESET}
	}
	return pfd[0].Revents&events != 0, nil
}

// Send writes data to the socket, returning how many bytes were
// accepted. A partial write is not an error; the caller retries the
// remainder on its own schedule.
func (s *Socket) Send(data []byte) (int, error) {
	if s.udp != nil {
		n, err := unix.Write(s.fd, data)
		if err != nil && err != unix.EAGAIN {
			return n, &cardtypes.HostSocketFailure{Op: "send", Err: err}
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		return n, nil
	}
	n, err := unix.Write(s.fd, data)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return n, &cardtypes.HostSocketFailure{Op: "send", Err: err}
	}
	return n, nil
}

// SendTo writes a UDP datagram to a specific peer, for sockets that
// haven't been connect()-ed to a single destination.
func (s *Socket) SendTo(data []byte, ip net.IP, port int) (int, error) {
	n, err := s.udp.WriteToUDP(data, &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return n, &cardtypes.HostSocketFailure{Op: "sendto", Err: err}
	}
	return n, nil
}

// Recv reads up to len(buf) bytes. It returns (0, nil) when
// nothing is currently available rather than blocking.
func (s *Socket) Recv(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return n, &cardtypes.HostSocketFailure{Op: "recv", Err: err}
	}
	return n, nil
}

// RecvFrom reads a single UDP datagram and its source address.
func (s *Socket) RecvFrom(buf []byte) (int, *net.UDPAddr, error) {
	if err := s.udp.SetReadDeadline(time.Now()); err != nil {
		return 0, nil, &cardtypes.HostSocketFailure{Op: "recvfrom", Err: err}
	}
	n, addr, err := s.udp.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, nil
		}
		return n, nil, &cardtypes.HostSocketFailure{Op: "recvfrom", Err: err}
	}
	return n, addr, nil
}

// Close tears down the host socket, whichever flavor it is.
func (s *Socket) Close() error {
	switch {
	case s.conn != nil:
		return s.conn.Close()
	case s.listener != nil:
		return s.listener.Close()
	case s.udp != nil:
		return s.udp.Close()
	default:
		return unix.Close(s.fd)
	}
}

// Kind reports whether this is a stream or datagram socket.
func (s *Socket) Kind() Kind { return s.kind }
