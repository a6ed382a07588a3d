package proxy

// udpSocket wraps a single unbound, unconnected UDP socket used to send
// one forwarded DNS query upstream and receive its reply. The event loop
// needs the raw descriptor to build its ppoll array, so this wraps
// *net.UDPConn with the syscall.RawConn escape hatch rather than reaching
// for a transport abstraction the teacher's stack doesn't otherwise use
// here.

import (
	"net"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
)

type udpSocket struct {
	conn *net.UDPConn
	fd   int
}

// newUDPSocket creates a UDP socket bound to the IPv6 wildcard address
// [::]:0, per the handle_request contract (§4.5 step 7).
func newUDPSocket() (*udpSocket, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 0})
	if err != nil {
		return nil, err
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	var fd int
	ctrlErr := raw.Control(func(s uintptr) { fd = int(s) })
	if ctrlErr != nil {
		_ = conn.Close()
		return nil, ctrlErr
	}

	return &udpSocket{conn: conn, fd: fd}, nil
}

// Fd returns the raw descriptor, for use in the event loop's ppoll array.
func (s *udpSocket) Fd() int {
	return s.fd
}

// WriteTo sends b to addr:port, which may be either a 4- or 16-byte
// address.
func (s *udpSocket) WriteTo(b []byte, addr []byte, port uint16) (int, error) {
	return s.conn.WriteToUDP(b, &net.UDPAddr{IP: net.IP(addr), Port: int(port)})
}

// Read reads one datagram into b.
func (s *udpSocket) Read(b []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(b)
	return n, err
}

// Close releases the socket.
func (s *udpSocket) Close() error {
	return s.conn.Close()
}

// isTransientSendError reports whether err represents transient network
// unreachability (ENETUNREACH or EPERM), per the §7 error-handling
// resolution of the eval_socket_error Open Question.
func isTransientSendError(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EPERM)
}
