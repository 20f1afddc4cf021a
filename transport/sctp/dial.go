package sctp

import (
	"net"

	"github.com/pion/transport/v2/udp"
)

// DialUDP runs the client side of an association over UDP.
func DialUDP(addr string, opts Options) (*Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return New(conn, true, opts), nil
}

// Listener accepts server-side associations, one per remote UDP address.
type Listener struct {
	net.Listener
	opts Options
}

// ListenUDP listens for associations on a UDP address.
func ListenUDP(addr string, opts Options) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	l, err := udp.Listen("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l, opts: opts}, nil
}

// Accept waits for the next remote address and returns its transport.
func (l *Listener) Accept() (*Transport, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return New(conn, false, l.opts), nil
}
