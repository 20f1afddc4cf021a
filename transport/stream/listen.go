package stream

import (
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/websocket"
)

// Listener accepts server-side transports. Close unblocks Accept.
type Listener interface {
	Close() error
	Accept() (*Transport, error)

	// Addr is nil for listeners without a network address.
	Addr() net.Addr
}

// NetListener accepts transports from a stream-oriented net.Listener.
type NetListener struct {
	net.Listener
	opts Options
}

func (l *NetListener) Accept() (*Transport, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return New(conn, false, l.opts), nil
}

func listenNet(proto, addr string, opts Options) (*NetListener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	return &NetListener{Listener: l, opts: opts}, nil
}

// ListenTCP listens on a TCP address.
func ListenTCP(addr string, opts Options) (*NetListener, error) {
	return listenNet("tcp", addr, opts)
}

// ListenUnix listens on a unix socket path.
func ListenUnix(path string, opts Options) (*NetListener, error) {
	return listenNet("unix", path, opts)
}

// wsListener hands each WebSocket upgrade to Accept.
type wsListener struct {
	net.Listener
	srv      *http.Server
	accepted chan *Transport
	closed   chan struct{}
	once     sync.Once
}

func (l *wsListener) Accept() (*Transport, error) {
	select {
	case t := <-l.accepted:
		return t, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *wsListener) Close() error {
	var result *multierror.Error
	l.once.Do(func() {
		close(l.closed)
		if err := l.srv.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result.ErrorOrNil()
}

func (l *wsListener) Addr() net.Addr {
	return l.Listener.Addr()
}

// ListenWS serves WebSocket upgrades on a TCP address. Each upgraded
// connection is one transport.
func ListenWS(addr string, opts Options) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	wsl := &wsListener{
		Listener: l,
		accepted: make(chan *Transport),
		closed:   make(chan struct{}),
	}
	wsl.srv = &http.Server{
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame
			t := New(ws, false, opts)
			select {
			case wsl.accepted <- t:
			case <-wsl.closed:
				ws.Close()
				return
			}
			// The handler owns the connection; hold it until the transport closes.
			select {
			case <-t.done:
			case <-wsl.closed:
			}
		}),
	}
	go wsl.srv.Serve(l)
	return wsl, nil
}

// ioListener yields a single transport over a fixed reader and writer.
type ioListener struct {
	io.ReadWriteCloser
	opts      Options
	once      sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Accept returns the wrapped ReadWriteCloser as a transport once, then
// blocks until Close.
func (l *ioListener) Accept() (*Transport, error) {
	var t *Transport
	l.once.Do(func() {
		t = New(l.ReadWriteCloser, false, l.opts)
	})
	if t != nil {
		return t, nil
	}
	<-l.done
	return nil, io.EOF
}

func (l *ioListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *ioListener) Addr() net.Addr {
	return nil
}

type ioduplex struct {
	io.WriteCloser
	io.ReadCloser
}

func (d *ioduplex) Close() error {
	var result *multierror.Error
	if err := d.WriteCloser.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.ReadCloser.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ListenIO returns a Listener whose only transport writes to out and
// reads from in.
func ListenIO(out io.WriteCloser, in io.ReadCloser, opts Options) (Listener, error) {
	return &ioListener{
		ReadWriteCloser: &ioduplex{out, in},
		opts:            opts,
		done:            make(chan struct{}),
	}, nil
}

// ListenStdio serves one transport on stdout and stdin.
func ListenStdio(opts Options) (Listener, error) {
	return ListenIO(os.Stdout, os.Stdin, opts)
}
