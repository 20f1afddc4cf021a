package stream

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/net/websocket"
)

func dialNet(proto, addr string, opts Options) (*Transport, error) {
	conn, err := net.Dial(proto, addr)
	if err != nil {
		return nil, err
	}
	return New(conn, true, opts), nil
}

// DialTCP connects to a TCP address as the client.
func DialTCP(addr string, opts Options) (*Transport, error) {
	return dialNet("tcp", addr, opts)
}

// DialUnix connects to a unix socket as the client.
func DialUnix(path string, opts Options) (*Transport, error) {
	return dialNet("unix", path, opts)
}

// DialWS connects to a ListenWS server at host:port. Frames are sent as
// binary WebSocket messages.
func DialWS(addr string, opts Options) (*Transport, error) {
	ws, err := websocket.Dial(fmt.Sprintf("ws://%s/", addr), "", fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return New(ws, true, opts), nil
}

// DialIO runs the client side over a separate writer and reader.
func DialIO(out io.WriteCloser, in io.ReadCloser, opts Options) (*Transport, error) {
	return New(&ioduplex{out, in}, true, opts), nil
}

// DialStdio runs the client side over stdout and stdin.
func DialStdio(opts Options) (*Transport, error) {
	return DialIO(os.Stdout, os.Stdin, opts)
}
