package mux

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/progrium/rtcmux/dcep"
	"github.com/progrium/rtcmux/transport"
)

// fakeTransport records everything the Connection asks of it.
type fakeTransport struct {
	mu        sync.Mutex
	sink      transport.Sink
	params    transport.Params
	attachErr error
	block     bool
	sendErr   error
	resetErr  error
	sent      []transport.Packet
	resets    [][]uint16
	raises    []uint16
	closed    bool
}

func (f *fakeTransport) Attach(s transport.Sink) (transport.Params, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return transport.Params{}, f.attachErr
	}
	f.sink = s
	return f.params, nil
}

func (f *fakeTransport) Send(p transport.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block {
		return transport.ErrWouldBlock
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) ResetStreams(ids []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, append([]uint16(nil), ids...))
	return nil
}

func (f *fakeTransport) setResetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetErr = err
}

func (f *fakeTransport) RaiseStreamLimit(limit uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raises = append(f.raises, limit)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) setBlock(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = b
}

func (f *fakeTransport) packets() []transport.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Packet(nil), f.sent...)
}

func (f *fakeTransport) resetBatches() [][]uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]uint16(nil), f.resets...)
}

func (f *fakeTransport) raised() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.raises...)
}

// recorder is a Handler that logs events as strings.
type recorder struct {
	mu       sync.Mutex
	events   []string
	messages []string
	channels []*Channel
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func streamOf(ch *Channel) string {
	if id, ok := ch.Stream(); ok {
		return fmt.Sprint(id)
	}
	return "-"
}

func (r *recorder) OnConnectionOpen()            { r.add("conn-open") }
func (r *recorder) OnConnectionClosed()          { r.add("conn-closed") }
func (r *recorder) OnConnectionFailed(err error) { r.add("conn-failed") }

func (r *recorder) OnChannelCreated(ch *Channel) {
	r.mu.Lock()
	r.channels = append(r.channels, ch)
	r.mu.Unlock()
	r.add("created:" + ch.Label() + ":" + streamOf(ch))
}

func (r *recorder) OnChannelOpen(ch *Channel)   { r.add("open:" + streamOf(ch)) }
func (r *recorder) OnChannelClosed(ch *Channel) { r.add("closed:" + streamOf(ch)) }

func (r *recorder) OnMessage(ch *Channel, data []byte, binary bool) {
	r.mu.Lock()
	r.messages = append(r.messages, string(data))
	r.mu.Unlock()
	r.add(fmt.Sprintf("message:%s:%d", streamOf(ch), len(data)))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func newTestConn(t *testing.T, f *fakeTransport, opts Options) (*Connection, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := New(f, rec, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Shutdown(ctx))
	})
	return c, rec
}

// settle waits for the transport loop and then the control loop to drain.
func settle(t *testing.T, c *Connection) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.work.Drain(ctx))
	require.NoError(t, c.control.Drain(ctx))
}

// openConn starts c against f and opens the transport.
func openConn(t *testing.T, c *Connection, f *fakeTransport) {
	t.Helper()
	c.Start()
	settle(t, c)
	f.sink.Opened(transport.DefaultMaxMessageSize)
	settle(t, c)
	require.Equal(t, StateOpen, c.State())
}

func decodeControl(t *testing.T, p transport.Packet) dcep.Message {
	t.Helper()
	require.Equal(t, transport.PPIDControl, p.PPID)
	msg, err := dcep.Decode(p.Data)
	require.NoError(t, err)
	return msg
}

func openRequest(label string, ct dcep.ChannelType, param uint32) transport.Packet {
	return transport.Packet{
		PPID: transport.PPIDControl,
		Data: dcep.OpenRequest{ChannelType: ct, ReliabilityParam: param, Label: label}.Bytes(),
	}
}
