package mux

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrium/rtcmux/transport"
)

type echoPeer struct {
	c        *Connection
	created  chan *Channel
	messages chan []byte
	closed   chan *Channel
}

func newEchoPeer(t *testing.T, tr transport.Transport, echo bool, opts Options) *echoPeer {
	p := &echoPeer{
		created:  make(chan *Channel, 16),
		messages: make(chan []byte, 16),
		closed:   make(chan *Channel, 16),
	}
	p.c = New(tr, HandlerFuncs{
		ChannelCreated: func(ch *Channel) { p.created <- ch },
		ChannelClosed:  func(ch *Channel) { p.closed <- ch },
		Message: func(ch *Channel, data []byte, binary bool) {
			if echo {
				p.c.Send(ch, data, binary)
				return
			}
			p.messages <- data
		},
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.c.Shutdown(ctx)
	})
	return p
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestPipeEcho(t *testing.T) {
	a, b := transport.Pipe(4, 0)
	client := newEchoPeer(t, a, false, Options{FragmentSize: 1024})
	server := newEchoPeer(t, b, true, Options{FragmentSize: 512})
	client.c.Start()
	server.c.Start()

	var chans []*Channel
	for _, label := range []string{"chat", "file", "bulk"} {
		ch, err := client.c.Open(ChannelOptions{
			Label:       label,
			Protocol:    "json",
			Reliability: Retransmits(3),
		})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	for range chans {
		got := recv(t, server.created)
		id, _ := got.Stream()
		assert.Equal(t, uint16(0), id%2)
		assert.Equal(t, "json", got.Protocol())
		assert.Equal(t, Retransmits(3), got.Reliability())
	}

	require.Eventually(t, func() bool {
		return chans[2].ReadyState() == ChannelOpen
	}, 5*time.Second, time.Millisecond)

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, client.c.SendBinary(chans[2], payload))
	assert.Equal(t, payload, recv(t, client.messages))

	require.NoError(t, client.c.SendString(chans[0], ""))
	assert.Empty(t, recv(t, client.messages))

	client.c.Close(chans[1])
	assert.Equal(t, chans[1], recv(t, client.closed))
	peerClosed := recv(t, server.closed)
	assert.Equal(t, "file", peerClosed.Label())

	id, _ := chans[1].Stream()
	require.Eventually(t, func() bool {
		return !client.c.registry.Reserved(id)
	}, 5*time.Second, time.Millisecond)
}

func TestNegotiatedResetBeforeOpen(t *testing.T) {
	a, b := transport.Pipe(16, 0)
	client := newEchoPeer(t, a, false, Options{})
	server := newEchoPeer(t, b, false, Options{})

	cch, err := client.c.Open(ChannelOptions{Label: "ctl", Negotiated: true, Stream: 4, Ordered: true})
	require.NoError(t, err)
	sch, err := server.c.Open(ChannelOptions{Label: "ctl", Negotiated: true, Stream: 4, Ordered: true})
	require.NoError(t, err)

	client.c.Close(cch)
	assert.Same(t, cch, recv(t, client.closed))

	// The client attaches alone first, so its reset cannot go out yet.
	client.c.Start()
	settle(t, client.c)
	assert.True(t, client.c.registry.Reserved(4))
	server.c.Start()

	assert.Same(t, sch, recv(t, server.closed))
	assert.Equal(t, ChannelClosed, sch.ReadyState())
	require.Eventually(t, func() bool {
		return !client.c.registry.Reserved(4)
	}, 5*time.Second, time.Millisecond)
}
