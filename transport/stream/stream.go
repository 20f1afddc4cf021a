// Package stream carries the transport boundary over any ordered byte
// stream (TCP, unix sockets, WebSockets, stdio) using length-prefixed
// frames. Reliability hints are carried but every packet is delivered
// reliably and in order.
package stream

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/progrium/rtcmux/transport"
)

const (
	DefaultStreamLimit = 16
	DefaultQueueSize   = 256
)

type Options struct {
	Logger *zerolog.Logger

	// MaxMessageSize is advertised to the peer as the largest message
	// we accept.
	MaxMessageSize uint64

	// StreamLimit is the initial stream limit.
	StreamLimit uint16

	// QueueSize is the number of outbound frames buffered before Send
	// returns transport.ErrWouldBlock.
	QueueSize int
}

// Transport is a transport.Transport over an io.ReadWriteCloser.
type Transport struct {
	conn   io.ReadWriteCloser
	client bool
	opts   Options
	log    zerolog.Logger
	enc    *Encoder
	dec    *Decoder

	out  chan Frame
	done chan struct{}

	mu       sync.Mutex
	sink     transport.Sink
	limit    uint16
	open     bool
	closed   bool
	blocked  bool
	notified bool

	closeOnce sync.Once
	closeConn func() error
	wg        sync.WaitGroup
}

// New wraps conn. The client side is the one that dialed.
func New(conn io.ReadWriteCloser, client bool, opts Options) *Transport {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if opts.StreamLimit == 0 {
		opts.StreamLimit = DefaultStreamLimit
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Transport{
		conn:      conn,
		client:    client,
		opts:      opts,
		log:       log.With().Str("transport", "stream").Bool("client", client).Logger(),
		enc:       NewEncoder(conn),
		dec:       NewDecoder(conn),
		out:       make(chan Frame, opts.QueueSize),
		done:      make(chan struct{}),
		limit:     opts.StreamLimit,
		closeConn: sync.OnceValue(conn.Close),
	}
}

func (t *Transport) Attach(s transport.Sink) (transport.Params, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.Params{}, transport.ErrNotOpen
	}
	if t.sink != nil {
		return transport.Params{}, errors.New("stream: already attached")
	}
	t.sink = s
	t.out <- HelloFrame{MaxMessageSize: t.opts.MaxMessageSize, StreamLimit: t.limit}
	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()
	return transport.Params{Client: t.client, StreamLimit: t.limit}, nil
}

func (t *Transport) enqueue(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open || t.closed {
		return transport.ErrNotOpen
	}
	select {
	case t.out <- f:
		return nil
	default:
		t.blocked = true
		return transport.ErrWouldBlock
	}
}

func (t *Transport) Send(p transport.Packet) error {
	return t.enqueue(dataFrameFrom(p))
}

func (t *Transport) ResetStreams(ids []uint16) error {
	return t.enqueue(ResetFrame{Streams: append([]uint16(nil), ids...)})
}

func (t *Transport) RaiseStreamLimit(limit uint16) error {
	if err := t.enqueue(LimitFrame{StreamLimit: limit}); err != nil {
		return err
	}
	t.raise(limit)
	return nil
}

func (t *Transport) raise(limit uint16) {
	t.mu.Lock()
	if limit <= t.limit {
		t.mu.Unlock()
		return
	}
	t.limit = limit
	s := t.sink
	t.mu.Unlock()
	s.StreamLimitRaised(limit)
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		err = t.closeConn()
		t.wg.Wait()
		t.notifyClosed(nil)
	})
	return err
}

func (t *Transport) notifyClosed(err error) {
	t.mu.Lock()
	if t.notified || t.sink == nil {
		t.mu.Unlock()
		return
	}
	t.notified = true
	t.open = false
	s := t.sink
	t.mu.Unlock()
	s.Closed(err)
}

func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case f := <-t.out:
			if err := t.enc.Encode(f); err != nil {
				t.fail(err)
				return
			}
			t.mu.Lock()
			wake := t.blocked && len(t.out) <= cap(t.out)/2
			if wake {
				t.blocked = false
			}
			s := t.sink
			t.mu.Unlock()
			if wake {
				s.Writable()
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	for {
		f, err := t.dec.Decode()
		if err != nil {
			t.fail(err)
			return
		}
		switch f := f.(type) {
		case HelloFrame:
			t.raise(f.StreamLimit)
			t.mu.Lock()
			t.open = true
			s := t.sink
			t.mu.Unlock()
			t.log.Debug().Uint64("max_message_size", f.MaxMessageSize).Msg("peer hello")
			s.Opened(f.MaxMessageSize)
		case DataFrame:
			t.sink.Received(f.Packet())
		case ResetFrame:
			t.sink.StreamsReset(f.Streams)
		case LimitFrame:
			t.raise(f.StreamLimit)
		}
	}
}

// fail reports a read or write error. Errors caused by our own Close are
// reported as an orderly close.
func (t *Transport) fail(err error) {
	select {
	case <-t.done:
		return
	default:
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		t.log.Debug().Err(err).Msg("peer closed")
		err = nil
	} else {
		t.log.Warn().Err(err).Msg("transport failed")
	}
	t.notifyClosed(err)
	t.closeConn()
}
