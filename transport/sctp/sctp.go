// Package sctp carries the transport boundary over an SCTP association
// using pion/sctp. The association runs on any net.Conn; Dial and Listen
// use UDP.
package sctp

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	pionsctp "github.com/pion/sctp"
	"github.com/rs/zerolog"

	"github.com/progrium/rtcmux/logging"
	"github.com/progrium/rtcmux/transport"
)

const (
	DefaultReceiveBuffer = 1024 * 1024
	DefaultHighWater     = 1024 * 1024
)

type Options struct {
	Logger *zerolog.Logger

	// RemoteMaxMessageSize is the peer's message size limit, agreed
	// out-of-band. Zero means transport.DefaultMaxMessageSize.
	RemoteMaxMessageSize uint64

	// MaxMessageSize is the largest message the association accepts.
	MaxMessageSize uint32

	// ReceiveBuffer sizes the association receive buffer.
	ReceiveBuffer uint32

	// HighWater is the per-stream buffered amount above which Send
	// returns transport.ErrWouldBlock.
	HighWater uint64
}

// Transport is a transport.Transport over a pion SCTP association.
type Transport struct {
	conn   net.Conn
	client bool
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	sink    transport.Sink
	assoc   *pionsctp.Association
	streams map[uint16]*pionsctp.Stream
	blocked map[uint16]bool
	closed  bool
	// notified is set once Sink.Closed has been called.
	notified bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New runs an association over conn once attached. The client side
// initiates the handshake.
func New(conn net.Conn, client bool, opts Options) *Transport {
	if opts.RemoteMaxMessageSize == 0 {
		opts.RemoteMaxMessageSize = transport.DefaultMaxMessageSize
	}
	if opts.ReceiveBuffer == 0 {
		opts.ReceiveBuffer = DefaultReceiveBuffer
	}
	if opts.HighWater == 0 {
		opts.HighWater = DefaultHighWater
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Transport{
		conn:    conn,
		client:  client,
		opts:    opts,
		log:     log.With().Str("transport", "sctp").Bool("client", client).Logger(),
		streams: make(map[uint16]*pionsctp.Stream),
		blocked: make(map[uint16]bool),
	}
}

// Attach starts the association handshake. Every stream id is usable, so
// the stream limit starts at the protocol maximum.
func (t *Transport) Attach(s transport.Sink) (transport.Params, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.Params{}, transport.ErrNotOpen
	}
	if t.sink != nil {
		return transport.Params{}, errors.New("sctp: already attached")
	}
	t.sink = s
	t.wg.Add(1)
	go t.associate()
	return transport.Params{Client: t.client, StreamLimit: transport.MaxStreams}, nil
}

func (t *Transport) associate() {
	defer t.wg.Done()
	cfg := pionsctp.Config{
		NetConn:              t.conn,
		MaxReceiveBufferSize: t.opts.ReceiveBuffer,
		MaxMessageSize:       t.opts.MaxMessageSize,
		LoggerFactory:        logging.LoggerFactory{Logger: t.log},
	}
	var (
		a   *pionsctp.Association
		err error
	)
	if t.client {
		a, err = pionsctp.Client(cfg)
	} else {
		a, err = pionsctp.Server(cfg)
	}

	t.mu.Lock()
	if err == nil && t.closed {
		a.Close()
		err = transport.ErrNotOpen
	}
	if err != nil {
		t.mu.Unlock()
		t.log.Warn().Err(err).Msg("association failed")
		t.notifyClosed(err)
		return
	}
	t.assoc = a
	s := t.sink
	t.wg.Add(1)
	t.mu.Unlock()

	t.log.Debug().Msg("association established")
	s.Opened(t.opts.RemoteMaxMessageSize)
	go t.acceptLoop(a)
}

func (t *Transport) acceptLoop(a *pionsctp.Association) {
	defer t.wg.Done()
	for {
		st, err := a.AcceptStream()
		if err != nil {
			t.fail(err)
			return
		}
		t.mu.Lock()
		if _, ok := t.streams[st.StreamIdentifier()]; ok {
			t.mu.Unlock()
			continue
		}
		t.track(st)
		t.mu.Unlock()
	}
}

// track registers st and starts its reader. t.mu must be held.
func (t *Transport) track(st *pionsctp.Stream) {
	id := st.StreamIdentifier()
	t.streams[id] = st
	st.SetBufferedAmountLowThreshold(t.opts.HighWater / 2)
	st.OnBufferedAmountLow(func() { t.writable(id) })
	t.wg.Add(1)
	go t.readLoop(st)
}

func (t *Transport) readLoop(st *pionsctp.Stream) {
	defer t.wg.Done()
	id := st.StreamIdentifier()
	buf := make([]byte, t.opts.ReceiveBuffer)
	for {
		n, ppi, err := st.ReadSCTP(buf)
		if err != nil {
			t.mu.Lock()
			if t.streams[id] == st {
				delete(t.streams, id)
				delete(t.blocked, id)
			}
			closed := t.closed
			s := t.sink
			t.mu.Unlock()
			if errors.Is(err, io.EOF) && !closed {
				s.StreamsReset([]uint16{id})
			}
			return
		}
		t.sink.Received(transport.Packet{
			Stream: id,
			PPID:   transport.PPID(ppi),
			Data:   append([]byte(nil), buf[:n]...),
		})
	}
}

func (t *Transport) writable(id uint16) {
	t.mu.Lock()
	wake := t.blocked[id]
	delete(t.blocked, id)
	s := t.sink
	t.mu.Unlock()
	if wake {
		s.Writable()
	}
}

func (t *Transport) stream(id uint16, ppi pionsctp.PayloadProtocolIdentifier) (*pionsctp.Stream, error) {
	if t.closed || t.assoc == nil {
		return nil, transport.ErrNotOpen
	}
	if st, ok := t.streams[id]; ok {
		return st, nil
	}
	st, err := t.assoc.OpenStream(id, ppi)
	if err != nil {
		return nil, err
	}
	t.track(st)
	return st, nil
}

func (t *Transport) Send(p transport.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ppi := pionsctp.PayloadProtocolIdentifier(p.PPID)
	st, err := t.stream(p.Stream, ppi)
	if err != nil {
		return err
	}
	if st.BufferedAmount() >= t.opts.HighWater {
		t.blocked[p.Stream] = true
		return transport.ErrWouldBlock
	}
	var relType byte
	switch p.Reliability.Kind {
	case transport.LimitedRetransmits:
		relType = pionsctp.ReliabilityTypeRexmit
	case transport.LimitedLifetime:
		relType = pionsctp.ReliabilityTypeTimed
	default:
		relType = pionsctp.ReliabilityTypeReliable
	}
	st.SetReliabilityParams(p.Unordered, relType, p.Reliability.Param)
	_, err = st.WriteSCTP(p.Data, ppi)
	return err
}

// ResetStreams closes the outgoing side of each open stream. The peer's
// reset of its side arrives as end of stream on the reader.
func (t *Transport) ResetStreams(ids []uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.assoc == nil {
		return transport.ErrNotOpen
	}
	var result *multierror.Error
	for _, id := range ids {
		st, ok := t.streams[id]
		if !ok {
			continue
		}
		if err := st.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RaiseStreamLimit is immediate; the association already supports the
// protocol maximum.
func (t *Transport) RaiseStreamLimit(limit uint16) error {
	t.mu.Lock()
	s := t.sink
	t.mu.Unlock()
	if s == nil {
		return transport.ErrNotOpen
	}
	s.StreamLimitRaised(limit)
	return nil
}

func (t *Transport) Close() error {
	var result *multierror.Error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		a := t.assoc
		t.mu.Unlock()

		if a != nil {
			if err := a.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		t.wg.Wait()
		t.notifyClosed(nil)
	})
	return result.ErrorOrNil()
}

func (t *Transport) notifyClosed(err error) {
	t.mu.Lock()
	if t.notified || t.sink == nil {
		t.mu.Unlock()
		return
	}
	t.notified = true
	s := t.sink
	t.mu.Unlock()
	s.Closed(err)
}

// fail reports the end of the association. Errors after our own Close are
// not reported.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	closed := t.closed
	t.closed = true
	t.mu.Unlock()
	if closed {
		return
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	t.log.Debug().Err(err).Msg("association closed")
	t.notifyClosed(err)
}
