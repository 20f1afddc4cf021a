// Package mux multiplexes named data channels over a single transport
// session, each with its own ordering and reliability policy.
//
// API calls may be made from any goroutine. Channel state, stream id
// allocation and the open handshake are owned by the transport loop;
// Handler callbacks run on the control loop.
package mux

import (
	"context"
	"sync/atomic"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/progrium/rtcmux/loop"
	"github.com/progrium/rtcmux/transport"
)

const (
	DefaultFragmentSize          = 16 * 1024
	DefaultMaxReceiveMessageSize = 16 << 20
	DefaultMaxReassemblyBytes    = 64 << 20
)

// Options configure a Connection. Zero values select defaults.
type Options struct {
	Logger *zerolog.Logger

	// FragmentSize is the largest payload put in one packet.
	FragmentSize int

	// MaxMessageSize caps outbound messages. It is clamped to the
	// peer's advertised maximum.
	MaxMessageSize uint64

	// MaxReceiveMessageSize caps a single reassembled message.
	MaxReceiveMessageSize uint64

	// MaxReassemblyBytes caps the partial messages held across all
	// channels. Exceeding it fails the connection.
	MaxReassemblyBytes uint64
}

// State is the Connection state. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type role uint8

const (
	roleUndetermined role = iota
	roleClient
	roleServer
)

func (r role) String() string {
	switch r {
	case roleClient:
		return "client"
	case roleServer:
		return "server"
	default:
		return "undetermined"
	}
}

// firstStream is the lowest id of the role's parity. Clients use even ids.
func (r role) firstStream() uint16 {
	if r == roleServer {
		return 1
	}
	return 0
}

// Connection is a channel multiplexer over one transport session.
type Connection struct {
	id      string
	log     zerolog.Logger
	opts    Options
	t       transport.Transport
	handler Handler

	control *loop.Loop
	work    *loop.Loop

	registry   *Registry
	nextHandle atomic.Uint64
	started    atomic.Bool
	shutdown   atomic.Bool
	state      atomic.Int32
	// fixedRole publishes role once attached.
	fixedRole atomic.Uint32

	// requested is the configured outbound maximum, max the effective one.
	requested atomic.Uint64
	remoteMax atomic.Uint64
	max       atomic.Uint64

	// Owned by the work loop.
	role            role
	attached        bool
	transportClosed bool
	streamLimit     uint16
	limitRequested  uint16
	arena           map[uint64]*channel
	pendingOpens    []*channel
	pendingReset    []uint16
	peerReset       map[uint16]bool
	controlQueue    []transport.Packet
	lastFlushed     uint16
	reassembly      uint64
	labels          []metrics.Label
}

// New returns a Connection in the connecting state. Call Start to attach
// the transport.
func New(t transport.Transport, h Handler, opts Options) *Connection {
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = DefaultFragmentSize
	}
	if opts.MaxReceiveMessageSize == 0 {
		opts.MaxReceiveMessageSize = DefaultMaxReceiveMessageSize
	}
	if opts.MaxReassemblyBytes == 0 {
		opts.MaxReassemblyBytes = DefaultMaxReassemblyBytes
	}
	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	if h == nil {
		h = HandlerFuncs{}
	}
	id := xid.New().String()
	c := &Connection{
		id:        id,
		log:       base.With().Str("conn", id).Logger(),
		opts:      opts,
		t:         t,
		handler:   h,
		registry:  NewRegistry(),
		arena:     make(map[uint64]*channel),
		peerReset: make(map[uint16]bool),
	}
	c.control = loop.New("control", c.log)
	c.work = loop.New("transport", c.log)
	c.requested.Store(opts.MaxMessageSize)
	c.remoteMax.Store(transport.DefaultMaxMessageSize)
	c.max.Store(clampMessageSize(opts.MaxMessageSize, transport.DefaultMaxMessageSize))
	return c
}

// ID returns the connection id used in logs.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Start attaches the transport. Attach failure is reported through
// Handler.OnConnectionFailed.
func (c *Connection) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.work.Post(c.attach)
}

func clampMessageSize(n, remote uint64) uint64 {
	if n == 0 || n > remote {
		return remote
	}
	return n
}

// MaxMessageSize returns the largest message Send accepts.
func (c *Connection) MaxMessageSize() uint64 {
	return c.max.Load()
}

// SetMaxMessageSize sets the outbound message ceiling. Zero or a value
// above the peer's maximum selects the peer's maximum.
func (c *Connection) SetMaxMessageSize(n uint64) {
	c.requested.Store(n)
	c.max.Store(clampMessageSize(n, c.remoteMax.Load()))
}

// Channel returns the registered channel on stream id, or nil.
func (c *Connection) Channel(id uint16) *Channel {
	return c.registry.Get(id)
}

// Channels returns the registered channels in stream id order.
func (c *Connection) Channels() []*Channel {
	return c.registry.All()
}

// Open creates a channel. Non-negotiated channels are announced to the
// peer once the connection is open and a stream id is available.
func (c *Connection) Open(opts ChannelOptions) (*Channel, error) {
	if c.State() == StateClosed {
		return nil, ErrClosed
	}
	if len(opts.Label) > 0xffff || len(opts.Protocol) > 0xffff {
		return nil, ErrLabelTooLong
	}
	if opts.Reliability.Kind == transport.Reliable && opts.Reliability.Param != 0 {
		return nil, ErrInvalidReliability
	}
	if opts.Negotiated && opts.Stream >= transport.MaxStreams {
		return nil, ErrInvalidStream
	}
	ch := newChannel(c.nextHandle.Add(1), opts)
	if opts.Negotiated {
		if err := c.registry.InsertNegotiated(ch); err != nil {
			return nil, err
		}
	} else if r := role(c.fixedRole.Load()); r != roleUndetermined {
		// Before attach the transport loop assigns the id instead.
		if _, ok := c.registry.Assign(ch, r.firstStream()); !ok {
			return nil, &CapacityError{Err: ErrNoStreams}
		}
	}
	if !c.work.Post(func() { c.openChannel(ch) }) {
		if id, ok := ch.Stream(); ok {
			c.registry.Remove(ch)
			c.registry.Release(id)
		}
		return nil, ErrClosed
	}
	return ch, nil
}

// Send queues one message on ch.
func (c *Connection) Send(ch *Channel, data []byte, binary bool) error {
	if ch.ReadyState() != ChannelOpen {
		return ErrInvalidState
	}
	if max := c.MaxMessageSize(); uint64(len(data)) > max {
		id, _ := ch.Stream()
		return &CapacityError{Stream: id, Size: uint64(len(data)), Limit: max, Err: ErrTooLarge}
	}
	buf := append([]byte(nil), data...)
	if !c.work.Post(func() { c.sendMessage(ch, buf, binary) }) {
		return ErrClosed
	}
	return nil
}

func (c *Connection) SendString(ch *Channel, s string) error {
	return c.Send(ch, []byte(s), false)
}

func (c *Connection) SendBinary(ch *Channel, data []byte) error {
	return c.Send(ch, data, true)
}

// Close closes ch. It returns immediately; OnChannelClosed follows.
func (c *Connection) Close(ch *Channel) {
	for {
		s := ch.ReadyState()
		if s >= ChannelClosing {
			return
		}
		if ch.state.CompareAndSwap(int32(s), int32(ChannelClosing)) {
			break
		}
	}
	posted := c.work.Post(func() {
		if st := c.arena[ch.handle]; st != nil {
			c.finishClose(st)
		}
	})
	if !posted {
		ch.state.Store(int32(ChannelClosed))
	}
}

// CloseAll closes every channel and then the connection.
func (c *Connection) CloseAll() {
	c.work.Post(func() { c.closeAll(nil) })
}

// Shutdown closes the connection and the transport and waits, bounded by
// ctx, for pending work and callbacks to finish. It must not be called
// from a Handler callback.
func (c *Connection) Shutdown(ctx context.Context) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	var result *multierror.Error
	closed := make(chan error, 1)
	c.CloseAll()
	c.work.Post(func() { closed <- c.t.Close() })
	if err := c.work.Drain(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	select {
	case err := <-closed:
		if err != nil {
			result = multierror.Append(result, err)
		}
	default:
	}
	if err := c.control.Drain(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	c.work.Stop()
	c.control.Stop()
	return result.ErrorOrNil()
}

// emit runs fn against the handler on the control loop.
func (c *Connection) emit(fn func(h Handler)) {
	c.control.Post(func() { fn(c.handler) })
}

func (c *Connection) attach() {
	params, err := c.t.Attach(&sink{c})
	if err != nil {
		c.log.Error().Err(err).Msg("transport attach failed")
		c.emit(func(h Handler) { h.OnConnectionFailed(err) })
		return
	}
	c.attached = true
	c.role = roleServer
	if params.Client {
		c.role = roleClient
	}
	c.fixedRole.Store(uint32(c.role))
	c.streamLimit = params.StreamLimit
	c.labels = []metrics.Label{{Name: "role", Value: c.role.String()}}
	c.log = c.log.With().Str("role", c.role.String()).Logger()
	c.log.Debug().Uint16("limit", c.streamLimit).Msg("transport attached")

	for _, st := range append([]*channel(nil), c.pendingOpens...) {
		if !st.assigned() {
			c.assignStream(st)
		}
	}
	// Negotiated channels closed before attach.
	c.flushResets()
}
