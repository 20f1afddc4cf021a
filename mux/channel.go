package mux

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/progrium/rtcmux/transport"
)

// Reliability is the partial reliability policy of a channel.
type Reliability = transport.Reliability

// Retransmits limits delivery attempts of each message to n retransmissions.
func Retransmits(n uint32) Reliability {
	return Reliability{Kind: transport.LimitedRetransmits, Param: n}
}

// Lifetime abandons messages not delivered within ms milliseconds.
func Lifetime(ms uint32) Reliability {
	return Reliability{Kind: transport.LimitedLifetime, Param: ms}
}

// ReadyState is the application-visible state of a channel.
type ReadyState int32

const (
	ChannelConnecting ReadyState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ReadyState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return fmt.Sprintf("ReadyState(%d)", int32(s))
	}
}

// ChannelOptions configure Connection.Open.
type ChannelOptions struct {
	Label       string
	Protocol    string
	Reliability Reliability
	Ordered     bool

	// Negotiated channels use Stream as agreed out-of-band and skip the
	// open handshake.
	Negotiated bool
	Stream     uint16
}

const streamUnassigned = uint32(transport.MaxStreams)

// Channel is a handle to one logical stream of a Connection. Its
// descriptive fields are immutable; the stream id and ready state are
// assigned by the Connection.
type Channel struct {
	handle      uint64
	label       string
	protocol    string
	reliability Reliability
	ordered     bool
	negotiated  bool

	stream atomic.Uint32
	state  atomic.Int32
}

func newChannel(handle uint64, opts ChannelOptions) *Channel {
	ch := &Channel{
		handle:      handle,
		label:       opts.Label,
		protocol:    opts.Protocol,
		reliability: opts.Reliability,
		ordered:     opts.Ordered,
		negotiated:  opts.Negotiated,
	}
	ch.stream.Store(streamUnassigned)
	if opts.Negotiated {
		ch.stream.Store(uint32(opts.Stream))
	}
	return ch
}

func (ch *Channel) Label() string            { return ch.label }
func (ch *Channel) Protocol() string         { return ch.protocol }
func (ch *Channel) Reliability() Reliability { return ch.reliability }
func (ch *Channel) Ordered() bool            { return ch.ordered }
func (ch *Channel) Negotiated() bool         { return ch.negotiated }

// Stream returns the assigned stream id, if any.
func (ch *Channel) Stream() (uint16, bool) {
	id := ch.stream.Load()
	if id == streamUnassigned {
		return 0, false
	}
	return uint16(id), true
}

func (ch *Channel) ReadyState() ReadyState {
	return ReadyState(ch.state.Load())
}

func (ch *Channel) String() string {
	id, ok := ch.Stream()
	stream := "unassigned"
	if ok {
		stream = fmt.Sprint(id)
	}
	return fmt.Sprintf("{Channel Stream:%s Label:%q Protocol:%q Reliability:%s Ordered:%v State:%s}",
		stream, ch.label, ch.protocol, ch.reliability, ch.ordered, ch.ReadyState())
}

// channel is the transport loop's state for a Channel. It is only touched
// from the transport loop.
type channel struct {
	*Channel

	// known is set once the application holds the handle.
	known bool

	waitingForAck bool
	requestedAt   time.Time
	pendingOpen   bool
	announced     bool
	closed        bool

	pending []transport.Packet
	rx      Reassembler
}

func (st *channel) id() uint16 {
	return uint16(st.stream.Load())
}

func (st *channel) assigned() bool {
	return st.stream.Load() != streamUnassigned
}
