// Package transport defines the boundary between a channel multiplexer and
// the packet transport carrying it.
package transport

import "errors"

var (
	// ErrWouldBlock is returned by Send when the outbound buffer is full.
	// The transport calls Sink.Writable once there is room again.
	ErrWouldBlock = errors.New("transport: send would block")

	// ErrNotOpen is returned by operations issued before the transport is
	// usable or after it has closed.
	ErrNotOpen = errors.New("transport: not open")
)

// MaxStreams is the protocol maximum for stream limits. Stream id 65535 is
// never valid.
const MaxStreams uint16 = 65535

// Params are fixed at attach time.
type Params struct {
	// Client is true for the side that initiated the association.
	Client bool

	// StreamLimit is the initial upper bound on usable stream ids.
	StreamLimit uint16
}

// Sink receives transport events. Implementations must be safe to call
// from any goroutine and must not block.
type Sink interface {
	// Opened signals that packets may now flow.
	Opened(remoteMaxMessageSize uint64)

	// Closed signals the end of the transport. err is nil for an orderly close.
	Closed(err error)

	// Received delivers one inbound packet.
	Received(p Packet)

	// StreamsReset reports incoming streams reset by the peer.
	StreamsReset(ids []uint16)

	// StreamLimitRaised reports a new, higher stream limit.
	StreamLimitRaised(limit uint16)

	// Writable signals room in the outbound buffer after ErrWouldBlock.
	Writable()
}

// Transport is an ordered, congestion-controlled packet session with
// independently resettable streams.
type Transport interface {
	// Attach binds the sink and returns the session parameters. It is
	// called once.
	Attach(s Sink) (Params, error)

	// Send queues one packet.
	Send(p Packet) error

	// ResetStreams resets the outgoing side of the given streams.
	ResetStreams(ids []uint16) error

	// RaiseStreamLimit asks for a higher stream limit. Completion is
	// reported via Sink.StreamLimitRaised.
	RaiseStreamLimit(limit uint16) error

	// Close closes the transport.
	Close() error
}
