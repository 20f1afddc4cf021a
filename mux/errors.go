package mux

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for operations on a closed Connection.
	ErrClosed = errors.New("mux: connection closed")

	// ErrInvalidState is returned when sending on a channel that is not open.
	ErrInvalidState = errors.New("mux: channel not open")

	// ErrTooLarge is returned when a message exceeds the negotiated maximum.
	ErrTooLarge = errors.New("mux: message too large")

	// ErrStreamInUse is returned when a negotiated stream id is already taken.
	ErrStreamInUse = errors.New("mux: stream in use")

	// ErrInvalidReliability is returned for a reliable channel with a
	// reliability parameter.
	ErrInvalidReliability = errors.New("mux: reliability parameter on reliable channel")

	// ErrInvalidStream is returned for negotiated stream ids out of range.
	ErrInvalidStream = errors.New("mux: invalid stream id")

	// ErrLabelTooLong is returned when a label or protocol does not fit
	// in an open request.
	ErrLabelTooLong = errors.New("mux: label or protocol too long")

	// ErrNoStreams is reported when no stream id of the local parity is free.
	ErrNoStreams = errors.New("mux: stream ids exhausted")

	// ErrKindChanged is reported when a fragment's payload kind differs from
	// the partial message it would continue.
	ErrKindChanged = errors.New("mux: payload type changed mid-message")

	// ErrReassemblyLimit is the connection-fatal error for exceeding the
	// total reassembly limit.
	ErrReassemblyLimit = errors.New("mux: reassembly limit exceeded")
)

// CapacityError reports an operation rejected for lack of room: a message
// over a size limit or an exhausted stream id space.
type CapacityError struct {
	Stream uint16
	Size   uint64
	Limit  uint64
	Err    error
}

func (e *CapacityError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("stream %d: %v (%d > %d)", e.Stream, e.Err, e.Size, e.Limit)
	}
	return fmt.Sprintf("stream %d: %v", e.Stream, e.Err)
}

func (e *CapacityError) Unwrap() error {
	return e.Err
}

// ProtocolError describes a peer message that was dropped. The connection
// continues.
type ProtocolError struct {
	Stream uint16
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %d: %s: %v", e.Stream, e.Msg, e.Err)
	}
	return fmt.Sprintf("stream %d: %s", e.Stream, e.Msg)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
