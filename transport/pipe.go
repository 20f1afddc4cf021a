package transport

import (
	"sync"
)

// DefaultMaxMessageSize is assumed for peers that do not advertise a limit.
const DefaultMaxMessageSize uint64 = 65536

type pipe struct {
	mu     sync.Mutex
	limit  uint16
	maxMsg uint64
	ends   [2]*PipeEnd
	closed bool
}

// PipeEnd is one side of an in-memory transport pair.
type PipeEnd struct {
	p      *pipe
	client bool
	sink   Sink
	peer   *PipeEnd
}

// Pipe returns a connected in-memory transport pair. The first end is the
// client. Both ends open once both have been attached.
func Pipe(limit uint16, maxMessageSize uint64) (*PipeEnd, *PipeEnd) {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	p := &pipe{limit: limit, maxMsg: maxMessageSize}
	a := &PipeEnd{p: p, client: true}
	b := &PipeEnd{p: p}
	a.peer, b.peer = b, a
	p.ends = [2]*PipeEnd{a, b}
	return a, b
}

func (e *PipeEnd) Attach(s Sink) (Params, error) {
	e.p.mu.Lock()
	if e.p.closed {
		e.p.mu.Unlock()
		return Params{}, ErrNotOpen
	}
	e.sink = s
	ready := e.peer.sink != nil
	params := Params{Client: e.client, StreamLimit: e.p.limit}
	maxMsg := e.p.maxMsg
	e.p.mu.Unlock()

	if ready {
		e.peer.sink.Opened(maxMsg)
		s.Opened(maxMsg)
	}
	return params, nil
}

func (e *PipeEnd) peerSink() (Sink, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed || e.sink == nil || e.peer.sink == nil {
		return nil, ErrNotOpen
	}
	return e.peer.sink, nil
}

func (e *PipeEnd) Send(p Packet) error {
	s, err := e.peerSink()
	if err != nil {
		return err
	}
	p.Data = append([]byte(nil), p.Data...)
	s.Received(p)
	return nil
}

func (e *PipeEnd) ResetStreams(ids []uint16) error {
	s, err := e.peerSink()
	if err != nil {
		return err
	}
	s.StreamsReset(append([]uint16(nil), ids...))
	return nil
}

func (e *PipeEnd) RaiseStreamLimit(limit uint16) error {
	e.p.mu.Lock()
	if e.p.closed {
		e.p.mu.Unlock()
		return ErrNotOpen
	}
	if limit <= e.p.limit {
		e.p.mu.Unlock()
		return nil
	}
	e.p.limit = limit
	sinks := []Sink{e.sink, e.peer.sink}
	e.p.mu.Unlock()

	for _, s := range sinks {
		if s != nil {
			s.StreamLimitRaised(limit)
		}
	}
	return nil
}

// Close closes both ends.
func (e *PipeEnd) Close() error {
	e.p.mu.Lock()
	if e.p.closed {
		e.p.mu.Unlock()
		return nil
	}
	e.p.closed = true
	sinks := []Sink{e.sink, e.peer.sink}
	e.p.mu.Unlock()

	for _, s := range sinks {
		if s != nil {
			s.Closed(nil)
		}
	}
	return nil
}
