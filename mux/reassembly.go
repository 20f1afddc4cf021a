package mux

import (
	"github.com/progrium/rtcmux/transport"
)

// Message is one complete inbound application message.
type Message struct {
	Data   []byte
	Binary bool
}

// Reassembler accumulates the fragments of one stream into messages.
type Reassembler struct {
	// MaxMessageSize caps a single message. Zero means no cap.
	MaxMessageSize uint64

	buf      []byte
	binary   bool
	active   bool
	dropping bool
}

// Buffered returns the bytes held for the partial message.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset discards any partial message.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.active = false
	r.dropping = false
}

// Push feeds one fragment and returns the completed message, if any. A
// non-nil error reports a message that was lost: either the partial
// message was abandoned because the payload kind changed, in which case
// the fragment starts a new message, or a message went over
// MaxMessageSize and is dropped up to its final fragment. A complete
// message may be returned together with an error.
func (r *Reassembler) Push(ppid transport.PPID, data []byte) (Message, bool, error) {
	var lost error
	binary := ppid.IsBinary()

	if (r.active || r.dropping) && binary != r.binary {
		r.Reset()
		lost = ErrKindChanged
	}

	if r.dropping {
		if !ppid.IsPartial() {
			r.dropping = false
		}
		return Message{}, false, lost
	}

	if ppid.IsEmpty() {
		data = nil
	}

	if r.MaxMessageSize > 0 && uint64(len(r.buf)+len(data)) > r.MaxMessageSize {
		size := uint64(len(r.buf) + len(data))
		r.Reset()
		r.binary = binary
		r.dropping = ppid.IsPartial()
		return Message{}, false, &CapacityError{Size: size, Limit: r.MaxMessageSize, Err: ErrTooLarge}
	}

	if ppid.IsPartial() {
		r.buf = append(r.buf, data...)
		r.binary = binary
		r.active = true
		return Message{}, false, lost
	}

	var msg Message
	if r.active {
		msg = Message{Data: append(r.buf, data...), Binary: binary}
	} else {
		msg = Message{Data: append([]byte{}, data...), Binary: binary}
	}
	r.buf = nil
	r.active = false
	return msg, true, lost
}
