package mux

import (
	"errors"

	"github.com/progrium/rtcmux/transport"
)

func (c *Connection) sendMessage(ch *Channel, data []byte, binary bool) {
	st := c.arena[ch.handle]
	if st == nil || st.closed || ch.ReadyState() != ChannelOpen {
		c.log.Debug().Str("label", ch.label).Msg("send on closed channel dropped")
		c.incr(metricMessagesDropped, 1)
		return
	}
	// Unordered delivery is held back until the peer has seen the open.
	unordered := !ch.ordered && !st.waitingForAck
	for _, f := range segment(data, binary, c.opts.FragmentSize) {
		st.pending = append(st.pending, transport.Packet{
			Stream:      st.id(),
			PPID:        f.ppid,
			Data:        f.data,
			Unordered:   unordered,
			Reliability: ch.reliability,
		})
	}
	c.incr(metricMessagesSent, 1)
	c.incr(metricBytesSent, len(data))
	if len(c.controlQueue) == 0 {
		c.flushChannel(st)
	}
}

// flushChannel sends queued fragments until the transport pushes back. It
// reports false if the transport is full.
func (c *Connection) flushChannel(st *channel) bool {
	for len(st.pending) > 0 {
		err := c.t.Send(st.pending[0])
		if errors.Is(err, transport.ErrWouldBlock) {
			return false
		}
		if err != nil {
			c.log.Error().Err(err).Uint16("stream", st.id()).Msg("send failed")
			c.finishClose(st)
			return true
		}
		st.pending[0] = transport.Packet{}
		st.pending = st.pending[1:]
	}
	st.pending = nil
	return true
}

// flushControl sends queued control messages. It reports false if the
// transport is full.
func (c *Connection) flushControl() bool {
	for len(c.controlQueue) > 0 {
		p := c.controlQueue[0]
		err := c.t.Send(p)
		if errors.Is(err, transport.ErrWouldBlock) {
			return false
		}
		if err != nil {
			c.log.Error().Err(err).Uint16("stream", p.Stream).Msg("control send failed")
			if ch := c.registry.Get(p.Stream); ch != nil {
				if st := c.arena[ch.handle]; st != nil {
					c.finishClose(st)
				}
			}
		} else {
			c.incr(metricControlSent, 1)
		}
		c.controlQueue = c.controlQueue[1:]
	}
	c.controlQueue = nil
	return true
}

// onWritable drains control messages first, then buffered channels
// round-robin starting after the last one served.
func (c *Connection) onWritable() {
	if !c.flushControl() {
		return
	}
	c.incr(metricBufferedFlush, 1)
	n := c.registry.Len()
	after := c.lastFlushed
	for i := 0; i < n; i++ {
		ch := c.registry.Next(after)
		if ch == nil {
			return
		}
		after = uint16(ch.stream.Load())
		st := c.arena[ch.handle]
		if st == nil || len(st.pending) == 0 {
			continue
		}
		if !c.flushChannel(st) {
			c.lastFlushed = after
			return
		}
		c.lastFlushed = after
	}
}

func (c *Connection) onData(p transport.Packet) {
	ch := c.registry.Get(p.Stream)
	if ch == nil {
		c.violation(&ProtocolError{Stream: p.Stream, Msg: "data for unknown stream"})
		return
	}
	st := c.arena[ch.handle]
	if st == nil || st.closed {
		return
	}
	// Data from the peer means it has processed our open request.
	st.waitingForAck = false

	before := st.rx.Buffered()
	msg, ok, err := st.rx.Push(p.PPID, p.Data)
	c.reassembly = c.reassembly - uint64(before) + uint64(st.rx.Buffered())
	if err != nil {
		c.incr(metricMessagesDropped, 1)
		c.log.Warn().Err(err).Uint16("stream", p.Stream).Str("ppid", p.PPID.String()).Msg("inbound message lost")
	}
	if c.reassembly > c.opts.MaxReassemblyBytes {
		err := &CapacityError{Stream: p.Stream, Size: c.reassembly, Limit: c.opts.MaxReassemblyBytes, Err: ErrReassemblyLimit}
		c.log.Error().Err(err).Msg("closing connection")
		c.closeAll(err)
		return
	}
	if !ok {
		return
	}
	c.incr(metricMessagesReceived, 1)
	c.incr(metricBytesReceived, len(msg.Data))
	if ch.ReadyState() != ChannelOpen {
		return
	}
	c.emit(func(h Handler) { h.OnMessage(ch, msg.Data, msg.Binary) })
}
