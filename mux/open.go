package mux

import (
	"errors"
	"fmt"
	"time"

	"github.com/progrium/rtcmux/dcep"
	"github.com/progrium/rtcmux/transport"
)

func (c *Connection) openChannel(ch *Channel) {
	st := &channel{Channel: ch, known: true}
	st.rx.MaxMessageSize = c.opts.MaxReceiveMessageSize
	c.arena[ch.handle] = st
	if c.State() == StateClosed {
		c.finishClose(st)
		return
	}
	if !st.assigned() && c.attached {
		if !c.assignStream(st) {
			return
		}
	}
	c.openFinish(st)
}

// assignStream allocates a stream id of the local parity. On exhaustion
// the channel is closed.
func (c *Connection) assignStream(st *channel) bool {
	if _, ok := c.registry.Assign(st.Channel, c.role.firstStream()); !ok {
		err := &CapacityError{Err: ErrNoStreams}
		c.log.Warn().Err(err).Str("label", st.label).Msg("cannot open channel")
		c.finishClose(st)
		return false
	}
	return true
}

// openFinish commits a channel: it is queued until the connection is open
// and its id fits the stream limit, then announced to the peer unless
// negotiated.
func (c *Connection) openFinish(st *channel) {
	if !st.assigned() || c.State() != StateOpen {
		c.queuePending(st)
		return
	}
	id := st.id()
	if id >= c.streamLimit {
		if err := c.raiseStreamLimit(id); err != nil {
			c.log.Error().Err(err).Uint16("stream", id).Msg("stream limit raise failed")
			c.finishClose(st)
			return
		}
		c.queuePending(st)
		return
	}
	c.removePending(st)

	if !st.negotiated {
		req := dcep.OpenRequest{
			ChannelType:      dcep.NewChannelType(byte(st.reliability.Kind), st.ordered),
			ReliabilityParam: st.reliability.Param,
			Label:            st.label,
			Protocol:         st.protocol,
		}
		if err := c.sendControl(id, req); err != nil {
			c.log.Error().Err(err).Uint16("stream", id).Msg("open request send failed")
			c.finishClose(st)
			return
		}
		if !st.ordered {
			st.waitingForAck = true
		}
		st.requestedAt = time.Now()
	}
	c.announceOpen(st)
}

func (c *Connection) queuePending(st *channel) {
	if st.pendingOpen {
		return
	}
	st.pendingOpen = true
	c.pendingOpens = append(c.pendingOpens, st)
}

func (c *Connection) removePending(st *channel) {
	if !st.pendingOpen {
		return
	}
	st.pendingOpen = false
	for i, p := range c.pendingOpens {
		if p == st {
			c.pendingOpens = append(c.pendingOpens[:i], c.pendingOpens[i+1:]...)
			return
		}
	}
}

func (c *Connection) processPendingOpens() {
	for _, st := range append([]*channel(nil), c.pendingOpens...) {
		if !st.closed {
			c.openFinish(st)
		}
	}
}

// raiseStreamLimit asks for room for id, rounding up to a multiple of 16.
func (c *Connection) raiseStreamLimit(id uint16) error {
	target := 16 * (uint32(id)/16 + 1)
	if target > uint32(transport.MaxStreams) {
		target = uint32(transport.MaxStreams)
	}
	if uint16(target) <= c.limitRequested || uint16(target) <= c.streamLimit {
		return nil
	}
	c.log.Debug().Uint16("limit", uint16(target)).Msg("raising stream limit")
	if err := c.t.RaiseStreamLimit(uint16(target)); err != nil {
		return err
	}
	c.limitRequested = uint16(target)
	return nil
}

func (c *Connection) onStreamLimitRaised(limit uint16) {
	if limit <= c.streamLimit {
		return
	}
	c.log.Debug().Uint16("limit", limit).Msg("stream limit raised")
	c.streamLimit = limit
	c.incr(metricLimitRaised, 1)
	if c.State() == StateOpen {
		c.processPendingOpens()
	}
}

func (c *Connection) onOpened(remoteMax uint64) {
	if c.State() != StateConnecting {
		return
	}
	if remoteMax == 0 {
		remoteMax = transport.DefaultMaxMessageSize
	}
	c.remoteMax.Store(remoteMax)
	c.max.Store(clampMessageSize(c.requested.Load(), remoteMax))
	c.state.Store(int32(StateOpen))
	c.log.Debug().Uint64("max_message_size", c.MaxMessageSize()).Msg("connection open")
	c.emit(func(h Handler) { h.OnConnectionOpen() })
	c.processPendingOpens()
	// Resets queued while the transport could not take them.
	c.flushResets()
}

// announceOpen marks the channel usable and notifies the application once.
func (c *Connection) announceOpen(st *channel) {
	if st.announced {
		return
	}
	st.announced = true
	if !st.state.CompareAndSwap(int32(ChannelConnecting), int32(ChannelOpen)) {
		return
	}
	c.incr(metricChannelOpened, 1)
	c.log.Debug().Uint16("stream", st.id()).Str("label", st.label).Msg("channel open")
	ch := st.Channel
	c.emit(func(h Handler) { h.OnChannelOpen(ch) })
}

// sendControl sends a control message, queueing it behind earlier ones
// while the transport is full.
func (c *Connection) sendControl(id uint16, msg dcep.Message) error {
	p := transport.Packet{Stream: id, PPID: transport.PPIDControl, Data: dcep.Encode(msg)}
	if len(c.controlQueue) > 0 {
		c.controlQueue = append(c.controlQueue, p)
		return nil
	}
	err := c.t.Send(p)
	if errors.Is(err, transport.ErrWouldBlock) {
		c.controlQueue = append(c.controlQueue, p)
		return nil
	}
	if err == nil {
		c.incr(metricControlSent, 1)
	}
	return err
}

func (c *Connection) onPacket(p transport.Packet) {
	if c.State() == StateClosed {
		return
	}
	switch {
	case p.PPID == transport.PPIDControl:
		c.incr(metricControlReceived, 1)
		c.onControl(p.Stream, p.Data)
	case p.PPID.IsData():
		c.onData(p)
	default:
		c.violation(&ProtocolError{Stream: p.Stream, Msg: "unknown payload type " + p.PPID.String()})
	}
}

func (c *Connection) violation(err *ProtocolError) {
	c.incr(metricProtocolViolation, 1)
	c.log.Warn().Err(err).Msg("dropped message")
}

func (c *Connection) onControl(id uint16, data []byte) {
	msg, err := dcep.Decode(data)
	if err != nil {
		c.violation(&ProtocolError{Stream: id, Msg: "bad control message", Err: err})
		return
	}
	switch m := msg.(type) {
	case *dcep.OpenRequest:
		c.handleOpenRequest(id, m)
	case *dcep.OpenAck:
		c.handleOpenAck(id)
	}
}

func (c *Connection) handleOpenRequest(id uint16, req *dcep.OpenRequest) {
	log := c.log.With().Uint16("stream", id).Str("label", req.Label).Logger()
	if id >= c.streamLimit {
		log.Error().Uint16("limit", c.streamLimit).Msg("open request beyond stream limit")
		c.incr(metricProtocolViolation, 1)
		return
	}
	if !req.ChannelType.Valid() {
		c.violation(&ProtocolError{Stream: id, Msg: fmt.Sprintf("unknown channel type 0x%02x", byte(req.ChannelType))})
		return
	}
	kind := req.ChannelType.Kind()
	rel := Reliability{Kind: transport.ReliabilityKind(kind)}
	if rel.Kind != transport.Reliable {
		rel.Param = req.ReliabilityParam
	}
	ordered := req.ChannelType.Ordered()

	if existing := c.registry.Get(id); existing != nil {
		if !existing.negotiated {
			c.violation(&ProtocolError{Stream: id, Msg: "duplicate open request"})
			return
		}
		if existing.reliability != rel || existing.ordered != ordered {
			log.Warn().
				Str("local", existing.reliability.String()).
				Str("remote", rel.String()).
				Bool("local_ordered", existing.ordered).
				Bool("remote_ordered", ordered).
				Msg("negotiated channel policy mismatch")
		}
		return
	}
	if c.registry.Reserved(id) {
		c.violation(&ProtocolError{Stream: id, Msg: "open request for stream awaiting reset"})
		return
	}

	ch := newChannel(c.nextHandle.Add(1), ChannelOptions{
		Label:       req.Label,
		Protocol:    req.Protocol,
		Reliability: rel,
		Ordered:     ordered,
	})
	ch.stream.Store(uint32(id))
	c.registry.Insert(ch)
	st := &channel{Channel: ch}
	st.rx.MaxMessageSize = c.opts.MaxReceiveMessageSize
	c.arena[ch.handle] = st

	if err := c.sendControl(id, dcep.OpenAck{}); err != nil {
		log.Error().Err(err).Msg("open ack send failed")
		c.finishClose(st)
		return
	}
	log.Debug().Str("protocol", req.Protocol).Msg("channel created by peer")
	st.known = true
	c.emit(func(h Handler) { h.OnChannelCreated(ch) })
	c.announceOpen(st)
}

func (c *Connection) handleOpenAck(id uint16) {
	ch := c.registry.Get(id)
	if ch == nil {
		c.log.Debug().Uint16("stream", id).Msg("open ack for unknown stream")
		return
	}
	st := c.arena[ch.handle]
	if st == nil {
		return
	}
	if st.waitingForAck {
		c.measure(metricOpenHandshake, st.requestedAt)
	}
	st.waitingForAck = false
}
