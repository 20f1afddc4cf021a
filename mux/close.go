package mux

// finishClose tears down one channel: queued data is dropped, the channel
// leaves the registry and the pending queues, its id is queued for reset,
// and the application is told once. Resets are flushed right away unless
// the whole connection is closing.
func (c *Connection) finishClose(st *channel) {
	if st.closed {
		return
	}
	st.closed = true
	st.pending = nil
	c.reassembly -= uint64(st.rx.Buffered())
	st.rx.Reset()
	c.removePending(st)
	delete(c.arena, st.handle)

	if id, ok := st.Stream(); ok {
		c.registry.Remove(st.Channel)
		c.markForReset(id)
		if c.State() != StateClosed {
			c.flushResets()
		}
	}

	st.state.Store(int32(ChannelClosed))
	c.incr(metricChannelClosed, 1)
	if !st.known {
		return
	}
	c.log.Debug().Uint16("stream", st.id()).Str("label", st.label).Msg("channel closed")
	ch := st.Channel
	c.emit(func(h Handler) { h.OnChannelClosed(ch) })
}

func (c *Connection) markForReset(id uint16) {
	for _, p := range c.pendingReset {
		if p == id {
			return
		}
	}
	c.pendingReset = append(c.pendingReset, id)
}

func (c *Connection) resetPending(id uint16) bool {
	for _, p := range c.pendingReset {
		if p == id {
			return true
		}
	}
	return false
}

// flushResets sends the queued reset batch. On failure the batch is kept
// and retried with the next one.
func (c *Connection) flushResets() {
	if len(c.pendingReset) == 0 || !c.attached || c.transportClosed {
		return
	}
	ids := append([]uint16(nil), c.pendingReset...)
	if err := c.t.ResetStreams(ids); err != nil {
		c.log.Warn().Err(err).Interface("streams", ids).Msg("stream reset deferred")
		return
	}
	c.pendingReset = nil
	c.incr(metricStreamsReset, len(ids))
	for _, id := range ids {
		if c.peerReset[id] {
			delete(c.peerReset, id)
			c.registry.Release(id)
		}
	}
}

// onStreamsReset handles the peer resetting its side of ids. Registered
// channels are closed. An id is released once both sides are reset; ids
// we do not know are reset back so the peer can release them.
func (c *Connection) onStreamsReset(ids []uint16) {
	c.log.Debug().Interface("streams", ids).Msg("streams reset by peer")
	for _, id := range ids {
		if ch := c.registry.Get(id); ch != nil {
			if st := c.arena[ch.handle]; st != nil {
				c.finishClose(st)
			} else {
				c.registry.Remove(ch)
				c.markForReset(id)
			}
		} else if !c.registry.Reserved(id) {
			c.markForReset(id)
		}
		if c.resetPending(id) {
			c.peerReset[id] = true
			continue
		}
		c.registry.Release(id)
	}
	c.flushResets()
}

// closeAll closes every channel, flushes one reset batch and moves the
// connection to closed.
func (c *Connection) closeAll(err error) {
	if c.State() == StateClosed {
		return
	}
	c.state.Store(int32(StateClosed))
	for _, ch := range c.registry.All() {
		if st := c.arena[ch.handle]; st != nil {
			c.finishClose(st)
		}
	}
	for _, st := range append([]*channel(nil), c.pendingOpens...) {
		c.finishClose(st)
	}
	for _, st := range c.arena {
		c.finishClose(st)
	}
	c.flushResets()
	c.controlQueue = nil
	if err != nil {
		c.log.Debug().Err(err).Msg("connection closed")
	} else {
		c.log.Debug().Msg("connection closed")
	}
	c.emit(func(h Handler) { h.OnConnectionClosed() })
}
