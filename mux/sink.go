package mux

import (
	"github.com/progrium/rtcmux/transport"
)

// sink moves transport events onto the transport loop.
type sink struct {
	c *Connection
}

func (s *sink) Opened(remoteMax uint64) {
	s.c.work.Post(func() { s.c.onOpened(remoteMax) })
}

func (s *sink) Closed(err error) {
	s.c.work.Post(func() {
		s.c.transportClosed = true
		if err != nil {
			s.c.log.Error().Err(err).Msg("transport failed")
		}
		s.c.closeAll(err)
	})
}

func (s *sink) Received(p transport.Packet) {
	s.c.work.Post(func() { s.c.onPacket(p) })
}

func (s *sink) StreamsReset(ids []uint16) {
	s.c.work.Post(func() { s.c.onStreamsReset(ids) })
}

func (s *sink) StreamLimitRaised(limit uint16) {
	s.c.work.Post(func() { s.c.onStreamLimitRaised(limit) })
}

func (s *sink) Writable() {
	s.c.work.Post(s.c.onWritable)
}
