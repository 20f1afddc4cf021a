package main

import (
	"fmt"
	"io"
	"math"
	"net"

	"github.com/rs/zerolog"

	"github.com/progrium/rtcmux/config"
	"github.com/progrium/rtcmux/transport"
	"github.com/progrium/rtcmux/transport/sctp"
	"github.com/progrium/rtcmux/transport/stream"
)

type listener struct {
	io.Closer
	accept func() (transport.Transport, error)
	addr   net.Addr
}

func wrap[T transport.Transport](t T, err error) (transport.Transport, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}

func streamOptions(c config.Config, log *zerolog.Logger) stream.Options {
	return stream.Options{
		Logger:         log,
		MaxMessageSize: c.Transport.MaxMessageSize,
		StreamLimit:    c.Connection.InitialStreamLimit,
		QueueSize:      c.Transport.QueueSize,
	}
}

func sctpOptions(c config.Config, log *zerolog.Logger) sctp.Options {
	max := c.Transport.MaxMessageSize
	if max > math.MaxUint32 {
		max = math.MaxUint32
	}
	return sctp.Options{
		Logger:               log,
		RemoteMaxMessageSize: c.Transport.MaxMessageSize,
		MaxMessageSize:       uint32(max),
	}
}

func dialTransport(c config.Config, log *zerolog.Logger) (transport.Transport, error) {
	addr := c.Transport.Address
	switch c.Transport.Kind {
	case config.KindTCP:
		return wrap(stream.DialTCP(addr, streamOptions(c, log)))
	case config.KindUnix:
		return wrap(stream.DialUnix(addr, streamOptions(c, log)))
	case config.KindWS:
		return wrap(stream.DialWS(addr, streamOptions(c, log)))
	case config.KindStdio:
		return wrap(stream.DialStdio(streamOptions(c, log)))
	case config.KindSCTP:
		return wrap(sctp.DialUDP(addr, sctpOptions(c, log)))
	default:
		return nil, fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
}

func listenTransport(c config.Config, log *zerolog.Logger) (*listener, error) {
	addr := c.Transport.Address
	var sl stream.Listener
	var err error
	switch c.Transport.Kind {
	case config.KindTCP:
		sl, err = stream.ListenTCP(addr, streamOptions(c, log))
	case config.KindUnix:
		sl, err = stream.ListenUnix(addr, streamOptions(c, log))
	case config.KindWS:
		sl, err = stream.ListenWS(addr, streamOptions(c, log))
	case config.KindStdio:
		sl, err = stream.ListenStdio(streamOptions(c, log))
	case config.KindSCTP:
		l, err := sctp.ListenUDP(addr, sctpOptions(c, log))
		if err != nil {
			return nil, err
		}
		return &listener{
			Closer: l,
			accept: func() (transport.Transport, error) { return wrap(l.Accept()) },
			addr:   l.Addr(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if err != nil {
		return nil, err
	}
	return &listener{
		Closer: sl,
		accept: func() (transport.Transport, error) { return wrap(sl.Accept()) },
		addr:   sl.Addr(),
	}, nil
}
