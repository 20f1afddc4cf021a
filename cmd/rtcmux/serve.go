package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/progrium/rtcmux/config"
	"github.com/progrium/rtcmux/mux"
	"github.com/progrium/rtcmux/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "accept connections and echo every message back on its channel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l, err := listenTransport(cfg, &log)
		if err != nil {
			return err
		}
		if l.addr != nil {
			log.Info().Str("transport", cfg.Transport.Kind).Stringer("addr", l.addr).Msg("listening")
		}

		s := newServer()
		go func() {
			<-ctx.Done()
			l.Close()
		}()
		for {
			t, err := l.accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
					break
				}
				s.shutdown()
				return err
			}
			s.serve(t)
			if cfg.Transport.Kind == config.KindStdio {
				// Only one session on stdio; wait for it to end.
				s.wait(ctx)
				break
			}
		}
		return s.shutdown()
	},
}

type server struct {
	mu    sync.Mutex
	conns map[*mux.Connection]struct{}
	wg    sync.WaitGroup
}

func newServer() *server {
	return &server{conns: make(map[*mux.Connection]struct{})}
}

func (s *server) serve(t transport.Transport) {
	var conn *mux.Connection
	ended := func() {
		s.mu.Lock()
		_, ok := s.conns[conn]
		delete(s.conns, conn)
		s.mu.Unlock()
		if !ok {
			return
		}
		// Shutdown drains the control loop, so it can't run on it.
		go func() {
			defer s.wg.Done()
			shutdownConn(conn)
		}()
	}
	conn = mux.New(t, mux.HandlerFuncs{
		ConnectionOpen: func() {
			log.Info().Str("conn", conn.ID()).Msg("connection open")
		},
		ConnectionClosed: ended,
		ConnectionFailed: func(err error) {
			log.Warn().Err(err).Str("conn", conn.ID()).Msg("connection failed")
			ended()
		},
		ChannelOpen: func(ch *mux.Channel) {
			log.Info().Str("conn", conn.ID()).Stringer("channel", ch).Msg("channel open")
		},
		ChannelClosed: func(ch *mux.Channel) {
			log.Debug().Str("conn", conn.ID()).Stringer("channel", ch).Msg("channel closed")
		},
		Message: func(ch *mux.Channel, data []byte, binary bool) {
			if err := conn.Send(ch, data, binary); err != nil {
				log.Warn().Err(err).Stringer("channel", ch).Msg("echo")
			}
		},
	}, cfg.Connection.Options(&log))

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	conn.Start()
}

// wait blocks until every connection has ended or ctx is done.
func (s *server) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *server) shutdown() error {
	s.mu.Lock()
	conns := make([]*mux.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*mux.Connection]struct{})
	s.mu.Unlock()

	var result error
	var mu sync.Mutex
	for _, c := range conns {
		c := c
		go func() {
			defer s.wg.Done()
			if err := shutdownConn(c); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}()
	}
	s.wg.Wait()
	return result
}

func shutdownConn(c *mux.Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.Shutdown())
	defer cancel()
	err := c.Shutdown(ctx)
	if err != nil {
		log.Warn().Err(err).Str("conn", c.ID()).Msg("shutdown")
	}
	return err
}
