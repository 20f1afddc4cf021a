package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/progrium/rtcmux/config"
	"github.com/progrium/rtcmux/mux"
)

var (
	channelFlags []string
	messageFlags []string
	binaryFlag   bool
	waitFlag     time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "open channels, send messages and print what comes back",
	Long: `dial connects, opens every configured channel and sends each message on
each of them. Messages come from --message, or stdin lines if none are
given. Received messages are printed as "label: data".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		specs := append([]config.ChannelSpec(nil), cfg.Channels...)
		for _, f := range channelFlags {
			spec, err := config.ParseChannelSpec(f)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}
		if len(specs) == 0 {
			specs = append(specs, config.ChannelSpec{Label: "rtcmux"})
		}

		messages := messageFlags
		if len(messages) == 0 && cfg.Transport.Kind != config.KindStdio {
			lines, err := readLines(cmd.InOrStdin())
			if err != nil {
				return err
			}
			messages = lines
		}

		t, err := dialTransport(cfg, &log)
		if err != nil {
			return err
		}
		d := newDialer(cmd.OutOrStdout(), len(specs))
		d.conn = mux.New(t, d, cfg.Connection.Options(&log))
		d.conn.Start()

		err = d.run(ctx, specs, messages)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.Shutdown())
		defer cancel()
		if serr := d.conn.Shutdown(sctx); err == nil {
			err = serr
		}
		return err
	},
}

func init() {
	dialCmd.Flags().StringArrayVarP(&channelFlags, "channel", "c", nil, `channel spec, e.g. "label=chat,ordered=false,max_retransmits=2"`)
	dialCmd.Flags().StringArrayVarP(&messageFlags, "message", "m", nil, "message to send on every channel")
	dialCmd.Flags().BoolVar(&binaryFlag, "binary", false, "send messages as binary")
	dialCmd.Flags().DurationVar(&waitFlag, "wait", 2*time.Second, "how long to wait for channels and replies")
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// dialer is the Handler for the dial command.
type dialer struct {
	conn *mux.Connection
	out  io.Writer

	outMu   sync.Mutex
	opened  chan *mux.Channel
	replies atomic.Int64
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	err     error
}

func newDialer(out io.Writer, channels int) *dialer {
	return &dialer{
		out:     out,
		opened:  make(chan *mux.Channel, channels),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (d *dialer) finish(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

func (d *dialer) OnConnectionOpen() {
	log.Debug().Str("conn", d.conn.ID()).Msg("connection open")
}

func (d *dialer) OnConnectionClosed() {
	d.finish(nil)
}

func (d *dialer) OnConnectionFailed(err error) {
	d.finish(err)
}

func (d *dialer) OnChannelCreated(ch *mux.Channel) {
	log.Info().Stringer("channel", ch).Msg("peer opened channel")
}

func (d *dialer) OnChannelOpen(ch *mux.Channel) {
	select {
	case d.opened <- ch:
	default:
	}
}

func (d *dialer) OnChannelClosed(ch *mux.Channel) {
	log.Debug().Stringer("channel", ch).Msg("channel closed")
}

func (d *dialer) OnMessage(ch *mux.Channel, data []byte, binary bool) {
	d.outMu.Lock()
	if binary {
		fmt.Fprintf(d.out, "%s: %x\n", ch.Label(), data)
	} else {
		fmt.Fprintf(d.out, "%s: %s\n", ch.Label(), data)
	}
	d.outMu.Unlock()
	d.replies.Add(1)
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

var errTimeout = errors.New("timed out")

func (d *dialer) run(ctx context.Context, specs []config.ChannelSpec, messages []string) error {
	for _, spec := range specs {
		opts, err := spec.Options()
		if err != nil {
			return err
		}
		if _, err := d.conn.Open(opts); err != nil {
			return fmt.Errorf("open %q: %w", opts.Label, err)
		}
	}

	var open []*mux.Channel
	for len(open) < len(specs) {
		select {
		case ch := <-d.opened:
			open = append(open, ch)
		case <-d.done:
			return d.err
		case <-ctx.Done():
			return nil
		case <-time.After(waitFlag):
			return fmt.Errorf("waiting for channels: %w", errTimeout)
		}
	}

	for _, m := range messages {
		for _, ch := range open {
			if err := d.conn.Send(ch, []byte(m), binaryFlag); err != nil {
				return fmt.Errorf("send on %q: %w", ch.Label(), err)
			}
		}
	}

	expected := int64(len(messages) * len(open))
	for d.replies.Load() < expected {
		select {
		case <-d.notify:
		case <-d.done:
			return d.err
		case <-ctx.Done():
			return nil
		case <-time.After(waitFlag):
			log.Warn().Int64("received", d.replies.Load()).Int64("expected", expected).Msg("replies timed out")
			return nil
		}
	}
	return nil
}
