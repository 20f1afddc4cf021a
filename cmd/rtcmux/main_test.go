package main

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrium/rtcmux/config"
	"github.com/progrium/rtcmux/mux"
	"github.com/progrium/rtcmux/transport"
)

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "rtcmux dev\n", buf.String())
}

func TestBadTransportFlag(t *testing.T) {
	rootCmd.SetArgs([]string{"--transport", "pigeon", "version"})
	defer rootCmd.SetArgs(nil)
	defer func() { kindFlag = "" }()

	assert.Error(t, rootCmd.Execute())
}

func TestDialEcho(t *testing.T) {
	cfg = config.Default()
	log = zerolog.Nop()
	waitFlag = 2 * time.Second

	client, server := transport.Pipe(16, transport.DefaultMaxMessageSize)
	s := newServer()
	s.serve(server)

	var out bytes.Buffer
	d := newDialer(&out, 2)
	d.conn = mux.New(client, d, cfg.Connection.Options(&log))
	d.conn.Start()

	specs := []config.ChannelSpec{{Label: "a"}, {Label: "b"}}
	require.NoError(t, d.run(context.Background(), specs, []string{"hello", "world"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.conn.Shutdown(ctx))
	require.NoError(t, s.shutdown())

	d.outMu.Lock()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	d.outMu.Unlock()
	sort.Strings(lines)
	assert.Equal(t, []string{"a: hello", "a: world", "b: hello", "b: world"}, lines)
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("one\ntwo\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}
