// Package config loads rtcmux configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/progrium/rtcmux/logging"
	"github.com/progrium/rtcmux/mux"
)

// Transport kinds.
const (
	KindTCP   = "tcp"
	KindUnix  = "unix"
	KindWS    = "ws"
	KindStdio = "stdio"
	KindSCTP  = "sctp"
)

type Config struct {
	Log        logging.Config   `toml:"log"`
	Connection ConnectionConfig `toml:"connection"`
	Transport  TransportConfig  `toml:"transport"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Channels   []ChannelSpec    `toml:"channels"`
}

type ConnectionConfig struct {
	FragmentSize          int    `toml:"fragment_size"`
	MaxMessageSize        uint64 `toml:"max_message_size"`
	InitialStreamLimit    uint16 `toml:"initial_stream_limit"`
	MaxReceiveMessageSize uint64 `toml:"max_receive_message_size"`
	MaxReassemblyBytes    uint64 `toml:"max_reassembly_bytes"`
	ShutdownTimeout       string `toml:"shutdown_timeout"` // e.g. "5s"
}

type TransportConfig struct {
	Kind    string `toml:"kind"`
	Address string `toml:"address"`

	// MaxMessageSize is advertised to, or assumed for, the peer.
	MaxMessageSize uint64 `toml:"max_message_size"`
	QueueSize      int    `toml:"queue_size"`
}

type MetricsConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"` // e.g. "10s"
	Retain   string `toml:"retain"`   // e.g. "1m"
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: logging.Config{Level: "info", Format: "console"},
		Connection: ConnectionConfig{
			FragmentSize:          mux.DefaultFragmentSize,
			InitialStreamLimit:    16,
			MaxReceiveMessageSize: mux.DefaultMaxReceiveMessageSize,
			MaxReassemblyBytes:    mux.DefaultMaxReassemblyBytes,
			ShutdownTimeout:       "5s",
		},
		Transport: TransportConfig{
			Kind:    KindTCP,
			Address: "127.0.0.1:7450",
		},
		Metrics: MetricsConfig{
			Interval: "10s",
			Retain:   "1m",
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults.
func Parse(text string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport.Kind {
	case KindTCP, KindUnix, KindWS, KindStdio, KindSCTP:
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.Address == "" && c.Transport.Kind != KindStdio {
		return errors.New("config: transport address required")
	}
	if c.Connection.FragmentSize <= 0 {
		return errors.New("config: fragment_size must be positive")
	}
	if c.Connection.InitialStreamLimit == 0 {
		return errors.New("config: initial_stream_limit must be positive")
	}
	for _, d := range []struct{ name, value string }{
		{"connection.shutdown_timeout", c.Connection.ShutdownTimeout},
		{"metrics.interval", c.Metrics.Interval},
		{"metrics.retain", c.Metrics.Retain},
	} {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	for i, ch := range c.Channels {
		if _, err := ch.Options(); err != nil {
			return fmt.Errorf("config: channels[%d]: %w", i, err)
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Shutdown returns the bounded drain used on shutdown.
func (c ConnectionConfig) Shutdown() time.Duration {
	d, _ := parseDuration(c.ShutdownTimeout)
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// Options converts the connection settings for mux.New.
func (c ConnectionConfig) Options(log *zerolog.Logger) mux.Options {
	return mux.Options{
		Logger:                log,
		FragmentSize:          c.FragmentSize,
		MaxMessageSize:        c.MaxMessageSize,
		MaxReceiveMessageSize: c.MaxReceiveMessageSize,
		MaxReassemblyBytes:    c.MaxReassemblyBytes,
	}
}

func (m MetricsConfig) Durations() (interval, retain time.Duration) {
	interval, _ = parseDuration(m.Interval)
	retain, _ = parseDuration(m.Retain)
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if retain <= 0 {
		retain = time.Minute
	}
	return interval, retain
}
