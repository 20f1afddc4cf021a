package main

import (
	"fmt"
	"os"

	metrics "github.com/armon/go-metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/progrium/rtcmux/config"
	"github.com/progrium/rtcmux/logging"
)

var (
	cfgFile   string
	kindFlag  string
	addrFlag  string
	levelFlag string

	cfg    config.Config
	log    zerolog.Logger
	dumper *metrics.InmemSignal
)

var rootCmd = &cobra.Command{
	Use:   "rtcmux",
	Short: "multiplex data channels over a single transport",
	Long: `rtcmux opens labelled data channels, each with its own ordering and
reliability, over one TCP, unix, websocket, stdio or SCTP session.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dumper != nil {
			dumper.Stop()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&kindFlag, "transport", "", "transport kind: tcp, unix, ws, stdio, sctp")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "transport address")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg = config.Default()
	if cfgFile != "" {
		if cfg, err = config.Load(cfgFile); err != nil {
			return err
		}
	}
	if kindFlag != "" {
		cfg.Transport.Kind = kindFlag
	}
	if addrFlag != "" {
		cfg.Transport.Address = addrFlag
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		interval, retain := cfg.Metrics.Durations()
		sink := metrics.NewInmemSink(interval, retain)
		// SIGUSR1 dumps the in-memory metrics to stderr.
		dumper = metrics.DefaultInmemSignal(sink)
		mc := metrics.DefaultConfig("rtcmux")
		mc.EnableHostname = false
		mc.EnableRuntimeMetrics = false
		if _, err := metrics.NewGlobal(mc, sink); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtcmux:", err)
		os.Exit(1)
	}
}
