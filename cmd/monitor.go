package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowlens/internal/api"
	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/console"
	"firestige.xyz/flowlens/internal/engine"
	"firestige.xyz/flowlens/internal/log"
	"firestige.xyz/flowlens/internal/relay"
	"firestige.xyz/flowlens/internal/source"
)

var monitorFlags struct {
	source    string
	iface     string
	file      string
	filter    string
	speed     float64
	keyMode   string
	apiListen string
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Capture traffic and render the busiest flows",
	Long: `Run the aggregation engine in the foreground.

The monitor will:
  1. Load configuration and apply command-line overrides
  2. Pick the busiest interface when none is configured
  3. Start the capture session
  4. Render the top flows on stdout (logs go to stderr)
  5. Serve the HTTP API and relay snapshots to NATS when enabled
  6. Stop gracefully on SIGINT/SIGTERM, or when a capture file is exhausted

Examples:
  flowlens monitor -i eth0
  flowlens monitor -i eth0 --filter "tcp port 443"
  flowlens monitor --file trace.pcapng --speed 0`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := applyMonitorFlags(cmd, cfg); err != nil {
			exitWithError("invalid flags", err)
		}
		if err := log.Init(cfg.Log); err != nil {
			exitWithError("failed to init logger", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runMonitor(ctx, cfg, engine.Options{}, cmd.OutOrStdout()); err != nil {
			exitWithError("monitor failed", err)
		}
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringVar(&monitorFlags.source, "source", "", "capture source: pcap, afpacket or file")
	f.StringVarP(&monitorFlags.iface, "interface", "i", "", "interface to capture on")
	f.StringVarP(&monitorFlags.file, "file", "f", "", "pcap or pcapng file to replay (implies --source file)")
	f.StringVar(&monitorFlags.filter, "filter", "", "BPF filter expression")
	f.Float64Var(&monitorFlags.speed, "speed", 1, "replay speed for files, 0 = as fast as possible")
	f.StringVar(&monitorFlags.keyMode, "key-mode", "", "flow key: endpoints or hosts")
	f.StringVar(&monitorFlags.apiListen, "api", "", "enable the HTTP API on this address")
}

// applyMonitorFlags overrides cfg with the flags the user actually set and
// fills in a default interface for live sources.
func applyMonitorFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Capture.Source = monitorFlags.source
	}
	if flags.Changed("interface") {
		cfg.Capture.Interface = monitorFlags.iface
	}
	if flags.Changed("file") {
		cfg.Capture.File = monitorFlags.file
		if !flags.Changed("source") {
			cfg.Capture.Source = string(source.KindFile)
		}
	}
	if flags.Changed("filter") {
		cfg.Capture.Filter = monitorFlags.filter
	}
	if flags.Changed("speed") {
		cfg.Capture.Speed = monitorFlags.speed
	}
	if flags.Changed("key-mode") {
		cfg.Aggregation.KeyMode = monitorFlags.keyMode
	}
	if flags.Changed("api") {
		cfg.API.Enabled = true
		cfg.API.Listen = monitorFlags.apiListen
	}

	if cfg.Capture.Source != string(source.KindFile) && cfg.Capture.Interface == "" {
		ifaces, err := source.ListInterfaces()
		if err != nil {
			return err
		}
		name, ok := source.DefaultInterface(ifaces)
		if !ok {
			return errors.New("no capturable interface found, use --interface")
		}
		cfg.Capture.Interface = name
	}
	return cfg.ValidateAndApplyDefaults()
}

// runMonitor wires the engine to its consumers and blocks until ctx is
// cancelled or the session ends on its own. A session that ended faulted is
// returned as an error.
func runMonitor(ctx context.Context, cfg *config.Config, opts engine.Options, out io.Writer) error {
	logger := log.GetLogger().WithField("component", "monitor")

	session, err := engine.SessionFromConfig(cfg.Capture, cfg.Aggregation)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng := engine.New(opts)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			logger.WithError(err).Error("engine stopped")
		}
	}()
	defer wg.Wait()
	defer cancel()

	if err := eng.Start(ctx, session); err != nil {
		if !cfg.API.Enabled {
			return err
		}
		logger.WithError(err).Error("initial capture failed, waiting for API commands")
	}

	if cfg.API.Enabled {
		srv := api.NewServer(eng, eng.Feed(), cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, cfg.API.Listen); err != nil {
				logger.WithError(err).Error("API server failed")
				cancel()
			}
		}()
	}

	if cfg.Relay.Enabled {
		nc, err := relay.Connect(cfg.Relay)
		if err != nil {
			return err
		}
		defer nc.Close()

		r, err := relay.New(nc, eng.Feed(), relay.Options{
			Subject:  cfg.Relay.Subject,
			Interval: cfg.Relay.Interval,
			Top:      cfg.Relay.Top,
			Encoding: cfg.Relay.Encoding,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				logger.WithError(err).Error("relay stopped")
			}
		}()
	}

	if !cfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchSession(ctx, eng, cancel, cfg.Aggregation.TickInterval)
		}()
	}

	if cfg.Render.Enabled {
		r := console.New(out, eng.Feed(), eng.Status, cfg.Render)
		if err := r.Run(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	if st := eng.Status(); st.State == engine.Faulted {
		return fmt.Errorf("capture faulted: %w", st.Err)
	}
	return nil
}

// watchSession cancels once the session leaves Running without a command:
// the capture file was exhausted or the device faulted.
func watchSession(ctx context.Context, eng *engine.Engine, cancel context.CancelFunc, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch eng.Status().State {
			case engine.Stopped, engine.Faulted:
				cancel()
				return
			}
		}
	}
}
