// Command histeq equalizes the histogram of grayscale images on a GPU or on
// the CPU.
//
// Usage:
//
//	histeq equalize -i in.pgm -o out.png [--backend auto|gpu|cpu]
//	histeq histogram in.pgm
//	histeq stats in.pgm out.png
//
// Settings are read from an optional TOML file (--config), then from
// HISTEQ_* environment variables, then from flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gogpu/histeq"
	"github.com/gogpu/histeq/gpu"
	"github.com/gogpu/histeq/internal/config"
	"github.com/gogpu/histeq/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	server   *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "histeq",
		Short:        "Histogram equalization of grayscale images",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.shutdown()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "TOML configuration file")
	f.String("backend", config.BackendAuto, "compute backend: auto, gpu or cpu")
	f.Int("platform", 0, "GPU platform index")
	f.Int("device", -1, "GPU device index (negative selects automatically)")
	f.Int("workers", 0, "software device workers (0 = GOMAXPROCS)")
	f.Int("scan-width", histeq.DefaultScanWidth, "scan work-group width")
	f.String("degenerate", histeq.DegenerateIdentity.String(), "constant image policy: identity or saturate")
	f.Duration("fence-timeout", gpu.DefaultFenceTimeout, "GPU completion timeout")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.String("log-level", "warn", "log level: debug, info, warn or error")
	f.BoolP("verbose", "v", false, "print diagnostics")

	root.AddCommand(
		newEqualizeCmd(a),
		newHistogramCmd(a),
		newStatsCmd(a),
	)
	return root
}

// setup loads the configuration, applies changed flags and starts logging
// and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if cfg.Logging.Verbose && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	histeq.SetLogger(a.logger)

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("backend", func() (e error) { cfg.Device.Backend, e = f.GetString("backend"); return })
	set("platform", func() (e error) { cfg.Device.Platform, e = f.GetInt("platform"); return })
	set("device", func() (e error) { cfg.Device.Index, e = f.GetInt("device"); return })
	set("workers", func() (e error) { cfg.Device.Workers, e = f.GetInt("workers"); return })
	set("scan-width", func() (e error) { cfg.Kernel.ScanWidth, e = f.GetInt("scan-width"); return })
	set("degenerate", func() (e error) { cfg.Kernel.Degenerate, e = f.GetString("degenerate"); return })
	set("fence-timeout", func() error {
		d, e := f.GetDuration("fence-timeout")
		cfg.Device.FenceTimeout = config.Duration(d)
		return e
	})
	set("metrics-addr", func() (e error) { cfg.Metrics.Addr, e = f.GetString("metrics-addr"); return })
	set("log-level", func() (e error) { cfg.Logging.Level, e = f.GetString("log-level"); return })
	set("verbose", func() (e error) { cfg.Logging.Verbose, e = f.GetBool("verbose"); return })
	return err
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("histeq: metrics server", "err", err)
		}
	}()
	a.logger.Info("histeq: serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) shutdown() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// newEqualizer creates an Equalizer for the configured backend.
func (a *app) newEqualizer() (*histeq.Equalizer, error) {
	cfg := a.cfg
	opts := []histeq.Option{
		histeq.WithScanWidth(cfg.Kernel.ScanWidth),
		histeq.WithDegeneratePolicy(cfg.Policy()),
		histeq.WithWorkers(cfg.Device.Workers),
		histeq.WithProfiler(a.metrics),
		histeq.WithLogger(a.logger),
	}
	if cfg.Device.Backend != config.BackendCPU {
		opts = append(opts, histeq.WithDevice(gpu.NewDevice(gpu.Config{
			Platform:     cfg.Device.Platform,
			Device:       cfg.Device.Index,
			ScanWidth:    cfg.Kernel.ScanWidth,
			FenceTimeout: time.Duration(cfg.Device.FenceTimeout),
		})))
	}

	eq, err := histeq.New(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Device.Backend == config.BackendGPU && !strings.HasPrefix(eq.Device().Name(), "gpu") {
		_ = eq.Close()
		return nil, fmt.Errorf("backend gpu: %w", histeq.ErrFallbackToCPU)
	}
	return eq, nil
}
