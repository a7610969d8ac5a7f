package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/abelbrown/arcana/internal/ai"
	"github.com/abelbrown/arcana/internal/config"
	"github.com/abelbrown/arcana/internal/engine"
	"github.com/abelbrown/arcana/internal/insight"
	"github.com/abelbrown/arcana/internal/logging"
	"github.com/abelbrown/arcana/internal/otel"
)

// options are the persistent flags plus the config they resolve to.
type options struct {
	configPath  string
	logLevel    string
	metricsAddr string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "arcana",
		Short: "Tarot readings in the terminal",
		Long: `arcana deals tarot spreads and asks an AI reader for an insight into the
area of life you pick. Run without a subcommand to open the terminal UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", config.ConfigPath(), "config file")
	f.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(
		newTUICmd(opts),
		newInsightCmd(opts),
		newHistoryCmd(opts),
		newFlagsCmd(opts),
		newEventsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *options) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	o.cfg = cfg
	return nil
}

// runtime is what every command that runs reducers shares: the event log,
// engine metrics and the AI client.
type runtime struct {
	cfg     *config.Config
	events  *otel.Logger
	ring    *otel.RingBuffer
	metrics *engine.Metrics
	client  ai.Client

	closers []func()
}

// start sets up logging, the event log, metrics and the AI client. File
// logging is used when stderr belongs to a full-screen UI.
func (o *options) start(ctx context.Context, name string, logToFile bool) (*runtime, error) {
	cfg := o.cfg
	level := logging.ParseLevel(cfg.LogLevel)
	rt := &runtime{cfg: cfg}

	if logToFile {
		if err := logging.Init(cfg.LogDir(), level); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, logging.Close)
	} else {
		logging.InitWriter(os.Stderr, level)
	}

	f, err := os.OpenFile(cfg.EventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open event log: %w", err)
	}
	rt.events = otel.NewLogger(f)
	rt.ring = otel.NewRingBuffer(512)
	rt.events.SetRingBuffer(rt.ring)
	rt.closers = append(rt.closers, func() { f.Close() }, rt.events.Close)
	rt.events.Info(otel.KindStartup, "main", name)

	reg := prometheus.NewRegistry()
	rt.metrics = engine.NewMetrics(reg)
	if o.metricsAddr != "" {
		rt.closers = append(rt.closers, serveMetrics(o.metricsAddr, reg))
	}

	rt.client, err = ai.New(ctx, cfg.AI)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("ai client: %w", err)
	}
	logging.Info("runtime ready", "command", name, "provider", cfg.AI.Provider, "session", rt.events.SessionID())
	return rt, nil
}

func (rt *runtime) insightEnv() insight.Environment {
	return insight.Environment{
		Client:  rt.client,
		Timeout: rt.cfg.Insight.Timeout,
		Events:  rt.events,
	}
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	rt.events.Info(otel.KindShutdown, "main", "")
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	logging.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
