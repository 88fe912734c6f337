package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/lmserver/pkg/catalog"
	"mercator-hq/lmserver/pkg/cli"
	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/ledger"
	"mercator-hq/lmserver/pkg/selection"
	"mercator-hq/lmserver/pkg/server"
	"mercator-hq/lmserver/pkg/telemetry/health"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
	"mercator-hq/lmserver/pkg/telemetry/tracing"
	"mercator-hq/lmserver/pkg/upstream"
)

var runFlags struct {
	host     string
	port     int
	nonce    string
	logLevel string
	printEnv bool
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Messages API listener",
	Long: `Start the Messages API listener with the specified configuration.

The listener binds 127.0.0.1 on an OS-assigned port unless --port is given
and prints the address and the nonce clients must send as x-api-key.

Examples:
  # Start with defaults
  lmserver run

  # Start and print shell exports for a Messages API client
  lmserver run --print-env

  # Use a fixed port and nonce
  lmserver run --port 8123 --nonce claude-lm-dev

  # Validate config without starting the listener
  lmserver run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.host, "host", "", "override bind host")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override bind port (0 picks a free port)")
	runCmd.Flags().StringVar(&runFlags.nonce, "nonce", "", "override the client nonce")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.printEnv, "print-env", false, "print only shell exports for ANTHROPIC_BASE_URL and ANTHROPIC_API_KEY")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the listener")
}

func runServer(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg, err := applyRunOverrides(loaded, cmd)
	if err != nil {
		return err
	}
	config.SetConfig(cfg)

	logger, err := setupLogging(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	// Banners go to stderr with --print-env so stdout can be eval'd.
	out := io.Writer(os.Stdout)
	if runFlags.printEnv {
		out = os.Stderr
	}
	fmt.Fprintf(out, "lmserver v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	checker := health.New(2 * time.Second)
	collector, stopMetrics, err := startMetrics(&cfg.Telemetry.Metrics, checker, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer stopMetrics()
	if collector != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Telemetry.Metrics.ListenAddress, cfg.Telemetry.Metrics.Path)
		fmt.Fprintf(out, "✓ Health endpoints: http://%s%s, %s\n", cfg.Telemetry.Metrics.ListenAddress, health.LivenessPath, health.ReadinessPath)
	}

	provider, err := catalog.New(&cfg.Catalog, nil, collector)
	if err != nil {
		return cli.NewConfigError("catalog.source", err.Error())
	}
	if remote, ok := provider.(*catalog.Remote); ok {
		if err := remote.Start(ctx); err != nil {
			return cli.NewConfigError("catalog.remote.refresh_schedule", err.Error())
		}
		defer remote.Stop()
	}
	checker.Register("catalog", health.CatalogCheck(provider))
	fmt.Fprintf(out, "✓ Catalog initialized (source %s)\n", cfg.Catalog.Source)

	recorder, closeLedger, err := startLedger(ctx, &cfg.Ledger, collector, checker, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer closeLedger()
	if recorder != nil {
		fmt.Fprintf(out, "✓ Usage ledger initialized (%s)\n", cfg.Ledger.Backend)
	}

	srv, err := newServer(cfg, provider, recorder, collector, tracer.Tracer(), logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	checker.Register("listener", health.ListenerCheck(srv.Running))

	if runFlags.printEnv {
		for _, line := range envExports(srv.GetConfig()) {
			fmt.Println(line)
		}
	} else {
		printListening(out, srv.GetConfig())
	}

	reload := func(c *config.Config) {
		srv.SetSelector(selection.FromConfig(c.Selection))
		if static, ok := provider.(*catalog.Static); ok {
			static.Update(c.Catalog.Endpoints)
		}
		logger.Info("configuration reloaded",
			"endpoints", len(c.Catalog.Endpoints),
			"selection_rules", len(c.Selection.Rules),
		)
	}

	if cfg.Catalog.Watch && cfgFile != "" {
		fw, err := config.NewFileWatcher(cfgFile, 0, logger)
		if err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			go func() {
				if err := fw.Watch(ctx, reload); err != nil {
					logger.Error("config watcher stopped", "error", err)
				}
			}()
			defer fw.Stop()
		}
	}

	hup, stopHup := cli.ReloadSignals()
	defer stopHup()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nShutting down gracefully...")
			if err := srv.Stop(); err != nil {
				logger.Error("shutdown failed", "error", err)
				return cli.NewCommandError("run", err)
			}
			fmt.Fprintln(out, "✓ Server stopped")
			return nil
		case <-hup:
			if cfgFile == "" {
				logger.Warn("reload requested but no config file is in use")
				continue
			}
			c, err := config.ReloadConfig(cfgFile)
			if err != nil {
				logger.Error("reload failed, keeping current configuration", "error", err)
				continue
			}
			reload(c)
		}
	}
}

// newServer wires the upstream fetcher and the Messages listener around an
// already initialized catalog, recorder and collector. A nil recorder or
// collector disables the ledger or metrics.
func newServer(cfg *config.Config, provider catalog.Provider, recorder *ledger.Recorder, collector *metrics.Collector, tracer trace.Tracer, logger *slog.Logger) (*server.Server, error) {
	fetcher := upstream.NewFetcher(upstream.Config{
		Timeout:             cfg.Upstream.Timeout,
		MaxRetries:          cfg.Upstream.MaxRetries,
		RetryBackoff:        cfg.Upstream.RetryBackoff,
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
		InitiatorHeader:     cfg.Upstream.InitiatorHeader,
		Tracer:              tracer,
		Logger:              logger,
	})

	return server.New(server.Deps{
		Catalog:  provider,
		Fetcher:  fetcher,
		Selector: selection.FromConfig(cfg.Selection),
		Ledger:   recorder,
		Metrics:  collector,
		Tracer:   tracer,
		Logger:   logger,
	}, server.OptionsFromConfig(&cfg.Server))
}

// applyRunOverrides returns a copy of cfg with the run flags applied and
// validated. The loaded configuration is left untouched.
func applyRunOverrides(loaded *config.Config, cmd *cobra.Command) (*config.Config, error) {
	cfg := *loaded
	if runFlags.host != "" {
		cfg.Server.Host = runFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = runFlags.port
	}
	if runFlags.nonce != "" {
		cfg.Server.Nonce = runFlags.nonce
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// startMetrics serves the collector's registry and the health checks on
// their own listener. A disabled configuration yields a nil collector, which
// records nothing.
func startMetrics(cfg *config.MetricsConfig, checker *health.Checker, logger *slog.Logger) (*metrics.Collector, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	collector := metrics.NewCollector(cfg, prometheus.NewRegistry())
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())
	health.Mount(mux, checker, health.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen for metrics on %s: %w", cfg.ListenAddress, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	logger.Info("metrics listener started", "address", ln.Addr().String(), "path", cfg.Path)

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics listener shutdown failed", "error", err)
		}
	}, nil
}

// startLedger opens the store, starts the async recorder and schedules
// retention pruning. The returned function releases all three.
func startLedger(ctx context.Context, cfg *config.LedgerConfig, collector *metrics.Collector, checker *health.Checker, logger *slog.Logger) (*ledger.Recorder, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	checker.Register("ledger", health.LedgerCheck(store))
	recorder := ledger.NewRecorder(store, ledger.RecorderConfig{
		AsyncBuffer:  cfg.AsyncBuffer,
		WriteTimeout: cfg.WriteTimeout,
	}, collector)

	pruner := ledger.NewPruner(store, cfg.Retention)
	if err := pruner.Start(ctx); err != nil {
		logger.Warn("failed to start retention scheduler", "error", err)
	} else if next := pruner.NextRun(); next != nil {
		logger.Debug("ledger retention scheduler started", "next_run", next)
	}

	return recorder, func() {
		pruner.Stop()
		if err := recorder.Close(); err != nil {
			logger.Warn("failed to drain usage ledger", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("failed to close usage ledger", "error", err)
		}
	}, nil
}

// baseURL is the address Messages API clients are pointed at.
func baseURL(c server.Config) string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// envExports returns shell lines configuring a Messages API client for the
// listener.
func envExports(c server.Config) []string {
	return []string{
		"export ANTHROPIC_BASE_URL=" + shellQuote(baseURL(c)),
		"export ANTHROPIC_API_KEY=" + shellQuote(c.Nonce),
	}
}

func printListening(w io.Writer, c server.Config) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ Listening on %s\n", baseURL(c))
	fmt.Fprintf(w, "✓ Port: %d\n", c.Port)
	fmt.Fprintf(w, "✓ Nonce: %s\n", c.Nonce)
	fmt.Fprintln(w, "\nConfigure a Messages API client with:")
	for _, line := range envExports(c) {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}

// shellQuote single-quotes s unless it only holds characters that are safe
// unquoted in POSIX shells.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case strings.ContainsRune("-_./:@%+=,", r):
			return false
		}
		return true
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
