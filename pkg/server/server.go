package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/lmserver/pkg/catalog"
	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/ledger"
	"mercator-hq/lmserver/pkg/selection"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
	"mercator-hq/lmserver/pkg/upstream"
)

// NoncePrefix starts every generated nonce.
const NoncePrefix = "claude-lm-"

// Deps are the collaborators a Server orchestrates. Catalog and Fetcher are
// required; the rest are optional.
type Deps struct {
	Catalog  catalog.Provider
	Fetcher  *upstream.Fetcher
	Selector *selection.Selector

	// Ledger receives one entry per request that reached an upstream.
	Ledger *ledger.Recorder

	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Options configure the listener and the per-request overrides.
type Options struct {
	Host  string
	Port  int
	Nonce string

	UserAgentPrefix string
	MaxPromptTokens int
	MaxOutputTokens int
	MaxBodyBytes    int64

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// OptionsFromConfig maps the server section of the configuration.
func OptionsFromConfig(cfg *config.ServerConfig) Options {
	return Options{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Nonce:             cfg.Nonce,
		UserAgentPrefix:   cfg.UserAgentPrefix,
		MaxPromptTokens:   cfg.MaxPromptTokens,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}
}

// Config is a snapshot of the listener state handed to clients.
type Config struct {
	Host  string
	Port  int
	Nonce string
}

// Server is the loopback Messages API listener.
type Server struct {
	deps     Deps
	opts     Options
	selector atomic.Pointer[selection.Selector]
	tracer   trace.Tracer
	logger   *slog.Logger
	handler  http.Handler

	mu         sync.Mutex
	config     Config
	httpServer *http.Server
	done       chan struct{}
}

// New creates a Server. A nonce is generated when opts.Nonce is empty.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Catalog == nil {
		return nil, errors.New("server: catalog is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("server: fetcher is required")
	}

	if opts.Host == "" {
		opts.Host = config.DefaultHost
	}
	if opts.Nonce == "" {
		opts.Nonce = NoncePrefix + uuid.NewString()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("lmserver/server")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		tracer: tracer,
		logger: logger.With("component", "server"),
		config: Config{Host: opts.Host, Port: opts.Port, Nonce: opts.Nonce},
	}
	sel := deps.Selector
	if sel == nil {
		sel = selection.New(selection.DefaultRules())
	}
	s.selector.Store(sel)
	s.handler = s.routes()
	return s, nil
}

// Start binds the listener and serves in the background. It returns once
// the port is known. Calling Start on a running server does nothing. The
// server stops when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return nil
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.config.Port = tcp.Port
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	done := make(chan struct{})
	s.httpServer = srv
	s.done = done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		if err := s.Stop(); err != nil {
			s.logger.Warn("failed to stop server", "error", err)
		}
	})

	s.logger.Info("server started", "address", ln.Addr().String())
	return nil
}

// Stop closes the listener and waits up to the shutdown timeout for
// in-flight streams before closing them. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.httpServer = nil
	s.done = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections", "error", err)
		_ = srv.Close()
		shutdownErr = fmt.Errorf("server shutdown: %w", err)
	}
	<-done

	s.logger.Info("server stopped")
	return shutdownErr
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer != nil
}

// GetConfig returns a copy of the current listener state.
func (s *Server) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Addr returns host:port of the bound listener, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return ""
	}
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetSelector replaces the selection rules used by subsequent requests.
func (s *Server) SetSelector(sel *selection.Selector) {
	if sel != nil {
		s.selector.Store(sel)
	}
}

// Selector returns the selector in use.
func (s *Server) Selector() *selection.Selector {
	return s.selector.Load()
}
