package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FarmLedger/EnrollPipe/internal/flow"
	"github.com/FarmLedger/EnrollPipe/internal/messaging"
	"github.com/FarmLedger/EnrollPipe/internal/store"
)

// Constants for server configuration
const (
	// DefaultAddr is the default listen address for the HTTP server.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on stop.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow-header clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address for the HTTP server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithShutdownTimeout overrides the graceful shutdown timeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server wires the registration engine, the store and a messaging service
// behind the HTTP endpoints.
type Server struct {
	msgService messaging.Service
	st         store.Store
	engine     *flow.Engine
	dispatcher *messaging.Dispatcher

	addr            string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer creates an API server from its dependencies.
func NewServer(msgService messaging.Service, st store.Store, engine *flow.Engine, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("api.NewServer: creating server", "addr", cfg.Addr)
	return &Server{
		msgService:      msgService,
		st:              st,
		engine:          engine,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Handler builds the HTTP mux for the server endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/sessions/", s.sessionsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the messaging service, the dispatcher and the HTTP server, and
// blocks until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	s.dispatcher = messaging.NewDispatcher(s.msgService, s.engine)
	s.dispatcher.Start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: HTTP server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutdown requested")
		return s.shutdown()
	case err := <-errCh:
		slog.Error("Server.Run: HTTP server failed", "error", err)
		s.stopMessaging()
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// shutdown drains the HTTP server and stops the messaging service.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.shutdown: HTTP shutdown failed", "error", err)
		firstErr = fmt.Errorf("HTTP shutdown failed: %w", err)
	}
	if err := s.stopMessaging(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		slog.Info("Server.shutdown: server stopped cleanly")
	}
	return firstErr
}

func (s *Server) stopMessaging() error {
	if err := s.msgService.Stop(); err != nil {
		slog.Error("Server.stopMessaging: failed to stop messaging service", "error", err)
		return fmt.Errorf("failed to stop messaging service: %w", err)
	}
	if s.dispatcher != nil {
		<-s.dispatcher.Done()
	}
	return nil
}
