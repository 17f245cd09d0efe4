// Package api provides the HTTP server for ShiftPipe.
//
// It exposes the Twilio webhooks, the outbound campaign endpoints, the
// conversation listing and cleanup, and registration-code administration.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/dispatch"
	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	healthTimeout     = 5 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr   string
	Twilio *messaging.TwilioService
	Clock  func() time.Time
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilio mounts the Twilio inbound and status webhooks.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = svc }
}

// WithClock sets the time source used in health reports.
func WithClock(c func() time.Time) Option {
	return func(o *Opts) { o.Clock = c }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	st         store.Store
	dispatcher *dispatch.Dispatcher
	twilio     *messaging.TwilioService
	addr       string
	now        func() time.Time
	mux        *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(st store.Store, d *dispatch.Dispatcher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Server{
		st:         st,
		dispatcher: d,
		twilio:     cfg.Twilio,
		addr:       cfg.Addr,
		now:        cfg.Clock,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.twilio != nil {
		s.mux.HandleFunc("POST /webhooks/twilio", s.twilio.WebhookHandler)
		s.mux.HandleFunc("POST /webhooks/twilio/status", s.twilio.StatusCallbackHandler)
	}

	s.mux.HandleFunc("POST /campaigns/shift-notification", s.shiftNotificationHandler)
	s.mux.HandleFunc("POST /campaigns/overtime", s.overtimeHandler)
	s.mux.HandleFunc("POST /workers/{id}/contact", s.contactUpdateHandler)

	s.mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	s.mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	s.mux.HandleFunc("POST /conversations/cleanup", s.cleanupHandler)

	s.mux.HandleFunc("GET /codes", s.listCodesHandler)
	s.mux.HandleFunc("POST /codes", s.addCodeHandler)
	s.mux.HandleFunc("DELETE /codes/{code}", s.deactivateCodeHandler)

	s.mux.HandleFunc("GET /receipts", s.receiptsHandler)
	s.mux.HandleFunc("GET /health", s.healthHandler)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
