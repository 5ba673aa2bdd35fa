// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package callback serves the local login pages the browser talks to and
// forwards form submissions to the auth session.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/holomush/wgcauth/internal/auth"
)

// DefaultAddr is the loopback address the login page is served on.
const DefaultAddr = "127.0.0.1:13337"

// Submission throttle defaults.
const (
	DefaultSubmitRate  = rate.Limit(1)
	DefaultSubmitBurst = 5
)

// maxFormBytes caps POST bodies.
const maxFormBytes = 64 << 10

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("callback server already running")
	// ErrNotRunning is returned by Stop on a stopped server.
	ErrNotRunning = errors.New("callback server not running")
)

// Authenticator is the session the form handlers drive.
type Authenticator interface {
	Authenticate(ctx context.Context, realm, email, password string) auth.Outcome
	SubmitSecondFactor(ctx context.Context, code string) auth.Outcome
}

// Config configures a Server. Zero values select defaults.
type Config struct {
	Addr string
	// PagesDir overrides built-in pages with <name>.html files found there.
	PagesDir    string
	SubmitRate  rate.Limit
	SubmitBurst int
	Logger      *slog.Logger
}

// Server is the loopback login server.
type Server struct {
	addr    string
	auth    Authenticator
	pages   *pageSet
	limiter *rate.Limiter
	logger  *slog.Logger
	handler http.Handler

	running atomic.Bool

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	done       chan struct{}
}

// New creates a Server for authenticator. The address must be loopback.
func New(authenticator Authenticator, cfg Config) (*Server, error) {
	if authenticator == nil {
		return nil, oops.Code("CONFIG_MISSING_DEPENDENCY").With("dependency", "authenticator").Errorf("authenticator is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if err := ValidateAddr(cfg.Addr); err != nil {
		return nil, err
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = DefaultSubmitRate
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = DefaultSubmitBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pages, err := newPageSet(cfg.PagesDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		addr:    cfg.Addr,
		auth:    authenticator,
		pages:   pages,
		limiter: rate.NewLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		logger:  cfg.Logger,
	}
	s.handler = s.routes()
	return s, nil
}

// ValidateAddr checks that addr is host:port with a loopback host.
func ValidateAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return oops.Code("CONFIG_INVALID_CALLBACK_ADDR").With("addr", addr).Wrap(err)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return oops.Code("CONFIG_INVALID_CALLBACK_ADDR").With("addr", addr).Errorf("callback address must be loopback")
	}
	return nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves in a background goroutine.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return oops.Code("CALLBACK_ALREADY_RUNNING").With("addr", s.addr).Wrap(ErrAlreadyRunning)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return oops.Code("CALLBACK_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpSrv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("callback server error", "error", serveErr)
		}
	}()

	s.logger.Info("callback server started", "addr", listener.Addr().String())
	return nil
}

// Stop shuts the server down and waits for the serve goroutine to exit.
// If ctx expires first, open connections are closed forcibly.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return oops.Code("CALLBACK_NOT_RUNNING").With("addr", s.addr).Wrap(ErrNotRunning)
	}

	s.mu.Lock()
	httpSrv, done := s.httpServer, s.done
	s.listener = nil
	s.mu.Unlock()

	shutdownErr := httpSrv.Shutdown(ctx)
	if shutdownErr != nil {
		_ = httpSrv.Close()
	}
	<-done

	s.logger.Info("callback server stopped")
	if shutdownErr != nil {
		return oops.With("operation", "shutdown_callback_server").Wrap(shutdownErr)
	}
	return nil
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the login page URL, or "" when stopped.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr + "/login"
}
