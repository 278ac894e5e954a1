package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/middleware"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-brain/internal/tracing"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the brain over HTTP.
type Server struct {
	config *Config
	brain  engine.Brain
	store  Pinger
	logger *zap.Logger

	limiter    *middleware.RateLimiter
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates a server. store may be nil when no archive is configured.
func NewServer(cfg *Config, brain engine.Brain, store Pinger, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if brain == nil {
		return nil, fmt.Errorf("brain cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config: cfg,
		brain:  brain,
		store:  store,
		logger: logger.Named("server"),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	}
	return s, nil
}

// Handler returns the traced route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return tracing.Middleware(mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("brain server started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("rate_limit_per_minute", s.config.RateLimitPerMinute),
		zap.Bool("archive", s.store != nil),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.logger.Info("brain server stopped")
	return err
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
