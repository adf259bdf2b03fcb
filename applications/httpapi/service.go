package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/orbitline/sessioncore/pkg/identity"
	"github.com/orbitline/sessioncore/pkg/logger"
	"github.com/orbitline/sessioncore/pkg/metrics"
)

// Service binds the routed mux to a listening address and fits the same
// start/stop lifecycle the teacher's system-managed services expose.
type Service struct {
	addr    string
	handler http.Handler
	log     *logger.Logger

	mu      sync.Mutex
	server  *http.Server
	running bool
	bound   string
}

// NewService wraps NewHandler's mux with auth parsing, CORS, and request
// metrics, in that order: CORS must see preflight OPTIONS before auth runs,
// and metrics wraps the fully-assembled handler so every route is counted.
func NewService(addr string, deps Deps, validator *identity.Validator) *Service {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("http")
	}
	h := NewHandler(deps)
	h = wrapWithAuth(h, validator, deps.Log)
	h = wrapWithCORS(h)
	h = metrics.InstrumentHandler(h)
	return &Service{addr: addr, handler: h, log: deps.Log}
}

// Start binds the listener and serves in the background; it returns once
// the socket is bound, before the first request is accepted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.running = true
	s.server = server
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err).Error("http server error")
		}
		s.mu.Lock()
		if s.server == server {
			s.running = false
			s.bound = ""
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop gracefully drains in-flight requests within ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	s.mu.Lock()
	s.running = false
	s.bound = ""
	s.mu.Unlock()
	return err
}

// Addr returns the bound address once Start has succeeded, or the
// configured address beforehand.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// Ready reports whether the server is currently accepting connections.
func (s *Service) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("http server not running")
	}
	return nil
}
