// server.go - Bootstrapper and HTTP server lifecycle.
//
// Startup order is the point of this file: bind the listener, connect
// storage, migrate, build the rate limiter against the ready store, and
// only then flip to Serving so the pipeline's gate starts admitting
// store-dependent routes. Liveness and health answer from the moment the
// listener is bound.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gatehouse/internal/db"
)

// BootState tracks the bootstrapper's progress.
type BootState int32

const (
	BootIdle BootState = iota
	BootListenerBound
	BootStorageConnecting
	BootStorageConnected
	BootRateLimiterReady
	BootServing
)

func (s BootState) String() string {
	switch s {
	case BootIdle:
		return "idle"
	case BootListenerBound:
		return "listener_bound"
	case BootStorageConnecting:
		return "storage_connecting"
	case BootStorageConnected:
		return "storage_connected"
	case BootRateLimiterReady:
		return "rate_limiter_ready"
	case BootServing:
		return "serving"
	default:
		return "unknown"
	}
}

// Server owns the connector, the rate limiter and the HTTP listener.
// The pipeline only sees read-only accessors.
type Server struct {
	cfg        Config
	httpServer *http.Server
	conn       *Connector

	state atomic.Int32

	mu        sync.RWMutex
	limiter   *rateLimiter
	boundAddr string
}

// New builds the server and its handler chain. No I/O happens here.
func New(cfg Config) *Server {
	s := &Server{
		cfg:  cfg,
		conn: NewConnector(cfg.DatabaseURL),
	}

	pipeline := NewPipeline(cfg.CORSOrigins, func() bool {
		return s.BootState() == BootServing
	}, s.Limiter)
	s.registerRoutes(pipeline)

	// Liveness and health sit outside the pipeline; everything else
	// goes through the staged path.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/live", s.HandleLive)
	mux.HandleFunc("/api/v1/health", s.HandleHealth)
	mux.Handle("/", pipeline)

	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestContextMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// BootState returns the current bootstrap state.
func (s *Server) BootState() BootState {
	return BootState(s.state.Load())
}

// Addr returns the bound listener address once the listener is up;
// before that, the configured address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.httpServer.Addr
}

// Limiter returns the rate limiter, or nil before RateLimiterReady.
// The pipeline holds this accessor, never the limiter itself.
func (s *Server) Limiter() *rateLimiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter
}

func (s *Server) transition(to BootState) {
	from := BootState(s.state.Swap(int32(to)))
	Log().Info("bootstrap transition", map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

// Start runs the boot sequence and then blocks serving requests until
// Shutdown or a listener error. Any boot failure is returned to main,
// which exits non-zero: the service must not take traffic without a
// functional rate limiter behind it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return Wrap(KindUpstream, "listener bind failed", err)
	}
	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()
	s.transition(BootListenerBound)

	// Serve immediately so liveness and health respond during boot;
	// the pipeline gate keeps store-dependent routes closed.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	s.transition(BootStorageConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cerr := s.conn.Connect(ctx); cerr != nil {
		_ = s.httpServer.Close()
		return cerr
	}
	s.transition(BootStorageConnected)

	if err := db.RunMigrations(s.conn.DB()); err != nil {
		_ = s.httpServer.Close()
		return Wrap(KindUpstream, "migrations failed", err)
	}

	rl, rerr := newRateLimiter(s.conn, s.cfg.Rate)
	if rerr != nil {
		_ = s.httpServer.Close()
		return rerr
	}
	s.mu.Lock()
	s.limiter = rl
	s.mu.Unlock()
	s.transition(BootRateLimiterReady)

	s.transition(BootServing)
	Log().Info("serving", map[string]interface{}{
		"addr":    s.httpServer.Addr,
		"version": s.cfg.Version,
		"commit":  s.cfg.Commit,
	})

	serveErr := <-errCh
	if serveErr == http.ErrServerClosed {
		return nil
	}
	return serveErr
}

// Shutdown drains in-flight requests, then releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
