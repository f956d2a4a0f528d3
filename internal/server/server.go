// Package server provides the HTTP API of the metric store.
//
// The server accepts record writes, streams reads back as NDJSON, triggers
// day compaction and expansion, and exposes statistics and Prometheus
// metrics.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/metricstore/config"
	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/metrics"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/backpressure"
	storecfg "github.com/xtxerr/metricstore/internal/storage/config"
)

var log = logging.Component("server")

// =============================================================================
// Rate Limiter for Rejected Requests
// =============================================================================

// RateLimiter counts REJECTED requests per client address per time window.
// Accepted requests are not counted. Once a client reaches the limit it is
// blocked until its window expires.
//
// Flow:
//  1. Request arrives
//  2. Check IsBlocked() - if true, reject with 429
//  3. Serve the request
//  4. If the response is a client error: call RecordFailure()
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int           // max rejections before blocking
	window   time.Duration // time window for counting rejections

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count     int       // number of rejected requests
	resetTime time.Time // when this entry expires
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - limit: maximum rejected requests before blocking, 0 disables blocking
//   - window: time window for counting rejections (e.g., 1 minute)
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// IsBlocked returns true if the address has exceeded the rejection limit.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	if rl.limit <= 0 {
		return false
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return false
	}

	// Check if window has expired
	if time.Now().After(entry.resetTime) {
		return false
	}

	return entry.count >= rl.limit
}

// RecordFailure records a rejected request.
func (rl *RateLimiter) RecordFailure(ip string) {
	if rl.limit <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.failures[ip]

	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return
	}

	entry.count++
}

// Reset clears the rejection count for an address.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// GetFailureCount returns the current rejection count for an address.
func (rl *RateLimiter) GetFailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return 0
	}

	if time.Now().After(entry.resetTime) {
		return 0
	}

	return entry.count
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Store is the metric store (required).
	Store *storage.Store

	// Metrics receives request metrics and serves /metrics. Optional.
	Metrics *metrics.Metrics

	// Listen is the address to listen on (e.g., "127.0.0.1:8428").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// HTTP settings.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64

	// RejectLimit is the number of rejected requests per minute before a
	// client is blocked. Zero disables blocking.
	RejectLimit int

	// Backpressure turns away writes while too many request bytes are in
	// flight.
	Backpressure storecfg.BackpressureConfig
}

// ConfigFrom builds a server configuration from the file configuration.
func ConfigFrom(store *storage.Store, m *metrics.Metrics, sc storecfg.ServerConfig) *Config {
	return &Config{
		Store:           store,
		Metrics:         m,
		Listen:          sc.Listen,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		MaxBodySize:     sc.MaxBodySize,
		RejectLimit:     sc.RejectLimit,
		Backpressure:    sc.Backpressure,
	}
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP API server.
type Server struct {
	cfg     *Config
	store   *storage.Store
	metrics *metrics.Metrics
	router  *mux.Router
	rejects *RateLimiter

	inflight *backpressure.Inflight
	pressure *backpressure.Controller

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener

	startTime time.Time
}

// New creates a new server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, errors.NewMissingField("store")
	}

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = config.DefaultMaxBodySize
	}

	s := &Server{
		cfg:       cfg,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		router:    mux.NewRouter(),
		rejects:   NewRateLimiter(cfg.RejectLimit, time.Minute),
		startTime: time.Now(),
	}

	s.inflight = backpressure.NewInflight(cfg.Backpressure.MaxInflightBytes)
	s.pressure = backpressure.New(cfg.Backpressure, s.inflight)
	s.pressure.SetOnLevelChange(func(old, new backpressure.Level) {
		log.Warn("backpressure level changed", "from", old.String(), "to", new.String())
		if s.metrics != nil {
			s.metrics.BackpressureLevel.Set(float64(new))
		}
	})

	s.routes()

	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts listening and blocks until Shutdown is called.
func (s *Server) Run() error {
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", ln.Addr().String())
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the listen address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully. In-flight requests get until ctx
// is done or the configured shutdown timeout elapses.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")
	defer s.rejects.Stop()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
