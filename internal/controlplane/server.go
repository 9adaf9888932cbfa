// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controlplane serves nodectl controllers over HTTP so that a
// process without local access to node binaries can drive them through a
// remote controller.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/tracing"
	"github.com/tombee/nodectl/pkg/nodectl"
)

const (
	// DefaultPort is the port remote controllers expect by default.
	DefaultPort = 43134

	// DefaultShutdownTimeout bounds Close.
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds the server settings.
type Config struct {
	Host string
	Port int

	// APIKey, when set, is required as a bearer token on node routes
	APIKey string

	// SpawnRate limits POST /spawn to this many requests per second
	// (0 disables the limit) with SpawnBurst capacity
	SpawnRate  float64
	SpawnBurst int

	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg      Config
	factory  *nodectl.Factory
	registry *Registry
	limiter  *rate.Limiter
	logger   *slog.Logger
	handler  http.Handler

	httpServer *http.Server
	listener   net.Listener
}

// New returns a server that spawns controllers from factory.
func New(factory *nodectl.Factory, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		cfg:      cfg,
		factory:  factory,
		registry: NewRegistry(),
		logger:   log.WithComponent(logger, "controlplane"),
	}
	if cfg.SpawnRate > 0 {
		burst := cfg.SpawnBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SpawnRate), burst)
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST /spawn", s.handleSpawn)
	s.handle(mux, "POST /init", s.handleInit)
	s.handle(mux, "POST /start", s.handleStart)
	s.handle(mux, "POST /stop", s.handleStop)
	s.handle(mux, "POST /cleanup", s.handleCleanup)
	s.handle(mux, "GET /pid", s.handlePID)
	s.handle(mux, "GET /version", s.handleVersion)
	s.handle(mux, "GET /util/tmp-dir", s.handleTmpDir)
	s.handle(mux, "GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Outermost first: request log, server span, auth, routes.
	var h http.Handler = requireAPIKey(cfg.APIKey, mux)
	h = tracing.Middleware(h)
	s.handler = log.HTTPMiddleware(s.logger)(h)
	return s
}

// handle registers fn and counts its responses by route and status.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	_, route, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.RecordRequest(route, strconv.Itoa(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the server's HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the id registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control plane stopped", log.Error(err))
		}
	}()
	s.logger.Info("control plane listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has run.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// Endpoint returns the base URL remote controllers should use.
func (s *Server) Endpoint() string {
	return "http://" + s.Addr()
}

// Close stops accepting requests, then stops and cleans every node the
// server spawned.
func (s *Server) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if err := s.factory.Clean(ctx); err != nil {
		errs = append(errs, err)
	}
	s.registry.Clear()
	return errors.Join(errs...)
}
