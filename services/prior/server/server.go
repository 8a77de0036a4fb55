// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the prior over HTTP.
//
// A generator that runs outside this process asks for the initial mask, then
// for step masks of its open rows, and submits finished expressions for
// validation. The server can also run the reference sampler and keep a
// population of accepted expressions.
//
// Routes:
//
//	GET  /health
//	GET  /metrics
//	GET  /v1/library
//	GET  /v1/prior/initial
//	POST /v1/prior/step
//	POST /v1/prior/validate
//	POST /v1/prior/sample
//	GET  /v1/population
//	POST /v1/population/repair
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/exprprior/pkg/validation"
	"github.com/AleutianAI/exprprior/services/prior/storage"
	"github.com/AleutianAI/exprprior/services/prior/telemetry"
)

const requestIDKey = "exprprior_request_id"

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("token_name", func(fl validator.FieldLevel) bool {
			return validation.ValidateTokenName(fl.Field().String()) == nil
		})
	}
}

// Server is the HTTP surface of one Runtime.
//
// Thread Safety: Safe for concurrent use. Reload may be called while
// requests are in flight; each request sees one Runtime throughout.
type Server struct {
	runtime atomic.Pointer[Runtime]
	store   *storage.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	engine  *gin.Engine
	limiter *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the population routes and sample storage.
func WithStore(store *storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics records OTel request metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server for rt.
//
// The rate limit and burst are taken from rt.Config.Server and are not
// changed by Reload.
func New(rt *Runtime, opts ...Option) (*Server, error) {
	if rt == nil {
		return nil, errors.New("server needs a runtime")
	}
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.runtime.Store(rt)

	if sc := rt.Config.Server; sc.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(sc.RateLimit), max(sc.Burst, 1))
	}
	s.engine = s.routes(rt.Config.Telemetry.ServiceName)
	return s, nil
}

func (s *Server) routes(serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	if s.metrics != nil {
		r.Use(telemetry.GinMetrics(s.metrics))
	}
	r.Use(requestID())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := r.Group("/v1")
	if s.limiter != nil {
		v1.Use(rateLimit(s.limiter))
	}
	{
		v1.GET("/library", s.handleLibrary)

		p := v1.Group("/prior")
		p.GET("/initial", s.handleInitial)
		p.POST("/step", s.handleStep)
		p.POST("/validate", s.handleValidate)
		p.POST("/sample", s.handleSample)

		pop := v1.Group("/population")
		pop.GET("", s.handlePopulation)
		pop.POST("/repair", s.handleRepair)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Runtime returns the active runtime.
func (s *Server) Runtime() *Runtime { return s.runtime.Load() }

// Reload swaps in rt. Requests already running keep the old runtime.
func (s *Server) Reload(rt *Runtime) {
	old := s.runtime.Swap(rt)
	s.logger.Info("prior reloaded",
		slog.Any("constraints", rt.Prior.Names()),
		slog.Int("tokens", rt.Library.L()),
		slog.Int("previous_tokens", old.Library.L()),
	)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting exprprior server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down exprprior server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

func rateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "RATE_LIMITED",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}

// requestLogger returns the server logger with the request and trace ids.
func (s *Server) requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := s.logger.With(
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("handler", handler),
	)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}
