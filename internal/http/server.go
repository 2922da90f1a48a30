// Package http provides the logsieve admin and ingest API.
package http

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/pipeline"
	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// MIMEApplicationNDJSON is the content type for newline-delimited records.
const MIMEApplicationNDJSON = "application/x-ndjson"

// Server provides HTTP endpoints for logsieve.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	parser   *record.Parser
	registry *prometheus.Registry
	metrics  *apiMetrics
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	Version      string

	// Tracer and Meter default to the global providers.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewServer creates a new HTTP server in front of p.
func NewServer(p *pipeline.Pipeline, logger *zap.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9410,
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(dispatch.NewCollector(p.Dispatcher())); err != nil {
		return nil, fmt.Errorf("registering dispatch collector: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := newAPIMetrics(cfg.Meter)
	if err != nil {
		logger.Warn("some api instruments are unavailable", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.middleware())
	e.Use(TraceMiddleware(cfg.Tracer))
	e.Use(AccessLogMiddleware(p, logger))

	s := &Server{
		echo:     e,
		pipeline: p,
		parser:   record.NewParser(nil),
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/records", s.handleIngest)
	v1.POST("/traces/:id/complete", s.handleComplete)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	state := s.pipeline.Dispatcher().State()
	resp := HealthResponse{
		Status:        "ok",
		Dispatcher:    state.String(),
		ConfigVersion: s.pipeline.Version(),
	}
	if state == dispatch.StateDraining || state == dispatch.StateClosed {
		resp.Status = "stopping"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Version: s.config.Version,
		Stats:   s.pipeline.Stats(),
	})
}

// handleIngest accepts a JSON record, a JSON array of records, or
// newline-delimited records and emits them into the pipeline.
func (s *Server) handleIngest(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.reject(req.Context(), rejectTooLarge)
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		s.metrics.reject(req.Context(), rejectUnread)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		s.metrics.reject(req.Context(), rejectEmpty)
		return echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}

	var recs []record.Record
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), MIMEApplicationNDJSON) {
		recs, err = s.parseLines(body)
	} else {
		recs, err = s.parser.Parse(body)
	}
	if err != nil {
		s.metrics.reject(req.Context(), rejectInvalid)
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := ingestContext(req)
	for _, rec := range recs {
		s.pipeline.Emit(ctx, rec)
	}
	s.metrics.ingested(req.Context(), len(body), len(recs))

	s.logger.Debug("ingested records", zap.Int("count", len(recs)))
	return c.JSON(http.StatusAccepted, IngestResponse{Accepted: len(recs)})
}

// ingestContext returns the context ingested records are emitted under.
// They describe the producer's requests, not this one: they get no path,
// and a trace only when the caller sent one as X-Trace-Id or traceparent.
// The id generated for the ingest request and its server span are not
// theirs, so records without trace_id stay untraced.
func ingestContext(req *http.Request) context.Context {
	ctx := trace.ContextWithSpanContext(req.Context(), trace.SpanContext{})
	ctx = pipeline.WithPath(ctx, "")
	if id := req.Header.Get(HeaderTraceID); id != "" && logging.ValidateID(id, "trace id") == nil {
		return pipeline.WithTraceID(ctx, id)
	}
	carrier := propagation.HeaderCarrier(req.Header)
	if sc := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier)); sc.HasTraceID() {
		return pipeline.WithTraceID(ctx, sc.TraceID().String())
	}
	return pipeline.WithTraceID(ctx, "")
}

func (s *Server) parseLines(body []byte) ([]record.Record, error) {
	var out []record.Record
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), int(s.config.MaxBodyBytes))
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		recs, err := s.parser.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, recs...)
	}
	return out, sc.Err()
}

func (s *Server) handleComplete(c echo.Context) error {
	id := c.Param("id")
	if err := logging.ValidateID(id, "trace id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.pipeline.CompleteTrace(id)
	return c.JSON(http.StatusOK, CompleteResponse{TraceID: id})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
