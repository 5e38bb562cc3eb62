// Package server mounts the REST API, the MCP endpoint, probes, and metrics on one listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hylla/perangkat/internal/adapters/server/common"
	"github.com/hylla/perangkat/internal/adapters/server/httpapi"
	"github.com/hylla/perangkat/internal/adapters/server/mcpapi"
	"github.com/hylla/perangkat/internal/app"
)

const (
	defaultBindAddress     = "127.0.0.1:8080"
	defaultAPIEndpoint     = "/api/v1"
	defaultMCPEndpoint     = "/mcp"
	defaultServerName      = "perangkat"
	defaultShutdownTimeout = 5 * time.Second
	// readyTimeout bounds one storage readiness probe.
	readyTimeout = 2 * time.Second
)

// reservedPaths are mounted by NewHandler itself and cannot host the API or MCP endpoint.
var reservedPaths = []string{"/healthz", "/readyz", "/metrics"}

// Config defines serve-mode endpoint configuration.
type Config struct {
	HTTPBind      string
	APIEndpoint   string
	MCPEndpoint   string
	ServerName    string
	ServerVersion string
}

// Dependencies are the collaborators the listener serves.
type Dependencies struct {
	Service common.PersonnelService
	// Store backs /readyz. Nil reports ready unconditionally.
	Store common.Pinger
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Registerer receives per-surface request metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Logger receives one debug line per request and listener lifecycle events.
	Logger app.Logger
}

// NewHandler builds the root mux and returns the normalized config it was built with.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, Config, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, Config{}, err
	}
	if deps.Service == nil {
		return nil, Config{}, errors.New("personnel service dependency is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mcpHandler, err := mcpapi.NewHandler(mcpapi.Config{
		ServerName:    cfg.ServerName,
		ServerVersion: cfg.ServerVersion,
		EndpointPath:  cfg.MCPEndpoint,
	}, deps.Service)
	if err != nil {
		return nil, Config{}, fmt.Errorf("configure mcp handler: %w", err)
	}
	api := http.StripPrefix(cfg.APIEndpoint, httpapi.NewHandler(deps.Service))

	track := newInstrumentation(deps.Registerer, deps.Logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/readyz", readiness(deps.Store))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle(cfg.MCPEndpoint, track("mcp", mcpHandler))
	mux.Handle(cfg.APIEndpoint, track("api", api))
	mux.Handle(cfg.APIEndpoint+"/", track("api", api))
	return mux, cfg, nil
}

// Run serves until ctx ends, then drains in-flight requests within the shutdown timeout.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if ctx == nil {
		ctx = context.Background()
	}
	handler, cfg, err := NewHandler(cfg, deps)
	if err != nil {
		return fmt.Errorf("build server handler: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger{}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info("http listener starting", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("http listener draining", "timeout", defaultShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve after shutdown: %w", err)
	}
	if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		return fmt.Errorf("shutdown server: %w", shutdownErr)
	}
	return nil
}

// normalizeConfig fills defaults and rejects endpoint collisions.
func normalizeConfig(cfg Config) (Config, error) {
	cfg.HTTPBind = strings.TrimSpace(cfg.HTTPBind)
	if cfg.HTTPBind == "" {
		cfg.HTTPBind = defaultBindAddress
	}
	cfg.APIEndpoint = normalizeEndpoint(cfg.APIEndpoint, defaultAPIEndpoint)
	cfg.MCPEndpoint = normalizeEndpoint(cfg.MCPEndpoint, defaultMCPEndpoint)
	if cfg.APIEndpoint == cfg.MCPEndpoint {
		return Config{}, fmt.Errorf("api and mcp endpoints must differ, both are %s", cfg.APIEndpoint)
	}
	for _, reserved := range reservedPaths {
		if cfg.APIEndpoint == reserved || cfg.MCPEndpoint == reserved {
			return Config{}, fmt.Errorf("endpoint %s is reserved", reserved)
		}
	}
	if cfg.ServerName = strings.TrimSpace(cfg.ServerName); cfg.ServerName == "" {
		cfg.ServerName = defaultServerName
	}
	if cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion); cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	return cfg, nil
}

// normalizeEndpoint returns "/seg[/seg]" without a trailing slash; "" and "/" yield fallback.
func normalizeEndpoint(path, fallback string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return fallback
	}
	return "/" + path
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, "{\"status\":%q}\n", status)
}

// readiness reports 503 while the store cannot be reached.
func readiness(store common.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ok")
	}
}

// newInstrumentation returns a wrapper that counts and times requests per surface.
func newInstrumentation(reg prometheus.Registerer, logger app.Logger) func(string, http.Handler) http.Handler {
	if logger == nil {
		logger = discardLogger{}
	}
	var (
		requests *prometheus.CounterVec
		latency  *prometheus.HistogramVec
	)
	if reg != nil {
		factory := promauto.With(reg)
		requests = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perangkat_http_requests_total",
			Help: "HTTP requests by surface and status code",
		}, []string{"surface", "code"})
		latency = factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perangkat_http_request_duration_seconds",
			Help:    "HTTP request latency by surface",
			Buckets: prometheus.DefBuckets,
		}, []string{"surface"})
	}
	return func(surface string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(started)
			if requests != nil {
				requests.WithLabelValues(surface, strconv.Itoa(rec.code)).Inc()
				latency.WithLabelValues(surface).Observe(elapsed.Seconds())
			}
			logger.Debug("http request", "surface", surface, "method", r.Method, "path", r.URL.Path, "code", rec.code, "elapsed", elapsed)
		})
	}
}

// statusRecorder captures the response code. Flush passes through for streamable MCP responses.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
