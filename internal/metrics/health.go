package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProbeFunc checks one dependency.
type ProbeFunc func(ctx context.Context) error

type probeResult struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus tracks feed liveness and periodic dependency probes.
type HealthStatus struct {
	mu sync.RWMutex

	feedConnected  bool
	lastCandleTime time.Time
	probes         map[string]ProbeFunc
	results        map[string]probeResult
	lastCheckAt    time.Time
	startedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		probes:    make(map[string]ProbeFunc),
		results:   make(map[string]probeResult),
		startedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.feedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.lastCandleTime = t
	h.mu.Unlock()
}

// AddProbe registers a dependency check run by CheckNow and the liveness loop.
func (h *HealthStatus) AddProbe(name string, fn ProbeFunc) {
	h.mu.Lock()
	h.probes[name] = fn
	h.mu.Unlock()
}

// CheckNow runs every probe once and records ok/latency.
func (h *HealthStatus) CheckNow(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]ProbeFunc, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()

	results := make(map[string]probeResult, len(probes))
	for name, fn := range probes {
		start := time.Now()
		err := fn(ctx)
		r := probeResult{OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			r.Error = err.Error()
		}
		results[name] = r
	}

	h.mu.Lock()
	h.results = results
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs CheckNow every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckNow(probeCtx)
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status        string                 `json:"status"`
	Uptime        string                 `json:"uptime"`
	FeedConnected bool                   `json:"feed_connected"`
	LastCandle    string                 `json:"last_candle_time,omitempty"`
	CandleAge     string                 `json:"candle_age,omitempty"`
	Dependencies  map[string]probeResult `json:"dependencies"`
	Failing       []string               `json:"failing,omitempty"`
	LastCheckAt   string                 `json:"last_check_at,omitempty"`
}

func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := healthReport{
		Status:        "healthy",
		Uptime:        time.Since(h.startedAt).Round(time.Second).String(),
		FeedConnected: h.feedConnected,
		Dependencies:  make(map[string]probeResult, len(h.results)),
	}
	for name, res := range h.results {
		r.Dependencies[name] = res
		if !res.OK {
			r.Failing = append(r.Failing, name)
		}
	}
	sort.Strings(r.Failing)
	if !h.lastCandleTime.IsZero() {
		r.LastCandle = h.lastCandleTime.UTC().Format(time.RFC3339)
		r.CandleAge = time.Since(h.lastCandleTime).Round(time.Millisecond).String()
	}
	if !h.lastCheckAt.IsZero() {
		r.LastCheckAt = h.lastCheckAt.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	if !h.feedConnected || len(r.Failing) > 0 {
		r.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.results) > 0 && len(r.Failing) == len(h.results) {
		r.Status = "unhealthy"
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(r)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
