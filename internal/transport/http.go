// Package transport serves the status, history and metrics HTTP endpoints of
// a running simulation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

// Pagination limits
const (
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 100
	defaultOutcomesLimit = 100
	maxOutcomesLimit     = 1000
)

// Engine is the view of a simulation the server reports on.
type Engine interface {
	State() engine.State
	Metrics() metrics.Collector
}

// HealthChecker checks that the rollup node is reachable.
type HealthChecker interface {
	CheckProvider(ctx context.Context) error
}

// Status is the body of /v1/status and of every WebSocket frame.
type Status struct {
	State         string           `json:"state"`
	Network       string           `json:"network"`
	TargetTPS     uint32           `json:"targetTps"`
	UptimeSeconds float64          `json:"uptimeSeconds"`
	Metrics       metrics.Snapshot `json:"metrics"`
}

// ServerConfig wires a Server. Engine is required; History, Health and
// Gatherer are optional.
type ServerConfig struct {
	Engine    Engine
	Network   string
	TargetTPS uint32
	History   storage.Storage
	Health    HealthChecker
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// CORSAllowedOrigins is a comma-separated list; empty or "*" allows all.
	CORSAllowedOrigins string
}

// Server handles HTTP requests for a simulation run.
type Server struct {
	engine    Engine
	network   string
	targetTPS uint32
	history   storage.Storage
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	stream    *StatusStream

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a server and starts its status stream. Call
// Close to stop it.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:    cfg.Engine,
		network:   cfg.Network,
		targetTPS: cfg.TargetTPS,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  cfg.Gatherer,
		logger:    logger,
		startTime: time.Now(),
	}

	s.stream = NewStatusStream(s, logger)
	s.stream.Start()

	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops the status stream and disconnects its subscribers.
func (s *Server) Close() {
	s.stream.Stop()
}

// Status returns the current state and metrics of the run.
func (s *Server) Status() Status {
	return Status{
		State:         s.engine.State().String(),
		Network:       s.network,
		TargetTPS:     s.targetTPS,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Metrics:       s.engine.Metrics().Snapshot(),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/v1/ws", s.stream.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}

// ListenAndServe serves Handler on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.Status())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// pagination reads limit and offset query parameters, falling back to the
// defaults for missing or out-of-range values.
func pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleHistory returns stored runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History storage is not configured", http.StatusNotFound)
		return
	}

	limit, offset := pagination(r, defaultHistoryLimit, maxHistoryLimit)
	result, err := s.history.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleHistoryDetail handles /v1/history/{id} and /v1/history/{id}/outcomes.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSONError(w, "History storage is not configured", http.StatusNotFound)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/history/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	if len(parts) > 1 && parts[1] == "outcomes" {
		s.handleRunOutcomes(w, r, runID)
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodDelete:
		if err := s.history.DeleteRun(ctx, runID); err != nil {
			s.writeStorageError(w, "Failed to delete run", err)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true})

	case http.MethodPatch:
		var update storage.RunMetadataUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.history.UpdateRunMetadata(ctx, runID, &update); err != nil {
			s.writeStorageError(w, "Failed to update run", err)
			return
		}
		run, err := s.history.GetRun(ctx, runID)
		if err != nil {
			s.writeStorageError(w, "Failed to get updated run", err)
			return
		}
		s.writeJSON(w, run)

	case http.MethodGet:
		run, err := s.history.GetRun(ctx, runID)
		if err != nil {
			s.writeStorageError(w, "Failed to get run", err)
			return
		}
		outcomes, err := s.history.GetOutcomes(ctx, runID, defaultOutcomesLimit, 0)
		if err != nil {
			s.writeStorageError(w, "Failed to get outcomes", err)
			return
		}
		s.writeJSON(w, storage.RunDetail{Run: run, Outcomes: outcomes})

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRunOutcomes(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, offset := pagination(r, defaultOutcomesLimit, maxOutcomesLimit)
	result, err := s.history.GetOutcomes(r.Context(), runID, limit, offset)
	if err != nil {
		s.writeStorageError(w, "Failed to get outcomes", err)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) writeStorageError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSONError(w, message+": "+err.Error(), http.StatusInternalServerError)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"state":          s.engine.State().String(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := s.health.CheckProvider(ctx)
		check := ReadinessCheck{
			Name:      "provider",
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}
