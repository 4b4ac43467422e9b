package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/modlog/pkg/backup"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/cuemby/modlog/pkg/types"
)

// Prober is what readiness checks ask of the log engine
type Prober interface {
	Ping(ctx context.Context) error
	Scheduler() *backup.Scheduler
}

// HealthServer provides the HTTP health, readiness and metrics endpoints
type HealthServer struct {
	prober Prober
	mux    *http.ServeMux
}

// NewHealthServer creates the endpoint mux. A nil prober always reports
// not ready.
func NewHealthServer(p Prober) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		prober: p,
		mux:    mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (hs *HealthServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger := log.WithComponent("http")
		logger.Info().Str("addr", addr).Msg("Health server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements /health. The process is healthy unless a
// registered component reported otherwise.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := metrics.GetHealth()
	response := HealthResponse{
		Status:     health.Status,
		Timestamp:  time.Now(),
		Version:    health.Version,
		Components: health.Components,
	}

	statusCode := http.StatusOK
	if health.Status == metrics.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

// readyHandler implements /ready: the store answers, the worker runs, and
// the backup scheduler is not stuck on a failure
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string
	notReady := func(msg string) {
		ready = false
		if message == "" {
			message = msg
		}
	}

	if hs.prober == nil {
		checks["store"] = "not initialized"
		checks["backup"] = "not initialized"
		notReady("Manager not initialized")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := hs.prober.Ping(ctx)
		cancel()
		if err != nil {
			checks["store"] = fmt.Sprintf("error: %v", err)
			notReady("Log store not accessible")
		} else {
			checks["store"] = "ok"
		}
		checks["backup"] = backupCheck(hs.prober.Scheduler())
	}

	// Worker state is reported by the bridge itself
	readiness := metrics.GetReadiness()
	checks["bridge"] = readiness.Components["bridge"]
	if checks["bridge"] != metrics.StatusReady {
		notReady("Mutation worker not running")
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// backupCheck describes the scheduler. It never fails readiness; a
// missed backup is reported, not fatal.
func backupCheck(s *backup.Scheduler) string {
	if s == nil {
		return "not configured"
	}
	st, err := s.Status()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	state := "off"
	if st.Enabled {
		state = "on"
	}
	if st.Running {
		state += ", running"
	}
	if st.HasLast {
		state += ", last " + st.Last.Format(types.TimeLayout)
	}
	return state
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
