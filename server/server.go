// Package server exposes the thin admin surface the core owns directly:
// liveness/readiness probes, a scheduler status snapshot, and the
// Prometheus scrape endpoint. The full admin CRUD API over the status
// model is an out-of-scope collaborator (spec §1); this package only
// implements what the core itself needs to report.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeromeFenwick/bili-sync/notify"
	"github.com/JeromeFenwick/bili-sync/store"
	"github.com/JeromeFenwick/bili-sync/task"
)

// Handlers bundles the collaborators the admin surface reports on.
type Handlers struct {
	pg      *store.Postgres
	manager *task.Manager
	queue   *notify.Queue
}

// New constructs a Handlers bound to pg, manager, and queue.
func New(pg *store.Postgres, manager *task.Manager, queue *notify.Queue) *Handlers {
	return &Handlers{pg: pg, manager: manager, queue: queue}
}

// Mux builds the admin HTTP mux: /healthz, /readyz, /status, /metrics.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.HandleFunc("/status", h.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// handleHealthz is a liveness probe: the process is up, nothing more.
func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz is a readiness probe: the database must be reachable.
func (h *Handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.pg.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "database",
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus reports the scheduler's live TaskStatus and the current
// notification queue depth.
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.manager.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"is_running":    st.IsRunning,
		"last_run":      st.LastRun,
		"next_run":      st.NextRun,
		"queue_depth":   h.queue.Depth(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs the admin HTTP server on addr until ctx is canceled, then
// shuts it down gracefully.
func (h *Handlers) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Mux()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
