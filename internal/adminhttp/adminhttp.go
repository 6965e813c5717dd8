// Package adminhttp exposes the operator-facing control plane: a POST
// endpoint that requests a reload via the sync latch, a status endpoint
// reporting the current snapshot and registry counts, and a websocket
// stream of reload events.
package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cheewill/detectengine/internal/detect"
)

// Server wires the admin routes against a single detect engine.
type Server struct {
	engine *detect.DetectEngine
	logger *slog.Logger
}

// NewRouter builds the admin mux.Router for engine. hub may be nil, in which
// case the event stream endpoint is not mounted. The reload endpoint is rate
// limited per client IP so automation cannot spin the sync latch.
func NewRouter(engine *detect.DetectEngine, hub *EventHub, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/admin/status", s.handleStatus).Methods(http.MethodGet)

	rl := newReloadRateLimiter(30, 5)
	r.Handle("/admin/reload", rl.middleware(http.HandlerFunc(s.handleReload))).Methods(http.MethodPost)

	if hub != nil {
		r.Handle("/admin/events", hub).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	Enabled         bool   `json:"enabled"`
	ActiveCount     int    `json:"active_snapshots"`
	FreeCount       int    `json:"free_snapshots"`
	CurrentID       uint64 `json:"current_snapshot_id,omitempty"`
	CurrentRefCount int32  `json:"current_snapshot_refcount,omitempty"`
	LatchState      string `json:"latch_state"`
	ReloadRequested bool   `json:"reload_requested"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Enabled:         s.engine.DetectEngineEnabled(),
		ActiveCount:     s.engine.Registry.ActiveCount(),
		FreeCount:       s.engine.Registry.FreeCount(),
		LatchState:      s.engine.Latch.State().String(),
		ReloadRequested: s.engine.Latch.IsReloadRequested(),
	}
	if cur := s.engine.Registry.CurrentUnsafe(); cur != nil {
		resp.CurrentID = cur.ID
		resp.CurrentRefCount = cur.RefCount()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

type reloadResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// handleReload requests a reload via the sync latch. It does not wait for
// the reload to finish: the control loop that owns the registry picks the
// request up on its next poll and this handler returns immediately,
// mirroring the asynchronous nature of the SIGHUP trigger.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.engine.Latch.RequestReload()

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(reloadResponse{Accepted: false, Message: err.Error()})
		s.logger.Warn("reload request rejected", "error", err, "source", "admin-http")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(reloadResponse{Accepted: true})
	s.logger.Info("reload requested via admin endpoint", "duration_ms", time.Since(start).Milliseconds())
}
