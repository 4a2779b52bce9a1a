package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nranderson/doggydoor/internal/door"
	"github.com/nranderson/doggydoor/internal/infrastructure/database"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/events", s.handleEvents)
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// lockStatusResponse mirrors lock.Status for JSON output.
type lockStatusResponse struct {
	State       string `json:"state"`
	UnlockedAt  string `json:"unlocked_at,omitempty"`
	RelockArmed bool   `json:"relock_armed"`
}

// proximityStatusResponse mirrors proximity.Status for JSON output.
type proximityStatusResponse struct {
	State         string   `json:"state"`
	Close         bool     `json:"close"`
	DistanceFeet  *float64 `json:"distance_feet,omitempty"`
	LastRSSI      int      `json:"last_rssi,omitempty"`
	LastDetection string   `json:"last_detection,omitempty"`
}

type statusResponse struct {
	Lock          lockStatusResponse      `json:"lock"`
	Proximity     proximityStatusResponse `json:"proximity"`
	TagsSeen      int                     `json:"tags_seen"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	MQTTConnected bool                    `json:"mqtt_connected"`
	Version       string                  `json:"version"`
}

// handleStatus returns the combined system snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.door.Snapshot()

	resp := statusResponse{
		Lock: lockStatusResponse{
			State:       string(snap.Lock.State),
			RelockArmed: snap.Lock.RelockArmed,
		},
		Proximity: proximityStatusResponse{
			State:    string(snap.Monitor.State),
			Close:    snap.Monitor.Close,
			LastRSSI: snap.Monitor.LastRSSI,
		},
		TagsSeen:      snap.TagsSeen,
		UptimeSeconds: snap.Uptime.Seconds(),
		MQTTConnected: snap.MQTTConnected,
		Version:       s.version,
	}
	if !snap.Lock.UnlockedAt.IsZero() {
		resp.Lock.UnlockedAt = snap.Lock.UnlockedAt.UTC().Format(time.RFC3339)
	}
	if !math.IsInf(snap.Monitor.DistanceFeet, 1) {
		d := snap.Monitor.DistanceFeet
		resp.Proximity.DistanceFeet = &d
	}
	if !snap.Monitor.LastDetection.IsZero() {
		resp.Proximity.LastDetection = snap.Monitor.LastDetection.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// maxEventLimit caps how many journal rows one request can fetch.
const maxEventLimit = 500

// handleEvents returns recent journal events, newest first.
// Query parameters: kind (proximity|lock|system), limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []database.Event{}})
		return
	}

	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", database.EventKindProximity, database.EventKindLock, database.EventKindSystem:
	default:
		writeBadRequest(w, "unknown event kind")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			writeBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := s.store.RecentEvents(r.Context(), kind, limit)
	if err != nil {
		s.logger.Error("reading event journal failed", "error", err)
		writeInternalError(w, "reading events failed")
		return
	}
	if events == nil {
		events = []database.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleLock forces the door locked.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.door.ForceLock(r.Context(), door.TriggerAPI); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeActuation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": "locked"})
}

// handleUnlock forces the door unlocked. The auto-relock timer arms as
// it would for a proximity unlock.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.door.ForceUnlock(r.Context(), door.TriggerAPI); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeActuation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": "unlocked"})
}
