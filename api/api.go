// Package api is the REST query surface over the observer's stores: round
// records, tick series, candles, fairness results and operational status.
// Read-only except for the verification trigger.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"rugsobserver/config"
	"rugsobserver/db"
	"rugsobserver/ingest"
	"rugsobserver/logger"
	"rugsobserver/state"
	"rugsobserver/verify"
	"rugsobserver/ws"
)

/* =========================
   API SURFACE
========================= */

// API bundles the handlers' view of the running system
type API struct {
	Cache    *state.RoundCache
	Hub      *ws.Hub
	Session  *ingest.Session
	Verifier *verify.Service

	StartedAt time.Time
}

// Register mounts every endpoint on the mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", corsMiddleware(a.HandleHealthCheck))
	mux.HandleFunc("/api/status", corsMiddleware(a.HandleStatus))
	mux.HandleFunc("/api/live", corsMiddleware(a.HandleLiveState))
	mux.HandleFunc("/api/games", corsMiddleware(a.HandleGetGames))
	mux.HandleFunc("/api/games/", corsMiddleware(a.HandleGameRoutes)) // Trailing slash for :gameId
	mux.HandleFunc("/api/tracking", corsMiddleware(a.HandleGetTracking))
	mux.HandleFunc("/api/tracking/", corsMiddleware(a.HandleGetTrackingDetail))
	mux.HandleFunc("/api/godcandles", corsMiddleware(a.HandleGetGodCandles))
	mux.HandleFunc("/api/connection", corsMiddleware(a.HandleGetConnectionEvents))
}

/* =========================
   SHARED RESPONSE HELPERS
========================= */

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// sendError sends an error response
func sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   message,
	})
}

// sendJSON sends a success response
func sendJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// storeError maps store failures onto API errors. A missing store is the
// caller's problem (503), everything else is ours (500).
func storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, db.ErrNotInitialized) {
		sendError(w, http.StatusServiceUnavailable, "Postgres is not configured")
		return
	}
	logger.Log.Errorf("❌ Failed to %s: %v", what, err)
	sendError(w, http.StatusInternalServerError, "Failed to "+what)
}

// parseLimit reads ?limit= with a default, clamped to the query ceiling
func parseLimit(r *http.Request) int {
	limit := config.DefaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > config.MaxQueryLimit {
		limit = config.MaxQueryLimit
	}
	return limit
}

// parseOffset reads ?offset=, never negative
func parseOffset(r *http.Request) int {
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// corsMiddleware adds CORS headers to allow frontend requests
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", config.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}
