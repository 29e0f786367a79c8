package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"rugsobserver/db"
	"rugsobserver/ingest"
	"rugsobserver/state"
)

/* =========================
   RESPONSE TYPES
========================= */

// StatusResponse represents the operational status snapshot
type StatusResponse struct {
	Success       bool           `json:"success"`
	Session       string         `json:"session"`
	Uptime        string         `json:"uptime"`
	CurrentGameID string         `json:"currentGameId,omitempty"`
	TrackedRounds int            `json:"trackedRounds"`
	Subscribers   int            `json:"subscribers"`
	VerifyQueue   int            `json:"verifyQueue"`
	RawEvents     map[string]int `json:"rawEvents,omitempty"`
}

// LiveResponse represents the current round as seen right now. The round
// snapshot comes from process memory; after a restart the Redis live hash
// fills in until the next tick arrives.
type LiveResponse struct {
	Success bool                 `json:"success"`
	Source  string               `json:"source"`
	Session string               `json:"session"`
	Round   *state.RoundSnapshot `json:"round,omitempty"`
	State   *db.LiveState        `json:"state,omitempty"`
}

// TrackingListResponse represents recent fairness records
type TrackingListResponse struct {
	Success  bool                `json:"success"`
	Count    int                 `json:"count"`
	Tracking []db.TrackingRecord `json:"tracking"`
}

// ConnectionEventsResponse represents recent upstream connection events
type ConnectionEventsResponse struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Events  []db.ConnectionEvent `json:"events"`
}

/* =========================
   STATUS ENDPOINTS
========================= */

// HandleHealthCheck handles health check requests
// GET /api/health
func (a *API) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()

	// Check Redis
	redisHealth := "ok"
	if err := db.RedisHealth(ctx); err != nil {
		redisHealth = "error: " + err.Error()
	}

	// Check PostgreSQL
	postgresHealth := "ok"
	if err := db.PostgresHealth(ctx); err != nil {
		postgresHealth = "error: " + err.Error()
	}

	response := map[string]interface{}{
		"success":  true,
		"redis":    redisHealth,
		"postgres": postgresHealth,
		"session":  string(a.sessionState()),
		"message":  "Health check completed",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleStatus handles GET /api/status
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := StatusResponse{
		Success:       true,
		Session:       string(a.sessionState()),
		Uptime:        time.Since(a.StartedAt).Round(time.Second).String(),
		CurrentGameID: a.Cache.CurrentID(),
		TrackedRounds: a.Cache.Len(),
	}
	if a.Hub != nil {
		response.Subscribers = a.Hub.SubscriberCount()
	}
	if a.Verifier != nil {
		response.VerifyQueue = a.Verifier.Depth()
	}
	if counts, err := db.CountRawEvents(r.Context(), 20); err == nil && len(counts) > 0 {
		response.RawEvents = counts
	}

	sendJSON(w, response)
}

// HandleLiveState handles GET /api/live
func (a *API) HandleLiveState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	session := string(a.sessionState())

	if snap, ok := a.Cache.CurrentSnapshot(); ok {
		sendJSON(w, LiveResponse{Success: true, Source: "memory", Session: session, Round: &snap})
		return
	}

	live, err := db.GetLiveState(r.Context())
	if err != nil && !errors.Is(err, db.ErrNotInitialized) {
		storeError(w, err, "retrieve live state")
		return
	}
	if live == nil {
		sendError(w, http.StatusNotFound, "No live state yet")
		return
	}
	sendJSON(w, LiveResponse{Success: true, Source: "redis", Session: session, State: live})
}

/* =========================
   TRACKING + CONNECTION ENDPOINTS
========================= */

// HandleGetTracking handles GET /api/tracking
// Query params: limit (optional)
func (a *API) HandleGetTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	records, err := db.GetRecentTracking(r.Context(), parseLimit(r))
	if err != nil {
		storeError(w, err, "retrieve tracking records")
		return
	}
	sendJSON(w, TrackingListResponse{Success: true, Count: len(records), Tracking: records})
}

// HandleGetTrackingDetail handles GET /api/tracking/{gameId}
func (a *API) HandleGetTrackingDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	gameID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tracking/"), "/")
	if gameID == "" {
		sendError(w, http.StatusBadRequest, "Game ID is required")
		return
	}

	tracking, err := db.GetTracking(r.Context(), gameID)
	if err != nil {
		storeError(w, err, "retrieve tracking record")
		return
	}
	if tracking == nil {
		sendError(w, http.StatusNotFound, "Round was never tracked: "+gameID)
		return
	}
	sendJSON(w, VerificationResponse{Success: true, Verification: tracking})
}

// HandleGetConnectionEvents handles GET /api/connection
// Query params: limit (optional)
func (a *API) HandleGetConnectionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	events, err := db.GetRecentConnectionEvents(r.Context(), parseLimit(r))
	if err != nil {
		storeError(w, err, "retrieve connection events")
		return
	}
	sendJSON(w, ConnectionEventsResponse{Success: true, Count: len(events), Events: events})
}

func (a *API) sessionState() ingest.SessionState {
	if a.Session == nil {
		return ingest.StateDisconnected
	}
	return a.Session.State()
}
