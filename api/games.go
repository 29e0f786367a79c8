package api

import (
	"errors"
	"net/http"
	"strings"

	"rugsobserver/db"
	"rugsobserver/game"
	"rugsobserver/verify"
)

/* =========================
   RESPONSE TYPES
========================= */

// GamesResponse represents the recent-games listing
type GamesResponse struct {
	Success bool            `json:"success"`
	Source  string          `json:"source"`
	Count   int             `json:"count"`
	Games   []db.GameRecord `json:"games"`
}

// GameResponse represents a single round record
type GameResponse struct {
	Success bool           `json:"success"`
	Game    *db.GameRecord `json:"game"`
}

// TicksResponse represents a page of tick records for one round
type TicksResponse struct {
	Success bool            `json:"success"`
	GameID  string          `json:"gameId"`
	Count   int             `json:"count"`
	Ticks   []db.TickRecord `json:"ticks"`
}

// CandlesResponse represents the OHLC buckets for one round
type CandlesResponse struct {
	Success bool              `json:"success"`
	GameID  string            `json:"gameId"`
	Count   int               `json:"count"`
	Candles []db.CandleBucket `json:"candles"`
}

// GodCandlesResponse represents god candle events
type GodCandlesResponse struct {
	Success    bool                `json:"success"`
	Count      int                 `json:"count"`
	GodCandles []db.GodCandleEvent `json:"godCandles"`
}

// TradesResponse represents observed trades for one round
type TradesResponse struct {
	Success bool             `json:"success"`
	GameID  string           `json:"gameId"`
	Count   int              `json:"count"`
	Trades  []db.TradeRecord `json:"trades"`
}

// SideBetsResponse represents observed side bets for one round
type SideBetsResponse struct {
	Success  bool               `json:"success"`
	GameID   string             `json:"gameId"`
	Count    int                `json:"count"`
	SideBets []db.SideBetRecord `json:"sideBets"`
}

// VerificationResponse represents the fairness record for one round
type VerificationResponse struct {
	Success      bool               `json:"success"`
	Verification *db.TrackingRecord `json:"verification"`
}

// VerifyRunResponse represents the outcome of an on-demand verification
type VerifyRunResponse struct {
	Success bool              `json:"success"`
	GameID  string            `json:"gameId"`
	Result  game.VerifyResult `json:"result"`
}

/* =========================
   GAME ENDPOINTS
========================= */

// HandleGetGames handles GET /api/games
// Query params: limit (optional, default 50, max 500)
func (a *API) HandleGetGames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	limit := parseLimit(r)

	games, err := db.GetRecentGames(ctx, limit)
	if err == nil {
		sendJSON(w, GamesResponse{Success: true, Source: "postgres", Count: len(games), Games: games})
		return
	}
	if !errors.Is(err, db.ErrNotInitialized) {
		storeError(w, err, "retrieve games")
		return
	}

	// Postgres is down or absent; the Redis latest-games cache still has
	// the most recent finalized rounds.
	ids, err := db.GetRecentGameIDs(ctx, limit)
	if err != nil {
		storeError(w, err, "retrieve games")
		return
	}
	cached := make([]db.GameRecord, 0, len(ids))
	for _, id := range ids {
		g, err := db.GetCachedGame(ctx, id)
		if err != nil || g == nil {
			continue
		}
		cached = append(cached, *g)
	}
	sendJSON(w, GamesResponse{Success: true, Source: "redis", Count: len(cached), Games: cached})
}

// HandleGameRoutes dispatches /api/games/{id} and its sub-resources:
//
//	GET  /api/games/current
//	GET  /api/games/{id}
//	GET  /api/games/{id}/ticks
//	GET  /api/games/{id}/candles
//	GET  /api/games/{id}/godcandles
//	GET  /api/games/{id}/trades
//	GET  /api/games/{id}/sidebets
//	GET  /api/games/{id}/verification
//	POST /api/games/{id}/verify
func (a *API) HandleGameRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/games/"), "/")
	parts := strings.Split(rest, "/")

	if len(parts) == 1 && parts[0] == "current" {
		a.handleCurrentGame(w, r)
		return
	}

	gameID := parts[0]
	if gameID == "" {
		sendError(w, http.StatusBadRequest, "Game ID is required")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.handleGameDetail(w, r, gameID)
		return
	}

	if len(parts) == 2 {
		if parts[1] == "verify" {
			a.handleVerifyRound(w, r, gameID)
			return
		}
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		switch parts[1] {
		case "ticks":
			a.handleGameTicks(w, r, gameID)
		case "candles":
			a.handleGameCandles(w, r, gameID)
		case "godcandles":
			a.handleGameGodCandles(w, r, gameID)
		case "trades":
			a.handleGameTrades(w, r, gameID)
		case "sidebets":
			a.handleGameSideBets(w, r, gameID)
		case "verification":
			a.handleGameVerification(w, r, gameID)
		default:
			sendError(w, http.StatusNotFound, "Unknown resource: "+parts[1])
		}
		return
	}

	sendError(w, http.StatusNotFound, "Not found")
}

func (a *API) handleCurrentGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	gameID := a.Cache.CurrentID()
	if gameID == "" {
		sendError(w, http.StatusNotFound, "No round is being tracked")
		return
	}
	a.handleGameDetail(w, r, gameID)
}

func (a *API) handleGameDetail(w http.ResponseWriter, r *http.Request, gameID string) {
	ctx := r.Context()

	g, err := db.GetGame(ctx, gameID)
	if err != nil && !errors.Is(err, db.ErrNotInitialized) {
		storeError(w, err, "retrieve game")
		return
	}
	if g == nil {
		// Finalized rounds linger in the Redis cache after a Postgres
		// outage or restart.
		g, err = db.GetCachedGame(ctx, gameID)
		if err != nil && !errors.Is(err, db.ErrNotInitialized) {
			storeError(w, err, "retrieve game")
			return
		}
	}
	if g == nil {
		sendError(w, http.StatusNotFound, "Round not found: "+gameID)
		return
	}

	sendJSON(w, GameResponse{Success: true, Game: g})
}

func (a *API) handleGameTicks(w http.ResponseWriter, r *http.Request, gameID string) {
	ticks, err := db.GetTicks(r.Context(), gameID, parseLimit(r), parseOffset(r))
	if err != nil {
		storeError(w, err, "retrieve ticks")
		return
	}
	sendJSON(w, TicksResponse{Success: true, GameID: gameID, Count: len(ticks), Ticks: ticks})
}

func (a *API) handleGameCandles(w http.ResponseWriter, r *http.Request, gameID string) {
	candles, err := db.GetCandles(r.Context(), gameID)
	if err != nil {
		storeError(w, err, "retrieve candles")
		return
	}
	sendJSON(w, CandlesResponse{Success: true, GameID: gameID, Count: len(candles), Candles: candles})
}

func (a *API) handleGameGodCandles(w http.ResponseWriter, r *http.Request, gameID string) {
	events, err := db.GetGodCandles(r.Context(), gameID)
	if err != nil {
		storeError(w, err, "retrieve god candles")
		return
	}
	sendJSON(w, GodCandlesResponse{Success: true, Count: len(events), GodCandles: events})
}

func (a *API) handleGameTrades(w http.ResponseWriter, r *http.Request, gameID string) {
	trades, err := db.GetTrades(r.Context(), gameID, parseLimit(r))
	if err != nil {
		storeError(w, err, "retrieve trades")
		return
	}
	sendJSON(w, TradesResponse{Success: true, GameID: gameID, Count: len(trades), Trades: trades})
}

func (a *API) handleGameSideBets(w http.ResponseWriter, r *http.Request, gameID string) {
	bets, err := db.GetSideBets(r.Context(), gameID, parseLimit(r))
	if err != nil {
		storeError(w, err, "retrieve side bets")
		return
	}
	sendJSON(w, SideBetsResponse{Success: true, GameID: gameID, Count: len(bets), SideBets: bets})
}

func (a *API) handleGameVerification(w http.ResponseWriter, r *http.Request, gameID string) {
	tracking, err := db.GetTracking(r.Context(), gameID)
	if err != nil {
		storeError(w, err, "retrieve verification")
		return
	}
	if tracking == nil {
		sendError(w, http.StatusNotFound, "Round was never tracked: "+gameID)
		return
	}
	sendJSON(w, VerificationResponse{Success: true, Verification: tracking})
}

// handleVerifyRound handles POST /api/games/{id}/verify. Runs the engine
// synchronously; replaying an already-verified round is safe.
func (a *API) handleVerifyRound(w http.ResponseWriter, r *http.Request, gameID string) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.Verifier == nil {
		sendError(w, http.StatusServiceUnavailable, "Verification service is not running")
		return
	}

	result, err := a.Verifier.VerifyNow(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, verify.ErrUnknownRound) {
			sendError(w, http.StatusNotFound, "Round not found: "+gameID)
			return
		}
		storeError(w, err, "verify round")
		return
	}

	sendJSON(w, VerifyRunResponse{Success: true, GameID: gameID, Result: result})
}

/* =========================
   CROSS-ROUND ENDPOINTS
========================= */

// HandleGetGodCandles handles GET /api/godcandles
// Query params: limit (optional)
func (a *API) HandleGetGodCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	events, err := db.GetRecentGodCandles(r.Context(), parseLimit(r))
	if err != nil {
		storeError(w, err, "retrieve god candles")
		return
	}
	sendJSON(w, GodCandlesResponse{Success: true, Count: len(events), GodCandles: events})
}
