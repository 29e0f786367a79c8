package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rugsobserver/state"
	"rugsobserver/verify"
	"rugsobserver/ws"
)

// No stores are initialized in these tests: Postgres-backed endpoints must
// answer 503, memory-backed endpoints must keep working.

func newTestAPI(t *testing.T) (*API, *http.ServeMux) {
	t.Helper()
	a := &API{
		Cache:     state.NewRoundCache(4),
		Hub:       ws.NewHub(),
		Verifier:  verify.NewService(1, 4),
		StartedAt: time.Now(),
	}
	mux := http.NewServeMux()
	a.Register(mux)
	return a, mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func seedRound(a *API, gameID string, tick int, price float64) {
	rs := state.NewRoundState(gameID, time.Now().UTC())
	rs.LastTick = tick
	rs.TicksSeen = tick
	rs.LastPrice = price
	rs.Peak = price
	a.Cache.Put(rs)
	a.Cache.SetCurrent(gameID)
	a.Cache.PublishSnapshot(rs.Snapshot())
}

func TestHealthCheckWithoutStores(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["success"] != true {
		t.Error("health should report success")
	}
	for _, store := range []string{"redis", "postgres"} {
		msg, _ := body[store].(string)
		if msg == "ok" {
			t.Errorf("%s health = ok without a store", store)
		}
	}
	if body["session"] != "DISCONNECTED" {
		t.Errorf("session = %v, want DISCONNECTED", body["session"])
	}
}

func TestStatusReflectsTrackedRounds(t *testing.T) {
	a, mux := newTestAPI(t)
	seedRound(a, "g-status", 42, 2.5)

	rec := doRequest(t, mux, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body StatusResponse
	decodeBody(t, rec, &body)
	if body.CurrentGameID != "g-status" {
		t.Errorf("currentGameId = %q, want g-status", body.CurrentGameID)
	}
	if body.TrackedRounds != 1 {
		t.Errorf("trackedRounds = %d, want 1", body.TrackedRounds)
	}
	if body.Session != "DISCONNECTED" {
		t.Errorf("session = %q, want DISCONNECTED", body.Session)
	}
}

func TestLiveState(t *testing.T) {
	a, mux := newTestAPI(t)

	t.Run("EmptyIs404", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/live")
		if rec.Code != http.StatusNotFound {
			t.Errorf("live with no round = %d, want 404", rec.Code)
		}
	})

	t.Run("ServedFromMemory", func(t *testing.T) {
		seedRound(a, "g-live", 7, 3.5)

		rec := doRequest(t, mux, http.MethodGet, "/api/live")
		if rec.Code != http.StatusOK {
			t.Fatalf("live = %d, want 200", rec.Code)
		}
		var body LiveResponse
		decodeBody(t, rec, &body)
		if body.Source != "memory" {
			t.Errorf("source = %q, want memory", body.Source)
		}
		if body.Round == nil || body.Round.RoundID != "g-live" {
			t.Errorf("round = %+v", body.Round)
		}
		if body.Round.Peak != 3.5 || body.Round.LastTick != 7 {
			t.Errorf("round snapshot = %+v", body.Round)
		}
	})
}

func TestGamesUnavailableWithoutStores(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/games")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("games without stores = %d, want 503", rec.Code)
	}
	var body ErrorResponse
	decodeBody(t, rec, &body)
	if body.Success {
		t.Error("error response should not report success")
	}
}

func TestGameRouteErrors(t *testing.T) {
	_, mux := newTestAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"CurrentWithoutRound", http.MethodGet, "/api/games/current", http.StatusNotFound},
		{"UnknownSubResource", http.MethodGet, "/api/games/g-1/nope", http.StatusNotFound},
		{"VerifyRequiresPost", http.MethodGet, "/api/games/g-1/verify", http.StatusMethodNotAllowed},
		{"GamesListRejectsPost", http.MethodPost, "/api/games", http.StatusMethodNotAllowed},
		{"TooManySegments", http.MethodGet, "/api/games/g-1/ticks/extra", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, mux, tc.method, tc.path)
			if rec.Code != tc.want {
				t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
			}
		})
	}
}

func TestVerifyUnknownRoundIs404(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/games/never-seen/verify")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("verify unknown round = %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodOptions, "/api/games")
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"?limit=10", 10},
		{"?limit=0", 50},
		{"?limit=junk", 50},
		{"?limit=9999", 500},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/games"+tc.query, nil)
		if got := parseLimit(req); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}
