package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rugsobserver/config"
	"rugsobserver/state"
	"rugsobserver/ws"
)

func TestBackoffSchedule(t *testing.T) {
	bo := newBackoff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		if got := bo.NextBackOff(); got != expected {
			t.Errorf("backoff[%d] = %s, want %s", i, got, expected)
		}
	}

	bo.Reset()
	if got := bo.NextBackOff(); got != 1*time.Second {
		t.Errorf("backoff after reset = %s, want 1s", got)
	}
}

func TestSessionConsumesFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		payload := `{"event":"gameStateUpdate","data":{"gameId":"g-live","active":true,"price":1.5,"tickCount":3}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Errorf("write event: %v", err)
			return
		}
		<-release
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Close()

	cfg := &config.Config{
		FeedURL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		FeedVersion:        "v3",
		SnapshotEvery:      25,
		RoundCacheCapacity: 8,
	}
	cache := state.NewRoundCache(cfg.RoundCacheCapacity)
	tracker := NewTracker(cfg, cache, hub, nil)
	sess := NewSession(cfg, tracker, hub)

	sess.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for cache.CurrentID() != "g-live" {
		if time.Now().After(deadline) {
			t.Fatal("round from the feed was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("state while consuming = %s, want CONNECTED", got)
	}

	close(release)
	sess.Stop()
	if got := sess.State(); got != StateShuttingDown {
		t.Errorf("state after stop = %s, want SHUTTING_DOWN", got)
	}
}

func TestSessionStopsDuringBackoff(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Close()

	cfg := &config.Config{
		FeedURL:            "ws://127.0.0.1:1/ws",
		FeedVersion:        "v3",
		SnapshotEvery:      25,
		RoundCacheCapacity: 8,
	}
	cache := state.NewRoundCache(cfg.RoundCacheCapacity)
	tracker := NewTracker(cfg, cache, hub, nil)
	sess := NewSession(cfg, tracker, hub)

	var dials int32
	sess.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("connection refused")
	}

	sess.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&dials) == 0 || sess.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("session never entered its backoff wait")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Stop must interrupt the backoff sleep, not ride it out.
	start := time.Now()
	sess.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("stop took %s while backing off", elapsed)
	}
	if got := sess.State(); got != StateShuttingDown {
		t.Errorf("state after stop = %s, want SHUTTING_DOWN", got)
	}

	// Stopping twice is harmless.
	sess.Stop()
}
