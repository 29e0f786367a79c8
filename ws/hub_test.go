package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return hub, srv
}

func dialTestClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) *Frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to unmarshal frame: %v", err)
	}
	return &frame
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, have %d", want, hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPublishDelivers(t *testing.T) {
	hub, srv := newTestHub(t)

	first := dialTestClient(t, srv)
	second := dialTestClient(t, srv)
	waitForSubscribers(t, hub, 2)

	hub.Publish(ChannelFeed, NewFrame(FrameGameStateUpdate, "game-1", TickPayload{
		Phase:     "ACTIVE",
		Price:     1.42,
		TickIndex: 7,
		Peak:      1.5,
	}))

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn, time.Second)
		if frame.Type != FrameGameStateUpdate {
			t.Errorf("Expected %s frame, got %s", FrameGameStateUpdate, frame.Type)
		}
		if frame.GameID != "game-1" {
			t.Errorf("Expected gameId game-1, got %s", frame.GameID)
		}
		if frame.Schema != SchemaVersion {
			t.Errorf("Expected schema %d, got %d", SchemaVersion, frame.Schema)
		}
	}
}

func TestHubChannelFiltering(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dialTestClient(t, srv)
	waitForSubscribers(t, hub, 1)

	// Default subscription is the feed channel only. Publish a trades
	// frame followed by a feed marker; per-subscriber order means the
	// marker arriving first proves the trades frame was filtered out.
	hub.Publish(ChannelTrades, NewFrame(FrameNewTrade, "game-1", nil))
	hub.Publish(ChannelFeed, NewFrame(FrameGameStateUpdate, "game-1", nil))

	if frame := readFrame(t, conn, time.Second); frame.Type != FrameGameStateUpdate {
		t.Fatalf("Expected feed marker frame, got %s", frame.Type)
	}

	// Subscribe to trades and retry
	sub := ClientMessage{Type: "subscribe", Data: map[string]interface{}{"channel": ChannelTrades}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("Failed to send subscribe: %v", err)
	}

	ack := readFrame(t, conn, time.Second)
	if ack.Type != "subscribed" {
		t.Fatalf("Expected subscribed ack, got %s", ack.Type)
	}

	hub.Publish(ChannelTrades, NewFrame(FrameNewTrade, "game-1", nil))

	frame := readFrame(t, conn, time.Second)
	if frame.Type != FrameNewTrade {
		t.Errorf("Expected %s frame, got %s", FrameNewTrade, frame.Type)
	}
}

func TestHubControlMessages(t *testing.T) {
	hub, srv := newTestHub(t)

	hub.OnVerify = func(gameID string) (Frame, error) {
		return NewFrame(FrameVerification, gameID, map[string]string{"outcome": "VERIFIED"}), nil
	}

	conn := dialTestClient(t, srv)
	waitForSubscribers(t, hub, 1)

	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	if frame := readFrame(t, conn, time.Second); frame.Type != "pong" {
		t.Errorf("Expected pong, got %s", frame.Type)
	}

	verify := ClientMessage{Type: "verify", Data: map[string]interface{}{"gameId": "game-9"}}
	if err := conn.WriteJSON(verify); err != nil {
		t.Fatalf("Failed to send verify: %v", err)
	}
	frame := readFrame(t, conn, time.Second)
	if frame.Type != FrameVerification || frame.GameID != "game-9" {
		t.Errorf("Expected verification frame for game-9, got %s/%s", frame.Type, frame.GameID)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", Data: map[string]interface{}{"channel": "nope"}}); err != nil {
		t.Fatalf("Failed to send bad subscribe: %v", err)
	}
	if frame := readFrame(t, conn, time.Second); frame.Type != "error" {
		t.Errorf("Expected error frame for unknown channel, got %s", frame.Type)
	}
}

// A consumer that stops draining must be evicted without holding up the
// healthy ones.
func TestHubEvictsStalledSubscriber(t *testing.T) {
	hub := NewHub()
	hub.sendTimeout = 50 * time.Millisecond
	go hub.Run()
	t.Cleanup(hub.Close)

	serverConns := make(chan *websocket.Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/raw", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Raw upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	healthy := dialTestClient(t, srv)
	waitForSubscribers(t, hub, 1)

	// Hand-register a subscriber with a single-slot queue and no write
	// pump, so nothing ever drains it
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/raw"
	stalledClient, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial raw endpoint: %v", err)
	}
	t.Cleanup(func() { stalledClient.Close() })

	stalled := &Subscriber{
		ID:            "stalled-test",
		Conn:          <-serverConns,
		subscriptions: map[string]bool{ChannelFeed: true},
		send:          make(chan []byte, 1),
		done:          make(chan struct{}),
	}
	hub.register <- stalled
	waitForSubscribers(t, hub, 2)

	// First frame fills the stalled queue, second one forces the eviction
	hub.Publish(ChannelFeed, NewFrame(FrameGameStateUpdate, "game-1", TickPayload{TickIndex: 1}))
	start := time.Now()
	hub.Publish(ChannelFeed, NewFrame(FrameGameStateUpdate, "game-1", TickPayload{TickIndex: 2}))
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Publish blocked for %v with one stalled subscriber", elapsed)
	}

	waitForSubscribers(t, hub, 1)

	select {
	case <-stalled.done:
	default:
		t.Error("Stalled subscriber was not closed")
	}

	// The healthy subscriber got both frames
	for want := 1; want <= 2; want++ {
		frame := readFrame(t, healthy, time.Second)
		var tick TickPayload
		raw, _ := json.Marshal(frame.Data)
		if err := json.Unmarshal(raw, &tick); err != nil {
			t.Fatalf("Failed to decode tick payload: %v", err)
		}
		if tick.TickIndex != want {
			t.Errorf("Expected tick %d, got %d", want, tick.TickIndex)
		}
	}
}
