package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rugsobserver/config"
	"rugsobserver/db"
	"rugsobserver/logger"
	"rugsobserver/metrics"
	"rugsobserver/ws"
)

// SessionState is the upstream connection lifecycle
type SessionState string

const (
	StateDisconnected SessionState = "DISCONNECTED"
	StateConnecting   SessionState = "CONNECTING"
	StateConnected    SessionState = "CONNECTED"
	StateShuttingDown SessionState = "SHUTTING_DOWN"
)

// envelope is the upstream wire format: an event name and its payload
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session maintains the upstream feed connection, redialing with
// exponential backoff until stopped. Events are dispatched inline on the
// read goroutine, which keeps the tracker single-writer.
type Session struct {
	url     string
	tracker *Tracker
	hub     *ws.Hub

	mu     sync.RWMutex
	state  SessionState
	cancel context.CancelFunc

	done chan struct{}

	// dial is swappable in tests
	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

func NewSession(cfg *config.Config, tracker *Tracker, hub *ws.Hub) *Session {
	return &Session{
		url:     cfg.FeedURL,
		tracker: tracker,
		hub:     hub,
		state:   StateDisconnected,
		done:    make(chan struct{}),
		dial:    defaultDial,
	}
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   config.WSReadBufferSize,
		WriteBufferSize:  config.WSWriteBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// newBackoff builds the redial schedule: 1s doubling to a 30s ceiling,
// no jitter, never giving up.
func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.BackoffInitial
	bo.MaxInterval = config.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Start launches the connection loop
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(runCtx)
}

// Stop tears the session down and waits for the loop to exit
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
	logger.Log.Info("👋 Upstream session stopped")
}

// State reports the current connection lifecycle state
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateShuttingDown)

	bo := newBackoff()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if attempts > 0 {
			metrics.Reconnects.Inc()
		}
		attempts++

		s.setState(StateConnecting)
		conn, err := s.dial(ctx, s.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			logger.Log.Warnf("⚠️  Upstream dial failed: %v (retrying in %s)", err, wait)
			s.noteConnection(ctx, "error", err.Error())
			s.setState(StateDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		s.setState(StateConnected)
		s.tracker.SetConnected(true)
		logger.Log.Infof("✅ Upstream feed connected - %s", s.url)
		s.noteConnection(ctx, "connected", s.url)
		s.hub.Publish(ws.ChannelFeed, ws.NewFrame(ws.FrameConnection, "", ws.ConnectionPayload{Kind: "connected"}))

		err = s.consume(ctx, conn)

		s.tracker.SetConnected(false)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		detail := ""
		if err != nil {
			detail = err.Error()
		}
		logger.Log.Warnf("👋 Upstream feed disconnected: %v", err)
		s.noteConnection(ctx, "disconnected", detail)
		s.hub.Publish(ws.ChannelFeed, ws.NewFrame(ws.FrameConnection, "", ws.ConnectionPayload{Kind: "disconnected", Detail: detail}))

		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// consume owns one connection from handshake to close. A watcher
// goroutine pings the peer and slams the connection shut on cancel so the
// blocking read returns.
func (s *Session) consume(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline))
			}
		}
	}()

	conn.SetReadLimit(config.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Log.Debugf("Unparseable upstream message: %v", err)
			continue
		}
		if env.Event == "" {
			continue
		}

		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		s.tracker.Dispatch(ctx, env.Event, env.Data)
	}
}

func (s *Session) noteConnection(ctx context.Context, kind, detail string) {
	if err := db.InsertConnectionEvent(ctx, &db.ConnectionEvent{
		ID:     uuid.NewString(),
		Kind:   kind,
		Detail: detail,
		At:     time.Now().UTC(),
	}); err != nil {
		logger.Log.Debugf("Failed to record connection event: %v", err)
	}
}
