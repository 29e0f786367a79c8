package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rugsobserver/config"
	"rugsobserver/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Subscriber is one connected WebSocket client and its channel set.
// New connections start subscribed to the feed channel.
type Subscriber struct {
	ID   string
	Conn *websocket.Conn

	mu            sync.RWMutex
	subscriptions map[string]bool

	send chan []byte
	done chan struct{}
}

// ClientMessage is the control envelope read from subscribers
type ClientMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// ServeWS upgrades an HTTP request and attaches the client to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Errorf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	sub := &Subscriber{
		ID:            uuid.NewString(),
		Conn:          conn,
		subscriptions: map[string]bool{ChannelFeed: true},
		send:          make(chan []byte, config.SubscriberQueueSize),
		done:          make(chan struct{}),
	}

	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump(h)

	// New feed subscribers get the current round state right away
	if h.LiveSnapshot != nil {
		if frame, ok := h.LiveSnapshot(); ok {
			sub.enqueue(frame)
		}
	}
}

func (s *Subscriber) subscribedTo(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[channel]
}

func validChannel(channel string) bool {
	switch channel {
	case ChannelFeed, ChannelTrades, ChannelGames:
		return true
	}
	return false
}

// enqueue marshals a frame onto the outbound queue, dropping it when the
// queue is full
func (s *Subscriber) enqueue(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Log.Errorf("❌ Failed to marshal %s frame for %s: %v", frame.Type, s.ID, err)
		return
	}
	select {
	case s.send <- data:
	default:
		logger.Log.Warnf("⚠️  Subscriber %s queue full, dropping %s reply", s.ID, frame.Type)
	}
}

// writePump is the single writer on the connection. It drains the send
// queue and keeps the connection alive with pings.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Log.Debugf("Write error for subscriber %s: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			s.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump handles control messages until the connection drops
func (s *Subscriber) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(config.MaxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		_, messageBytes, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Log.Debugf("Read error for subscriber %s: %v", s.ID, err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.enqueue(errorFrame("invalid message"))
			continue
		}

		s.handleMessage(h, msg)
	}
}

// handleMessage processes one control message from a subscriber
func (s *Subscriber) handleMessage(h *Hub, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		channel, _ := msg.Data["channel"].(string)
		if !validChannel(channel) {
			s.enqueue(errorFrame("unknown channel: " + channel))
			return
		}
		s.mu.Lock()
		s.subscriptions[channel] = true
		s.mu.Unlock()
		logger.Log.Debugf("📡 Subscriber %s subscribed to: %s", s.ID, channel)
		s.enqueue(NewFrame("subscribed", "", map[string]string{"channel": channel}))

		if channel == ChannelFeed && h.LiveSnapshot != nil {
			if frame, ok := h.LiveSnapshot(); ok {
				s.enqueue(frame)
			}
		}

	case "unsubscribe":
		channel, _ := msg.Data["channel"].(string)
		s.mu.Lock()
		delete(s.subscriptions, channel)
		s.mu.Unlock()
		logger.Log.Debugf("📴 Subscriber %s unsubscribed from: %s", s.ID, channel)
		s.enqueue(NewFrame("unsubscribed", "", map[string]string{"channel": channel}))

	case "ping":
		s.enqueue(NewFrame("pong", "", nil))

	case "verify":
		gameID, _ := msg.Data["gameId"].(string)
		if gameID == "" {
			s.enqueue(errorFrame("verify requires a gameId"))
			return
		}
		if h.OnVerify == nil {
			s.enqueue(errorFrame("verification not available"))
			return
		}
		frame, err := h.OnVerify(gameID)
		if err != nil {
			s.enqueue(errorFrame(err.Error()))
			return
		}
		s.enqueue(frame)

	default:
		logger.Log.Debugf("⚠️  Unknown message type from subscriber %s: %s", s.ID, msg.Type)
		s.enqueue(errorFrame("unknown message type: " + msg.Type))
	}
}

func errorFrame(detail string) Frame {
	return NewFrame("error", "", map[string]string{"error": detail})
}
