package ws

import (
	"encoding/json"
	"sync"
	"time"

	"rugsobserver/config"
	"rugsobserver/logger"
	"rugsobserver/metrics"
)

// Hub fans published frames out to subscribed clients. Registration runs
// through channels owned by the Run goroutine; Publish takes a read lock
// on the subscriber set.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}

	sendTimeout time.Duration

	// OnVerify serves verify control messages when set
	OnVerify func(gameID string) (Frame, error)

	// LiveSnapshot supplies the current round frame sent to new feed
	// subscribers when set
	LiveSnapshot func() (Frame, bool)

	// Mirror receives every published frame, already marshalled, when set
	Mirror func(frameType string, payload []byte)
}

// NewHub creates a hub with the default per-subscriber delivery timeout
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
		sendTimeout: config.BroadcastSendTimeout,
	}
}

// SetSendTimeout overrides the delivery grace period. Call before Run.
func (h *Hub) SetSendTimeout(d time.Duration) {
	if d > 0 {
		h.sendTimeout = d
	}
}

// Run owns the subscriber set until Close is called
func (h *Hub) Run() {
	logger.Log.Info("🚀 Broadcast hub started")

	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			total := len(h.subscribers)
			h.mu.Unlock()
			metrics.Subscribers.Set(float64(total))
			logger.Log.Infof("✅ Subscriber registered: %s (Total: %d)", sub.ID, total)

		case sub := <-h.unregister:
			h.dropSubscriber(sub)

		case <-h.done:
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.done)
				sub.Conn.Close()
			}
			h.mu.Unlock()
			metrics.Subscribers.Set(0)
			logger.Log.Info("👋 Broadcast hub stopped")
			return
		}
	}
}

// Close disconnects every subscriber and stops Run
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) dropSubscriber(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	if ok {
		delete(h.subscribers, sub)
		close(sub.done)
	}
	total := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		sub.Conn.Close()
		metrics.Subscribers.Set(float64(total))
		logger.Log.Infof("👋 Subscriber unregistered: %s (Total: %d)", sub.ID, total)
	}
}

// Publish delivers one frame to every subscriber of a channel. Subscribers
// with a full queue get one bounded grace period and are evicted if the
// frame still cannot be delivered; one stalled consumer never delays the
// others past the timeout.
func (h *Hub) Publish(channel string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Log.Errorf("❌ Failed to marshal %s frame: %v", frame.Type, err)
		return
	}

	if h.Mirror != nil {
		h.Mirror(frame.Type, data)
	}

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		if sub.subscribedTo(channel) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		stalledMu sync.Mutex
		stalled   []*Subscriber
	)

	for _, sub := range targets {
		select {
		case sub.send <- data:
			continue
		default:
		}

		// Queue full: wait out the grace period off the caller's path
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			timer := time.NewTimer(h.sendTimeout)
			defer timer.Stop()
			select {
			case sub.send <- data:
			case <-sub.done:
			case <-timer.C:
				stalledMu.Lock()
				stalled = append(stalled, sub)
				stalledMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	for _, sub := range stalled {
		logger.Log.Warnf("⚠️  Subscriber %s stalled on %s channel, evicting", sub.ID, channel)
		metrics.SubscriberEvictions.Inc()
		h.dropSubscriber(sub)
	}

	metrics.FramesPublished.WithLabelValues(frame.Type).Inc()
}

// SubscriberCount returns the current number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
