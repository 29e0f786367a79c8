// Package relay mirrors raw upstream events onto NATS subjects so other
// internal consumers can tap the feed without opening their own upstream
// connection.
package relay

import (
	"time"

	"github.com/nats-io/nats.go"

	"rugsobserver/logger"
	"rugsobserver/metrics"
)

// Relay publishes each inbound feed event to "<prefix>.<eventName>".
// A nil Relay is valid and publishes nothing.
type Relay struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials NATS. An empty URL disables the mirror and returns nil.
func Connect(url, prefix string) (*Relay, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("rugsobserver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("✅ NATS mirror connected - %s", url)
	return &Relay{conn: conn, prefix: prefix}, nil
}

// Publish mirrors one raw event payload. Failures are counted, never fatal.
func (r *Relay) Publish(event string, payload []byte) {
	if r == nil || r.conn == nil {
		return
	}

	subject := r.prefix + "." + event
	if err := r.conn.Publish(subject, payload); err != nil {
		metrics.RelayErrors.Inc()
		logger.Log.Debugf("NATS publish to %s failed: %v", subject, err)
	}
}

// Close flushes buffered messages and closes the connection
func (r *Relay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	if err := r.conn.Drain(); err != nil {
		logger.Log.Warnf("⚠️  NATS drain failed: %v", err)
		r.conn.Close()
	}
}
