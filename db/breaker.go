package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"rugsobserver/logger"
	"rugsobserver/metrics"
)

// writeBreaker opens after sustained write failures. While open, write
// calls fail fast and the pipeline continues without persistence until the
// breaker half-opens.
var writeBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "postgres-writes",
	MaxRequests: 3,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 5 && failureRatio >= 0.6
	},
	OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
		logger.Log.Warnw("Database write breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String())
	},
})

// execWrite runs a write statement through the breaker. A nil pool is not
// an error: persistence is optional and the caller keeps going.
func execWrite(ctx context.Context, op, query string, args ...any) error {
	_, err := execWriteTag(ctx, op, query, args...)
	return err
}

func execWriteTag(ctx context.Context, op, query string, args ...any) (pgconn.CommandTag, error) {
	if PostgresPool == nil {
		return pgconn.CommandTag{}, nil
	}

	res, err := writeBreaker.Execute(func() (interface{}, error) {
		return PostgresPool.Exec(ctx, query, args...)
	})
	if err != nil {
		metrics.PersistErrors.WithLabelValues(op).Inc()
		return pgconn.CommandTag{}, err
	}
	return res.(pgconn.CommandTag), nil
}
