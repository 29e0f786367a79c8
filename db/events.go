package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

/* =========================
   TRADES
========================= */

// InsertTrade stores one player trade. Replayed trade events with the same
// id are ignored.
func InsertTrade(ctx context.Context, t *TradeRecord) error {
	query := `
	INSERT INTO trades (id, game_id, player_id, trade_type, qty, tick_index, coin, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
	`

	return execWrite(ctx, "trade", query,
		t.ID, t.GameID, t.PlayerID, t.Type, t.Qty, t.TickIndex, t.Coin, t.Payload, t.CreatedAt)
}

// GetTrades retrieves trades for one round in arrival order
func GetTrades(ctx context.Context, gameID string, limit int) ([]TradeRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT id, game_id, player_id, trade_type, qty, tick_index, coin, created_at
	FROM trades
	WHERE game_id = $1
	ORDER BY created_at ASC
	LIMIT $2
	`

	rows, err := PostgresPool.Query(ctx, query, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.GameID, &t.PlayerID, &t.Type, &t.Qty, &t.TickIndex, &t.Coin, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

/* =========================
   SIDE BETS
========================= */

// InsertSideBet stores one side bet, keyed by (game, player, start tick)
func InsertSideBet(ctx context.Context, b *SideBetRecord) error {
	query := `
	INSERT INTO side_bets (game_id, player_id, start_tick, end_tick, bet_amount, target_seconds, coin, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (game_id, player_id, start_tick) DO NOTHING
	`

	return execWrite(ctx, "side_bet", query,
		b.GameID, b.PlayerID, b.StartTick, b.EndTick, b.BetAmount, b.TargetSeconds, b.Coin, b.Payload, b.CreatedAt)
}

// GetSideBets retrieves side bets for one round
func GetSideBets(ctx context.Context, gameID string, limit int) ([]SideBetRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, player_id, start_tick, end_tick, bet_amount, target_seconds, coin, created_at
	FROM side_bets
	WHERE game_id = $1
	ORDER BY start_tick ASC
	LIMIT $2
	`

	rows, err := PostgresPool.Query(ctx, query, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query side bets: %w", err)
	}
	defer rows.Close()

	var bets []SideBetRecord
	for rows.Next() {
		var b SideBetRecord
		if err := rows.Scan(&b.GameID, &b.PlayerID, &b.StartTick, &b.EndTick, &b.BetAmount, &b.TargetSeconds, &b.Coin, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan side bet: %w", err)
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

/* =========================
   RAW EVENTS
========================= */

// InsertRawEvent stores an uninterpreted feed payload for later analysis
func InsertRawEvent(ctx context.Context, ev *RawEvent) error {
	query := `
	INSERT INTO events (id, event_name, payload, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING
	`

	return execWrite(ctx, "event", query, ev.ID, ev.EventName, ev.Payload, ev.ReceivedAt)
}

// CountRawEvents returns per-event-name counts for the observability endpoint
func CountRawEvents(ctx context.Context, limit int) (map[string]int, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT event_name, COUNT(*) AS n
	FROM events
	GROUP BY event_name
	ORDER BY n DESC
	LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count raw events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

/* =========================
   CONNECTION EVENTS
========================= */

// InsertConnectionEvent appends one entry to the upstream connection audit trail
func InsertConnectionEvent(ctx context.Context, ev *ConnectionEvent) error {
	query := `
	INSERT INTO connection_events (id, kind, detail, at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING
	`

	return execWrite(ctx, "connection", query, ev.ID, ev.Kind, ev.Detail, ev.At)
}

// GetRecentConnectionEvents retrieves the latest connection audit entries
func GetRecentConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT id, kind, detail, at
	FROM connection_events
	ORDER BY at DESC
	LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection events: %w", err)
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Detail, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

/* =========================
   SNAPSHOTS
========================= */

// UpsertSnapshot preserves a raw game state payload for a round
func UpsertSnapshot(ctx context.Context, s *SnapshotRecord) error {
	query := `
	INSERT INTO snapshots (game_id, tick_index, payload, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (game_id, tick_index) DO NOTHING
	`

	return execWrite(ctx, "snapshot", query, s.GameID, s.TickIndex, s.Payload, s.CreatedAt)
}

// GetLatestSnapshot retrieves the highest-tick snapshot stored for a round.
// Returns nil if the round has no snapshots.
func GetLatestSnapshot(ctx context.Context, gameID string) (*SnapshotRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, tick_index, payload, created_at
	FROM snapshots
	WHERE game_id = $1
	ORDER BY tick_index DESC
	LIMIT 1
	`

	var s SnapshotRecord
	err := PostgresPool.QueryRow(ctx, query, gameID).Scan(&s.GameID, &s.TickIndex, &s.Payload, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}
