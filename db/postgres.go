package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rugsobserver/config"
	"rugsobserver/logger"
)

var (
	// PostgresPool is the global PostgreSQL connection pool
	PostgresPool *pgxpool.Pool

	// ErrNotInitialized is returned by read functions when no pool is
	// available. Write functions skip silently instead so the live
	// pipeline keeps running without persistence.
	ErrNotInitialized = errors.New("postgres not initialized")
)

// InitPostgres initializes the PostgreSQL connection pool and schema
func InitPostgres(databaseURL string) error {
	logger.Log.Info("🔌 Connecting to PostgreSQL...")

	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = config.PGMaxConns
	poolConfig.MinConns = config.PGMinConns
	poolConfig.MaxConnLifetime = config.PGMaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	PostgresPool = pool
	logger.Log.Info("✅ PostgreSQL connected")

	return InitSchema(ctx)
}

// ClosePostgres closes the PostgreSQL connection pool
func ClosePostgres() {
	if PostgresPool != nil {
		logger.Log.Info("🔌 Closing PostgreSQL connection...")
		PostgresPool.Close()
	}
}

// InitSchema creates the database tables if they don't exist
func InitSchema(ctx context.Context) error {
	logger.Log.Info("📋 Initializing database schema...")

	// Create games table
	gamesSchema := `
	CREATE TABLE IF NOT EXISTS games (
		game_id TEXT PRIMARY KEY,
		version TEXT NOT NULL DEFAULT 'v3',
		phase TEXT NOT NULL DEFAULT 'UNKNOWN',
		start_time TIMESTAMP,
		end_time TIMESTAMP,
		server_seed_hash TEXT NOT NULL DEFAULT '',
		server_seed TEXT NOT NULL DEFAULT '',
		peak_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		total_ticks INTEGER NOT NULL DEFAULT 0,
		rug_tick INTEGER,
		end_price DOUBLE PRECISION,
		has_god_candle BOOLEAN NOT NULL DEFAULT FALSE,
		god_candle_tick INTEGER,
		quality_flags JSONB NOT NULL DEFAULT '[]',
		price_path JSONB,
		prng_verified BOOLEAN,
		verify_outcome TEXT NOT NULL DEFAULT '',
		verify_detail TEXT NOT NULL DEFAULT '',
		verified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Index on start_time for recent-games queries
	CREATE INDEX IF NOT EXISTS idx_games_start_time ON games(start_time DESC);

	-- Index on verify_outcome for audit queries
	CREATE INDEX IF NOT EXISTS idx_games_verify_outcome ON games(verify_outcome);
	`

	if _, err := PostgresPool.Exec(ctx, gamesSchema); err != nil {
		return fmt.Errorf("failed to create games table: %w", err)
	}

	// Create ticks table
	ticksSchema := `
	CREATE TABLE IF NOT EXISTS ticks (
		game_id TEXT NOT NULL,
		tick_index INTEGER NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		phase TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (game_id, tick_index)
	);
	`

	if _, err := PostgresPool.Exec(ctx, ticksSchema); err != nil {
		return fmt.Errorf("failed to create ticks table: %w", err)
	}

	// Create candles table
	candlesSchema := `
	CREATE TABLE IF NOT EXISTS candles (
		game_id TEXT NOT NULL,
		bucket_index INTEGER NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (game_id, bucket_index)
	);
	`

	if _, err := PostgresPool.Exec(ctx, candlesSchema); err != nil {
		return fmt.Errorf("failed to create candles table: %w", err)
	}

	// Create god_candles table
	godCandlesSchema := `
	CREATE TABLE IF NOT EXISTS god_candles (
		game_id TEXT NOT NULL,
		tick_index INTEGER NOT NULL,
		from_price DOUBLE PRECISION NOT NULL,
		to_price DOUBLE PRECISION NOT NULL,
		ratio DOUBLE PRECISION NOT NULL,
		under_cap BOOLEAN NOT NULL DEFAULT TRUE,
		detected_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (game_id, tick_index)
	);

	-- Index on detected_at for recent god candle queries
	CREATE INDEX IF NOT EXISTS idx_god_candles_detected_at ON god_candles(detected_at DESC);
	`

	if _, err := PostgresPool.Exec(ctx, godCandlesSchema); err != nil {
		return fmt.Errorf("failed to create god_candles table: %w", err)
	}

	// Create prng_tracking table
	trackingSchema := `
	CREATE TABLE IF NOT EXISTS prng_tracking (
		game_id TEXT PRIMARY KEY,
		server_seed_hash TEXT NOT NULL DEFAULT '',
		server_seed TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT 'v3',
		status TEXT NOT NULL DEFAULT 'TRACKING',
		outcome TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		seed_hash_match BOOLEAN,
		checked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Index on status for pending-verification scans
	CREATE INDEX IF NOT EXISTS idx_prng_tracking_status ON prng_tracking(status);
	`

	if _, err := PostgresPool.Exec(ctx, trackingSchema); err != nil {
		return fmt.Errorf("failed to create prng_tracking table: %w", err)
	}

	// Create trades table
	tradesSchema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		trade_type TEXT NOT NULL,
		qty DOUBLE PRECISION NOT NULL DEFAULT 0,
		tick_index INTEGER NOT NULL DEFAULT 0,
		coin TEXT NOT NULL DEFAULT '',
		payload JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Index on game_id for per-round trade queries
	CREATE INDEX IF NOT EXISTS idx_trades_game_id ON trades(game_id);

	-- Index on player_id for per-player queries
	CREATE INDEX IF NOT EXISTS idx_trades_player_id ON trades(player_id);
	`

	if _, err := PostgresPool.Exec(ctx, tradesSchema); err != nil {
		return fmt.Errorf("failed to create trades table: %w", err)
	}

	// Create side_bets table
	sideBetsSchema := `
	CREATE TABLE IF NOT EXISTS side_bets (
		game_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		start_tick INTEGER NOT NULL,
		end_tick INTEGER NOT NULL DEFAULT 0,
		bet_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		target_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		coin TEXT NOT NULL DEFAULT '',
		payload JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (game_id, player_id, start_tick)
	);
	`

	if _, err := PostgresPool.Exec(ctx, sideBetsSchema); err != nil {
		return fmt.Errorf("failed to create side_bets table: %w", err)
	}

	// Create events table for uninterpreted pass-through payloads
	eventsSchema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_name TEXT NOT NULL,
		payload JSONB,
		received_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Index on event_name for per-event queries
	CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);

	-- Index on received_at for time-based queries
	CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at DESC);
	`

	if _, err := PostgresPool.Exec(ctx, eventsSchema); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	// Create connection_events table
	connectionEventsSchema := `
	CREATE TABLE IF NOT EXISTS connection_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Index on at for recent connection history
	CREATE INDEX IF NOT EXISTS idx_connection_events_at ON connection_events(at DESC);
	`

	if _, err := PostgresPool.Exec(ctx, connectionEventsSchema); err != nil {
		return fmt.Errorf("failed to create connection_events table: %w", err)
	}

	// Create snapshots table
	snapshotsSchema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		game_id TEXT NOT NULL,
		tick_index INTEGER NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (game_id, tick_index)
	);
	`

	if _, err := PostgresPool.Exec(ctx, snapshotsSchema); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}

	logger.Log.Info("✅ Database schema initialized")
	return nil
}

/* =========================
   GAMES
========================= */

// UpsertGame records a round observation. Peak and tick totals only move
// up, start_time keeps its first value, and a finalized RUG phase is never
// overwritten by a late tick.
func UpsertGame(ctx context.Context, g *GameRecord) error {
	query := `
	INSERT INTO games (game_id, version, phase, start_time, peak_multiplier, total_ticks, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (game_id) DO UPDATE SET
		version = EXCLUDED.version,
		phase = CASE WHEN games.phase = 'RUG' THEN games.phase ELSE EXCLUDED.phase END,
		start_time = COALESCE(games.start_time, EXCLUDED.start_time),
		peak_multiplier = GREATEST(games.peak_multiplier, EXCLUDED.peak_multiplier),
		total_ticks = GREATEST(games.total_ticks, EXCLUDED.total_ticks),
		updated_at = NOW()
	`

	return execWrite(ctx, "game", query,
		g.GameID, g.Version, g.Phase, g.StartTime, g.PeakMultiplier, g.TotalTicks)
}

// FinalizeGameRug marks a round as rugged. The rug fields are set at most
// once; replaying the rug event does not move them.
func FinalizeGameRug(ctx context.Context, gameID string, rugTick int, endPrice float64, endTime time.Time) error {
	query := `
	INSERT INTO games (game_id, phase, rug_tick, end_price, end_time, total_ticks, updated_at)
	VALUES ($1, 'RUG', $2, $3, $4, $2, NOW())
	ON CONFLICT (game_id) DO UPDATE SET
		phase = 'RUG',
		rug_tick = COALESCE(games.rug_tick, EXCLUDED.rug_tick),
		end_price = COALESCE(games.end_price, EXCLUDED.end_price),
		end_time = COALESCE(games.end_time, EXCLUDED.end_time),
		total_ticks = GREATEST(games.total_ticks, EXCLUDED.total_ticks),
		updated_at = NOW()
	`

	return execWrite(ctx, "game", query, gameID, rugTick, endPrice, endTime)
}

// UpdateGameSeedHash records the server seed hash announced for a round
func UpdateGameSeedHash(ctx context.Context, gameID, seedHash string) error {
	query := `
	INSERT INTO games (game_id, server_seed_hash, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (game_id) DO UPDATE SET
		server_seed_hash = EXCLUDED.server_seed_hash,
		updated_at = NOW()
	`

	return execWrite(ctx, "game", query, gameID, seedHash)
}

// UpdateGameServerSeed records the revealed server seed for a round
func UpdateGameServerSeed(ctx context.Context, gameID, serverSeed string) error {
	query := `
	UPDATE games SET server_seed = $2, updated_at = NOW() WHERE game_id = $1
	`

	return execWrite(ctx, "game", query, gameID, serverSeed)
}

// UpdateGamePricePath stores the full per-tick price series reported by a
// history record. This is the preferred replay-comparison source.
func UpdateGamePricePath(ctx context.Context, gameID string, prices []float64) error {
	pathJSON, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("failed to marshal price path: %w", err)
	}

	query := `
	UPDATE games SET price_path = $2, updated_at = NOW() WHERE game_id = $1
	`

	return execWrite(ctx, "game", query, gameID, pathJSON)
}

// MarkGameGodCandle flags a round as containing a god candle
func MarkGameGodCandle(ctx context.Context, gameID string, tickIndex int) error {
	query := `
	UPDATE games SET
		has_god_candle = TRUE,
		god_candle_tick = COALESCE(games.god_candle_tick, $2),
		updated_at = NOW()
	WHERE game_id = $1
	`

	return execWrite(ctx, "game", query, gameID, tickIndex)
}

// UpdateGameQualityFlags replaces the stored quality flag set for a round
func UpdateGameQualityFlags(ctx context.Context, gameID string, flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal quality flags: %w", err)
	}

	query := `
	UPDATE games SET quality_flags = $2, updated_at = NOW() WHERE game_id = $1
	`

	return execWrite(ctx, "game", query, gameID, flagsJSON)
}

// UpdateGameVerification records the replay verdict for a round
func UpdateGameVerification(ctx context.Context, gameID, outcome, detail string, verified *bool, checkedAt time.Time) error {
	query := `
	UPDATE games SET
		verify_outcome = $2,
		verify_detail = $3,
		prng_verified = $4,
		verified_at = $5,
		updated_at = NOW()
	WHERE game_id = $1
	`

	return execWrite(ctx, "game", query, gameID, outcome, detail, verified, checkedAt)
}

// GetGame retrieves one round by game id. Returns nil if not found.
func GetGame(ctx context.Context, gameID string) (*GameRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, version, phase, start_time, end_time, server_seed_hash, server_seed,
	       peak_multiplier, total_ticks, rug_tick, end_price, has_god_candle, god_candle_tick,
	       quality_flags, price_path, prng_verified, verify_outcome, verify_detail, verified_at, updated_at
	FROM games
	WHERE game_id = $1
	`

	g, err := scanGame(PostgresPool.QueryRow(ctx, query, gameID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return g, nil
}

// GetRecentGames retrieves the most recently updated rounds
func GetRecentGames(ctx context.Context, limit int) ([]GameRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, version, phase, start_time, end_time, server_seed_hash, server_seed,
	       peak_multiplier, total_ticks, rug_tick, end_price, has_god_candle, god_candle_tick,
	       quality_flags, price_path, prng_verified, verify_outcome, verify_detail, verified_at, updated_at
	FROM games
	ORDER BY updated_at DESC
	LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent games: %w", err)
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

// scanGame scans one games row from either a Row or Rows source
func scanGame(row pgx.Row) (*GameRecord, error) {
	var g GameRecord
	var flagsJSON, pathJSON []byte

	err := row.Scan(
		&g.GameID, &g.Version, &g.Phase, &g.StartTime, &g.EndTime, &g.ServerSeedHash, &g.ServerSeed,
		&g.PeakMultiplier, &g.TotalTicks, &g.RugTick, &g.EndPrice, &g.HasGodCandle, &g.GodCandleTick,
		&flagsJSON, &pathJSON, &g.PrngVerified, &g.VerifyOutcome, &g.VerifyDetail, &g.VerifiedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &g.QualityFlags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quality flags: %w", err)
		}
	}
	if g.QualityFlags == nil {
		g.QualityFlags = []string{}
	}
	if len(pathJSON) > 0 {
		if err := json.Unmarshal(pathJSON, &g.PricePath); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price path: %w", err)
		}
	}
	return &g, nil
}

/* =========================
   TICKS
========================= */

// UpsertTick stores one price observation. Re-observing the same
// (game, tick) pair refreshes updated_at and leaves the price untouched.
func UpsertTick(ctx context.Context, t *TickRecord) error {
	query := `
	INSERT INTO ticks (game_id, tick_index, price, phase)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (game_id, tick_index) DO UPDATE SET
		updated_at = NOW()
	`

	return execWrite(ctx, "tick", query, t.GameID, t.TickIndex, t.Price, t.Phase)
}

// GetTicks retrieves ticks for a round in tick order
func GetTicks(ctx context.Context, gameID string, limit, offset int) ([]TickRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, tick_index, price, phase, created_at, updated_at
	FROM ticks
	WHERE game_id = $1
	ORDER BY tick_index ASC
	LIMIT $2 OFFSET $3
	`

	rows, err := PostgresPool.Query(ctx, query, gameID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []TickRecord
	for rows.Next() {
		var t TickRecord
		if err := rows.Scan(&t.GameID, &t.TickIndex, &t.Price, &t.Phase, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

/* =========================
   CANDLES
========================= */

// UpsertCandlePrice folds one tick price into its five-tick OHLC bucket.
// Open keeps the first observed value, high and low only widen, close
// tracks the latest in-order tick.
func UpsertCandlePrice(ctx context.Context, gameID string, bucketIndex int, price float64) error {
	query := `
	INSERT INTO candles (game_id, bucket_index, open, high, low, close)
	VALUES ($1, $2, $3, $3, $3, $3)
	ON CONFLICT (game_id, bucket_index) DO UPDATE SET
		high = GREATEST(candles.high, EXCLUDED.close),
		low = LEAST(candles.low, EXCLUDED.close),
		close = EXCLUDED.close,
		updated_at = NOW()
	`

	return execWrite(ctx, "candle", query, gameID, bucketIndex, price)
}

// GetCandles retrieves the OHLC buckets for a round in bucket order
func GetCandles(ctx context.Context, gameID string) ([]CandleBucket, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, bucket_index, open, high, low, close, updated_at
	FROM candles
	WHERE game_id = $1
	ORDER BY bucket_index ASC
	`

	rows, err := PostgresPool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []CandleBucket
	for rows.Next() {
		var c CandleBucket
		if err := rows.Scan(&c.GameID, &c.BucketIndex, &c.Open, &c.High, &c.Low, &c.Close, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

/* =========================
   GOD CANDLES
========================= */

// InsertGodCandle records a god candle event exactly once per (game, tick).
// Returns true when this call created the row, false when it already existed.
func InsertGodCandle(ctx context.Context, ev *GodCandleEvent) (bool, error) {
	// Without a pool the in-memory dedupe is the only guard, so report created.
	if PostgresPool == nil {
		return true, nil
	}

	query := `
	INSERT INTO god_candles (game_id, tick_index, from_price, to_price, ratio, under_cap, detected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (game_id, tick_index) DO NOTHING
	`

	tag, err := execWriteTag(ctx, "god_candle", query,
		ev.GameID, ev.TickIndex, ev.FromPrice, ev.ToPrice, ev.Ratio, ev.UnderCap, ev.DetectedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetGodCandles retrieves god candle events for one round
func GetGodCandles(ctx context.Context, gameID string) ([]GodCandleEvent, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, tick_index, from_price, to_price, ratio, under_cap, detected_at
	FROM god_candles
	WHERE game_id = $1
	ORDER BY tick_index ASC
	`

	return queryGodCandles(ctx, query, gameID)
}

// GetRecentGodCandles retrieves the most recent god candle events across rounds
func GetRecentGodCandles(ctx context.Context, limit int) ([]GodCandleEvent, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := `
	SELECT game_id, tick_index, from_price, to_price, ratio, under_cap, detected_at
	FROM god_candles
	ORDER BY detected_at DESC
	LIMIT $1
	`

	return queryGodCandles(ctx, query, limit)
}

func queryGodCandles(ctx context.Context, query string, args ...any) ([]GodCandleEvent, error) {
	rows, err := PostgresPool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query god candles: %w", err)
	}
	defer rows.Close()

	var events []GodCandleEvent
	for rows.Next() {
		var ev GodCandleEvent
		if err := rows.Scan(&ev.GameID, &ev.TickIndex, &ev.FromPrice, &ev.ToPrice, &ev.Ratio, &ev.UnderCap, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan god candle: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
