package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

/* =========================
   PRNG TRACKING
========================= */

// UpsertTrackingHash opens (or refreshes) the fairness record for a round
// when its server seed hash shows up on the feed
func UpsertTrackingHash(ctx context.Context, gameID, seedHash, version string) error {
	query := `
	INSERT INTO prng_tracking (game_id, server_seed_hash, version, status)
	VALUES ($1, $2, $3, 'TRACKING')
	ON CONFLICT (game_id) DO UPDATE SET
		server_seed_hash = EXCLUDED.server_seed_hash,
		version = EXCLUDED.version,
		updated_at = NOW()
	`

	return execWrite(ctx, "tracking", query, gameID, seedHash, version)
}

// CompleteTracking records the revealed server seed and moves the record
// to COMPLETE. Status never moves back to TRACKING.
func CompleteTracking(ctx context.Context, gameID, serverSeed string) error {
	query := `
	INSERT INTO prng_tracking (game_id, server_seed, status)
	VALUES ($1, $2, 'COMPLETE')
	ON CONFLICT (game_id) DO UPDATE SET
		server_seed = EXCLUDED.server_seed,
		status = 'COMPLETE',
		updated_at = NOW()
	`

	return execWrite(ctx, "tracking", query, gameID, serverSeed)
}

// UpdateTrackingResult records the replay verdict on the fairness record
func UpdateTrackingResult(ctx context.Context, gameID, outcome, detail string, seedHashMatch *bool, checkedAt time.Time) error {
	query := `
	UPDATE prng_tracking SET
		outcome = $2,
		detail = $3,
		seed_hash_match = $4,
		checked_at = $5,
		updated_at = NOW()
	WHERE game_id = $1
	`

	return execWrite(ctx, "tracking", query, gameID, outcome, detail, seedHashMatch, checkedAt)
}

// GetTracking retrieves the fairness record for one round. Returns nil if
// the round was never tracked.
func GetTracking(ctx context.Context, gameID string) (*TrackingRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := trackingSelect + ` WHERE game_id = $1`

	t, err := scanTracking(PostgresPool.QueryRow(ctx, query, gameID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tracking record: %w", err)
	}
	return t, nil
}

// GetRecentTracking retrieves the most recently updated fairness records
func GetRecentTracking(ctx context.Context, limit int) ([]TrackingRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := trackingSelect + ` ORDER BY updated_at DESC LIMIT $1`
	return queryTracking(ctx, query, limit)
}

// GetPendingVerifications retrieves rounds whose seed is revealed but whose
// replay verdict has not been recorded. Used to requeue work after a restart.
func GetPendingVerifications(ctx context.Context, limit int) ([]TrackingRecord, error) {
	if PostgresPool == nil {
		return nil, ErrNotInitialized
	}

	query := trackingSelect + ` WHERE status = 'COMPLETE' AND outcome = '' ORDER BY updated_at ASC LIMIT $1`
	return queryTracking(ctx, query, limit)
}

const trackingSelect = `
	SELECT game_id, server_seed_hash, server_seed, version, status,
	       outcome, detail, seed_hash_match, checked_at, updated_at
	FROM prng_tracking
`

func queryTracking(ctx context.Context, query string, args ...any) ([]TrackingRecord, error) {
	rows, err := PostgresPool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking records: %w", err)
	}
	defer rows.Close()

	var records []TrackingRecord
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracking record: %w", err)
		}
		records = append(records, *t)
	}
	return records, rows.Err()
}

func scanTracking(row pgx.Row) (*TrackingRecord, error) {
	var t TrackingRecord
	err := row.Scan(
		&t.GameID, &t.ServerSeedHash, &t.ServerSeed, &t.Version, &t.Status,
		&t.Outcome, &t.Detail, &t.SeedHashMatch, &t.CheckedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
