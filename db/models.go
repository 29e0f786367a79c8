package db

import (
	"time"
)

// GameRecord is the canonical persisted view of one observed round, keyed
// by the upstream game id. Created on the first active tick, updated
// incrementally, finalized on the rug, annotated when verification lands.
type GameRecord struct {
	GameID         string     `json:"gameId"`
	Version        string     `json:"version"`
	Phase          string     `json:"phase"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	ServerSeedHash string     `json:"serverSeedHash,omitempty"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	PeakMultiplier float64    `json:"peakMultiplier"`
	TotalTicks     int        `json:"totalTicks"`
	RugTick        *int       `json:"rugTick,omitempty"`
	EndPrice       *float64   `json:"endPrice,omitempty"`
	HasGodCandle   bool       `json:"hasGodCandle"`
	GodCandleTick  *int       `json:"godCandleTick,omitempty"`
	QualityFlags   []string   `json:"qualityFlags"`
	PricePath      []float64  `json:"pricePath,omitempty"`
	PrngVerified   *bool      `json:"prngVerified,omitempty"`
	VerifyOutcome  string     `json:"verifyOutcome,omitempty"`
	VerifyDetail   string     `json:"verifyDetail,omitempty"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TickRecord is one price observation, keyed by (game, tick). Re-observing
// the same tick refreshes updated_at and nothing else.
type TickRecord struct {
	GameID    string    `json:"gameId"`
	TickIndex int       `json:"tickIndex"`
	Price     float64   `json:"price"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CandleBucket is the five-tick OHLC compaction row.
type CandleBucket struct {
	GameID      string    `json:"gameId"`
	BucketIndex int       `json:"bucketIndex"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GodCandleEvent records one extreme single-tick move, unique per
// (game, tick).
type GodCandleEvent struct {
	GameID     string    `json:"gameId"`
	TickIndex  int       `json:"tickIndex"`
	FromPrice  float64   `json:"fromPrice"`
	ToPrice    float64   `json:"toPrice"`
	Ratio      float64   `json:"ratio"`
	UnderCap   bool      `json:"underCap"`
	DetectedAt time.Time `json:"detectedAt"`
}

// TrackingRecord carries the provable-fairness bookkeeping for one round.
// Status moves TRACKING -> COMPLETE and never back.
type TrackingRecord struct {
	GameID         string     `json:"gameId"`
	ServerSeedHash string     `json:"serverSeedHash,omitempty"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	Version        string     `json:"version"`
	Status         string     `json:"status"`
	Outcome        string     `json:"outcome,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	SeedHashMatch  *bool      `json:"seedHashMatch,omitempty"`
	CheckedAt      *time.Time `json:"checkedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

const (
	TrackingStatusTracking = "TRACKING"
	TrackingStatusComplete = "COMPLETE"
)

// TradeRecord is one player trade as reported by the feed.
type TradeRecord struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	PlayerID  string    `json:"playerId"`
	Type      string    `json:"type"`
	Qty       float64   `json:"qty"`
	TickIndex int       `json:"tickIndex"`
	Coin      string    `json:"coin,omitempty"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// SideBetRecord is one side bet as reported by the feed.
type SideBetRecord struct {
	GameID        string    `json:"gameId"`
	PlayerID      string    `json:"playerId"`
	StartTick     int       `json:"startTick"`
	EndTick       int       `json:"endTick"`
	BetAmount     float64   `json:"betAmount"`
	TargetSeconds float64   `json:"targetSeconds"`
	Coin          string    `json:"coin,omitempty"`
	Payload       []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RawEvent is the pass-through row for event names the dispatcher does not
// interpret.
type RawEvent struct {
	ID         string    `json:"id"`
	EventName  string    `json:"eventName"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ConnectionEvent is one entry in the upstream connection audit trail.
type ConnectionEvent struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"` // connected / disconnected / error
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// SnapshotRecord preserves a raw gameStateUpdate payload for a round; the
// latest one is the fallback price-path source for verification.
type SnapshotRecord struct {
	GameID    string    `json:"gameId"`
	TickIndex int       `json:"tickIndex"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
