package state

import (
	"sort"
	"time"
)

// Advisory tick quality flags. Non-fatal; they annotate records and metrics
// but never stop processing.
const (
	FlagDuplicateOrOutOfOrder = "duplicateOrOutOfOrder"
	FlagLargeGap              = "largeGap"
	FlagPriceNonPositive      = "priceNonPositive"
)

// RoundState is the tracker's mutable view of one round. Fields are owned
// by the single ingest goroutine; everyone else reads value snapshots taken
// through the cache.
type RoundState struct {
	RoundID       string
	StartTime     time.Time
	Peak          float64
	LastPrice     float64
	LastTick      int
	TicksSeen     int
	GodCandleSeen bool
	LastSeen      time.Time

	qualityFlags   map[string]bool
	godCandleTicks map[int]bool
	rugSeen        bool
}

func NewRoundState(roundID string, now time.Time) *RoundState {
	return &RoundState{
		RoundID:        roundID,
		StartTime:      now,
		Peak:           0,
		LastTick:       -1,
		LastSeen:       now,
		qualityFlags:   make(map[string]bool),
		godCandleTicks: make(map[int]bool),
	}
}

// MarkGodCandle records a god candle at a tick and reports whether the
// (round, tick) pair is new. Replayed events for the same tick report false.
func (s *RoundState) MarkGodCandle(tick int) bool {
	if s.godCandleTicks[tick] {
		return false
	}
	s.godCandleTicks[tick] = true
	s.GodCandleSeen = true
	return true
}

// MarkRugged reports whether this is the first rug observation for the round.
func (s *RoundState) MarkRugged() bool {
	if s.rugSeen {
		return false
	}
	s.rugSeen = true
	return true
}

// Flag records a quality flag and reports whether it was newly raised.
func (s *RoundState) Flag(name string) bool {
	if s.qualityFlags[name] {
		return false
	}
	s.qualityFlags[name] = true
	return true
}

// Flags returns the raised flags in stable order.
func (s *RoundState) Flags() []string {
	out := make([]string, 0, len(s.qualityFlags))
	for f := range s.qualityFlags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Snapshot is a value copy safe to hand across goroutines.
func (s *RoundState) Snapshot() RoundSnapshot {
	return RoundSnapshot{
		RoundID:       s.RoundID,
		StartTime:     s.StartTime,
		Peak:          s.Peak,
		LastPrice:     s.LastPrice,
		LastTick:      s.LastTick,
		TicksSeen:     s.TicksSeen,
		GodCandleSeen: s.GodCandleSeen,
		QualityFlags:  s.Flags(),
	}
}

type RoundSnapshot struct {
	RoundID       string    `json:"gameId"`
	StartTime     time.Time `json:"startTime"`
	Peak          float64   `json:"peakMultiplier"`
	LastPrice     float64   `json:"lastPrice"`
	LastTick      int       `json:"lastTick"`
	TicksSeen     int       `json:"ticksSeen"`
	GodCandleSeen bool      `json:"hasGodCandle"`
	QualityFlags  []string  `json:"qualityFlags"`
}
