package ws

import (
	"time"
)

// SchemaVersion is stamped on every outbound frame
const SchemaVersion = 1

// Broadcast channels. Every frame goes out on exactly one channel;
// consumers subscribe to the views they want.
const (
	// ChannelFeed carries the live price stream: game_state_update,
	// god_candle and rug frames
	ChannelFeed = "feed"

	// ChannelTrades carries new_trade and side_bet frames
	ChannelTrades = "trades"

	// ChannelGames carries round lifecycle frames: round summaries on
	// finalize and verification verdicts
	ChannelGames = "games"
)

// Outbound frame types
const (
	FrameGameStateUpdate = "game_state_update"
	FrameGodCandle       = "god_candle"
	FrameRug             = "rug"
	FrameNewTrade        = "new_trade"
	FrameSideBet         = "side_bet"
	FrameRoundSummary    = "round_summary"
	FrameRoundSnapshot   = "round_snapshot"
	FrameVerification    = "verification"
	FrameConnection      = "connection"
)

// Frame is the envelope for every message the hub publishes
type Frame struct {
	Type      string      `json:"type"`
	Schema    int         `json:"v"`
	GameID    string      `json:"gameId,omitempty"`
	Timestamp time.Time   `json:"ts"`
	Data      interface{} `json:"data,omitempty"`
}

// NewFrame stamps the envelope around a payload
func NewFrame(frameType, gameID string, data interface{}) Frame {
	return Frame{
		Type:      frameType,
		Schema:    SchemaVersion,
		GameID:    gameID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// TickPayload is the data body of a game_state_update frame
type TickPayload struct {
	Phase     string  `json:"phase"`
	Price     float64 `json:"price"`
	TickIndex int     `json:"tickIndex"`
	Peak      float64 `json:"peakMultiplier"`
	Cooldown  float64 `json:"cooldownTimer,omitempty"`
}

// RugPayload is the data body of a rug frame
type RugPayload struct {
	RugTick    int     `json:"rugTick"`
	EndPrice   float64 `json:"endPrice"`
	Peak       float64 `json:"peakMultiplier"`
	TotalTicks int     `json:"totalTicks"`
}

// ConnectionPayload is the data body of a connection frame
type ConnectionPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}
