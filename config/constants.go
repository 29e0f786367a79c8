package config

import "time"

/* =========================
   OBSERVER PARAMETERS
========================= */

const (
	// OHLC compaction: one bucket per 5 ticks
	BucketSize = 5

	// Absolute slack applied to the god-candle ratio test
	GodCandleEpsilon = 1e-6

	// Tick index advancing by more than this sets the largeGap quality flag
	TickGapThreshold = 10

	// In-memory per-round state cache capacity (evict oldest by last tick)
	RoundCacheCapacity = 64

	// Every Nth gameStateUpdate is persisted as a raw snapshot
	SnapshotEvery = 25
)

/* =========================
   BROADCAST / WEBSOCKET
========================= */

const (
	// Per-subscriber delivery timeout for one publish
	BroadcastSendTimeout = 1 * time.Second

	WSReadDeadline  = 60 * time.Second
	WSWriteDeadline = 10 * time.Second
	WSPingInterval  = 30 * time.Second

	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024

	MaxMessageSize = 512 * 1024 // 512KB

	// Outbound queue per subscriber before the hub considers it stalled
	SubscriberQueueSize = 256
)

/* =========================
   INGESTION / RECONNECT
========================= */

const (
	BackoffInitial = 1 * time.Second
	BackoffMax     = 30 * time.Second

	// Verification task queue
	VerifyQueueSize = 128
	VerifyWorkers   = 2
)

/* =========================
   REDIS KEY PATTERNS
========================= */

const (
	// Live state singleton hash mirroring the latest observed game state
	RedisLiveStateKey = "rugs:live"

	// Per-round cached summary
	// rugs:game:{gameId}
	RedisGameKey = "rugs:game:%s"

	// Most recent round ids, newest first (LPUSH + LTRIM)
	RedisRecentGamesKey = "rugs:games:recent"

	// Cap on the recent-games list length
	RecentGamesListMax = 100
)

/* =========================
   REDIS TTL CONFIGURATION
========================= */

const (
	// Per-round summary hash TTL
	GameCacheTTL = 24 * time.Hour

	// Live state is refreshed on every tick; a short TTL lets consumers
	// detect a stalled feed
	LiveStateTTL = 5 * time.Minute
)

/* =========================
   POSTGRES CONFIGURATION
========================= */

const (
	PGMaxConns        = 25
	PGMinConns        = 5
	PGMaxConnLifetime = 5 * time.Minute
)

/* =========================
   API CONFIGURATION
========================= */

const (
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = "8080"

	AllowOrigin = "*"

	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)
