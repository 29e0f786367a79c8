package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rugsobserver/config"
	"rugsobserver/logger"
)

var (
	// RedisClient is the global Redis client instance
	RedisClient *redis.Client
)

// LiveState is the hot mirror of the feed state, refreshed on every
// processed tick and read by the live endpoint without touching PostgreSQL.
type LiveState struct {
	GameID    string    `json:"gameId"`
	Phase     string    `json:"phase"`
	Price     float64   `json:"price"`
	TickIndex int       `json:"tickIndex"`
	Peak      float64   `json:"peakMultiplier"`
	Connected bool      `json:"connected"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InitRedis initializes the Redis client connection
func InitRedis(redisURL string) error {
	logger.Log.Info("🔌 Connecting to Redis...")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		// Accept bare host:port values as well as redis:// URLs
		opts = &redis.Options{Addr: redisURL}
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	RedisClient = client
	logger.Log.Infof("✅ Redis connected successfully - Addr: %s", opts.Addr)
	return nil
}

// CloseRedis closes the Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		logger.Log.Info("🔌 Closing Redis connection...")
		return RedisClient.Close()
	}
	return nil
}

/* =========================
   LIVE STATE (Hash Structure)
   Redis Key: rugs:live -> Hash{field: value}
========================= */

// UpdateLiveState refreshes the hot live-state hash
func UpdateLiveState(ctx context.Context, s *LiveState) error {
	if RedisClient == nil {
		return nil
	}

	fields := map[string]interface{}{
		"gameId":     s.GameID,
		"phase":      s.Phase,
		"price":      s.Price,
		"tickIndex":  s.TickIndex,
		"peak":       s.Peak,
		"connected":  s.Connected,
		"updated_at": s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if err := RedisClient.HSet(ctx, config.RedisLiveStateKey, fields).Err(); err != nil {
		return fmt.Errorf("failed to update live state: %w", err)
	}

	// Keep the hash from outliving a dead observer
	RedisClient.Expire(ctx, config.RedisLiveStateKey, config.LiveStateTTL)

	return nil
}

// GetLiveState retrieves the hot live-state hash. Returns nil when no live
// state has been written or it has expired.
func GetLiveState(ctx context.Context) (*LiveState, error) {
	if RedisClient == nil {
		return nil, ErrNotInitialized
	}

	data, err := RedisClient.HGetAll(ctx, config.RedisLiveStateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get live state: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	s := &LiveState{
		GameID: data["gameId"],
		Phase:  data["phase"],
	}
	s.Price, _ = strconv.ParseFloat(data["price"], 64)
	s.TickIndex, _ = strconv.Atoi(data["tickIndex"])
	s.Peak, _ = strconv.ParseFloat(data["peak"], 64)
	s.Connected, _ = strconv.ParseBool(data["connected"])
	if ts, err := time.Parse(time.RFC3339Nano, data["updated_at"]); err == nil {
		s.UpdatedAt = ts
	}

	return s, nil
}

/* =========================
   GAME SUMMARY CACHE
   Redis Key: rugs:game:{gameId} -> JSON, rugs:games:recent -> List
========================= */

// CacheGameSummary stores a finished round summary with a TTL and pushes
// its id onto the recent-games list
func CacheGameSummary(ctx context.Context, g *GameRecord) error {
	if RedisClient == nil {
		return nil
	}

	key := fmt.Sprintf(config.RedisGameKey, g.GameID)

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal game summary: %w", err)
	}

	if err := RedisClient.Set(ctx, key, data, config.GameCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache game summary: %w", err)
	}

	// Maintain the recent-games list, newest first
	pipe := RedisClient.Pipeline()
	pipe.LPush(ctx, config.RedisRecentGamesKey, g.GameID)
	pipe.LTrim(ctx, config.RedisRecentGamesKey, 0, int64(config.RecentGamesListMax-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update recent games list: %w", err)
	}

	logger.Log.Debugf("📦 Cached game summary - Game: %s, Peak: %.2fx", g.GameID, g.PeakMultiplier)
	return nil
}

// GetCachedGame retrieves a cached round summary. Returns nil on a cache miss.
func GetCachedGame(ctx context.Context, gameID string) (*GameRecord, error) {
	if RedisClient == nil {
		return nil, ErrNotInitialized
	}

	key := fmt.Sprintf(config.RedisGameKey, gameID)

	data, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached game: %w", err)
	}

	var g GameRecord
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached game: %w", err)
	}

	return &g, nil
}

// GetRecentGameIDs retrieves the newest cached round ids
func GetRecentGameIDs(ctx context.Context, limit int) ([]string, error) {
	if RedisClient == nil {
		return nil, ErrNotInitialized
	}

	ids, err := RedisClient.LRange(ctx, config.RedisRecentGamesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent game ids: %w", err)
	}

	return ids, nil
}

/* =========================
   HEALTH CHECK
========================= */

// RedisHealth performs a Redis health check
func RedisHealth(ctx context.Context) error {
	if RedisClient == nil {
		return ErrNotInitialized
	}
	return RedisClient.Ping(ctx).Err()
}

// PostgresHealth performs a PostgreSQL health check
func PostgresHealth(ctx context.Context) error {
	if PostgresPool == nil {
		return ErrNotInitialized
	}
	return PostgresPool.Ping(ctx)
}
