// Package ingest consumes the upstream feed and turns raw events into
// tracked round state, persisted records and broadcast frames. One
// goroutine owns the whole pipeline; handlers never run concurrently.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"rugsobserver/config"
	"rugsobserver/db"
	"rugsobserver/game"
	"rugsobserver/logger"
	"rugsobserver/metrics"
	"rugsobserver/state"
	"rugsobserver/verify"
	"rugsobserver/ws"
)

// Upstream event names
const (
	EventGameStateUpdate = "gameStateUpdate"
	EventNewTrade        = "newTrade"
	EventNewSideBet      = "newSideBet"
)

type provablyFair struct {
	ServerSeedHash string `json:"serverSeedHash"`
	ServerSeed     string `json:"serverSeed"`
	Version        string `json:"version"`
}

type historyEntry struct {
	ID             string        `json:"id"`
	GameID         string        `json:"gameId"`
	Prices         []float64     `json:"prices"`
	PeakMultiplier float64       `json:"peakMultiplier"`
	ProvablyFair   *provablyFair `json:"provablyFair"`
}

// roundID tolerates both id spellings the feed has used for history entries
func (h *historyEntry) roundID() string {
	if h.ID != "" {
		return h.ID
	}
	return h.GameID
}

// gameStateUpdate mirrors the upstream event of the same name. Price and
// TickCount are pointers so absent fields can fall back to defaults instead
// of zero values.
type gameStateUpdate struct {
	GameID            string         `json:"gameId"`
	Active            bool           `json:"active"`
	Rugged            bool           `json:"rugged"`
	Price             *float64       `json:"price"`
	TickCount         *int           `json:"tickCount"`
	CooldownTimer     float64        `json:"cooldownTimer"`
	AllowPreRoundBuys bool           `json:"allowPreRoundBuys"`
	Prices            []float64      `json:"prices"`
	ProvablyFair      *provablyFair  `json:"provablyFair"`
	GameHistory       []historyEntry `json:"gameHistory"`
}

type tradeEvent struct {
	ID        string  `json:"id"`
	GameID    string  `json:"gameId"`
	PlayerID  string  `json:"playerId"`
	Type      string  `json:"type"`
	Qty       float64 `json:"qty"`
	TickIndex int     `json:"tickIndex"`
	Coin      string  `json:"coin"`
}

type sideBetEvent struct {
	GameID        string  `json:"gameId"`
	PlayerID      string  `json:"playerId"`
	StartTick     int     `json:"startTick"`
	EndTick       int     `json:"endTick"`
	BetAmount     float64 `json:"betAmount"`
	TargetSeconds float64 `json:"targetSeconds"`
	Coin          string  `json:"coin"`
}

// Tracker applies feed events to round state. All methods run on the
// session's read goroutine; fields need no locking.
type Tracker struct {
	cache    *state.RoundCache
	hub      *ws.Hub
	verifier *verify.Service

	version       game.Version
	snapshotEvery int

	// Last seed hash announcement, kept to avoid re-upserting on every tick.
	lastSeedGame string
	lastSeedHash string

	connected bool
}

func NewTracker(cfg *config.Config, cache *state.RoundCache, hub *ws.Hub, verifier *verify.Service) *Tracker {
	return &Tracker{
		cache:         cache,
		hub:           hub,
		verifier:      verifier,
		version:       game.ParseVersion(cfg.FeedVersion),
		snapshotEvery: cfg.SnapshotEvery,
	}
}

// SetConnected records upstream connectivity for the live state record.
// Called from the same goroutine that dispatches events.
func (t *Tracker) SetConnected(connected bool) {
	t.connected = connected
}

// Dispatch routes one raw upstream event. Unknown events are archived
// rather than dropped.
func (t *Tracker) Dispatch(ctx context.Context, event string, payload []byte) {
	switch event {
	case EventGameStateUpdate:
		t.handleGameState(ctx, payload)
	case EventNewTrade:
		t.handleTrade(ctx, payload)
	case EventNewSideBet:
		t.handleSideBet(ctx, payload)
	default:
		t.handlePassthrough(ctx, event, payload)
	}
}

func (t *Tracker) handleGameState(ctx context.Context, payload []byte) {
	var ev gameStateUpdate
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Log.Warnf("⚠️  Malformed gameStateUpdate: %v", err)
		return
	}

	// History entries name completed rounds, so they are processed even
	// when the frame carries no current game id.
	if len(ev.GameHistory) > 0 {
		t.handleHistory(ctx, ev.GameHistory)
	}
	if ev.GameID == "" {
		return
	}

	// Partial frames fall back to round-start values
	price := game.StartingPrice
	if ev.Price != nil {
		price = *ev.Price
	}
	tick := 0
	if ev.TickCount != nil {
		tick = *ev.TickCount
	}

	now := time.Now().UTC()
	phase := state.ClassifyPhase(ev.Active, ev.Rugged, ev.CooldownTimer, ev.AllowPreRoundBuys)

	if ev.ProvablyFair != nil {
		t.noteSeedHash(ctx, ev.GameID, ev.ProvablyFair)
	}

	rs, tracked := t.cache.Get(ev.GameID)
	if !tracked && ev.Active {
		rs = t.openRound(ctx, ev.GameID, price, tick, now)
		tracked = true
	}

	if tracked && ev.Active {
		t.processTick(ctx, rs, &ev, price, tick, now)
	}

	if ev.Rugged {
		t.handleRug(ctx, ev.GameID, price, tick, now)
	}

	if tracked && len(ev.Prices) > 0 && (ev.Rugged || (t.snapshotEvery > 0 && tick%t.snapshotEvery == 0)) {
		t.storeSnapshot(ctx, ev.GameID, tick, ev.Prices, now)
	}

	t.publishLive(ctx, &ev, rs, phase, price, tick, now)
}

// noteSeedHash opens the fairness record when a round's commitment shows up.
// The upsert runs once per (round, hash) pair, not once per tick.
func (t *Tracker) noteSeedHash(ctx context.Context, gameID string, pf *provablyFair) {
	if pf.ServerSeedHash == "" {
		return
	}
	if pf.Version != "" {
		t.version = game.ParseVersion(pf.Version)
	}
	if gameID == t.lastSeedGame && pf.ServerSeedHash == t.lastSeedHash {
		return
	}
	t.lastSeedGame = gameID
	t.lastSeedHash = pf.ServerSeedHash

	if err := db.UpsertTrackingHash(ctx, gameID, pf.ServerSeedHash, string(t.version)); err != nil {
		logger.Log.Warnf("⚠️  Failed to open fairness record for %s: %v", gameID, err)
	}
	if err := db.UpdateGameSeedHash(ctx, gameID, pf.ServerSeedHash); err != nil {
		logger.Log.Warnf("⚠️  Failed to stamp seed hash on game %s: %v", gameID, err)
	}
	logger.Log.Infow("🔐 Tracking seed hash",
		"gameId", gameID,
		"serverSeedHash", pf.ServerSeedHash,
		"version", t.version,
	)
}

func (t *Tracker) openRound(ctx context.Context, gameID string, price float64, tick int, now time.Time) *state.RoundState {
	rs := state.NewRoundState(gameID, now)
	t.cache.Put(rs)
	t.cache.SetCurrent(gameID)
	metrics.RoundsTracked.Inc()

	startTime := now
	rec := &db.GameRecord{
		GameID:         gameID,
		Version:        string(t.version),
		Phase:          string(state.PhaseActive),
		StartTime:      &startTime,
		PeakMultiplier: price,
		TotalTicks:     tick,
		UpdatedAt:      now,
	}
	if err := db.UpsertGame(ctx, rec); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist new round %s: %v", gameID, err)
	}

	logger.Log.Infow("🎮 New round",
		"gameId", gameID,
		"tick", tick,
		"price", price,
	)
	return rs
}

func (t *Tracker) processTick(ctx context.Context, rs *state.RoundState, ev *gameStateUpdate, price float64, tick int, now time.Time) {
	gameID := rs.RoundID

	// Quality checks are advisory; the tick is processed either way.
	raised := false
	if rs.LastTick >= 0 && tick <= rs.LastTick {
		metrics.QualityFlags.WithLabelValues(state.FlagDuplicateOrOutOfOrder).Inc()
		raised = rs.Flag(state.FlagDuplicateOrOutOfOrder) || raised
	}
	if rs.LastTick >= 0 && tick > rs.LastTick+config.TickGapThreshold {
		metrics.QualityFlags.WithLabelValues(state.FlagLargeGap).Inc()
		raised = rs.Flag(state.FlagLargeGap) || raised
	}
	if price <= 0 {
		metrics.QualityFlags.WithLabelValues(state.FlagPriceNonPositive).Inc()
		raised = rs.Flag(state.FlagPriceNonPositive) || raised
	}
	if raised {
		if err := db.UpdateGameQualityFlags(ctx, gameID, rs.Flags()); err != nil {
			logger.Log.Warnf("⚠️  Failed to persist quality flags for %s: %v", gameID, err)
		}
	}

	// God candle detection compares against the previous observed price,
	// preferring the in-event series over tracker memory.
	prev := rs.LastPrice
	if n := len(ev.Prices); n >= 2 {
		prev = ev.Prices[n-2]
	}
	if t.version == game.V3 && prev > 0 {
		ratio := price / prev
		if ratio >= game.GodCandleMove-config.GodCandleEpsilon {
			t.recordGodCandle(ctx, rs, prev, price, ratio, tick, now)
		}
	}

	if price > rs.Peak {
		rs.Peak = price
	}
	rs.TicksSeen = tick
	rs.LastPrice = price
	rs.LastTick = tick
	rs.LastSeen = now

	if err := db.UpsertTick(ctx, &db.TickRecord{
		GameID:    gameID,
		TickIndex: tick,
		Price:     price,
		Phase:     string(state.PhaseActive),
		CreatedAt: now,
	}); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist tick %d for %s: %v", tick, gameID, err)
	}
	if tick >= 0 {
		if err := db.UpsertCandlePrice(ctx, gameID, tick/config.BucketSize, price); err != nil {
			logger.Log.Warnf("⚠️  Failed to persist candle for %s: %v", gameID, err)
		}
	}
	if err := db.UpsertGame(ctx, &db.GameRecord{
		GameID:         gameID,
		Version:        string(t.version),
		Phase:          string(state.PhaseActive),
		PeakMultiplier: rs.Peak,
		TotalTicks:     tick,
		UpdatedAt:      now,
	}); err != nil {
		logger.Log.Warnf("⚠️  Failed to update round %s: %v", gameID, err)
	}

	t.cache.PublishSnapshot(rs.Snapshot())
}

func (t *Tracker) recordGodCandle(ctx context.Context, rs *state.RoundState, from, to, ratio float64, tick int, now time.Time) {
	if !rs.MarkGodCandle(tick) {
		return
	}

	ev := &db.GodCandleEvent{
		GameID:     rs.RoundID,
		TickIndex:  tick,
		FromPrice:  from,
		ToPrice:    to,
		Ratio:      ratio,
		UnderCap:   from <= game.GodCandleCap,
		DetectedAt: now,
	}
	created, err := db.InsertGodCandle(ctx, ev)
	if err != nil {
		logger.Log.Warnf("⚠️  Failed to persist god candle for %s: %v", rs.RoundID, err)
		// The in-memory mark is the authoritative dedupe here.
		created = true
	}
	if !created {
		return
	}

	metrics.GodCandles.Inc()
	if err := db.MarkGameGodCandle(ctx, rs.RoundID, tick); err != nil {
		logger.Log.Warnf("⚠️  Failed to mark god candle on game %s: %v", rs.RoundID, err)
	}
	t.hub.Publish(ws.ChannelFeed, ws.NewFrame(ws.FrameGodCandle, rs.RoundID, ev))
	logger.Log.Infow("🕯️  God candle",
		"gameId", rs.RoundID,
		"tick", tick,
		"from", from,
		"to", to,
		"ratio", ratio,
	)
}

func (t *Tracker) handleRug(ctx context.Context, gameID string, price float64, tick int, now time.Time) {
	rs, ok := t.cache.Get(gameID)
	if !ok {
		// Rug for a round we never saw live; track it so replays dedupe.
		rs = state.NewRoundState(gameID, now)
		t.cache.Put(rs)
	}
	if !rs.MarkRugged() {
		return
	}
	rs.LastSeen = now

	peak := price
	if rs.Peak > peak {
		peak = rs.Peak
	}
	ticks := tick
	if rs.TicksSeen > ticks {
		ticks = rs.TicksSeen
	}

	if err := db.FinalizeGameRug(ctx, gameID, tick, price, now); err != nil {
		logger.Log.Warnf("⚠️  Failed to finalize rug for %s: %v", gameID, err)
	}

	t.hub.Publish(ws.ChannelFeed, ws.NewFrame(ws.FrameRug, gameID, ws.RugPayload{
		RugTick:    tick,
		EndPrice:   price,
		Peak:       peak,
		TotalTicks: ticks,
	}))

	rugTick := tick
	endPrice := price
	startTime := rs.StartTime
	summary := &db.GameRecord{
		GameID:         gameID,
		Version:        string(t.version),
		Phase:          string(state.PhaseRug),
		StartTime:      &startTime,
		EndTime:        &now,
		PeakMultiplier: peak,
		TotalTicks:     ticks,
		RugTick:        &rugTick,
		EndPrice:       &endPrice,
		HasGodCandle:   rs.GodCandleSeen,
		QualityFlags:   rs.Flags(),
		UpdatedAt:      now,
	}
	if t.lastSeedGame == gameID {
		summary.ServerSeedHash = t.lastSeedHash
	}

	// Peak and tick totals ride the regular upsert, which never lets
	// them regress.
	if err := db.UpsertGame(ctx, summary); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist rug summary for %s: %v", gameID, err)
	}
	if err := db.CacheGameSummary(ctx, summary); err != nil {
		logger.Log.Debugf("Failed to cache rug summary for %s: %v", gameID, err)
	}
	t.hub.Publish(ws.ChannelGames, ws.NewFrame(ws.FrameRoundSummary, gameID, summary))

	logger.Log.Infow("💥 Rug",
		"gameId", gameID,
		"rugTick", tick,
		"endPrice", price,
		"peak", peak,
		"ticks", ticks,
	)
}

// handleHistory sweeps completed rounds out of the feed's history block.
// Revealed seeds move their fairness records to COMPLETE and queue a replay.
func (t *Tracker) handleHistory(ctx context.Context, entries []historyEntry) {
	for i := range entries {
		h := &entries[i]
		id := h.roundID()
		if id == "" || h.ProvablyFair == nil || h.ProvablyFair.ServerSeed == "" {
			continue
		}

		now := time.Now().UTC()
		version := string(t.version)
		if h.ProvablyFair.Version != "" {
			version = string(game.ParseVersion(h.ProvablyFair.Version))
		}

		if h.ProvablyFair.ServerSeedHash != "" {
			if err := db.UpsertTrackingHash(ctx, id, h.ProvablyFair.ServerSeedHash, version); err != nil {
				logger.Log.Warnf("⚠️  Failed to backfill seed hash for %s: %v", id, err)
			}
		}
		if err := db.CompleteTracking(ctx, id, h.ProvablyFair.ServerSeed); err != nil {
			logger.Log.Warnf("⚠️  Failed to complete fairness record for %s: %v", id, err)
		}
		if err := db.UpdateGameServerSeed(ctx, id, h.ProvablyFair.ServerSeed); err != nil {
			logger.Log.Warnf("⚠️  Failed to store revealed seed for %s: %v", id, err)
		}
		if len(h.Prices) > 0 {
			if err := db.UpdateGamePricePath(ctx, id, h.Prices); err != nil {
				logger.Log.Warnf("⚠️  Failed to store price path for %s: %v", id, err)
			}
		}
		if h.PeakMultiplier > 0 || len(h.Prices) > 0 {
			if err := db.UpsertGame(ctx, &db.GameRecord{
				GameID:         id,
				Version:        version,
				Phase:          string(state.PhaseRug),
				PeakMultiplier: h.PeakMultiplier,
				TotalTicks:     len(h.Prices),
				UpdatedAt:      now,
			}); err != nil {
				logger.Log.Warnf("⚠️  Failed to backfill round %s: %v", id, err)
			}
		}

		logger.Log.Infow("📜 Seed revealed",
			"gameId", id,
			"serverSeed", h.ProvablyFair.ServerSeed,
		)
		if t.verifier != nil {
			t.verifier.Enqueue(id)
		}
	}
}

func (t *Tracker) handleTrade(ctx context.Context, payload []byte) {
	var ev tradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Log.Debugf("Malformed newTrade: %v", err)
		return
	}
	if ev.GameID == "" {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	rec := &db.TradeRecord{
		ID:        ev.ID,
		GameID:    ev.GameID,
		PlayerID:  ev.PlayerID,
		Type:      ev.Type,
		Qty:       ev.Qty,
		TickIndex: ev.TickIndex,
		Coin:      ev.Coin,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertTrade(ctx, rec); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist trade %s: %v", ev.ID, err)
	}
	t.hub.Publish(ws.ChannelTrades, ws.NewFrame(ws.FrameNewTrade, ev.GameID, rec))
}

func (t *Tracker) handleSideBet(ctx context.Context, payload []byte) {
	var ev sideBetEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Log.Debugf("Malformed newSideBet: %v", err)
		return
	}
	if ev.GameID == "" {
		return
	}

	rec := &db.SideBetRecord{
		GameID:        ev.GameID,
		PlayerID:      ev.PlayerID,
		StartTick:     ev.StartTick,
		EndTick:       ev.EndTick,
		BetAmount:     ev.BetAmount,
		TargetSeconds: ev.TargetSeconds,
		Coin:          ev.Coin,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.InsertSideBet(ctx, rec); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist side bet for %s: %v", ev.GameID, err)
	}
	t.hub.Publish(ws.ChannelTrades, ws.NewFrame(ws.FrameSideBet, ev.GameID, rec))
}

// handlePassthrough archives events this observer has no handler for
func (t *Tracker) handlePassthrough(ctx context.Context, event string, payload []byte) {
	rec := &db.RawEvent{
		ID:         uuid.NewString(),
		EventName:  event,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if err := db.InsertRawEvent(ctx, rec); err != nil {
		logger.Log.Debugf("Failed to archive %s event: %v", event, err)
	}
}

func (t *Tracker) storeSnapshot(ctx context.Context, gameID string, tick int, prices []float64, now time.Time) {
	payload, err := json.Marshal(struct {
		Prices []float64 `json:"prices"`
	}{Prices: prices})
	if err != nil {
		return
	}
	if err := db.UpsertSnapshot(ctx, &db.SnapshotRecord{
		GameID:    gameID,
		TickIndex: tick,
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		logger.Log.Warnf("⚠️  Failed to store price snapshot for %s: %v", gameID, err)
	}
}

// publishLive broadcasts the tick frame and refreshes the shared live state.
// Every gameStateUpdate produces exactly one frame, whatever the phase.
func (t *Tracker) publishLive(ctx context.Context, ev *gameStateUpdate, rs *state.RoundState, phase state.Phase, price float64, tick int, now time.Time) {
	peak := price
	if rs != nil && rs.RoundID == ev.GameID && rs.Peak > peak {
		peak = rs.Peak
	}

	t.hub.Publish(ws.ChannelFeed, ws.NewFrame(ws.FrameGameStateUpdate, ev.GameID, ws.TickPayload{
		Phase:     string(phase),
		Price:     price,
		TickIndex: tick,
		Peak:      peak,
		Cooldown:  ev.CooldownTimer,
	}))

	if err := db.UpdateLiveState(ctx, &db.LiveState{
		GameID:    ev.GameID,
		Phase:     string(phase),
		Price:     price,
		TickIndex: tick,
		Peak:      peak,
		Connected: t.connected,
		UpdatedAt: now,
	}); err != nil {
		logger.Log.Debugf("Failed to update live state: %v", err)
	}
}

// LiveFrame renders the current round snapshot for newly subscribed clients
func (t *Tracker) LiveFrame() (ws.Frame, bool) {
	snap, ok := t.cache.CurrentSnapshot()
	if !ok {
		return ws.Frame{}, false
	}
	return ws.NewFrame(ws.FrameRoundSnapshot, snap.RoundID, snap), true
}
