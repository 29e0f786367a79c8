// Package verify runs provable-fairness checks off the hot ingest path.
// Rounds are queued by id when their seed is revealed; a small worker pool
// replays each one and persists the verdict.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rugsobserver/db"
	"rugsobserver/game"
	"rugsobserver/logger"
	"rugsobserver/metrics"
)

// ErrUnknownRound marks verification requests for rounds no store has
// ever seen
var ErrUnknownRound = errors.New("unknown round")

// Service is the bounded verification work queue. Enqueue never blocks the
// caller: duplicates of a queued round coalesce and overflow is dropped
// with a counter.
type Service struct {
	queue   chan string
	workers int

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	wg sync.WaitGroup

	// OnResult, when set, receives every verdict after it is persisted
	OnResult func(gameID string, result game.VerifyResult)
}

// NewService creates a verification queue with the given worker count and
// queue capacity
func NewService(workers, queueSize int) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		queue:   make(chan string, queueSize),
		workers: workers,
		pending: make(map[string]bool),
	}
}

// Start launches the worker pool
func (s *Service) Start() {
	logger.Log.Infof("🚀 Verification service started (%d workers)", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close stops accepting work, lets the workers drain the queue, and waits
// for them to finish
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	s.wg.Wait()
	logger.Log.Info("👋 Verification service stopped")
}

// Enqueue schedules a round for verification. Returns false when the task
// was dropped because the queue is full or the service is closed; a round
// already waiting in the queue coalesces and returns true.
func (s *Service) Enqueue(gameID string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.pending[gameID] {
		s.mu.Unlock()
		return true
	}
	s.pending[gameID] = true
	s.mu.Unlock()

	select {
	case s.queue <- gameID:
		metrics.VerifyQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.mu.Lock()
		delete(s.pending, gameID)
		s.mu.Unlock()
		metrics.VerifyDropped.Inc()
		logger.Log.Warnf("⚠️  Verification queue full, dropping round %s", gameID)
		return false
	}
}

// Depth reports rounds queued and not yet picked up by a worker
func (s *Service) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) worker() {
	defer s.wg.Done()

	for gameID := range s.queue {
		s.mu.Lock()
		delete(s.pending, gameID)
		s.mu.Unlock()
		metrics.VerifyQueueDepth.Set(float64(len(s.queue)))

		// Shutdown drains the queue, so each task gets its own deadline
		// instead of a cancelable parent
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if _, err := s.VerifyNow(ctx, gameID); err != nil {
			logger.Log.Warnf("⚠️  Verification of round %s failed: %v", gameID, err)
		}
		cancel()
	}
}

// VerifyNow assembles the inputs for one round, replays it, persists the
// verdict, and returns it. Safe to call repeatedly for the same round.
func (s *Service) VerifyNow(ctx context.Context, gameID string) (game.VerifyResult, error) {
	input, err := s.buildInput(ctx, gameID)
	if err != nil {
		return game.VerifyResult{}, err
	}

	result := game.Verify(input)
	metrics.VerifyOutcomes.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case game.OutcomeAwaitingSeed:
		// Not a verdict; the round stays pending until the seed shows up
		logger.Log.Debugf("Round %s still awaiting seed", gameID)
	default:
		s.persist(ctx, gameID, result)
		logger.Log.Infow("🔍 Verification complete",
			"gameId", gameID,
			"outcome", result.Outcome,
			"detail", result.Detail)
	}

	if s.OnResult != nil {
		s.OnResult(gameID, result)
	}
	return result, nil
}

// buildInput gathers seed, hash, version and the recorded price path for a
// round. The path prefers the history record stored on the game row and
// falls back to the newest raw snapshot.
func (s *Service) buildInput(ctx context.Context, gameID string) (game.VerifyInput, error) {
	input := game.VerifyInput{RoundID: gameID, Version: game.V3}

	tracking, err := db.GetTracking(ctx, gameID)
	if err != nil && !errors.Is(err, db.ErrNotInitialized) {
		return input, fmt.Errorf("failed to load tracking record: %w", err)
	}
	g, err := db.GetGame(ctx, gameID)
	if err != nil && !errors.Is(err, db.ErrNotInitialized) {
		return input, fmt.Errorf("failed to load game record: %w", err)
	}
	if tracking == nil && g == nil {
		return input, fmt.Errorf("%w: %s", ErrUnknownRound, gameID)
	}

	if tracking != nil {
		input.ServerSeed = tracking.ServerSeed
		input.ServerSeedHash = tracking.ServerSeedHash
		input.Version = game.ParseVersion(tracking.Version)
	}
	if g != nil {
		if input.ServerSeed == "" {
			input.ServerSeed = g.ServerSeed
		}
		if input.ServerSeedHash == "" {
			input.ServerSeedHash = g.ServerSeedHash
		}
		if tracking == nil {
			input.Version = game.ParseVersion(g.Version)
		}
		input.Expected = g.PricePath
		input.ExpectedPeak = g.PeakMultiplier
	}

	if len(input.Expected) == 0 {
		if snap, err := db.GetLatestSnapshot(ctx, gameID); err == nil && snap != nil {
			input.Expected = pricesFromSnapshot(snap.Payload)
		}
	}

	return input, nil
}

func (s *Service) persist(ctx context.Context, gameID string, result game.VerifyResult) {
	if err := db.UpdateTrackingResult(ctx, gameID, string(result.Outcome), result.Detail, result.SeedHashMatch, result.CheckedAt); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist tracking verdict for %s: %v", gameID, err)
	}

	var verified *bool
	if result.Outcome == game.OutcomeVerified || result.Outcome == game.OutcomeFailed {
		v := result.Outcome == game.OutcomeVerified
		verified = &v
	}
	if err := db.UpdateGameVerification(ctx, gameID, string(result.Outcome), result.Detail, verified, result.CheckedAt); err != nil {
		logger.Log.Warnf("⚠️  Failed to persist game verdict for %s: %v", gameID, err)
	}
}

// pricesFromSnapshot pulls the prices array out of a raw gameStateUpdate
// payload
func pricesFromSnapshot(payload []byte) []float64 {
	var body struct {
		Prices []float64 `json:"prices"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil
	}
	return body.Prices
}

// RequeuePending reloads rounds whose seed was revealed before a restart
// but whose verdict never landed
func (s *Service) RequeuePending(ctx context.Context, limit int) {
	records, err := db.GetPendingVerifications(ctx, limit)
	if err != nil {
		if !errors.Is(err, db.ErrNotInitialized) {
			logger.Log.Warnf("⚠️  Failed to scan pending verifications: %v", err)
		}
		return
	}

	for _, rec := range records {
		s.Enqueue(rec.GameID)
	}
	if len(records) > 0 {
		logger.Log.Infof("🔁 Requeued %d pending verifications", len(records))
	}
}
