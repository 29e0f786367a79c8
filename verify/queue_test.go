package verify

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	s := NewService(1, 8)

	if !s.Enqueue("game-1") {
		t.Fatal("First enqueue should succeed")
	}
	if !s.Enqueue("game-1") {
		t.Fatal("Duplicate enqueue should coalesce, not fail")
	}

	if len(s.queue) != 1 {
		t.Errorf("Expected 1 queued task after coalescing, got %d", len(s.queue))
	}
}

func TestEnqueueDropsOnOverflow(t *testing.T) {
	s := NewService(1, 2)

	if !s.Enqueue("game-1") || !s.Enqueue("game-2") {
		t.Fatal("Queue should accept up to its capacity")
	}
	if s.Enqueue("game-3") {
		t.Error("Overflow enqueue should report a drop")
	}
	if len(s.queue) != 2 {
		t.Errorf("Expected 2 queued tasks, got %d", len(s.queue))
	}

	// A dropped round must not stay marked pending, or it could never be
	// enqueued again
	s.mu.Lock()
	pending := s.pending["game-3"]
	s.mu.Unlock()
	if pending {
		t.Error("Dropped round still marked pending")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	s := NewService(2, 16)
	s.Start()

	for i := 0; i < 10; i++ {
		s.Enqueue(fmt.Sprintf("game-%d", i))
	}

	s.Close()

	if len(s.queue) != 0 {
		t.Errorf("Close returned with %d undrained tasks", len(s.queue))
	}
	s.mu.Lock()
	remaining := len(s.pending)
	s.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Close returned with %d pending markers", remaining)
	}

	if s.Enqueue("late") {
		t.Error("Enqueue after Close should report a drop")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewService(1, 4)
	s.Start()
	s.Close()
	s.Close()
}

func TestVerifyNowUnknownRound(t *testing.T) {
	s := NewService(1, 4)

	_, err := s.VerifyNow(context.Background(), "never-seen")
	if err == nil {
		t.Fatal("Expected an error for an unknown round")
	}
	if !strings.Contains(err.Error(), "unknown round") {
		t.Errorf("Unexpected error: %v", err)
	}
}
