package game

import (
	"math"
	"testing"

	"rugsobserver/crypto"
)

func TestReplayDeterministic(t *testing.T) {
	// Two independent full-length replays must agree value for value.
	a := Replay("abc", "g1", V3)
	b := Replay("abc", "g1", V3)

	if len(a.Prices) != len(b.Prices) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Prices), len(b.Prices))
	}
	for i := range a.Prices {
		if a.Prices[i] != b.Prices[i] {
			t.Fatalf("tick %d differs: %v vs %v", i, a.Prices[i], b.Prices[i])
		}
	}
	if a.Peak != b.Peak || a.RugTick != b.RugTick || a.Rugged != b.Rugged {
		t.Fatalf("summary differs: %+v vs %+v", a, b)
	}
}

func TestReplayGoldenRound(t *testing.T) {
	// Pinned outcome of the reference round. The exact path depends on the
	// generator, the draw order, and the drift constants together, so this
	// is the broadest regression net in the package.
	res := Replay("abc", "g1", V3)

	if !res.Rugged || res.RugTick != 77 {
		t.Errorf("rug tick: got %d (rugged=%v), want 77", res.RugTick, res.Rugged)
	}
	if len(res.Prices) != 77 {
		t.Fatalf("path length: got %d, want 77", len(res.Prices))
	}
	if res.Peak != 1.0 {
		t.Errorf("peak: got %v, want 1.0 (path never exceeded start)", res.Peak)
	}
	if math.Abs(res.Prices[0]-0.7565167341614142) > 1e-12 {
		t.Errorf("first price: got %.16f", res.Prices[0])
	}
	if math.Abs(res.Prices[76]-0.9270872811383378) > 1e-12 {
		t.Errorf("last price: got %.16f", res.Prices[76])
	}
}

func TestReplayVersionsDiverge(t *testing.T) {
	// v1/v2 consume no god-candle draw, so the same seed walks a different
	// path than v3.
	v1 := Replay("abc", "g1", V1)
	v3 := Replay("abc", "g1", V3)

	if v1.RugTick != 142 {
		t.Errorf("v1 rug tick: got %d, want 142", v1.RugTick)
	}
	if math.Abs(v1.Peak-7.6795227973565625) > 1e-12 {
		t.Errorf("v1 peak: got %.16f", v1.Peak)
	}
	if v1.RugTick == v3.RugTick {
		t.Error("v1 and v3 rugged at the same tick; draw streams should differ")
	}

	// v1 and v2 differ only in the volatility cap, which this path never
	// hits, so they stay identical here.
	v2 := Replay("abc", "g1", V2)
	if v2.RugTick != v1.RugTick || v2.Peak != v1.Peak {
		t.Errorf("v2 diverged from v1: rug %d vs %d", v2.RugTick, v1.RugTick)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	seed, hash := "abc", crypto.HashSeed("abc")
	recorded := Replay(seed, "g1", V3)

	t.Run("AwaitingSeed", func(t *testing.T) {
		res := Verify(VerifyInput{RoundID: "g1", Version: V3, Expected: recorded.Prices})
		if res.Outcome != OutcomeAwaitingSeed {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeAwaitingSeed)
		}
	})

	t.Run("MissingExpected", func(t *testing.T) {
		res := Verify(VerifyInput{RoundID: "g1", ServerSeed: seed, Version: V3})
		if res.Outcome != OutcomeMissingExpected {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeMissingExpected)
		}
		if len(res.Replay.Prices) == 0 {
			t.Error("replay should still run without a recorded path")
		}
	})

	t.Run("Verified", func(t *testing.T) {
		res := Verify(VerifyInput{
			RoundID:        "g1",
			ServerSeed:     seed,
			ServerSeedHash: hash,
			Version:        V3,
			Expected:       recorded.Prices,
			ExpectedPeak:   recorded.Peak,
		})
		if res.Outcome != OutcomeVerified {
			t.Fatalf("got %s (%s), want %s", res.Outcome, res.Detail, OutcomeVerified)
		}
		if res.SeedHashMatch == nil || !*res.SeedHashMatch {
			t.Error("seed hash should match its own commitment")
		}
	})

	t.Run("FailedLength", func(t *testing.T) {
		res := Verify(VerifyInput{
			RoundID:    "g1",
			ServerSeed: seed,
			Version:    V3,
			Expected:   recorded.Prices[:len(recorded.Prices)-3],
		})
		if res.Outcome != OutcomeFailed {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeFailed)
		}
	})

	t.Run("FailedValue", func(t *testing.T) {
		tampered := append([]float64(nil), recorded.Prices...)
		tampered[10] += 0.001
		res := Verify(VerifyInput{
			RoundID:    "g1",
			ServerSeed: seed,
			Version:    V3,
			Expected:   tampered,
		})
		if res.Outcome != OutcomeFailed {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeFailed)
		}
	})

	t.Run("FailedPeak", func(t *testing.T) {
		res := Verify(VerifyInput{
			RoundID:      "g1",
			ServerSeed:   seed,
			Version:      V3,
			Expected:     recorded.Prices,
			ExpectedPeak: recorded.Peak + 1,
		})
		if res.Outcome != OutcomeFailed {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeFailed)
		}
	})

	t.Run("WithinTolerance", func(t *testing.T) {
		// Sub-tolerance jitter, as a lossy store round-trip would add.
		jittered := append([]float64(nil), recorded.Prices...)
		for i := range jittered {
			jittered[i] += 5e-7
		}
		res := Verify(VerifyInput{
			RoundID:    "g1",
			ServerSeed: seed,
			Version:    V3,
			Expected:   jittered,
		})
		if res.Outcome != OutcomeVerified {
			t.Errorf("got %s (%s), want %s", res.Outcome, res.Detail, OutcomeVerified)
		}
	})

	t.Run("HashMismatchStillVerifies", func(t *testing.T) {
		// The commitment check is advisory detail; classification follows
		// the path comparison alone.
		res := Verify(VerifyInput{
			RoundID:        "g1",
			ServerSeed:     seed,
			ServerSeedHash: crypto.HashSeed("something-else"),
			Version:        V3,
			Expected:       recorded.Prices,
		})
		if res.Outcome != OutcomeVerified {
			t.Errorf("got %s, want %s", res.Outcome, OutcomeVerified)
		}
		if res.SeedHashMatch == nil || *res.SeedHashMatch {
			t.Error("seed hash mismatch not reported")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		in := VerifyInput{
			RoundID:    "g1",
			ServerSeed: seed,
			Version:    V3,
			Expected:   recorded.Prices,
		}
		first := Verify(in)
		second := Verify(in)
		if first.Outcome != second.Outcome || first.Detail != second.Detail {
			t.Errorf("runs differ: %s/%s vs %s/%s",
				first.Outcome, first.Detail, second.Outcome, second.Detail)
		}
		for i := range first.Replay.Prices {
			if first.Replay.Prices[i] != second.Replay.Prices[i] {
				t.Fatalf("replay tick %d differs", i)
			}
		}
	})
}
