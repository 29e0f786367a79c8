package game

import (
	"fmt"
	"math"
	"time"

	"rugsobserver/crypto"
)

// Replay reconstructs a round's full price path from its revealed seed.
// The seed is combined with the round id exactly as the upstream does, so
// the same (seed, roundId) pair always yields the same path.
func Replay(serverSeed, roundID string, version Version) ReplayResult {
	rng := NewSeededRNG(serverSeed + "-" + roundID)

	price := StartingPrice
	res := ReplayResult{Peak: StartingPrice, RugTick: -1}
	for tick := 0; tick < MaxTicks; tick++ {
		if rng.Float64() < RugProbability {
			res.Rugged = true
			res.RugTick = tick
			break
		}
		price = NextPrice(price, rng.Float64, version)
		res.Prices = append(res.Prices, price)
		if price > res.Peak {
			res.Peak = price
		}
	}
	return res
}

// VerifyInput carries everything one verification run needs. Expected is the
// price path observed live; ExpectedPeak may be zero, in which case it is
// derived from Expected.
type VerifyInput struct {
	RoundID        string
	ServerSeed     string
	ServerSeedHash string
	Version        Version
	Expected       []float64
	ExpectedPeak   float64
}

// VerifyResult is the classified comparison between a replay and the
// recorded path.
type VerifyResult struct {
	Outcome       Outcome      `json:"outcome"`
	Detail        string       `json:"detail"`
	SeedHashMatch *bool        `json:"seedHashMatch,omitempty"`
	Replay        ReplayResult `json:"replay"`
	CheckedAt     time.Time    `json:"checkedAt"`
}

// Verify replays a round from its seed and compares against the recorded
// path. Pure apart from the clock: identical inputs produce the identical
// classification, so re-running is always safe.
func Verify(in VerifyInput) VerifyResult {
	res := VerifyResult{CheckedAt: time.Now().UTC()}

	if in.ServerSeed == "" {
		res.Outcome = OutcomeAwaitingSeed
		res.Detail = "server seed not revealed yet"
		return res
	}

	if in.ServerSeedHash != "" {
		match := crypto.VerifySeed(in.ServerSeed, in.ServerSeedHash)
		res.SeedHashMatch = &match
	}

	res.Replay = Replay(in.ServerSeed, in.RoundID, in.Version)

	if len(in.Expected) == 0 {
		res.Outcome = OutcomeMissingExpected
		res.Detail = "no recorded price path to compare against"
		return res
	}

	expectedPeak := in.ExpectedPeak
	if expectedPeak == 0 {
		expectedPeak = StartingPrice
		for _, p := range in.Expected {
			if p > expectedPeak {
				expectedPeak = p
			}
		}
	}

	if len(res.Replay.Prices) != len(in.Expected) {
		res.Outcome = OutcomeFailed
		res.Detail = fmt.Sprintf("length mismatch: replayed %d ticks, recorded %d",
			len(res.Replay.Prices), len(in.Expected))
		return res
	}
	for i, want := range in.Expected {
		if math.Abs(res.Replay.Prices[i]-want) > VerifyTolerance {
			res.Outcome = OutcomeFailed
			res.Detail = fmt.Sprintf("tick %d: replayed %.8f, recorded %.8f", i, res.Replay.Prices[i], want)
			return res
		}
	}
	if math.Abs(res.Replay.Peak-expectedPeak) > VerifyTolerance {
		res.Outcome = OutcomeFailed
		res.Detail = fmt.Sprintf("peak mismatch: replayed %.8f, recorded %.8f", res.Replay.Peak, expectedPeak)
		return res
	}

	res.Outcome = OutcomeVerified
	res.Detail = fmt.Sprintf("replayed %d ticks within tolerance", len(in.Expected))
	return res
}
