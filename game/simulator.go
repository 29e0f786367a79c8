package game

import "math"

// Published parameters of the upstream drift rule. Replays only match the
// live system while these agree with it, so they are fixed here rather than
// configurable.
const (
	StartingPrice   = 1.0
	MaxTicks        = 5000
	RugProbability  = 0.005   // rug check each tick, drawn before the price step
	GodCandleChance = 0.00001 // v3 only
	GodCandleMove   = 10.0    // x10 jump on a god candle
	GodCandleCap    = 100.0   // eligible only while price <= 100 x starting price
	BigMoveChance   = 0.125
	BigMoveMin      = 0.15
	BigMoveMax      = 0.25
	DriftMin        = -0.02
	DriftMax        = 0.03
	VolatilityBase  = 0.005
	VolatilityCap   = 10.0 // cap on sqrt(price); absent in v1

	// Absolute tolerance for path and peak comparison during verification
	VerifyTolerance = 1e-6
)

// NextPrice advances price by one tick of the drift rule, drawing from next.
// The rug check is the caller's: it consumes its own draw before this
// function runs. Branch order and the number of draws per branch are part of
// the published algorithm; changing either breaks seed replay.
func NextPrice(price float64, next func() float64, version Version) float64 {
	// God candle, v3 only. The draw is consumed even when the price is
	// above the cap.
	if version == V3 {
		if next() < GodCandleChance && price <= GodCandleCap {
			return price * GodCandleMove
		}
	}

	var change float64
	if next() < BigMoveChance {
		move := BigMoveMin + next()*(BigMoveMax-BigMoveMin)
		if next() > 0.5 {
			change = move
		} else {
			change = -move
		}
	} else {
		drift := DriftMin + next()*(DriftMax-DriftMin)
		volatility := VolatilityBase * math.Sqrt(price)
		if version != V1 {
			volatility = VolatilityBase * math.Min(VolatilityCap, math.Sqrt(price))
		}
		noise := volatility * (2*next() - 1)
		change = drift + noise
	}

	price = price * (1 + change)
	if price < 0 {
		price = 0
	}
	return price
}
