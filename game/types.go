package game

// Version selects the drift-rule variant a round was simulated with.
// v1 predates the volatility cap; the god candle exists only in v3.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
	V3 Version = "v3"
)

// ParseVersion maps a raw feed tag onto a known version, defaulting to v3.
func ParseVersion(s string) Version {
	switch s {
	case "v1":
		return V1
	case "v2":
		return V2
	case "v3":
		return V3
	default:
		return V3
	}
}

// Outcome classifies one verification run.
type Outcome string

const (
	OutcomeAwaitingSeed    Outcome = "AWAITING_SEED"
	OutcomeMissingExpected Outcome = "MISSING_EXPECTED"
	OutcomeVerified        Outcome = "VERIFIED"
	OutcomeFailed          Outcome = "FAILED"
)

// ReplayResult is one full deterministic replay of a round from its seed.
type ReplayResult struct {
	Prices  []float64 `json:"prices"`
	Peak    float64   `json:"peak"`
	RugTick int       `json:"rugTick"` // -1 when the tick cap was reached without a rug
	Rugged  bool      `json:"rugged"`
}
