package state

// Phase is the lifecycle classification of a round as derived from raw feed
// flags. One enum, one classifier; the feed's historical vocabulary drift
// (RUG_EVENT vs RUG and so on) is normalized here and nowhere else.
type Phase string

const (
	PhaseActive   Phase = "ACTIVE"
	PhaseRug      Phase = "RUG"
	PhaseCooldown Phase = "COOLDOWN"
	PhasePreRound Phase = "PRE_ROUND"
	PhaseUnknown  Phase = "UNKNOWN"
)

// ClassifyPhase derives the phase from the raw gameStateUpdate flags.
// First match wins; called on every tick, never cached across events.
func ClassifyPhase(active, rugged bool, cooldownTimer float64, allowPreRoundBuys bool) Phase {
	switch {
	case rugged:
		return PhaseRug
	case active:
		return PhaseActive
	case cooldownTimer > 0:
		return PhaseCooldown
	case allowPreRoundBuys:
		return PhasePreRound
	default:
		return PhaseUnknown
	}
}
