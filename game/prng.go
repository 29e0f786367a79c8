package game

// SeededRNG is the Alea generator (Johannes Baagøe's Mash-seeded carry
// generator) as shipped in the upstream game client. Replaying a round from
// its revealed seed only matches the live outcome if every draw here is
// bit-identical to the reference JavaScript, so the implementation mirrors
// it operation for operation in float64.
//
// The explicit float64 conversions around products force intermediate
// rounding; without them the compiler may emit fused multiply-adds on some
// architectures, which round once instead of twice and silently diverge
// from the reference sequence.
type SeededRNG struct {
	s0, s1, s2 float64
	c          float64
}

const (
	mashConstant = 0.02519603282416938
	two32        = 4294967296.0           // 2^32
	two32Inv     = 2.3283064365386963e-10 // 2^-32
)

// mash is the 32-bit string mixer used for seeding. It is stateful: the
// accumulator carries across calls, so call order matters.
type mash struct {
	n float64
}

func newMash() *mash {
	return &mash{n: 0xefc8249d}
}

func (m *mash) mix(data string) float64 {
	n := m.n
	for _, r := range data {
		n += float64(r)
		h := float64(mashConstant * n)
		n = truncUint32(h)
		h -= n
		h = float64(h * n)
		n = truncUint32(h)
		h -= n
		n += float64(h * two32)
	}
	m.n = n
	return float64(truncUint32(n) * two32Inv)
}

// truncUint32 is the JavaScript ">>> 0" coercion: truncate toward zero,
// wrap modulo 2^32.
func truncUint32(x float64) float64 {
	return float64(uint32(uint64(x)))
}

// NewSeededRNG seeds a generator from a string, exactly as the reference
// does: three mixes of a single space establish the state, then one mix of
// the seed per state variable is subtracted, wrapping into [0,1).
func NewSeededRNG(seed string) *SeededRNG {
	m := newMash()
	r := &SeededRNG{c: 1}
	r.s0 = m.mix(" ")
	r.s1 = m.mix(" ")
	r.s2 = m.mix(" ")
	r.s0 -= m.mix(seed)
	if r.s0 < 0 {
		r.s0 += 1
	}
	r.s1 -= m.mix(seed)
	if r.s1 < 0 {
		r.s1 += 1
	}
	r.s2 -= m.mix(seed)
	if r.s2 < 0 {
		r.s2 += 1
	}
	return r
}

// Float64 returns the next draw in [0,1).
func (r *SeededRNG) Float64() float64 {
	t := float64(2091639*r.s0) + float64(r.c*two32Inv)
	r.s0 = r.s1
	r.s1 = r.s2
	r.c = float64(int64(t))
	r.s2 = t - r.c
	return r.s2
}
