package game

import (
	"math"
	"testing"
)

func TestSeededRNGGoldenValues(t *testing.T) {
	// Reference draws produced by the upstream JavaScript generator.
	// These pin bit-for-bit compatibility; any change that shifts a single
	// ulp here breaks seed replay against the live system.
	t.Run("SeedAbc", func(t *testing.T) {
		want := []float64{
			0.4795641906093806,
			0.32567206234671175,
			0.8431053028907627,
			0.16420672414824367,
			0.3870483604259789,
			0.9327917334157974,
			0.18870129832066596,
			0.4456330023240298,
		}
		rng := NewSeededRNG("abc")
		for i, w := range want {
			got := rng.Float64()
			if got != w {
				t.Fatalf("draw %d: got %.17g, want %.17g", i, got, w)
			}
		}
	})

	t.Run("CombinedSeed", func(t *testing.T) {
		// Seed in the "<serverSeed>-<roundId>" form used for replays.
		want := []float64{
			0.7683524426538497,
			0.9337864737026393,
			0.01804162422195077,
			0.9348326583858579,
			0.2064431004691869,
		}
		rng := NewSeededRNG("abc-g1")
		for i, w := range want {
			got := rng.Float64()
			if got != w {
				t.Fatalf("draw %d: got %.17g, want %.17g", i, got, w)
			}
		}
	})

	t.Run("SeededState", func(t *testing.T) {
		rng := NewSeededRNG("abc")
		if rng.s0 != 0.7014946076087654 || rng.s1 != 0.886867344379425 || rng.s2 != 0.2560794872697443 {
			t.Errorf("state after seeding: got (%.17g, %.17g, %.17g)", rng.s0, rng.s1, rng.s2)
		}
		if rng.c != 1 {
			t.Errorf("carry: got %v, want 1", rng.c)
		}
	})
}

func TestSeededRNGDeterminism(t *testing.T) {
	seeds := []string{"abc", "abc-g1", "", " ", "52af8184c9f01d3b-20250817-000412"}
	for _, seed := range seeds {
		a := NewSeededRNG(seed)
		b := NewSeededRNG(seed)
		for i := 0; i < 1000; i++ {
			va, vb := a.Float64(), b.Float64()
			if va != vb {
				t.Fatalf("seed %q draw %d: %v != %v", seed, i, va, vb)
			}
		}
	}
}

func TestSeededRNGRange(t *testing.T) {
	rng := NewSeededRNG("range-check")
	for i := 0; i < 100000; i++ {
		v := rng.Float64()
		if v < 0 || v >= 1 || math.IsNaN(v) {
			t.Fatalf("draw %d out of [0,1): %v", i, v)
		}
	}
}

func TestSeededRNGSeedsDiffer(t *testing.T) {
	a := NewSeededRNG("abc")
	b := NewSeededRNG("abd")
	same := 0
	for i := 0; i < 100; i++ {
		if a.Float64() == b.Float64() {
			same++
		}
	}
	if same == 100 {
		t.Error("distinct seeds produced identical sequences")
	}
}
