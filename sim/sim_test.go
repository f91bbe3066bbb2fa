package sim

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/openfluke/tilegemm/plan"
)

func mustPlan(t *testing.T, m, n, k int, cfg plan.Config) *plan.ExecutionPlan {
	t.Helper()
	p, err := plan.New(m, n, k, cfg, plan.DefaultLimits())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	return p
}

func randomMatrix(rows, cols int, seed int64) *plan.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := plan.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m
}

// TestIdentityProduct checks I x B == B element for element.
func TestIdentityProduct(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 4, TileLocalX: 4, TileK: 8, VectorWidth: 4}
	p := mustPlan(t, 64, 64, 64, cfg)

	a := plan.Identity(64)
	b := randomMatrix(64, 64, 7)

	c, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for i, v := range c.Data {
		if v != b.Data[i] {
			t.Fatalf("element %d: expected %g, got %g", i, b.Data[i], v)
		}
	}
}

// TestHandComputedProduct checks a 2x2 product against hand-worked values.
func TestHandComputedProduct(t *testing.T) {
	cfg := plan.Config{TileBlockY: 2, TileBlockX: 2, TileLocalY: 1, TileLocalX: 1, TileK: 2}
	p := mustPlan(t, 2, 2, 2, cfg)

	a, _ := plan.MatrixFromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b, _ := plan.MatrixFromSlice([]float32{5, 6, 7, 8}, 2, 2)

	c, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	expected := []float32{19, 22, 43, 50}
	for i, want := range expected {
		if c.Data[i] != want {
			t.Errorf("element %d: expected %g, got %g", i, want, c.Data[i])
		}
	}
}

// TestMatchesReference compares plan execution with the cache-tiled CPU
// reference within floating-point tolerance.
func TestMatchesReference(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 4, TileLocalX: 4, TileK: 8, VectorWidth: 4}
	p := mustPlan(t, 64, 96, 128, plan.Config{
		TileBlockY: cfg.TileBlockY, TileBlockX: cfg.TileBlockX,
		TileLocalY: cfg.TileLocalY, TileLocalX: 6,
		TileK: cfg.TileK, VectorWidth: 1,
	})

	a := randomMatrix(64, 128, 1)
	b := randomMatrix(128, 96, 2)

	c, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	ref := Reference(a, b)

	for i := range c.Data {
		got, want := float64(c.Data[i]), float64(ref.Data[i])
		diff := math.Abs(got - want)
		if diff > 1e-5*math.Max(1, math.Abs(want)) {
			t.Fatalf("element %d: expected %g, got %g (diff %g)", i, want, got, diff)
		}
	}
}

// TestDeterminism checks two runs produce bit-identical output.
func TestDeterminism(t *testing.T) {
	cfg := plan.Config{TileBlockY: 8, TileBlockX: 8, TileLocalY: 2, TileLocalX: 2, TileK: 16, VectorWidth: 4}
	p := mustPlan(t, 128, 128, 128, cfg)

	a := randomMatrix(128, 128, 3)
	b := randomMatrix(128, 128, 4)

	first, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	for i := range first.Data {
		if math.Float32bits(first.Data[i]) != math.Float32bits(second.Data[i]) {
			t.Fatalf("element %d differs between runs: %g vs %g", i, first.Data[i], second.Data[i])
		}
	}
}

// TestParallelMatchesSequential checks block execution order cannot change
// the result: concurrent and sequential runs are bit-identical.
func TestParallelMatchesSequential(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 4, TileLocalX: 4, TileK: 8, VectorWidth: 2}
	p := mustPlan(t, 128, 128, 64, cfg)

	a := randomMatrix(128, 64, 5)
	b := randomMatrix(64, 128, 6)

	par, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}
	seq, err := RunSequential(p, a, b)
	if err != nil {
		t.Fatalf("sequential run failed: %v", err)
	}
	for i := range par.Data {
		if math.Float32bits(par.Data[i]) != math.Float32bits(seq.Data[i]) {
			t.Fatalf("element %d differs: parallel %g, sequential %g", i, par.Data[i], seq.Data[i])
		}
	}
}

// TestSingleChunkRun checks tile_k == K degenerates to one copy/compute cycle
// and still multiplies correctly.
func TestSingleChunkRun(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 2, TileLocalX: 2, TileK: 32}
	p := mustPlan(t, 32, 32, 32, cfg)
	if p.KChunks != 1 {
		t.Fatalf("expected single chunk, got %d", p.KChunks)
	}

	a := randomMatrix(32, 32, 8)
	b := randomMatrix(32, 32, 9)

	c, err := Run(p, a, b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	ref := Reference(a, b)
	for i := range c.Data {
		diff := math.Abs(float64(c.Data[i]) - float64(ref.Data[i]))
		if diff > 1e-5 {
			t.Fatalf("element %d: expected %g, got %g", i, ref.Data[i], c.Data[i])
		}
	}
}

// TestVerifyStagedWrites runs with staging assertions on: every element of
// both shared slices must be written exactly once per chunk, for vectorized
// and scalar fetch, and the asserted run must still multiply correctly.
func TestVerifyStagedWrites(t *testing.T) {
	Verify = true
	defer func() { Verify = false }()

	configs := []plan.Config{
		{TileBlockY: 8, TileBlockX: 8, TileLocalY: 2, TileLocalX: 2, TileK: 16, VectorWidth: 4},
		{TileBlockY: 4, TileBlockX: 4, TileLocalY: 4, TileLocalX: 4, TileK: 8},
	}
	for _, cfg := range configs {
		p := mustPlan(t, 64, 64, 64, cfg)

		a := plan.Identity(64)
		b := randomMatrix(64, 64, 11)

		c, err := Run(p, a, b)
		if err != nil {
			t.Fatalf("config %+v: staged-write assertion tripped: %v", cfg, err)
		}
		for i := range c.Data {
			if c.Data[i] != b.Data[i] {
				t.Fatalf("config %+v: element %d: expected %g, got %g", cfg, i, b.Data[i], c.Data[i])
			}
		}

		if _, err := RunSequential(p, a, b); err != nil {
			t.Fatalf("config %+v: sequential staged-write assertion tripped: %v", cfg, err)
		}
	}
}

// TestDimensionMismatch checks mis-shaped operands are rejected before any
// execution happens.
func TestDimensionMismatch(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 2, TileLocalX: 2, TileK: 8}
	p := mustPlan(t, 32, 32, 32, cfg)

	_, err := Run(p, plan.NewMatrix(32, 16), plan.NewMatrix(32, 32))
	var dimErr *plan.DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
}

func BenchmarkRun256(b *testing.B) {
	cfg := plan.Config{TileBlockY: 8, TileBlockX: 8, TileLocalY: 4, TileLocalX: 4, TileK: 16, VectorWidth: 4}
	p, err := plan.New(256, 256, 256, cfg, plan.DefaultLimits())
	if err != nil {
		b.Fatalf("plan failed: %v", err)
	}
	x := randomMatrix(256, 256, 1)
	y := randomMatrix(256, 256, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Run(p, x, y); err != nil {
			b.Fatal(err)
		}
	}
}
