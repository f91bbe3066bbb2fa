package gpu

import (
	"strings"
	"testing"

	"github.com/openfluke/tilegemm/plan"
)

// TestGenerateShader checks the WGSL lowering of the 128x128x128 reference
// plan without touching a device: folded constants, staging array sizes,
// workgroup shape and the two barriers around the consume phase.
func TestGenerateShader(t *testing.T) {
	cfg := plan.Config{TileBlockY: 8, TileBlockX: 8, TileLocalY: 8, TileLocalX: 8, TileK: 8, VectorWidth: 4}
	p, err := plan.New(128, 128, 128, cfg, plan.DefaultLimits())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	shader := NewMatmulKernel(p).GenerateShader()

	for _, want := range []string{
		"var<workgroup> tile_a: array<f32, 512>;",
		"var<workgroup> tile_b: array<f32, 512>;",
		"@workgroup_size(8, 8)",
		"const CHUNKS: u32 = 16u;",
		"const VEC: u32 = 4u;",
		"const BLOCK_ROWS: u32 = 64u;",
		"const BLOCK_COLS: u32 = 64u;",
	} {
		if !strings.Contains(shader, want) {
			t.Errorf("shader missing %q", want)
		}
	}

	if got := strings.Count(shader, "workgroupBarrier();"); got != 2 {
		t.Errorf("expected 2 barriers, got %d", got)
	}

	// Single final store: exactly one write into the output array.
	if got := strings.Count(shader, "c[("); got != 1 {
		t.Errorf("expected one output store, got %d", got)
	}
}

// TestForwardRequiresBuild checks Forward refuses to run before the device
// resources exist, so the readback helper is never handed nil buffers.
func TestForwardRequiresBuild(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 2, TileLocalX: 2, TileK: 8}
	p, err := plan.New(32, 32, 32, cfg, plan.DefaultLimits())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	kernel := NewMatmulKernel(p)
	if _, err := kernel.Forward(plan.NewMatrix(32, 32), plan.NewMatrix(32, 32)); err == nil {
		t.Error("expected error from unbuilt kernel")
	}
}

// TestGenerateShaderScalarFetch checks the VectorWidth=1 path still spreads
// the copy across every thread.
func TestGenerateShaderScalarFetch(t *testing.T) {
	cfg := plan.Config{TileBlockY: 4, TileBlockX: 4, TileLocalY: 2, TileLocalX: 2, TileK: 16}
	p, err := plan.New(32, 32, 32, cfg, plan.DefaultLimits())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if p.CopyItersA != 8 || p.CopyItersB != 8 {
		t.Fatalf("expected 8 copy steps per slice, got %d and %d", p.CopyItersA, p.CopyItersB)
	}

	shader := NewMatmulKernel(p).GenerateShader()
	for _, want := range []string{
		"const VEC: u32 = 1u;",
		"const COPY_A: u32 = 8u;",
		"const COPY_B: u32 = 8u;",
		"const THREADS: u32 = 16u;",
	} {
		if !strings.Contains(shader, want) {
			t.Errorf("shader missing %q", want)
		}
	}
}
