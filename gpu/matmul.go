package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/tilegemm/plan"
)

// MatmulKernel lowers an ExecutionPlan to a WGSL compute pipeline and holds
// the device resources for running it. One kernel instance serves one plan;
// operands are uploaded per Forward call.
type MatmulKernel struct {
	Plan *plan.ExecutionPlan

	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup

	ABuffer *wgpu.Buffer
	BBuffer *wgpu.Buffer
	CBuffer *wgpu.Buffer
}

// NewMatmulKernel wraps a validated plan. Build must be called before Forward.
func NewMatmulKernel(p *plan.ExecutionPlan) *MatmulKernel {
	return &MatmulKernel{Plan: p}
}

// GenerateShader emits the tiled-multiply WGSL for this kernel's plan. All
// plan constants are folded into the source: two workgroup staging arrays,
// a fused-index cooperative fetch with VEC contiguous elements per thread
// per step, a barrier on each side of the consume phase, function-scope
// register accumulators and one final store per output element.
func (mk *MatmulKernel) GenerateShader() string {
	p := mk.Plan
	cfg := p.Config

	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> a : array<f32>;
		@group(0) @binding(1) var<storage, read> b : array<f32>;
		@group(0) @binding(2) var<storage, read_write> c : array<f32>;

		const N: u32 = %du;
		const K: u32 = %du;
		const TLY: u32 = %du;
		const TLX: u32 = %du;
		const TK: u32 = %du;
		const VEC: u32 = %du;
		const THREADS: u32 = %du;
		const CHUNKS: u32 = %du;
		const BLOCK_ROWS: u32 = %du;
		const BLOCK_COLS: u32 = %du;
		const COPY_A: u32 = %du;
		const COPY_B: u32 = %du;

		var<workgroup> tile_a: array<f32, %d>;
		var<workgroup> tile_b: array<f32, %d>;

		@compute @workgroup_size(%d, %d)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(local_invocation_id) local_id: vec3<u32>
		) {
			let tx = local_id.x;
			let ty = local_id.y;
			let tid = ty * %du + tx;
			let row_base = wg_id.y * BLOCK_ROWS;
			let col_base = wg_id.x * BLOCK_COLS;

			var acc: array<f32, %d>;

			for (var chunk: u32 = 0u; chunk < CHUNKS; chunk++) {
				// Cooperative fetch: each staged slice is spread evenly over
				// every thread in the block via a fused index, VEC contiguous
				// elements per step, independent of who consumes the data.
				for (var it: u32 = 0u; it < COPY_A; it++) {
					let base = (it * THREADS + tid) * VEC;
					for (var l: u32 = 0u; l < VEC; l++) {
						let s = base + l;
						tile_a[s] = a[(row_base + s / TK) * K + chunk * TK + s %% TK];
					}
				}
				for (var it: u32 = 0u; it < COPY_B; it++) {
					let base = (it * THREADS + tid) * VEC;
					for (var l: u32 = 0u; l < VEC; l++) {
						let s = base + l;
						tile_b[s] = b[(chunk * TK + s / BLOCK_COLS) * N + col_base + s %% BLOCK_COLS];
					}
				}
				workgroupBarrier();

				for (var kk: u32 = 0u; kk < TK; kk++) {
					for (var i: u32 = 0u; i < TLY; i++) {
						let av = tile_a[(ty * TLY + i) * TK + kk];
						for (var j: u32 = 0u; j < TLX; j++) {
							acc[i * TLX + j] += av * tile_b[kk * BLOCK_COLS + tx * TLX + j];
						}
					}
				}
				workgroupBarrier();
			}

			for (var i: u32 = 0u; i < TLY; i++) {
				for (var j: u32 = 0u; j < TLX; j++) {
					c[(row_base + ty * TLY + i) * N + col_base + tx * TLX + j] = acc[i * TLX + j];
				}
			}
		}
	`,
		p.N, p.K,
		cfg.TileLocalY, cfg.TileLocalX, cfg.TileK, cfg.VectorWidth,
		p.ThreadsPerBlock, p.KChunks, p.BlockRows, p.BlockCols,
		p.CopyItersA, p.CopyItersB,
		p.SharedA, p.SharedB,
		cfg.TileBlockX, cfg.TileBlockY,
		cfg.TileBlockX,
		cfg.TileLocalY*cfg.TileLocalX,
	)
}

// AllocateBuffers creates the operand and output buffers. Readback goes
// through ReadBuffer, which stages the copy itself.
func (mk *MatmulKernel) AllocateBuffers(c *Context, labelPrefix string) error {
	p := mk.Plan
	Log("allocating buffers for %s (%s)", labelPrefix, p)

	var err error
	mk.ABuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_A",
		Size:  uint64(p.M * p.K * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	mk.BBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_B",
		Size:  uint64(p.K * p.N * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	mk.CBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_C",
		Size:  uint64(p.M * p.N * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	return err
}

// Compile builds the shader module, explicit bind group layout and pipeline.
func (mk *MatmulKernel) Compile(c *Context, labelPrefix string) error {
	Log("compiling matmul kernel %s", labelPrefix)

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          labelPrefix + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: mk.GenerateShader()},
	})
	if err != nil {
		return fmt.Errorf("shader compile: %v", err)
	}

	// Explicit layout to avoid "auto" layout issues in WASM builds.
	mk.bindGroupLayout, err = c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: labelPrefix + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bgl: %v", err)
	}

	pipelineLayout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            labelPrefix + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{mk.bindGroupLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %v", err)
	}

	mk.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  labelPrefix + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline create: %v", err)
	}
	module.Release()
	return nil
}

// CreateBindGroup binds the operand and output buffers to the pipeline.
func (mk *MatmulKernel) CreateBindGroup(c *Context, labelPrefix string) error {
	var err error
	mk.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_Bind",
		Layout: mk.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: mk.ABuffer, Size: mk.ABuffer.GetSize()},
			{Binding: 1, Buffer: mk.BBuffer, Size: mk.BBuffer.GetSize()},
			{Binding: 2, Buffer: mk.CBuffer, Size: mk.CBuffer.GetSize()},
		},
	})
	return err
}

// Build initializes all device resources for the kernel.
func (mk *MatmulKernel) Build() error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	if err := mk.AllocateBuffers(c, "Matmul"); err != nil {
		return err
	}
	if err := mk.Compile(c, "Matmul"); err != nil {
		return err
	}
	return mk.CreateBindGroup(c, "Matmul")
}

// Dispatch records the compute pass: one workgroup per plan block.
func (mk *MatmulKernel) Dispatch(pass *wgpu.ComputePassEncoder) {
	Log("dispatching matmul over %dx%d workgroups", mk.Plan.GridX, mk.Plan.GridY)
	pass.SetPipeline(mk.pipeline)
	pass.SetBindGroup(0, mk.bindGroup, nil)
	pass.DispatchWorkgroups(uint32(mk.Plan.GridX), uint32(mk.Plan.GridY), 1)
}

// Forward uploads the operands, runs the kernel and reads back the product.
func (mk *MatmulKernel) Forward(a, b *plan.Matrix) (*plan.Matrix, error) {
	if mk.pipeline == nil {
		return nil, fmt.Errorf("kernel not built")
	}
	if err := mk.Plan.CheckOperands(a, b); err != nil {
		return nil, err
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	c.Queue.WriteBuffer(mk.ABuffer, 0, wgpu.ToBytes(a.Data))
	c.Queue.WriteBuffer(mk.BBuffer, 0, wgpu.ToBytes(b.Data))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := enc.BeginComputePass(nil)
	mk.Dispatch(pass)
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	c.Queue.Submit(cmd)

	out, err := ReadBuffer(mk.CBuffer, mk.Plan.M*mk.Plan.N)
	if err != nil {
		return nil, err
	}
	return plan.MatrixFromSlice(out, mk.Plan.M, mk.Plan.N)
}

// Cleanup releases all device resources.
func (mk *MatmulKernel) Cleanup() {
	if mk.ABuffer != nil {
		mk.ABuffer.Destroy()
	}
	if mk.BBuffer != nil {
		mk.BBuffer.Destroy()
	}
	if mk.CBuffer != nil {
		mk.CBuffer.Destroy()
	}
	if mk.pipeline != nil {
		mk.pipeline.Release()
	}
	if mk.bindGroup != nil {
		mk.bindGroup.Release()
	}
}
