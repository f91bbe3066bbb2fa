// Package plan builds execution plans for tiled dense matrix multiplication
// on block/thread style compute devices.
//
// A plan partitions C = A x B (A is MxK, B is KxN, C is MxN) across a 2-D
// grid of independent blocks. Each block stages TileK-deep slices of A and B
// through shared memory with a cooperative copy, synchronizes, then has every
// thread accumulate its own TileLocalY x TileLocalX output sub-tile from the
// staged data. Planning is a pure function of the problem shape, the tiling
// configuration and the device limits; all invalid combinations are rejected
// up front and no partial plan is ever produced.
package plan

import "fmt"

// ExecutionPlan is the fully derived schedule for one tiled multiply. It is
// immutable after construction and safe for concurrent use.
type ExecutionPlan struct {
	M, N, K int
	Config  Config

	GridY, GridX    int // blocks along the output row / column axes
	ThreadsPerBlock int
	BlockRows       int // output rows covered by one block
	BlockCols       int // output columns covered by one block
	KChunks         int // reduction chunks, processed in increasing order

	SharedA int // staged elements of A per block per chunk (BlockRows*TileK)
	SharedB int // staged elements of B per block per chunk (TileK*BlockCols)

	CopyItersA int // cooperative-fetch steps per thread for the A slice
	CopyItersB int // cooperative-fetch steps per thread for the B slice
}

// Tile is the contiguous output region owned by a single thread.
type Tile struct {
	Row  int // first output row
	Col  int // first output column
	Rows int
	Cols int
}

// New validates the tiling against the problem shape and device limits and
// derives the execution plan. It fails with *InvalidTilingError when the
// divisibility or thread-count invariants are violated and with
// *ResourceExceededError when the shared staging slices would not fit the
// device's per-block storage.
func New(m, n, k int, cfg Config, limits DeviceLimits) (*ExecutionPlan, error) {
	cfg = cfg.normalized()

	if m <= 0 || n <= 0 || k <= 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("problem dims must be positive, got M=%d N=%d K=%d", m, n, k),
		}
	}
	if cfg.TileBlockY <= 0 || cfg.TileBlockX <= 0 ||
		cfg.TileLocalY <= 0 || cfg.TileLocalX <= 0 ||
		cfg.TileK <= 0 || cfg.VectorWidth <= 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("config fields must be positive: %+v", cfg),
		}
	}

	blockRows := cfg.BlockRows()
	blockCols := cfg.BlockCols()
	threads := cfg.Threads()

	if m%blockRows != 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("M=%d not divisible by tile_block_y*tile_local_y=%d", m, blockRows),
		}
	}
	if n%blockCols != 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("N=%d not divisible by tile_block_x*tile_local_x=%d", n, blockCols),
		}
	}
	if k%cfg.TileK != 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("K=%d not divisible by tile_k=%d", k, cfg.TileK),
		}
	}
	if threads > limits.MaxThreadsPerBlock {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("block needs %d threads, device allows %d", threads, limits.MaxThreadsPerBlock),
		}
	}

	sharedA := blockRows * cfg.TileK
	sharedB := cfg.TileK * blockCols

	// The cooperative copy spreads a staged slice evenly over every thread
	// in the block, VectorWidth contiguous elements per step.
	lane := threads * cfg.VectorWidth
	if sharedA%lane != 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("A slice of %d elements not evenly divisible over %d threads x vector %d",
				sharedA, threads, cfg.VectorWidth),
		}
	}
	if sharedB%lane != 0 {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("B slice of %d elements not evenly divisible over %d threads x vector %d",
				sharedB, threads, cfg.VectorWidth),
		}
	}

	sharedBytes := uint64(sharedA+sharedB) * 4
	if sharedBytes > limits.MaxSharedBytes {
		return nil, &ResourceExceededError{
			Resource:  "workgroup storage",
			Requested: sharedBytes,
			Limit:     limits.MaxSharedBytes,
		}
	}

	gridY := m / blockRows
	gridX := n / blockCols
	if gridY > limits.MaxBlocksPerDim || gridX > limits.MaxBlocksPerDim {
		return nil, &InvalidTilingError{
			Reason: fmt.Sprintf("grid %dx%d exceeds device max %d per dimension",
				gridY, gridX, limits.MaxBlocksPerDim),
		}
	}

	return &ExecutionPlan{
		M: m, N: n, K: k,
		Config:          cfg,
		GridY:           gridY,
		GridX:           gridX,
		ThreadsPerBlock: threads,
		BlockRows:       blockRows,
		BlockCols:       blockCols,
		KChunks:         k / cfg.TileK,
		SharedA:         sharedA,
		SharedB:         sharedB,
		CopyItersA:      sharedA / lane,
		CopyItersB:      sharedB / lane,
	}, nil
}

// CheckOperands verifies caller-supplied operand shapes against the plan.
func (p *ExecutionPlan) CheckOperands(a, b *Matrix) error {
	if a.Rows != p.M || a.Cols != p.K {
		return &DimensionMismatchError{
			Operand: "A", WantRows: p.M, WantCols: p.K, GotRows: a.Rows, GotCols: a.Cols,
		}
	}
	if b.Rows != p.K || b.Cols != p.N {
		return &DimensionMismatchError{
			Operand: "B", WantRows: p.K, WantCols: p.N, GotRows: b.Rows, GotCols: b.Cols,
		}
	}
	return nil
}

// SharedBytes is the per-block staging footprint in bytes.
func (p *ExecutionPlan) SharedBytes() uint64 {
	return uint64(p.SharedA+p.SharedB) * 4
}

// ThreadTile returns the output sub-tile owned by thread (ty,tx) of block
// (by,bx). Each thread's tile is a contiguous BlockRows-aligned rectangle;
// the union over all threads and blocks covers the MxN output exactly once.
func (p *ExecutionPlan) ThreadTile(by, bx, ty, tx int) Tile {
	return Tile{
		Row:  by*p.BlockRows + ty*p.Config.TileLocalY,
		Col:  bx*p.BlockCols + tx*p.Config.TileLocalX,
		Rows: p.Config.TileLocalY,
		Cols: p.Config.TileLocalX,
	}
}

// SharedIndex returns the flattened staged-slice index written by the given
// thread at cooperative-fetch step iter, lane elements into its vector.
// The distribution is a fused index over the whole slice: consecutive
// threads write consecutive VectorWidth-wide spans, so global fetches
// coalesce regardless of which thread later consumes the element.
func (p *ExecutionPlan) SharedIndex(thread, iter, lane int) int {
	return (iter*p.ThreadsPerBlock+thread)*p.Config.VectorWidth + lane
}

// GlobalA maps a flattened A-slice index to the (row, col) of A it stages,
// for block row by and reduction chunk c. The slice is row-major
// [BlockRows][TileK].
func (p *ExecutionPlan) GlobalA(by, chunk, shared int) (int, int) {
	return by*p.BlockRows + shared/p.Config.TileK,
		chunk*p.Config.TileK + shared%p.Config.TileK
}

// GlobalB maps a flattened B-slice index to the (row, col) of B it stages,
// for block column bx and reduction chunk c. The slice is row-major
// [TileK][BlockCols].
func (p *ExecutionPlan) GlobalB(bx, chunk, shared int) (int, int) {
	return chunk*p.Config.TileK + shared/p.BlockCols,
		bx*p.BlockCols + shared%p.BlockCols
}

// String summarizes the plan for logs and the CLI.
func (p *ExecutionPlan) String() string {
	return fmt.Sprintf(
		"plan %dx%dx%d: grid %dx%d, %d threads/block, %d k-chunks, %d B shared/block",
		p.M, p.N, p.K, p.GridY, p.GridX, p.ThreadsPerBlock, p.KChunks, p.SharedBytes())
}
