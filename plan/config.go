package plan

// Config is an immutable tiling configuration for a tiled matrix multiply.
// A block of TileBlockY*TileBlockX threads cooperates on one output tile of
// (TileBlockY*TileLocalY) x (TileBlockX*TileLocalX) elements, staging the
// operands through shared memory in TileK-deep slices of the reduction axis.
type Config struct {
	TileBlockY int // threads per block along the output row axis
	TileBlockX int // threads per block along the output column axis
	TileLocalY int // output rows computed by each thread
	TileLocalX int // output columns computed by each thread
	TileK      int // reduction-axis chunk depth staged per iteration

	// VectorWidth is the number of contiguous elements each thread copies
	// per cooperative-fetch step. 0 or 1 means scalar fetch.
	VectorWidth int
}

// DefaultConfig returns a tiling that performs well on most adapters and
// satisfies the portable WebGPU baseline limits.
func DefaultConfig() Config {
	return Config{
		TileBlockY:  8,
		TileBlockX:  8,
		TileLocalY:  8,
		TileLocalX:  8,
		TileK:       8,
		VectorWidth: 4,
	}
}

// normalized returns the config with VectorWidth defaulted to 1.
func (c Config) normalized() Config {
	if c.VectorWidth == 0 {
		c.VectorWidth = 1
	}
	return c
}

// BlockRows is the number of output rows covered by one block.
func (c Config) BlockRows() int { return c.TileBlockY * c.TileLocalY }

// BlockCols is the number of output columns covered by one block.
func (c Config) BlockCols() int { return c.TileBlockX * c.TileLocalX }

// Threads is the number of cooperating threads in one block.
func (c Config) Threads() int { return c.TileBlockY * c.TileBlockX }

// DeviceLimits are the capability bounds a plan is validated against. They
// come from the executing device (see gpu.Limits and the detector package);
// DefaultLimits mirrors the portable WebGPU baseline.
type DeviceLimits struct {
	MaxThreadsPerBlock int    // max invocations in one workgroup
	MaxSharedBytes     uint64 // max workgroup storage per block, bytes
	MaxBlocksPerDim    int    // max workgroups along one grid dimension
}

// DefaultLimits returns the portable baseline every WebGPU adapter guarantees.
func DefaultLimits() DeviceLimits {
	return DeviceLimits{
		MaxThreadsPerBlock: 256,
		MaxSharedBytes:     16384,
		MaxBlocksPerDim:    65535,
	}
}
