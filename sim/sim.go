// Package sim executes an ExecutionPlan on the CPU, phase-for-phase. It is
// the reference backend: blocks run independently, the two intra-block
// barriers become strict phase boundaries, and accumulation follows exactly
// the order the plan prescribes, so two runs with the same inputs produce
// bit-identical output.
package sim

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/openfluke/tilegemm/plan"
)

// Verify enables staged-write assertions during execution: every element of
// each shared slice must be written exactly once per chunk before it is
// consumed. Off by default; the extra bookkeeping roughly doubles the cost
// of the copy phase.
var Verify = false

// Run executes the plan with one worker goroutine per CPU, blocks as tasks.
// Every output element is written by exactly one thread of one block, so
// workers never contend and no locking is needed.
func Run(p *plan.ExecutionPlan, a, b *plan.Matrix) (*plan.Matrix, error) {
	if err := p.CheckOperands(a, b); err != nil {
		return nil, err
	}
	c := plan.NewMatrix(p.M, p.N)

	type task struct{ by, bx int }
	tasks := make(chan task)

	workers := runtime.NumCPU()
	if blocks := p.GridY * p.GridX; workers > blocks {
		workers = blocks
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if err := runBlock(p, a, b, c, t.by, t.bx); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	for by := 0; by < p.GridY; by++ {
		for bx := 0; bx < p.GridX; bx++ {
			tasks <- task{by, bx}
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return c, nil
}

// RunSequential executes the plan one block at a time on the calling
// goroutine. Block order cannot affect the result; this exists to make that
// property checkable against Run.
func RunSequential(p *plan.ExecutionPlan, a, b *plan.Matrix) (*plan.Matrix, error) {
	if err := p.CheckOperands(a, b); err != nil {
		return nil, err
	}
	c := plan.NewMatrix(p.M, p.N)
	for by := 0; by < p.GridY; by++ {
		for bx := 0; bx < p.GridX; bx++ {
			if err := runBlock(p, a, b, c, by, bx); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// runBlock executes the full chunk loop for one block. The simulated phases
// mirror the device schedule:
//
//	for each k-chunk (increasing order):
//	  all threads cooperatively stage the A and B slices   (phase 1)
//	  -- barrier: no thread reads before every write lands  (phase 2)
//	  all threads accumulate their local tiles from shared  (phase 3)
//	  -- barrier: no thread overwrites shared while read    (phase 5)
//	one final store per output element                       (phase 4)
//
// Running the per-thread loops to completion inside each phase gives the
// same visibility guarantees the barriers give on hardware.
func runBlock(p *plan.ExecutionPlan, a, b, c *plan.Matrix, by, bx int) error {
	cfg := p.Config
	sharedA := make([]float32, p.SharedA)
	sharedB := make([]float32, p.SharedB)

	// Staged-write counters, allocated only when Verify is on.
	var wroteA, wroteB []int
	if Verify {
		wroteA = make([]int, p.SharedA)
		wroteB = make([]int, p.SharedB)
	}

	// Per-thread accumulator tiles: one contiguous TileLocalY*TileLocalX
	// slice per thread, zeroed once and carried across all chunks.
	acc := make([]float32, p.ThreadsPerBlock*cfg.TileLocalY*cfg.TileLocalX)
	tileLen := cfg.TileLocalY * cfg.TileLocalX

	for chunk := 0; chunk < p.KChunks; chunk++ {
		if Verify {
			clear(wroteA)
			clear(wroteB)
		}

		// Phase 1: cooperative copy, fused index spread over all threads.
		for t := 0; t < p.ThreadsPerBlock; t++ {
			for iter := 0; iter < p.CopyItersA; iter++ {
				for lane := 0; lane < cfg.VectorWidth; lane++ {
					s := p.SharedIndex(t, iter, lane)
					r, col := p.GlobalA(by, chunk, s)
					sharedA[s] = a.At(r, col)
					if Verify {
						wroteA[s]++
					}
				}
			}
			for iter := 0; iter < p.CopyItersB; iter++ {
				for lane := 0; lane < cfg.VectorWidth; lane++ {
					s := p.SharedIndex(t, iter, lane)
					r, col := p.GlobalB(bx, chunk, s)
					sharedB[s] = b.At(r, col)
					if Verify {
						wroteB[s]++
					}
				}
			}
		}

		// At the barrier every staged element must have landed exactly once;
		// a gap means a thread would consume stale data, a duplicate means
		// the copy distribution overlaps.
		if Verify {
			if err := checkStagedWrites(wroteA, "A", by, bx, chunk); err != nil {
				return err
			}
			if err := checkStagedWrites(wroteB, "B", by, bx, chunk); err != nil {
				return err
			}
		}

		// Barrier, then phase 3: every thread advances its accumulator
		// tile over this chunk, kk strictly increasing.
		for ty := 0; ty < cfg.TileBlockY; ty++ {
			for tx := 0; tx < cfg.TileBlockX; tx++ {
				t := ty*cfg.TileBlockX + tx
				tile := acc[t*tileLen : (t+1)*tileLen]
				for kk := 0; kk < cfg.TileK; kk++ {
					for i := 0; i < cfg.TileLocalY; i++ {
						av := sharedA[(ty*cfg.TileLocalY+i)*cfg.TileK+kk]
						row := tile[i*cfg.TileLocalX : (i+1)*cfg.TileLocalX]
						bRow := sharedB[kk*p.BlockCols+tx*cfg.TileLocalX:]
						for j := 0; j < cfg.TileLocalX; j++ {
							row[j] += av * bRow[j]
						}
					}
				}
			}
		}
		// Barrier before the next chunk's copy overwrites the slices.
	}

	// Phase 4: single global store per output element.
	for ty := 0; ty < cfg.TileBlockY; ty++ {
		for tx := 0; tx < cfg.TileBlockX; tx++ {
			t := ty*cfg.TileBlockX + tx
			tile := acc[t*tileLen : (t+1)*tileLen]
			out := p.ThreadTile(by, bx, ty, tx)
			for i := 0; i < out.Rows; i++ {
				for j := 0; j < out.Cols; j++ {
					c.Set(out.Row+i, out.Col+j, tile[i*out.Cols+j])
				}
			}
		}
	}
	return nil
}

func checkStagedWrites(counts []int, operand string, by, bx, chunk int) error {
	for s, n := range counts {
		if n != 1 {
			return fmt.Errorf("block (%d,%d) chunk %d: %s slice element %d staged %d times",
				by, bx, chunk, operand, s, n)
		}
	}
	return nil
}

// Reference computes A x B with a plain cache-tiled CPU loop, independent of
// any plan. Used to validate plan execution numerically.
func Reference(a, b *plan.Matrix) *plan.Matrix {
	m, k, n := a.Rows, a.Cols, b.Cols
	c := plan.NewMatrix(m, n)
	const ts = 64
	for i0 := 0; i0 < m; i0 += ts {
		for k0 := 0; k0 < k; k0 += ts {
			for j0 := 0; j0 < n; j0 += ts {
				iMax := min(i0+ts, m)
				kMax := min(k0+ts, k)
				jMax := min(j0+ts, n)
				for i := i0; i < iMax; i++ {
					for kk := k0; kk < kMax; kk++ {
						av := a.Data[i*k+kk]
						rowC := c.Data[i*n : (i+1)*n]
						rowB := b.Data[kk*n : (kk+1)*n]
						for j := j0; j < jMax; j++ {
							rowC[j] += av * rowB[j]
						}
					}
				}
			}
		}
	}
	return c
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
