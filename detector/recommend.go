package detector

import (
	"sort"

	"github.com/openfluke/tilegemm/plan"
)

// candidateConfigs is the search space for recommendations: square thread
// blocks with per-thread tiles from 1x1 up to 8x8 and chunk depths from 4 to
// 32. Everything is a power of two so the cooperative copy divides evenly
// for power-of-two problems.
func candidateConfigs() []plan.Config {
	var out []plan.Config
	for _, block := range []int{8, 16} {
		for _, local := range []int{1, 2, 4, 8} {
			for _, tk := range []int{4, 8, 16, 32} {
				for _, vec := range []int{1, 4} {
					out = append(out, plan.Config{
						TileBlockY: block, TileBlockX: block,
						TileLocalY: local, TileLocalX: local,
						TileK:       tk,
						VectorWidth: vec,
					})
				}
			}
		}
	}
	return out
}

// Recommend enumerates the candidate tilings, keeps those that plan cleanly
// for an n x n x n problem under the given limits, and ranks them by
// arithmetic intensity (highest first). Purely static: nothing is executed.
func Recommend(limits plan.DeviceLimits, n int) []Recommendation {
	var recs []Recommendation
	for _, cfg := range candidateConfigs() {
		p, err := plan.New(n, n, n, cfg, limits)
		if err != nil {
			continue
		}
		recs = append(recs, Recommendation{
			Config:    cfg,
			ProblemN:  n,
			Intensity: p.EstimateTraffic().Intensity,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Intensity > recs[j].Intensity
	})
	if len(recs) > 8 {
		recs = recs[:8]
	}
	return recs
}

// RecommendConfig returns the best-ranked tiling for an M=N=K=n problem, or
// the portable default when nothing in the search space fits the limits.
func RecommendConfig(limits plan.DeviceLimits, n int) (plan.Config, error) {
	recs := Recommend(limits, n)
	if len(recs) == 0 {
		cfg := plan.DefaultConfig()
		if _, err := plan.New(n, n, n, cfg, limits); err != nil {
			return plan.Config{}, err
		}
		return cfg, nil
	}
	return recs[0].Config, nil
}
