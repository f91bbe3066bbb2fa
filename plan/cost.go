package plan

// Traffic is the static memory-traffic and arithmetic estimate for a plan.
// It is exact for the schedule the plan prescribes (every block loads each
// staged slice once per chunk and stores each output element once) and is
// what the detector uses to rank candidate configurations.
type Traffic struct {
	GlobalLoadBytes  uint64
	GlobalStoreBytes uint64
	FLOPs            uint64

	// Intensity is FLOPs per byte of global traffic. Higher means more
	// on-chip reuse for the same problem.
	Intensity float64
}

// EstimateTraffic computes the plan's global-memory traffic estimate.
func (p *ExecutionPlan) EstimateTraffic() Traffic {
	blocks := uint64(p.GridY) * uint64(p.GridX)
	chunks := uint64(p.KChunks)

	loads := blocks * chunks * uint64(p.SharedA+p.SharedB) * 4
	stores := uint64(p.M) * uint64(p.N) * 4
	flops := 2 * uint64(p.M) * uint64(p.N) * uint64(p.K)

	return Traffic{
		GlobalLoadBytes:  loads,
		GlobalStoreBytes: stores,
		FLOPs:            flops,
		Intensity:        float64(flops) / float64(loads+stores),
	}
}
