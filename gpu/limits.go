package gpu

import "github.com/openfluke/tilegemm/plan"

// Limits reads the live adapter's compute limits and converts them into the
// planner's DeviceLimits, so plans are validated against the hardware that
// will run them.
func Limits() (plan.DeviceLimits, error) {
	c, err := GetContext()
	if err != nil {
		return plan.DeviceLimits{}, err
	}
	l := c.Adapter.GetLimits()
	return plan.DeviceLimits{
		MaxThreadsPerBlock: int(l.Limits.MaxComputeInvocationsPerWorkgroup),
		MaxSharedBytes:     uint64(l.Limits.MaxComputeWorkgroupStorageSize),
		MaxBlocksPerDim:    int(l.Limits.MaxComputeWorkgroupsPerDimension),
	}, nil
}
