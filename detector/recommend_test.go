package detector

import (
	"testing"

	"github.com/openfluke/tilegemm/plan"
)

// TestRecommend checks every recommendation plans cleanly and the list is
// ranked by descending intensity.
func TestRecommend(t *testing.T) {
	limits := plan.DefaultLimits()
	recs := Recommend(limits, 1024)
	if len(recs) == 0 {
		t.Fatal("no recommendations for baseline limits")
	}

	for i, rec := range recs {
		if _, err := plan.New(1024, 1024, 1024, rec.Config, limits); err != nil {
			t.Errorf("recommendation %d does not plan: %v", i, err)
		}
		if i > 0 && recs[i-1].Intensity < rec.Intensity {
			t.Errorf("recommendations out of order at %d: %.2f before %.2f",
				i, recs[i-1].Intensity, rec.Intensity)
		}
	}
}

// TestRecommendConfig checks the top pick and the tight-limits fallback.
func TestRecommendConfig(t *testing.T) {
	limits := plan.DefaultLimits()
	cfg, err := RecommendConfig(limits, 512)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if _, err := plan.New(512, 512, 512, cfg, limits); err != nil {
		t.Errorf("recommended config does not plan: %v", err)
	}

	// A device with almost no workgroup storage fits nothing in the
	// search space and not the default either.
	tight := plan.DeviceLimits{MaxThreadsPerBlock: 4, MaxSharedBytes: 16, MaxBlocksPerDim: 65535}
	if _, err := RecommendConfig(tight, 512); err == nil {
		t.Error("expected no valid config for tight limits")
	}
}

// TestPlanLimits checks the probed-limits conversion.
func TestPlanLimits(t *testing.T) {
	l := Limits{
		MaxComputeInvocationsPerWorkgroup: 1024,
		MaxComputeWorkgroupStorageSize:    32768,
		MaxComputeWorkgroupsPerDimension:  65535,
	}
	pl := l.PlanLimits()
	if pl.MaxThreadsPerBlock != 1024 || pl.MaxSharedBytes != 32768 || pl.MaxBlocksPerDim != 65535 {
		t.Errorf("conversion wrong: %+v", pl)
	}
}
