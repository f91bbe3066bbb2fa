package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/tilegemm/plan"
)

/* ---------- public API ---------- */

// Report is a portable summary of the current adapter/device caps plus the
// tiling configurations recommended for it.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm" (best-effort)
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Host        Host              `json:"host"`
	Recommended []Recommendation  `json:"recommended"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupSizeZ          uint32 `json:"max_compute_workgroup_size_z"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Host describes the CPU side, for the sim backend and for vector-width hints.
type Host struct {
	OS       string   `json:"os"`
	Arch     string   `json:"arch"`
	NumCPU   int      `json:"num_cpu"`
	Features []string `json:"features,omitempty"`
}

// Recommendation is one validated tiling config ranked by the planner's
// traffic estimate for a representative square problem.
type Recommendation struct {
	Config    plan.Config `json:"config"`
	ProblemN  int         `json:"problem_n"` // the M=N=K it was ranked for
	Intensity float64     `json:"intensity"` // flops per global byte
}

// PlanLimits converts the probed limits to the planner's capability bounds.
func (l Limits) PlanLimits() plan.DeviceLimits {
	return plan.DeviceLimits{
		MaxThreadsPerBlock: int(l.MaxComputeInvocationsPerWorkgroup),
		MaxSharedBytes:     uint64(l.MaxComputeWorkgroupStorageSize),
		MaxBlocksPerDim:    int(l.MaxComputeWorkgroupsPerDimension),
	}
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the default adapter/device and synthesizes a report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		RequiredFeatures: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	defer device.Release()

	rep := &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupSizeY:          limits.Limits.MaxComputeWorkgroupSizeY,
			MaxComputeWorkgroupSizeZ:          limits.Limits.MaxComputeWorkgroupSizeZ,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Features: feats,
		Host:     probeHost(),
		Env:      pickEnv([]string{"TILEGEMM_PROBE_N"}),
	}

	probeN := 1024
	if s := os.Getenv("TILEGEMM_PROBE_N"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			probeN = n
		}
	}
	rep.Recommended = Recommend(rep.Limits.PlanLimits(), probeN)

	return rep, nil
}

/* ---------- helpers ---------- */

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func probeHost() Host {
	return Host{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		Features: cpuFeatures(),
	}
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
