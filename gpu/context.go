package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on first use.
// Adapter selection prefers a discrete NVIDIA device when one is present,
// then falls back through high-performance, low-power and default requests.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		for _, a := range ctx.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			Log("adapter: %s (vendor %s, device 0x%X, type %d)",
				info.Name, info.VendorName, info.DeviceId, info.AdapterType)
			if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
				strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
				ctx.Adapter = a
				break
			}
		}

		tryInit := func(opts *wgpu.RequestAdapterOptions) error {
			if ctx.Adapter != nil {
				return nil
			}
			var err error
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			return err
		}

		if ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceHighPerformance,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			Log("high performance adapter failed: %v, falling back", initErr)
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceLowPower,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			Log("low power adapter failed: %v, trying default", initErr)
			initErr = tryInit(nil)
		}
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("all adapter attempts failed: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		Log("using adapter: %s (vendor %s)", info.Name, info.VendorName)

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}
