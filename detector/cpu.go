package detector

import (
	grt "runtime"

	"golang.org/x/sys/cpu"
)

// cpuFeatures lists the host SIMD capabilities relevant to the CPU backend.
func cpuFeatures() []string {
	var out []string
	switch grt.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasSSE42 {
			out = append(out, "sse4.2")
		}
		if cpu.X86.HasAVX2 {
			out = append(out, "avx2")
		}
		if cpu.X86.HasAVX512F {
			out = append(out, "avx512f")
		}
		if cpu.X86.HasFMA {
			out = append(out, "fma")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			out = append(out, "asimd")
		}
		if cpu.ARM64.HasSVE {
			out = append(out, "sve")
		}
	}
	return out
}
