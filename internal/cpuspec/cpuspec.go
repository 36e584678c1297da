// Package cpuspec picks inference thread counts from the host CPU layout.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PerformanceCores int
}

var (
	intelCoreRegex  = regexp.MustCompile(`intel.*core.*i[3579]-(\d{5})`)
	intelUltraRegex = regexp.MustCompile(`intel.*core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	appleRegex      = regexp.MustCompile(`apple\s+(m[1-4](?:\s+(?:pro|max|ultra))?)`)
)

// Performance core counts of hybrid CPUs. Intel entries are keyed by the
// model number without suffix.
var performanceCores = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
	"ultra 285": 8, "ultra 265": 8, "ultra 255": 8, "ultra 235": 6, "ultra 225": 4,
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

// GetCPUSpec returns the host CPU brand and its performance core count when known.
func GetCPUSpec() CPUSpec {
	brand := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brand,
		PerformanceCores: lookupPerformanceCores(brand),
	}
}

// GetOptimalThreadCount returns the recommended number of inference threads:
// the performance cores on hybrid CPUs, otherwise all logical cores.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()
	if c.PerformanceCores > 0 {
		return min(c.PerformanceCores, available)
	}
	if cpuid.CPU.LogicalCores > 0 {
		return min(cpuid.CPU.LogicalCores, available)
	}
	return available
}

func lookupPerformanceCores(brand string) int {
	brand = strings.ToLower(brand)
	if m := intelUltraRegex.FindStringSubmatch(brand); m != nil {
		return performanceCores["ultra "+m[1]]
	}
	if m := intelCoreRegex.FindStringSubmatch(brand); m != nil {
		return performanceCores[m[1]]
	}
	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		return performanceCores[strings.Join(strings.Fields(m[1]), " ")]
	}
	return 0
}
