// Package gpu turns nvidia-smi CSV output into validated GPU readings.
package gpu

import "fmt"

// QueryCommand is the single telemetry query run on every host. Columns are
// positional and must match the order Parse expects.
const QueryCommand = "nvidia-smi --query-gpu=index,name,temperature.gpu,power.draw,power.limit," +
	"memory.used,memory.total,utilization.gpu,utilization.memory --format=csv,noheader,nounits"

// Bounds a reading must satisfy to be kept.
const (
	MaxTemperature = 200  // °C
	MaxPowerWatts  = 1000 // W, applies to draw and limit
	MaxPercent     = 100
)

// Reading is one GPU's telemetry at one point in time.
// All fields are scalars so readings compare with ==.
type Reading struct {
	Index             int     `json:"index" yaml:"index"`
	Name              string  `json:"name" yaml:"name"`
	Temperature       int     `json:"temperature" yaml:"temperature"`               // °C
	PowerDraw         float64 `json:"power_draw" yaml:"power_draw"`                 // W
	PowerLimit        float64 `json:"power_limit" yaml:"power_limit"`               // W
	MemoryUsed        int     `json:"memory_used" yaml:"memory_used"`               // MiB
	MemoryTotal       int     `json:"memory_total" yaml:"memory_total"`             // MiB
	GPUUtilization    int     `json:"gpu_utilization" yaml:"gpu_utilization"`       // %
	MemoryUtilization int     `json:"memory_utilization" yaml:"memory_utilization"` // %
}

// ID is stable per device within one host.
func (r Reading) ID() string {
	return fmt.Sprintf("gpu-%d", r.Index)
}

// MemoryUsagePercent returns used/total memory as a percentage.
func (r Reading) MemoryUsagePercent() float64 {
	if r.MemoryTotal <= 0 {
		return 0
	}
	return float64(r.MemoryUsed) / float64(r.MemoryTotal) * 100
}

// PowerUsagePercent returns draw/limit as a percentage, 0 when the limit is unknown.
func (r Reading) PowerUsagePercent() float64 {
	if r.PowerLimit <= 0 {
		return 0
	}
	return r.PowerDraw / r.PowerLimit * 100
}

// FormattedMemory renders memory as "used / total GB".
func (r Reading) FormattedMemory() string {
	return fmt.Sprintf("%.1f / %.1f GB", float64(r.MemoryUsed)/1024, float64(r.MemoryTotal)/1024)
}

// Valid reports whether every field is within its physical bounds.
func (r Reading) Valid() bool {
	return r.Index >= 0 &&
		r.Name != "" &&
		r.Temperature >= 0 && r.Temperature <= MaxTemperature &&
		r.PowerDraw >= 0 && r.PowerDraw <= MaxPowerWatts &&
		r.PowerLimit >= 0 && r.PowerLimit <= MaxPowerWatts &&
		r.MemoryUsed >= 0 && r.MemoryTotal > 0 &&
		r.GPUUtilization >= 0 && r.GPUUtilization <= MaxPercent &&
		r.MemoryUtilization >= 0 && r.MemoryUtilization <= MaxPercent
}

// Equal reports whether two reading lists are identical element by element.
func Equal(a, b []Reading) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
