package assemble

import (
	"sync"
	"time"
)

// Telemetry tracks assembler counters. All methods are safe for concurrent
// use.
type Telemetry struct {
	mu sync.Mutex

	builds         int
	errors         int
	prunedBuilds   int
	degradedBuilds int
	degradedLayers map[string]int
	totalBuildTime time.Duration
	maxBuildTime   time.Duration
}

// NewTelemetry returns zeroed telemetry.
func NewTelemetry() *Telemetry {
	return &Telemetry{degradedLayers: map[string]int{}}
}

// RecordBuild records one successful envelope build.
func (t *Telemetry) RecordBuild(buildTime time.Duration, pruned bool, degradedLayers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.builds++
	if pruned {
		t.prunedBuilds++
	}
	if degradedLayers > 0 {
		t.degradedBuilds++
	}
	t.totalBuildTime += buildTime
	if buildTime > t.maxBuildTime {
		t.maxBuildTime = buildTime
	}
}

// RecordDegraded records one layer falling back to its degraded default.
func (t *Telemetry) RecordDegraded(layer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degradedLayers[layer]++
}

// RecordError records one failed build.
func (t *Telemetry) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Builds         int            `json:"builds"`
	Errors         int            `json:"errors"`
	PrunedBuilds   int            `json:"pruned_builds"`
	DegradedBuilds int            `json:"degraded_builds"`
	DegradedLayers map[string]int `json:"degraded_layers,omitempty"`
	AvgBuildTime   time.Duration  `json:"avg_build_time"`
	MaxBuildTime   time.Duration  `json:"max_build_time"`
}

// Snapshot returns a copy of the current counters.
func (t *Telemetry) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Builds:         t.builds,
		Errors:         t.errors,
		PrunedBuilds:   t.prunedBuilds,
		DegradedBuilds: t.degradedBuilds,
		DegradedLayers: make(map[string]int, len(t.degradedLayers)),
		MaxBuildTime:   t.maxBuildTime,
	}
	for k, v := range t.degradedLayers {
		s.DegradedLayers[k] = v
	}
	if t.builds > 0 {
		s.AvgBuildTime = t.totalBuildTime / time.Duration(t.builds)
	}
	return s
}
