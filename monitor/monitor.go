// Package monitor samples host resources before and during batch runs.
// Everything it reports is advisory: a run is never refused or failed
// because of a sample.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"taxiflow/errors"
	"taxiflow/metrics"
)

const bytesPerGB = 1 << 30

// Resources a sampler reads.
const (
	ResourceCPU    = "cpu"
	ResourceMemory = "memory"
	ResourceDisk   = "disk"
)

type Snapshot struct {
	Time              time.Time `json:"time"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskPercent       float64   `json:"disk_percent"`
	// Missing names the resources that could not be read. Their fields are
	// zero and mean nothing.
	Missing []string `json:"missing,omitempty"`
}

// Has reports whether resource was read.
func (s Snapshot) Has(resource string) bool {
	for _, m := range s.Missing {
		if m == resource {
			return false
		}
	}
	return true
}

type Thresholds struct {
	CPUCeilingPercent    float64
	MemoryCeilingPercent float64
	MinAvailableMemoryGB float64
}

var DefaultThresholds = Thresholds{CPUCeilingPercent: 90, MemoryCeilingPercent: 90, MinAvailableMemoryGB: 1}

// Sampler takes one synchronous resource reading.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SystemSampler reads the local host through gopsutil.
type SystemSampler struct {
	CPUWindow time.Duration
	DiskPath  string
}

// Sample fills in every reading it can and reports the ones it could not.
func (s SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Time: time.Now()}
	var errs []error

	if pct, err := cpu.PercentWithContext(ctx, s.CPUWindow, false); err != nil {
		errs = append(errs, errors.Wrap(err, "cpu"))
		snap.Missing = append(snap.Missing, ResourceCPU)
	} else if len(pct) == 0 {
		snap.Missing = append(snap.Missing, ResourceCPU)
	} else {
		snap.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "memory"))
		snap.Missing = append(snap.Missing, ResourceMemory)
	} else {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryAvailableGB = float64(vm.Available) / bytesPerGB
	}

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err != nil {
		errs = append(errs, errors.Wrapf(err, "disk %s", path))
		snap.Missing = append(snap.Missing, ResourceDisk)
	} else {
		snap.DiskPercent = du.UsedPercent
	}

	if len(errs) > 0 {
		return snap, errors.Newf("resource sample incomplete: %v", errs)
	}
	return snap, nil
}

type Monitor struct {
	sampler    Sampler
	thresholds Thresholds
}

func New(sampler Sampler, thresholds Thresholds) *Monitor {
	return &Monitor{sampler: sampler, thresholds: thresholds}
}

// Warning is one threshold a snapshot crossed.
type Warning struct {
	Resource string
	Message  string
}

// Warnings lists the thresholds snap is past. Readings in snap.Missing are
// not judged.
func (t Thresholds) Warnings(snap Snapshot) []Warning {
	var warnings []Warning
	hasMem, hasCPU := snap.Has(ResourceMemory), snap.Has(ResourceCPU)
	if hasMem && t.MemoryCeilingPercent > 0 && snap.MemoryPercent > t.MemoryCeilingPercent {
		warnings = append(warnings, Warning{ResourceMemory,
			fmt.Sprintf("memory usage %.1f%% above %.0f%%", snap.MemoryPercent, t.MemoryCeilingPercent)})
	}
	if hasCPU && t.CPUCeilingPercent > 0 && snap.CPUPercent > t.CPUCeilingPercent {
		warnings = append(warnings, Warning{ResourceCPU,
			fmt.Sprintf("cpu usage %.1f%% above %.0f%%", snap.CPUPercent, t.CPUCeilingPercent)})
	}
	if hasMem && t.MinAvailableMemoryGB > 0 && snap.MemoryAvailableGB < t.MinAvailableMemoryGB {
		warnings = append(warnings, Warning{"available_memory",
			fmt.Sprintf("available memory %.2fGB below %.2fGB", snap.MemoryAvailableGB, t.MinAvailableMemoryGB)})
	}
	return warnings
}

// Check samples once, updates the resource gauges and logs a warning per
// threshold crossed. It never fails.
func (m *Monitor) Check(ctx context.Context) (Snapshot, []Warning) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("resource sample incomplete")
	}

	ev := log.Info()
	if snap.Has(ResourceCPU) {
		metrics.CPUPercent.Set(snap.CPUPercent)
		ev = ev.Float64("cpu_percent", snap.CPUPercent)
	}
	if snap.Has(ResourceMemory) {
		metrics.MemoryPercent.Set(snap.MemoryPercent)
		metrics.MemoryAvailableGB.Set(snap.MemoryAvailableGB)
		ev = ev.Float64("memory_percent", snap.MemoryPercent).
			Float64("memory_available_gb", snap.MemoryAvailableGB)
	}
	if snap.Has(ResourceDisk) {
		metrics.DiskPercent.Set(snap.DiskPercent)
		ev = ev.Float64("disk_percent", snap.DiskPercent)
	}
	ev.Strs("missing", snap.Missing).Msg("system resources")

	warnings := m.thresholds.Warnings(snap)
	for _, w := range warnings {
		metrics.ResourceWarnings.WithLabelValues(w.Resource).Inc()
		log.Warn().Str("resource", w.Resource).Msg(w.Message)
	}
	return snap, warnings
}

// Watch calls Check every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
