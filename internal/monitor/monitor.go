// Package monitor samples process memory so the dispatcher can slow
// admission of new work under pressure.
package monitor

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// Monitor reports process memory pressure. Strictly advisory: callers
// consult it before admitting new work and never abort in-flight work
// because of it.
type Monitor interface {
	// CurrentUsageMB returns the resident memory of this process in MB.
	CurrentUsageMB() (float64, error)
	// ShouldThrottle reports whether usage exceeds the configured limit.
	// Failures to read memory stats fail open.
	ShouldThrottle() bool
	// Reclaim forces a garbage collection and returns freed memory to the
	// operating system.
	Reclaim()
}

// ProcessMonitor samples the current process RSS with a short-lived cache so
// hot polling stays cheap.
type ProcessMonitor struct {
	limitMB  float64
	interval time.Duration
	log      *observability.Logger
	sample   func() (float64, error)

	mu        sync.Mutex
	lastMB    float64
	sampledAt time.Time
}

// NewProcessMonitor creates a monitor with the given limit in MB. A limit of
// zero or below disables throttling. interval bounds how often the process
// is actually probed.
func NewProcessMonitor(limitMB int, interval time.Duration, log *observability.Logger) *ProcessMonitor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	m := &ProcessMonitor{
		limitMB:  float64(limitMB),
		interval: interval,
		log:      log.WithComponent("monitor"),
	}
	m.sample = m.residentMB
	return m
}

// CurrentUsageMB implements Monitor.
func (m *ProcessMonitor) CurrentUsageMB() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sampledAt.IsZero() && time.Since(m.sampledAt) < m.interval {
		return m.lastMB, nil
	}
	mb, err := m.sample()
	if err != nil {
		return 0, err
	}
	m.lastMB = mb
	m.sampledAt = time.Now()
	return mb, nil
}

// ShouldThrottle implements Monitor.
func (m *ProcessMonitor) ShouldThrottle() bool {
	if m.limitMB <= 0 {
		return false
	}
	usage, err := m.CurrentUsageMB()
	if err != nil {
		m.log.Debug().Err(err).Msg("memory probe failed, not throttling")
		return false
	}
	return usage > m.limitMB
}

// Reclaim implements Monitor.
func (m *ProcessMonitor) Reclaim() {
	before, _ := m.CurrentUsageMB()
	debug.FreeOSMemory()

	m.mu.Lock()
	m.sampledAt = time.Time{}
	m.mu.Unlock()

	after, err := m.CurrentUsageMB()
	if err != nil {
		return
	}
	m.log.Debug().
		Float64("before_mb", before).
		Float64("after_mb", after).
		Msg("reclaimed memory")
}

// residentMB probes the OS for this process's resident set size, falling
// back to runtime statistics when the probe fails.
func (m *ProcessMonitor) residentMB() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		info, merr := proc.MemoryInfo()
		if merr == nil && info != nil {
			return float64(info.RSS) / (1024 * 1024), nil
		}
		err = merr
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.Sys > 0 {
		return float64(stats.Sys) / (1024 * 1024), nil
	}
	return 0, err
}
