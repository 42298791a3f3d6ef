// Package resource decides streaming mode and safe worker counts from
// sampled memory and disk pressure.
//
// Sampling is isolated behind the Sampler interface so the decision logic
// stays pure and testable; SystemSampler is the gopsutil-backed
// implementation used in production.
package resource

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStat is a point-in-time view of system memory.
type MemoryStat struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedPercent    float64
}

// Sampler reads OS resource counters. Implementations report ok=false
// when a counter is unavailable, and callers degrade gracefully.
type Sampler interface {
	Memory() (MemoryStat, bool)
	DiskBusyPercent(window time.Duration) (float64, bool)
	CPUCount() int
}

// Thresholds holds the tunables for streaming and worker-count decisions.
type Thresholds struct {
	// LargeFileStreamingBytes forces streaming for files over this size.
	LargeFileStreamingBytes int64

	// StreamSwitchPercent forces streaming when system memory usage is
	// at or above this percentage.
	StreamSwitchPercent float64

	// MemoryLoadFactor is the share of available memory a full sheet
	// load may plausibly consume. Files larger than
	// available*MemoryLoadFactor stream.
	MemoryLoadFactor float64

	// Input-size buckets. As the total input crosses each boundary the
	// worker count is capped lower, since each worker can hold a whole
	// file in memory.
	SmallInputBytes  int64
	MediumInputBytes int64
	LargeInputBytes  int64
	SmallInputCap    int
	MediumInputCap   int
	LargeInputCap    int

	// Disk throttle.
	IOBusyThresholdPercent float64
	IOReduceFactor         float64
	IOMinWorkers           int
	IOSampleWindow         time.Duration
}

// DefaultThresholds mirrors the operational defaults for periodic
// full-rebuild imports on a single workstation.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeFileStreamingBytes: 100 << 20,
		StreamSwitchPercent:     75,
		MemoryLoadFactor:        0.4,
		SmallInputBytes:         256 << 20,
		MediumInputBytes:        1 << 30,
		LargeInputBytes:         4 << 30,
		SmallInputCap:           8,
		MediumInputCap:          4,
		LargeInputCap:           2,
		IOBusyThresholdPercent:  75,
		IOReduceFactor:          0.5,
		IOMinWorkers:            1,
		IOSampleWindow:          250 * time.Millisecond,
	}
}

// Monitor makes resource-aware scheduling decisions. The decisions are
// pure functions of the sampled inputs; only the Sampler touches the OS.
type Monitor struct {
	sampler Sampler
	limits  Thresholds

	mu         sync.Mutex
	rssSamples []uint64
}

// NewMonitor returns a Monitor using the given sampler and thresholds.
func NewMonitor(sampler Sampler, limits Thresholds) *Monitor {
	return &Monitor{sampler: sampler, limits: limits}
}

// ShouldStream reports whether a file of the given size should be read in
// streaming mode instead of being loaded whole. True when the file exceeds
// the absolute threshold, when system memory usage is already high, or
// when available memory cannot plausibly hold the file.
func (m *Monitor) ShouldStream(fileSizeBytes int64) bool {
	if fileSizeBytes > m.limits.LargeFileStreamingBytes {
		return true
	}

	stat, ok := m.sampler.Memory()
	if !ok {
		return false
	}
	if stat.UsedPercent >= m.limits.StreamSwitchPercent {
		return true
	}
	if float64(fileSizeBytes) > float64(stat.AvailableBytes)*m.limits.MemoryLoadFactor {
		return true
	}
	return false
}

// SafeWorkerCount returns the worker count to schedule for the given total
// input size. It starts from the baseline (or cpuCount-1 when baseline is
// zero), caps it by input-size bucket, then reduces it further when the
// storage device is busy. The result is always in [1, baseline].
func (m *Monitor) SafeWorkerCount(totalInputBytes int64, baselineWorkers int) int {
	if baselineWorkers <= 0 {
		baselineWorkers = max(1, m.sampler.CPUCount()-1)
	}
	workers := baselineWorkers

	switch {
	case m.limits.LargeInputBytes > 0 && totalInputBytes >= m.limits.LargeInputBytes:
		workers = min(workers, max(1, m.limits.LargeInputCap))
	case m.limits.MediumInputBytes > 0 && totalInputBytes >= m.limits.MediumInputBytes:
		workers = min(workers, max(1, m.limits.MediumInputCap))
	case m.limits.SmallInputBytes > 0 && totalInputBytes >= m.limits.SmallInputBytes:
		workers = min(workers, max(1, m.limits.SmallInputCap))
	}

	// Busy percentage is sampled just-in-time; it is advisory, so an
	// unavailable counter means no throttle.
	if busy, ok := m.sampler.DiskBusyPercent(m.limits.IOSampleWindow); ok && busy >= m.limits.IOBusyThresholdPercent {
		reduced := int(float64(workers) * m.limits.IOReduceFactor)
		workers = max(reduced, m.limits.IOMinWorkers)
	}

	if workers > baselineWorkers {
		workers = baselineWorkers
	}
	return max(1, workers)
}

// Streaming chunk bounds, in rows. Chunks under the floor thrash the
// merge channel; chunks over the ceiling defeat the point of streaming.
const (
	minStreamChunkRows = 5_000
	maxStreamChunkRows = 100_000

	// streamRowBudgetDivisor sizes a chunk's memory budget: one chunk
	// may hold roughly available/divisor bytes, at ~2KB per row.
	streamRowBudgetDivisor = 100 * 2048
)

// StreamChunkRows adapts the configured streaming chunk size to current
// memory availability, clamped to [5000, 100000] rows. When memory cannot
// be sampled the configured size is used as-is, clamped.
func (m *Monitor) StreamChunkRows(configured int) int {
	if configured <= 0 {
		configured = maxStreamChunkRows / 2
	}
	if stat, ok := m.sampler.Memory(); ok {
		budget := int(stat.AvailableBytes / streamRowBudgetDivisor)
		if budget < configured {
			configured = budget
		}
	}
	return min(max(configured, minStreamChunkRows), maxStreamChunkRows)
}

// SampleProcess records the current process RSS for the end-of-run
// resource report. Safe for concurrent use.
func (m *Monitor) SampleProcess() {
	rss, ok := processRSS()
	if !ok {
		return
	}
	m.mu.Lock()
	m.rssSamples = append(m.rssSamples, rss)
	m.mu.Unlock()
}

// Report summarizes the recorded process samples.
type Report struct {
	Samples  int     `json:"samples"`
	MinRSSMB float64 `json:"min_rss_mb"`
	MaxRSSMB float64 `json:"max_rss_mb"`
	AvgRSSMB float64 `json:"avg_rss_mb"`
}

// Summary returns the resource report for the samples collected so far.
func (m *Monitor) Summary() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{Samples: len(m.rssSamples)}
	if len(m.rssSamples) == 0 {
		return r
	}
	minV, maxV, sum := m.rssSamples[0], m.rssSamples[0], uint64(0)
	for _, s := range m.rssSamples {
		if s < minV {
			minV = s
		}
		if s > maxV {
			maxV = s
		}
		sum += s
	}
	const mb = 1 << 20
	r.MinRSSMB = float64(minV) / mb
	r.MaxRSSMB = float64(maxV) / mb
	r.AvgRSSMB = float64(sum) / float64(len(m.rssSamples)) / mb
	return r
}

func processRSS() (uint64, bool) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0, false
	}
	return info.RSS, true
}

// SystemSampler reads live counters via gopsutil.
type SystemSampler struct{}

// Memory implements Sampler.
func (SystemSampler) Memory() (MemoryStat, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return MemoryStat{}, false
	}
	return MemoryStat{
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		UsedPercent:    vm.UsedPercent,
	}, true
}

// DiskBusyPercent implements Sampler by sampling IO counters twice over
// the window and deriving a busy percentage from the IO-time delta.
func (SystemSampler) DiskBusyPercent(window time.Duration) (float64, bool) {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	first, err := disk.IOCounters()
	if err != nil || len(first) == 0 {
		return 0, false
	}
	time.Sleep(window)
	second, err := disk.IOCounters()
	if err != nil || len(second) == 0 {
		return 0, false
	}

	var deltaMs uint64
	for name, s2 := range second {
		s1, ok := first[name]
		if !ok {
			continue
		}
		deltaMs += s2.IoTime - s1.IoTime
	}
	busy := float64(deltaMs) / float64(window.Milliseconds()) * 100
	if busy < 0 {
		busy = 0
	}
	if busy > 100 {
		busy = 100
	}
	return busy, true
}

// CPUCount implements Sampler, falling back to runtime.NumCPU when the
// counter is unavailable.
func (SystemSampler) CPUCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}
