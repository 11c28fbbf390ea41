// Package obshealth produces the runtime resource snapshot served from
// /healthz, re-homing the teacher's gopsutil usage from a full campaign
// resource monitor/killer down to a read-only snapshot: the crawl kernel
// has no per-campaign resource limits to enforce, but operators still want
// CPU/memory/goroutine visibility on the process serving a long crawl.
package obshealth

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time read of process and host resource usage.
type Snapshot struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryUsedMB  uint64    `json:"memoryUsedMB"`
	MemoryPercent float64   `json:"memoryPercent"`
	Goroutines    int       `json:"goroutines"`
	Timestamp     time.Time `json:"timestamp"`
}

// Read takes one Snapshot. A sampling failure degrades to zero values for
// that field rather than failing the whole snapshot, since /healthz must
// stay cheap and resilient. CPU sampling does not block: an interval of 0
// requests the delta since the previous call instead of sleeping for a
// sampling window.
func Read() Snapshot {
	s := Snapshot{Timestamp: time.Now(), Goroutines: runtime.NumGoroutine()}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedMB = vm.Used / (1024 * 1024)
		s.MemoryPercent = vm.UsedPercent
	}
	return s
}
