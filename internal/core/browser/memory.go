package browser

import (
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"

	"ratingsync/internal/logger"
)

// MemoryStats describes one cleanup pass.
type MemoryStats struct {
	HeapBeforeMB      float64 `json:"heap_before_mb"`
	HeapAfterMB       float64 `json:"heap_after_mb"`
	SystemAvailableMB uint64  `json:"system_available_mb"`
	SystemUsedPercent float64 `json:"system_used_percent"`
	Pressure          string  `json:"pressure"`
}

// MemoryMonitor runs forced collections between pages of long jobs and
// samples system memory.
type MemoryMonitor struct {
	log     *logger.Logger
	virtual func() (*mem.VirtualMemoryStat, error)
}

func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{log: logger.New("Memory"), virtual: mem.VirtualMemory}
}

// Cleanup forces a garbage collection, returns freed memory to the OS and
// reports the resulting pressure level.
func (m *MemoryMonitor) Cleanup() MemoryStats {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	stats := MemoryStats{
		HeapBeforeMB: toMB(before.HeapAlloc),
		HeapAfterMB:  toMB(after.HeapAlloc),
		Pressure:     "unknown",
	}
	vm, err := m.virtual()
	if err != nil {
		m.log.LogDebugf("virtual memory sample failed: %v", err)
		return stats
	}
	stats.SystemAvailableMB = vm.Available / (1024 * 1024)
	stats.SystemUsedPercent = vm.UsedPercent
	stats.Pressure = pressureLevel(stats.SystemAvailableMB)
	if stats.Pressure != "normal" {
		m.log.LogWarnf("memory pressure %s: %d MB available", stats.Pressure, stats.SystemAvailableMB)
	}
	return stats
}

func pressureLevel(availableMB uint64) string {
	switch {
	case availableMB < 200:
		return "emergency"
	case availableMB < 300:
		return "critical"
	case availableMB < 500:
		return "warning"
	default:
		return "normal"
	}
}

func toMB(b uint64) float64 { return float64(b) / (1024 * 1024) }
