// Package status reports host resource usage for the MCP status tool,
// combining a Linux load-average read with gopsutil's CPU core count
// the same way the wider codebase's admin endpoint does.
package status

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time read of host resource usage.
type Snapshot struct {
	Load1         float64 `json:"load_1min"`
	Load5         float64 `json:"load_5min"`
	Load15        float64 `json:"load_15min"`
	CPUCores      int     `json:"cpu_cores"`
	Status        string  `json:"status"` // ok, warning, critical
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
}

// Reporter produces host Snapshots on demand.
type Reporter struct{}

// New returns a Reporter ready to snapshot host state.
func New() *Reporter {
	return &Reporter{}
}

// Snapshot reads /proc/loadavg, gopsutil's CPU core count, and gopsutil's
// memory stats, and derives a coarse ok/warning/critical status from the
// average load relative to core count.
func (r *Reporter) Snapshot() Snapshot {
	var s Snapshot

	if load1, load5, load15, ok := readLoadAvg(); ok {
		s.Load1, s.Load5, s.Load15 = load1, load5, load15
	}

	if info, err := cpu.Info(); err == nil {
		for _, c := range info {
			s.CPUCores += int(c.Cores)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedBytes = vm.Used
		s.MemTotalBytes = vm.Total
	}

	s.Status = deriveStatus(s.Load1, s.Load5, s.Load15, s.CPUCores)
	return s
}

func readLoadAvg() (load1, load5, load15 float64, ok bool) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0, false
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, false
	}

	load1, err1 := strconv.ParseFloat(fields[0], 64)
	load5, err2 := strconv.ParseFloat(fields[1], 64)
	load15, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}

	return load1, load5, load15, true
}

func deriveStatus(load1, load5, load15 float64, cpuCores int) string {
	if cpuCores <= 0 {
		return "ok"
	}

	avgLoad := (load1 + load5 + load15) / 3.0
	switch {
	case avgLoad >= float64(cpuCores)*2.0:
		return "critical"
	case avgLoad >= float64(cpuCores):
		return "warning"
	default:
		return "ok"
	}
}
