package ws

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// Health is the body of GET /api/health.
type Health struct {
	Status        string   `json:"status"`
	Uptime        string   `json:"uptime"`
	Sessions      int      `json:"sessions"`
	Viewers       int      `json:"viewers"`
	DroppedEvents uint64   `json:"droppedEvents"`
	Goroutines    int      `json:"goroutines"`
	RSSBytes      uint64   `json:"rssBytes,omitempty"`
	CPUPercent    float64  `json:"cpuPercent,omitempty"`
	HostUptime    uint64   `json:"hostUptimeSeconds,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// collectHealth fills in the process and host figures. Lookup failures are
// reported in Errors rather than failing the check.
func collectHealth(started time.Time) Health {
	h := Health{
		Status:     "ok",
		Uptime:     time.Since(started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		h.Errors = append(h.Errors, "process: "+err.Error())
	} else {
		if mem, err := proc.MemoryInfo(); err != nil {
			h.Errors = append(h.Errors, "memory: "+err.Error())
		} else {
			h.RSSBytes = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err != nil {
			h.Errors = append(h.Errors, "cpu: "+err.Error())
		} else {
			h.CPUPercent = cpu
		}
	}

	if up, err := host.Uptime(); err != nil {
		h.Errors = append(h.Errors, "host: "+err.Error())
	} else {
		h.HostUptime = up
	}
	return h
}
