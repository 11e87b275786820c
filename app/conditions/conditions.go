// Package conditions checks system resources before launching a browser and postpones the launch
// while the host is overloaded
package conditions

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config defines resource thresholds, zero value of a threshold disables its check
type Config struct {
	CPUBelow      int     // max cpu usage percent
	MemoryBelow   int     // max memory usage percent
	LoadAvgBelow  float64 // max 1-minute load average
	DiskFreeAbove int     // min free disk percent on DiskFreePath
	DiskFreePath  string
	CheckInterval time.Duration // how often to re-check while postponed
	MaxPostpone   time.Duration // give up waiting and proceed after this
}

// Guard checks resource conditions
type Guard struct {
	Config
	cpuPercent func(interval time.Duration, percpu bool) ([]float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
	loadAvg    func() (*load.AvgStat, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
}

// NewGuard makes Guard reading real system metrics
func NewGuard(cfg Config) *Guard {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.DiskFreePath == "" {
		cfg.DiskFreePath = "/"
	}
	return &Guard{
		Config:     cfg,
		cpuPercent: cpu.Percent,
		memory:     mem.VirtualMemory,
		loadAvg:    load.Avg,
		diskUsage:  disk.Usage,
	}
}

// Enabled tells if any threshold is set
func (g *Guard) Enabled() bool {
	return g.CPUBelow > 0 || g.MemoryBelow > 0 || g.LoadAvgBelow > 0 || g.DiskFreeAbove > 0
}

// Check verifies all configured conditions.
// Returns true if conditions are satisfied, false with reason otherwise
func (g *Guard) Check() (bool, string) {
	if g.CPUBelow > 0 {
		if ok, reason := g.checkCPU(g.CPUBelow); !ok {
			return false, reason
		}
	}
	if g.MemoryBelow > 0 {
		if ok, reason := g.checkMemory(g.MemoryBelow); !ok {
			return false, reason
		}
	}
	if g.LoadAvgBelow > 0 {
		if ok, reason := g.checkLoadAvg(g.LoadAvgBelow); !ok {
			return false, reason
		}
	}
	if g.DiskFreeAbove > 0 {
		if ok, reason := g.checkDiskFree(g.DiskFreeAbove, g.DiskFreePath); !ok {
			return false, reason
		}
	}
	return true, ""
}

// Wait blocks while conditions are not met, up to MaxPostpone. Returns false only if ctx is canceled,
// reaching the deadline proceeds anyway.
func (g *Guard) Wait(ctx context.Context, desc string) bool {
	if !g.Enabled() {
		return true
	}
	met, reason := g.Check()
	if met {
		return true
	}
	if g.MaxPostpone <= 0 {
		log.Printf("[WARN] %s started under load, %s", desc, reason)
		return true
	}

	log.Printf("[INFO] %s postponed, reason: %s, deadline: %s", desc, reason,
		time.Now().Add(g.MaxPostpone).Format(time.RFC3339))

	ticker := time.NewTicker(g.CheckInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(g.MaxPostpone)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if met, reason = g.Check(); met {
				log.Printf("[INFO] conditions met, continue %s", desc)
				return true
			}
			log.Printf("[DEBUG] conditions not met yet for %s, reason: %s", desc, reason)
		case <-deadline.C:
			log.Printf("[WARN] max postpone reached, continue %s anyway", desc)
			return true
		case <-ctx.Done():
			log.Printf("[INFO] postponed %s canceled", desc)
			return false
		}
	}
}

func (g *Guard) checkCPU(threshold int) (bool, string) {
	cpuPercent, err := g.cpuPercent(time.Second, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (g *Guard) checkMemory(threshold int) (bool, string) {
	v, err := g.memory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (g *Guard) checkLoadAvg(threshold float64) (bool, string) {
	loads, err := g.loadAvg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}

func (g *Guard) checkDiskFree(minFreePercent int, path string) (bool, string) {
	usage, err := g.diskUsage(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	freePercent := 100 - int(usage.UsedPercent)
	if freePercent < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", freePercent, minFreePercent, path)
	}
	return true, ""
}
