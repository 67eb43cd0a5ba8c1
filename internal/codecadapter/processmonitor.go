package codecadapter

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessStats reports resource usage for the subprocess backing a
// FFmpegBackend, sampled from /proc on Linux. Grounded on the resource
// monitor this application runs alongside its own ffmpeg subprocesses,
// trimmed to the fields FFmpegBackend.Stats exposes.
type ProcessStats struct {
	PID int

	CPUPercent float64
	CPUUser    time.Duration
	CPUSystem  time.Duration
	CPUTotal   time.Duration

	MemoryRSSBytes uint64
	MemoryRSSMB    float64
	MemoryVMSBytes uint64
	MemoryPercent  float64

	BytesWritten uint64
	BytesRead    uint64

	StartedAt   time.Time
	Duration    time.Duration
	LastUpdated time.Time
}

// ProcessMonitor samples CPU, memory, and I/O byte counts for a running
// ffmpeg subprocess on a fixed interval.
type ProcessMonitor struct {
	pid      int
	started  time.Time
	interval time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	running bool

	lastCPUTime   time.Duration
	lastCheckTime time.Time

	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64

	totalMemory  uint64
	clockTicksHz int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the process identified by pid.
// Call Start to begin sampling.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:          pid,
		started:      time.Now(),
		interval:     time.Second,
		clockTicksHz: 100,
		totalMemory:  totalSystemMemory(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the sampling loop. Idempotent.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.lastCheckTime = time.Now()
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.loop()
}

// Stop halts sampling and waits for the loop goroutine to exit.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()
	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the most recent sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	stats := pm.stats
	stats.BytesWritten = pm.bytesWritten.Load()
	stats.BytesRead = pm.bytesRead.Load()
	return stats
}

// AddBytesWritten accumulates bytes the backend wrote to the subprocess's
// stdin, for bandwidth reporting.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) { pm.bytesWritten.Add(n) }

// AddBytesRead accumulates bytes the backend read from the subprocess's
// stdout.
func (pm *ProcessMonitor) AddBytesRead(n uint64) { pm.bytesRead.Add(n) }

func (pm *ProcessMonitor) loop() {
	defer pm.wg.Done()
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample()
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

func (pm *ProcessMonitor) sample() {
	now := time.Now()
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.started
	pm.stats.Duration = now.Sub(pm.started)
	pm.stats.LastUpdated = now

	if runtime.GOOS == "linux" {
		pm.sampleLinuxLocked(now)
	}
}

func (pm *ProcessMonitor) sampleLinuxLocked(now time.Time) {
	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pm.pid))
	if err != nil {
		return
	}
	statStr := string(statData)
	commEnd := strings.LastIndex(statStr, ")")
	if commEnd == -1 {
		return
	}
	afterComm := strings.Fields(statStr[commEnd+2:])
	if len(afterComm) < 13 {
		return
	}

	utime, _ := strconv.ParseInt(afterComm[11], 10, 64)
	stime, _ := strconv.ParseInt(afterComm[12], 10, 64)
	tickDuration := time.Second / time.Duration(pm.clockTicksHz)
	cpuUser := time.Duration(utime) * tickDuration
	cpuSystem := time.Duration(stime) * tickDuration
	cpuTotal := cpuUser + cpuSystem

	pm.stats.CPUUser = cpuUser
	pm.stats.CPUSystem = cpuSystem
	pm.stats.CPUTotal = cpuTotal

	if elapsed := now.Sub(pm.lastCheckTime); elapsed > 0 && pm.lastCPUTime > 0 {
		pm.stats.CPUPercent = float64(cpuTotal-pm.lastCPUTime) / float64(elapsed) * 100.0
	}
	pm.lastCPUTime = cpuTotal
	pm.lastCheckTime = now

	statmData, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pm.pid))
	if err != nil {
		return
	}
	statmFields := strings.Fields(string(statmData))
	if len(statmFields) < 2 {
		return
	}
	pageSize := uint64(os.Getpagesize())
	vms, _ := strconv.ParseUint(statmFields[0], 10, 64)
	rss, _ := strconv.ParseUint(statmFields[1], 10, 64)

	pm.stats.MemoryVMSBytes = vms * pageSize
	pm.stats.MemoryRSSBytes = rss * pageSize
	pm.stats.MemoryRSSMB = float64(pm.stats.MemoryRSSBytes) / (1024 * 1024)
	if pm.totalMemory > 0 {
		pm.stats.MemoryPercent = float64(pm.stats.MemoryRSSBytes) / float64(pm.totalMemory) * 100.0
	}
}

func totalSystemMemory() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, _ := strconv.ParseUint(fields[1], 10, 64)
				return kb * 1024
			}
		}
	}
	return 0
}
