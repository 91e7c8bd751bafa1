package chat

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// SystemInfo answers the engine's questions about the host it runs on.
type SystemInfo interface {
	Now() time.Time
	// MemoryUsage returns the memory held by the server process, in bytes.
	MemoryUsage() (uint64, error)
}

// ProcessInfo reports on the current process.
type ProcessInfo struct {
	once sync.Once
	proc *process.Process
	err  error
}

func (p *ProcessInfo) Now() time.Time {
	return time.Now()
}

// MemoryUsage returns the resident set size of the process. When the
// platform can't report it, the bytes obtained from the OS by the Go runtime
// are returned instead.
func (p *ProcessInfo) MemoryUsage() (uint64, error) {
	p.once.Do(func() {
		p.proc, p.err = process.NewProcess(int32(os.Getpid()))
	})
	if p.err == nil {
		mem, err := p.proc.MemoryInfo()
		if err == nil {
			return mem.RSS, nil
		}
		logger.Printf("Failed to read process memory, falling back to runtime stats: %s", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Sys, nil
}
