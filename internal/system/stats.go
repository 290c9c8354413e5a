package system

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot описывает ресурсы хоста и процесса на момент вызова
type Snapshot struct {
	LogicalCPUs    int
	HostTotalBytes uint64
	HostAvailBytes uint64
	ProcessRSS     uint64
	Goroutines     int
}

// TakeSnapshot собирает доступные метрики, недоступные поля остаются нулевыми
func TakeSnapshot() Snapshot {
	s := Snapshot{Goroutines: runtime.NumGoroutine()}

	if n, err := cpu.Counts(true); err == nil {
		s.LogicalCPUs = n
	} else {
		s.LogicalCPUs = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.HostTotalBytes = vm.Total
		s.HostAvailBytes = vm.Available
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}
	return s
}

// MiB переводит байты в мебибайты для отчета
func MiB(b uint64) float64 {
	return float64(b) / (1 << 20)
}
