// Package sysinfo records what host a benchmark ran on, so results from
// different machines are not compared blindly.
package sysinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot describes the host at run start.
type Snapshot struct {
	Platform    string
	CPUCores    int
	MemoryTotal uint64
	LoadAvg1    float64
}

// Collect gathers a best-effort host snapshot. Probes that fail leave their
// fields zeroed rather than failing the run.
func Collect() *Snapshot {
	s := &Snapshot{}

	if info, err := host.Info(); err == nil {
		s.Platform = fmt.Sprintf("%s %s (%s)",
			info.Platform, info.PlatformVersion, info.KernelArch)
	}

	if cores, err := cpu.Counts(true); err == nil {
		s.CPUCores = cores
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryTotal = vm.Total
	}

	if avg, err := load.Avg(); err == nil {
		s.LoadAvg1 = avg.Load1
	}

	return s
}
