// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// cpuReading is cumulative busy and idle CPU time in seconds.
type cpuReading struct {
	busy float64
	idle float64
}

// HostSampler reports machine-wide CPU utilisation, memory, and load
// average from /proc. CPU utilisation is computed between consecutive
// samples, so the first sample omits it.
type HostSampler struct {
	fs       procfs.FS
	previous *cpuReading
}

// NewHostSampler fails where /proc is not available.
func NewHostSampler() (*HostSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening /proc: %w", err)
	}
	return &HostSampler{fs: fs}, nil
}

func (s *HostSampler) SensorType() ident.SensorTypeDescriptor {
	return ident.SensorTypeDescriptor{Name: "platform.host", Kind: ident.PlatformSensor}
}

func (s *HostSampler) Sample() ([]measure.Gauge, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading /proc/stat: %w", err)
	}
	var gauges []measure.Gauge

	cpu := stat.CPUTotal
	current := &cpuReading{
		busy: cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal,
		idle: cpu.Idle + cpu.Iowait,
	}
	if percent, ok := cpuPercent(s.previous, current); ok {
		gauges = append(gauges, measure.Gauge{Name: "host.cpu.utilization", Value: percent, Unit: "percent"})
	}
	s.previous = current

	if meminfo, err := s.fs.Meminfo(); err == nil {
		if meminfo.MemTotal != nil {
			gauges = append(gauges, measure.Gauge{Name: "host.memory.total", Value: float64(*meminfo.MemTotal * 1024), Unit: "bytes"})
		}
		if meminfo.MemAvailable != nil {
			gauges = append(gauges, measure.Gauge{Name: "host.memory.available", Value: float64(*meminfo.MemAvailable * 1024), Unit: "bytes"})
		}
	}
	if load, err := s.fs.LoadAvg(); err == nil {
		gauges = append(gauges, measure.Gauge{Name: "host.load1", Value: load.Load1})
	}
	return gauges, nil
}

// cpuPercent is busy time over total time between two readings. It
// reports false without a previous reading or when no time passed.
func cpuPercent(previous, current *cpuReading) (float64, bool) {
	if previous == nil || current == nil {
		return 0, false
	}
	busy := current.busy - previous.busy
	total := busy + current.idle - previous.idle
	if total <= 0 {
		return 0, false
	}
	return busy / total * 100, true
}
