// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"fmt"
	"runtime/metrics"

	"github.com/prometheus/procfs"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// Sampler produces one round of platform gauges. Samplers are called
// from a single goroutine at the platform refresh interval.
type Sampler interface {
	// SensorType describes the sampler to the collector.
	SensorType() ident.SensorTypeDescriptor
	Sample() ([]measure.Gauge, error)
}

// runtimeMetrics maps runtime/metrics names to gauge names and units.
var runtimeMetrics = []struct {
	source string
	name   string
	unit   string
}{
	{"/sched/goroutines:goroutines", "go.goroutines", ""},
	{"/memory/classes/heap/objects:bytes", "go.heap.objects", "bytes"},
	{"/memory/classes/total:bytes", "go.memory.total", "bytes"},
	{"/gc/cycles/total:gc-cycles", "go.gc.cycles", ""},
	{"/gc/heap/goal:bytes", "go.gc.heap_goal", "bytes"},
}

// RuntimeSampler reports Go scheduler and memory statistics from
// runtime/metrics, which reads them without stopping the world.
type RuntimeSampler struct {
	samples []metrics.Sample
}

func NewRuntimeSampler() *RuntimeSampler {
	samples := make([]metrics.Sample, len(runtimeMetrics))
	for index, metric := range runtimeMetrics {
		samples[index].Name = metric.source
	}
	return &RuntimeSampler{samples: samples}
}

func (s *RuntimeSampler) SensorType() ident.SensorTypeDescriptor {
	return ident.SensorTypeDescriptor{Name: "platform.go-runtime", Kind: ident.PlatformSensor}
}

func (s *RuntimeSampler) Sample() ([]measure.Gauge, error) {
	metrics.Read(s.samples)
	gauges := make([]measure.Gauge, 0, len(s.samples))
	for index, sample := range s.samples {
		var value float64
		switch sample.Value.Kind() {
		case metrics.KindUint64:
			value = float64(sample.Value.Uint64())
		case metrics.KindFloat64:
			value = sample.Value.Float64()
		default:
			// Unsupported by this Go release.
			continue
		}
		gauges = append(gauges, measure.Gauge{
			Name:  runtimeMetrics[index].name,
			Value: value,
			Unit:  runtimeMetrics[index].unit,
		})
	}
	return gauges, nil
}

// ProcessSampler reports resident memory, CPU time, and open file
// descriptors of the current process from /proc.
type ProcessSampler struct {
	proc procfs.Proc
}

// NewProcessSampler fails where /proc is not available.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("opening /proc/self: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

func (s *ProcessSampler) SensorType() ident.SensorTypeDescriptor {
	return ident.SensorTypeDescriptor{Name: "platform.process", Kind: ident.PlatformSensor}
}

func (s *ProcessSampler) Sample() ([]measure.Gauge, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading process stat: %w", err)
	}
	gauges := []measure.Gauge{
		{Name: "process.resident_memory", Value: float64(stat.ResidentMemory()), Unit: "bytes"},
		{Name: "process.cpu_time", Value: stat.CPUTime(), Unit: "seconds"},
		{Name: "process.threads", Value: float64(stat.NumThreads)},
	}
	if descriptors, err := s.proc.FileDescriptorsLen(); err == nil {
		gauges = append(gauges, measure.Gauge{Name: "process.open_fds", Value: float64(descriptors)})
	}
	return gauges, nil
}
