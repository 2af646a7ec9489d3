// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"
	"time"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/gpumetrics"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"github.com/sustainable-computing-io/amdgpu-top/internal/sensors"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
)

// Stat is the aggregated state of one device after a sampling window
type Stat struct {
	PCI       string
	Name      string // product name from pci.ids, may be empty
	Info      device.Info
	Timestamp time.Time
	// Interval is the time covered by the process usage rates
	Interval time.Duration

	PowerState PowerState

	GRBM  []perfcounter.Usage
	GRBM2 []perfcounter.Usage

	Processes []fdinfo.ProcUsage
	Total     fdinfo.Usage

	Activity Activity
	Sensors  sensors.Sensors
	// Metrics is nil when gpu_metrics is unreadable. Decoded tables are
	// never mutated and are shared between clones.
	Metrics gpumetrics.Metrics
	PCIeBW  *sensors.PCIeBandwidth
	Memory  *device.MemoryInfo
	// Energy is the gpu_metrics energy accumulator, nil when the table has none
	Energy *units.Energy
}

// Clone returns a deep copy
func (s *Stat) Clone() *Stat {
	if s == nil {
		return nil
	}
	ret := *s
	ret.GRBM = slices.Clone(s.GRBM)
	ret.GRBM2 = slices.Clone(s.GRBM2)
	ret.Processes = slices.Clone(s.Processes)
	ret.Activity = s.Activity.clone()
	ret.Sensors = *s.Sensors.Clone()
	ret.PCIeBW = clonePtr(s.PCIeBW)
	ret.Memory = clonePtr(s.Memory)
	ret.Energy = clonePtr(s.Energy)
	return &ret
}

// Idle reports whether the stat was taken without touching the device
func (s *Stat) Idle() bool {
	return s.PowerState == Closed
}

// Snapshot holds the latest Stat of every monitored device
type Snapshot struct {
	Timestamp time.Time
	// Devices are ordered by PCI address
	Devices []*Stat
}

// Clone creates a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	ret := &Snapshot{
		Timestamp: s.Timestamp,
		Devices:   make([]*Stat, len(s.Devices)),
	}
	for i, d := range s.Devices {
		ret.Devices[i] = d.Clone()
	}
	return ret
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
