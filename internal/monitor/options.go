// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/procfs"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"k8s.io/utils/clock"
)

type Opts struct {
	logger        *slog.Logger
	roots         device.Roots
	procfsPath    string
	profile       perfcounter.Profile
	indexInterval time.Duration
	clock         clock.WithTicker
	opener        device.Opener
	devices       []string
	grbm          bool
	grbm2         bool
	pcieBW        bool
	sortBy        fdinfo.SortType
	reverse       bool
	selfPID       int
	names         device.NameResolver
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:        slog.Default(),
		roots:         device.DefaultRoots(),
		procfsPath:    procfs.DefaultMountPoint,
		profile:       perfcounter.ProfileLow,
		indexInterval: 5 * time.Second,
		clock:         clock.RealClock{},
		opener:        device.DRMOpener,
		grbm:          true,
		grbm2:         true,
		sortBy:        fdinfo.DefaultSort,
		selfPID:       os.Getpid(),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the AMDGPUMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithRoots sets the sysfs, devfs and debugfs mount points
func WithRoots(roots device.Roots) OptionFn {
	return func(o *Opts) {
		o.roots = roots
	}
}

func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfsPath = path
	}
}

// WithProfile sets the register sampling window
func WithProfile(p perfcounter.Profile) OptionFn {
	return func(o *Opts) {
		o.profile = p
	}
}

// WithIndexInterval sets how often procfs is rescanned for device clients
func WithIndexInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.indexInterval = d
	}
}

// WithClock sets the clock the AMDGPUMonitor
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithOpener sets how device nodes are opened
func WithOpener(opener device.Opener) OptionFn {
	return func(o *Opts) {
		o.opener = opener
	}
}

// WithDevices restricts monitoring to the given PCI addresses. An empty list
// monitors every amdgpu device.
func WithDevices(pci []string) OptionFn {
	return func(o *Opts) {
		o.devices = pci
	}
}

// WithPerfCounters enables or disables the GRBM and GRBM2 samplers
func WithPerfCounters(grbm, grbm2 bool) OptionFn {
	return func(o *Opts) {
		o.grbm = grbm
		o.grbm2 = grbm2
	}
}

// WithPCIeBandwidth enables the pcie_bw reader on devices that support it
func WithPCIeBandwidth(enabled bool) OptionFn {
	return func(o *Opts) {
		o.pcieBW = enabled
	}
}

// WithSort sets the order of the per process list
func WithSort(by fdinfo.SortType, reverse bool) OptionFn {
	return func(o *Opts) {
		o.sortBy = by
		o.reverse = reverse
	}
}

// WithNameResolver sets how device names are looked up. By default the
// pci.ids database of the host is loaded at Init.
func WithNameResolver(r device.NameResolver) OptionFn {
	return func(o *Opts) {
		o.names = r
	}
}
