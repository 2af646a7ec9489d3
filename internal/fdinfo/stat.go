// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package fdinfo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/procfs"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/procindex"
)

// Capabilities selects how per-queue media engine time is combined
type Capabilities struct {
	// HasVCN is true when a VCN decode block is present
	HasVCN bool
	// HasVCNUnified is true for VCN 4.0+ where decode and encode share one queue
	HasVCNUnified bool
}

// CapabilitiesFor probes the media IP blocks of a device
func CapabilitiesFor(h device.Handle) Capabilities {
	var caps Capabilities
	if _, err := h.HwIP(device.HwIPVCNDec); err == nil {
		caps.HasVCN = true
	}
	if enc, err := h.HwIP(device.HwIPVCNEnc); err == nil && enc.Major >= 4 {
		caps.HasVCNUnified = true
	}
	return caps
}

// ProcUsage is the usage of one process over the last interval
type ProcUsage struct {
	PID      int
	Name     string
	// IDsCount is the number of fds carrying a drm client id, shared ids included
	IDsCount int
	Usage    Usage
	// CPU is the process CPU time as a percentage of the interval, rounded up
	CPU   uint64
	IsKFD bool
}

// procfs reports CPU time in USER_HZ ticks
const userHZ = 100

type sample struct {
	raw      RawUsage
	cpuTicks uint64
	cpuOK    bool
}

// Stat diffs fdinfo counters of device clients between passes.
// It is not safe for concurrent use.
type Stat struct {
	logger  *slog.Logger
	procfs  string
	fs      procfs.FS
	kfdProc string
	caps    Capabilities

	prev    map[int]sample
	pending time.Duration

	usage    []ProcUsage
	interval time.Duration
}

type Opts struct {
	logger *slog.Logger
	procfs string
	sysfs  string
	caps   Capabilities
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		procfs: procfs.DefaultMountPoint,
		sysfs:  "/sys",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfs = path
	}
}

func WithSysFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.sysfs = path
	}
}

func WithCapabilities(caps Capabilities) OptionFn {
	return func(o *Opts) {
		o.caps = caps
	}
}

// NewStat creates a Stat with no baselines
func NewStat(applyOpts ...OptionFn) (*Stat, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	fs, err := procfs.NewFS(opts.procfs)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs %s: %w", opts.procfs, err)
	}

	return &Stat{
		logger:  opts.logger.With("service", "fdinfo"),
		procfs:  opts.procfs,
		fs:      fs,
		kfdProc: filepath.Join(opts.sysfs, "class", "kfd", "kfd", "proc"),
		caps:    opts.caps,
		prev:    map[int]sample{},
	}, nil
}

// Skip records an interval in which no pass could be made. The time is
// carried into the next Update so rates stay correct.
func (s *Stat) Skip(elapsed time.Duration) {
	s.pending += elapsed
}

// Update reads the fdinfo of every process and replaces the usage list.
// Rates are computed over elapsed plus any skipped time.
func (s *Stat) Update(procs []procindex.ProcInfo, elapsed time.Duration) {
	interval := s.pending + elapsed
	s.pending = 0
	s.interval = interval

	seen := map[string]struct{}{}
	next := make(map[int]sample, len(procs))
	usage := make([]ProcUsage, 0, len(procs))

	for _, p := range procs {
		raw, ids, readable := s.readProc(p, seen)
		if !readable {
			// exited since the index was built
			continue
		}
		cur := sample{raw: raw}
		cur.cpuTicks, cur.cpuOK = s.cpuTicks(p.PID)

		prev, hasPrev := s.prev[p.PID]
		u := diff(prev.raw, raw, interval, hasPrev)
		s.caps.unify(&u)

		var cpu uint64
		if hasPrev && prev.cpuOK && cur.cpuOK {
			cpu = cpuPercent(prev.cpuTicks, cur.cpuTicks, interval)
		}

		next[p.PID] = cur
		usage = append(usage, ProcUsage{
			PID:      p.PID,
			Name:     p.Name,
			IDsCount: ids,
			Usage:    u,
			CPU:      cpu,
			IsKFD:    s.isKFD(p.PID),
		})
	}

	s.prev = next
	s.usage = usage
}

// Usage returns the list computed by the last Update
func (s *Stat) Usage() []ProcUsage {
	return slices.Clone(s.usage)
}

// Interval returns the interval used by the last Update
func (s *Stat) Interval() time.Duration {
	return s.interval
}

// readProc sums the counters of all distinct clients among the fds of p
func (s *Stat) readProc(p procindex.ProcInfo, seen map[string]struct{}) (RawUsage, int, bool) {
	var total RawUsage
	ids := 0
	readable := false
	dir := filepath.Join(s.procfs, strconv.Itoa(p.PID), "fdinfo")

	for _, fd := range p.FDs {
		f, err := os.Open(filepath.Join(dir, strconv.Itoa(fd)))
		if err != nil {
			continue
		}
		readable = true
		raw, id, ok := Parse(f, seen)
		_ = f.Close()
		if id != "" {
			ids++
		}
		if !ok {
			continue
		}
		total.add(raw)
	}
	return total, ids, readable
}

func (s *Stat) cpuTicks(pid int) (uint64, bool) {
	proc, err := s.fs.Proc(pid)
	if err != nil {
		return 0, false
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, false
	}
	return uint64(stat.UTime) + uint64(stat.STime), true
}

func (s *Stat) isKFD(pid int) bool {
	_, err := os.Stat(filepath.Join(s.kfdProc, strconv.Itoa(pid)))
	return err == nil
}

// diff converts cumulative counters into per interval usage. Without a
// baseline only memory is reported.
func diff(prev, cur RawUsage, interval time.Duration, hasPrev bool) Usage {
	u := Usage{
		VRAM:          cur.VRAM,
		GTT:           cur.GTT,
		CPU:           cur.CPU,
		EvictedVRAM:   cur.EvictedVRAM,
		RequestedVRAM: cur.RequestedVRAM,
		RequestedGTT:  cur.RequestedGTT,
	}
	if !hasPrev {
		return u
	}
	u.GFX = Rate(prev.GFX, cur.GFX, interval)
	u.Compute = Rate(prev.Compute, cur.Compute, interval)
	u.DMA = Rate(prev.DMA, cur.DMA, interval)
	u.Dec = Rate(prev.Dec, cur.Dec, interval)
	u.Enc = Rate(prev.Enc, cur.Enc, interval)
	u.Enc1 = Rate(prev.Enc1, cur.Enc1, interval)
	u.JPEG = Rate(prev.JPEG, cur.JPEG, interval)
	u.VPE = Rate(prev.VPE, cur.VPE, interval)
	return u
}

// Rate returns the busy percentage of an engine whose cumulative time went
// from prev to cur nanoseconds over interval. A counter that went backwards
// was reset and yields 0.
func Rate(prev, cur uint64, interval time.Duration) uint64 {
	if cur < prev || interval <= 0 {
		return 0
	}
	return (cur - prev) * 100 / uint64(interval.Nanoseconds())
}

// cpuPercent rounds up so that any CPU time in the interval is visible
func cpuPercent(prevTicks, curTicks uint64, interval time.Duration) uint64 {
	if curTicks < prevTicks || interval <= 0 {
		return 0
	}
	busy := (curTicks - prevTicks) * uint64(time.Second/userHZ) * 100
	return (busy + uint64(interval) - 1) / uint64(interval)
}

// unify fills the combined decode, encode and media views
func (c Capabilities) unify(u *Usage) {
	switch {
	case c.HasVCNUnified:
		u.Media = (u.JPEG + u.Enc) / 2
		u.VCNUnified = u.Dec + u.Enc
		u.TotalDec = 0
		u.TotalEnc = 0
	case c.HasVCN:
		u.TotalDec = (u.Dec + u.JPEG) / 2
		u.TotalEnc = u.Enc
		u.Media = (u.Dec + u.JPEG + u.Enc) / 3
	default:
		u.TotalDec = u.Dec
		u.TotalEnc = (u.Enc + u.Enc1) / 2
		u.Media = (u.Dec + u.Enc + u.Enc1) / 3
	}
}

// Fold sums the usage of all processes
func Fold(list []ProcUsage) Usage {
	var total Usage
	for _, p := range list {
		total = total.Add(p.Usage)
	}
	return total
}
