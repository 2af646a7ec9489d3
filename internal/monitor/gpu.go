// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/gpumetrics"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"github.com/sustainable-computing-io/amdgpu-top/internal/procindex"
	"github.com/sustainable-computing-io/amdgpu-top/internal/sensors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// gpu samples a single device. The register sampler, the process index and
// the pcie_bw reader each run in their own goroutine.
type gpu struct {
	logger  *slog.Logger
	path    device.DevicePath
	name    string
	info    device.Info
	clock   clock.WithTicker
	opener  device.Opener
	profile perfcounter.Profile
	selfPID int
	sortBy  fdinfo.SortType
	reverse bool

	index   *procindex.Tracker
	usage   *fdinfo.Stat
	sensors *sensors.Reader
	bw      *sensors.BandwidthReader

	// mu guards the handle and everything read through it
	mu        sync.Mutex
	handle    device.Handle
	state     PowerState
	suspended bool
	grbm      *perfcounter.PerfCounter
	grbm2     *perfcounter.PerfCounter
	activity  Activity
	metrics   gpumetrics.Metrics
	memory    *device.MemoryInfo
	// lastUpdate is when the previous Stat was built, the start of the next window
	lastUpdate time.Time

	latest atomic.Pointer[Stat]
}

// newGPU opens the device and probes everything that does not change while
// it is monitored. Failing to query the device info or memory is fatal for
// the device.
func newGPU(path device.DevicePath, opts Opts) (*gpu, error) {
	node := path.OpenNode()
	if node == "" {
		return nil, fmt.Errorf("device %s has no node to open", path.PCI)
	}
	h, err := opts.opener.Open(node)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", node, err)
	}
	info, err := h.Info()
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to query device info of %s: %w", path.PCI, err)
	}
	memory, err := h.Memory()
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to query memory info of %s: %w", path.PCI, err)
	}

	logger := opts.logger.With("device", path.PCI)

	index, err := procindex.NewTracker(path.Nodes(),
		procindex.WithLogger(logger),
		procindex.WithProcFSPath(opts.procfsPath),
		procindex.WithInterval(opts.indexInterval),
		procindex.WithClock(opts.clock),
	)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	usage, err := fdinfo.NewStat(
		fdinfo.WithLogger(logger),
		fdinfo.WithProcFSPath(opts.procfsPath),
		fdinfo.WithSysFSPath(opts.roots.SysFS),
		fdinfo.WithCapabilities(fdinfo.CapabilitiesFor(h)),
	)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	g := &gpu{
		logger:  logger,
		path:    path,
		info:    *info,
		clock:   opts.clock,
		opener:  opts.opener,
		profile: opts.profile,
		selfPID: opts.selfPID,
		sortBy:  opts.sortBy,
		reverse: opts.reverse,
		index:   index,
		usage:   usage,
		sensors: sensors.NewReader(path, *info, sensors.WithLogger(logger), sensors.WithSysFSPath(opts.roots.SysFS)),
		handle:  h,
		state:   Open,
		memory:  memory,
	}
	g.grbm = g.newCounter(perfcounter.GRBM, opts.grbm)
	g.grbm2 = g.newCounter(perfcounter.GRBM2, opts.grbm2)

	if opts.pcieBW && sensors.PCIeBandwidthSupported(path, *info) {
		g.bw = sensors.NewBandwidthReader(path,
			sensors.WithBandwidthLogger(logger),
			sensors.WithBandwidthClock(opts.clock),
			sensors.WithBandwidthActive(g.isOpen))
	}

	index.Refresh()
	logger.Info("device initialized", "info", g.info, "node", node, "pcie_bw", g.bw != nil)
	return g, nil
}

func (g *gpu) newCounter(kind perfcounter.Kind, enabled bool) *perfcounter.PerfCounter {
	chip := g.info.ChipClass()
	if !enabled {
		return perfcounter.Disabled(kind, chip)
	}
	pc := perfcounter.New(kind, chip, g.handle)
	if err := pc.Err(); err != nil {
		g.logger.Warn("register sampling disabled", "counter", kind, "error", err)
	}
	return pc
}

// run blocks until ctx is done, calling onUpdate after every window
func (g *gpu) run(ctx context.Context, onUpdate func()) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return g.index.Run(ctx)
	})
	if g.bw != nil {
		eg.Go(func() error {
			return g.bw.Run(ctx)
		})
	}
	eg.Go(func() error {
		for {
			g.sampleWindow(ctx)
			if ctx.Err() != nil {
				return nil
			}
			g.update(g.clock.Since(g.lastUpdate))
			onUpdate()
		}
	})

	return eg.Wait()
}

// sampleWindow reads the status registers profile.Count times. The window
// still elapses when sampling is skipped so updates keep their cadence.
func (g *gpu) sampleWindow(ctx context.Context) {
	if g.skipSampling() {
		g.wait(ctx, g.profile.Window())
		return
	}
	for range g.profile.Count {
		if ctx.Err() != nil {
			return
		}
		g.readCounters()
		if !g.wait(ctx, g.profile.Delay) {
			return
		}
	}
}

func (g *gpu) isOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == Open
}

// skipSampling is true while the device is released, when no counter is
// enabled, or on an APU whose graphics engine is idle
func (g *gpu) skipSampling() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Closed {
		return true
	}
	if !g.grbm.Enabled() && !g.grbm2.Enabled() {
		return true
	}
	return g.info.IsAPU() && g.activity.idle()
}

func (g *gpu) readCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handle == nil {
		return
	}
	for _, pc := range []*perfcounter.PerfCounter{g.grbm, g.grbm2} {
		if err := pc.Read(g.handle); err != nil {
			g.logger.Debug("register read failed", "error", err)
		}
	}
}

// wait returns false if ctx is done before d elapses
func (g *gpu) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-g.clock.After(d):
		return true
	}
}

// update folds the last window into a new Stat and publishes it as latest
func (g *gpu) update(elapsed time.Duration) *Stat {
	procs, ok := g.index.TryProcs()
	if ok {
		g.usage.Update(procs, elapsed)
	} else {
		g.usage.Skip(elapsed)
	}
	usage := g.usage.Usage()
	fdinfo.Sort(usage, g.sortBy, g.reverse)
	total := fdinfo.Fold(usage)

	g.mu.Lock()
	defer g.mu.Unlock()

	if ok {
		g.transition(procs)
	}

	now := g.clock.Now()
	g.lastUpdate = now

	stat := &Stat{
		PCI:        g.path.PCI,
		Name:       g.name,
		Info:       g.info,
		Timestamp:  now,
		Interval:   g.usage.Interval(),
		PowerState: g.state,
		GRBM:       g.grbm.Dump(),
		GRBM2:      g.grbm2.Dump(),
		Processes:  usage,
		Total:      total,
	}

	if g.state == Open {
		stat.Sensors = g.sensors.Update(g.handle)
		g.metrics = g.readMetrics()
		g.activity = readActivity(g.path, g.info, g.metrics)
		if memory, err := g.handle.Memory(); err == nil {
			g.memory = memory
		} else {
			g.logger.Debug("failed to query memory info", "error", err)
		}
	} else {
		stat.Sensors = g.sensors.Idle()
	}

	stat.Metrics = g.metrics
	stat.Activity = g.activity.clone().withMediaFallback(total.Media)
	stat.Memory = clonePtr(g.memory)
	if e, ok := gpumetrics.Energy(g.metrics); ok {
		stat.Energy = &e
	}
	if g.bw != nil {
		stat.PCIeBW = clonePtr(g.bw.Latest())
	}

	g.latest.Store(stat)
	return stat
}

func (g *gpu) readMetrics() gpumetrics.Metrics {
	m, err := gpumetrics.Read(g.path)
	if err != nil {
		g.logger.Debug("gpu_metrics unavailable", "error", err)
		return nil
	}
	return m
}

// transition moves between Open and Closed. Must be called with mu held.
func (g *gpu) transition(procs []procindex.ProcInfo) {
	next := nextState(g.state, procs, g.selfPID, g.info.IsAPU(), g.resumed)
	if next == g.state {
		return
	}

	switch next {
	case Closed:
		if err := g.handle.Close(); err != nil {
			g.logger.Warn("failed to close device", "error", err)
		}
		g.handle = nil
		g.suspended = false
		g.logger.Info("device released", "reason", "no other clients")
	case Open:
		h, err := g.opener.Open(g.path.OpenNode())
		if err != nil {
			g.logger.Warn("failed to reopen device", "error", err)
			return
		}
		g.handle = h
		g.logger.Info("device reopened", "clients", len(procs))
	}
	g.state = next
}

// resumed reports a runtime active device that was seen suspended since it
// was released
func (g *gpu) resumed() bool {
	if !g.path.IsActive() {
		g.suspended = true
		return false
	}
	return g.suspended
}

func (g *gpu) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handle == nil {
		return nil
	}
	err := g.handle.Close()
	g.handle = nil
	return err
}
