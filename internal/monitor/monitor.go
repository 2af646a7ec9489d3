// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/service"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

type StatProvider interface {
	// Snapshot returns the latest stats of every device
	Snapshot() (*Snapshot, error)

	// DataChannel signals after every published snapshot
	service.Notifier
}

// Service defines the interface for the device monitoring service
type Service interface {
	service.Service
	StatProvider
}

// AMDGPUMonitor samples every selected amdgpu device
type AMDGPUMonitor struct {
	logger *slog.Logger
	opts   Opts
	clock  clock.WithTicker

	gpus []*gpu

	// signals when a snapshot has been updated
	dataCh chan struct{}

	publishMu sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
}

var (
	_ Service             = (*AMDGPUMonitor)(nil)
	_ service.Initializer = (*AMDGPUMonitor)(nil)
	_ service.Runner      = (*AMDGPUMonitor)(nil)
	_ service.Shutdowner  = (*AMDGPUMonitor)(nil)
)

// NewAMDGPUMonitor creates a new AMDGPUMonitor instance
func NewAMDGPUMonitor(applyOpts ...OptionFn) *AMDGPUMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &AMDGPUMonitor{
		logger: opts.logger.With("service", "monitor"),
		opts:   opts,
		clock:  opts.clock,
		dataCh: make(chan struct{}, 1),
	}
}

func (m *AMDGPUMonitor) Name() string {
	return "monitor"
}

// Init discovers and opens the devices. A device that fails to initialize is
// skipped; Init fails only when none is left.
func (m *AMDGPUMonitor) Init() error {
	paths, err := device.Discover(m.opts.roots)
	if err != nil {
		return fmt.Errorf("device discovery failed: %w", err)
	}

	names := m.nameResolver()
	for _, p := range paths {
		if !m.selected(p.PCI) {
			m.logger.Debug("skipping device", "device", p.PCI, "reason", "not selected")
			continue
		}
		g, err := newGPU(p, m.opts)
		if err != nil {
			m.logger.Warn("skipping device", "device", p.PCI, "error", err)
			continue
		}
		if names != nil {
			g.name = names.Name(p.PCI)
		}
		g.update(0)
		m.gpus = append(m.gpus, g)
	}

	for _, pci := range m.opts.devices {
		if !slices.ContainsFunc(m.gpus, func(g *gpu) bool { return g.path.PCI == pci }) {
			m.logger.Warn("selected device is not available", "device", pci)
		}
	}
	if len(m.gpus) == 0 {
		return fmt.Errorf("no usable amdgpu device found")
	}

	// signal now so that exporters can construct descriptors
	m.publish()
	return nil
}

// nameResolver returns the configured resolver or loads the host pci.ids
// database; devices stay unnamed when neither is available
func (m *AMDGPUMonitor) nameResolver() device.NameResolver {
	if m.opts.names != nil {
		return m.opts.names
	}
	db, err := device.NewPCIDB(m.opts.roots.SysFS)
	if err != nil {
		m.logger.Info("device names unavailable", "error", err)
		return nil
	}
	return db
}

func (m *AMDGPUMonitor) selected(pci string) bool {
	return len(m.opts.devices) == 0 || slices.Contains(m.opts.devices, pci)
}

func (m *AMDGPUMonitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor is running...", "devices", len(m.gpus), "profile", m.opts.profile.Window())

	eg, ctx := errgroup.WithContext(ctx)
	for _, g := range m.gpus {
		eg.Go(func() error {
			return g.run(ctx, m.publish)
		})
	}
	err := eg.Wait()

	m.logger.Info("Monitor has terminated.")
	return err
}

func (m *AMDGPUMonitor) Shutdown() error {
	m.logger.Info("shutting down monitor")
	var errs error
	for _, g := range m.gpus {
		if err := g.close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to close %s: %w", g.path.PCI, err))
		}
	}
	return errs
}

func (m *AMDGPUMonitor) DataChannel() <-chan struct{} {
	return m.dataCh
}

func (m *AMDGPUMonitor) Snapshot() (*Snapshot, error) {
	snapshot := m.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// publish assembles the latest stat of every device into a new snapshot
func (m *AMDGPUMonitor) publish() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	snapshot := &Snapshot{
		Timestamp: m.clock.Now(),
		Devices:   make([]*Stat, 0, len(m.gpus)),
	}
	for _, g := range m.gpus {
		if s := g.latest.Load(); s != nil {
			snapshot.Devices = append(snapshot.Devices, s)
		}
	}
	m.snapshot.Store(snapshot)
	m.signalNewData()
}

func (m *AMDGPUMonitor) signalNewData() {
	select {
	case m.dataCh <- struct{}{}: // send signal to any waiting goroutine
		m.logger.Debug("Data channel updated")
	default:
		m.logger.Debug("Data channel is full")
	}
}
