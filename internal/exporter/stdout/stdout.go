// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"github.com/sustainable-computing-io/amdgpu-top/internal/service"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
	"k8s.io/utils/clock"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.StatProvider
)

// Exporter periodically prints the device snapshot as tables
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	clock    clock.WithTicker
	ticker   clock.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	clock    clock.WithTicker
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		clock:    clock.RealClock{},
		interval: 5 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

func NewExporter(pm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  pm,
		out:      opts.out,
		clock:    opts.clock,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid interval: %s", e.interval)
	}
	e.ticker = e.clock.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	defer e.ticker.Stop()
	for {
		select {
		case <-e.ticker.C():
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				e.logger.Warn("Failed to get snapshot", "error", err)
				continue
			}
			write(e.out, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, snapshot *monitor.Snapshot) {
	for _, stat := range snapshot.Devices {
		writeDevice(out, stat)
		if len(stat.GRBM) > 0 {
			writePerfCounter(out, perfcounter.GRBM, stat.GRBM)
		}
		if len(stat.GRBM2) > 0 {
			writePerfCounter(out, perfcounter.GRBM2, stat.GRBM2)
		}
		writeProcesses(out, stat)
	}
}

const na = "N/A"

func optional[T ~uint16 | ~uint32](v *T, u units.Unit) string {
	if p := units.Optional(v, u); p != nil {
		return p.String()
	}
	return na
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	return table
}

func writeDevice(out io.Writer, stat *monitor.Stat) {
	s := &stat.Sensors

	vram, gtt := na, na
	if m := stat.Memory; m != nil {
		vram = fmt.Sprintf("%s / %s", units.Bytes(m.VRAM.HeapUsage), units.Bytes(m.VRAM.TotalHeapSize))
		gtt = fmt.Sprintf("%s / %s", units.Bytes(m.GTT.HeapUsage), units.Bytes(m.GTT.TotalHeapSize))
	}
	edge := na
	if s.Edge != nil {
		edge = units.NewValue(int64(s.Edge.Current), units.C).String()
	}
	power := na
	if p := s.Power(); p != nil {
		power = units.Watts(*p).String()
	}
	energy := na
	if stat.Energy != nil {
		energy = units.Joules(*stat.Energy).String()
	}

	table := newTable(out)
	table.Header([]string{"Device", "Name", "Chip", "State", "GFX", "UMC", "Media", "VRAM", "GTT", "SCLK", "MCLK", "Edge", "Power", "Energy", "Fan"})
	_ = table.Append([]string{
		stat.PCI,
		stat.Name,
		stat.Info.ChipClass().String(),
		stat.PowerState.String(),
		optional(stat.Activity.GFX, units.Percent),
		optional(stat.Activity.UMC, units.Percent),
		optional(stat.Activity.Media, units.Percent),
		vram,
		gtt,
		optional(s.SCLK, units.MHz),
		optional(s.MCLK, units.MHz),
		edge,
		power,
		energy,
		optional(s.FanRPM, units.RPM),
	})
	_ = table.Render()
}

func writePerfCounter(out io.Writer, kind perfcounter.Kind, usage []perfcounter.Usage) {
	rows := make([][]string, 0, len(usage))
	for _, u := range usage {
		rows = append(rows, []string{u.Label, units.NewValue(u.Percent, units.Percent).String()})
	}
	table := newTable(out)
	table.Header([]string{kind.String(), "Busy"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writeProcesses(out io.Writer, stat *monitor.Stat) {
	if len(stat.Processes) == 0 {
		return
	}
	rows := make([][]string, 0, len(stat.Processes))
	// already sorted by the monitor
	for _, p := range stat.Processes {
		u := p.Usage
		rows = append(rows, []string{
			strconv.Itoa(p.PID),
			p.Name,
			units.Bytes(u.VRAM).String(),
			units.Bytes(u.GTT).String(),
			units.NewValue(p.CPU, units.Percent).String(),
			units.NewValue(u.GFX, units.Percent).String(),
			units.NewValue(u.Compute, units.Percent).String(),
			units.NewValue(u.DMA, units.Percent).String(),
			units.NewValue(u.Media, units.Percent).String(),
		})
	}
	table := newTable(out)
	table.Header([]string{"PID", "Name", "VRAM", "GTT", "CPU", "GFX", "Compute", "DMA", "Media"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
