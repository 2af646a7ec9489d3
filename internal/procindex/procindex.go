// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"k8s.io/utils/clock"
)

// processes proxying driver contexts for desktop shells
var skippedCmdlinePrefixes = []string{"/lib/systemd", "/usr/lib/systemd"}

// ProcInfo is a process holding one or more device nodes open
type ProcInfo struct {
	PID  int
	Name string
	FDs  []int
}

func (p ProcInfo) clone() ProcInfo {
	p.FDs = slices.Clone(p.FDs)
	return p
}

// Tracker periodically scans procfs for clients of a device
type Tracker struct {
	logger   *slog.Logger
	procfs   string
	fs       procfs.FS
	nodes    []string
	interval time.Duration
	clock    clock.WithTicker

	mu    sync.Mutex
	procs []ProcInfo
}

type Opts struct {
	logger   *slog.Logger
	procfs   string
	interval time.Duration
	clock    clock.WithTicker
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		procfs:   procfs.DefaultMountPoint,
		interval: 5 * time.Second,
		clock:    clock.RealClock{},
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

// WithInterval sets the rescan interval
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// NewTracker creates a Tracker matching fds against the given device nodes
func NewTracker(nodes []string, applyOpts ...OptionFn) (*Tracker, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	fs, err := procfs.NewFS(opts.procfs)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs %s: %w", opts.procfs, err)
	}

	return &Tracker{
		logger:   opts.logger.With("service", "procindex"),
		procfs:   opts.procfs,
		fs:       fs,
		nodes:    slices.Clone(nodes),
		interval: opts.interval,
		clock:    opts.clock,
	}, nil
}

// Run rescans on every interval until ctx is done
func (t *Tracker) Run(ctx context.Context) error {
	t.Refresh()
	if t.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			t.Refresh()
		}
	}
}

// Refresh scans procfs and replaces the published list
func (t *Tracker) Refresh() {
	procs := t.Scan()

	t.mu.Lock()
	t.procs = procs
	t.mu.Unlock()

	t.logger.Debug("process index refreshed", "clients", len(procs))
}

// Procs returns a copy of the last published list
func (t *Tracker) Procs() []ProcInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAll(t.procs)
}

// TryProcs returns a copy of the last published list unless a refresh holds the lock
func (t *Tracker) TryProcs() ([]ProcInfo, bool) {
	if !t.mu.TryLock() {
		return nil, false
	}
	defer t.mu.Unlock()
	return cloneAll(t.procs), true
}

// Scan returns every process with at least one fd pointing at a device node
func (t *Tracker) Scan() []ProcInfo {
	all, err := t.fs.AllProcs()
	if err != nil {
		t.logger.Warn("failed to list processes", "error", err)
		return nil
	}

	procs := make([]ProcInfo, 0, 8)
	for _, p := range all {
		if p.PID == 1 {
			continue
		}
		if info, ok := t.inspect(p); ok {
			procs = append(procs, info)
		}
	}
	slices.SortFunc(procs, func(a, b ProcInfo) int { return a.PID - b.PID })
	return procs
}

// inspect returns false for processes that exit mid-scan or hold no device fds
func (t *Tracker) inspect(p procfs.Proc) (ProcInfo, bool) {
	// an unreadable cmdline means the process is gone or not ours to inspect
	cmdline, err := p.CmdLine()
	if err != nil || (len(cmdline) > 0 && isSkippedCmdline(cmdline[0])) {
		return ProcInfo{}, false
	}

	fds := t.deviceFDs(p)
	if len(fds) == 0 {
		return ProcInfo{}, false
	}

	name, err := p.Comm()
	if err != nil {
		return ProcInfo{}, false
	}

	return ProcInfo{PID: p.PID, Name: name, FDs: fds}, true
}

func (t *Tracker) deviceFDs(p procfs.Proc) []int {
	descriptors, err := p.FileDescriptors()
	if err != nil {
		return nil
	}

	fdDir := filepath.Join(t.procfs, strconv.Itoa(p.PID), "fd")
	var fds []int
	for _, fd := range descriptors {
		name := strconv.FormatUint(uint64(fd), 10)
		target, err := os.Readlink(filepath.Join(fdDir, name))
		if err != nil {
			continue
		}
		if t.matches(target) {
			fds = append(fds, int(fd))
		}
	}
	slices.Sort(fds)
	return fds
}

func (t *Tracker) matches(target string) bool {
	for _, n := range t.nodes {
		// unlinked nodes are reported as "<path> (deleted)"
		if target == n || strings.HasPrefix(target, n+" ") {
			return true
		}
	}
	return false
}

func isSkippedCmdline(arg0 string) bool {
	for _, prefix := range skippedCmdlinePrefixes {
		if strings.HasPrefix(arg0, prefix) {
			return true
		}
	}
	return false
}

func cloneAll(procs []ProcInfo) []ProcInfo {
	if procs == nil {
		return nil
	}
	out := make([]ProcInfo, len(procs))
	for i, p := range procs {
		out[i] = p.clone()
	}
	return out
}
