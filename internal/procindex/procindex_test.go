// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package procindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/amdgpu-top/internal/testutil"
	testingclock "k8s.io/utils/clock/testing"
)

var nodes = []string{"/dev/dri/renderD128", "/dev/dri/card1"}

func newTracker(t *testing.T, fs *testutil.ProcFS, opts ...OptionFn) *Tracker {
	t.Helper()
	tracker, err := NewTracker(nodes, append([]OptionFn{WithProcFSPath(fs.Root)}, opts...)...)
	require.NoError(t, err)
	return tracker
}

func TestScan(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 1, Comm: "systemd", Cmdline: []string{"/sbin/init"},
		FDs: map[int]string{3: "/dev/dri/renderD128"},
	})
	fs.Add(testutil.Proc{
		PID: 100, Comm: "gnome-shell", Cmdline: []string{"/usr/bin/gnome-shell"},
		FDs: map[int]string{
			0:  "/dev/null",
			12: "/dev/dri/card1",
			9:  "/dev/dri/renderD128",
			20: "/dev/dri/renderD129",
			21: "/dev/dri/card10",
		},
	})
	fs.Add(testutil.Proc{
		PID: 200, Comm: "systemd-logind", Cmdline: []string{"/usr/lib/systemd/systemd-logind"},
		FDs: map[int]string{5: "/dev/dri/card1"},
	})
	fs.Add(testutil.Proc{
		PID: 300, Comm: "bash", Cmdline: []string{"bash"},
		FDs: map[int]string{0: "/dev/pts/0"},
	})
	fs.Add(testutil.Proc{
		PID: 400, Comm: "a-very-long-comm", Cmdline: []string{"./app"},
		FDs: map[int]string{7: "/dev/dri/renderD128 (deleted)"},
	})

	procs := newTracker(t, fs).Scan()
	require.Len(t, procs, 2)

	assert.Equal(t, ProcInfo{PID: 100, Name: "gnome-shell", FDs: []int{9, 12}}, procs[0])
	assert.Equal(t, ProcInfo{PID: 400, Name: "a-very-long-comm", FDs: []int{7}}, procs[1])
}

func TestScan_ExitedProcess(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 10, Comm: "app", Cmdline: []string{"app"},
		FDs: map[int]string{3: "/dev/dri/renderD128"},
	})
	fs.Remove(10)

	assert.Empty(t, newTracker(t, fs).Scan())
}

func TestScan_UnreadableCmdline(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 500, Comm: "hidden", Cmdline: []string{"hidden"},
		FDs: map[int]string{3: "/dev/dri/renderD128"},
	})
	fs.Add(testutil.Proc{
		PID: 501, Comm: "kworker", FDs: map[int]string{3: "/dev/dri/renderD128"},
	})
	require.NoError(t, os.Remove(filepath.Join(fs.Root, "500", "cmdline")))

	procs := newTracker(t, fs).Scan()
	require.Len(t, procs, 1, "a pid whose cmdline cannot be read is skipped")
	assert.Equal(t, 501, procs[0].PID, "an empty cmdline is kept")
}

func TestRefreshPublishesReplacement(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 10, Comm: "app", Cmdline: []string{"app"},
		FDs: map[int]string{3: "/dev/dri/renderD128"},
	})
	tracker := newTracker(t, fs)

	procs, ok := tracker.TryProcs()
	assert.True(t, ok)
	assert.Empty(t, procs)

	tracker.Refresh()
	procs = tracker.Procs()
	require.Len(t, procs, 1)

	// callers get copies
	procs[0].FDs[0] = 99
	assert.Equal(t, []int{3}, tracker.Procs()[0].FDs)

	fs.Remove(10)
	tracker.Refresh()
	assert.Empty(t, tracker.Procs())
}

func TestTryProcs_Contended(t *testing.T) {
	tracker := newTracker(t, testutil.NewProcFS(t))

	tracker.mu.Lock()
	_, ok := tracker.TryProcs()
	tracker.mu.Unlock()
	assert.False(t, ok)

	_, ok = tracker.TryProcs()
	assert.True(t, ok)
}

func TestRun(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fakeClock := testingclock.NewFakeClock(time.Now())
	tracker := newTracker(t, fs, WithClock(fakeClock), WithInterval(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, 5*time.Millisecond)
	assert.Empty(t, tracker.Procs())

	fs.Add(testutil.Proc{
		PID: 42, Comm: "glxgears", Cmdline: []string{"glxgears"},
		FDs: map[int]string{4: "/dev/dri/card1"},
	})
	fakeClock.Step(5 * time.Second)
	assert.Eventually(t, func() bool { return len(tracker.Procs()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNewTracker_BadProcFS(t *testing.T) {
	_, err := NewTracker(nodes, WithProcFSPath("/nonexistent/proc"))
	assert.Error(t, err)
}
