// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package fdinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/procindex"
	"github.com/sustainable-computing-io/amdgpu-top/internal/testutil"
)

const render = "/dev/dri/renderD128"

func newStat(t *testing.T, fs *testutil.ProcFS, opts ...OptionFn) *Stat {
	t.Helper()
	s, err := NewStat(append([]OptionFn{WithProcFSPath(fs.Root), WithSysFSPath(t.TempDir())}, opts...)...)
	require.NoError(t, err)
	return s
}

// TestSharedClientCountedOnce covers two fds sharing one drm context
func TestSharedClientCountedOnce(t *testing.T) {
	info := testutil.FDInfo(7, "drm-memory-vram:\t1048576", "drm-engine-gfx:\t500000000 ns")

	for _, order := range [][]int{{3, 4}, {4, 3}} {
		fs := testutil.NewProcFS(t)
		fs.Add(testutil.Proc{
			PID: 100, Comm: "app",
			FDs:    map[int]string{3: render, 4: render},
			FDInfo: map[int]string{3: info, 4: info},
		})
		s := newStat(t, fs)

		s.Update([]procindex.ProcInfo{{PID: 100, Name: "app", FDs: order}}, time.Second)
		usage := s.Usage()
		require.Len(t, usage, 1)
		assert.Equal(t, uint64(1<<20), usage[0].Usage.VRAM, "vram must be 1MiB, not 2MiB")
		assert.Equal(t, 2, usage[0].IDsCount, "both fds carry a client id")

		fs.SetFDInfo(100, 3, testutil.FDInfo(7, "drm-memory-vram:\t1048576", "drm-engine-gfx:\t800000000 ns"))
		fs.SetFDInfo(100, 4, testutil.FDInfo(7, "drm-memory-vram:\t1048576", "drm-engine-gfx:\t800000000 ns"))
		s.Update([]procindex.ProcInfo{{PID: 100, Name: "app", FDs: order}}, time.Second)
		usage = s.Usage()
		require.Len(t, usage, 1)
		assert.Equal(t, uint64(30), usage[0].Usage.GFX, "one gfx contribution")
	}
}

// TestSharedClientAcrossProcesses checks that the client id set spans the whole pass
func TestSharedClientAcrossProcesses(t *testing.T) {
	info := testutil.FDInfo(9, "drm-memory-vram:\t4 KiB")
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{PID: 10, Comm: "parent", FDs: map[int]string{3: render}, FDInfo: map[int]string{3: info}})
	fs.Add(testutil.Proc{PID: 11, Comm: "child", FDs: map[int]string{3: render}, FDInfo: map[int]string{3: info}})
	s := newStat(t, fs)

	procs := []procindex.ProcInfo{{PID: 10, Name: "parent", FDs: []int{3}}, {PID: 11, Name: "child", FDs: []int{3}}}
	for range 2 {
		s.Update(procs, time.Second)
		usage := s.Usage()
		require.Len(t, usage, 2)
		assert.Equal(t, uint64(4096), usage[0].Usage.VRAM)
		assert.Zero(t, usage[1].Usage.VRAM)
		assert.Equal(t, 1, usage[1].IDsCount, "a shared id still counts for the child")
	}
}

func TestRateScenario(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 100, Comm: "game",
		FDs:    map[int]string{5: render},
		FDInfo: map[int]string{5: testutil.FDInfo(1, "drm-memory-vram:\t2048 KiB", "drm-engine-gfx:\t2000000000 ns")},
	})
	s := newStat(t, fs)
	procs := []procindex.ProcInfo{{PID: 100, Name: "game", FDs: []int{5}}}

	s.Update(procs, time.Second)
	first := s.Usage()
	require.Len(t, first, 1)
	assert.Zero(t, first[0].Usage.GFX, "first observation only establishes the baseline")
	assert.Equal(t, uint64(2<<20), first[0].Usage.VRAM, "memory is reported on first observation")

	fs.SetFDInfo(100, 5, testutil.FDInfo(1, "drm-memory-vram:\t2048 KiB", "drm-engine-gfx:\t2300000000 ns"))
	s.Update(procs, time.Second)
	assert.Equal(t, uint64(30), s.Usage()[0].Usage.GFX)

	// counter reset
	fs.SetFDInfo(100, 5, testutil.FDInfo(1, "drm-engine-gfx:\t100 ns"))
	s.Update(procs, time.Second)
	assert.Zero(t, s.Usage()[0].Usage.GFX)
}

func TestRate(t *testing.T) {
	assert.Equal(t, uint64(30), Rate(2_000_000_000, 2_300_000_000, time.Second))
	assert.Equal(t, uint64(0), Rate(2_300_000_000, 2_000_000_000, time.Second))
	assert.Equal(t, uint64(0), Rate(0, 100, 0))
	assert.Equal(t, uint64(100), Rate(0, 500_000_000, 500*time.Millisecond))

	for c0 := uint64(0); c0 < 1_000_000_000; c0 += 97_000_000 {
		for c1 := c0; c1 < 2_000_000_000; c1 += 131_000_000 {
			assert.Equal(t, (c1-c0)*100/1_000_000_000, Rate(c0, c1, time.Second))
		}
	}
}

// TestSkipAccumulatesInterval covers a pass missed because the process index was busy
func TestSkipAccumulatesInterval(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 100, Comm: "game",
		FDs:    map[int]string{5: render},
		FDInfo: map[int]string{5: testutil.FDInfo(1, "drm-engine-gfx:\t0 ns")},
	})
	s := newStat(t, fs)
	procs := []procindex.ProcInfo{{PID: 100, Name: "game", FDs: []int{5}}}
	s.Update(procs, time.Second)

	fs.SetFDInfo(100, 5, testutil.FDInfo(1, "drm-engine-gfx:\t1000000000 ns"))
	s.Skip(time.Second)
	s.Update(procs, time.Second)

	assert.Equal(t, 2*time.Second, s.Interval())
	assert.Equal(t, uint64(50), s.Usage()[0].Usage.GFX)

	fs.SetFDInfo(100, 5, testutil.FDInfo(1, "drm-engine-gfx:\t1500000000 ns"))
	s.Update(procs, time.Second)
	assert.Equal(t, time.Second, s.Interval(), "skipped time is consumed once")
	assert.Equal(t, uint64(50), s.Usage()[0].Usage.GFX)
}

func TestCPUPercent(t *testing.T) {
	fs := testutil.NewProcFS(t)
	fs.Add(testutil.Proc{
		PID: 100, Comm: "game", UTime: 100, STime: 20,
		FDs:    map[int]string{5: render},
		FDInfo: map[int]string{5: testutil.FDInfo(1)},
	})
	s := newStat(t, fs)
	procs := []procindex.ProcInfo{{PID: 100, Name: "game", FDs: []int{5}}}

	s.Update(procs, time.Second)
	assert.Zero(t, s.Usage()[0].CPU)

	// 45 ticks at USER_HZ=100 over one second
	fs.SetCPU(100, "game", 140, 25)
	s.Update(procs, time.Second)
	assert.Equal(t, uint64(45), s.Usage()[0].CPU)

	// rounds up
	fs.SetCPU(100, "game", 141, 25)
	s.Update(procs, 2*time.Second)
	assert.Equal(t, uint64(1), s.Usage()[0].CPU)
}

func TestKFDAndVanishedProcess(t *testing.T) {
	fs := testutil.NewProcFS(t)
	sysfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysfs, "class", "kfd", "kfd", "proc", "200"), 0o755))

	fs.Add(testutil.Proc{PID: 100, Comm: "gl", FDs: map[int]string{3: render}, FDInfo: map[int]string{3: testutil.FDInfo(1)}})
	fs.Add(testutil.Proc{PID: 200, Comm: "rocm", FDs: map[int]string{3: render}, FDInfo: map[int]string{3: testutil.FDInfo(2)}})

	s, err := NewStat(WithProcFSPath(fs.Root), WithSysFSPath(sysfs))
	require.NoError(t, err)

	procs := []procindex.ProcInfo{{PID: 100, Name: "gl", FDs: []int{3}}, {PID: 200, Name: "rocm", FDs: []int{3}}}
	s.Update(procs, time.Second)
	usage := s.Usage()
	require.Len(t, usage, 2)
	assert.False(t, usage[0].IsKFD)
	assert.True(t, usage[1].IsKFD)

	fs.Remove(100)
	s.Update(procs, time.Second)
	usage = s.Usage()
	require.Len(t, usage, 1, "exited processes contribute nothing")
	assert.Equal(t, 200, usage[0].PID)
	assert.NotContains(t, s.prev, 100)
}

func TestUnify(t *testing.T) {
	base := Usage{Dec: 30, Enc: 12, Enc1: 6, JPEG: 9}

	tt := []struct {
		name string
		caps Capabilities
		want Usage
	}{{
		name: "uvd/vce",
		caps: Capabilities{},
		want: Usage{Dec: 30, Enc: 12, Enc1: 6, JPEG: 9, TotalDec: 30, TotalEnc: 9, Media: 16},
	}, {
		name: "vcn",
		caps: Capabilities{HasVCN: true},
		want: Usage{Dec: 30, Enc: 12, Enc1: 6, JPEG: 9, TotalDec: 19, TotalEnc: 12, Media: 17},
	}, {
		name: "vcn unified",
		caps: Capabilities{HasVCN: true, HasVCNUnified: true},
		want: Usage{Dec: 30, Enc: 12, Enc1: 6, JPEG: 9, Media: 10, VCNUnified: 42},
	}}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			u := base
			tc.caps.unify(&u)
			assert.Equal(t, tc.want, u)
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	none := device.NewFakeHandle(device.Info{})
	assert.Equal(t, Capabilities{}, CapabilitiesFor(none))

	vcn3 := device.NewFakeHandle(device.Info{},
		device.WithFakeHwIP(device.HwIPVCNDec, device.HwIPInfo{Major: 3}),
		device.WithFakeHwIP(device.HwIPVCNEnc, device.HwIPInfo{Major: 3}))
	assert.Equal(t, Capabilities{HasVCN: true}, CapabilitiesFor(vcn3))

	vcn4 := device.NewFakeHandle(device.Info{},
		device.WithFakeHwIP(device.HwIPVCNDec, device.HwIPInfo{Major: 4}),
		device.WithFakeHwIP(device.HwIPVCNEnc, device.HwIPInfo{Major: 4}))
	assert.Equal(t, Capabilities{HasVCN: true, HasVCNUnified: true}, CapabilitiesFor(vcn4))
}

func TestFold(t *testing.T) {
	list := []ProcUsage{
		{PID: 1, Usage: Usage{VRAM: 10, GFX: 20, Media: 3}},
		{PID: 2, Usage: Usage{VRAM: 5, GFX: 30, Media: 4}},
	}
	total := Fold(list)
	assert.Equal(t, uint64(15), total.VRAM)
	assert.Equal(t, uint64(50), total.GFX)
	assert.Equal(t, uint64(7), total.Media)
	assert.Zero(t, Fold(nil))
}
