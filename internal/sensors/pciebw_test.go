// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	testingclock "k8s.io/utils/clock/testing"
)

func TestParsePCIeBandwidth(t *testing.T) {
	bw, err := ParsePCIeBandwidth("4096 1024 256\n")
	require.NoError(t, err)
	assert.Equal(t, PCIeBandwidth{Sent: 4096, Received: 1024, MaxPayloadSize: 256}, bw)
	assert.Equal(t, uint64(4096*256), bw.SentBytes())
	assert.Equal(t, uint64(1024*256), bw.ReceivedBytes())

	for _, bad := range []string{"", "1 2", "1 2 3 4", "a 2 3", "1 b 3", "1 2 c"} {
		_, err := ParsePCIeBandwidth(bad)
		assert.Error(t, err, bad)
	}
}

func TestPCIeBandwidthSupported(t *testing.T) {
	path := device.DevicePath{Sysfs: t.TempDir()}
	vega := device.Info{Family: device.FamilyAI}

	assert.False(t, PCIeBandwidthSupported(path, vega), "no pcie_bw file")

	writeFiles(t, path.Sysfs, map[string]string{"pcie_bw": "0 0 128\n"})
	assert.True(t, PCIeBandwidthSupported(path, vega))
	assert.False(t, PCIeBandwidthSupported(path, device.Info{Family: device.FamilyNV}), "RDNA")
	assert.False(t, PCIeBandwidthSupported(path, device.Info{Family: device.FamilyRV, IDsFlags: 0x1}), "APU")
}

func TestBandwidthReader(t *testing.T) {
	path := device.DevicePath{PCI: "0000:03:00.0", Sysfs: t.TempDir()}
	writeFiles(t, path.Sysfs, map[string]string{"pcie_bw": "10 20 128\n"})

	fakeClock := testingclock.NewFakeClock(time.Now())
	r := NewBandwidthReader(path, WithBandwidthClock(fakeClock))
	assert.Nil(t, r.Latest())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	assert.Eventually(t, func() bool {
		return r.Latest() != nil && fakeClock.HasWaiters()
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(10), r.Latest().Sent)

	writeFiles(t, path.Sysfs, map[string]string{"pcie_bw": "30 40 128\n"})
	fakeClock.Step(500 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return r.Latest().Sent == 30
	}, time.Second, time.Millisecond)

	// the reader stops once the file goes away
	assert.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	require.NoError(t, os.Remove(path.Attr("pcie_bw")))
	fakeClock.Step(500 * time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.Equal(t, uint64(30), r.Latest().Sent, "last reading is kept")
}

func TestBandwidthReader_Paused(t *testing.T) {
	path := device.DevicePath{PCI: "0000:03:00.0", Sysfs: t.TempDir()}
	writeFiles(t, path.Sysfs, map[string]string{"pcie_bw": "777 888 256\n"})

	var active atomic.Bool
	fakeClock := testingclock.NewFakeClock(time.Now())
	r := NewBandwidthReader(path, WithBandwidthClock(fakeClock), WithBandwidthActive(active.Load))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	assert.Nil(t, r.Latest(), "nothing is read while inactive")

	// a paused reader keeps polling the gate
	fakeClock.Step(500 * time.Millisecond)
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	assert.Nil(t, r.Latest())

	active.Store(true)
	fakeClock.Step(500 * time.Millisecond)
	require.Eventually(t, func() bool { return r.Latest() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(777), r.Latest().Sent)

	cancel()
	assert.NoError(t, <-done)
}

func TestBandwidthReader_Cancel(t *testing.T) {
	path := device.DevicePath{Sysfs: t.TempDir()}
	writeFiles(t, path.Sysfs, map[string]string{"pcie_bw": "1 2 128\n"})

	ctx, cancel := context.WithCancel(context.Background())
	r := NewBandwidthReader(path, WithBandwidthClock(testingclock.NewFakeClock(time.Now())))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
}
