// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"k8s.io/utils/clock"
)

// PCIeBandwidth is the content of pcie_bw: packet counts over the last
// second and the maximum payload size in bytes
type PCIeBandwidth struct {
	Sent           uint64
	Received       uint64
	MaxPayloadSize int32
}

// SentBytes is the approximate throughput towards the host in bytes per second
func (b PCIeBandwidth) SentBytes() uint64 {
	return b.Sent * uint64(max(b.MaxPayloadSize, 0))
}

// ReceivedBytes is the approximate throughput from the host in bytes per second
func (b PCIeBandwidth) ReceivedBytes() uint64 {
	return b.Received * uint64(max(b.MaxPayloadSize, 0))
}

// ParsePCIeBandwidth parses "<sent> <received> <mps>"
func ParsePCIeBandwidth(s string) (PCIeBandwidth, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return PCIeBandwidth{}, fmt.Errorf("unexpected pcie_bw content: %q", s)
	}
	sent, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return PCIeBandwidth{}, fmt.Errorf("invalid sent count: %w", err)
	}
	received, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return PCIeBandwidth{}, fmt.Errorf("invalid received count: %w", err)
	}
	mps, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return PCIeBandwidth{}, fmt.Errorf("invalid max payload size: %w", err)
	}
	return PCIeBandwidth{Sent: sent, Received: received, MaxPayloadSize: int32(mps)}, nil
}

// PCIeBandwidthSupported reports whether pcie_bw can be read. APUs and RDNA
// GPUs do not implement it.
func PCIeBandwidthSupported(path device.DevicePath, info device.Info) bool {
	if info.IsAPU() || info.ChipClass() >= device.GFX10 {
		return false
	}
	_, err := os.Stat(path.Attr("pcie_bw"))
	return err == nil
}

// BandwidthReader polls pcie_bw in the background. The driver sleeps for a
// second inside every read.
type BandwidthReader struct {
	logger   *slog.Logger
	file     string
	clock    clock.WithTicker
	interval time.Duration
	active   func() bool
	latest   atomic.Pointer[PCIeBandwidth]
}

// BandwidthOptFn configures a BandwidthReader
type BandwidthOptFn func(*BandwidthReader)

// WithBandwidthLogger sets the logger
func WithBandwidthLogger(logger *slog.Logger) BandwidthOptFn {
	return func(b *BandwidthReader) {
		b.logger = logger
	}
}

// WithBandwidthClock sets the clock used between reads
func WithBandwidthClock(c clock.WithTicker) BandwidthOptFn {
	return func(b *BandwidthReader) {
		b.clock = c
	}
}

// WithBandwidthActive sets a gate checked before every read. Reads are
// skipped while it returns false, since they would resume a suspended device.
func WithBandwidthActive(active func() bool) BandwidthOptFn {
	return func(b *BandwidthReader) {
		b.active = active
	}
}

// NewBandwidthReader creates a reader of <device>/pcie_bw
func NewBandwidthReader(path device.DevicePath, opts ...BandwidthOptFn) *BandwidthReader {
	b := &BandwidthReader{
		logger:   slog.Default(),
		file:     path.Attr("pcie_bw"),
		clock:    clock.RealClock{},
		interval: 500 * time.Millisecond,
		active:   func() bool { return true },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("service", "pcie-bw", "device", path.PCI)
	return b
}

// Name implements service.Service
func (b *BandwidthReader) Name() string {
	return "pcie-bw"
}

// Run reads pcie_bw until ctx is cancelled or the file stops being readable
func (b *BandwidthReader) Run(ctx context.Context) error {
	for {
		if b.active() {
			if err := b.read(); err != nil {
				b.logger.Info("pcie_bw is not readable, stopping", "error", err)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.clock.After(b.interval):
		}
	}
}

func (b *BandwidthReader) read() error {
	s, err := device.ReadString(b.file)
	if err != nil {
		return err
	}
	bw, err := ParsePCIeBandwidth(s)
	if err != nil {
		return err
	}
	b.latest.Store(&bw)
	return nil
}

// Latest returns the most recent reading or nil
func (b *BandwidthReader) Latest() *PCIeBandwidth {
	return b.latest.Load()
}
