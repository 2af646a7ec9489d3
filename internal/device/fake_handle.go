// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sys/unix"
)

// NOTE: FakeHandle is not intended to be used in production and is for testing only

// RegisterFunc produces the value of a register on each read
type RegisterFunc func() (uint32, error)

// FakeHandle is an in-memory Handle
type FakeHandle struct {
	mu sync.Mutex

	info      Info
	hwIP      map[HwIPType]HwIPInfo
	memory    *MemoryInfo
	registers map[uint32]RegisterFunc
	sensors   map[SensorType]uint32

	closed bool
	reads  int
}

var _ Handle = (*FakeHandle)(nil)

// FakeOptFn is a functional option for configuring FakeHandle
type FakeOptFn func(*FakeHandle)

// WithFakeRegister sets the producer of a register
func WithFakeRegister(offset uint32, fn RegisterFunc) FakeOptFn {
	return func(h *FakeHandle) {
		h.registers[offset] = fn
	}
}

// WithFakeSensor sets a fixed quick sensor value
func WithFakeSensor(sensor SensorType, value uint32) FakeOptFn {
	return func(h *FakeHandle) {
		h.sensors[sensor] = value
	}
}

// WithFakeHwIP makes an IP block present
func WithFakeHwIP(ip HwIPType, info HwIPInfo) FakeOptFn {
	return func(h *FakeHandle) {
		h.hwIP[ip] = info
	}
}

// WithFakeMemory sets the memory info
func WithFakeMemory(m MemoryInfo) FakeOptFn {
	return func(h *FakeHandle) {
		h.memory = &m
	}
}

// NewFakeHandle returns a handle reporting info and nothing else unless configured
func NewFakeHandle(info Info, opts ...FakeOptFn) *FakeHandle {
	h := &FakeHandle{
		info:      info,
		hwIP:      map[HwIPType]HwIPInfo{},
		registers: map[uint32]RegisterFunc{},
		sensors:   map[SensorType]uint32{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FixedRegister always returns v
func FixedRegister(v uint32) RegisterFunc {
	return func() (uint32, error) { return v, nil }
}

// SequenceRegister returns the values in order and repeats the last one
func SequenceRegister(values ...uint32) RegisterFunc {
	var mu sync.Mutex
	i := 0
	return func() (uint32, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(values) == 0 {
			return 0, nil
		}
		v := values[min(i, len(values)-1)]
		i++
		return v, nil
	}
}

// RandomRegister sets each bit with probability busy
func RandomRegister(busy float64) RegisterFunc {
	return func() (uint32, error) {
		var v uint32
		for i := range 32 {
			if rand.Float64() < busy {
				v |= 1 << i
			}
		}
		return v, nil
	}
}

func (h *FakeHandle) ReadRegister(offset uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, unix.EBADF
	}
	fn, ok := h.registers[offset]
	if !ok {
		return 0, fmt.Errorf("register %#x: %w", offset, unix.EPERM)
	}
	h.reads++
	return fn()
}

func (h *FakeHandle) QuerySensor(sensor SensorType) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, unix.EBADF
	}
	v, ok := h.sensors[sensor]
	if !ok {
		return 0, unix.EINVAL
	}
	return v, nil
}

func (h *FakeHandle) Info() (*Info, error) {
	info := h.info
	return &info, nil
}

func (h *FakeHandle) HwIP(ip HwIPType) (*HwIPInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.hwIP[ip]
	if !ok {
		return nil, unix.EINVAL
	}
	return &info, nil
}

func (h *FakeHandle) Memory() (*MemoryInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memory == nil {
		return &MemoryInfo{}, nil
	}
	m := *h.memory
	return &m, nil
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Reads returns the number of successful register reads
func (h *FakeHandle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

// Closed reports whether Close was called
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
