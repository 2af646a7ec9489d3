// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perfcounter

import (
	"fmt"
	"math"
	"time"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
)

// Kind identifies a status register
type Kind int

const (
	GRBM Kind = iota
	GRBM2
)

// dword offsets of mmGRBM_STATUS and mmGRBM_STATUS2
const (
	offsetGRBMStatus  uint32 = 0x2004
	offsetGRBMStatus2 uint32 = 0x2002
)

func (k Kind) String() string {
	switch k {
	case GRBM:
		return "GRBM"
	case GRBM2:
		return "GRBM2"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Offset returns the register dword offset
func (k Kind) Offset() uint32 {
	if k == GRBM2 {
		return offsetGRBMStatus2
	}
	return offsetGRBMStatus
}

// Profile is the number of reads per window and the delay between them
type Profile struct {
	Count int
	Delay time.Duration
}

var (
	ProfileLow  = Profile{Count: 100, Delay: 10 * time.Millisecond}
	ProfileHigh = Profile{Count: 100, Delay: 1 * time.Millisecond}
)

// Window is the wall time of one sampling window
func (p Profile) Window() time.Duration {
	return time.Duration(p.Count) * p.Delay
}

// ParseProfile maps a profile name to its Profile
func ParseProfile(name string) (Profile, error) {
	switch name {
	case "low", "":
		return ProfileLow, nil
	case "high":
		return ProfileHigh, nil
	default:
		return Profile{}, fmt.Errorf("unknown sampling profile: %q", name)
	}
}

// Usage is the busy percentage of one functional block over a window
type Usage struct {
	Label   string
	Percent uint8
}

// PerfCounter accumulates the bits of a status register over a window of reads.
// It is not safe for concurrent use; the owning sampler serializes access.
type PerfCounter struct {
	kind    Kind
	table   []Entry
	acc     [32]uint8
	reads   int
	enabled bool
	err     error
}

// New selects the bit table for chip and probes the register once.
// A failed probe disables the counter for the lifetime of the value.
func New(kind Kind, chip device.ChipClass, r device.RegisterReader) *PerfCounter {
	pc := &PerfCounter{
		kind:  kind,
		table: Table(kind, chip),
	}
	if r == nil {
		pc.err = fmt.Errorf("%s: no register reader", kind)
		return pc
	}
	if _, err := r.ReadRegister(kind.Offset()); err != nil {
		pc.err = fmt.Errorf("%s: register probe failed: %w", kind, err)
		return pc
	}
	pc.enabled = true
	return pc
}

// Disabled returns a counter that never reads
func Disabled(kind Kind, chip device.ChipClass) *PerfCounter {
	return &PerfCounter{kind: kind, table: Table(kind, chip)}
}

func (pc *PerfCounter) Kind() Kind {
	return pc.kind
}

// Enabled reports whether the probe succeeded
func (pc *PerfCounter) Enabled() bool {
	return pc.enabled
}

// Err is the probe failure, if any
func (pc *PerfCounter) Err() error {
	return pc.err
}

func (pc *PerfCounter) Entries() []Entry {
	return pc.table
}

// Read samples the register once and accumulates every set bit
func (pc *PerfCounter) Read(r device.RegisterReader) error {
	if !pc.enabled {
		return nil
	}
	v, err := r.ReadRegister(pc.kind.Offset())
	if err != nil {
		return fmt.Errorf("%s: %w", pc.kind, err)
	}
	pc.Accumulate(v)
	return nil
}

// Accumulate adds one register value to the window
func (pc *PerfCounter) Accumulate(v uint32) {
	for i := range pc.acc {
		if (v>>i)&1 == 1 && pc.acc[i] < math.MaxUint8 {
			pc.acc[i]++
		}
	}
	pc.reads++
}

// Reads returns the number of reads in the current window
func (pc *PerfCounter) Reads() int {
	return pc.reads
}

// Dump returns the per-block usage of the current window and starts a new one
func (pc *PerfCounter) Dump() []Usage {
	usage := make([]Usage, len(pc.table))
	for i, e := range pc.table {
		usage[i] = Usage{Label: e.Label, Percent: pc.percent(e.Bit)}
	}
	pc.Clear()
	return usage
}

func (pc *PerfCounter) percent(bit uint8) uint8 {
	if pc.reads == 0 {
		return 0
	}
	p := int(pc.acc[bit]) * 100 / pc.reads
	return uint8(min(p, 100))
}

// Clear resets the accumulator
func (pc *PerfCounter) Clear() {
	pc.acc = [32]uint8{}
	pc.reads = 0
}
