// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"fmt"
	"path/filepath"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
	"k8s.io/utils/ptr"
)

// TempType selects one of the amdgpu hwmon temperature channels
type TempType int

const (
	TempEdge TempType = iota + 1
	TempJunction
	TempMemory
)

func (t TempType) String() string {
	switch t {
	case TempEdge:
		return "edge"
	case TempJunction:
		return "junction"
	case TempMemory:
		return "memory"
	}
	return fmt.Sprintf("TempType(%d)", int(t))
}

// Temp is an hwmon temperature channel with its limits
type Temp struct {
	Type         TempType
	Current      units.Temperature
	Critical     *units.Temperature
	CriticalHyst *units.Temperature
	Emergency    *units.Temperature
}

func readTemp(hwmon string, t TempType) *Temp {
	prefix := fmt.Sprintf("temp%d_", int(t))
	cur := readMilliCelsius(filepath.Join(hwmon, prefix+"input"))
	if cur == nil {
		return nil
	}
	return &Temp{
		Type:         t,
		Current:      *cur,
		Critical:     readMilliCelsius(filepath.Join(hwmon, prefix+"crit")),
		CriticalHyst: readMilliCelsius(filepath.Join(hwmon, prefix+"crit_hyst")),
		Emergency:    readMilliCelsius(filepath.Join(hwmon, prefix+"emergency")),
	}
}

func readMilliCelsius(file string) *units.Temperature {
	v, err := device.ReadInt(file)
	if err != nil {
		return nil
	}
	return ptr.To(units.MilliCelsius(v))
}

// readPower reads a power1_* attribute in microwatts
func readPower(hwmon, name string) *units.Power {
	v, err := device.ReadUint(filepath.Join(hwmon, name))
	if err != nil {
		return nil
	}
	return ptr.To(units.Power(v) * units.MicroWatt)
}

// PowerCapType is the kind of limit reported by the power cap
type PowerCapType int

const (
	PPT PowerCapType = iota
	FastPPT
	SlowPPT
)

func (t PowerCapType) String() string {
	switch t {
	case FastPPT:
		return "fastPPT"
	case SlowPPT:
		return "slowPPT"
	}
	return "PPT"
}

// PowerCap is the power limit in watts
type PowerCap struct {
	Type    PowerCapType
	Current uint32
	Default uint32
	Min     uint32
	Max     uint32
}

func readPowerCap(hwmon string) *PowerCap {
	label, err := device.ReadString(filepath.Join(hwmon, "power1_label"))
	if err != nil {
		return nil
	}
	pc := &PowerCap{Type: PPT}
	switch label {
	case "fastPPT":
		pc.Type = FastPPT
	case "slowPPT":
		pc.Type = SlowPPT
	}

	// VanGogh reports the limits for fast/slow PPT on the second channel
	channel := "power1_"
	if pc.Type != PPT {
		channel = "power2_"
	}
	for _, f := range []struct {
		name string
		dst  *uint32
	}{
		{"cap", &pc.Current},
		{"cap_default", &pc.Default},
		{"cap_min", &pc.Min},
		{"cap_max", &pc.Max},
	} {
		v, err := device.ReadUint(filepath.Join(hwmon, channel+f.name))
		if err != nil {
			return nil
		}
		*f.dst = uint32(v / 1_000_000)
	}
	return pc
}

func readUint32(file string) *uint32 {
	v, err := device.ReadUint(file)
	if err != nil {
		return nil
	}
	return ptr.To(uint32(v))
}
