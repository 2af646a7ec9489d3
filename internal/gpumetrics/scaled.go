// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpumetrics

import "github.com/sustainable-computing-io/amdgpu-top/internal/units"

// Temperature returns a scalar temperature in degrees Celsius
func (v *V2) Temperature(f Field) (uint64, bool) {
	return centi(v.Value(f))
}

// Temperatures returns a temperature array in degrees Celsius
func (v *V2) Temperatures(f Field) []*uint64 {
	return centiArray(v.Array(f))
}

// Temperature returns a scalar temperature in degrees Celsius
func (v *V3) Temperature(f Field) (uint64, bool) {
	return centi(v.Value(f))
}

// Temperatures returns a temperature array in degrees Celsius
func (v *V3) Temperatures(f Field) []*uint64 {
	return centiArray(v.Array(f))
}

// HBMTemperature is reported only when every stack has a valid reading
func (v *V1) HBMTemperature() ([]uint64, bool) {
	elems := v.Array(TemperatureHBM)
	if len(elems) != numHBM {
		return nil, false
	}
	out := make([]uint64, 0, numHBM)
	for _, e := range elems {
		if e == nil {
			return nil, false
		}
		out = append(out, *e/1000)
	}
	return out, true
}

// Energy is the energy_accumulator of the dGPU layouts. APU layouts do not
// carry one.
func Energy(m Metrics) (units.Energy, bool) {
	v1, ok := m.(*V1)
	if !ok {
		return 0, false
	}
	ticks, ok := v1.Value(EnergyAccumulator)
	if !ok {
		return 0, false
	}
	return units.FromEnergyAccumulator(ticks), true
}

func centi(v uint64, ok bool) (uint64, bool) {
	return v / 100, ok
}

func centiArray(elems []*uint64) []*uint64 {
	if elems == nil {
		return nil
	}
	out := make([]*uint64, len(elems))
	for i, e := range elems {
		if e != nil {
			v := *e / 100
			out[i] = &v
		}
	}
	return out
}
