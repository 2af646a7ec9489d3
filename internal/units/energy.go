// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package units

import (
	"fmt"
)

// Energy is a cumulative amount of energy in microjoules
type Energy uint64

const (
	MicroJoule Energy = 1
	Joule      Energy = 1_000_000 * MicroJoule
)

// the SMU energy accumulator counts in steps of 15.259 µJ
const accumulatorStepNanoJoules = 15_259

// FromEnergyAccumulator converts a gpu_metrics energy_accumulator reading.
// The split keeps ticks*15259 from overflowing for any realistic counter.
func FromEnergyAccumulator(ticks uint64) Energy {
	whole := ticks / 1000 * accumulatorStepNanoJoules
	rest := ticks % 1000 * accumulatorStepNanoJoules / 1000
	return Energy(whole + rest)
}

// Joules returns e in J
func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

// Power is an instantaneous or averaged power in microwatts. hwmon reports
// microwatts and the sensor ioctl whole watts.
type Power float64

const (
	MicroWatt Power = 1.0
	Watt      Power = 1_000_000 * MicroWatt
)

// Watts returns p in W
func (p Power) Watts() float64 {
	return float64(p / Watt)
}

// Temperature in degrees Celsius
type Temperature int64

// MilliCelsius converts a hwmon style milli degree reading, truncating toward zero
func MilliCelsius(v int64) Temperature {
	return Temperature(v / 1000)
}

func (t Temperature) String() string {
	return fmt.Sprintf("%dC", int64(t))
}
