// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package units

import (
	"fmt"
	"strconv"
)

// Unit is the label attached to a reported value
type Unit string

const (
	MiB     Unit = "MiB"
	MHz     Unit = "MHz"
	Percent Unit = "%"
	W       Unit = "W"
	RPM     Unit = "RPM"
	C       Unit = "C"
	MV      Unit = "mV"
	J       Unit = "J"
)

// Value is a number tagged with its unit. It marshals as {"value":x,"unit":"..."}.
type Value struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  Unit    `json:"unit" yaml:"unit"`
}

// NewValue is a convenience for Value{v, u} from any integer or float
func NewValue[T ~int | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float64](v T, u Unit) Value {
	return Value{Value: float64(v), Unit: u}
}

// Bytes reports a byte count in MiB
func Bytes(b uint64) Value {
	return Value{Value: float64(b >> 20), Unit: MiB}
}

// Watts reports p in W
func Watts(p Power) Value {
	return Value{Value: p.Watts(), Unit: W}
}

// Joules reports e in J, rounded to millijoules
func Joules(e Energy) Value {
	return Value{Value: float64(e/1000) / 1000, Unit: J}
}

// Optional returns nil for an absent value
func Optional[T ~int | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float64](v *T, u Unit) *Value {
	if v == nil {
		return nil
	}
	val := NewValue(*v, u)
	return &val
}

func (v Value) String() string {
	return fmt.Sprintf("%s %s", strconv.FormatFloat(v.Value, 'f', -1, 64), v.Unit)
}
