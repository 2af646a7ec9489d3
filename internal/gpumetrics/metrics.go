// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package gpumetrics decodes the gpu_metrics blob exported by the amdgpu
// power management firmware interface.
package gpumetrics

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
)

// Field is the name of a gpu_metrics member
type Field string

const (
	SystemClockCounter  Field = "system_clock_counter"
	TemperatureEdge     Field = "temperature_edge"
	TemperatureHotspot  Field = "temperature_hotspot"
	TemperatureMem      Field = "temperature_mem"
	TemperatureHBM      Field = "temperature_hbm"
	TemperatureGFX      Field = "temperature_gfx"
	TemperatureSoC      Field = "temperature_soc"
	TemperatureCore     Field = "temperature_core"
	TemperatureL3       Field = "temperature_l3"
	AverageGFXActivity  Field = "average_gfx_activity"
	AverageUMCActivity  Field = "average_umc_activity"
	AverageMMActivity   Field = "average_mm_activity"
	AverageVCNActivity  Field = "average_vcn_activity"
	VCNActivity         Field = "vcn_activity"
	AverageSocketPower  Field = "average_socket_power"
	EnergyAccumulator   Field = "energy_accumulator"
	AverageGFXClk       Field = "average_gfxclk_frequency"
	CurrentGFXClk       Field = "current_gfxclk"
	ThrottleStatus      Field = "throttle_status"
	IndepThrottleStatus Field = "indep_throttle_status"
	CurrentFanSpeed     Field = "current_fan_speed"
	PCIeLinkWidth       Field = "pcie_link_width"
	PCIeLinkSpeed       Field = "pcie_link_speed"
	VoltageSoC          Field = "voltage_soc"
	VoltageGFX          Field = "voltage_gfx"
	VoltageMem          Field = "voltage_mem"
)

const headerSize = 4

// Revision is the (format, content) pair of the metrics header
type Revision struct {
	Format  uint8
	Content uint8
}

func (r Revision) String() string {
	return fmt.Sprintf("v%d_%d", r.Format, r.Content)
}

// Header is struct metrics_table_header
type Header struct {
	StructureSize uint16
	Revision
}

// Metrics is a decoded blob: *V1, *V2, *V3 or Unknown. Every accessor
// reports absence for members missing from the revision, cut off by a short
// blob, or holding the all-ones "not available" value.
type Metrics interface {
	Header() Header
	// Value returns a scalar member
	Value(f Field) (uint64, bool)
	// Array returns the elements of an array member, nil for absent elements
	Array(f Field) []*uint64
	// Fields lists the members present in the blob in layout order
	Fields() []Field

	metrics()
}

// V1 is the dGPU layout family
type V1 struct{ table }

// V2 is the APU layout family. Temperatures are in centi-degrees and
// activities in centi-percent.
type V2 struct{ table }

// V3 is the APU layout introduced with Strix Point
type V3 struct{ table }

// Unknown is a blob with an unsupported revision
type Unknown struct{ header Header }

func (u Unknown) Header() Header           { return u.header }
func (Unknown) Value(Field) (uint64, bool) { return 0, false }
func (Unknown) Array(Field) []*uint64      { return nil }
func (Unknown) Fields() []Field            { return nil }
func (Unknown) metrics()                   {}

func (*V1) metrics() {}
func (*V2) metrics() {}
func (*V3) metrics() {}

type member struct {
	array bool
	elems []*uint64
}

type table struct {
	header  Header
	order   []Field
	members map[Field]member
}

func (t *table) Header() Header { return t.header }

func (t *table) Value(f Field) (uint64, bool) {
	m, ok := t.members[f]
	if !ok || m.array || len(m.elems) == 0 || m.elems[0] == nil {
		return 0, false
	}
	return *m.elems[0], true
}

func (t *table) Array(f Field) []*uint64 {
	m, ok := t.members[f]
	if !ok || !m.array {
		return nil
	}
	return m.elems
}

func (t *table) Fields() []Field {
	return t.order
}

// Decode parses a gpu_metrics blob. Blobs shorter than the header decode to
// Unknown with a zero header.
func Decode(blob []byte) Metrics {
	if len(blob) < headerSize {
		return Unknown{}
	}
	h := Header{
		StructureSize: binary.LittleEndian.Uint16(blob[0:2]),
		Revision:      Revision{Format: blob[2], Content: blob[3]},
	}
	layout, ok := layouts[h.Revision]
	if !ok {
		return Unknown{header: h}
	}

	t := decode(h, layout, blob)
	switch h.Format {
	case 1:
		return &V1{t}
	case 2:
		return &V2{t}
	default:
		return &V3{t}
	}
}

func decode(h Header, layout []field, blob []byte) table {
	limit := min(int(h.StructureSize), len(blob))
	t := table{header: h, members: make(map[Field]member, len(layout))}

	off := headerSize
	for _, f := range layout {
		// natural alignment
		if r := off % f.size; r != 0 {
			off += f.size - r
		}
		var elems []*uint64
		for range f.count {
			if off+f.size <= limit {
				elems = append(elems, readElem(blob[off:off+f.size]))
			}
			off += f.size
		}
		if f.name == "" || len(elems) == 0 {
			continue
		}
		t.order = append(t.order, f.name)
		t.members[f.name] = member{array: f.count > 1, elems: elems}
	}
	return t
}

// readElem returns nil for the all-ones sentinel of the element width
func readElem(b []byte) *uint64 {
	var v, sentinel uint64
	switch len(b) {
	case 1:
		v, sentinel = uint64(b[0]), 0xff
	case 2:
		v, sentinel = uint64(binary.LittleEndian.Uint16(b)), 0xffff
	case 4:
		v, sentinel = uint64(binary.LittleEndian.Uint32(b)), 0xffff_ffff
	default:
		v, sentinel = binary.LittleEndian.Uint64(b), ^uint64(0)
	}
	if v == sentinel {
		return nil
	}
	return &v
}

// Read loads <sysfs device>/gpu_metrics
func Read(path device.DevicePath) (Metrics, error) {
	blob, err := device.ReadAttr(filepath.Join(path.Sysfs, "gpu_metrics"))
	if err != nil {
		return nil, fmt.Errorf("failed to read gpu_metrics: %w", err)
	}
	return Decode(blob), nil
}

// Supported reports whether a revision has a known layout
func Supported(r Revision) bool {
	_, ok := layouts[r]
	return ok
}
