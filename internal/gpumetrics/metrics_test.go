// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpumetrics

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
)

func blob(t *testing.T, rev Revision, values map[Field][]uint64) []byte {
	t.Helper()
	b, err := Encode(rev, values)
	require.NoError(t, err)
	return b
}

func TestLayoutSizes(t *testing.T) {
	// sizeof(struct gpu_metrics_vX_Y) with natural alignment
	tt := []struct {
		rev  Revision
		size int
	}{
		{Revision{1, 0}, 80},
		{Revision{1, 1}, 96},
		{Revision{1, 2}, 104},
		{Revision{1, 3}, 120},
		{Revision{2, 0}, 120},
	}
	for _, tc := range tt {
		assert.Equal(t, tc.size, layoutSize(layouts[tc.rev]), tc.rev.String())
	}
}

// TestDecode_V1_0Alignment checks that the u64 after the header is aligned
func TestDecode_V1_0Alignment(t *testing.T) {
	b := make([]byte, 80)
	binary.LittleEndian.PutUint16(b[0:2], 80)
	b[2], b[3] = 1, 0
	binary.LittleEndian.PutUint64(b[8:16], 123456789)
	// temperature_edge
	binary.LittleEndian.PutUint16(b[16:18], 45)
	// energy_accumulator is aligned after average_socket_power
	binary.LittleEndian.PutUint32(b[36:40], 777)
	b[74], b[75] = 16, 160

	m := Decode(b)
	require.IsType(t, &V1{}, m)

	v, ok := m.Value(SystemClockCounter)
	require.True(t, ok)
	assert.Equal(t, uint64(123456789), v)
	v, _ = m.Value(TemperatureEdge)
	assert.Equal(t, uint64(45), v)
	v, _ = m.Value(EnergyAccumulator)
	assert.Equal(t, uint64(777), v)
	v, _ = m.Value(PCIeLinkWidth)
	assert.Equal(t, uint64(16), v)
	v, _ = m.Value(PCIeLinkSpeed)
	assert.Equal(t, uint64(160), v)
}

func TestDecode_Sentinel(t *testing.T) {
	m := Decode(blob(t, Revision{1, 3}, map[Field][]uint64{
		AverageGFXClk:   {0xffff},
		CurrentGFXClk:   {1200},
		VoltageGFX:      {850},
		TemperatureEdge: {0},
	}))
	require.IsType(t, &V1{}, m)
	assert.Equal(t, Revision{1, 3}, m.Header().Revision)

	_, ok := m.Value(AverageGFXClk)
	assert.False(t, ok, "all ones is not available")

	v, ok := m.Value(CurrentGFXClk)
	assert.True(t, ok)
	assert.Equal(t, uint64(1200), v)

	v, ok = m.Value(VoltageGFX)
	assert.True(t, ok)
	assert.Equal(t, uint64(850), v)

	v, ok = m.Value(TemperatureEdge)
	assert.True(t, ok, "zero is a value")
	assert.Zero(t, v)
}

func TestDecode_V1_4(t *testing.T) {
	m := Decode(blob(t, Revision{1, 4}, map[Field][]uint64{
		AverageGFXClk:      {0xffff},
		TemperatureHotspot: {61},
		VCNActivity:        {10, 0xffff, 30},
		CurrentGFXClk:      {2100, 2000},
		EnergyAccumulator:  {1 << 40},
	}))
	require.IsType(t, &V1{}, m)

	_, ok := m.Value(AverageGFXClk)
	assert.False(t, ok, "v1_4 has no average gfxclk")

	v, ok := m.Value(TemperatureHotspot)
	assert.True(t, ok)
	assert.Equal(t, uint64(61), v)

	vcn := m.Array(VCNActivity)
	require.Len(t, vcn, numVCN)
	assert.Equal(t, uint64(10), *vcn[0])
	assert.Nil(t, vcn[1])
	assert.Equal(t, uint64(30), *vcn[2])
	assert.Nil(t, vcn[3])

	_, ok = m.Value(VCNActivity)
	assert.False(t, ok, "arrays are not scalars")
	assert.Nil(t, m.Array(TemperatureHotspot), "scalars are not arrays")

	clk := m.Array(CurrentGFXClk)
	require.Len(t, clk, maxGFXClks)
	assert.Equal(t, uint64(2100), *clk[0])

	v, _ = m.Value(EnergyAccumulator)
	assert.Equal(t, uint64(1<<40), v)
}

// TestDecode_AllOnes checks every accessor of every known revision on an
// all-ones blob
func TestDecode_AllOnes(t *testing.T) {
	for rev, layout := range layouts {
		t.Run(rev.String(), func(t *testing.T) {
			m := Decode(blob(t, rev, nil))
			assert.Equal(t, rev, m.Header().Revision)
			assert.NotEmpty(t, m.Fields())

			for _, f := range layout {
				if f.name == "" {
					continue
				}
				_, ok := m.Value(f.name)
				assert.False(t, ok, f.name)
				for i, e := range m.Array(f.name) {
					assert.Nil(t, e, "%s[%d]", f.name, i)
				}
			}
		})
	}
}

func TestDecode_Unknown(t *testing.T) {
	b := blob(t, Revision{1, 3}, map[Field][]uint64{CurrentGFXClk: {1200}})
	b[2], b[3] = 9, 9

	m := Decode(b)
	require.IsType(t, Unknown{}, m)
	assert.Equal(t, Revision{9, 9}, m.Header().Revision)
	assert.False(t, Supported(m.Header().Revision))
	_, ok := m.Value(CurrentGFXClk)
	assert.False(t, ok)
	assert.Nil(t, m.Array(TemperatureHBM))
	assert.Empty(t, m.Fields())

	assert.IsType(t, Unknown{}, Decode([]byte{1, 2}), "shorter than the header")
	assert.IsType(t, Unknown{}, Decode(nil))
}

func TestDecode_Truncated(t *testing.T) {
	full := blob(t, Revision{1, 1}, map[Field][]uint64{
		TemperatureEdge: {40},
		TemperatureHBM:  {50000, 51000, 52000, 53000},
	})

	// the blob ends inside temperature_hbm
	m := Decode(full[:92])
	v, ok := m.Value(TemperatureEdge)
	assert.True(t, ok)
	assert.Equal(t, uint64(40), v)
	assert.Len(t, m.Array(TemperatureHBM), 2)

	// structure_size shorter than the blob wins
	binary.LittleEndian.PutUint16(full[0:2], 88)
	m = Decode(full)
	assert.Nil(t, m.Array(TemperatureHBM))
	assert.NotContains(t, m.Fields(), TemperatureHBM)
}

func TestHBMTemperature(t *testing.T) {
	m := Decode(blob(t, Revision{1, 3}, map[Field][]uint64{
		TemperatureHBM: {50000, 51000, 52999, 53000},
	}))
	hbm, ok := m.(*V1).HBMTemperature()
	require.True(t, ok)
	assert.Equal(t, []uint64{50, 51, 52, 53}, hbm)

	m = Decode(blob(t, Revision{1, 3}, map[Field][]uint64{
		TemperatureHBM: {50000, 0xffff, 52000, 53000},
	}))
	_, ok = m.(*V1).HBMTemperature()
	assert.False(t, ok, "one missing stack hides the whole array")

	m = Decode(blob(t, Revision{1, 0}, nil))
	_, ok = m.(*V1).HBMTemperature()
	assert.False(t, ok)
}

func TestScaledTemperatures(t *testing.T) {
	m := Decode(blob(t, Revision{2, 1}, map[Field][]uint64{
		TemperatureGFX:     {4512},
		TemperatureCore:    {5000, 0xffff, 6099},
		AverageGFXActivity: {2550},
	}))
	v2, ok := m.(*V2)
	require.True(t, ok)

	temp, ok := v2.Temperature(TemperatureGFX)
	assert.True(t, ok)
	assert.Equal(t, uint64(45), temp)

	cores := v2.Temperatures(TemperatureCore)
	require.Len(t, cores, numCoresV2)
	assert.Equal(t, uint64(50), *cores[0])
	assert.Nil(t, cores[1])
	assert.Equal(t, uint64(60), *cores[2])

	_, ok = v2.Temperature(TemperatureSoC)
	assert.False(t, ok)
	assert.Nil(t, v2.Temperatures(TemperatureL3+"_missing"))

	v3 := Decode(blob(t, Revision{3, 0}, map[Field][]uint64{
		TemperatureCore:    {4000},
		AverageVCNActivity: {12},
	})).(*V3)
	assert.Len(t, v3.Temperatures(TemperatureCore), numCoresV3)
	assert.Equal(t, uint64(40), *v3.Temperatures(TemperatureCore)[0])
	act, ok := v3.Value(AverageVCNActivity)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), act)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	path := device.DevicePath{Sysfs: dir}

	_, err := Read(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gpu_metrics"),
		blob(t, Revision{2, 2}, map[Field][]uint64{CurrentGFXClk: {600}}), 0o444))
	m, err := Read(path)
	require.NoError(t, err)
	require.IsType(t, &V2{}, m)
	v, ok := m.Value(CurrentGFXClk)
	assert.True(t, ok)
	assert.Equal(t, uint64(600), v)
}

func TestEncode_Unknown(t *testing.T) {
	_, err := Encode(Revision{9, 9}, nil)
	assert.ErrorContains(t, err, "v9_9")
}

func TestEnergy(t *testing.T) {
	for _, rev := range []Revision{{1, 0}, {1, 3}, {1, 4}} {
		m := Decode(blob(t, rev, map[Field][]uint64{EnergyAccumulator: {2000}}))
		e, ok := Energy(m)
		require.True(t, ok, rev)
		assert.Equal(t, units.Energy(30_518), e, rev)
	}

	_, ok := Energy(Decode(blob(t, Revision{1, 4}, nil)))
	assert.False(t, ok, "all ones is not available")

	_, ok = Energy(Decode(blob(t, Revision{2, 1}, nil)))
	assert.False(t, ok, "APU layouts have no accumulator")

	_, ok = Energy(Unknown{})
	assert.False(t, ok)
}
