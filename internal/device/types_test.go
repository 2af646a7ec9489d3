// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChipClass(t *testing.T) {
	tt := []struct {
		name string
		info Info
		want ChipClass
	}{
		{"tahiti", Info{Family: FamilySI}, GFX6},
		{"polaris", Info{Family: FamilyVI}, GFX8},
		{"vega", Info{Family: FamilyAI}, GFX9},
		{"raven", Info{Family: FamilyRV, ExternalRev: 0x01}, GFX9},
		{"navi10", Info{Family: FamilyNV, ExternalRev: 0x01}, GFX10},
		{"navi21", Info{Family: FamilyNV, ExternalRev: 0x28}, GFX10_3},
		{"van gogh", Info{Family: FamilyVGH}, GFX10_3},
		{"navi31", Info{Family: FamilyGC11_0_0}, GFX11},
		{"strix", Info{Family: FamilyGC11_5_0}, GFX11},
		{"navi48", Info{Family: FamilyGC12_0_0}, GFX12},
		{"unknown", Info{Family: 1}, ChipClassUnknown},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.info.ChipClass())
		})
	}
	assert.Equal(t, "GFX10_3", GFX10_3.String())
}

func TestRavenDetection(t *testing.T) {
	raven := Info{Family: FamilyRV, ExternalRev: 0x41}
	assert.True(t, raven.IsRaven())
	assert.False(t, raven.IsRaven2())

	raven2 := Info{Family: FamilyRV, ExternalRev: 0x81}
	assert.False(t, raven2.IsRaven())
	assert.True(t, raven2.IsRaven2())

	renoir := Info{Family: FamilyRV, ExternalRev: 0x91}
	assert.False(t, renoir.IsRaven())
	assert.False(t, renoir.IsRaven2())

	navi := Info{Family: FamilyNV, ExternalRev: 0x41}
	assert.False(t, navi.IsRaven())
}

func TestParseDevInfo(t *testing.T) {
	buf := make([]byte, devInfoSize)
	ne := binary.NativeEndian
	ne.PutUint32(buf[0:], 0x744c)
	ne.PutUint32(buf[8:], 0x50)
	ne.PutUint32(buf[16:], uint32(FamilyGC11_0_0))
	ne.PutUint64(buf[32:], 2_500_000)
	ne.PutUint64(buf[136:], idsFlagsFusion)

	info := parseDevInfo(buf)
	assert.Equal(t, uint32(0x744c), info.DeviceID)
	assert.Equal(t, uint32(0x50), info.ExternalRev)
	assert.Equal(t, GFX11, info.ChipClass())
	assert.Equal(t, uint64(2_500_000), info.MaxEngineClockKHz)
	assert.True(t, info.IsAPU())
}

func TestFakeHandle(t *testing.T) {
	h := NewFakeHandle(Info{Family: FamilyNV},
		WithFakeRegister(0x2004, SequenceRegister(1, 2)),
		WithFakeSensor(SensorGFXSclk, 2100),
	)

	v, err := h.ReadRegister(0x2004)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)
	v, _ = h.ReadRegister(0x2004)
	assert.Equal(t, uint32(2), v)
	v, _ = h.ReadRegister(0x2004)
	assert.Equal(t, uint32(2), v, "last value repeats")
	assert.Equal(t, 3, h.Reads())

	_, err = h.ReadRegister(0x2002)
	assert.Error(t, err)

	sclk, err := h.QuerySensor(SensorGFXSclk)
	require.NoError(t, err)
	assert.Equal(t, uint32(2100), sclk)

	require.NoError(t, h.Close())
	assert.True(t, h.Closed())
	_, err = h.ReadRegister(0x2004)
	assert.Error(t, err)
}
