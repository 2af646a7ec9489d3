// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package fdinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pids(list []ProcUsage) []int {
	out := make([]int, len(list))
	for i, p := range list {
		out[i] = p.PID
	}
	return out
}

func TestSortByVRAM(t *testing.T) {
	const mib = 1 << 20
	list := []ProcUsage{
		{PID: 30, Name: "C", Usage: Usage{VRAM: 50 * mib}},
		{PID: 20, Name: "B", Usage: Usage{VRAM: 100 * mib}},
		{PID: 10, Name: "A", Usage: Usage{VRAM: 100 * mib}},
	}

	Sort(list, SortVRAM, false)
	assert.Equal(t, []int{10, 20, 30}, pids(list), "descending, ties by ascending pid, C last")

	Sort(list, SortVRAM, true)
	assert.Equal(t, []int{30, 20, 10}, pids(list), "reverse is ascending and mirrors the tie order")

	// the result does not depend on the input order
	list = []ProcUsage{list[1], list[2], list[0]}
	Sort(list, SortVRAM, false)
	assert.Equal(t, []int{10, 20, 30}, pids(list))
}

func TestSortKeys(t *testing.T) {
	list := []ProcUsage{
		{PID: 1, CPU: 5, IsKFD: true, Usage: Usage{GTT: 1, GFX: 9, Compute: 1, DMA: 3, TotalDec: 2, TotalEnc: 7, Media: 1, VPE: 4, VCNUnified: 0}},
		{PID: 2, CPU: 50, Usage: Usage{GTT: 3, GFX: 1, Compute: 8, DMA: 2, TotalDec: 9, TotalEnc: 1, Media: 5, VPE: 0, VCNUnified: 6}},
		{PID: 3, CPU: 20, Usage: Usage{GTT: 2, GFX: 5, Compute: 0, DMA: 9, TotalDec: 0, TotalEnc: 4, Media: 9, VPE: 8, VCNUnified: 3}},
	}

	tt := []struct {
		by   SortType
		want []int
	}{
		{SortPID, []int{1, 2, 3}},
		{SortKFD, []int{1, 2, 3}},
		{SortGTT, []int{2, 3, 1}},
		{SortCPU, []int{2, 3, 1}},
		{SortGFX, []int{1, 3, 2}},
		{SortCompute, []int{2, 1, 3}},
		{SortDMA, []int{3, 1, 2}},
		{SortDecode, []int{2, 1, 3}},
		{SortEncode, []int{1, 3, 2}},
		{SortMedia, []int{3, 2, 1}},
		{SortVPE, []int{3, 1, 2}},
		{SortVCNU, []int{2, 3, 1}},
	}
	for _, tc := range tt {
		t.Run(tc.by.String(), func(t *testing.T) {
			Sort(list, tc.by, false)
			assert.Equal(t, tc.want, pids(list))

			Sort(list, tc.by, true)
			reversed := make([]int, len(tc.want))
			for i, p := range tc.want {
				reversed[len(tc.want)-1-i] = p
			}
			assert.Equal(t, reversed, pids(list))
		})
	}
}

func TestParseSortType(t *testing.T) {
	for s := range sortNames {
		got, err := ParseSortType(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseSortType(" VRAM ")
	require.NoError(t, err)
	assert.Equal(t, SortVRAM, got)

	_, err = ParseSortType("power")
	assert.Error(t, err)
}
