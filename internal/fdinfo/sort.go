// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package fdinfo

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortType is the key used to order a process usage list
type SortType int

const (
	SortPID SortType = iota
	SortKFD
	SortVRAM
	SortGTT
	SortCPU
	SortGFX
	SortCompute
	SortDMA
	SortDecode
	SortEncode
	SortMedia
	SortVPE
	SortVCNU
)

// DefaultSort orders by VRAM usage
const DefaultSort = SortVRAM

var sortNames = map[SortType]string{
	SortPID:     "pid",
	SortKFD:     "kfd",
	SortVRAM:    "vram",
	SortGTT:     "gtt",
	SortCPU:     "cpu",
	SortGFX:     "gfx",
	SortCompute: "compute",
	SortDMA:     "dma",
	SortDecode:  "decode",
	SortEncode:  "encode",
	SortMedia:   "media",
	SortVPE:     "vpe",
	SortVCNU:    "vcnu",
}

func (s SortType) String() string {
	if name, ok := sortNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SortType(%d)", int(s))
}

// ParseSortType accepts the names returned by SortType.String
func ParseSortType(name string) (SortType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range sortNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown sort type: %q", name)
}

func (s SortType) key(p ProcUsage) uint64 {
	u := p.Usage
	switch s {
	case SortKFD:
		if p.IsKFD {
			return 1
		}
		return 0
	case SortVRAM:
		return u.VRAM
	case SortGTT:
		return u.GTT
	case SortCPU:
		return p.CPU
	case SortGFX:
		return u.GFX
	case SortCompute:
		return u.Compute
	case SortDMA:
		return u.DMA
	case SortDecode:
		return u.TotalDec
	case SortEncode:
		return u.TotalEnc
	case SortMedia:
		return u.Media
	case SortVPE:
		return u.VPE
	case SortVCNU:
		return u.VCNUnified
	}
	return 0
}

// Sort orders list in place. SortPID is ascending and every other key is
// descending; ties are broken by ascending pid. reverse yields the exact
// mirror of the unreversed order.
func Sort(list []ProcUsage, by SortType, reverse bool) {
	compare := func(a, b ProcUsage) int {
		if by != SortPID {
			if c := cmp.Compare(by.key(b), by.key(a)); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.PID, b.PID)
	}
	if reverse {
		slices.SortStableFunc(list, func(a, b ProcUsage) int { return compare(b, a) })
		return
	}
	slices.SortStableFunc(list, compare)
}
