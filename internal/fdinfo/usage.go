// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package fdinfo

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const (
	keyClientID = "drm-client-id"

	keyMemoryVRAM = "drm-memory-vram"
	keyMemoryGTT  = "drm-memory-gtt"
	keyMemoryCPU  = "drm-memory-cpu"

	keyEngineGFX     = "drm-engine-gfx"
	keyEngineCompute = "drm-engine-compute"
	keyEngineDMA     = "drm-engine-dma"
	keyEngineDec     = "drm-engine-dec"
	keyEngineEnc     = "drm-engine-enc"
	keyEngineEnc1    = "drm-engine-enc_1"
	keyEngineJPEG    = "drm-engine-jpeg"
	keyEngineVPE     = "drm-engine-vpe"

	keyEvictedVRAM   = "amd-evicted-vram"
	keyRequestedVRAM = "amd-requested-vram"
	keyRequestedGTT  = "amd-requested-gtt"
)

// RawUsage holds the cumulative counters of one or more drm clients.
// Memory is in bytes, engine time in nanoseconds since context creation.
type RawUsage struct {
	VRAM uint64
	GTT  uint64
	CPU  uint64

	EvictedVRAM   uint64
	RequestedVRAM uint64
	RequestedGTT  uint64

	GFX     uint64
	Compute uint64
	DMA     uint64
	Dec     uint64
	Enc     uint64
	Enc1    uint64
	JPEG    uint64
	VPE     uint64
}

func (r *RawUsage) add(o RawUsage) {
	r.VRAM += o.VRAM
	r.GTT += o.GTT
	r.CPU += o.CPU
	r.EvictedVRAM += o.EvictedVRAM
	r.RequestedVRAM += o.RequestedVRAM
	r.RequestedGTT += o.RequestedGTT
	r.GFX += o.GFX
	r.Compute += o.Compute
	r.DMA += o.DMA
	r.Dec += o.Dec
	r.Enc += o.Enc
	r.Enc1 += o.Enc1
	r.JPEG += o.JPEG
	r.VPE += o.VPE
}

// Usage is the per interval view of a RawUsage. Memory stays in bytes,
// engines are busy percentages of the interval.
type Usage struct {
	VRAM uint64
	GTT  uint64
	CPU  uint64

	EvictedVRAM   uint64
	RequestedVRAM uint64
	RequestedGTT  uint64

	GFX     uint64
	Compute uint64
	DMA     uint64
	Dec     uint64
	Enc     uint64
	Enc1    uint64
	JPEG    uint64
	VPE     uint64

	// unified media engine views, see Capabilities
	TotalDec   uint64
	TotalEnc   uint64
	Media      uint64
	VCNUnified uint64
}

// Add returns the element-wise sum of u and o
func (u Usage) Add(o Usage) Usage {
	u.VRAM += o.VRAM
	u.GTT += o.GTT
	u.CPU += o.CPU
	u.EvictedVRAM += o.EvictedVRAM
	u.RequestedVRAM += o.RequestedVRAM
	u.RequestedGTT += o.RequestedGTT
	u.GFX += o.GFX
	u.Compute += o.Compute
	u.DMA += o.DMA
	u.Dec += o.Dec
	u.Enc += o.Enc
	u.Enc1 += o.Enc1
	u.JPEG += o.JPEG
	u.VPE += o.VPE
	u.TotalDec += o.TotalDec
	u.TotalEnc += o.TotalEnc
	u.Media += o.Media
	u.VCNUnified += o.VCNUnified
	return u
}

// Parse reads an fdinfo file. Lines before the first drm-client-id are
// ignored. If the client id is already in seen, the remaining counters are
// skipped and ok is false; otherwise the id is added to seen.
func Parse(r io.Reader, seen map[string]struct{}) (usage RawUsage, clientID string, ok bool) {
	scanner := bufio.NewScanner(r)
	started := false
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		if !started {
			if key != keyClientID {
				continue
			}
			if _, dup := seen[value]; dup {
				return RawUsage{}, value, false
			}
			seen[value] = struct{}{}
			clientID = value
			started = true
			continue
		}

		switch key {
		case keyMemoryVRAM:
			usage.VRAM = parseBytes(value)
		case keyMemoryGTT:
			usage.GTT = parseBytes(value)
		case keyMemoryCPU:
			usage.CPU = parseBytes(value)
		case keyEvictedVRAM:
			usage.EvictedVRAM = parseBytes(value)
		case keyRequestedVRAM:
			usage.RequestedVRAM = parseBytes(value)
		case keyRequestedGTT:
			usage.RequestedGTT = parseBytes(value)
		case keyEngineGFX:
			usage.GFX = parseNanoseconds(value)
		case keyEngineCompute:
			usage.Compute = parseNanoseconds(value)
		case keyEngineDMA:
			usage.DMA = parseNanoseconds(value)
		case keyEngineDec:
			usage.Dec = parseNanoseconds(value)
		case keyEngineEnc:
			usage.Enc = parseNanoseconds(value)
		case keyEngineEnc1:
			usage.Enc1 = parseNanoseconds(value)
		case keyEngineJPEG:
			usage.JPEG = parseNanoseconds(value)
		case keyEngineVPE:
			usage.VPE = parseNanoseconds(value)
		}
	}
	return usage, clientID, started
}

// parseBytes parses "<n>", "<n> KiB", "<n> MiB" or "<n> GiB"; malformed values are 0
func parseBytes(value string) uint64 {
	num, unit, _ := strings.Cut(value, " ")
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0
	}
	switch strings.TrimSpace(unit) {
	case "KiB":
		return n << 10
	case "MiB":
		return n << 20
	case "GiB":
		return n << 30
	default:
		return n
	}
}

// parseNanoseconds parses "<n> ns"; malformed values are 0
func parseNanoseconds(value string) uint64 {
	num, _, _ := strings.Cut(value, " ")
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
