// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perfcounter

import "github.com/sustainable-computing-io/amdgpu-top/internal/device"

// Entry maps a status register bit to the functional block it reports
type Entry struct {
	Label string
	Bit   uint8
}

var grbmLegacy = []Entry{
	{"Graphics Pipe", 31},
	{"Texture Pipe", 14},
	{"Shader Export", 20},
	{"Shader Processor Interpolator", 22},
	{"Primitive Assembly", 25},
	{"Depth Block", 26},
	{"Color Block", 30},
	{"Vertex Grouper / Tessellator", 17},
	{"Input Assembly", 19},
	{"Work Distributor", 21},
}

var grbmGFX10 = []Entry{
	{"Graphics Pipe", 31},
	{"Texture Pipe", 14},
	{"Shader Export", 20},
	{"Shader Processor Interpolator", 22},
	{"Primitive Assembly", 25},
	{"Depth Block", 26},
	{"Color Block", 30},
	{"Geometry Engine", 21},
}

var grbm2Legacy = []Entry{
	{"RunList Controller", 24},
	{"Texture Cache", 25},
	{"Command Processor -  Fetcher", 28},
	{"Command Processor -  Compute", 29},
	{"Command Processor - Graphics", 30},
}

var grbm2GFX9 = []Entry{
	{"RunList Controller", 24},
	{"Texture Cache", 25},
	{"Unified Translation Cache Level-2", 15},
	{"Efficiency Arbiter", 16},
	{"Render Backend Memory Interface", 17},
	{"Command Processor -  Fetcher", 28},
	{"Command Processor -  Compute", 29},
	{"Command Processor - Graphics", 30},
}

var grbm2GFX10 = []Entry{
	{"RunList Controller", 24},
	{"Texture Cache per Pipe", 25},
	{"Unified Translation Cache Level-2", 15},
	{"Efficiency Arbiter", 16},
	{"Render Backend Memory Interface", 17},
	{"SDMA", 21},
	{"Command Processor -  Fetcher", 28},
	{"Command Processor -  Compute", 29},
	{"Command Processor - Graphics", 30},
}

var grbm2GFX10_3 = []Entry{
	{"RunList Controller", 26},
	{"Texture Cache per Pipe", 27},
	{"Unified Translation Cache Level-2", 15},
	{"Efficiency Arbiter", 16},
	{"Render Backend Memory Interface", 17},
	{"SDMA", 21},
	{"Command Processor -  Fetcher", 28},
	{"Command Processor -  Compute", 29},
	{"Command Processor - Graphics", 30},
}

var grbm2GFX12 = []Entry{
	{"RunList Controller", 26},
	{"Texture Cache per Pipe", 27},
	{"Unified Translation Cache Level-2", 15},
	{"Efficiency Arbiter", 16},
	{"SDMA", 21},
	{"Command Processor -  Fetcher", 28},
	{"Command Processor -  Compute", 29},
	{"Command Processor - Graphics", 30},
}

// Table returns the bit layout of a status register for a chip class
func Table(kind Kind, chip device.ChipClass) []Entry {
	switch kind {
	case GRBM:
		if chip >= device.GFX10 {
			return grbmGFX10
		}
		return grbmLegacy
	case GRBM2:
		switch {
		case chip >= device.GFX12:
			return grbm2GFX12
		case chip >= device.GFX10_3:
			return grbm2GFX10_3
		case chip >= device.GFX10:
			return grbm2GFX10
		case chip >= device.GFX9:
			return grbm2GFX9
		default:
			return grbm2Legacy
		}
	}
	return nil
}
