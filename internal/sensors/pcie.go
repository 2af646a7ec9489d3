// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
)

// Link is a PCIe link generation and lane count
type Link struct {
	Gen   uint8
	Width uint8
}

func (l Link) String() string {
	return fmt.Sprintf("Gen%dx%d", l.Gen, l.Width)
}

// transfer rate in GT/s of each PCIe generation
var linkGens = []struct {
	rate float64
	gen  uint8
}{
	{2.5, 1}, {5, 2}, {8, 3}, {16, 4}, {32, 5}, {64, 6},
}

// parseSpeed accepts "16.0 GT/s PCIe", "8 GT/s" and "8.0GT/s,"
func parseSpeed(s string) (uint8, bool) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if end > 0 {
		s = s[:end]
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	for _, g := range linkGens {
		if g.rate == rate {
			return g.gen, true
		}
	}
	return 0, false
}

func parseWidth(s string) (uint8, bool) {
	w, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "x"), 10, 8)
	if err != nil || w == 0 {
		return 0, false
	}
	return uint8(w), true
}

// readLink reads <dir>/<prefix>_link_speed and <dir>/<prefix>_link_width
func readLink(dir, prefix string) *Link {
	speed, err := device.ReadString(filepath.Join(dir, prefix+"_link_speed"))
	if err != nil {
		return nil
	}
	width, err := device.ReadString(filepath.Join(dir, prefix+"_link_width"))
	if err != nil {
		return nil
	}
	gen, ok := parseSpeed(speed)
	if !ok {
		return nil
	}
	w, ok := parseWidth(width)
	if !ok {
		return nil
	}
	return &Link{Gen: gen, Width: w}
}

// parseDPMLinks parses pp_dpm_pcie, e.g.
//
//	0: 2.5GT/s, x8 619Mhz
//	1: 16.0GT/s, x16 1000Mhz *
//
// and returns the lowest and highest levels.
func parseDPMLinks(content string) (lo, hi *Link) {
	s := bufio.NewScanner(strings.NewReader(content))
	for s.Scan() {
		_, level, ok := strings.Cut(s.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(level)
		if len(fields) < 2 {
			continue
		}
		gen, ok := parseSpeed(fields[0])
		if !ok {
			continue
		}
		width, ok := parseWidth(fields[1])
		if !ok {
			continue
		}
		if lo == nil {
			lo, hi = &Link{Gen: gen, Width: width}, &Link{Gen: gen, Width: width}
			continue
		}
		lo.Gen, lo.Width = min(lo.Gen, gen), min(lo.Width, width)
		hi.Gen, hi.Width = max(hi.Gen, gen), max(hi.Width, width)
	}
	return lo, hi
}
