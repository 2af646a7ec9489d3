// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
)

// CPUFreq is the frequency of one physical core in MHz
type CPUFreq struct {
	CoreID   uint32
	ThreadID uint32
	Min      uint32
	Cur      uint32
	Max      uint32
}

// findK10temp returns the temp1_input of the k10temp hwmon, the Tctl of AMD CPUs
func findK10temp(sysfs string) string {
	dirs, err := filepath.Glob(filepath.Join(sysfs, "class", "hwmon", "hwmon*"))
	if err != nil {
		return ""
	}
	slices.Sort(dirs)
	for _, dir := range dirs {
		name, err := device.ReadString(filepath.Join(dir, "name"))
		if err == nil && name == "k10temp" {
			return filepath.Join(dir, "temp1_input")
		}
	}
	return ""
}

func cpuDir(sysfs string, thread uint32) string {
	return filepath.Join(sysfs, "devices", "system", "cpu", fmt.Sprintf("cpu%d", thread))
}

// cpuCores lists one thread per physical core, stopping at the first missing cpu
func cpuCores(sysfs string) []CPUFreq {
	var cores []CPUFreq
	seen := map[uint32]bool{}
	for thread := uint32(0); ; thread++ {
		dir := cpuDir(sysfs, thread)
		if _, err := os.Stat(dir); err != nil {
			break
		}
		coreID, err := device.ReadUint(filepath.Join(dir, "topology", "core_id"))
		if err != nil || seen[uint32(coreID)] {
			continue
		}
		f := CPUFreq{CoreID: uint32(coreID), ThreadID: thread}
		if !readCPUFreq(sysfs, &f) {
			continue
		}
		seen[f.CoreID] = true
		cores = append(cores, f)
	}
	return cores
}

// readCPUFreq refreshes min, cur and max from cpufreq, converting kHz to MHz
func readCPUFreq(sysfs string, f *CPUFreq) bool {
	dir := filepath.Join(cpuDir(sysfs, f.ThreadID), "cpufreq")
	for _, v := range []struct {
		name string
		dst  *uint32
	}{
		{"scaling_min_freq", &f.Min},
		{"scaling_cur_freq", &f.Cur},
		{"scaling_max_freq", &f.Max},
	} {
		khz, err := device.ReadUint(filepath.Join(dir, v.name))
		if err != nil {
			return false
		}
		*v.dst = uint32(khz / 1000)
	}
	return true
}
