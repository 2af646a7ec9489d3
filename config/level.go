// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Level selects the metric groups exported, one bit per group
type Level uint32

const (
	MetricsLevelDevice      Level = 1 << iota // 1: activity, memory, power state
	MetricsLevelProcess                       // 2: per process fdinfo usage
	MetricsLevelSensor                        // 4: hwmon, link and bandwidth
	MetricsLevelPerfCounter                   // 8: GRBM and GRBM2 busy bits
	MetricsLevelGPUMetrics                    // 16: decoded gpu_metrics fields

	// MetricsLevelAll represents all metric levels combined
	MetricsLevelAll = MetricsLevelDevice | MetricsLevelProcess | MetricsLevelSensor | MetricsLevelPerfCounter | MetricsLevelGPUMetrics
)

var levelNames = []struct {
	level Level
	name  string
}{
	{MetricsLevelDevice, "device"},
	{MetricsLevelProcess, "process"},
	{MetricsLevelSensor, "sensor"},
	{MetricsLevelPerfCounter, "perfcounter"},
	{MetricsLevelGPUMetrics, "gpumetrics"},
}

func (l Level) names() []string {
	var names []string
	for _, ln := range levelNames {
		if l&ln.level != 0 {
			names = append(names, ln.name)
		}
	}
	return names
}

func (l Level) String() string {
	return strings.Join(l.names(), ",")
}

func (l Level) IsDeviceEnabled() bool {
	return l&MetricsLevelDevice != 0
}

func (l Level) IsProcessEnabled() bool {
	return l&MetricsLevelProcess != 0
}

func (l Level) IsSensorEnabled() bool {
	return l&MetricsLevelSensor != 0
}

func (l Level) IsPerfCounterEnabled() bool {
	return l&MetricsLevelPerfCounter != 0
}

func (l Level) IsGPUMetricsEnabled() bool {
	return l&MetricsLevelGPUMetrics != 0
}

// ParseLevel parses a slice of strings into a Level; an empty slice means all
func ParseLevel(levels []string) (Level, error) {
	if len(levels) == 0 {
		return MetricsLevelAll, nil
	}

	var result Level
	for _, level := range levels {
		name := strings.ToLower(strings.TrimSpace(level))
		found := false
		for _, ln := range levelNames {
			if ln.name == name {
				result |= ln.level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown metrics level: %s", level)
		}
	}

	return result, nil
}

// ValidLevels returns the list of valid metrics levels
func ValidLevels() []string {
	return MetricsLevelAll.names()
}

// MarshalYAML emits a single string for one level and a list otherwise
func (l Level) MarshalYAML() (interface{}, error) {
	names := l.names()
	if len(names) == 1 {
		return names[0], nil
	}
	return names, nil
}

// UnmarshalYAML accepts either a string or a list of strings
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, parseErr := ParseLevel([]string{single})
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, parseErr := ParseLevel(multiple)
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal metrics level: must be a string or array of strings")
}
