// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/amdgpu-top/config"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
)

type StatProvider = monitor.StatProvider

// these labels should remain the same across all descriptors to ease querying
const (
	deviceLabel = "device"
	pidLabel    = "pid"
	commLabel   = "comm"
)

// GPUCollector exports the latest monitor snapshot. All metrics of a scrape
// come from the same snapshot.
type GPUCollector struct {
	pm           StatProvider
	logger       *slog.Logger
	metricsLevel config.Level

	mutex sync.RWMutex
	ready bool

	// device
	deviceInfo        *prometheus.Desc
	devicePowerState  *prometheus.Desc
	deviceActivity    *prometheus.Desc
	deviceMemoryUsed  *prometheus.Desc
	deviceMemoryTotal *prometheus.Desc
	deviceEngineUsage *prometheus.Desc
	deviceClients     *prometheus.Desc
	deviceEnergy      *prometheus.Desc

	// process
	processMemory      *prometheus.Desc
	processEngineUsage *prometheus.Desc
	processCPUUsage    *prometheus.Desc
	processDRMClients  *prometheus.Desc

	// sensor
	sensorClock         *prometheus.Desc
	sensorVoltage       *prometheus.Desc
	sensorTemperature   *prometheus.Desc
	sensorTempCritical  *prometheus.Desc
	sensorPower         *prometheus.Desc
	sensorPowerCap      *prometheus.Desc
	sensorFanSpeed      *prometheus.Desc
	sensorFanMaxSpeed   *prometheus.Desc
	sensorLinkGen       *prometheus.Desc
	sensorLinkWidth     *prometheus.Desc
	sensorPCIPowerState *prometheus.Desc
	sensorPCIeBandwidth *prometheus.Desc
	sensorCPUFrequency  *prometheus.Desc
	sensorGfxoff        *prometheus.Desc

	perfCounterBusy *prometheus.Desc

	gpuMetricsValue *prometheus.Desc
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(amdgpuNS, subsystem, name),
		help,
		append([]string{deviceLabel}, labels...),
		nil,
	)
}

// NewGPUCollector creates a collector over the device monitor
func NewGPUCollector(pm StatProvider, logger *slog.Logger, metricsLevel config.Level) *GPUCollector {
	c := &GPUCollector{
		pm:           pm,
		logger:       logger.With("collector", "gpu"),
		metricsLevel: metricsLevel,

		deviceInfo: desc("device", "info", "Device identification with a constant '1' value",
			"name", "device_id", "revision", "family", "chip_class", "apu"),
		devicePowerState: desc("device", "power_state",
			"Whether the device handle is open (1) or released to let the device suspend", "state"),
		deviceActivity: desc("device", "activity_ratio",
			"Busy ratio of a functional block from gpu_metrics or sysfs", "block"),
		deviceMemoryUsed:  desc("device", "memory_used_bytes", "Memory used in a heap", "heap"),
		deviceMemoryTotal: desc("device", "memory_total_bytes", "Total size of a heap", "heap"),
		deviceEngineUsage: desc("device", "engine_usage_ratio",
			"Engine usage summed over all processes, may exceed 1 for multi instance engines", "engine"),
		deviceClients: desc("device", "processes", "Number of processes using the device"),
		deviceEnergy: desc("device", "energy_joules_total",
			"Energy consumed by the device as counted by the SMU energy accumulator"),

		processMemory: desc("process", "memory_bytes", "Memory used by a process",
			pidLabel, commLabel, "type"),
		processEngineUsage: desc("process", "engine_usage_ratio", "Engine usage of a process over the last interval",
			pidLabel, commLabel, "engine"),
		processCPUUsage: desc("process", "cpu_usage_ratio", "CPU usage of a process over the last interval",
			pidLabel, commLabel),
		processDRMClients: desc("process", "drm_clients", "Number of distinct DRM clients held by a process",
			pidLabel, commLabel, "kfd"),

		sensorClock:         desc("sensor", "clock_hertz", "Current clock frequency", "clock"),
		sensorVoltage:       desc("sensor", "voltage_volts", "Current voltage", "rail"),
		sensorTemperature:   desc("sensor", "temperature_celsius", "Current temperature", "sensor"),
		sensorTempCritical:  desc("sensor", "temperature_critical_celsius", "Critical temperature limit", "sensor"),
		sensorPower:         desc("sensor", "power_watts", "Power consumption", "type"),
		sensorPowerCap:      desc("sensor", "power_cap_watts", "Power limit", "type", "limit"),
		sensorFanSpeed:      desc("sensor", "fan_speed_rpm", "Fan speed"),
		sensorFanMaxSpeed:   desc("sensor", "fan_max_speed_rpm", "Maximum fan speed"),
		sensorLinkGen:       desc("sensor", "pcie_link_generation", "PCIe link generation", "link"),
		sensorLinkWidth:     desc("sensor", "pcie_link_width", "PCIe link lane count", "link"),
		sensorPCIPowerState: desc("sensor", "pci_power_state", "PCI power state with a constant '1' value", "state"),
		sensorPCIeBandwidth: desc("sensor", "pcie_bandwidth_bytes_per_second",
			"Approximate PCIe throughput over the last second", "direction"),
		sensorCPUFrequency: desc("sensor", "cpu_frequency_hertz", "Current frequency of an APU CPU core", "core"),
		sensorGfxoff:       desc("sensor", "gfxoff_info", "GFXOFF mode and status with a constant '1' value", "mode", "status"),

		perfCounterBusy: desc("perfcounter", "busy_ratio",
			"Ratio of register reads with the block busy bit set during the last window", "counter", "block"),

		gpuMetricsValue: desc("gpu_metrics", "value", "Raw gpu_metrics member value",
			"revision", "field", "index"),
	}

	go c.waitForData()

	return c
}

func (c *GPUCollector) waitForData() {
	<-c.pm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *GPUCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *GPUCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.metricsLevel.IsDeviceEnabled() {
		ch <- c.deviceInfo
		ch <- c.devicePowerState
		ch <- c.deviceActivity
		ch <- c.deviceMemoryUsed
		ch <- c.deviceMemoryTotal
		ch <- c.deviceEngineUsage
		ch <- c.deviceClients
		ch <- c.deviceEnergy
	}

	if c.metricsLevel.IsProcessEnabled() {
		ch <- c.processMemory
		ch <- c.processEngineUsage
		ch <- c.processCPUUsage
		ch <- c.processDRMClients
	}

	if c.metricsLevel.IsSensorEnabled() {
		ch <- c.sensorClock
		ch <- c.sensorVoltage
		ch <- c.sensorTemperature
		ch <- c.sensorTempCritical
		ch <- c.sensorPower
		ch <- c.sensorPowerCap
		ch <- c.sensorFanSpeed
		ch <- c.sensorFanMaxSpeed
		ch <- c.sensorLinkGen
		ch <- c.sensorLinkWidth
		ch <- c.sensorPCIPowerState
		ch <- c.sensorPCIeBandwidth
		ch <- c.sensorCPUFrequency
		ch <- c.sensorGfxoff
	}

	if c.metricsLevel.IsPerfCounterEnabled() {
		ch <- c.perfCounterBusy
	}

	if c.metricsLevel.IsGPUMetricsEnabled() {
		ch <- c.gpuMetricsValue
	}
}

// Collect implements the prometheus.Collector interface
func (c *GPUCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	started := time.Now()
	defer func() {
		c.logger.Debug("Collected gpu data", "duration", time.Since(started))
	}()

	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect gpu data", "error", err)
		return
	}

	for _, stat := range snapshot.Devices {
		if c.metricsLevel.IsDeviceEnabled() {
			c.collectDeviceMetrics(ch, stat)
		}
		if c.metricsLevel.IsProcessEnabled() {
			c.collectProcessMetrics(ch, stat)
		}
		if c.metricsLevel.IsSensorEnabled() {
			c.collectSensorMetrics(ch, stat)
		}
		if c.metricsLevel.IsPerfCounterEnabled() {
			c.collectPerfCounterMetrics(ch, stat)
		}
		if c.metricsLevel.IsGPUMetricsEnabled() {
			c.collectGPUMetrics(ch, stat)
		}
	}
}

func percentRatio[T ~uint8 | ~uint16 | ~uint64](v T) float64 {
	return float64(v) / 100
}
