// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
)

type namedValue struct {
	name  string
	value uint64
}

// engines lists the engine percentages of a usage, with the unified media
// views last
func engines(u fdinfo.Usage) []namedValue {
	return []namedValue{
		{"gfx", u.GFX},
		{"compute", u.Compute},
		{"dma", u.DMA},
		{"dec", u.Dec},
		{"enc", u.Enc},
		{"enc_1", u.Enc1},
		{"jpeg", u.JPEG},
		{"vpe", u.VPE},
		{"media", u.Media},
		{"vcn_unified", u.VCNUnified},
	}
}

func (c *GPUCollector) collectDeviceMetrics(ch chan<- prometheus.Metric, stat *monitor.Stat) {
	pci := stat.PCI
	info := stat.Info

	ch <- prometheus.MustNewConstMetric(c.deviceInfo, prometheus.GaugeValue, 1,
		pci,
		stat.Name,
		fmt.Sprintf("%#04x", info.DeviceID),
		fmt.Sprintf("%#02x", info.PCIRev),
		strconv.FormatUint(uint64(info.Family), 10),
		info.ChipClass().String(),
		strconv.FormatBool(info.IsAPU()),
	)

	for _, state := range []monitor.PowerState{monitor.Open, monitor.Closed} {
		v := 0.0
		if stat.PowerState == state {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.devicePowerState, prometheus.GaugeValue, v, pci, state.String())
	}

	for block, v := range map[string]*uint16{
		"gfx":   stat.Activity.GFX,
		"umc":   stat.Activity.UMC,
		"media": stat.Activity.Media,
	} {
		if v == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.deviceActivity, prometheus.GaugeValue, percentRatio(*v), pci, block)
	}

	if stat.Memory != nil {
		for _, heap := range []struct {
			name string
			info device.HeapInfo
		}{
			{"vram", stat.Memory.VRAM},
			{"cpu_visible_vram", stat.Memory.CPUAccessibleVRAM},
			{"gtt", stat.Memory.GTT},
		} {
			ch <- prometheus.MustNewConstMetric(c.deviceMemoryUsed, prometheus.GaugeValue,
				float64(heap.info.HeapUsage), pci, heap.name)
			ch <- prometheus.MustNewConstMetric(c.deviceMemoryTotal, prometheus.GaugeValue,
				float64(heap.info.TotalHeapSize), pci, heap.name)
		}
	}

	for _, e := range engines(stat.Total) {
		ch <- prometheus.MustNewConstMetric(c.deviceEngineUsage, prometheus.GaugeValue, percentRatio(e.value), pci, e.name)
	}

	ch <- prometheus.MustNewConstMetric(c.deviceClients, prometheus.GaugeValue, float64(len(stat.Processes)), pci)

	if stat.Energy != nil {
		ch <- prometheus.MustNewConstMetric(c.deviceEnergy, prometheus.CounterValue, stat.Energy.Joules(), pci)
	}
}

func (c *GPUCollector) collectProcessMetrics(ch chan<- prometheus.Metric, stat *monitor.Stat) {
	if len(stat.Processes) == 0 {
		c.logger.Debug("No processes to export metrics", "device", stat.PCI)
		return
	}

	pci := stat.PCI
	for _, p := range stat.Processes {
		pid := strconv.Itoa(p.PID)
		u := p.Usage

		for _, m := range []namedValue{
			{"vram", u.VRAM},
			{"gtt", u.GTT},
			{"cpu", u.CPU},
			{"evicted_vram", u.EvictedVRAM},
			{"requested_vram", u.RequestedVRAM},
			{"requested_gtt", u.RequestedGTT},
		} {
			ch <- prometheus.MustNewConstMetric(c.processMemory, prometheus.GaugeValue,
				float64(m.value), pci, pid, p.Name, m.name)
		}

		for _, e := range engines(u) {
			ch <- prometheus.MustNewConstMetric(c.processEngineUsage, prometheus.GaugeValue,
				percentRatio(e.value), pci, pid, p.Name, e.name)
		}

		ch <- prometheus.MustNewConstMetric(c.processCPUUsage, prometheus.GaugeValue,
			percentRatio(p.CPU), pci, pid, p.Name)
		ch <- prometheus.MustNewConstMetric(c.processDRMClients, prometheus.GaugeValue,
			float64(p.IDsCount), pci, pid, p.Name, strconv.FormatBool(p.IsKFD))
	}
}
