// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"github.com/sustainable-computing-io/amdgpu-top/internal/sensors"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
)

const mhz = 1e6

func (c *GPUCollector) collectSensorMetrics(ch chan<- prometheus.Metric, stat *monitor.Stat) {
	pci := stat.PCI
	s := &stat.Sensors

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{pci}, labels...)...)
	}

	for _, clk := range []struct {
		name string
		v    *uint32
	}{{"sclk", s.SCLK}, {"mclk", s.MCLK}} {
		if clk.v != nil {
			gauge(c.sensorClock, float64(*clk.v)*mhz, clk.name)
		}
	}

	for _, rail := range []struct {
		name string
		v    *uint32
	}{{"vddnb", s.VDDNB}, {"vddgfx", s.VDDGFX}} {
		if rail.v != nil {
			gauge(c.sensorVoltage, float64(*rail.v)/1000, rail.name)
		}
	}

	for _, temp := range []*sensors.Temp{s.Edge, s.Junction, s.Memory} {
		if temp == nil {
			continue
		}
		gauge(c.sensorTemperature, float64(temp.Current), temp.Type.String())
		if temp.Critical != nil {
			gauge(c.sensorTempCritical, float64(*temp.Critical), temp.Type.String())
		}
	}
	if s.Tctl != nil {
		gauge(c.sensorTemperature, float64(*s.Tctl), "tctl")
	}

	for _, pw := range []struct {
		name string
		v    *units.Power
	}{{"average", s.AveragePower}, {"input", s.InputPower}} {
		if pw.v != nil {
			gauge(c.sensorPower, pw.v.Watts(), pw.name)
		}
	}

	if pc := s.PowerCap; pc != nil {
		for _, l := range []struct {
			name string
			v    uint32
		}{{"current", pc.Current}, {"default", pc.Default}, {"min", pc.Min}, {"max", pc.Max}} {
			gauge(c.sensorPowerCap, float64(l.v), pc.Type.String(), l.name)
		}
	}

	if s.FanRPM != nil {
		gauge(c.sensorFanSpeed, float64(*s.FanRPM))
	}
	if s.FanMaxRPM != nil {
		gauge(c.sensorFanMaxSpeed, float64(*s.FanMaxRPM))
	}

	for _, link := range []struct {
		name string
		v    *sensors.Link
	}{
		{"current", s.CurrentLink},
		{"min_dpm", s.MinDPMLink},
		{"max_dpm", s.MaxDPMLink},
		{"max_gpu", s.MaxGPULink},
		{"max_system", s.MaxSystemLink},
	} {
		if link.v == nil {
			continue
		}
		gauge(c.sensorLinkGen, float64(link.v.Gen), link.name)
		gauge(c.sensorLinkWidth, float64(link.v.Width), link.name)
	}

	if s.PCIPowerState != nil {
		gauge(c.sensorPCIPowerState, 1, *s.PCIPowerState)
	}

	if bw := stat.PCIeBW; bw != nil {
		gauge(c.sensorPCIeBandwidth, float64(bw.SentBytes()), "sent")
		gauge(c.sensorPCIeBandwidth, float64(bw.ReceivedBytes()), "received")
	}

	for _, core := range s.CPUFreq {
		gauge(c.sensorCPUFrequency, float64(core.Cur)*mhz, strconv.FormatUint(uint64(core.CoreID), 10))
	}

	if g := s.Gfxoff; g != nil {
		gauge(c.sensorGfxoff, 1, g.Mode.String(), g.Status.String())
	}
}

func (c *GPUCollector) collectPerfCounterMetrics(ch chan<- prometheus.Metric, stat *monitor.Stat) {
	for _, pc := range []struct {
		kind  perfcounter.Kind
		usage []perfcounter.Usage
	}{{perfcounter.GRBM, stat.GRBM}, {perfcounter.GRBM2, stat.GRBM2}} {
		counter := strings.ToLower(pc.kind.String())
		for _, u := range pc.usage {
			ch <- prometheus.MustNewConstMetric(c.perfCounterBusy, prometheus.GaugeValue,
				percentRatio(u.Percent), stat.PCI, counter, u.Label)
		}
	}
}

func (c *GPUCollector) collectGPUMetrics(ch chan<- prometheus.Metric, stat *monitor.Stat) {
	m := stat.Metrics
	if m == nil {
		return
	}
	rev := m.Header().Revision.String()

	for _, f := range m.Fields() {
		if v, ok := m.Value(f); ok {
			ch <- prometheus.MustNewConstMetric(c.gpuMetricsValue, prometheus.GaugeValue,
				float64(v), stat.PCI, rev, string(f), "")
			continue
		}
		for i, v := range m.Array(f) {
			if v == nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.gpuMetricsValue, prometheus.GaugeValue,
				float64(*v), stat.PCI, rev, string(f), strconv.Itoa(i))
		}
	}
}
