// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"math"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/gpumetrics"
)

// Activity is the device wide utilization in percent. A nil member is not
// available on the device.
type Activity struct {
	GFX   *uint16
	UMC   *uint16
	Media *uint16
}

func (a Activity) clone() Activity {
	return Activity{GFX: clonePtr(a.GFX), UMC: clonePtr(a.UMC), Media: clonePtr(a.Media)}
}

// idle reports a zero graphics activity. Absent activity is never idle.
func (a Activity) idle() bool {
	return a.GFX != nil && *a.GFX == 0
}

// withMediaFallback fills a missing or zero media activity from the sum of
// the per process media usage
func (a Activity) withMediaFallback(media uint64) Activity {
	if a.Media != nil && *a.Media != 0 {
		return a
	}
	v := toPercent(media)
	a.Media = &v
	return a
}

// ActivityFromMetrics reads the average activities of a decoded gpu_metrics
// table. ok is false when the table carries no known layout.
func ActivityFromMetrics(m gpumetrics.Metrics) (a Activity, ok bool) {
	switch m := m.(type) {
	case *gpumetrics.V1:
		a.GFX = metricPercent(m, gpumetrics.AverageGFXActivity, 1)
		a.UMC = metricPercent(m, gpumetrics.AverageUMCActivity, 1)
		a.Media = metricPercent(m, gpumetrics.AverageMMActivity, 1)
		if a.Media == nil {
			a.Media = meanPercent(m.Array(gpumetrics.VCNActivity))
		}
	case *gpumetrics.V2:
		a.GFX = metricPercent(m, gpumetrics.AverageGFXActivity, 100)
		a.Media = metricPercent(m, gpumetrics.AverageMMActivity, 100)
	case *gpumetrics.V3:
		a.GFX = metricPercent(m, gpumetrics.AverageGFXActivity, 1)
		a.Media = metricPercent(m, gpumetrics.AverageVCNActivity, 1)
	default:
		return Activity{}, false
	}
	return a, true
}

// activityFromSysfs is used when gpu_metrics is unavailable
func activityFromSysfs(path device.DevicePath) Activity {
	var a Activity
	if v, err := device.ReadUint(path.Attr("gpu_busy_percent")); err == nil {
		p := toPercent(v)
		a.GFX = &p
	}
	if v, err := device.ReadUint(path.Attr("mem_busy_percent")); err == nil {
		p := toPercent(v)
		a.UMC = &p
	}
	return a
}

// readActivity prefers gpu_metrics. Raven and Raven2 report garbage in the
// sysfs busy files and get no activity without metrics.
func readActivity(path device.DevicePath, info device.Info, m gpumetrics.Metrics) Activity {
	if m != nil {
		if a, ok := ActivityFromMetrics(m); ok {
			return a
		}
	}
	if info.IsRaven() || info.IsRaven2() {
		return Activity{}
	}
	return activityFromSysfs(path)
}

func metricPercent(m gpumetrics.Metrics, f gpumetrics.Field, div uint64) *uint16 {
	v, ok := m.Value(f)
	if !ok {
		return nil
	}
	p := toPercent(v / div)
	return &p
}

func meanPercent(elems []*uint64) *uint16 {
	var sum, n uint64
	for _, e := range elems {
		if e != nil {
			sum += *e
			n++
		}
	}
	if n == 0 {
		return nil
	}
	p := toPercent(sum / n)
	return &p
}

func toPercent(v uint64) uint16 {
	return uint16(min(v, math.MaxUint16))
}
