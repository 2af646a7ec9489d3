// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package sensors reads clocks, voltages, temperatures, power and PCIe link
// state of an amdgpu device from the driver sensor ioctl, hwmon and sysfs.
package sensors

import (
	"log/slog"
	"path/filepath"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/units"
	"k8s.io/utils/ptr"
)

// Sensors is one reading. Every field is optional.
type Sensors struct {
	SCLK   *uint32 // MHz
	MCLK   *uint32 // MHz
	VDDNB  *uint32 // mV
	VDDGFX *uint32 // mV

	Edge     *Temp
	Junction *Temp
	Memory   *Temp

	AveragePower *units.Power
	InputPower   *units.Power
	PowerCap     *PowerCap

	FanRPM    *uint32
	FanMaxRPM *uint32

	PCIPowerState *string

	CurrentLink   *Link
	MinDPMLink    *Link
	MaxDPMLink    *Link
	MaxGPULink    *Link
	MaxSystemLink *Link

	// APU only
	Tctl    *units.Temperature
	CPUFreq []CPUFreq

	Gfxoff *Gfxoff

	// set when the reading was frozen because the device is suspended
	Idle bool
}

// Power returns the average power, or the input power when the average is absent
func (s *Sensors) Power() *units.Power {
	if s.AveragePower != nil {
		return s.AveragePower
	}
	return s.InputPower
}

// Clone returns a deep copy
func (s *Sensors) Clone() *Sensors {
	if s == nil {
		return nil
	}
	c := *s
	c.SCLK, c.MCLK = clonePtr(s.SCLK), clonePtr(s.MCLK)
	c.VDDNB, c.VDDGFX = clonePtr(s.VDDNB), clonePtr(s.VDDGFX)
	c.Edge, c.Junction, c.Memory = cloneTemp(s.Edge), cloneTemp(s.Junction), cloneTemp(s.Memory)
	c.AveragePower, c.InputPower = clonePtr(s.AveragePower), clonePtr(s.InputPower)
	c.PowerCap = clonePtr(s.PowerCap)
	c.FanRPM, c.FanMaxRPM = clonePtr(s.FanRPM), clonePtr(s.FanMaxRPM)
	c.PCIPowerState = clonePtr(s.PCIPowerState)
	c.CurrentLink, c.MinDPMLink, c.MaxDPMLink = clonePtr(s.CurrentLink), clonePtr(s.MinDPMLink), clonePtr(s.MaxDPMLink)
	c.MaxGPULink, c.MaxSystemLink = clonePtr(s.MaxGPULink), clonePtr(s.MaxSystemLink)
	c.Tctl = clonePtr(s.Tctl)
	c.CPUFreq = append([]CPUFreq(nil), s.CPUFreq...)
	c.Gfxoff = clonePtr(s.Gfxoff)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr.To(*p)
}

func cloneTemp(t *Temp) *Temp {
	if t == nil {
		return nil
	}
	c := *t
	c.Critical, c.CriticalHyst, c.Emergency = clonePtr(t.Critical), clonePtr(t.CriticalHyst), clonePtr(t.Emergency)
	return &c
}

// Reader reads the sensors of one device. Values that do not change at
// runtime are read once by NewReader.
type Reader struct {
	logger *slog.Logger
	path   device.DevicePath
	sysfs  string
	isAPU  bool
	// upstream holds the PCI power_state, empty on APUs
	upstream string

	minDPM, maxDPM    *Link
	maxGPU, maxSystem *Link
	fanMax            *uint32
	tctl              string
	cores             []CPUFreq

	last Sensors
}

// OptionFn configures a Reader
type OptionFn func(*Reader)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithSysFSPath sets the sysfs mount used for CPU sensors
func WithSysFSPath(path string) OptionFn {
	return func(r *Reader) {
		r.sysfs = path
	}
}

// NewReader probes the static sensors of a device
func NewReader(path device.DevicePath, info device.Info, opts ...OptionFn) *Reader {
	r := &Reader{
		logger: slog.Default(),
		path:   path,
		sysfs:  "/sys",
		isAPU:  info.IsAPU(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("service", "sensors", "device", path.PCI)

	if r.isAPU {
		r.tctl = findK10temp(r.sysfs)
		r.cores = cpuCores(r.sysfs)
		r.logger.Debug("APU sensors", "k10temp", r.tctl, "cores", len(r.cores))
	} else {
		if content, err := device.ReadString(path.Attr("pp_dpm_pcie")); err == nil {
			r.minDPM, r.maxDPM = parseDPMLinks(content)
		}
		r.maxGPU = readLink(path.Sysfs, "max")
		if port, ok := path.RootPort(); ok {
			r.maxSystem = readLink(port, "max")
		}
		r.upstream, _ = path.UpstreamPort()
	}
	if path.Hwmon != "" {
		r.fanMax = readUint32(filepath.Join(path.Hwmon, "fan1_max"))
	}
	return r
}

// Update takes a full reading. s may be nil when no device handle is open.
func (r *Reader) Update(s device.SensorReader) Sensors {
	var out Sensors

	if s != nil {
		out.SCLK = querySensor(s, device.SensorGFXSclk)
		out.MCLK = querySensor(s, device.SensorGFXMclk)
		out.VDDNB = querySensor(s, device.SensorVDDNB)
		out.VDDGFX = querySensor(s, device.SensorVDDGFX)
	}

	if hwmon := r.path.Hwmon; hwmon != "" {
		out.Edge = readTemp(hwmon, TempEdge)
		out.Junction = readTemp(hwmon, TempJunction)
		out.Memory = readTemp(hwmon, TempMemory)
		out.AveragePower = readPower(hwmon, "power1_average")
		out.InputPower = readPower(hwmon, "power1_input")
		out.PowerCap = readPowerCap(hwmon)
		out.FanRPM = readUint32(filepath.Join(hwmon, "fan1_input"))
		out.FanMaxRPM = r.fanMax

		if out.SCLK == nil {
			if hz, err := device.ReadUint(filepath.Join(hwmon, "freq1_input")); err == nil {
				out.SCLK = ptr.To(uint32(hz / 1_000_000))
			}
		}
	}

	// the ioctl sensors are a fallback for kernels without the hwmon attributes
	if s != nil {
		if out.Edge == nil {
			if v := querySensor(s, device.SensorGPUTemp); v != nil {
				out.Edge = &Temp{Type: TempEdge, Current: units.MilliCelsius(int64(*v))}
			}
		}
		if out.Power() == nil {
			if v := querySensor(s, device.SensorAvgPower); v != nil {
				out.AveragePower = ptr.To(units.Power(*v) * units.Watt)
			}
		}
	}

	if !r.isAPU {
		out.CurrentLink = readLink(r.path.Sysfs, "current")
		out.MinDPMLink, out.MaxDPMLink = r.minDPM, r.maxDPM
		out.MaxGPULink, out.MaxSystemLink = r.maxGPU, r.maxSystem
		out.PCIPowerState = r.pciPowerState()
	}

	if r.tctl != "" {
		if v, err := device.ReadInt(r.tctl); err == nil {
			out.Tctl = ptr.To(units.MilliCelsius(v))
		}
	}
	if len(r.cores) > 0 {
		out.CPUFreq = make([]CPUFreq, 0, len(r.cores))
		for i := range r.cores {
			if readCPUFreq(r.sysfs, &r.cores[i]) {
				out.CPUFreq = append(out.CPUFreq, r.cores[i])
			}
		}
	}

	if r.path.Debugfs != "" {
		// absent on most systems without root
		if g, err := readGfxoff(r.path.Debugfs); err == nil {
			out.Gfxoff = g
		}
	}

	r.last = out
	return *out.Clone()
}

// Idle returns the last reading, flagged idle, with only the PCI power state
// refreshed. Reading hwmon would resume a suspended device.
func (r *Reader) Idle() Sensors {
	out := r.last.Clone()
	out.Idle = true
	if !r.isAPU {
		out.PCIPowerState = r.pciPowerState()
	}
	return *out
}

func (r *Reader) pciPowerState() *string {
	if r.upstream == "" {
		return nil
	}
	state, err := device.ReadString(filepath.Join(r.upstream, "power_state"))
	if err != nil {
		return nil
	}
	return &state
}

func querySensor(s device.SensorReader, t device.SensorType) *uint32 {
	v, err := s.QuerySensor(t)
	if err != nil {
		return nil
	}
	return &v
}
