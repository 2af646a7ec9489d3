// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// ChipClass is the graphics IP generation of a device
type ChipClass int

const (
	ChipClassUnknown ChipClass = iota
	GFX6
	GFX7
	GFX8
	GFX9
	GFX10
	GFX10_3
	GFX11
	GFX12
)

func (c ChipClass) String() string {
	switch c {
	case GFX6:
		return "GFX6"
	case GFX7:
		return "GFX7"
	case GFX8:
		return "GFX8"
	case GFX9:
		return "GFX9"
	case GFX10:
		return "GFX10"
	case GFX10_3:
		return "GFX10_3"
	case GFX11:
		return "GFX11"
	case GFX12:
		return "GFX12"
	default:
		return "Unknown"
	}
}

// Family is the AMDGPU_FAMILY_* value reported by the kernel
type Family uint32

const (
	FamilySI       Family = 110
	FamilyCI       Family = 120
	FamilyKV       Family = 125
	FamilyVI       Family = 130
	FamilyCZ       Family = 135
	FamilyAI       Family = 141
	FamilyRV       Family = 142
	FamilyNV       Family = 143
	FamilyVGH      Family = 144
	FamilyGC11_0_0 Family = 145
	FamilyYC       Family = 146
	FamilyGC11_0_1 Family = 148
	FamilyGC10_3_6 Family = 149
	FamilyGC11_5_0 Family = 150
	FamilyGC10_3_7 Family = 151
	FamilyGC12_0_0 Family = 152
)

// first external revision of Navi21 (sienna cichlid) within the NV family
const navi21ExternalRev = 0x28

// external revision ranges of the RV family
const (
	ravenFirst  = 0x01
	raven2First = 0x81
	renoirFirst = 0x91
)

const idsFlagsFusion = 0x1

// Info is the subset of drm_amdgpu_info_device used by the monitor
type Info struct {
	DeviceID          uint32
	ChipRev           uint32
	ExternalRev       uint32
	PCIRev            uint32
	Family            Family
	NumShaderEngines  uint32
	NumShaderArrays   uint32
	GPUCounterFreq    uint32
	MaxEngineClockKHz uint64
	MaxMemoryClockKHz uint64
	CUActiveNumber    uint32
	IDsFlags          uint64
}

// IsAPU reports whether the device shares memory with the CPU
func (i Info) IsAPU() bool {
	return i.IDsFlags&idsFlagsFusion != 0
}

// ChipClass derives the graphics IP generation from the family
func (i Info) ChipClass() ChipClass {
	switch i.Family {
	case FamilySI:
		return GFX6
	case FamilyCI, FamilyKV:
		return GFX7
	case FamilyVI, FamilyCZ:
		return GFX8
	case FamilyAI, FamilyRV:
		return GFX9
	case FamilyNV:
		if i.ExternalRev >= navi21ExternalRev {
			return GFX10_3
		}
		return GFX10
	case FamilyVGH, FamilyYC, FamilyGC10_3_6, FamilyGC10_3_7:
		return GFX10_3
	case FamilyGC11_0_0, FamilyGC11_0_1, FamilyGC11_5_0:
		return GFX11
	case FamilyGC12_0_0:
		return GFX12
	}
	if i.Family > FamilyGC12_0_0 {
		return GFX12
	}
	return ChipClassUnknown
}

// IsRaven reports the first generation Raven Ridge / Picasso APU
func (i Info) IsRaven() bool {
	return i.Family == FamilyRV && i.ExternalRev >= ravenFirst && i.ExternalRev < raven2First
}

// IsRaven2 reports the Raven2 APU
func (i Info) IsRaven2() bool {
	return i.Family == FamilyRV && i.ExternalRev >= raven2First && i.ExternalRev < renoirFirst
}

func (i Info) String() string {
	return fmt.Sprintf("device_id=%#04x rev=%#02x family=%d chip=%s apu=%t",
		i.DeviceID, i.PCIRev, i.Family, i.ChipClass(), i.IsAPU())
}

// HwIPType is the AMDGPU_HW_IP_* block type
type HwIPType uint32

const (
	HwIPGFX     HwIPType = 0
	HwIPCompute HwIPType = 1
	HwIPDMA     HwIPType = 2
	HwIPUVD     HwIPType = 3
	HwIPVCE     HwIPType = 4
	HwIPUVDEnc  HwIPType = 5
	HwIPVCNDec  HwIPType = 6
	HwIPVCNEnc  HwIPType = 7
	HwIPVCNJPEG HwIPType = 8
	HwIPVPE     HwIPType = 9
)

// HwIPInfo is drm_amdgpu_info_hw_ip
type HwIPInfo struct {
	Major          uint32
	Minor          uint32
	Capabilities   uint64
	AvailableRings uint32
}

// HeapInfo is drm_amdgpu_heap_info, all values in bytes
type HeapInfo struct {
	TotalHeapSize  uint64
	UsableHeapSize uint64
	HeapUsage      uint64
	MaxAllocation  uint64
}

// MemoryInfo is drm_amdgpu_memory_info
type MemoryInfo struct {
	VRAM              HeapInfo
	CPUAccessibleVRAM HeapInfo
	GTT               HeapInfo
}

// SensorType is the AMDGPU_INFO_SENSOR_* selector
type SensorType uint32

const (
	SensorGFXSclk    SensorType = 0x1 // MHz
	SensorGFXMclk    SensorType = 0x2 // MHz
	SensorGPUTemp    SensorType = 0x3 // milli degrees C
	SensorGPULoad    SensorType = 0x4 // percent
	SensorAvgPower   SensorType = 0x5 // W
	SensorVDDNB      SensorType = 0x6 // mV
	SensorVDDGFX     SensorType = 0x7 // mV
	SensorInputPower SensorType = 0xc // W
)

// RegisterReader reads a memory mapped register by dword offset
type RegisterReader interface {
	ReadRegister(offset uint32) (uint32, error)
}

// SensorReader reads a driver provided quick sensor
type SensorReader interface {
	QuerySensor(sensor SensorType) (uint32, error)
}

// Handle is an open DRM file descriptor of an amdgpu device
type Handle interface {
	RegisterReader
	SensorReader

	Info() (*Info, error)
	HwIP(ip HwIPType) (*HwIPInfo, error)
	Memory() (*MemoryInfo, error)

	Close() error
}

// Opener opens a device handle for a device node
type Opener interface {
	Open(node string) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(node string) (Handle, error)

func (f OpenerFunc) Open(node string) (Handle, error) {
	return f(node)
}
