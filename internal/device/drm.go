// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM_IOCTL_AMDGPU_INFO: _IOW('d', DRM_COMMAND_BASE + DRM_AMDGPU_INFO, struct drm_amdgpu_info)
const drmIoctlAMDGPUInfo = 0x40206445

const (
	infoQueryHwIP       = 0x02
	infoQueryReadMMRReg = 0x15
	infoQueryDevInfo    = 0x16
	infoQueryMemory     = 0x19
	infoQuerySensor     = 0x1d
)

// broadcast to all shader engines / arrays
const mmrInstanceBroadcast = 0xffffffff

const (
	devInfoSize  = 144
	hwIPInfoSize = 32
	memInfoSize  = 96
)

// drmAMDGPUInfo mirrors struct drm_amdgpu_info; the trailing union is 16 bytes
type drmAMDGPUInfo struct {
	returnPointer uint64
	returnSize    uint32
	query         uint32
	arg           [4]uint32
}

// drmHandle is a Handle backed by an open render or card node
type drmHandle struct {
	mu   sync.Mutex
	fd   int
	node string
}

var _ Handle = (*drmHandle)(nil)

// DRMOpener opens device nodes with open(2) and queries them with the amdgpu INFO ioctl
var DRMOpener Opener = OpenerFunc(OpenDRM)

// OpenDRM opens a DRM device node
func OpenDRM(node string) (Handle, error) {
	fd, err := unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", node, err)
	}
	return &drmHandle{fd: fd, node: node}, nil
}

func (h *drmHandle) query(q uint32, size uint32, arg [4]uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil, fmt.Errorf("%s: %w", h.node, unix.EBADF)
	}

	buf := make([]byte, size)
	req := drmAMDGPUInfo{
		returnPointer: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		returnSize:    size,
		query:         q,
		arg:           arg,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), drmIoctlAMDGPUInfo, uintptr(unsafe.Pointer(&req)))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return nil, fmt.Errorf("amdgpu info query %#x on %s: %w", q, h.node, errno)
	}
	return buf, nil
}

func (h *drmHandle) ReadRegister(offset uint32) (uint32, error) {
	buf, err := h.query(infoQueryReadMMRReg, 4, [4]uint32{offset, 1, mmrInstanceBroadcast, 0})
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf), nil
}

func (h *drmHandle) QuerySensor(sensor SensorType) (uint32, error) {
	buf, err := h.query(infoQuerySensor, 4, [4]uint32{uint32(sensor)})
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf), nil
}

func (h *drmHandle) Info() (*Info, error) {
	buf, err := h.query(infoQueryDevInfo, devInfoSize, [4]uint32{})
	if err != nil {
		return nil, err
	}
	return parseDevInfo(buf), nil
}

func (h *drmHandle) HwIP(ip HwIPType) (*HwIPInfo, error) {
	buf, err := h.query(infoQueryHwIP, hwIPInfoSize, [4]uint32{uint32(ip), 0})
	if err != nil {
		return nil, err
	}
	ne := binary.NativeEndian
	return &HwIPInfo{
		Major:          ne.Uint32(buf[0:]),
		Minor:          ne.Uint32(buf[4:]),
		Capabilities:   ne.Uint64(buf[8:]),
		AvailableRings: ne.Uint32(buf[24:]),
	}, nil
}

func (h *drmHandle) Memory() (*MemoryInfo, error) {
	buf, err := h.query(infoQueryMemory, memInfoSize, [4]uint32{})
	if err != nil {
		return nil, err
	}
	return &MemoryInfo{
		VRAM:              parseHeapInfo(buf[0:32]),
		CPUAccessibleVRAM: parseHeapInfo(buf[32:64]),
		GTT:               parseHeapInfo(buf[64:96]),
	}, nil
}

func (h *drmHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// parseDevInfo decodes the leading part of struct drm_amdgpu_info_device
func parseDevInfo(buf []byte) *Info {
	ne := binary.NativeEndian
	return &Info{
		DeviceID:          ne.Uint32(buf[0:]),
		ChipRev:           ne.Uint32(buf[4:]),
		ExternalRev:       ne.Uint32(buf[8:]),
		PCIRev:            ne.Uint32(buf[12:]),
		Family:            Family(ne.Uint32(buf[16:])),
		NumShaderEngines:  ne.Uint32(buf[20:]),
		NumShaderArrays:   ne.Uint32(buf[24:]),
		GPUCounterFreq:    ne.Uint32(buf[28:]),
		MaxEngineClockKHz: ne.Uint64(buf[32:]),
		MaxMemoryClockKHz: ne.Uint64(buf[40:]),
		CUActiveNumber:    ne.Uint32(buf[48:]),
		IDsFlags:          ne.Uint64(buf[136:]),
	}
}

func parseHeapInfo(buf []byte) HeapInfo {
	ne := binary.NativeEndian
	return HeapInfo{
		TotalHeapSize:  ne.Uint64(buf[0:]),
		UsableHeapSize: ne.Uint64(buf[8:]),
		HeapUsage:      ne.Uint64(buf[16:]),
		MaxAllocation:  ne.Uint64(buf[24:]),
	}
}
