// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var pciAddrRe = regexp.MustCompile(`^[0-9a-f]{4}:[0-9a-f]{2}:[0-9a-f]{2}\.[0-7]$`)

// DevicePath locates a single amdgpu device in sysfs, devfs and debugfs
type DevicePath struct {
	PCI string

	// device node names as seen by processes, e.g. /dev/dri/renderD128
	Card   string
	Render string
	Accel  string

	Sysfs   string
	Hwmon   string
	Debugfs string

	devfs string
}

// Roots are the filesystem mount points used for discovery
type Roots struct {
	SysFS   string
	DevFS   string
	DebugFS string
}

// DefaultRoots returns the host paths
func DefaultRoots() Roots {
	return Roots{SysFS: "/sys", DevFS: "/dev", DebugFS: "/sys/kernel/debug"}
}

// Discover returns all devices bound to the amdgpu driver sorted by PCI address
func Discover(roots Roots) ([]DevicePath, error) {
	driverDir := filepath.Join(roots.SysFS, "bus", "pci", "drivers", "amdgpu")
	entries, err := os.ReadDir(driverDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list amdgpu devices: %w", err)
	}

	var paths []DevicePath
	var errs error
	for _, e := range entries {
		if !pciAddrRe.MatchString(e.Name()) {
			continue
		}
		p, err := NewDevicePath(roots, e.Name())
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 && errs != nil {
		return nil, errs
	}

	slices.SortFunc(paths, func(a, b DevicePath) int {
		return strings.Compare(a.PCI, b.PCI)
	})
	return paths, nil
}

// NewDevicePath resolves the device nodes and sysfs directories of a PCI device
func NewDevicePath(roots Roots, pci string) (DevicePath, error) {
	sysfs := filepath.Join(roots.SysFS, "bus", "pci", "devices", pci)
	if _, err := os.Stat(sysfs); err != nil {
		return DevicePath{}, fmt.Errorf("device %s not found: %w", pci, err)
	}

	p := DevicePath{PCI: pci, Sysfs: sysfs, devfs: roots.DevFS}

	if drm, err := os.ReadDir(filepath.Join(sysfs, "drm")); err == nil {
		for _, e := range drm {
			switch name := e.Name(); {
			case strings.HasPrefix(name, "renderD"):
				p.Render = filepath.Join("/dev", "dri", name)
			case strings.HasPrefix(name, "card"):
				p.Card = filepath.Join("/dev", "dri", name)
			}
		}
	}
	if accel, err := os.ReadDir(filepath.Join(sysfs, "accel")); err == nil {
		for _, e := range accel {
			if strings.HasPrefix(e.Name(), "accel") {
				p.Accel = filepath.Join("/dev", "accel", e.Name())
			}
		}
	}
	if p.Render == "" && p.Card == "" && p.Accel == "" {
		return DevicePath{}, fmt.Errorf("device %s has no drm nodes", pci)
	}

	if hwmons, err := filepath.Glob(filepath.Join(sysfs, "hwmon", "hwmon*")); err == nil && len(hwmons) > 0 {
		slices.Sort(hwmons)
		p.Hwmon = hwmons[0]
	}

	p.Debugfs = debugfsDir(roots.DebugFS, pci, p.Card)
	return p, nil
}

// older kernels name the debugfs directory after the primary node minor
func debugfsDir(root, pci, card string) string {
	if root == "" {
		return ""
	}
	byPCI := filepath.Join(root, "dri", pci)
	if _, err := os.Stat(byPCI); err == nil {
		return byPCI
	}
	if card == "" {
		return ""
	}
	minor := strings.TrimPrefix(filepath.Base(card), "card")
	byMinor := filepath.Join(root, "dri", minor)
	if _, err := os.Stat(byMinor); err == nil {
		return byMinor
	}
	return ""
}

// Nodes returns the device node paths that identify clients of this device
func (p DevicePath) Nodes() []string {
	nodes := make([]string, 0, 3)
	for _, n := range []string{p.Render, p.Card, p.Accel} {
		if n != "" {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// OpenNode returns the node to open for ioctls, preferring the render node
func (p DevicePath) OpenNode() string {
	node := p.Render
	if node == "" {
		node = p.Card
	}
	if node == "" {
		return ""
	}
	if p.devfs == "" || p.devfs == "/dev" {
		return node
	}
	return filepath.Join(p.devfs, strings.TrimPrefix(node, "/dev/"))
}

// HasRuntimePM reports whether the kernel exposes runtime power management for the device
func (p DevicePath) HasRuntimePM() bool {
	fi, err := os.Stat(filepath.Join(p.Sysfs, "power"))
	return err == nil && fi.IsDir()
}

// IsActive reports whether the PCI device is runtime active. Devices without
// runtime PM are always active.
func (p DevicePath) IsActive() bool {
	if !p.HasRuntimePM() {
		return true
	}
	status, err := ReadString(filepath.Join(p.Sysfs, "power", "runtime_status"))
	if err != nil {
		return true
	}
	return strings.HasPrefix(status, "active")
}

// RootPort returns the sysfs directory of the PCIe root port above the device,
// following the resolved device directory up through its PCI ancestors.
func (p DevicePath) RootPort() (string, bool) {
	dir, err := filepath.EvalSymlinks(p.Sysfs)
	if err != nil {
		return "", false
	}
	root := ""
	for parent := filepath.Dir(dir); pciAddrRe.MatchString(filepath.Base(parent)); parent = filepath.Dir(parent) {
		root = parent
	}
	return root, root != ""
}

// UpstreamPort returns the sysfs directory of the first PCI function below
// the root port on the way to the device. On cards with an internal switch
// this is the switch upstream port, otherwise the device itself.
func (p DevicePath) UpstreamPort() (string, bool) {
	dir, err := filepath.EvalSymlinks(p.Sysfs)
	if err != nil {
		return "", false
	}
	port := ""
	for cur := dir; pciAddrRe.MatchString(filepath.Base(filepath.Dir(cur))); cur = filepath.Dir(cur) {
		port = cur
	}
	return port, port != ""
}

// Attr returns the path of an attribute of the device sysfs directory
func (p DevicePath) Attr(name string) string {
	return filepath.Join(p.Sysfs, name)
}

func (p DevicePath) String() string {
	return p.PCI
}
