// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"path/filepath"

	"github.com/jaypipes/ghw"
)

// NameResolver maps a PCI address to a human readable device name
type NameResolver interface {
	Name(pci string) string
}

// PCIDB resolves device names from the host pci.ids database
type PCIDB struct {
	info *ghw.PCIInfo
}

var _ NameResolver = (*PCIDB)(nil)

// NewPCIDB loads the PCI topology and the pci.ids database of the host whose
// sysfs is mounted at sysfsRoot, e.g. /host/sys.
func NewPCIDB(sysfsRoot string) (*PCIDB, error) {
	info, err := ghw.PCI(
		ghw.WithChroot(filepath.Dir(filepath.Clean(sysfsRoot))),
		ghw.WithDisableWarnings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load pci database: %w", err)
	}
	return &PCIDB{info: info}, nil
}

// Name returns the product name, or "" when the device or its product is
// not in the database
func (d *PCIDB) Name(pci string) string {
	dev := d.info.GetDevice(pci)
	if dev == nil || dev.Product == nil || dev.Product.Name == unknownName {
		return ""
	}
	return dev.Product.Name
}

// placeholder ghw uses for ids missing from pci.ids
const unknownName = "unknown"
