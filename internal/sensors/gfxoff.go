// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sensors

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
)

// GfxoffMode is the value of the amdgpu_gfxoff debugfs file
type GfxoffMode uint32

const (
	GfxoffDisable GfxoffMode = 0
	GfxoffEnable  GfxoffMode = 1
)

func (m GfxoffMode) String() string {
	switch m {
	case GfxoffDisable:
		return "Disable"
	case GfxoffEnable:
		return "Enable"
	}
	return fmt.Sprintf("Unknown(%d)", uint32(m))
}

// GfxoffStatus is the value of the amdgpu_gfxoff_status debugfs file
type GfxoffStatus uint32

const (
	// the gfx engine is powered down
	InGFXOFF GfxoffStatus = iota
	OutOfGFXOFF
	NotInGFXOFF
	IntoGFXOFF
)

func (s GfxoffStatus) String() string {
	switch s {
	case InGFXOFF:
		return "InGFXOFF"
	case OutOfGFXOFF:
		return "OutOfGFXOFF"
	case NotInGFXOFF:
		return "NotInGFXOFF"
	case IntoGFXOFF:
		return "IntoGFXOFF"
	}
	return fmt.Sprintf("Unknown(%d)", uint32(s))
}

// Gfxoff is the GFXOFF mode and the state of the gfx engine
type Gfxoff struct {
	Mode   GfxoffMode
	Status GfxoffStatus
}

// readGfxoff reads both debugfs files. Reading the status while GFXOFF is
// disabled is skipped.
func readGfxoff(debugfs string) (*Gfxoff, error) {
	mode, err := readDebugfsU32(filepath.Join(debugfs, "amdgpu_gfxoff"))
	if err != nil {
		return nil, err
	}
	g := &Gfxoff{Mode: GfxoffMode(mode), Status: NotInGFXOFF}
	if g.Mode == GfxoffDisable {
		return g, nil
	}
	status, err := readDebugfsU32(filepath.Join(debugfs, "amdgpu_gfxoff_status"))
	if err != nil {
		return nil, err
	}
	g.Status = GfxoffStatus(status)
	return g, nil
}

func readDebugfsU32(file string) (uint32, error) {
	b, err := device.ReadAttr(file)
	if err != nil {
		return 0, err
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("short read from %s: %d bytes", file, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
