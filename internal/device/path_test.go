// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakeSysfs creates a sysfs tree with one device per pci address
func fakeSysfs(t *testing.T, pcis ...string) Roots {
	t.Helper()
	root := t.TempDir()
	roots := Roots{
		SysFS:   filepath.Join(root, "sys"),
		DevFS:   filepath.Join(root, "dev"),
		DebugFS: filepath.Join(root, "debug"),
	}
	for i, pci := range pcis {
		dev := filepath.Join(roots.SysFS, "bus", "pci", "devices", pci)
		mkdirs(t,
			filepath.Join(roots.SysFS, "bus", "pci", "drivers", "amdgpu", pci),
			filepath.Join(dev, "drm", "card"+string(rune('0'+i))),
			filepath.Join(dev, "drm", "renderD"+string(rune('0'+i))+"28"),
			filepath.Join(dev, "hwmon", "hwmon"+string(rune('3'+i))),
		)
	}
	return roots
}

func TestDiscover(t *testing.T) {
	roots := fakeSysfs(t, "0000:0a:00.0", "0000:03:00.0")
	mkdirs(t, filepath.Join(roots.SysFS, "bus", "pci", "drivers", "amdgpu", "module"))

	paths, err := Discover(roots)
	require.NoError(t, err)
	require.Len(t, paths, 2, "non pci entries must be ignored")

	assert.Equal(t, "0000:03:00.0", paths[0].PCI)
	assert.Equal(t, "0000:0a:00.0", paths[1].PCI)

	p := paths[1]
	assert.Equal(t, "/dev/dri/card0", p.Card)
	assert.Equal(t, "/dev/dri/renderD028", p.Render)
	assert.Equal(t, []string{"/dev/dri/renderD028", "/dev/dri/card0"}, p.Nodes())
	assert.Equal(t, filepath.Join(roots.DevFS, "dri", "renderD028"), p.OpenNode())
	assert.Contains(t, p.Hwmon, "hwmon3")
}

func TestDiscover_NoDriver(t *testing.T) {
	_, err := Discover(Roots{SysFS: t.TempDir()})
	assert.Error(t, err)
}

func TestNewDevicePath_NoNodes(t *testing.T) {
	roots := Roots{SysFS: t.TempDir()}
	mkdirs(t, filepath.Join(roots.SysFS, "bus", "pci", "devices", "0000:01:00.0"))

	_, err := NewDevicePath(roots, "0000:01:00.0")
	assert.ErrorContains(t, err, "no drm nodes")
}

func TestDebugfsDir(t *testing.T) {
	roots := fakeSysfs(t, "0000:03:00.0")

	t.Run("by minor", func(t *testing.T) {
		mkdirs(t, filepath.Join(roots.DebugFS, "dri", "0"))
		p, err := NewDevicePath(roots, "0000:03:00.0")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(roots.DebugFS, "dri", "0"), p.Debugfs)
	})

	t.Run("by pci address", func(t *testing.T) {
		mkdirs(t, filepath.Join(roots.DebugFS, "dri", "0000:03:00.0"))
		p, err := NewDevicePath(roots, "0000:03:00.0")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(roots.DebugFS, "dri", "0000:03:00.0"), p.Debugfs)
	})
}

func TestIsActive(t *testing.T) {
	roots := fakeSysfs(t, "0000:03:00.0")
	p, err := NewDevicePath(roots, "0000:03:00.0")
	require.NoError(t, err)

	assert.False(t, p.HasRuntimePM())
	assert.True(t, p.IsActive(), "devices without runtime pm are always active")

	writeFile(t, p.Attr("power/runtime_status"), "suspended\n")
	assert.True(t, p.HasRuntimePM())
	assert.False(t, p.IsActive())

	writeFile(t, p.Attr("power/runtime_status"), "active\n")
	assert.True(t, p.IsActive())
}

func TestReadAttr(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "uint"), "42\n")
	writeFile(t, filepath.Join(dir, "int"), "-7\n")
	writeFile(t, filepath.Join(dir, "bad"), "x\n")

	u, err := ReadUint(filepath.Join(dir, "uint"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u)

	i, err := ReadInt(filepath.Join(dir, "int"))
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i)

	_, err = ReadUint(filepath.Join(dir, "bad"))
	assert.Error(t, err)

	_, err = ReadString(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRootPort(t *testing.T) {
	sys := t.TempDir()
	rootPort := filepath.Join(sys, "devices", "pci0000:00", "0000:00:01.1")
	dev := filepath.Join(rootPort, "0000:01:00.0", "0000:02:00.0", "0000:03:00.0")
	mkdirs(t, filepath.Join(dev, "drm", "renderD128"), filepath.Join(sys, "bus", "pci", "devices"))
	require.NoError(t, os.Symlink(dev, filepath.Join(sys, "bus", "pci", "devices", "0000:03:00.0")))

	p, err := NewDevicePath(Roots{SysFS: sys}, "0000:03:00.0")
	require.NoError(t, err)

	got, ok := p.RootPort()
	require.True(t, ok)
	want, err := filepath.EvalSymlinks(rootPort)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	upstream, ok := p.UpstreamPort()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(want, "0000:01:00.0"), upstream)

	// a device directly below the host bridge has no root port
	direct := filepath.Join(sys, "devices", "pci0000:00", "0000:00:08.0")
	mkdirs(t, filepath.Join(direct, "drm", "renderD129"))
	require.NoError(t, os.Symlink(direct, filepath.Join(sys, "bus", "pci", "devices", "0000:00:08.0")))
	p, err = NewDevicePath(Roots{SysFS: sys}, "0000:00:08.0")
	require.NoError(t, err)
	_, ok = p.RootPort()
	assert.False(t, ok)
	_, ok = p.UpstreamPort()
	assert.False(t, ok)
}
