// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil builds procfs and sysfs fixtures for tests
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// ProcFS is a fake /proc tree rooted in a temporary directory
type ProcFS struct {
	t    *testing.T
	Root string
}

// Proc describes a fake process
type Proc struct {
	PID     int
	Comm    string
	Cmdline []string

	// fd number -> link target
	FDs map[int]string
	// fd number -> fdinfo content
	FDInfo map[int]string

	UTime uint64
	STime uint64
}

func NewProcFS(t *testing.T) *ProcFS {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proc")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return &ProcFS{t: t, Root: root}
}

// Add creates or replaces a process
func (fs *ProcFS) Add(p Proc) {
	fs.t.Helper()
	dir := fs.dir(p.PID)
	require.NoError(fs.t, os.RemoveAll(dir))
	require.NoError(fs.t, os.MkdirAll(filepath.Join(dir, "fd"), 0o755))
	require.NoError(fs.t, os.MkdirAll(filepath.Join(dir, "fdinfo"), 0o755))

	fs.write(filepath.Join(dir, "comm"), p.Comm+"\n")
	fs.write(filepath.Join(dir, "cmdline"), strings.Join(p.Cmdline, "\x00"))
	fs.SetCPU(p.PID, p.Comm, p.UTime, p.STime)

	for fd, target := range p.FDs {
		require.NoError(fs.t, os.Symlink(target, filepath.Join(dir, "fd", strconv.Itoa(fd))))
	}
	for fd, info := range p.FDInfo {
		fs.SetFDInfo(p.PID, fd, info)
	}
}

// Remove deletes a process as if it exited
func (fs *ProcFS) Remove(pid int) {
	fs.t.Helper()
	require.NoError(fs.t, os.RemoveAll(fs.dir(pid)))
}

// SetFDInfo replaces the fdinfo content of an fd
func (fs *ProcFS) SetFDInfo(pid, fd int, content string) {
	fs.t.Helper()
	fs.write(filepath.Join(fs.dir(pid), "fdinfo", strconv.Itoa(fd)), content)
}

// SetCPU rewrites /proc/<pid>/stat with the given utime and stime ticks
func (fs *ProcFS) SetCPU(pid int, comm string, utime, stime uint64) {
	fs.t.Helper()
	stat := fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 1 0 100 1000000 100 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0\n",
		pid, comm, pid, pid, utime, stime)
	fs.write(filepath.Join(fs.dir(pid), "stat"), stat)
}

func (fs *ProcFS) dir(pid int) string {
	return filepath.Join(fs.Root, strconv.Itoa(pid))
}

func (fs *ProcFS) write(path, content string) {
	fs.t.Helper()
	require.NoError(fs.t, os.WriteFile(path, []byte(content), 0o644))
}

// FDInfo renders an amdgpu fdinfo file
func FDInfo(clientID int, lines ...string) string {
	var sb strings.Builder
	sb.WriteString("pos:\t0\nflags:\t02100002\nmnt_id:\t25\nino:\t1063\n")
	sb.WriteString("drm-driver:\tamdgpu\n")
	fmt.Fprintf(&sb, "drm-client-id:\t%d\n", clientID)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String()
}
