// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const attrBufSize = 4096

// ReadAttr reads a sysfs attribute with a single read(2).
func ReadAttr(file string) ([]byte, error) {
	fd, err := unix.Open(file, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &sysfsError{file: file, err: err}
	}
	defer func() { _ = unix.Close(fd) }()

	// On some machines, hwmon drivers are broken and return EAGAIN.  This causes
	// Go's os.ReadFile implementation to poll forever.
	b := make([]byte, attrBufSize)
	n, err := unix.Read(fd, b)
	if err != nil {
		return nil, &sysfsError{file: file, err: err}
	}
	if n < 0 {
		return nil, fmt.Errorf("failed to read file: %q, read returned negative bytes value: %d", file, n)
	}
	return b[:n], nil
}

// ReadString returns the attribute with surrounding whitespace removed
func ReadString(file string) (string, error) {
	b, err := ReadAttr(file)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ReadUint parses a decimal unsigned attribute
func ReadUint(file string) (uint64, error) {
	s, err := ReadString(file)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return v, nil
}

// ReadInt parses a decimal signed attribute
func ReadInt(file string) (int64, error) {
	s, err := ReadString(file)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return v, nil
}

type sysfsError struct {
	file string
	err  error
}

func (e *sysfsError) Error() string {
	return fmt.Sprintf("sysfs %s: %v", e.file, e.err)
}

func (e *sysfsError) Unwrap() error {
	return e.err
}
