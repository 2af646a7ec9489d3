// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpumetrics

import (
	"encoding/binary"
	"fmt"
)

// NOTE: Encode is not used when sampling a device and is for testing only

// Encode builds a blob of a known revision. Members missing from values
// hold the "not available" pattern.
func Encode(rev Revision, values map[Field][]uint64) ([]byte, error) {
	layout, ok := layouts[rev]
	if !ok {
		return nil, fmt.Errorf("unknown gpu_metrics revision %s", rev)
	}

	size := layoutSize(layout)
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xff
	}
	binary.LittleEndian.PutUint16(b[0:2], uint16(size))
	b[2], b[3] = rev.Format, rev.Content

	off := headerSize
	for _, f := range layout {
		off = align(off, f.size)
		for i := range f.count {
			if vals, ok := values[f.name]; ok && i < len(vals) {
				putElem(b[off:off+f.size], vals[i])
			}
			off += f.size
		}
	}
	return b, nil
}

func align(off, size int) int {
	if r := off % size; r != 0 {
		return off + size - r
	}
	return off
}

// layoutSize is the size of the C struct including tail padding
func layoutSize(layout []field) int {
	off, maxAlign := headerSize, 4
	for _, f := range layout {
		off = align(off, f.size) + f.size*f.count
		maxAlign = max(maxAlign, f.size)
	}
	return align(off, maxAlign)
}

func putElem(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
