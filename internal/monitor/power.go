// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"github.com/sustainable-computing-io/amdgpu-top/internal/procindex"
)

// PowerState tracks whether the monitor holds the device open
type PowerState int

const (
	// Open means the device handle is held and every source is polled
	Open PowerState = iota
	// Closed means the handle was released so a discrete GPU can enter
	// runtime suspend. Only sources that do not wake the device are read.
	Closed
)

func (s PowerState) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// onlySelf is the guard for Open -> Closed: the monitor is the last client
// of a discrete GPU.
func onlySelf(procs []procindex.ProcInfo, selfPID int, isAPU bool) bool {
	return !isAPU && len(procs) == 1 && procs[0].PID == selfPID
}

// otherClients is the guard for Closed -> Open: a process other than the
// monitor uses the device, or the device was resumed by someone else after
// it suspended.
func otherClients(procs []procindex.ProcInfo, selfPID int, resumed bool) bool {
	if resumed {
		return true
	}
	for _, p := range procs {
		if p.PID != selfPID {
			return true
		}
	}
	return false
}

// nextState applies the transition guards
func nextState(cur PowerState, procs []procindex.ProcInfo, selfPID int, isAPU bool, resumed func() bool) PowerState {
	switch cur {
	case Open:
		if onlySelf(procs, selfPID, isAPU) {
			return Closed
		}
	case Closed:
		if otherClients(procs, selfPID, resumed()) {
			return Open
		}
	}
	return cur
}
