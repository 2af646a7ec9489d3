// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the small interfaces cmd/amdgpu-top uses to drive
// the device monitor, the exporters and the api server. A component
// implements only the hooks it needs; Init, Run and Shutdown detect them.
package service

import "context"

// Service is anything the runner can schedule. Name shows up in logs.
type Service interface {
	Name() string
}

// Initializer probes devices, binds listeners or opens outputs before any
// Runner starts. An error aborts startup.
type Initializer interface {
	Service
	Init() error
}

// Runner blocks in Run until ctx is cancelled. A returned error stops every
// other Runner of the group.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner releases device handles, listeners and output files. Run calls
// it when the service's actor stops; Init calls it on the services already
// initialized when a later one fails.
type Shutdowner interface {
	Service
	Shutdown() error
}

// Notifier signals consumers that new data can be read. The channel never
// closes and a pending signal is not queued twice.
type Notifier interface {
	DataChannel() <-chan struct{}
}
