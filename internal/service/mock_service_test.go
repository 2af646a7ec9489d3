// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// recorder collects lifecycle events across services
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// mockService implements only Service
type mockService struct {
	name string
	rec  *recorder
}

func (m *mockService) Name() string {
	return m.name
}

// mockInitializer implements Initializer
type mockInitializer struct {
	mockService
	initFn    func() error
	initCount int
}

func (m *mockInitializer) Init() error {
	m.initCount++
	m.rec.add("init " + m.name)
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

// mockFullService implements Initializer, Runner and Shutdowner
type mockFullService struct {
	mockInitializer
	runFn      func(ctx context.Context) error
	shutdownFn func() error

	mu            sync.Mutex
	runCount      int
	shutdownCount int
}

func (m *mockFullService) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCount++
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *mockFullService) Shutdown() error {
	m.mu.Lock()
	m.shutdownCount++
	m.mu.Unlock()
	m.rec.add("shutdown " + m.name)
	if m.shutdownFn != nil {
		return m.shutdownFn()
	}
	return nil
}

func (m *mockFullService) counts() (run, shutdown int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCount, m.shutdownCount
}

// mockRunner implements Runner only
type mockRunner struct {
	mockService
	runFn func(ctx context.Context) error
}

func (m *mockRunner) Run(ctx context.Context) error {
	return m.runFn(ctx)
}

func newFull(name string, rec *recorder) *mockFullService {
	return &mockFullService{mockInitializer: mockInitializer{mockService: mockService{name: name, rec: rec}}}
}
