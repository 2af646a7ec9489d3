// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(ctx context.Context, services []Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, nil, services) }()
	return errCh
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Run did not return")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("context cancellation stops and shuts down all services", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{}, 2)
		svc1 := newFull("monitor", nil)
		svc2 := newFull("api-server", nil)
		for _, s := range []*mockFullService{svc1, svc2} {
			s.runFn = func(ctx context.Context) error {
				started <- struct{}{}
				<-ctx.Done()
				return nil
			}
		}

		errCh := runAsync(ctx, []Service{svc1, &mockService{name: "not-a-runner"}, svc2})
		<-started
		<-started
		cancel()

		assert.NoError(t, wait(t, errCh))
		for _, s := range []*mockFullService{svc1, svc2} {
			runs, shutdowns := s.counts()
			assert.Equal(t, 1, runs, s.name)
			assert.Equal(t, 1, shutdowns, s.name)
		}
	})

	t.Run("failing service stops the others", func(t *testing.T) {
		runErr := errors.New("device lost")
		failing := newFull("monitor", nil)
		failing.runFn = func(context.Context) error { return runErr }
		other := newFull("stdout", nil)

		err := wait(t, runAsync(context.Background(), []Service{failing, other}))
		assert.ErrorIs(t, err, runErr)

		_, shutdowns := failing.counts()
		assert.Equal(t, 1, shutdowns)
		_, shutdowns = other.counts()
		assert.Equal(t, 1, shutdowns)
	})

	t.Run("shutdown error is only logged", func(t *testing.T) {
		runErr := errors.New("run error")
		svc := newFull("svc", nil)
		svc.runFn = func(context.Context) error { return runErr }
		svc.shutdownFn = func() error { return errors.New("shutdown error") }

		assert.ErrorIs(t, wait(t, runAsync(context.Background(), []Service{svc})), runErr)
	})

	t.Run("non-shutdowner runner", func(t *testing.T) {
		runErr := errors.New("run error")
		svc1 := &mockRunner{mockService: mockService{name: "svc1"}, runFn: func(context.Context) error { return runErr }}
		svc2 := &mockRunner{mockService: mockService{name: "svc2"}, runFn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

		assert.ErrorIs(t, wait(t, runAsync(context.Background(), []Service{svc1, svc2})), runErr)
	})

	t.Run("empty service list", func(t *testing.T) {
		assert.NoError(t, Run(context.Background(), nil, []Service{}))
	})
}
