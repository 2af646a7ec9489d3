// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run runs every Runner in its own actor of an oklog/run group. The first
// service to return stops all the others, each of which is shut down if it
// implements Shutdowner. The error of the first service is returned.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger.Info("Running all services")

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("skipping service", "service", s.Name(), "reason", "service does not implement Runner")
			continue
		}
		g.Add(
			func() error {
				logger.Info("Running service", "service", runner.Name())
				return runner.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", runner.Name(), "reason", err)
				}
				shutdown(logger, runner)
			},
		)
	}
	return g.Run()
}

func shutdown(logger *slog.Logger, s Service) {
	shutdowner, ok := s.(Shutdowner)
	if !ok {
		return
	}
	logger.Info("shutting down", "service", s.Name())
	if err := shutdowner.Shutdown(); err != nil {
		logger.Warn("service shutdown failed with error", "service", s.Name(), "error", err)
	}
}
