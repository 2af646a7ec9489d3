// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/amdgpu-top/config"
	"github.com/sustainable-computing-io/amdgpu-top/internal/device"
	"github.com/sustainable-computing-io/amdgpu-top/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/amdgpu-top/internal/exporter/stdout"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/logger"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"github.com/sustainable-computing-io/amdgpu-top/internal/server"
	"github.com/sustainable-computing-io/amdgpu-top/internal/service"
	"github.com/sustainable-computing-io/amdgpu-top/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	services, err := createServices(logger, cfg)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting amdgpu-top")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("amdgpu-top terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("amdgpu-top version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	app := kingpin.New("amdgpu-top", "AMD GPU usage sampler and Prometheus exporter.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	b := &config.Builder{}
	if *configFile != "" {
		b.MergeFile(*configFile)
	}
	cfg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// flags override the config file
	if err := updateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid command line flags: %w", err)
	}
	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(logger *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	logger.Debug("Creating all services")

	profile, err := perfcounter.ParseProfile(cfg.Monitor.Profile)
	if err != nil {
		return nil, err
	}
	pm, err := createMonitor(logger, cfg, profile)
	if err != nil {
		return nil, err
	}

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	// monitor first: exporters build their descriptors from its first snapshot
	services := []service.Service{pm, apiServer}

	if *cfg.Exporter.Prometheus.Enabled {
		promExporter := prometheus.NewExporter(pm, apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(prometheus.CreateCollectors(pm,
				prometheus.WithLogger(logger),
				prometheus.WithMetricsLevel(cfg.Exporter.Prometheus.MetricsLevel),
			)),
		)
		services = append(services, promExporter)
	}

	if *cfg.Exporter.Stdout.Enabled {
		services = append(services, stdout.NewExporter(pm,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	services = append(services,
		server.NewProbe(apiServer, pm, max(30*time.Second, 10*profile.Window())),
		service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM),
	)

	if *cfg.Debug.Pprof.Enabled {
		services = append(services, server.NewPprof(apiServer))
	}

	return services, nil
}

func createMonitor(logger *slog.Logger, cfg *config.Config, profile perfcounter.Profile) (*monitor.AMDGPUMonitor, error) {
	sortBy, err := fdinfo.ParseSortType(cfg.Monitor.Sort)
	if err != nil {
		return nil, err
	}

	return monitor.NewAMDGPUMonitor(
		monitor.WithLogger(logger),
		monitor.WithRoots(device.Roots{
			SysFS:   cfg.Host.SysFS,
			DevFS:   cfg.Host.DevFS,
			DebugFS: cfg.Host.DebugFS,
		}),
		monitor.WithProcFSPath(cfg.Host.ProcFS),
		monitor.WithProfile(profile),
		monitor.WithIndexInterval(cfg.Monitor.IndexInterval),
		monitor.WithDevices(cfg.Monitor.Devices),
		monitor.WithPerfCounters(*cfg.PerfCounter.GRBM, *cfg.PerfCounter.GRBM2),
		monitor.WithPCIeBandwidth(*cfg.Sensors.PCIeBandwidth),
		monitor.WithSort(sortBy, *cfg.Monitor.Reverse),
	), nil
}
