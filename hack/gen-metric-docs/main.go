// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// gen-metric-docs writes the reference of the metrics exported by amdgpu-top
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/amdgpu-top/config"
	"github.com/sustainable-computing-io/amdgpu-top/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
)

// MetricInfo holds information about a Prometheus metric
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
}

// idleMonitor never publishes; collectors only need it to exist for Describe
type idleMonitor struct{}

func (idleMonitor) DataChannel() <-chan struct{} {
	return nil
}

func (idleMonitor) Snapshot() (*monitor.Snapshot, error) {
	return &monitor.Snapshot{}, nil
}

var (
	fqNameRe = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRe   = regexp.MustCompile(`help: "([^"]+)"`)
	labelsRe = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
)

// extractMetricsInfo parses the descriptors a collector describes
func extractMetricsInfo(c prometheus.Collector) []MetricInfo {
	ch := make(chan *prometheus.Desc, 64)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var metrics []MetricInfo
	for desc := range ch {
		s := desc.String()
		name := fqNameRe.FindStringSubmatch(s)
		help := helpRe.FindStringSubmatch(s)
		if name == nil || help == nil {
			slog.Warn("skipping unparsable descriptor", "desc", s)
			continue
		}

		var labels []string
		if m := labelsRe.FindStringSubmatch(s); m != nil && m[1] != "" {
			for l := range strings.SplitSeq(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		typ := "GAUGE"
		if strings.HasSuffix(name[1], "_total") {
			typ = "COUNTER"
		}
		metrics = append(metrics, MetricInfo{Name: name[1], Type: typ, Description: help[1], Labels: labels})
	}
	return metrics
}

// section groups metrics by name prefix. The level is the --metrics value
// that enables the section.
type section struct {
	prefix string
	title  string
	level  string
	about  string
}

var sections = []section{
	{"amdgpu_device_", "Device Metrics", "device", "Identity, power state, activity, memory heaps and engine usage summed over processes."},
	{"amdgpu_process_", "Process Metrics", "process", "Per process usage derived from DRM fdinfo, averaged over the last interval."},
	{"amdgpu_sensor_", "Sensor Metrics", "sensor", "Clocks, voltages, temperatures, power, fan and PCIe link state from the driver and hwmon."},
	{"amdgpu_perfcounter_", "Performance Counter Metrics", "perfcounter", "Busy ratio of functional blocks sampled from the GRBM and GRBM2 status registers."},
	{"amdgpu_gpu_metrics_", "GPU Metrics", "gpumetrics", "Members of the firmware gpu_metrics table, exported as reported."},
}

// generateMarkdown renders the metrics grouped by section
func generateMarkdown(metrics []MetricInfo) string {
	metrics = slices.Clone(metrics)
	slices.SortFunc(metrics, func(a, b MetricInfo) int { return strings.Compare(a.Name, b.Name) })

	var md strings.Builder
	md.WriteString("# amdgpu-top Metrics\n\n")
	md.WriteString("Metrics exported on `/metrics` for every monitored AMD GPU. ")
	md.WriteString("Every metric carries the `device` label holding the PCI address of the device.\n\n")
	md.WriteString("Groups are enabled with `--metrics` (repeatable, default all).\n\n")
	md.WriteString("## Metrics Reference\n\n")

	used := make([]bool, len(metrics))
	for _, s := range sections {
		var in []MetricInfo
		for i, m := range metrics {
			if !used[i] && strings.HasPrefix(m.Name, s.prefix) {
				in = append(in, m)
				used[i] = true
			}
		}
		if len(in) == 0 {
			continue
		}
		fmt.Fprintf(&md, "### %s\n\n%s Enabled by `--metrics=%s`.\n\n", s.title, s.about, s.level)
		writeMetricsSection(&md, in)
	}

	var other []MetricInfo
	for i, m := range metrics {
		if !used[i] {
			other = append(other, m)
		}
	}
	if len(other) > 0 {
		md.WriteString("### Other Metrics\n\n")
		writeMetricsSection(&md, other)
	}

	md.WriteString("---\n\n")
	md.WriteString("This documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

func writeMetricsSection(md *strings.Builder, metrics []MetricInfo) {
	for _, m := range metrics {
		fmt.Fprintf(md, "#### %s\n\n", m.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", m.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", m.Description)
		if len(m.Labels) > 0 {
			md.WriteString("- **Labels**:\n")
			for _, l := range m.Labels {
				fmt.Fprintf(md, "  - `%s`\n", l)
			}
		}
		md.WriteString("\n")
	}
}

func run(output string, log io.Writer) error {
	logger := slog.New(slog.NewTextHandler(log, nil))

	collectors := map[string]prometheus.Collector{
		"gpu":        collector.NewGPUCollector(idleMonitor{}, logger, config.MetricsLevelAll),
		"build_info": collector.NewBuildInfoCollector(),
	}

	var all []MetricInfo
	for name, c := range collectors {
		metrics := extractMetricsInfo(c)
		logger.Info("extracted metrics", "collector", name, "count", len(metrics))
		all = append(all, metrics...)
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, []byte(generateMarkdown(all)), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown file: %w", err)
	}
	logger.Info("metrics documentation generated", "path", output, "metrics", len(all))
	return nil
}

func main() {
	output := flag.String("output", "docs/metrics.md", "Path to output Markdown file")
	flag.Parse()

	if err := run(*output, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
