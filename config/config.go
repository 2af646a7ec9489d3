// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/amdgpu-top/internal/fdinfo"
	"github.com/sustainable-computing-io/amdgpu-top/internal/perfcounter"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS   string `yaml:"sysfs"`
		ProcFS  string `yaml:"procfs"`
		DevFS   string `yaml:"devfs"`
		DebugFS string `yaml:"debugfs"`
	}

	Monitor struct {
		Profile       string        `yaml:"profile"`       // register sampling profile: low or high
		IndexInterval time.Duration `yaml:"indexInterval"` // how often procfs is scanned for device clients

		// Devices restricts monitoring to the listed PCI addresses; empty monitors all
		Devices []string `yaml:"devices"`

		Sort    string `yaml:"sort"`
		Reverse *bool  `yaml:"reverse"`
	}

	// PerfCounter selects the status registers to sample
	PerfCounter struct {
		GRBM  *bool `yaml:"grbm"`
		GRBM2 *bool `yaml:"grbm2"`
	}

	Sensors struct {
		// PCIeBandwidth reads pcie_bw in the background; each read blocks for a second
		PCIeBandwidth *bool `yaml:"pcieBandwidth"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
		MetricsLevel    Level    `yaml:"metricsLevel"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		Monitor     Monitor     `yaml:"monitor"`
		PerfCounter PerfCounter `yaml:"perfCounter"`
		Sensors     Sensors     `yaml:"sensors"`
		Exporter    Exporter    `yaml:"exporter"`
		Web         Web         `yaml:"web"`
		Debug       Debug       `yaml:"debug"`
	}
)

// MetricsLevelValue is a custom kingpin.Value that parses metrics levels directly into metrics.Level
type MetricsLevelValue struct {
	level *Level
}

// NewMetricsLevelValue creates a new MetricsLevelValue with the given target
func NewMetricsLevelValue(target *Level) *MetricsLevelValue {
	return &MetricsLevelValue{level: target}
}

// Set implements kingpin.Value interface - parses and accumulates metrics levels
func (m *MetricsLevelValue) Set(value string) error {
	level, err := ParseLevel([]string{value})
	if err != nil {
		return err
	}

	// the first value replaces the default
	if *m.level == MetricsLevelAll {
		*m.level = 0
	}

	*m.level |= level
	return nil
}

// String implements kingpin.Value interface
func (m *MetricsLevelValue) String() string {
	return m.level.String()
}

// IsCumulative implements kingpin.Value interface to support multiple values
func (m *MetricsLevelValue) IsCumulative() bool {
	return true
}

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

// DefaultListenAddress is the address the web server binds when none is configured
const DefaultListenAddress = ":28282"

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag   = "host.sysfs"
	HostProcFSFlag  = "host.procfs"
	HostDevFSFlag   = "host.devfs"
	HostDebugFSFlag = "host.debugfs"

	MonitorProfileFlag       = "monitor.profile"
	MonitorIndexIntervalFlag = "monitor.index-interval"
	MonitorDeviceFlag        = "monitor.device"
	MonitorSortFlag          = "monitor.sort"
	MonitorReverseFlag       = "monitor.reverse"

	PerfCounterGRBMFlag  = "perfcounter.grbm"
	PerfCounterGRBM2Flag = "perfcounter.grbm2"

	SensorsPCIeBandwidthFlag = "sensors.pcie-bw"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"
	// NOTE: not a flag
	ExporterStdoutInterval = "exporter.stdout.interval"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
	ExporterPrometheusMetricsFlag     = "metrics"
)

var pciAddrRe = regexp.MustCompile(`^[0-9a-f]{4}:[0-9a-f]{2}:[0-9a-f]{2}\.[0-7]$`)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:   "/sys",
			ProcFS:  "/proc",
			DevFS:   "/dev",
			DebugFS: "/sys/kernel/debug",
		},
		Monitor: Monitor{
			Profile:       "low",
			IndexInterval: 5 * time.Second,
			Devices:       []string{},
			Sort:          fdinfo.DefaultSort.String(),
			Reverse:       ptr.To(false),
		},
		PerfCounter: PerfCounter{
			GRBM:  ptr.To(true),
			GRBM2: ptr.To(true),
		},
		Sensors: Sensors{
			PCIeBandwidth: ptr.To(false),
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 5 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
				MetricsLevel:    MetricsLevelAll,
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
	}

	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		// ignored on purpose
		_ = file.Close()
	}()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()
	hostDevFS := app.Flag(HostDevFSFlag, "Host devfs path").Default("/dev").ExistingDir()
	hostDebugFS := app.Flag(HostDebugFSFlag, "Host debugfs path; GFXOFF state needs root").Default("/sys/kernel/debug").String()

	// monitor
	monitorProfile := app.Flag(MonitorProfileFlag, "Register sampling profile: low or high").Default("low").Enum("low", "high")
	monitorIndexInterval := app.Flag(MonitorIndexIntervalFlag,
		"Interval for scanning processes using the devices; 0 to scan once").Default("5s").Duration()
	monitorDevices := app.Flag(MonitorDeviceFlag, "PCI address of a device to monitor; repeat for more. Default all").Strings()
	monitorSort := app.Flag(MonitorSortFlag, "Process list sort key").Default(fdinfo.DefaultSort.String()).String()
	monitorReverse := app.Flag(MonitorReverseFlag, "Reverse the process list order").Default("false").Bool()

	// perf counters
	grbm := app.Flag(PerfCounterGRBMFlag, "Sample the GRBM status register").Default("true").Bool()
	grbm2 := app.Flag(PerfCounterGRBM2Flag, "Sample the GRBM2 status register").Default("true").Bool()

	pcieBW := app.Flag(SensorsPCIeBandwidthFlag, "Read PCIe bandwidth from pcie_bw where supported").Default("false").Bool()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultListenAddress).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	metricsLevel := MetricsLevelAll
	app.Flag(ExporterPrometheusMetricsFlag, "Metrics levels to export (device,process,sensor,perfcounter,gpumetrics)").SetValue(NewMetricsLevelValue(&metricsLevel))

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[HostDevFSFlag] {
			cfg.Host.DevFS = *hostDevFS
		}

		if flagsSet[HostDebugFSFlag] {
			cfg.Host.DebugFS = *hostDebugFS
		}

		// monitor settings
		if flagsSet[MonitorProfileFlag] {
			cfg.Monitor.Profile = *monitorProfile
		}
		if flagsSet[MonitorIndexIntervalFlag] {
			cfg.Monitor.IndexInterval = *monitorIndexInterval
		}
		if flagsSet[MonitorDeviceFlag] {
			cfg.Monitor.Devices = *monitorDevices
		}
		if flagsSet[MonitorSortFlag] {
			cfg.Monitor.Sort = *monitorSort
		}
		if flagsSet[MonitorReverseFlag] {
			cfg.Monitor.Reverse = monitorReverse
		}

		if flagsSet[PerfCounterGRBMFlag] {
			cfg.PerfCounter.GRBM = grbm
		}
		if flagsSet[PerfCounterGRBM2Flag] {
			cfg.PerfCounter.GRBM2 = grbm2
		}

		if flagsSet[SensorsPCIeBandwidthFlag] {
			cfg.Sensors.PCIeBandwidth = pcieBW
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		if flagsSet[ExporterPrometheusMetricsFlag] {
			cfg.Exporter.Prometheus.MetricsLevel = metricsLevel
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Host.DevFS = strings.TrimSpace(c.Host.DevFS)
	c.Host.DebugFS = strings.TrimSpace(c.Host.DebugFS)
	c.Monitor.Profile = strings.ToLower(strings.TrimSpace(c.Monitor.Profile))
	c.Monitor.Sort = strings.ToLower(strings.TrimSpace(c.Monitor.Sort))
	for i := range c.Monitor.Devices {
		c.Monitor.Devices[i] = strings.ToLower(strings.TrimSpace(c.Monitor.Devices[i]))
	}
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
			if err := canReadDir(c.Host.DevFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid devfs path: %s: %s ", c.Host.DevFS, err.Error()))
			}
			// debugfs is optional: it is usually readable by root only
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Monitor
		if _, err := perfcounter.ParseProfile(c.Monitor.Profile); err != nil {
			errs = append(errs, fmt.Sprintf("invalid monitor profile: %s", c.Monitor.Profile))
		}
		if c.Monitor.IndexInterval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor index interval: %s can't be negative", c.Monitor.IndexInterval))
		}
		if _, err := fdinfo.ParseSortType(c.Monitor.Sort); err != nil {
			errs = append(errs, fmt.Sprintf("invalid monitor sort: %s", c.Monitor.Sort))
		}
		for _, pci := range c.Monitor.Devices {
			if !pciAddrRe.MatchString(pci) {
				errs = append(errs, fmt.Sprintf("invalid device PCI address: %q", pci))
			}
		}
	}
	{ // Exporters
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout exporter interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// host can be empty for listening on all interfaces
	return validatePort(port)
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{HostDevFSFlag, c.Host.DevFS},
		{HostDebugFSFlag, c.Host.DebugFS},
		{MonitorProfileFlag, c.Monitor.Profile},
		{MonitorIndexIntervalFlag, c.Monitor.IndexInterval.String()},
		{MonitorDeviceFlag, strings.Join(c.Monitor.Devices, ", ")},
		{MonitorSortFlag, c.Monitor.Sort},
		{MonitorReverseFlag, fmt.Sprintf("%v", ptr.Deref(c.Monitor.Reverse, false))},
		{PerfCounterGRBMFlag, fmt.Sprintf("%v", ptr.Deref(c.PerfCounter.GRBM, false))},
		{PerfCounterGRBM2Flag, fmt.Sprintf("%v", ptr.Deref(c.PerfCounter.GRBM2, false))},
		{SensorsPCIeBandwidthFlag, fmt.Sprintf("%v", ptr.Deref(c.Sensors.PCIeBandwidth, false))},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutInterval, c.Exporter.Stdout.Interval.String()},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterPrometheusMetricsFlag, c.Exporter.Prometheus.MetricsLevel.String()},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
