package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/threshold"
)

// DefaultConfigFile is the project configuration file name used when -c is
// not given.
const DefaultConfigFile = "config.cfg"

// GlobalSection is the reserved section holding run-wide settings.
const GlobalSection = "global"

// Mode selects what a single invocation does.
type Mode string

const (
	ModeRun     Mode = "run"
	ModeResults Mode = "results"
	ModeServer  Mode = "server"
)

// Config is one command-line invocation.
type Config struct {
	Project     string
	ProjectsDir string
	ConfigFile  string
	ResultsDir  string
	OutputDir   string
	BindAddr    string
	Port        int
	LogLevel    string
}

// Mode resolves the invocation mode. Re-processing results wins over the
// RPC server, which wins over a normal run.
func (c Config) Mode() Mode {
	switch {
	case c.ResultsDir != "":
		return ModeResults
	case c.Port > 0:
		return ModeServer
	default:
		return ModeRun
	}
}

// ProjectDir returns <projects>/<project>.
func (c Config) ProjectDir() string {
	return filepath.Join(c.ProjectsDir, c.Project)
}

// ScriptsDir returns the directory transactions are loaded from.
func (c Config) ScriptsDir() string {
	return filepath.Join(c.ProjectDir(), "test_scripts")
}

// ConfigPath returns the project's configuration file path.
func (c Config) ConfigPath() string {
	if filepath.IsAbs(c.ConfigFile) {
		return c.ConfigFile
	}
	return filepath.Join(c.ProjectDir(), c.ConfigFile)
}

// Validate checks the invocation itself; project configuration is
// validated separately by RunConfig.Validate.
func (c Config) Validate() error {
	var issues []string
	if strings.TrimSpace(c.Project) == "" {
		issues = append(issues, "project name is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		issues = append(issues, "port must be between 0 and 65535")
	}
	if strings.TrimSpace(c.ConfigFile) == "" {
		issues = append(issues, "configfile must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("unsupported log level %q", c.LogLevel))
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// RunConfig is a parsed project configuration file.
type RunConfig struct {
	Path string
	// Raw is the content the configuration was parsed from. A run saves
	// these bytes, not the file as it is at the end of the run.
	Raw    []byte
	Global GlobalConfig
	Groups []GroupConfig

	// required keys absent from the file, reported by Validate
	missing []string
}

// GlobalConfig holds the [global] section.
type GlobalConfig struct {
	RunTime          time.Duration
	Rampup           time.Duration
	ResultsInterval  time.Duration
	ConsoleLogging   bool
	ProgressBar      bool
	ResultsDatabase  string
	PostRunScript    string
	XMLReport        bool
	Thresholds       []string
	ResultsStream    string
	ResultsStreamKey string
	Tracing          TracingConfig
	// Settings holds every key of the section verbatim.
	Settings map[string]string
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string
	Protocol    string
	Insecure    bool
	SampleRate  float64
	ServiceName string
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// GroupConfig holds one user group section.
type GroupConfig struct {
	Name      string
	Script    string
	Processes int
	Threads   int
	Rampup    time.Duration
	StartTime time.Duration
	MaxRate   float64
	Arrival   string
	// Settings holds every key of the section verbatim; it is what the
	// group's transactions receive.
	Settings map[string]string
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate reports every problem with the configuration at once.
func (r RunConfig) Validate() error {
	issues := append([]string(nil), r.missing...)

	g := r.Global
	if g.RunTime <= 0 {
		issues = append(issues, "global.run_time must be greater than zero")
	}
	if g.Rampup < 0 {
		issues = append(issues, "global.rampup must not be negative")
	}
	if g.ResultsInterval <= 0 {
		issues = append(issues, "global.results_ts_interval must be greater than zero")
	}
	if _, err := threshold.ParseMultiple(g.Thresholds); err != nil {
		issues = append(issues, err.Error())
	}
	if g.Tracing.Enabled() {
		switch g.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			issues = append(issues, fmt.Sprintf("global.tracing_protocol must be grpc or http, got %q", g.Tracing.Protocol))
		}
		if g.Tracing.SampleRate < 0 || g.Tracing.SampleRate > 1 {
			issues = append(issues, "global.tracing_sample_rate must be between 0 and 1")
		}
	}

	if len(r.Groups) == 0 {
		issues = append(issues, "at least one user group section is required")
	}
	seen := map[string]bool{}
	for _, grp := range r.Groups {
		issues = append(issues, validateGroup(grp)...)
		if seen[grp.Name] {
			issues = append(issues, fmt.Sprintf("%s: duplicate group name", grp.Name))
		}
		seen[grp.Name] = true
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateGroup(g GroupConfig) []string {
	var issues []string
	if strings.ContainsAny(g.Name, ",\r\n") {
		issues = append(issues, fmt.Sprintf("%q: group names must not contain commas or line breaks", g.Name))
	}
	if strings.TrimSpace(g.Script) == "" {
		issues = append(issues, fmt.Sprintf("%s.script is required", g.Name))
	}
	if g.Threads < 1 {
		issues = append(issues, fmt.Sprintf("%s.threads must be at least 1", g.Name))
	}
	if g.Processes < 1 {
		issues = append(issues, fmt.Sprintf("%s.processes must be at least 1", g.Name))
	}
	if g.Rampup < 0 {
		issues = append(issues, fmt.Sprintf("%s.rampup must not be negative", g.Name))
	}
	if g.StartTime < 0 {
		issues = append(issues, fmt.Sprintf("%s.starttime must not be negative", g.Name))
	}
	if g.MaxRate < 0 {
		issues = append(issues, fmt.Sprintf("%s.max_rate must not be negative", g.Name))
	}
	switch g.Arrival {
	case "", runner.ArrivalUniform, runner.ArrivalPoisson:
	default:
		issues = append(issues, fmt.Sprintf("%s.arrival must be uniform or poisson, got %q", g.Name, g.Arrival))
	}
	return issues
}

// GlobalSpec converts the global section for the runner.
func (r RunConfig) GlobalSpec() runner.GlobalSpec {
	return runner.GlobalSpec{
		RunTime:         r.Global.RunTime,
		Rampup:          r.Global.Rampup,
		ResultsInterval: r.Global.ResultsInterval,
		Settings:        r.Global.Settings,
	}
}

// GroupSpecs converts the group sections for the runner, in file order.
func (r RunConfig) GroupSpecs() []runner.GroupSpec {
	specs := make([]runner.GroupSpec, 0, len(r.Groups))
	for _, g := range r.Groups {
		specs = append(specs, runner.GroupSpec{
			Name:       g.Name,
			Script:     g.Script,
			Processes:  g.Processes,
			Threads:    g.Threads,
			Rampup:     g.Rampup,
			StartDelay: g.StartTime,
			MaxRate:    g.MaxRate,
			Arrival:    g.Arrival,
			Settings:   g.Settings,
		})
	}
	return specs
}

// Topology validates the configuration and builds the run topology.
func (r RunConfig) Topology(resolver runner.Resolver) (runner.Topology, error) {
	if err := r.Validate(); err != nil {
		return runner.Topology{}, err
	}
	return runner.BuildTopology(r.GlobalSpec(), r.GroupSpecs(), resolver)
}

// TotalWorkers returns the configured number of workers across every
// process of every group.
func (r RunConfig) TotalWorkers() int {
	total := 0
	for _, g := range r.Groups {
		total += g.Processes * g.Threads
	}
	return total
}
