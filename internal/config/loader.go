package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Loader handles loading configuration from command-line arguments and
// project configuration files.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// ErrProjectRequired is returned when no project name is given.
var ErrProjectRequired = errors.New("project name is required")

// savedConfigNames are the configuration copies searched for when
// re-processing a results directory.
var savedConfigNames = []string{"config.cfg", "config.ini", "config.yaml", "config.yml", "config.json", "config.toml"}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments into a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	positional := flagSet.Args()
	if len(positional) == 0 {
		cmd.SetOut(os.Stderr)
		displayHelp(cmd)
		return nil, ErrProjectRequired
	}
	if len(positional) > 1 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	cfg := &Config{
		Project:     strings.TrimSpace(positional[0]),
		ProjectsDir: ".",
		ConfigFile:  DefaultConfigFile,
		BindAddr:    "localhost",
		LogLevel:    "info",
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRunConfig reads and parses a project configuration file. The format
// is chosen by extension: .cfg and .ini are INI files, anything else is
// read through viper.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	rc, err := ParseRunConfig(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	rc.Path = path
	return rc, nil
}

// ParseRunConfig parses configuration content in the given format
// ("cfg", "ini", "yaml", "yml", "json" or "toml").
func ParseRunConfig(data []byte, format string) (*RunConfig, error) {
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	var (
		sections []section
		err      error
	)
	switch format {
	case "", "cfg", "ini", "conf":
		sections, err = readINI(data)
	default:
		sections, err = readViper(data, format)
	}
	if err != nil {
		return nil, err
	}
	rc, err := buildRunConfig(sections)
	if err != nil {
		return nil, err
	}
	rc.Raw = append([]byte(nil), data...)
	return rc, nil
}

// FindSavedConfig locates the configuration copy saved in a results
// directory.
func FindSavedConfig(dir string) (string, error) {
	for _, name := range savedConfigNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no saved configuration in %s", dir)
}

// SavedConfigName is the file name a configuration copy is stored under
// in a results directory.
func SavedConfigName(path string) string {
	switch formatOf(path) {
	case "cfg", "ini", "conf", "":
		return "config.cfg"
	default:
		return "config" + strings.ToLower(filepath.Ext(path))
	}
}

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

type section struct {
	name   string
	values map[string]interface{}
}

// readINI keeps section order. Keys of the DEFAULT section are inherited
// by every other section.
func readINI(data []byte) ([]section, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:     true,
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return nil, err
	}

	defaults := file.Section(ini.DefaultSection).KeysHash()
	var sections []section
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		values := make(map[string]interface{}, len(defaults)+len(sec.Keys()))
		for k, v := range defaults {
			values[k] = v
		}
		for k, v := range sec.KeysHash() {
			values[k] = v
		}
		sections = append(sections, section{name: sec.Name(), values: values})
	}
	return sections, nil
}

// readViper reads map-based formats; sections come back in lexical order.
func readViper(data []byte, format string) ([]section, error) {
	cfgViper := viper.New()
	cfgViper.SetConfigType(format)
	if err := cfgViper.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	settings := cfgViper.AllSettings()

	var sections []section
	for _, name := range sortedKeys(settings) {
		values, err := toStringKeyMap(settings[name])
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
		sections = append(sections, section{name: name, values: values})
	}
	return sections, nil
}

func buildRunConfig(sections []section) (*RunConfig, error) {
	rc := &RunConfig{}
	foundGlobal := false
	for _, sec := range sections {
		if strings.EqualFold(sec.name, GlobalSection) {
			foundGlobal = true
			if err := applyGlobalSettings(rc, sec.values); err != nil {
				return nil, err
			}
			continue
		}
		grp, err := parseGroup(sec.name, sec.values)
		if err != nil {
			return nil, err
		}
		rc.Groups = append(rc.Groups, grp)
	}
	if !foundGlobal {
		rc.missing = append(rc.missing, "missing [global] section")
	}
	return rc, nil
}

func applyGlobalSettings(rc *RunConfig, settings map[string]interface{}) error {
	g := GlobalConfig{
		ProgressBar:      true,
		ResultsStreamKey: "multimech:results",
		Settings:         map[string]string{},
	}
	if err := flattenSettings("", settings, g.Settings); err != nil {
		return fmt.Errorf("global: %w", err)
	}

	if raw, ok := lookupSetting(settings, "run_time"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("global.run_time: %w", err)
		}
		g.RunTime = dur
	}

	if raw, ok := lookupSetting(settings, "rampup"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("global.rampup: %w", err)
		}
		g.Rampup = dur
	} else {
		rc.missing = append(rc.missing, "missing required key global.rampup")
	}

	if raw, ok := lookupSetting(settings, "results_ts_interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("global.results_ts_interval: %w", err)
		}
		g.ResultsInterval = dur
	}

	boolSettings := []struct {
		key string
		dst *bool
	}{
		{"console_logging", &g.ConsoleLogging},
		{"progress_bar", &g.ProgressBar},
		{"xml_report", &g.XMLReport},
		{"tracing_insecure", &g.Tracing.Insecure},
	}
	for _, bs := range boolSettings {
		if raw, ok := lookupSetting(settings, bs.key); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("global.%s: %w", bs.key, err)
			}
			*bs.dst = val
		}
	}

	stringSettings := []struct {
		key string
		dst *string
	}{
		{"results_database", &g.ResultsDatabase},
		{"post_run_script", &g.PostRunScript},
		{"results_stream", &g.ResultsStream},
		{"results_stream_key", &g.ResultsStreamKey},
		{"tracing_endpoint", &g.Tracing.Endpoint},
		{"tracing_protocol", &g.Tracing.Protocol},
		{"tracing_service_name", &g.Tracing.ServiceName},
	}
	for _, ss := range stringSettings {
		if raw, ok := lookupSetting(settings, ss.key); ok {
			val, err := asOptionalString(raw)
			if err != nil {
				return fmt.Errorf("global.%s: %w", ss.key, err)
			}
			if val != "" || ss.key != "results_stream_key" {
				*ss.dst = val
			}
		}
	}
	g.Tracing.Protocol = strings.ToLower(g.Tracing.Protocol)

	g.Tracing.SampleRate = 1
	if raw, ok := lookupSetting(settings, "tracing_sample_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("global.tracing_sample_rate: %w", err)
		}
		g.Tracing.SampleRate = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		items, err := asStringSlice(raw, ";")
		if err != nil {
			return fmt.Errorf("global.thresholds: %w", err)
		}
		g.Thresholds = items
	}

	rc.Global = g
	return nil
}

func parseGroup(name string, settings map[string]interface{}) (GroupConfig, error) {
	g := GroupConfig{
		Name:      name,
		Processes: 1,
		Settings:  map[string]string{},
	}
	if err := flattenSettings("", settings, g.Settings); err != nil {
		return g, fmt.Errorf("%s: %w", name, err)
	}

	if raw, ok := lookupSetting(settings, "script"); ok {
		val, err := asString(raw)
		if err != nil {
			return g, fmt.Errorf("%s.script: %w", name, err)
		}
		g.Script = strings.TrimSpace(val)
	}

	intSettings := []struct {
		key string
		dst *int
	}{
		{"threads", &g.Threads},
		{"processes", &g.Processes},
	}
	for _, is := range intSettings {
		if raw, ok := lookupSetting(settings, is.key); ok {
			val, err := asInt(raw)
			if err != nil {
				return g, fmt.Errorf("%s.%s: %w", name, is.key, err)
			}
			*is.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "rampup"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return g, fmt.Errorf("%s.rampup: %w", name, err)
		}
		g.Rampup = dur
	}

	if raw, ok := lookupSetting(settings, "starttime"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return g, fmt.Errorf("%s.starttime: %w", name, err)
		}
		g.StartTime = dur
	}

	if raw, ok := lookupSetting(settings, "max_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return g, fmt.Errorf("%s.max_rate: %w", name, err)
		}
		g.MaxRate = val
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		val, err := asOptionalString(raw)
		if err != nil {
			return g, fmt.Errorf("%s.arrival: %w", name, err)
		}
		g.Arrival = strings.ToLower(val)
	}

	return g, nil
}
