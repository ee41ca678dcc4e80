package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/multimech/internal/config"
)

const sampleINI = `[DEFAULT]
timeout = 10

[global]
run_time = 30
rampup = 5
results_ts_interval = 10
progress_bar = off
console_logging = yes
results_database = None
post_run_script = hooks/notify.sh
thresholds = transaction_duration:p95 < 500; transaction_failed:rate < 0.01

[user_group-2]
threads = 3
script = browse.js
url = http://example.com/#anchor

[user_group-1]
threads = 2
script = http
processes = 2
rampup = 4
starttime = 1.5
max_rate = 20
arrival = Poisson
Header.X-Token = abc
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"demo"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Project != "demo" {
		t.Errorf("Project = %q, want demo", cfg.Project)
	}
	if cfg.ProjectsDir != "." {
		t.Errorf("ProjectsDir = %q, want .", cfg.ProjectsDir)
	}
	if cfg.ConfigFile != "config.cfg" {
		t.Errorf("ConfigFile = %q, want config.cfg", cfg.ConfigFile)
	}
	if cfg.BindAddr != "localhost" {
		t.Errorf("BindAddr = %q, want localhost", cfg.BindAddr)
	}
	if cfg.Mode() != config.ModeRun {
		t.Errorf("Mode() = %s, want run", cfg.Mode())
	}
	if got := cfg.ConfigPath(); got != filepath.Join("demo", "config.cfg") {
		t.Errorf("ConfigPath() = %q", got)
	}
	if got := cfg.ScriptsDir(); got != filepath.Join("demo", "test_scripts") {
		t.Errorf("ScriptsDir() = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{
		"-p", "9000", "-b", "0.0.0.0", "-d", "/srv/projects", "-o", "/tmp/out",
		"-c", "load.yaml", "--log-level", "DEBUG", "shop",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9000 || cfg.BindAddr != "0.0.0.0" {
		t.Errorf("unexpected server flags: %d %s", cfg.Port, cfg.BindAddr)
	}
	if cfg.ProjectsDir != "/srv/projects" || cfg.OutputDir != "/tmp/out" {
		t.Errorf("unexpected dirs: %s %s", cfg.ProjectsDir, cfg.OutputDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Mode() != config.ModeServer {
		t.Errorf("Mode() = %s, want server", cfg.Mode())
	}
	if got := cfg.ConfigPath(); got != filepath.Join("/srv/projects", "shop", "load.yaml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestLoadResultsModeWins(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"shop", "-p", "9000", "-r", "results_2024.01.01_00.00.00"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode() != config.ModeResults {
		t.Fatalf("Mode() = %s, want results", cfg.Mode())
	}
}

func TestLoadRequiresProject(t *testing.T) {
	_, err := config.NewLoader().Load(nil)
	if !errors.Is(err, config.ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("expected ErrHelpRequested, got %v", err)
	}
}

func TestLoadRejectsExtraArguments(t *testing.T) {
	if _, err := config.NewLoader().Load([]string{"a", "b"}); err == nil {
		t.Fatal("expected error for extra positional arguments")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := config.Config{Project: "demo", ConfigFile: "config.cfg", Port: 70000, LogLevel: "trace"}
	err := cfg.Validate()
	var vErr config.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Issues()) != 2 {
		t.Fatalf("expected 2 issues, got %v", vErr.Issues())
	}
}

func TestLoadRunConfigINI(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.cfg", sampleINI)

	rc, err := config.LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig() error = %v", err)
	}
	if err := rc.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if string(rc.Raw) != sampleINI {
		t.Errorf("expected Raw to hold the parsed content, got %d bytes", len(rc.Raw))
	}

	g := rc.Global
	if g.RunTime != 30*time.Second || g.Rampup != 5*time.Second || g.ResultsInterval != 10*time.Second {
		t.Errorf("unexpected global durations: %s %s %s", g.RunTime, g.Rampup, g.ResultsInterval)
	}
	if g.ProgressBar {
		t.Error("ProgressBar = true, want false")
	}
	if !g.ConsoleLogging {
		t.Error("ConsoleLogging = false, want true")
	}
	if g.ResultsDatabase != "" {
		t.Errorf("ResultsDatabase = %q, want empty for None", g.ResultsDatabase)
	}
	if g.PostRunScript != "hooks/notify.sh" {
		t.Errorf("PostRunScript = %q", g.PostRunScript)
	}
	if len(g.Thresholds) != 2 || g.Thresholds[1] != "transaction_failed:rate < 0.01" {
		t.Errorf("unexpected thresholds %q", g.Thresholds)
	}
	if g.ResultsStreamKey != "multimech:results" {
		t.Errorf("ResultsStreamKey = %q", g.ResultsStreamKey)
	}
	if g.Settings["timeout"] != "10" {
		t.Errorf("DEFAULT keys not inherited by global: %v", g.Settings)
	}

	if len(rc.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rc.Groups))
	}
	// file order, not lexical
	if rc.Groups[0].Name != "user_group-2" || rc.Groups[1].Name != "user_group-1" {
		t.Fatalf("group order not preserved: %s, %s", rc.Groups[0].Name, rc.Groups[1].Name)
	}
	first := rc.Groups[0]
	if first.Processes != 1 || first.Threads != 3 || first.Script != "browse.js" {
		t.Errorf("unexpected first group: %+v", first)
	}
	if first.Settings["url"] != "http://example.com/#anchor" {
		t.Errorf("inline comment stripped from value: %q", first.Settings["url"])
	}
	if first.Settings["timeout"] != "10" {
		t.Errorf("DEFAULT keys not inherited by group: %v", first.Settings)
	}
	second := rc.Groups[1]
	if second.Processes != 2 || second.Rampup != 4*time.Second || second.StartTime != 1500*time.Millisecond {
		t.Errorf("unexpected second group: %+v", second)
	}
	if second.MaxRate != 20 || second.Arrival != "poisson" {
		t.Errorf("MaxRate, Arrival = %v, %q, want 20, poisson", second.MaxRate, second.Arrival)
	}
	if second.Settings["header.x-token"] != "abc" {
		t.Errorf("keys should be case-insensitive: %v", second.Settings)
	}
	if rc.TotalWorkers() != 7 {
		t.Errorf("TotalWorkers() = %d, want 7", rc.TotalWorkers())
	}

	topo, err := rc.Topology(nil)
	if err != nil {
		t.Fatalf("Topology() error = %v", err)
	}
	if topo.Processes() != 3 {
		t.Errorf("Processes() = %d, want 3", topo.Processes())
	}
	if topo.Entries[1].Rampup != 9*time.Second {
		t.Errorf("effective ramp = %s, want 9s", topo.Entries[1].Rampup)
	}
}

func TestLoadRunConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "load.yaml", `
global:
  run_time: 60
  rampup: 0
  results_ts_interval: 5
  xml_report: true
  thresholds:
    - "transactions:count > 10"
  tracing_endpoint: localhost:4317
  tracing_sample_rate: 0.5
zeta:
  threads: 1
  script: websocket
  messages: [ping, pong]
alpha:
  threads: 4
  script: login.js
  header:
    Authorization: Bearer x
`)
	rc, err := config.LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig() error = %v", err)
	}
	if err := rc.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !rc.Global.XMLReport {
		t.Error("XMLReport = false, want true")
	}
	if !rc.Global.Tracing.Enabled() || rc.Global.Tracing.SampleRate != 0.5 {
		t.Errorf("unexpected tracing config %+v", rc.Global.Tracing)
	}
	if len(rc.Global.Thresholds) != 1 {
		t.Errorf("unexpected thresholds %q", rc.Global.Thresholds)
	}
	if len(rc.Groups) != 2 || rc.Groups[0].Name != "alpha" {
		t.Fatalf("expected lexical group order, got %+v", rc.Groups)
	}
	if rc.Groups[0].Settings["header.authorization"] != "Bearer x" {
		t.Errorf("nested settings not flattened: %v", rc.Groups[0].Settings)
	}
	if rc.Groups[1].Settings["messages"] != "ping|pong" {
		t.Errorf("list settings not joined: %v", rc.Groups[1].Settings)
	}
}

func TestRunConfigValidateCollectsIssues(t *testing.T) {
	rc, err := config.ParseRunConfig([]byte(`
[global]
run_time = 0
results_ts_interval = 10
thresholds = bogus

[bad,name]
threads = 0
processes = 0
starttime = -1
arrival = burst
`), "cfg")
	if err != nil {
		t.Fatalf("ParseRunConfig() error = %v", err)
	}
	err = rc.Validate()
	var vErr config.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	joined := strings.Join(vErr.Issues(), "\n")
	for _, want := range []string{
		"global.rampup",
		"global.run_time",
		"threshold",
		"must not contain commas",
		"script is required",
		"threads must be at least 1",
		"processes must be at least 1",
		"starttime must not be negative",
		"arrival must be uniform or poisson",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing issue %q in:\n%s", want, joined)
		}
	}
}

func TestRunConfigRequiresGlobalSection(t *testing.T) {
	rc, err := config.ParseRunConfig([]byte("[g]\nthreads = 1\nscript = http\n"), "ini")
	if err != nil {
		t.Fatalf("ParseRunConfig() error = %v", err)
	}
	if err := rc.Validate(); err == nil || !strings.Contains(err.Error(), "[global]") {
		t.Fatalf("expected missing [global] issue, got %v", err)
	}
}

func TestParseRunConfigBadValue(t *testing.T) {
	_, err := config.ParseRunConfig([]byte("[global]\nrun_time = soon\nrampup = 0\n"), "cfg")
	if err == nil || !strings.Contains(err.Error(), "global.run_time") {
		t.Fatalf("expected run_time parse error, got %v", err)
	}
}

func TestFindSavedConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.FindSavedConfig(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}
	want := writeFile(t, dir, "config.yaml", "global: {}\n")
	got, err := config.FindSavedConfig(dir)
	if err != nil {
		t.Fatalf("FindSavedConfig() error = %v", err)
	}
	if got != want {
		t.Fatalf("FindSavedConfig() = %q, want %q", got, want)
	}
}
