package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/multimech/internal/config"
	"github.com/torosent/multimech/internal/orchestrator"
	"github.com/torosent/multimech/internal/report"
	"github.com/torosent/multimech/internal/script"
	"github.com/torosent/multimech/internal/sink"
)

func newProject(t *testing.T, target, extraGlobal string) string {
	t.Helper()
	projects := t.TempDir()
	if err := os.MkdirAll(filepath.Join(projects, "demo", "test_scripts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := fmt.Sprintf(`[global]
run_time = 0.3
rampup = 0
results_ts_interval = 1
progress_bar = off
%s

[api]
threads = 2
script = http
url = %s
max_rate = 50
`, extraGlobal, target)
	if err := os.WriteFile(filepath.Join(projects, "demo", "config.cfg"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return projects
}

func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, &stdout, &stderr); err != nil {
		t.Fatalf("expected nil for --help, got %v", err)
	}
}

func TestRunRequiresProject(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr)
	if !errors.Is(err, config.ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}
}

func TestRunMissingProject(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"absent", "-d", t.TempDir()}, &stdout, &stderr)
	if !errors.Is(err, script.ErrScriptsDirNotFound) {
		t.Fatalf("expected ErrScriptsDirNotFound, got %v", err)
	}
}

func TestRunInvalidFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"demo", "--port", "70000"}, &stdout, &stderr); err == nil {
		t.Fatal("expected validation error for port")
	}
}

func TestRunThenReprocess(t *testing.T) {
	target := newTarget(t)
	projects := newProject(t, target.URL, "")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"demo", "-d", projects}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\n%s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "done.") {
		t.Errorf("expected run to finish, got %q", stdout.String())
	}

	entries, err := os.ReadDir(filepath.Join(projects, "demo", "results"))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var resultsDir string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "results_") {
			resultsDir = e.Name()
		}
	}
	if resultsDir == "" {
		t.Fatal("expected a results directory")
	}
	outDir := filepath.Join(projects, "demo", "results", resultsDir)
	if _, err := os.Stat(filepath.Join(outDir, sink.RawFileName)); err != nil {
		t.Fatalf("expected record file: %v", err)
	}

	htmlPath := filepath.Join(outDir, report.HTMLFileName)
	if err := os.Remove(htmlPath); err != nil {
		t.Fatalf("remove report: %v", err)
	}
	stdout.Reset()
	if err := run(context.Background(), []string{"demo", "-d", projects, "-r", resultsDir}, &stdout, &stderr); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if _, err := os.Stat(htmlPath); err != nil {
		t.Errorf("expected report to be re-rendered: %v", err)
	}
	if !strings.Contains(stdout.String(), "analyzing results...") {
		t.Errorf("expected analysis output, got %q", stdout.String())
	}
}

func TestRunOutputDirectory(t *testing.T) {
	target := newTarget(t)
	projects := newProject(t, target.URL, "")
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"demo", "-d", projects, "-o", out}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(out, "results_demo_*", sink.RawFileName))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("expected one results directory under -o, got %v", matches)
	}
}

func TestRunThresholdFailure(t *testing.T) {
	target := newTarget(t)
	projects := newProject(t, target.URL, "thresholds = transaction_failed:rate > 0.5")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"demo", "-d", projects}, &stdout, &stderr)
	if !errors.Is(err, orchestrator.ErrThresholdsFailed) {
		t.Fatalf("expected ErrThresholdsFailed, got %v", err)
	}
	if !strings.Contains(stdout.String(), "[FAIL]") {
		t.Errorf("expected failed threshold in report, got %q", stdout.String())
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunServerMode(t *testing.T) {
	target := newTarget(t)
	projects := newProject(t, target.URL, "")
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	var stdout, stderr bytes.Buffer
	go func() {
		done <- run(ctx, []string{"demo", "-d", projects, "-b", "127.0.0.1", "-p", fmt.Sprint(port)}, &stdout, &stderr)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/project", port)
	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !strings.Contains(body, `"demo"`) {
		t.Fatalf("expected project response, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
