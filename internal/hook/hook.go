// Package hook runs the post_run_script of a project once a run has been
// reported.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a post-run script.
const DefaultTimeout = 10 * time.Minute

// Environment variables handed to the script.
const (
	EnvResultsDir = "MULTIMECH_RESULTS_DIR"
	EnvProject    = "MULTIMECH_PROJECT"
	EnvRunID      = "MULTIMECH_RUN_ID"
)

// Runner executes post-run scripts through the platform shell.
type Runner struct {
	Shell   string
	Args    []string
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *zap.Logger
}

// Request describes one invocation.
type Request struct {
	Script     string
	Dir        string // working directory, the project directory
	ResultsDir string
	Project    string
	RunID      string
}

// Result reports how the script ended.
type Result struct {
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	shell, args := defaultShell()
	return &Runner{
		Shell:   shell,
		Args:    args,
		Timeout: DefaultTimeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Logger:  log.Named("hook"),
	}
}

func defaultShell() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}

// Run executes the script and waits for it. A non-zero exit is reported
// as an error together with the exit code.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	script := strings.TrimSpace(req.Script)
	if script == "" {
		return Result{}, errors.New("post_run_script is empty")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), r.Args...), script)
	cmd := exec.CommandContext(cmdCtx, r.Shell, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(),
		EnvResultsDir+"="+req.ResultsDir,
		EnvProject+"="+req.Project,
		EnvRunID+"="+req.RunID,
	)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	// children of the shell may keep the output pipes open after a kill
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start)}
	if err == nil {
		r.Logger.Debug("post-run script finished", zap.String("script", script), zap.Duration("duration", res.Duration))
		return res, nil
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("post_run_script timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("post_run_script exited with code %d", res.ExitCode)
	}
	res.ExitCode = -1
	return res, fmt.Errorf("run post_run_script: %w", err)
}
