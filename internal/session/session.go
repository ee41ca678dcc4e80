// Package session holds the state of the project's current and last run.
// The orchestrator writes it; the RPC server only reads it.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// LockFileName is created in the project directory while a run is active.
const LockFileName = ".multimech.lock"

// ErrRunInProgress is returned when a run is requested while another run
// of the same project is active, in this process or another one.
var ErrRunInProgress = errors.New("a run is already in progress")

// Counters are the live totals of the active run.
type Counters interface {
	RecordCount() int64
	TimerCount() int64
	ErrorCount() int64
}

// State is a point-in-time copy of a session.
type State struct {
	Project       string    `json:"project"`
	Running       bool      `json:"running"`
	RunID         string    `json:"run_id,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	OutputDir     string    `json:"output_dir,omitempty"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastOutputDir string    `json:"last_output_dir,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	RunsStarted   int64     `json:"runs_started"`
	Records       int64     `json:"records"`
	Timers        int64     `json:"timers"`
	Errors        int64     `json:"errors"`
}

// Reader is the read-only view used by the RPC server.
type Reader interface {
	Snapshot() State
}

type Session struct {
	mu       sync.Mutex
	project  string
	lock     *flock.Flock
	now      func() time.Time
	state    State
	counters Counters
}

func New(projectDir, project string) *Session {
	return &Session{
		project: project,
		lock:    flock.New(filepath.Join(projectDir, LockFileName)),
		now:     time.Now,
		state:   State{Project: project},
	}
}

// Begin marks a run as started and takes the project lock. It returns the
// new run ID.
func (s *Session) Begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running {
		return "", ErrRunInProgress
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("lock project: %w", err)
	}
	if !locked {
		return "", ErrRunInProgress
	}
	now := s.now()
	s.state.Running = true
	s.state.RunID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	s.state.StartedAt = now
	s.state.OutputDir = ""
	s.state.RunsStarted++
	s.counters = nil
	return s.state.RunID, nil
}

// Attach records where the active run writes and the counters to expose.
func (s *Session) Attach(outputDir string, counters Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.OutputDir = outputDir
	s.counters = counters
}

// End marks the active run as finished and releases the project lock.
// runErr is kept as the last error; a nil runErr clears it.
func (s *Session) End(runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running {
		return nil
	}
	s.takeCounts()
	s.state.Running = false
	s.state.LastRunID = s.state.RunID
	if s.state.OutputDir != "" {
		s.state.LastOutputDir = s.state.OutputDir
	}
	s.state.LastError = ""
	if runErr != nil {
		s.state.LastError = runErr.Error()
	}
	s.counters = nil
	return s.lock.Unlock()
}

func (s *Session) takeCounts() {
	if s.counters == nil {
		return
	}
	s.state.Records = s.counters.RecordCount()
	s.state.Timers = s.counters.TimerCount()
	s.state.Errors = s.counters.ErrorCount()
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running {
		s.takeCounts()
	}
	return s.state
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Running
}
