package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/multimech/internal/runner"
)

// sleepTx simulates a transaction with fixed latency.
type sleepTx struct {
	latency time.Duration
	fail    bool
	panics  bool
	calls   *int64
}

func (s *sleepTx) Run(ctx context.Context) error {
	if s.calls != nil {
		atomic.AddInt64(s.calls, 1)
	}
	time.Sleep(s.latency)
	if s.panics {
		panic("boom, again")
	}
	if s.fail {
		return errors.New("login failed, status=500\nretry later")
	}
	return nil
}

func (s *sleepTx) CustomTimers() map[string]float64 {
	return map[string]float64{"step": s.latency.Seconds()}
}

type fakeModule struct {
	tx        func(env runner.WorkerEnv) (runner.Transaction, error)
	mu        sync.Mutex
	envs      []runner.WorkerEnv
	instances int
}

func (m *fakeModule) NewTransaction(env runner.WorkerEnv) (runner.Transaction, error) {
	m.mu.Lock()
	m.envs = append(m.envs, env)
	m.instances++
	m.mu.Unlock()
	return m.tx(env)
}

type fakeLoader struct {
	modules map[string]runner.Module
	loads   int64
}

func (l *fakeLoader) Load(identifier string) (runner.Module, error) {
	atomic.AddInt64(&l.loads, 1)
	mod, ok := l.modules[identifier]
	if !ok {
		return nil, fmt.Errorf("unknown script %q", identifier)
	}
	return mod, nil
}

func (l *fakeLoader) Resolve(identifier string) error {
	_, err := l.Load(identifier)
	return err
}

func drain(ch *runner.ResultChannel) (<-chan []runner.ResultRecord, func()) {
	out := make(chan []runner.ResultRecord, 1)
	go func() {
		var recs []runner.ResultRecord
		for rec := range ch.Records() {
			recs = append(recs, rec)
		}
		out <- recs
	}()
	return out, ch.Close
}

func TestRunnerSucceedingTransaction(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 10 * time.Millisecond}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"ok.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 500 * time.Millisecond},
		[]runner.GroupSpec{{Name: "g1", Script: "ok.js", Processes: 1, Threads: 2}},
		loader,
	)
	if err != nil {
		t.Fatalf("BuildTopology() error = %v", err)
	}

	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)

	start := time.Now()
	res := runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	elapsed := time.Since(start)
	closeCh()
	recs := <-collected

	if elapsed < 500*time.Millisecond || elapsed > 900*time.Millisecond {
		t.Fatalf("run time off: %s", elapsed)
	}
	// 2 workers * 0.5s / 10ms = ~100 records, allow scheduling slack.
	if len(recs) < 60 || len(recs) > 104 {
		t.Fatalf("expected ~100 records, got %d", len(recs))
	}
	if int64(len(recs)) != res.Total {
		t.Fatalf("consumer saw %d records, runner reported %d", len(recs), res.Total)
	}
	if res.Errors != 0 {
		t.Fatalf("expected no errors, got %d", res.Errors)
	}
	for _, rec := range recs {
		if rec.Error != "" {
			t.Fatalf("unexpected error %q", rec.Error)
		}
		if rec.Group != "g1" {
			t.Fatalf("unexpected group %q", rec.Group)
		}
		if rec.Duration < 0.009 {
			t.Fatalf("duration too small: %f", rec.Duration)
		}
		if rec.CustomTimers["step"] == 0 {
			t.Fatalf("custom timers not captured: %v", rec.CustomTimers)
		}
	}
}

func TestRunnerFailingTransactionKeepsRunning(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 10 * time.Millisecond, fail: true}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"bad.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 300 * time.Millisecond},
		[]runner.GroupSpec{{Name: "g1", Script: "bad.js", Processes: 1, Threads: 2}},
		loader,
	)
	if err != nil {
		t.Fatalf("BuildTopology() error = %v", err)
	}

	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	start := time.Now()
	res := runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	elapsed := time.Since(start)
	closeCh()
	recs := <-collected

	if elapsed > 700*time.Millisecond {
		t.Fatalf("failures slowed the run: %s", elapsed)
	}
	if len(recs) < 30 {
		t.Fatalf("expected ~60 records, got %d", len(recs))
	}
	if res.Errors != int64(len(recs)) {
		t.Fatalf("expected every record to be an error: errors=%d records=%d", res.Errors, len(recs))
	}
	for _, rec := range recs {
		if rec.Error != "login failed status=500 retry later" {
			t.Fatalf("unexpected sanitized error %q", rec.Error)
		}
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond, panics: true}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"panic.js": mod}}
	topo, _ := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 100 * time.Millisecond},
		[]runner.GroupSpec{{Name: "p", Script: "panic.js", Processes: 1, Threads: 1}},
		loader,
	)
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	closeCh()
	recs := <-collected

	if len(recs) < 2 {
		t.Fatalf("worker stopped after a panic: %d records", len(recs))
	}
	for _, rec := range recs {
		if rec.Error != "panic: boom again" {
			t.Fatalf("unexpected error %q", rec.Error)
		}
	}
}

func TestRunnerCreatesOneGroupPerProcess(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"a.js": mod, "b.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 50 * time.Millisecond, Settings: map[string]string{"run_time": "1"}},
		[]runner.GroupSpec{
			{Name: "a", Script: "a.js", Processes: 3, Threads: 2, Settings: map[string]string{"threads": "2"}},
			{Name: "b", Script: "b.js", Processes: 1, Threads: 1},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("BuildTopology() error = %v", err)
	}

	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	res := runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	closeCh()
	<-collected

	if len(res.Groups) != 4 {
		t.Fatalf("expected 4 group instances, got %d", len(res.Groups))
	}
	if loads := atomic.LoadInt64(&loader.loads); loads != 4 {
		t.Fatalf("expected the module to be loaded once per group instance, got %d loads", loads)
	}
	if mod.instances != 7 {
		t.Fatalf("expected 7 transaction instances, got %d", mod.instances)
	}
	for i, g := range res.Groups {
		if g.ProcessNum != i {
			t.Errorf("group %d has process number %d", i, g.ProcessNum)
		}
		if g.Records == 0 {
			t.Errorf("group %s/%d produced no records", g.Name, g.ProcessNum)
		}
	}
	for _, env := range mod.envs {
		if env.GlobalSettings["run_time"] != "1" {
			t.Fatalf("global settings not passed through: %v", env.GlobalSettings)
		}
	}
}

func TestRunnerUnknownModuleFailsOnlyThatGroup(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"ok.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 50 * time.Millisecond},
		[]runner.GroupSpec{
			{Name: "ok", Script: "ok.js", Processes: 1, Threads: 1},
			{Name: "gone", Script: "gone.js", Processes: 1, Threads: 1},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("BuildTopology() error = %v", err)
	}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	res := runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	closeCh()
	<-collected

	var resErr *runner.ResourceError
	if !errors.As(res.Err, &resErr) || resErr.Group != "gone" {
		t.Fatalf("expected ResourceError for group gone, got %v", res.Err)
	}
	if res.Groups[0].Records == 0 {
		t.Fatal("healthy group did not run")
	}
}

func TestRunnerRateLimitedGroup(t *testing.T) {
	var calls int64
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{calls: &calls}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"fast.js": mod}}
	topo, _ := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 200 * time.Millisecond},
		[]runner.GroupSpec{{Name: "fast", Script: "fast.js", Processes: 2, Threads: 4, MaxRate: 50}},
		loader,
	)
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	closeCh()
	<-collected

	// burst of 50 plus ~10 more over 200ms, shared by both processes
	if got := atomic.LoadInt64(&calls); got > 75 {
		t.Fatalf("rate limiter exceeded: %d calls", got)
	}
}

func TestRunnerPoissonArrival(t *testing.T) {
	var calls int64
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{calls: &calls}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"paced.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 300 * time.Millisecond},
		[]runner.GroupSpec{{Name: "paced", Script: "paced.js", Processes: 1, Threads: 4, MaxRate: 20, Arrival: runner.ArrivalPoisson}},
		loader,
	)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	runner.New(runner.Options{
		Topology:       topo,
		Loader:         loader,
		Results:        results,
		ArrivalSampler: func() float64 { return 1 },
	}).Run(context.Background())
	closeCh()
	<-collected

	// one slot every 50ms shared by four workers
	if got := atomic.LoadInt64(&calls); got < 3 || got > 7 {
		t.Fatalf("expected about 6 paced calls, got %d", got)
	}
}

func TestBuildTopologyRejectsUnknownArrival(t *testing.T) {
	_, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: time.Second},
		[]runner.GroupSpec{{Name: "g", Script: "x", Processes: 1, Threads: 1, Arrival: "burst"}},
		nil,
	)
	var cfgErr *runner.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunnerOverrunningIterationIsRecorded(t *testing.T) {
	var calls int64
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 300 * time.Millisecond, calls: &calls}, nil
	}}
	loader := &fakeLoader{modules: map[string]runner.Module{"slow.js": mod}}
	topo, err := runner.BuildTopology(
		runner.GlobalSpec{RunTime: 100 * time.Millisecond},
		[]runner.GroupSpec{{Name: "slow", Script: "slow.js", Processes: 1, Threads: 1}},
		loader,
	)
	if err != nil {
		t.Fatalf("BuildTopology() error = %v", err)
	}

	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	start := time.Now()
	runner.New(runner.Options{Topology: topo, Loader: loader, Results: results}).Run(context.Background())
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("run returned before the iteration finished: %s", elapsed)
	}
	closeCh()
	recs := <-collected

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("expected one iteration, got %d", n)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Elapsed < 0.1 || rec.Elapsed < rec.Duration {
		t.Errorf("expected elapsed past the run time, got elapsed %.3f duration %.3f", rec.Elapsed, rec.Duration)
	}
	if rec.Duration < 0.29 || rec.Error != "" {
		t.Errorf("expected a completed 300ms iteration, got %+v", rec)
	}
}
