package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torosent/multimech/internal/runner"
)

func TestGroupRampSpacing(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)

	g := runner.NewGroup(runner.GroupConfig{
		Name:    "ramp",
		Threads: 3,
		RunTime: 400 * time.Millisecond,
		Rampup:  300 * time.Millisecond,
		Module:  mod,
		Results: results,
	})
	if got := g.Spacing(); got != 100*time.Millisecond {
		t.Fatalf("expected spacing 100ms, got %s", got)
	}
	res := g.Run(context.Background())
	closeCh()
	<-collected

	if res.Launched != 3 || len(res.StartOffsets) != 3 {
		t.Fatalf("expected 3 launched workers, got %d", res.Launched)
	}
	const tolerance = 50 * time.Millisecond
	for i, off := range res.StartOffsets {
		want := time.Duration(i) * 100 * time.Millisecond
		if off < want || off > want+tolerance {
			t.Errorf("worker %d started at %s, want ~%s", i, off, want)
		}
	}
}

func TestGroupSingleThreadStartsImmediately(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: time.Millisecond}, nil
	}}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	g := runner.NewGroup(runner.GroupConfig{
		Name:    "solo",
		Threads: 1,
		RunTime: 20 * time.Millisecond,
		Rampup:  time.Second,
		Module:  mod,
		Results: results,
	})
	res := g.Run(context.Background())
	closeCh()
	<-collected

	if res.StartOffsets[0] > 10*time.Millisecond {
		t.Fatalf("single worker delayed by %s", res.StartOffsets[0])
	}
	if res.Duration > 500*time.Millisecond {
		t.Fatalf("ramp-up delayed group completion: %s", res.Duration)
	}
}

func TestGroupStartDelayCountsTowardElapsed(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	g := runner.NewGroup(runner.GroupConfig{
		Name:       "late",
		Threads:    1,
		RunTime:    200 * time.Millisecond,
		StartDelay: 100 * time.Millisecond,
		Module:     mod,
		Results:    results,
	})
	g.Run(context.Background())
	closeCh()
	recs := <-collected

	if len(recs) == 0 {
		t.Fatal("expected records")
	}
	if recs[0].Elapsed < 0.1 {
		t.Fatalf("first record elapsed %f should include the start delay", recs[0].Elapsed)
	}
	// only ~100ms of the run time remains after the delay
	if len(recs) > 25 {
		t.Fatalf("expected at most ~20 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Elapsed < recs[i-1].Elapsed {
			t.Fatalf("records out of order at %d", i)
		}
	}
}

func TestGroupWorkerConstructionFailure(t *testing.T) {
	logger := &recordingLogger{}
	mod := &fakeModule{tx: func(env runner.WorkerEnv) (runner.Transaction, error) {
		if env.ThreadNum == 1 {
			return nil, errors.New("no credentials")
		}
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	g := runner.NewGroup(runner.GroupConfig{
		Name:          "mixed",
		ProcessNum:    4,
		Threads:       2,
		RunTime:       50 * time.Millisecond,
		Module:        mod,
		Results:       results,
		FailureLogger: logger,
	})
	res := g.Run(context.Background())
	closeCh()
	<-collected

	if res.FailedWorkers != 1 {
		t.Fatalf("expected 1 failed worker, got %d", res.FailedWorkers)
	}
	if res.Records == 0 {
		t.Fatal("healthy worker produced no records")
	}
	if len(logger.errs) != 1 {
		t.Fatalf("expected 1 logged failure, got %d", len(logger.errs))
	}
	var resErr *runner.ResourceError
	if !errors.As(logger.errs[0], &resErr) || resErr.Worker != 1 {
		t.Fatalf("expected ResourceError for worker 1, got %v", logger.errs[0])
	}
	for _, env := range mod.envs {
		if env.ProcessNum != 4 {
			t.Fatalf("expected process number 4, got %d", env.ProcessNum)
		}
	}
}

func TestGroupCancelStopsLaunches(t *testing.T) {
	mod := &fakeModule{tx: func(runner.WorkerEnv) (runner.Transaction, error) {
		return &sleepTx{latency: 5 * time.Millisecond}, nil
	}}
	results := runner.NewResultChannel(0)
	collected, closeCh := drain(results)
	g := runner.NewGroup(runner.GroupConfig{
		Name:    "cancel",
		Threads: 10,
		RunTime: 10 * time.Second,
		Rampup:  10 * time.Second,
		Module:  mod,
		Results: results,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := g.Run(ctx)
	closeCh()
	<-collected

	if time.Since(start) > 2*time.Second {
		t.Fatalf("cancel did not stop the group promptly")
	}
	if res.Launched != 1 {
		t.Fatalf("expected only the first worker to launch, got %d", res.Launched)
	}
}

type recordingLogger struct {
	errs []error
}

func (l *recordingLogger) LogFailure(_ string, _ int, err error) {
	l.errs = append(l.errs, err)
}
