package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GroupConfig is everything a Group needs to run one process instance.
type GroupConfig struct {
	Name           string
	ProcessNum     int
	Threads        int
	RunTime        time.Duration
	Rampup         time.Duration // effective ramp-up for this instance
	StartDelay     time.Duration
	Module         Module
	Results        *ResultChannel
	Pacer          Pacer
	GroupSettings  map[string]string
	GlobalSettings map[string]string
	Tracer         trace.Tracer
	FailureLogger  FailureLogger
}

// GroupResult summarizes one finished group instance.
type GroupResult struct {
	Name          string
	ProcessNum    int
	Launched      int
	FailedWorkers int
	Records       int64
	Errors        int64
	// StartOffsets holds, per launched worker, the time between the end of
	// the start delay and the worker's launch.
	StartOffsets []time.Duration
	Duration     time.Duration
}

// Group is one parallel execution context running Threads workers against
// a single loaded module.
type Group struct {
	cfg   GroupConfig
	start time.Time
}

// NewGroup creates a group and records its start instant. Every record's
// elapsed time is measured from here, before any start delay.
func NewGroup(cfg GroupConfig) *Group {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	return &Group{cfg: cfg, start: time.Now()}
}

// StartTime returns the group's reference instant.
func (g *Group) StartTime() time.Time { return g.start }

// Spacing returns the delay between consecutive worker launches.
func (g *Group) Spacing() time.Duration {
	return g.cfg.Rampup / time.Duration(g.cfg.Threads)
}

// Run waits for the start delay, launches workers spaced across the ramp-up
// window and blocks until every launched worker has terminated. Cancelling
// ctx stops further launches and lets running workers finish their current
// iteration.
func (g *Group) Run(ctx context.Context) (res GroupResult) {
	cfg := g.cfg
	res = GroupResult{Name: cfg.Name, ProcessNum: cfg.ProcessNum}
	defer func() { res.Duration = time.Since(g.start) }()

	if cfg.Tracer != nil {
		var span trace.Span
		ctx, span = cfg.Tracer.Start(ctx, "group "+cfg.Name, trace.WithAttributes(
			attribute.String("multimech.group", cfg.Name),
			attribute.Int("multimech.process_num", cfg.ProcessNum),
			attribute.Int("multimech.threads", cfg.Threads),
		))
		defer span.End()
	}

	if !sleepContext(ctx, cfg.StartDelay) {
		return res
	}

	admitted := time.Now()
	spacing := g.Spacing()

	var (
		wg      sync.WaitGroup
		records atomic.Int64
		errs    atomic.Int64
		failed  atomic.Int64
	)
	for i := 0; i < cfg.Threads; i++ {
		if i > 0 && !sleepContext(ctx, spacing) {
			break
		}
		res.StartOffsets = append(res.StartOffsets, time.Since(admitted))
		res.Launched++
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			w, err := g.newWorker(thread)
			if err != nil {
				failed.Add(1)
				if cfg.FailureLogger != nil {
					cfg.FailureLogger.LogFailure(cfg.Name, thread, err)
				}
				return
			}
			n, e := w.run(ctx)
			records.Add(n)
			errs.Add(e)
		}(i)
	}
	wg.Wait()

	res.Records = records.Load()
	res.Errors = errs.Load()
	res.FailedWorkers = int(failed.Load())
	return res
}

func (g *Group) newWorker(thread int) (w *worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ResourceError{Group: g.cfg.Name, Worker: thread, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if g.cfg.Module == nil {
		return nil, &ResourceError{Group: g.cfg.Name, Worker: thread, Err: fmt.Errorf("no module loaded")}
	}
	tx, err := g.cfg.Module.NewTransaction(WorkerEnv{
		Group:          g.cfg.Name,
		ProcessNum:     g.cfg.ProcessNum,
		ThreadNum:      thread,
		GroupSettings:  g.cfg.GroupSettings,
		GlobalSettings: g.cfg.GlobalSettings,
	})
	if err != nil {
		return nil, &ResourceError{Group: g.cfg.Name, Worker: thread, Err: err}
	}
	return &worker{
		group:      g.cfg.Name,
		thread:     thread,
		tx:         tx,
		groupStart: g.start,
		runTime:    g.cfg.RunTime,
		results:    g.cfg.Results,
		pacer:      g.cfg.Pacer,
		tracer:     g.cfg.Tracer,
		failures:   g.cfg.FailureLogger,
	}, nil
}

// sleepContext sleeps for d and reports whether the full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
