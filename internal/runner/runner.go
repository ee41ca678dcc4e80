package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Result captures execution summary.
type Result struct {
	Groups   []GroupResult
	Total    int64
	Errors   int64
	Duration time.Duration
	// Err is the first group-level start failure, if any. Other groups
	// still run to completion.
	Err error
}

// Runner executes a Topology: every entry becomes a Group, all Groups run
// in parallel and Run returns when the last worker has finished.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Results returns the channel workers push to.
func (r *Runner) Results() *ResultChannel {
	return r.opt.Results
}

// Run constructs every group up front, so elapsed times include the launch
// latency of later groups, then starts them together.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	topo := r.opt.Topology

	ctx, span := r.opt.Tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.Int("multimech.processes", topo.Processes()),
		attribute.Int("multimech.workers", topo.Workers()),
	))
	defer span.End()

	pacers := make(map[string]Pacer)
	groups := make([]*Group, len(topo.Entries))
	for i, entry := range topo.Entries {
		pacer, ok := pacers[entry.Group.Name]
		if !ok {
			pacer = r.newPacer(entry.Group)
			pacers[entry.Group.Name] = pacer
		}
		groups[i] = NewGroup(GroupConfig{
			Name:           entry.Group.Name,
			ProcessNum:     entry.ProcessNum,
			Threads:        entry.Group.Threads,
			RunTime:        topo.Global.RunTime,
			Rampup:         entry.Rampup,
			StartDelay:     entry.Group.StartDelay,
			Results:        r.opt.Results,
			Pacer:          pacer,
			GroupSettings:  entry.Group.Settings,
			GlobalSettings: topo.Global.Settings,
			Tracer:         r.opt.Tracer,
			FailureLogger:  r.opt.FailureLogger,
		})
	}

	results := make([]GroupResult, len(groups))
	var eg errgroup.Group
	for i := range groups {
		entry := topo.Entries[i]
		eg.Go(func() error {
			mod, err := r.load(entry.Group.Script)
			if err != nil {
				results[i] = GroupResult{Name: entry.Group.Name, ProcessNum: entry.ProcessNum}
				if r.opt.FailureLogger != nil {
					r.opt.FailureLogger.LogFailure(entry.Group.Name, -1, err)
				}
				return &ResourceError{Group: entry.Group.Name, Worker: -1, Err: err}
			}
			groups[i].cfg.Module = mod
			results[i] = groups[i].Run(ctx)
			return nil
		})
	}
	runErr := eg.Wait()

	out := Result{Groups: results, Duration: time.Since(start), Err: runErr}
	for _, g := range results {
		out.Total += g.Records
		out.Errors += g.Errors
	}
	return out
}

func (r *Runner) load(identifier string) (Module, error) {
	if r.opt.Loader == nil {
		return nil, fmt.Errorf("no transaction loader configured")
	}
	return r.opt.Loader.Load(identifier)
}
