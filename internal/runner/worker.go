package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type worker struct {
	group      string
	thread     int
	tx         Transaction
	groupStart time.Time
	runTime    time.Duration
	results    *ResultChannel
	pacer      Pacer
	tracer     trace.Tracer
	failures   FailureLogger
}

// run executes iterations until the group's elapsed time reaches the run
// time. An iteration in flight is never interrupted; ctx is only observed
// between iterations. It returns the records pushed and how many failed.
func (w *worker) run(ctx context.Context) (records, failures int64) {
	txCtx := context.WithoutCancel(ctx)
	var elapsed time.Duration

	for elapsed < w.runTime {
		if ctx.Err() != nil {
			return
		}
		if w.pacer != nil {
			if err := w.pacer.Wait(ctx); err != nil {
				return
			}
			if time.Since(w.groupStart) >= w.runTime {
				return
			}
		}

		start := time.Now()
		err := w.invoke(txCtx)
		finish := time.Now()

		elapsed = finish.Sub(w.groupStart)
		rec := ResultRecord{
			Elapsed:  elapsed.Seconds(),
			Epoch:    epochSeconds(finish),
			Group:    w.group,
			Duration: finish.Sub(start).Seconds(),
			Error:    SanitizeError(err),
		}
		if ts, ok := w.tx.(TimerSource); ok {
			rec.CustomTimers = copyTimers(ts.CustomTimers())
		}
		if fs, ok := w.tx.(FieldSource); ok {
			rec.CustomFields = copyFields(fs.CustomFields())
		}
		if err != nil {
			failures++
			if w.failures != nil {
				w.failures.LogFailure(w.group, w.thread, err)
			}
		}
		if pushErr := w.results.Push(rec); pushErr != nil {
			return
		}
		records++
	}
	return
}

// invoke runs one iteration, converting a panic into an error.
func (w *worker) invoke(ctx context.Context) (err error) {
	if w.tracer != nil {
		var span trace.Span
		ctx, span = w.tracer.Start(ctx, w.group+" iteration", trace.WithAttributes(
			attribute.Int("multimech.thread_num", w.thread),
		))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.tx.Run(ctx)
}
