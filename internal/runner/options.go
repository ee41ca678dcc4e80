package runner

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

// Transaction is one worker's instance of a user transaction. Run is
// invoked repeatedly; a returned error or a panic marks the iteration failed.
type Transaction interface {
	Run(ctx context.Context) error
}

// TimerSource is implemented by transactions that report custom timers.
type TimerSource interface {
	CustomTimers() map[string]float64
}

// FieldSource is implemented by transactions that report custom fields.
type FieldSource interface {
	CustomFields() map[string]any
}

// WorkerEnv is what a module may pass to a new transaction instance.
type WorkerEnv struct {
	Group          string
	ProcessNum     int
	ThreadNum      int
	GroupSettings  map[string]string
	GlobalSettings map[string]string
}

// Module is a loaded transaction source shared by one group's workers.
type Module interface {
	NewTransaction(env WorkerEnv) (Transaction, error)
}

// ModuleLoader loads the module a group runs.
type ModuleLoader interface {
	Load(identifier string) (Module, error)
}

// FailureLogger receives failed iterations and worker start failures.
type FailureLogger interface {
	LogFailure(group string, worker int, err error)
}

// Options configure the Runner.
type Options struct {
	Topology       Topology
	Loader         ModuleLoader                    // transaction loader (required)
	Results        *ResultChannel                  // shared result stream (required)
	Tracer         trace.Tracer                    // optional, no-op when nil
	FailureLogger  FailureLogger                   // optional
	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests
	ArrivalSampler func() float64                  // optional Exp(1) source for poisson arrival
}

func (o *Options) normalize() {
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("multimech")
	}
	if o.Results == nil {
		o.Results = NewResultChannel(0)
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = newLimiter
	}
}
