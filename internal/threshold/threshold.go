// Package threshold evaluates pass/fail assertions against a run summary.
//
// A threshold reads "metric:aggregate operator value", for example
// "transaction_duration:p95 < 500" or "transaction_failed:rate < 0.01".
// Brackets scope a metric to one user group, "transactions[login]:count >
// 100", and the timer metric always names a custom timer,
// "timer[db]:p90 < 50". Durations are in milliseconds.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/multimech/internal/metrics"
)

// Series kinds a Source resolves.
const (
	KindRun   = ""
	KindGroup = "group"
	KindTimer = "timer"
)

// Source resolves the statistics of one series. KindRun ignores name.
type Source interface {
	Stats(kind, name string) (metrics.Stats, bool)
}

// Threshold is one parsed assertion.
type Threshold struct {
	Metric    string
	Scope     string
	Aggregate string
	Operator  string
	Value     float64
	Raw       string
}

// Kind returns the kind of series the threshold reads.
func (t Threshold) Kind() string {
	switch {
	case t.Metric == "timer":
		return KindTimer
	case t.Scope != "":
		return KindGroup
	}
	return KindRun
}

// Result is the outcome of one threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

type aggregateFunc func(metrics.Stats) float64

var latencyAggregates = map[string]aggregateFunc{
	"min": func(s metrics.Stats) float64 { return s.MinLatencyMs },
	"avg": func(s metrics.Stats) float64 { return s.MeanLatencyMs },
	"p50": func(s metrics.Stats) float64 { return s.P50LatencyMs },
	"p80": func(s metrics.Stats) float64 { return s.P80LatencyMs },
	"p90": func(s metrics.Stats) float64 { return s.P90LatencyMs },
	"p95": func(s metrics.Stats) float64 { return s.P95LatencyMs },
	"p99": func(s metrics.Stats) float64 { return s.P99LatencyMs },
	"max": func(s metrics.Stats) float64 { return s.MaxLatencyMs },
}

var metricAggregates = map[string]map[string]aggregateFunc{
	"transaction_duration": latencyAggregates,
	"transaction_failed": {
		"count": func(s metrics.Stats) float64 { return float64(s.Failures) },
		"rate":  func(s metrics.Stats) float64 { return s.FailureRate() },
	},
	"transactions": {
		"count": func(s metrics.Stats) float64 { return float64(s.Total) },
		"rate":  func(s metrics.Stats) float64 { return s.RequestsPerSec },
	},
	"timer": withCounts(latencyAggregates),
}

func withCounts(base map[string]aggregateFunc) map[string]aggregateFunc {
	out := map[string]aggregateFunc{
		"count": func(s metrics.Stats) float64 { return float64(s.Total) },
		"rate":  func(s metrics.Stats) float64 { return s.RequestsPerSec },
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

const epsilon = 1e-9

var operators = map[string]func(actual, want float64) bool{
	"<":  func(a, w float64) bool { return a < w },
	"<=": func(a, w float64) bool { return a < w || math.Abs(a-w) < epsilon },
	">":  func(a, w float64) bool { return a > w },
	">=": func(a, w float64) bool { return a > w || math.Abs(a-w) < epsilon },
	"==": func(a, w float64) bool { return math.Abs(a-w) < epsilon },
}

var pattern = regexp.MustCompile(`^([a-z_]+)(?:\[([^\]]+)\])?:([a-z0-9]+)\s*(<=|>=|==|<|>)\s*(-?[0-9]*\.?[0-9]+)$`)

// Parse parses one threshold.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q: expected metric[scope]:aggregate operator value", s)
	}
	t := Threshold{Metric: m[1], Scope: strings.TrimSpace(m[2]), Aggregate: m[3], Operator: m[4], Raw: s}

	aggs, ok := metricAggregates[t.Metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: %s)", t.Metric, strings.Join(keys(metricAggregates), ", "))
	}
	if _, ok := aggs[t.Aggregate]; !ok {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", t.Aggregate, t.Metric, strings.Join(keys(aggs), ", "))
	}
	if t.Metric == "timer" && t.Scope == "" {
		return Threshold{}, fmt.Errorf("%q: timer thresholds must name a custom timer, e.g. timer[db]", s)
	}
	value, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %w", m[5], err)
	}
	t.Value = value
	return t, nil
}

// ParseMultiple parses every threshold and reports all failures at once.
func ParseMultiple(raw []string) ([]Threshold, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(raw))
	var problems []string
	for i, s := range raw {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// Evaluate checks every threshold against src, in order. A threshold whose
// series does not exist fails.
func Evaluate(thresholds []Threshold, src Source) []Result {
	if len(thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, evaluate(t, src))
	}
	return results
}

func evaluate(t Threshold, src Source) Result {
	stats, ok := src.Stats(t.Kind(), t.Scope)
	if !ok {
		return Result{Threshold: t, Message: fmt.Sprintf("%s: no %s named %q", t.Raw, t.Kind(), t.Scope)}
	}
	agg, ok := metricAggregates[t.Metric][t.Aggregate]
	cmp, known := operators[t.Operator]
	if !ok || !known {
		return Result{Threshold: t, Message: fmt.Sprintf("%s: cannot be evaluated", t.Raw)}
	}
	actual := agg(stats)
	pass := cmp(actual, t.Value)
	status := "pass"
	if !pass {
		status = "fail"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s: %s (actual %.2f)", status, t.Raw, actual),
	}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Pass {
			failed = append(failed, r)
		}
	}
	return failed
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
