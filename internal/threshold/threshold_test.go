package threshold

import (
	"strings"
	"testing"

	"github.com/torosent/multimech/internal/metrics"
)

type fakeSource struct {
	run    metrics.Stats
	groups map[string]metrics.Stats
	timers map[string]metrics.Stats
}

func (f fakeSource) Stats(kind, name string) (metrics.Stats, bool) {
	switch kind {
	case KindGroup:
		s, ok := f.groups[name]
		return s, ok
	case KindTimer:
		s, ok := f.timers[name]
		return s, ok
	}
	return f.run, true
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Threshold
	}{
		{
			input: "transaction_duration:p95 < 500",
			want:  Threshold{Metric: "transaction_duration", Aggregate: "p95", Operator: "<", Value: 500},
		},
		{
			input: "transaction_failed:rate<0.01",
			want:  Threshold{Metric: "transaction_failed", Aggregate: "rate", Operator: "<", Value: 0.01},
		},
		{
			input: "  transactions[login page]:count >= 100 ",
			want:  Threshold{Metric: "transactions", Scope: "login page", Aggregate: "count", Operator: ">=", Value: 100},
		},
		{
			input: "timer[db]:max <= 12.5",
			want:  Threshold{Metric: "timer", Scope: "db", Aggregate: "max", Operator: "<=", Value: 12.5},
		},
		{
			input: "transactions:rate == .5",
			want:  Threshold{Metric: "transactions", Aggregate: "rate", Operator: "==", Value: 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.want.Raw = strings.TrimSpace(tt.input)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "empty threshold"},
		{"transaction_duration p95 < 500", "invalid threshold"},
		{"latency:p95 < 500", `unsupported metric "latency"`},
		{"transaction_failed:p95 < 1", `unsupported aggregate "p95" for transaction_failed`},
		{"timer:max < 10", "must name a custom timer"},
		{"transactions:count != 3", "invalid threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"transactions:count > 1", "timer[db]:p90 < 50"})
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 thresholds, got %v, %v", got, err)
	}
	if got, err := ParseMultiple(nil); got != nil || err != nil {
		t.Errorf("expected nil for no thresholds, got %v, %v", got, err)
	}

	_, err = ParseMultiple([]string{"bogus", "transactions:count > 1", "latency:max < 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"threshold[0]", "threshold[2]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "threshold[1]") {
		t.Errorf("valid threshold reported: %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	src := fakeSource{
		run: metrics.Stats{
			Total:          200,
			Failures:       4,
			RequestsPerSec: 20,
			P95LatencyMs:   350,
			MeanLatencyMs:  120,
		},
		groups: map[string]metrics.Stats{
			"login": {Total: 50, Failures: 4, P95LatencyMs: 900},
		},
		timers: map[string]metrics.Stats{
			"db": {Total: 180, MaxLatencyMs: 45},
		},
	}
	tests := []struct {
		raw    string
		actual float64
		pass   bool
	}{
		{"transaction_duration:p95 < 500", 350, true},
		{"transaction_duration:avg >= 120", 120, true},
		{"transaction_failed:rate < 0.01", 0.02, false},
		{"transactions:rate > 10", 20, true},
		{"transactions:count == 200", 200, true},
		{"transaction_duration[login]:p95 < 500", 900, false},
		{"transaction_failed[login]:count <= 4", 4, true},
		{"timer[db]:max < 50", 45, true},
		{"timer[db]:count > 200", 180, false},
	}
	var thresholds []Threshold
	for _, tt := range tests {
		th, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.raw, err)
		}
		thresholds = append(thresholds, th)
	}

	results := Evaluate(thresholds, src)
	if len(results) != len(tests) {
		t.Fatalf("expected %d results, got %d", len(tests), len(results))
	}
	for i, tt := range tests {
		r := results[i]
		if r.Threshold.Raw != tt.raw {
			t.Errorf("result %d out of order: %s", i, r.Threshold.Raw)
		}
		if r.Actual != tt.actual || r.Pass != tt.pass {
			t.Errorf("%s: expected actual=%v pass=%v, got actual=%v pass=%v", tt.raw, tt.actual, tt.pass, r.Actual, r.Pass)
		}
	}
	if failed := Failed(results); len(failed) != 3 {
		t.Errorf("expected 3 failures, got %d", len(failed))
	}
}

func TestEvaluateMissingSeries(t *testing.T) {
	th, err := Parse("timer[cache]:max < 10")
	if err != nil {
		t.Fatal(err)
	}
	results := Evaluate([]Threshold{th}, fakeSource{})
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("expected failing result, got %+v", results)
	}
	if !strings.Contains(results[0].Message, `no timer named "cache"`) {
		t.Errorf("unexpected message %q", results[0].Message)
	}
}

func TestEvaluateNone(t *testing.T) {
	if got := Evaluate(nil, fakeSource{}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestKind(t *testing.T) {
	tests := map[string]string{
		"transactions:count > 1":        KindRun,
		"transactions[api]:count > 1":   KindGroup,
		"timer[db]:max < 1":             KindTimer,
		"transaction_failed:rate < 0.1": KindRun,
	}
	for raw, want := range tests {
		th, err := Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := th.Kind(); got != want {
			t.Errorf("%s: expected kind %q, got %q", raw, want, got)
		}
	}
}
