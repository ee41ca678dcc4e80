// Package report turns a record file into the summaries and artifacts of a
// run. Output depends only on the record file and the arguments, so
// re-rendering a results directory reproduces it byte for byte.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/torosent/multimech/internal/metrics"
	"github.com/torosent/multimech/internal/sink"
	"github.com/torosent/multimech/internal/threshold"
)

const (
	HTMLFileName       = "results.html"
	JTLFileName        = "results.jtl"
	LastResultsJTLName = "last_results.jtl"
)

// Group describes a configured user group.
type Group struct {
	Name      string `json:"name"`
	Script    string `json:"script"`
	Processes int    `json:"processes"`
	Threads   int    `json:"threads"`
}

// Bucket aggregates one results interval of a series.
type Bucket struct {
	End        float64 `json:"end"`
	Count      int64   `json:"count"`
	Errors     int64   `json:"errors"`
	Throughput float64 `json:"throughput"`
	AvgMs      float64 `json:"avg_ms"`
	P80Ms      float64 `json:"p80_ms"`
	P90Ms      float64 `json:"p90_ms"`
	MaxMs      float64 `json:"max_ms"`
}

// Series is the summary of one group or custom timer.
type Series struct {
	Name    string        `json:"name"`
	Config  *Group        `json:"config,omitempty"`
	Stats   metrics.Stats `json:"stats"`
	Buckets []Bucket      `json:"buckets"`
}

// ErrorCount is how often one error text occurred.
type ErrorCount struct {
	Text  string `json:"text"`
	Count int64  `json:"count"`
}

// Summary is everything computed from a record file.
type Summary struct {
	StartEpoch float64            `json:"start_epoch"`
	Duration   time.Duration      `json:"-"`
	Overall    metrics.Stats      `json:"overall"`
	Groups     []Series           `json:"groups"`
	Timers     []Series           `json:"timers"`
	Errors     []ErrorCount       `json:"errors"`
	Thresholds []threshold.Result `json:"-"`
	Files      []string           `json:"files"`
}

// Stats resolves one series for threshold evaluation.
func (s Summary) Stats(kind, name string) (metrics.Stats, bool) {
	var series []Series
	switch kind {
	case threshold.KindRun:
		return s.Overall, true
	case threshold.KindGroup:
		series = s.Groups
	case threshold.KindTimer:
		series = s.Timers
	}
	for _, ser := range series {
		if ser.Name == name {
			return ser.Stats, true
		}
	}
	return metrics.Stats{}, false
}

// ThresholdsPassed reports whether no threshold failed.
func (s Summary) ThresholdsPassed() bool {
	return len(threshold.Failed(s.Thresholds)) == 0
}

// Renderer writes the report artifacts of a results directory.
type Renderer struct {
	Title string
	// LastResultsDir receives a copy of the JTL report; empty skips it.
	LastResultsDir string
	Thresholds     []threshold.Threshold
}

// Render reads rawFile from outputDir and writes results.html and, with
// xml set, results.jtl.
func (r Renderer) Render(outputDir, rawFile string, runTime, rampup, interval time.Duration, groups []Group, xml bool) (Summary, error) {
	if interval <= 0 {
		return Summary{}, fmt.Errorf("results interval must be greater than zero")
	}
	agg := newAggregator(interval)
	var samples []jtlSample
	err := sink.ReadFile(filepath.Join(outputDir, rawFile), func(row sink.Row) error {
		agg.add(row)
		if xml {
			samples = append(samples, newJTLSample(row))
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read results: %w", err)
	}

	summary := agg.summary(groups, runTime)
	if len(r.Thresholds) > 0 {
		summary.Thresholds = threshold.Evaluate(r.Thresholds, summary)
	}

	htmlPath := filepath.Join(outputDir, HTMLFileName)
	if err := writeFile(htmlPath, func(w io.Writer) error {
		return writeHTML(w, r.Title, summary, runTime, rampup, interval)
	}); err != nil {
		return Summary{}, err
	}
	summary.Files = append(summary.Files, htmlPath)

	if xml {
		jtlPath := filepath.Join(outputDir, JTLFileName)
		write := func(w io.Writer) error { return writeJTL(w, samples) }
		if err := writeFile(jtlPath, write); err != nil {
			return Summary{}, err
		}
		summary.Files = append(summary.Files, jtlPath)
		if r.LastResultsDir != "" {
			if err := os.MkdirAll(r.LastResultsDir, 0o755); err != nil {
				return Summary{}, fmt.Errorf("create %s: %w", r.LastResultsDir, err)
			}
			lastPath := filepath.Join(r.LastResultsDir, LastResultsJTLName)
			if err := writeFile(lastPath, write); err != nil {
				return Summary{}, err
			}
			summary.Files = append(summary.Files, lastPath)
		}
	}
	return summary, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

type series struct {
	all     *metrics.Collector
	buckets map[int]*metrics.Collector
}

func newSeries() *series {
	return &series{all: metrics.NewCollector(), buckets: map[int]*metrics.Collector{}}
}

func (s *series) add(bucket int, latency time.Duration, errText string) {
	s.all.Record(latency, errText)
	c, ok := s.buckets[bucket]
	if !ok {
		c = metrics.NewCollector()
		s.buckets[bucket] = c
	}
	c.Record(latency, errText)
}

type aggregator struct {
	interval   time.Duration
	overall    *metrics.Collector
	groups     map[string]*series
	timers     map[string]*series
	errors     map[string]int64
	startEpoch float64
	maxElapsed float64
	rows       int64
}

func newAggregator(interval time.Duration) *aggregator {
	return &aggregator{
		interval: interval,
		overall:  metrics.NewCollector(),
		groups:   map[string]*series{},
		timers:   map[string]*series{},
		errors:   map[string]int64{},
	}
}

func (a *aggregator) add(row sink.Row) {
	a.rows++
	start := row.Epoch - row.Elapsed
	if a.rows == 1 || start < a.startEpoch {
		a.startEpoch = start
	}
	if row.Elapsed > a.maxElapsed {
		a.maxElapsed = row.Elapsed
	}

	bucket := a.bucketOf(row.Elapsed)
	a.overall.Record(toDuration(row.Duration), row.Error)
	g, ok := a.groups[row.Group]
	if !ok {
		g = newSeries()
		a.groups[row.Group] = g
	}
	g.add(bucket, toDuration(row.Duration), row.Error)
	for name, val := range row.CustomTimers {
		ts, ok := a.timers[name]
		if !ok {
			ts = newSeries()
			a.timers[name] = ts
		}
		ts.add(bucket, toDuration(val), row.Error)
	}
	if row.Failed() {
		a.errors[row.Error]++
	}
}

// bucketOf maps elapsed seconds to the interval (i*w, (i+1)*w] it ends in.
func (a *aggregator) bucketOf(elapsed float64) int {
	idx := int(math.Ceil(elapsed/a.interval.Seconds())) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (a *aggregator) summary(groups []Group, runTime time.Duration) Summary {
	elapsed := toDuration(a.maxElapsed)
	if elapsed <= 0 {
		elapsed = runTime
	}
	s := Summary{
		StartEpoch: math.Floor(a.startEpoch),
		Duration:   elapsed,
		Overall:    a.overall.Stats(elapsed),
	}
	nBuckets := a.bucketOf(a.maxElapsed) + 1
	if a.rows == 0 {
		nBuckets = 0
	}

	seen := map[string]bool{}
	for i := range groups {
		cfg := groups[i]
		seen[cfg.Name] = true
		s.Groups = append(s.Groups, a.series(cfg.Name, a.groups[cfg.Name], &cfg, elapsed, nBuckets))
	}
	for _, name := range sortedKeys(a.groups) {
		if !seen[name] {
			s.Groups = append(s.Groups, a.series(name, a.groups[name], nil, elapsed, nBuckets))
		}
	}
	for _, name := range sortedKeys(a.timers) {
		s.Timers = append(s.Timers, a.series(name, a.timers[name], nil, elapsed, nBuckets))
	}

	for text, count := range a.errors {
		s.Errors = append(s.Errors, ErrorCount{Text: text, Count: count})
	}
	sort.Slice(s.Errors, func(i, j int) bool {
		if s.Errors[i].Count != s.Errors[j].Count {
			return s.Errors[i].Count > s.Errors[j].Count
		}
		return s.Errors[i].Text < s.Errors[j].Text
	})
	return s
}

func (a *aggregator) series(name string, src *series, cfg *Group, elapsed time.Duration, nBuckets int) Series {
	out := Series{Name: name, Config: cfg, Buckets: make([]Bucket, 0, nBuckets)}
	if src == nil {
		src = newSeries()
	}
	out.Stats = src.all.Stats(elapsed)
	for i := 0; i < nBuckets; i++ {
		b := Bucket{End: float64(i+1) * a.interval.Seconds()}
		if c, ok := src.buckets[i]; ok {
			st := c.Stats(a.interval)
			b.Count = st.Total
			b.Errors = st.Failures
			b.Throughput = st.RequestsPerSec
			b.AvgMs = st.MeanLatencyMs
			b.P80Ms = st.P80LatencyMs
			b.P90Ms = st.P90LatencyMs
			b.MaxMs = st.MaxLatencyMs
		}
		out.Buckets = append(out.Buckets, b)
	}
	return out
}

func toDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func sortedKeys(m map[string]*series) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
