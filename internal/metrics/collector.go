package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const maxErrorKeyLen = 120

// Collector records per-iteration timings in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	sumSquares   float64 // seconds squared
	errorsByText map[string]int64
	start        time.Time
}

// Stats represents aggregated metrics.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	StdDevLatency  time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P80Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P95Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"transactions_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs    float64          `json:"min_latency_ms"`
	MaxLatencyMs    float64          `json:"max_latency_ms"`
	MeanLatencyMs   float64          `json:"mean_latency_ms"`
	StdDevLatencyMs float64          `json:"stddev_latency_ms"`
	P50LatencyMs    float64          `json:"p50_latency_ms"`
	P80LatencyMs    float64          `json:"p80_latency_ms"`
	P90LatencyMs    float64          `json:"p90_latency_ms"`
	P95LatencyMs    float64          `json:"p95_latency_ms"`
	P99LatencyMs    float64          `json:"p99_latency_ms"`
	DurationMs      float64          `json:"duration_ms"`
	Errors          map[string]int64 `json:"errors,omitempty"`
}

// FailureRate returns failures / total, or 0 with no samples.
func (s Stats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Total)
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:         h,
		errorsByText: make(map[string]int64),
		start:        time.Now(),
	}
}

// Start resets the reference instant used for throughput.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Record records one iteration. errText is empty on success.
func (c *Collector) Record(latency time.Duration, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency
	c.sumSquares += latency.Seconds() * latency.Seconds()

	if c.successes+c.failures == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if errText == "" {
		c.successes++
		return
	}
	c.failures++
	c.errorsByText[errorKey(errText)]++
}

// errorKey caps errText at maxErrorKeyLen bytes without splitting a rune.
func errorKey(errText string) string {
	if len(errText) <= maxErrorKeyLen {
		return errText
	}
	cut := maxErrorKeyLen
	for cut > 0 && !utf8.RuneStart(errText[cut]) {
		cut--
	}
	return errText[:cut]
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// Stats computes and returns current aggregated statistics. elapsed is the
// window used for throughput.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:      total,
		Successes:  c.successes,
		Failures:   c.failures,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
		mean := c.sumLatency.Seconds() / float64(total)
		variance := c.sumSquares/float64(total) - mean*mean
		if variance > 0 {
			stats.StdDevLatency = time.Duration(math.Sqrt(variance) * float64(time.Second))
		}
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P80Latency = time.Duration(c.hist.ValueAtQuantile(80)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P95Latency = time.Duration(c.hist.ValueAtQuantile(95)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.StdDevLatencyMs = toMs(stats.StdDevLatency)
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P80LatencyMs = toMs(stats.P80Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P95LatencyMs = toMs(stats.P95Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 && total > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.errorsByText) > 0 {
		stats.Errors = make(map[string]int64, len(c.errorsByText))
		for k, v := range c.errorsByText {
			stats.Errors[k] = v
		}
	}

	return stats
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Set is a family of collectors keyed by series name, such as one per
// group or per custom timer.
type Set struct {
	mu         sync.Mutex
	collectors map[string]*Collector
}

func NewSet() *Set {
	return &Set{collectors: make(map[string]*Collector)}
}

// Get returns the collector for name, creating it on first use.
func (s *Set) Get(name string) *Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collectors[name]
	if !ok {
		c = NewCollector()
		s.collectors[name] = c
	}
	return c
}

// Names returns the series names in sorted order.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collectors))
	for name := range s.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the statistics of every series.
func (s *Set) Stats(elapsed time.Duration) map[string]Stats {
	out := make(map[string]Stats)
	for _, name := range s.Names() {
		out[name] = s.Get(name).Stats(elapsed)
	}
	return out
}
