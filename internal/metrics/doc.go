// Package metrics aggregates transaction timings for load runs.
//
// The central [Collector] type records one series of iteration latencies
// in an HDR histogram:
//
//	collector := metrics.NewCollector()
//	collector.Record(latency, "")             // success
//	collector.Record(latency, "timeout")      // failure
//
//	stats := collector.Stats(elapsed)
//
// # Statistics
//
// The [Stats] type provides:
//   - Iteration counts (total, successes, failures)
//   - Latency min, mean, standard deviation and max
//   - Latency percentiles (P50, P80, P90, P95, P99)
//   - Transactions per second over the supplied window
//   - Failure counts keyed by error text
//
// # Series
//
// A [Set] holds one Collector per named series, for example one per user
// group and one per custom timer. Names are reported in sorted order so
// that anything rendered from a Set is stable.
//
// # Thread Safety
//
// Collector and Set are safe for concurrent use.
package metrics
