package output

import (
	"fmt"
	"io"

	"github.com/torosent/multimech/internal/report"
	"github.com/torosent/multimech/internal/threshold"
)

// PrintTopology prints the size of the run before it starts.
func PrintTopology(w io.Writer, groups, processes, threads int) {
	fmt.Fprintf(w, "\n  user_groups:  %d\n", groups)
	fmt.Fprintf(w, "  processes: %d\n", processes)
	fmt.Fprintf(w, "  threads: %d\n\n", threads)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s report.Summary) {
	stats := s.Overall
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Transactions:      %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Errors:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", s.Duration)
	fmt.Fprintf(w, "Transactions/sec:  %.2f\n", stats.RequestsPerSec)
	fmt.Fprintln(w, "\nResponse Time:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Avg:             %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P80:             %s\n", stats.P80Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Latency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)

	if len(s.Groups) > 0 {
		fmt.Fprintln(w, "\nUser Groups:")
		writeSeries(w, s.Groups, stats.Total)
	}
	if len(s.Timers) > 0 {
		fmt.Fprintln(w, "\nCustom Timers:")
		writeSeries(w, s.Timers, 0)
	}
	if len(s.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		writeThresholds(w, s.Thresholds)
	}
}

func writeSeries(w io.Writer, series []report.Series, total int64) {
	for _, ser := range series {
		share := ""
		if total > 0 {
			share = fmt.Sprintf(" (%.1f%%)", (float64(ser.Stats.Total)/float64(total))*100)
		}
		fmt.Fprintf(
			w,
			"  - %s: count=%d%s, errors=%d, rate=%.2f/s, avg=%s, p90=%s, max=%s\n",
			ser.Name,
			ser.Stats.Total,
			share,
			ser.Stats.Failures,
			ser.Stats.RequestsPerSec,
			ser.Stats.MeanLatency,
			ser.Stats.P90Latency,
			ser.Stats.MaxLatency,
		)
	}
}

func writeThresholds(w io.Writer, results []threshold.Result) {
	for _, r := range results {
		status := "PASS"
		if !r.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %s (actual %.2f)\n", status, r.Threshold.Raw, r.Actual)
	}
}

// PrintArtifacts lists the files a run produced.
func PrintArtifacts(w io.Writer, files []string) {
	fmt.Fprintln(w)
	for _, f := range files {
		fmt.Fprintf(w, "created: %s\n", f)
	}
}
