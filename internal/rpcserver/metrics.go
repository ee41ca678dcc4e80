package rpcserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/multimech/internal/session"
)

const metricPrefix = "multimech_"

var (
	runningDesc = prometheus.NewDesc(
		metricPrefix+"run_active",
		"1 while a run of the project is in progress",
		[]string{"project"},
		nil,
	)
	runsStartedDesc = prometheus.NewDesc(
		metricPrefix+"runs_started_total",
		"Runs started since the server came up",
		[]string{"project"},
		nil,
	)
	recordsDesc = prometheus.NewDesc(
		metricPrefix+"run_records",
		"Transaction iterations recorded by the current or last run",
		[]string{"project"},
		nil,
	)
	timersDesc = prometheus.NewDesc(
		metricPrefix+"run_custom_timers",
		"Custom timer values recorded by the current or last run",
		[]string{"project"},
		nil,
	)
	errorsDesc = prometheus.NewDesc(
		metricPrefix+"run_errors",
		"Failed iterations recorded by the current or last run",
		[]string{"project"},
		nil,
	)
)

// sessionCollector exposes a session snapshot at scrape time.
type sessionCollector struct {
	state session.Reader
}

func (c *sessionCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- runningDesc
	desc <- runsStartedDesc
	desc <- recordsDesc
	desc <- timersDesc
	desc <- errorsDesc
}

func (c *sessionCollector) Collect(metrics chan<- prometheus.Metric) {
	s := c.state.Snapshot()
	running := 0.0
	if s.Running {
		running = 1
	}
	metrics <- prometheus.MustNewConstMetric(runningDesc, prometheus.GaugeValue, running, s.Project)
	metrics <- prometheus.MustNewConstMetric(runsStartedDesc, prometheus.CounterValue, float64(s.RunsStarted), s.Project)
	metrics <- prometheus.MustNewConstMetric(recordsDesc, prometheus.GaugeValue, float64(s.Records), s.Project)
	metrics <- prometheus.MustNewConstMetric(timersDesc, prometheus.GaugeValue, float64(s.Timers), s.Project)
	metrics <- prometheus.MustNewConstMetric(errorsDesc, prometheus.GaugeValue, float64(s.Errors), s.Project)
}
