package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"
)

// htmlReportData contains all data needed for the HTML report template.
type htmlReportData struct {
	Title            string
	StartedAt        string
	RunTime          time.Duration
	Rampup           time.Duration
	Interval         time.Duration
	Summary          Summary
	ThresholdsPassed int
	Charts           []Series
	ChartsJSON       string
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDuration": func(d time.Duration) string {
		return d.String()
	},
	"formatFloat": func(f float64) string {
		return fmt.Sprintf("%.2f", f)
	},
	"formatMs": func(f float64) string {
		return fmt.Sprintf("%.3f", f)
	},
	"formatPercent": func(part, total int64) string {
		if total == 0 {
			return "0.0"
		}
		return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
	},
}).Parse(htmlTemplate))

// writeHTML renders a standalone HTML report with embedded charts. The
// start time comes from the records, never the clock.
func writeHTML(w io.Writer, title string, summary Summary, runTime, rampup, interval time.Duration) error {
	charts := append(append([]Series(nil), summary.Groups...), summary.Timers...)
	chartsJSON, err := json.Marshal(charts)
	if err != nil {
		return fmt.Errorf("failed to marshal charts: %w", err)
	}

	passed := 0
	for _, r := range summary.Thresholds {
		if r.Pass {
			passed++
		}
	}

	started := ""
	if summary.Overall.Total > 0 {
		started = time.Unix(int64(summary.StartEpoch), 0).UTC().Format(time.RFC3339)
	}

	data := htmlReportData{
		Title:            title,
		StartedAt:        started,
		RunTime:          runTime,
		Rampup:           rampup,
		Interval:         interval,
		Summary:          summary,
		ThresholdsPassed: passed,
		Charts:           charts,
		ChartsJSON:       string(chartsJSON),
	}
	if summary.Overall.Total == 0 {
		data.Charts = nil
	}

	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} Performance Results</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 {
            font-size: 1.1rem;
            margin-bottom: 15px;
            color: #4b5563;
        }
        .chart {
            width: 100%;
            height: 300px;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>{{.Title}} Performance Results</h1>
            <div class="meta">Started: {{.StartedAt}} | Run time: {{formatDuration .RunTime}} | Ramp-up: {{formatDuration .Rampup}} | Interval: {{formatDuration .Interval}}</div>
        </header>

        <div class="content">
            <!-- Summary Cards -->
            <div class="grid">
                <div class="card">
                    <h3>Transactions</h3>
                    <div class="value">{{.Summary.Overall.Total}}</div>
                </div>
                <div class="card success">
                    <h3>Successful</h3>
                    <div class="value">{{.Summary.Overall.Successes}}</div>
                    <div class="subvalue">{{formatPercent .Summary.Overall.Successes .Summary.Overall.Total}}%</div>
                </div>
                <div class="card error">
                    <h3>Errors</h3>
                    <div class="value">{{.Summary.Overall.Failures}}</div>
                    <div class="subvalue">{{formatPercent .Summary.Overall.Failures .Summary.Overall.Total}}%</div>
                </div>
                <div class="card">
                    <h3>Transactions/sec</h3>
                    <div class="value">{{formatFloat .Summary.Overall.RequestsPerSec}}</div>
                </div>
            </div>

            <!-- Response Time Statistics -->
            <div class="section">
                <h2>Response Time (ms)</h2>
                <div class="latency-grid">
                    <div class="latency-item">
                        <div class="label">Min</div>
                        <div class="value">{{formatMs .Summary.Overall.MinLatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Avg</div>
                        <div class="value">{{formatMs .Summary.Overall.MeanLatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P80</div>
                        <div class="value">{{formatMs .Summary.Overall.P80LatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P90</div>
                        <div class="value">{{formatMs .Summary.Overall.P90LatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P95</div>
                        <div class="value">{{formatMs .Summary.Overall.P95LatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Max</div>
                        <div class="value">{{formatMs .Summary.Overall.MaxLatencyMs}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Stdev</div>
                        <div class="value">{{formatMs .Summary.Overall.StdDevLatencyMs}}</div>
                    </div>
                </div>
            </div>

            <!-- Thresholds -->
            {{if .Summary.Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdsPassed}}/{{len .Summary.Thresholds}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Summary.Thresholds}}
                        <tr>
                            <td>{{.Threshold.Raw}}</td>
                            <td>{{.Threshold.Operator}} {{formatFloat .Threshold.Value}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">PASS</span>
                                {{else}}
                                <span class="badge badge-error">FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- User Groups -->
            <div class="section">
                <h2>User Groups</h2>
                {{template "seriesTable" .Summary.Groups}}
            </div>

            {{if .Summary.Timers}}
            <div class="section">
                <h2>Custom Timers</h2>
                {{template "seriesTable" .Summary.Timers}}
            </div>
            {{end}}

            <!-- Charts -->
            {{if .Charts}}
            <div class="section">
                <h2>Performance Over Time</h2>
                {{range $i, $c := .Charts}}
                <div class="chart-container">
                    <h3>{{$c.Name}}: throughput (transactions/sec)</h3>
                    <div id="tp-chart-{{$i}}" class="chart"></div>
                </div>
                <div class="chart-container">
                    <h3>{{$c.Name}}: response time (ms)</h3>
                    <div id="rt-chart-{{$i}}" class="chart"></div>
                </div>
                {{end}}
            </div>
            {{end}}

            <!-- Errors -->
            <div class="section">
                <h2>Errors</h2>
                {{if .Summary.Errors}}
                <table>
                    <thead>
                        <tr>
                            <th>Count</th>
                            <th>Error</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Summary.Errors}}
                        <tr>
                            <td>{{.Count}}</td>
                            <td>{{.Text}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="no-data">No errors</div>
                {{end}}
            </div>
        </div>
    </div>

    {{if .Charts}}
    <script>
        const charts = JSON.parse({{.ChartsJSON}});

        charts.forEach((c, i) => {
            const ends = c.buckets.map(b => b.end);

            new uPlot({
                title: c.name + " throughput",
                width: document.getElementById('tp-chart-' + i).offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Elapsed (s)" },
                    {
                        label: "Transactions/sec",
                        stroke: "#667eea",
                        fill: "rgba(102, 126, 234, 0.1)",
                        width: 2
                    }
                ],
                axes: [
                    { label: "Elapsed (seconds)" },
                    { label: "Transactions/sec" }
                ]
            }, [ends, c.buckets.map(b => b.throughput)], document.getElementById('tp-chart-' + i));

            new uPlot({
                title: c.name + " response time",
                width: document.getElementById('rt-chart-' + i).offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Elapsed (s)" },
                    { label: "Avg", stroke: "#10b981", width: 2 },
                    { label: "P80", stroke: "#3b82f6", width: 2 },
                    { label: "P90", stroke: "#f59e0b", width: 2 },
                    { label: "Max", stroke: "#ef4444", width: 2 }
                ],
                axes: [
                    { label: "Elapsed (seconds)" },
                    { label: "Response time (ms)" }
                ]
            }, [
                ends,
                c.buckets.map(b => b.avg_ms),
                c.buckets.map(b => b.p80_ms),
                c.buckets.map(b => b.p90_ms),
                c.buckets.map(b => b.max_ms)
            ], document.getElementById('rt-chart-' + i));
        });
    </script>
    {{end}}
</body>
</html>
{{define "seriesTable"}}
<table>
    <thead>
        <tr>
            <th>Name</th>
            <th>Count</th>
            <th>Errors</th>
            <th>Rate/sec</th>
            <th>Min</th>
            <th>Avg</th>
            <th>P80</th>
            <th>P90</th>
            <th>P95</th>
            <th>Max</th>
            <th>Stdev</th>
        </tr>
    </thead>
    <tbody>
        {{range .}}
        <tr>
            <td><strong>{{.Name}}</strong>{{with .Config}}<br><small>{{.Script}}: {{.Processes}} x {{.Threads}} threads</small>{{end}}</td>
            <td>{{.Stats.Total}}</td>
            <td>{{.Stats.Failures}}</td>
            <td>{{formatFloat .Stats.RequestsPerSec}}</td>
            <td>{{formatMs .Stats.MinLatencyMs}}</td>
            <td>{{formatMs .Stats.MeanLatencyMs}}</td>
            <td>{{formatMs .Stats.P80LatencyMs}}</td>
            <td>{{formatMs .Stats.P90LatencyMs}}</td>
            <td>{{formatMs .Stats.P95LatencyMs}}</td>
            <td>{{formatMs .Stats.MaxLatencyMs}}</td>
            <td>{{formatMs .Stats.StdDevLatencyMs}}</td>
        </tr>
        {{end}}
    </tbody>
</table>
{{end}}
`
