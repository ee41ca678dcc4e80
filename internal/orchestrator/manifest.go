package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/multimech/internal/config"
	"github.com/torosent/multimech/internal/report"
)

// ManifestName is the run description written next to the results.
const ManifestName = "run.yaml"

// Manifest records what a run was and how it ended.
type Manifest struct {
	RunID            string              `yaml:"run_id"`
	Project          string              `yaml:"project"`
	StartedAt        time.Time           `yaml:"started_at"`
	FinishedAt       time.Time           `yaml:"finished_at"`
	Interrupted      bool                `yaml:"interrupted"`
	RunTime          float64             `yaml:"run_time"`
	Rampup           float64             `yaml:"rampup"`
	ResultsInterval  float64             `yaml:"results_ts_interval"`
	Groups           []ManifestGroup     `yaml:"user_groups"`
	Transactions     int64               `yaml:"transactions"`
	Errors           int64               `yaml:"errors"`
	ThresholdsPassed bool                `yaml:"thresholds_passed"`
	Thresholds       []ManifestThreshold `yaml:"thresholds,omitempty"`
}

type ManifestGroup struct {
	Name      string  `yaml:"name"`
	Script    string  `yaml:"script"`
	Processes int     `yaml:"processes"`
	Threads   int     `yaml:"threads"`
	Rampup    float64 `yaml:"rampup"`
	StartTime float64 `yaml:"starttime"`
}

type ManifestThreshold struct {
	Threshold string  `yaml:"threshold"`
	Actual    float64 `yaml:"actual"`
	Pass      bool    `yaml:"pass"`
}

func newManifest(runID, project string, started, finished time.Time, interrupted bool, rc *config.RunConfig, s report.Summary) Manifest {
	m := Manifest{
		RunID:            runID,
		Project:          project,
		StartedAt:        started,
		FinishedAt:       finished,
		Interrupted:      interrupted,
		RunTime:          rc.Global.RunTime.Seconds(),
		Rampup:           rc.Global.Rampup.Seconds(),
		ResultsInterval:  rc.Global.ResultsInterval.Seconds(),
		Transactions:     s.Overall.Total,
		Errors:           s.Overall.Failures,
		ThresholdsPassed: s.ThresholdsPassed(),
	}
	for _, g := range rc.Groups {
		m.Groups = append(m.Groups, ManifestGroup{
			Name:      g.Name,
			Script:    g.Script,
			Processes: g.Processes,
			Threads:   g.Threads,
			Rampup:    g.Rampup.Seconds(),
			StartTime: g.StartTime.Seconds(),
		})
	}
	for _, r := range s.Thresholds {
		m.Thresholds = append(m.Thresholds, ManifestThreshold{
			Threshold: r.Threshold.Raw,
			Actual:    r.Actual,
			Pass:      r.Pass,
		})
	}
	return m
}

func writeManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a run.yaml file.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
