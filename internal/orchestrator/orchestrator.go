// Package orchestrator runs a project: it loads the configuration and
// transactions, drives the runner, drains the sink and hands the records
// to reporting and the optional post-run steps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/multimech/internal/config"
	"github.com/torosent/multimech/internal/hook"
	"github.com/torosent/multimech/internal/logging"
	"github.com/torosent/multimech/internal/output"
	"github.com/torosent/multimech/internal/report"
	"github.com/torosent/multimech/internal/resultsdb"
	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/script"
	"github.com/torosent/multimech/internal/session"
	"github.com/torosent/multimech/internal/sink"
	"github.com/torosent/multimech/internal/stream"
	"github.com/torosent/multimech/internal/threshold"
	"github.com/torosent/multimech/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	timestampLayout  = "2006.01.02_15.04.05"
)

// ErrThresholdsFailed is returned after a run whose artifacts were written
// but at least one threshold failed.
var ErrThresholdsFailed = errors.New("thresholds failed")

// ErrRunInProgress is returned when a run is requested while another is
// active.
var ErrRunInProgress = session.ErrRunInProgress

// ScriptLoader loads a project's transactions.
type ScriptLoader interface {
	runner.ModuleLoader
	runner.Resolver
	LoadAll(dir string, validate bool) error
}

// ResultsSink is the single consumer of the result channel.
type ResultsSink interface {
	output.Counters
	Start(ch *runner.ResultChannel, outputDir string, console bool) error
	Finalize(ctx context.Context) error
}

// Reporter renders the artifacts of a results directory.
type Reporter interface {
	Render(outputDir, rawFile string, runTime, rampup, interval time.Duration, groups []report.Group, xml bool) (report.Summary, error)
}

// Options replace the collaborators of an Orchestrator. Zero values select
// the real implementations.
type Options struct {
	Stdout      io.Writer
	Logger      *zap.Logger
	Session     *session.Session
	Loader      ScriptLoader
	Hook        *hook.Runner
	Now         func() time.Time
	NewSink     func(sink.Options) ResultsSink
	NewReporter func(title, lastResultsDir string, thresholds []threshold.Threshold) Reporter
}

// Outcome describes a finished run or re-processing.
type Outcome struct {
	RunID       string
	OutputDir   string
	Summary     report.Summary
	Result      runner.Result
	Interrupted bool
}

type Orchestrator struct {
	cfg  config.Config
	opts Options
	log  *zap.Logger
	out  io.Writer
}

func New(cfg config.Config, opts Options) *Orchestrator {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Session == nil {
		opts.Session = session.New(cfg.ProjectDir(), cfg.Project)
	}
	if opts.Loader == nil {
		opts.Loader = script.NewLoader(opts.Logger.Named("script"))
	}
	if opts.Hook == nil {
		opts.Hook = hook.NewRunner(opts.Logger)
		opts.Hook.Stdout = opts.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSink == nil {
		opts.NewSink = func(o sink.Options) ResultsSink { return sink.New(o) }
	}
	if opts.NewReporter == nil {
		opts.NewReporter = func(title, lastDir string, ths []threshold.Threshold) Reporter {
			return report.Renderer{Title: title, LastResultsDir: lastDir, Thresholds: ths}
		}
	}
	return &Orchestrator{cfg: cfg, opts: opts, log: opts.Logger, out: opts.Stdout}
}

// Session returns the state shared with the RPC server.
func (o *Orchestrator) Session() *session.Session { return o.opts.Session }

// Config returns the invocation the orchestrator was built for.
func (o *Orchestrator) Config() config.Config { return o.cfg }

// Init checks that the project exists.
func (o *Orchestrator) Init() error {
	dir := o.cfg.ScriptsDir()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", script.ErrScriptsDirNotFound, dir)
	}
	return nil
}

// OutputDir returns the results directory of a run started at start.
func (o *Orchestrator) OutputDir(start time.Time) string {
	stamp := start.Format(timestampLayout)
	if o.cfg.OutputDir != "" {
		return filepath.Join(o.cfg.OutputDir, fmt.Sprintf("results_%s_%s", o.cfg.Project, stamp))
	}
	return filepath.Join(o.resultsRoot(), "results_"+stamp)
}

func (o *Orchestrator) resultsRoot() string {
	return filepath.Join(o.cfg.ProjectDir(), "results")
}

type prepared struct {
	rc         *config.RunConfig
	topo       runner.Topology
	thresholds []threshold.Threshold
}

// prepare validates everything a run needs before any load is generated.
func (o *Orchestrator) prepare() (*prepared, error) {
	rc, err := config.LoadRunConfig(o.cfg.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	ths, err := threshold.ParseMultiple(rc.Global.Thresholds)
	if err != nil {
		return nil, err
	}
	if err := o.opts.Loader.LoadAll(o.cfg.ScriptsDir(), true); err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	topo, err := rc.Topology(o.opts.Loader)
	if err != nil {
		return nil, err
	}
	return &prepared{rc: rc, topo: topo, thresholds: ths}, nil
}

// Run executes one load test of the project.
func (o *Orchestrator) Run(ctx context.Context) (outcome *Outcome, err error) {
	p, err := o.prepare()
	if err != nil {
		return nil, err
	}
	rc := p.rc
	g := rc.Global

	runID, err := o.opts.Session.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if endErr := o.opts.Session.End(err); endErr != nil {
			o.log.Warn("releasing project lock failed", zap.Error(endErr))
		}
	}()

	startedAt := o.opts.Now()
	outDir := o.OutputDir(startedAt)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	runLog := logging.WithRunLog(o.log, filepath.Join(outDir, logging.RunLogName))
	defer runLog.Close()
	log := runLog.Logger.With(zap.String("run_id", runID), zap.String("project", o.cfg.Project))

	provider, err := tracing.Init(ctx, tracing.Options{Config: g.Tracing, Project: o.cfg.Project, RunID: runID})
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()
	tracer := provider.Tracer()

	var publisher sink.Publisher
	if pub := o.openStream(ctx, g, runID, log); pub != nil {
		publisher = pub
		defer pub.Close()
	}

	s := o.opts.NewSink(sink.Options{Console: o.out, Publisher: publisher, Logger: log})
	ch := runner.NewResultChannel(0)
	if err := s.Start(ch, outDir, g.ConsoleLogging); err != nil {
		return nil, err
	}
	o.opts.Session.Attach(outDir, s)

	log.Info("run starting",
		zap.String("output_dir", outDir),
		zap.Int("groups", len(rc.Groups)),
		zap.Int("processes", p.topo.Processes()),
		zap.Int("workers", p.topo.Workers()),
		zap.Duration("run_time", g.RunTime),
	)
	output.PrintTopology(o.out, len(rc.Groups), p.topo.Processes(), p.topo.Workers())

	var progress *output.ProgressReporter
	if g.ProgressBar && !g.ConsoleLogging {
		progress = output.NewProgressReporter(s, g.RunTime, progressInterval, o.out)
		progress.Start()
	}

	r := runner.New(runner.Options{
		Topology:      p.topo,
		Loader:        o.opts.Loader,
		Results:       ch,
		Tracer:        tracer,
		FailureLogger: logging.NewFailureLogger(log),
	})
	result := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if result.Err != nil {
		log.Warn("not every group started", zap.Error(result.Err))
	}
	interrupted := ctx.Err() != nil
	if interrupted {
		log.Warn("run interrupted")
	}

	// Everything after the load keeps going when the run was interrupted.
	ctx = context.WithoutCancel(ctx)

	ch.Close()
	if err := s.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("finalize results: %w", err)
	}
	log.Info("results drained",
		zap.Int64("records", s.RecordCount()),
		zap.Int64("errors", s.ErrorCount()),
		zap.Duration("duration", result.Duration),
	)

	fmt.Fprint(o.out, "\n\nanalyzing results...\n\n")
	summary, err := o.render(ctx, tracer, rc, p.thresholds, outDir)
	if err != nil {
		return nil, err
	}

	savedConfig := filepath.Join(outDir, config.SavedConfigName(rc.Path))
	if err := os.WriteFile(savedConfig, rc.Raw, 0o644); err != nil {
		return nil, fmt.Errorf("save configuration: %w", err)
	}
	manifest := newManifest(runID, o.cfg.Project, startedAt, o.opts.Now(), interrupted, rc, summary)
	manifestPath := filepath.Join(outDir, ManifestName)
	if err := writeManifest(manifestPath, manifest); err != nil {
		return nil, err
	}

	output.PrintReport(o.out, summary)
	output.PrintArtifacts(o.out, append(summary.Files, savedConfig, manifestPath))
	fmt.Fprintln(o.out)

	if g.ResultsDatabase != "" {
		fmt.Fprint(o.out, "loading results into database\n\n")
		if err := o.loadDatabase(ctx, tracer, rc, runID, startedAt, outDir, log); err != nil {
			log.Error("loading results database failed", zap.Error(err))
		}
	}
	if g.PostRunScript != "" {
		fmt.Fprintf(o.out, "running post_run_script: %s\n\n", g.PostRunScript)
		if err := o.runHook(ctx, tracer, g.PostRunScript, runID, outDir); err != nil {
			log.Error("post_run_script failed", zap.Error(err))
		}
	}
	fmt.Fprint(o.out, "done.\n")
	log.Info("run finished", zap.Bool("thresholds_passed", summary.ThresholdsPassed()))

	outcome = &Outcome{
		RunID:       runID,
		OutputDir:   outDir,
		Summary:     summary,
		Result:      result,
		Interrupted: interrupted,
	}
	if !summary.ThresholdsPassed() {
		return outcome, ErrThresholdsFailed
	}
	return outcome, nil
}

// Rerun re-renders the reports of an existing results directory of the
// project from the configuration saved there. No load is generated.
func (o *Orchestrator) Rerun(ctx context.Context, resultsDir string) (*Outcome, error) {
	outDir := resultsDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(o.resultsRoot(), resultsDir)
	}
	saved, err := config.FindSavedConfig(outDir)
	if err != nil {
		return nil, err
	}
	rc, err := config.LoadRunConfig(saved)
	if err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	ths, err := threshold.ParseMultiple(rc.Global.Thresholds)
	if err != nil {
		return nil, err
	}

	var runID string
	if m, err := ReadManifest(filepath.Join(outDir, ManifestName)); err == nil {
		runID = m.RunID
	}

	fmt.Fprint(o.out, "\n\nanalyzing results...\n\n")
	summary, err := o.render(ctx, (&tracing.Provider{}).Tracer(), rc, ths, outDir)
	if err != nil {
		return nil, err
	}
	output.PrintArtifacts(o.out, summary.Files)
	fmt.Fprintln(o.out)

	outcome := &Outcome{RunID: runID, OutputDir: outDir, Summary: summary}
	if !summary.ThresholdsPassed() {
		return outcome, ErrThresholdsFailed
	}
	return outcome, nil
}

func (o *Orchestrator) render(ctx context.Context, tracer trace.Tracer, rc *config.RunConfig, ths []threshold.Threshold, outDir string) (report.Summary, error) {
	_, span := tracing.StartPhaseSpan(ctx, tracer, "report")
	reporter := o.opts.NewReporter(o.cfg.Project, o.resultsRoot(), ths)
	summary, err := reporter.Render(outDir, sink.RawFileName,
		rc.Global.RunTime, rc.Global.Rampup, rc.Global.ResultsInterval,
		reportGroups(rc.Groups), rc.Global.XMLReport)
	tracing.EndSpan(span, err, attribute.Int64("multimech.records", summary.Overall.Total))
	if err != nil {
		return report.Summary{}, fmt.Errorf("render report: %w", err)
	}
	return summary, nil
}

func (o *Orchestrator) openStream(ctx context.Context, g config.GlobalConfig, runID string, log *zap.Logger) *stream.Publisher {
	if g.ResultsStream == "" {
		return nil
	}
	pub, err := stream.New(ctx, g.ResultsStream, g.ResultsStreamKey, runID)
	if err != nil {
		log.Warn("results stream disabled", zap.Error(err))
		return nil
	}
	log.Info("streaming results", zap.String("key", pub.Key()))
	return pub
}

func (o *Orchestrator) loadDatabase(ctx context.Context, tracer trace.Tracer, rc *config.RunConfig, runID string, startedAt time.Time, outDir string, log *zap.Logger) (err error) {
	ctx, span := tracing.StartPhaseSpan(ctx, tracer, "resultsdb")
	defer func() { tracing.EndSpan(span, err) }()

	store, err := resultsdb.Open(rc.Global.ResultsDatabase, log)
	if err != nil {
		return err
	}
	defer store.Close()

	info := resultsdb.RunInfo{
		RunID:           runID,
		Project:         o.cfg.Project,
		StartedAt:       startedAt,
		RunTime:         rc.Global.RunTime,
		Rampup:          rc.Global.Rampup,
		ResultsInterval: rc.Global.ResultsInterval,
		OutputDir:       outDir,
	}
	for _, grp := range rc.Groups {
		info.Groups = append(info.Groups, resultsdb.GroupInfo{
			Name:      grp.Name,
			Script:    grp.Script,
			Processes: grp.Processes,
			Threads:   grp.Threads,
			Rampup:    grp.Rampup,
			StartTime: grp.StartTime,
		})
	}
	_, err = store.Load(ctx, info, filepath.Join(outDir, sink.RawFileName))
	return err
}

func (o *Orchestrator) runHook(ctx context.Context, tracer trace.Tracer, command, runID, outDir string) (err error) {
	ctx, span := tracing.StartPhaseSpan(ctx, tracer, "post_run")
	defer func() { tracing.EndSpan(span, err) }()

	_, err = o.opts.Hook.Run(ctx, hook.Request{
		Script:     command,
		Dir:        o.cfg.ProjectDir(),
		ResultsDir: outDir,
		Project:    o.cfg.Project,
		RunID:      runID,
	})
	return err
}

func reportGroups(groups []config.GroupConfig) []report.Group {
	out := make([]report.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, report.Group{
			Name:      g.Name,
			Script:    g.Script,
			Processes: g.Processes,
			Threads:   g.Threads,
		})
	}
	return out
}
