// Package analysis runs the ITT pipeline: load, reshape, standardize and
// estimate, passing each stage's output explicitly to the next.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rctcore/internal/panel"
	"rctcore/internal/regress"
	"rctcore/internal/standardize"
)

// Loader produces the long panel.
type Loader interface {
	Load(ctx context.Context) (panel.Panel, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (panel.Panel, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (panel.Panel, error) { return f(ctx) }

// Estimate is the ITT result for one domain. Err is set when the fit failed.
type Estimate struct {
	Domain   panel.Domain    `json:"-"`
	Label    string          `json:"label"`
	Title    string          `json:"title"`
	Outcome  string          `json:"outcome"`
	Baseline string          `json:"baseline"`
	Sample   panel.StepCount `json:"sample"`
	Result   *regress.Result `json:"result,omitempty"`
	Err      error           `json:"-"`
}

// Treatment returns the treatment coefficient of a successful fit.
func (e Estimate) Treatment() (regress.Coefficient, bool) {
	if e.Result == nil {
		return regress.Coefficient{}, false
	}
	return e.Result.Coef(treatColumn)
}

// Report is everything one run produces.
type Report struct {
	RunID        string                 `json:"run_id"`
	Source       string                 `json:"source"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	Observations int                    `json:"observations"`
	MissingID    int                    `json:"missing_id"`
	Filter       panel.FilterReport     `json:"filter"`
	Subjects     int                    `json:"subjects"`
	References   standardize.References `json:"references"`
	Estimates    []Estimate             `json:"estimates"`
}

// Analyzer wires the pipeline stages to their collaborators.
type Analyzer struct {
	loader  Loader
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
	runID   string
	opts    regress.Options
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithTracer sets the stage tracer.
func WithTracer(t Tracer) Option {
	return func(a *Analyzer) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(a *Analyzer) {
		if id != "" {
			a.runID = id
		}
	}
}

// WithRegression sets the inference options of both estimates.
func WithRegression(opts regress.Options) Option {
	return func(a *Analyzer) { a.opts = opts }
}

// New constructs an Analyzer reading from loader.
func New(loader Loader, opts ...Option) *Analyzer {
	a := &Analyzer{
		loader:  loader,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}
	return a
}

// RunID returns the identifier attached to logs, spans and metrics.
func (a *Analyzer) RunID() string { return a.runID }

// Run executes the pipeline. Load and reshape failures, and cancellation
// before standardization, abort the run; a
// failed estimate is recorded on its Estimate and joined into the returned
// error while the other domain still runs.
func (a *Analyzer) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: a.runID, StartedAt: a.now()}
	if a.loader == nil {
		return report, fmt.Errorf("analysis: loader not configured")
	}

	var long panel.Panel
	err := a.stage(ctx, "load", func(ctx context.Context) error {
		var err error
		long, err = a.loader.Load(ctx)
		return err
	})
	if err != nil {
		return report, err
	}
	report.Source = long.Source
	report.Observations = len(long.Observations)
	report.MissingID = long.MissingID
	a.logger.Info("panel loaded", "run_id", a.runID, "source", long.Source, "rows", len(long.Observations), "missing_id", long.MissingID)
	if long.MissingID > 0 {
		a.metrics.RowsDropped("missing_subject_id", long.MissingID)
	}

	var wide panel.WideTable
	err = a.stage(ctx, "reshape", func(context.Context) error {
		var err error
		wide, report.Filter, err = panel.Reshape(long)
		return err
	})
	if err != nil {
		return report, err
	}
	for _, step := range report.Filter.Steps {
		a.logger.Info("filter step", "run_id", a.runID, "step", step.Step, "in", step.In, "kept", step.Kept, "dropped", step.Dropped, "reason", step.Reason)
		a.metrics.RowsDropped(step.Step, step.Dropped)
	}
	report.Subjects = wide.Len()

	var scored standardize.Table
	err = a.stage(ctx, "standardize", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scored = standardize.Standardize(wide)
		return nil
	})
	if err != nil {
		return report, err
	}
	report.References = scored.References
	for _, ref := range scored.References {
		if ref.Degenerate {
			a.logger.Warn("control reference is degenerate; z-scores undefined", "run_id", a.runID, "measure", ref.Column, "n", ref.N, "sd", ref.SD)
			continue
		}
		a.logger.Debug("control reference", "run_id", a.runID, "measure", ref.Column, "mean", ref.Mean, "sd", ref.SD, "n", ref.N)
	}

	var failures []error
	for _, d := range panel.Domains() {
		est := a.estimate(ctx, scored, d)
		if est.Err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", est.Label, est.Err))
		}
		report.Estimates = append(report.Estimates, est)
	}
	report.FinishedAt = a.now()
	return report, errors.Join(failures...)
}

func (a *Analyzer) estimate(ctx context.Context, t standardize.Table, d panel.Domain) Estimate {
	outcome := panel.MeasureFor(d, panel.RoundEndline)
	baseline := panel.MeasureFor(d, panel.RoundBaseline)
	est := Estimate{
		Domain:   d,
		Label:    d.Label() + " ITT (Z-score)",
		Title:    d.Label() + " Z",
		Outcome:  outcome.ZName(),
		Baseline: baseline.ZName(),
	}
	est.Err = a.stage(ctx, "estimate_"+d.String(), func(context.Context) error {
		res, step, err := ITT(t, outcome, baseline, a.opts)
		est.Sample = step
		if err != nil {
			return err
		}
		est.Result = &res
		return nil
	})
	if est.Sample.Step != "" {
		a.metrics.RowsDropped(est.Sample.Step, est.Sample.Dropped)
	}
	if est.Err != nil {
		a.logger.Error("estimate failed", "run_id", a.runID, "domain", d.String(), "error", est.Err)
		return est
	}
	coef, _ := est.Treatment()
	a.metrics.Effect(d.String(), coef.Estimate)
	a.logger.Info("estimate", "run_id", a.runID, "domain", d.String(), "n_obs", est.Result.NObs, "treat", coef.Estimate, "std_err", coef.StdErr)
	return est
}

func (a *Analyzer) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := a.now()
	ctx, span := a.tracer.Start(ctx, name)
	err := fn(ctx)
	span.End(err)
	a.metrics.Observe(ctx, name, err == nil, a.now().Sub(start))
	return err
}
