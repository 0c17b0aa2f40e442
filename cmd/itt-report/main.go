// Command itt-report estimates the intent-to-treat effect of the trial on
// standardized math and Hindi endline scores and prints the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rctcore/internal/analysis"
	"rctcore/internal/config"
	"rctcore/internal/infra/metrics"
	"rctcore/internal/infra/source/s3"
	"rctcore/internal/ingest"
	"rctcore/internal/panel"
	"rctcore/internal/regress"
	"rctcore/internal/report"
	"rctcore/internal/source"
)

var exitFunc = os.Exit

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// usageError marks problems with the invocation rather than the data.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type flags struct {
	configPath  string
	format      string
	table       string
	output      string
	useT        bool
	alpha       float64
	logLevel    string
	pushgateway string
	timeout     time.Duration
	verbose     bool
}

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	var runErr error
	cmd := newRootCmd(stdout, stderr, &runErr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		err = runErr
	}
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(stderr, "itt-report: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitFail
}

func newRootCmd(stdout, stderr io.Writer, runErr *error) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "itt-report [input]",
		Short: "Estimate ITT effects on standardized math and Hindi scores",
		Long: `itt-report loads the long-format trial panel (Stata .dta, CSV, or a SQL
table), keeps subjects observed at baseline and endline inside the IRT linking
sample, standardizes scores against the control group and regresses each
endline z-score on treatment, its baseline z-score and strata fixed effects
with HC1 robust standard errors.

The input may be a local path, file://, s3://bucket/key, sqlite://path or a
postgres:// DSN. Settings come from defaults, --config, RCTCORE_* variables
and flags, in that order.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				return usageError{err}
			}
			*runErr = run(cmd.Context(), cfg, stdout, stderr)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringVar(&f.format, "format", "", "input format: dta or csv (default from extension)")
	fl.StringVar(&f.table, "table", "", "table to read for sqlite:// and postgres:// inputs")
	fl.StringVar(&f.output, "output", "", "output format: text, json or csv")
	fl.BoolVar(&f.useT, "use-t", false, "use Student t inference with n-k degrees of freedom")
	fl.Float64Var(&f.alpha, "alpha", 0, "confidence interval complement (default 0.05)")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fl.StringVar(&f.pushgateway, "pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	fl.DurationVar(&f.timeout, "timeout", 0, "overall deadline for the run (0 disables)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print the filter report and emit stage traces on stderr")
	return cmd
}

// resolveConfig layers flags and the positional input over the loaded
// configuration. Only flags set on the command line override.
func resolveConfig(cmd *cobra.Command, f flags, args []string) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	changed := cmd.Flags().Changed
	if len(args) == 1 {
		cfg.Input = args[0]
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("table") {
		cfg.Table = f.table
	}
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("use-t") {
		cfg.Regression.UseT = f.useT
	}
	if changed("alpha") {
		cfg.Regression.Alpha = f.alpha
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("pushgateway") {
		cfg.Pushgateway = f.pushgateway
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	inputFormat, err := ingest.ParseFormat(cfg.Format)
	if err != nil {
		return usageError{err}
	}
	outputFormat, err := report.ParseFormat(cfg.Output)
	if err != nil {
		return usageError{err}
	}

	zl, err := newLogger(cfg.LogLevel, stderr)
	if err != nil {
		return usageError{err}
	}
	defer func() { _ = zl.Sync() }()
	logger := sugarLogger{zl.Sugar()}

	resolver := &source.Resolver{S3: s3.Config{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint, PathStyle: cfg.S3.PathStyle}}
	loader := analysis.LoaderFunc(func(ctx context.Context) (panel.Panel, error) {
		return ingest.Load(ctx, ingest.Options{
			Input:    cfg.Input,
			Format:   inputFormat,
			Table:    cfg.Table,
			Columns:  cfg.Columns,
			Resolver: resolver,
			Logger:   logger,
		})
	})

	runID := uuid.NewString()
	recorder := metrics.NewRecorder(runID)
	opts := []analysis.Option{
		analysis.WithRunID(runID),
		analysis.WithLogger(logger),
		analysis.WithMetrics(recorder),
		analysis.WithRegression(regress.Options{UseT: cfg.Regression.UseT, Alpha: cfg.Regression.Alpha}),
	}
	if cfg.Verbose {
		opts = append(opts, analysis.WithTracer(analysis.NewJSONTracer(stderr, runID)))
	}
	a := analysis.New(loader, opts...)

	logger.Info("run started", "run_id", a.RunID(), "input", cfg.Input, "use_t", cfg.Regression.UseT, "alpha", cfg.Regression.Alpha)
	rep, runErr := a.Run(ctx)
	if len(rep.Estimates) > 0 {
		if err := (report.Renderer{Verbose: cfg.Verbose}).Render(stdout, outputFormat, rep); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	if cfg.Pushgateway != "" {
		if err := recorder.Push(ctx, cfg.Pushgateway); err != nil {
			logger.Warn("metrics push failed", "run_id", a.RunID(), "error", err)
		} else {
			logger.Debug("metrics pushed", "run_id", a.RunID(), "gateway", cfg.Pushgateway)
		}
	}
	if runErr != nil {
		logger.Error("run failed", "run_id", a.RunID(), "error", runErr)
		return runErr
	}
	logger.Info("run finished", "run_id", a.RunID(), "subjects", rep.Subjects)
	return nil
}

// newLogger builds a production JSON logger on w at level.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(lvl),
	)
	return zap.New(core), nil
}

// sugarLogger adapts zap's sugared logger to the key/value Logger interfaces.
type sugarLogger struct{ s *zap.SugaredLogger }

func (l sugarLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l sugarLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l sugarLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l sugarLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
