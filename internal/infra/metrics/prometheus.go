// Package metrics records pipeline metrics on a private Prometheus registry
// and pushes them to a Pushgateway once the batch run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job the run is grouped under.
const JobName = "rctcore_itt"

// Recorder implements analysis.MetricsRecorder.
type Recorder struct {
	reg           *prometheus.Registry
	runID         string
	stageDuration *prometheus.GaugeVec
	stageRuns     *prometheus.CounterVec
	rowsDropped   *prometheus.CounterVec
	effect        *prometheus.GaugeVec
}

// NewRecorder registers the run metrics on a fresh registry.
func NewRecorder(runID string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg:   reg,
		runID: runID,
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rctcore_stage_duration_seconds",
			Help: "Wall time of the last run of each pipeline stage (in seconds)",
		}, []string{"stage"}),
		stageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rctcore_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		}, []string{"stage", "status"}),
		rowsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rctcore_rows_dropped_total",
			Help: "Rows removed by each filtering step",
		}, []string{"step"}),
		effect: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rctcore_treatment_effect",
			Help: "Estimated ITT coefficient on treatment, in control-group SD units",
		}, []string{"domain"}),
	}
}

// Registry exposes the registry for inspection.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe records a stage outcome.
func (r *Recorder) Observe(_ context.Context, stage string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.stageDuration.WithLabelValues(stage).Set(duration.Seconds())
	r.stageRuns.WithLabelValues(stage, status).Inc()
}

// RowsDropped adds n to the step's counter. The series is created even for
// zero so every step is visible.
func (r *Recorder) RowsDropped(step string, n int) {
	r.rowsDropped.WithLabelValues(step).Add(float64(max(n, 0)))
}

// Effect sets the domain's treatment coefficient.
func (r *Recorder) Effect(domain string, estimate float64) {
	r.effect.WithLabelValues(domain).Set(estimate)
}

// Push replaces the run's group on the Pushgateway at url.
func (r *Recorder) Push(ctx context.Context, url string) error {
	p := push.New(url, JobName).Gatherer(r.reg)
	if r.runID != "" {
		p = p.Grouping("run_id", r.runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
