package analysis

import (
	"errors"
	"fmt"
	"math"

	"rctcore/internal/panel"
	"rctcore/internal/regress"
	"rctcore/internal/standardize"
)

// ErrDegenerateReference marks an estimate whose outcome or baseline
// z-scores are undefined because the control SD is zero or unavailable.
var ErrDegenerateReference = errors.New("analysis: degenerate control reference")

const (
	treatColumn  = "treat"
	strataPrefix = "strata"
)

// Design selects the complete cases for outcome on baseline and builds the
// ITT design: const, treat, the baseline z-score and strata dummies with the
// lowest stratum as reference. The returned step counts the dropped rows.
func Design(t standardize.Table, outcome, baseline panel.Measure) ([]float64, regress.Design, panel.StepCount) {
	var (
		y      []float64
		treat  []float64
		base   []float64
		strata []int
	)
	for _, rec := range t.Records {
		yv, bv := rec.ZScore(outcome), rec.ZScore(baseline)
		if math.IsNaN(yv) || math.IsNaN(bv) || !rec.Treat.Valid() || !rec.Stratum.Valid {
			continue
		}
		y = append(y, yv)
		treat = append(treat, rec.Treat.Float())
		base = append(base, bv)
		strata = append(strata, rec.Stratum.Code)
	}
	step := panel.StepCount{
		Step:    "complete_case_" + outcome.Domain().String(),
		In:      t.Len(),
		Kept:    len(y),
		Dropped: t.Len() - len(y),
		Reason:  "missing outcome, baseline, treat or strata",
	}

	d := regress.Design{
		Names:   []string{treatColumn, baseline.ZName()},
		Columns: [][]float64{treat, base},
	}
	if len(y) > 0 {
		names, cols := regress.StrataDummies(strataPrefix, strata)
		d.Names = append(d.Names, names...)
		d.Columns = append(d.Columns, cols...)
	}
	return y, d.WithConstant(), step
}

// ITT estimates the intent-to-treat effect on outcome controlling for
// baseline and strata fixed effects, with HC1 standard errors.
func ITT(t standardize.Table, outcome, baseline panel.Measure, opts regress.Options) (regress.Result, panel.StepCount, error) {
	for _, m := range []panel.Measure{outcome, baseline} {
		if ref := t.References[m]; ref.Degenerate {
			return regress.Result{}, panel.StepCount{}, fmt.Errorf("%w: %s (control n=%d, sd=%v)", ErrDegenerateReference, m.ZName(), ref.N, ref.SD)
		}
	}
	y, d, step := Design(t, outcome, baseline)
	res, err := regress.Fit(y, d, opts)
	if err != nil {
		return regress.Result{}, step, fmt.Errorf("itt %s on %s: %w", outcome.ZName(), baseline.ZName(), err)
	}
	return res, step, nil
}
