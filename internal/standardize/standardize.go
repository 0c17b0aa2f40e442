// Package standardize converts raw scores to z-scores measured against the
// control group's reference distribution.
package standardize

import (
	"math"

	"github.com/montanaflynn/stats"

	"rctcore/internal/panel"
)

// nearZero is the relative tolerance under which a control SD is treated as zero.
const nearZero = 1e-12

// Reference is the control-group distribution of one measure. SD is the
// sample standard deviation (n-1 denominator).
type Reference struct {
	Measure    panel.Measure `json:"-"`
	Column     string        `json:"column"`
	Mean       float64       `json:"mean"`
	SD         float64       `json:"sd"`
	N          int           `json:"n"`
	Degenerate bool          `json:"degenerate"`
}

// References holds one Reference per measure, indexed by panel.Measure.
type References [panel.NumMeasures]Reference

// Degenerate lists the measures whose reference cannot standardize.
func (r References) Degenerate() []panel.Measure {
	var out []panel.Measure
	for _, ref := range r {
		if ref.Degenerate {
			out = append(out, ref.Measure)
		}
	}
	return out
}

// Record is a wide record with its four z-scores.
type Record struct {
	panel.WideRecord
	Z [panel.NumMeasures]float64
}

// ZScore returns the standardized value of measure m.
func (r Record) ZScore(m panel.Measure) float64 { return r.Z[m] }

// Table is the standardized wide table.
type Table struct {
	Records    []Record
	References References
}

// Len returns the number of subjects.
func (t Table) Len() int { return len(t.Records) }

// Fit computes the reference mean and SD of every measure from the rows with
// treat == 0, skipping missing scores. It does not modify t.
func Fit(t panel.WideTable) References {
	var refs References
	for _, m := range panel.Measures() {
		values := make([]float64, 0, len(t.Records))
		for _, rec := range t.Records {
			if rec.Treat != panel.IndicatorZero {
				continue
			}
			if v := rec.Score(m); !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		refs[m] = fitOne(m, values)
	}
	return refs
}

func fitOne(m panel.Measure, values []float64) Reference {
	ref := Reference{Measure: m, Column: m.String(), N: len(values), Mean: math.NaN(), SD: math.NaN()}
	if len(values) == 0 {
		ref.Degenerate = true
		return ref
	}
	mean, err := stats.Mean(values)
	if err != nil {
		ref.Degenerate = true
		return ref
	}
	ref.Mean = mean
	if len(values) < 2 {
		ref.Degenerate = true
		return ref
	}
	sd, err := stats.StandardDeviationSample(values)
	if err != nil {
		ref.Degenerate = true
		return ref
	}
	ref.SD = sd
	if math.IsNaN(sd) || math.IsInf(sd, 0) || sd <= nearZero*math.Max(1, math.Abs(mean)) {
		ref.Degenerate = true
	}
	return ref
}

// Apply standardizes every row of t with refs. Missing raw scores and
// degenerate references yield NaN.
func Apply(t panel.WideTable, refs References) Table {
	out := Table{Records: make([]Record, len(t.Records)), References: refs}
	for i, rec := range t.Records {
		r := Record{WideRecord: rec}
		for _, m := range panel.Measures() {
			r.Z[m] = refs[m].ZScore(rec.Score(m))
		}
		out.Records[i] = r
	}
	return out
}

// ZScore standardizes a single raw value.
func (r Reference) ZScore(raw float64) float64 {
	if r.Degenerate || math.IsNaN(raw) {
		return math.NaN()
	}
	return (raw - r.Mean) / r.SD
}

// Standardize fits references on the control rows of t and applies them to all rows.
func Standardize(t panel.WideTable) Table {
	return Apply(t, Fit(t))
}
