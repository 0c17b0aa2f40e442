package standardize

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	gstat "gonum.org/v1/gonum/stat"

	"rctcore/internal/panel"
)

func sampleTable() panel.WideTable {
	var recs []panel.WideRecord
	for i := 0; i < 12; i++ {
		x := float64(i)
		treat := panel.IndicatorZero
		if i%3 == 0 {
			treat = panel.IndicatorOne
		}
		recs = append(recs, panel.WideRecord{
			StudentID: string(rune('a' + i)),
			Stratum:   panel.Stratum{Code: i % 2, Valid: true},
			Treat:     treat,
			MathBase:  0.3*x - 1,
			MathEnd:   0.5*x + math.Sin(x),
			HindiBase: x * x / 10,
			HindiEnd:  2 - 0.1*x,
			InR2Base:  panel.IndicatorOne,
			InR2End:   panel.IndicatorOne,
		})
	}
	return panel.WideTable{Records: recs}
}

func TestControlZScoresAreStandard(t *testing.T) {
	table := Standardize(sampleTable())
	for _, m := range panel.Measures() {
		var z []float64
		for _, rec := range table.Records {
			if rec.Treat == panel.IndicatorZero {
				z = append(z, rec.ZScore(m))
			}
		}
		mean, sd := gstat.MeanStdDev(z, nil)
		if math.Abs(mean) > 1e-12 || math.Abs(sd-1) > 1e-12 {
			t.Fatalf("%s: control z mean=%v sd=%v", m, mean, sd)
		}
	}
}

func TestFitIsIdempotent(t *testing.T) {
	table := sampleTable()
	first := Fit(table)
	second := Fit(table)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("references differ between fits:\n%s", diff)
	}
}

func TestApplyUsesControlReferenceForAllRows(t *testing.T) {
	table := sampleTable()
	refs := Fit(table)
	out := Apply(table, refs)
	for i, rec := range out.Records {
		raw := table.Records[i].MathBase
		want := (raw - refs[panel.MathBase].Mean) / refs[panel.MathBase].SD
		if math.Abs(rec.ZScore(panel.MathBase)-want) > 1e-12 {
			t.Fatalf("row %d: got %v want %v", i, rec.ZScore(panel.MathBase), want)
		}
	}
}

func TestMissingScoresSkippedAndPropagated(t *testing.T) {
	table := sampleTable()
	table.Records[1].HindiEnd = math.NaN()
	refs := Fit(table)
	if refs[panel.HindiEnd].N != 7 {
		t.Fatalf("expected 7 control values, got %d", refs[panel.HindiEnd].N)
	}
	out := Apply(table, refs)
	if !math.IsNaN(out.Records[1].ZScore(panel.HindiEnd)) {
		t.Fatalf("expected NaN z for missing raw score")
	}
}

func TestZeroControlVarianceIsDegenerate(t *testing.T) {
	table := sampleTable()
	for i := range table.Records {
		if table.Records[i].Treat == panel.IndicatorZero {
			table.Records[i].MathEnd = 4.2
		}
	}
	out := Standardize(table)
	if diff := cmp.Diff([]panel.Measure{panel.MathEnd}, out.References.Degenerate()); diff != "" {
		t.Fatalf("degenerate measures mismatch:\n%s", diff)
	}
	for _, rec := range out.Records {
		if !math.IsNaN(rec.ZScore(panel.MathEnd)) {
			t.Fatalf("expected NaN z for degenerate measure, got %v", rec.ZScore(panel.MathEnd))
		}
	}
	if math.IsNaN(out.Records[0].ZScore(panel.MathBase)) {
		t.Fatalf("other measures must still standardize")
	}
}

func TestSingleControlValueIsDegenerate(t *testing.T) {
	table := panel.WideTable{Records: []panel.WideRecord{
		{StudentID: "a", Treat: panel.IndicatorZero, MathBase: 1, MathEnd: 1, HindiBase: 1, HindiEnd: 1},
		{StudentID: "b", Treat: panel.IndicatorOne, MathBase: 2, MathEnd: 2, HindiBase: 2, HindiEnd: 2},
	}}
	refs := Fit(table)
	want := Reference{Measure: panel.MathBase, Column: "m_base", Mean: 1, SD: math.NaN(), N: 1, Degenerate: true}
	if diff := cmp.Diff(want, refs[panel.MathBase], cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("reference mismatch:\n%s", diff)
	}
}
