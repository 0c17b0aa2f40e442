package regress

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const tol = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b)) }

func simpleDesign(t *testing.T) (Design, []float64) {
	t.Helper()
	var d Design
	if err := d.Add("x", []float64{0, 1, 2, 3}); err != nil {
		t.Fatalf("add: %v", err)
	}
	return d.WithConstant(), []float64{1, 3, 5, 8}
}

// Expected values worked by hand: beta = (0.8, 2.3), residuals (0.2, -0.1,
// -0.4, 0.3), HC1 covariance diag (0.0528, 0.0268), R^2 = 1 - 0.3/26.75.
func TestFitHandComputedHC1(t *testing.T) {
	d, y := simpleDesign(t)
	res, err := Fit(y, d, Options{})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if diff := cmp.Diff([]string{"const", "x"}, res.Names()); diff != "" {
		t.Fatalf("names mismatch:\n%s", diff)
	}
	c, _ := res.Coef("const")
	x, _ := res.Coef("x")
	checks := []struct {
		name      string
		got, want float64
	}{
		{"const", c.Estimate, 0.8},
		{"x", x.Estimate, 2.3},
		{"se const", c.StdErr, math.Sqrt(0.0528)},
		{"se x", x.StdErr, math.Sqrt(0.0268)},
		{"z x", x.Statistic, 2.3 / math.Sqrt(0.0268)},
		{"r2", res.RSquared, 1 - 0.3/26.75},
		{"adj r2", res.AdjRSquared, 1 - 3.0/2.0*(0.3/26.75)},
		{"ci low x", x.CILow, 2.3 - 1.959963984540054*math.Sqrt(0.0268)},
		{"llf", res.LogLikelihood, -2 * (math.Log(2*math.Pi) + math.Log(0.3/4) + 1)},
	}
	for _, ck := range checks {
		if !near(ck.got, ck.want) {
			t.Fatalf("%s: got %.12g want %.12g", ck.name, ck.got, ck.want)
		}
	}
	if res.CovType != CovHC1 || res.Statistic != "z" || res.NObs != 4 || res.DFResid != 2 || res.DFModel != 1 {
		t.Fatalf("unexpected fit metadata %+v", res)
	}
	// With one restriction the robust F is the squared z statistic.
	if !near(res.FValue, x.Statistic*x.Statistic) {
		t.Fatalf("F %v, expected %v", res.FValue, x.Statistic*x.Statistic)
	}
}

func TestFitStudentTWidensInference(t *testing.T) {
	d, y := simpleDesign(t)
	normal, err := Fit(y, d, Options{})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	student, err := Fit(y, d, Options{UseT: true})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	zx, _ := normal.Coef("x")
	tx, _ := student.Coef("x")
	if student.Statistic != "t" || !near(zx.Estimate, tx.Estimate) || !near(zx.StdErr, tx.StdErr) {
		t.Fatalf("estimates must not depend on the reference distribution")
	}
	if tx.PValue <= zx.PValue || tx.CIHigh-tx.CILow <= zx.CIHigh-zx.CILow {
		t.Fatalf("t inference must be more conservative: z=%+v t=%+v", zx, tx)
	}
}

func TestFitSingularDesign(t *testing.T) {
	var d Design
	_ = d.Add("treat", []float64{0, 1, 0, 1, 0, 1})
	_ = d.Add("strata_2", []float64{0, 1, 0, 1, 0, 1})
	_ = d.Add("score", []float64{0.1, 0.5, -0.2, 0.3, 0.9, -1})
	_, err := Fit([]float64{1, 2, 3, 4, 5, 6}, d.WithConstant(), Options{})
	if !errors.Is(err, ErrSingularDesign) {
		t.Fatalf("expected ErrSingularDesign, got %v", err)
	}
	if !strings.Contains(err.Error(), "treat") || !strings.Contains(err.Error(), "strata_2") {
		t.Fatalf("error should name the collinear columns: %v", err)
	}
}

func TestFitObservationGuards(t *testing.T) {
	var empty Design
	_ = empty.Add("x", []float64{})
	if _, err := Fit(nil, empty.WithConstant(), Options{}); !errors.Is(err, ErrNoObservations) {
		t.Fatalf("expected ErrNoObservations, got %v", err)
	}
	var square Design
	_ = square.Add("x", []float64{1, 2})
	if _, err := Fit([]float64{1, 2}, square.WithConstant(), Options{}); !errors.Is(err, ErrInsufficientObservations) {
		t.Fatalf("expected ErrInsufficientObservations, got %v", err)
	}
	var nan Design
	_ = nan.Add("x", []float64{1, math.NaN(), 3, 4})
	if _, err := Fit([]float64{1, 2, 3, 4}, nan.WithConstant(), Options{}); err == nil {
		t.Fatalf("expected error for NaN regressor")
	}
}

func TestStrataDummies(t *testing.T) {
	codes := []int{3, 1, 2, 1, 3}
	names, cols := StrataDummies("strata", codes)
	if diff := cmp.Diff([]string{"strata_2", "strata_3"}, names); diff != "" {
		t.Fatalf("names mismatch:\n%s", diff)
	}
	want := [][]float64{{0, 0, 1, 0, 0}, {1, 0, 0, 0, 1}}
	if diff := cmp.Diff(want, cols); diff != "" {
		t.Fatalf("columns mismatch:\n%s", diff)
	}
	for i, c := range codes {
		if c != 1 {
			continue
		}
		for j := range cols {
			if cols[j][i] != 0 {
				t.Fatalf("reference stratum row %d has nonzero dummy %s", i, names[j])
			}
		}
	}
	if names, _ := StrataDummies("strata", []int{4, 4}); names != nil {
		t.Fatalf("single stratum must produce no dummies, got %v", names)
	}
}

func TestDesignAddValidation(t *testing.T) {
	var d Design
	if err := d.Add("a", []float64{1, 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Add("b", []float64{1}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if err := d.Add("a", []float64{3, 4}); err == nil {
		t.Fatalf("expected duplicate column error")
	}
	withConst := d.WithConstant()
	if again := withConst.WithConstant(); again.Cols() != 2 {
		t.Fatalf("constant added twice: %v", again.Names)
	}
}
