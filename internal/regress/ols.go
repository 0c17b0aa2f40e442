package regress

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CovHC1 labels White's covariance with the n/(n-k) small-sample correction.
const CovHC1 = "HC1"

// Options controls inference.
type Options struct {
	// UseT selects Student t inference with n-k degrees of freedom instead of
	// the normal approximation.
	UseT bool
	// Alpha is the two-sided confidence level complement; 0 means 0.05.
	Alpha float64
}

func (o Options) alpha() float64 {
	if o.Alpha <= 0 || o.Alpha >= 1 {
		return 0.05
	}
	return o.Alpha
}

// Coefficient is the estimate and robust inference for one regressor.
type Coefficient struct {
	Name      string  `json:"name"`
	Estimate  float64 `json:"coef"`
	StdErr    float64 `json:"std_err"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	CILow     float64 `json:"ci_low"`
	CIHigh    float64 `json:"ci_high"`
}

// Result is a fitted regression.
type Result struct {
	Coefficients  []Coefficient `json:"coefficients"`
	CovType       string        `json:"cov_type"`
	Statistic     string        `json:"statistic"` // "z" or "t"
	Alpha         float64       `json:"alpha"`
	NObs          int           `json:"n_obs"`
	DFModel       int           `json:"df_model"`
	DFResid       int           `json:"df_resid"`
	RSquared      float64       `json:"r_squared"`
	AdjRSquared   float64       `json:"adj_r_squared"`
	FValue        float64       `json:"f_value"`
	FPValue       float64       `json:"f_p_value"`
	LogLikelihood float64       `json:"log_likelihood"`
	AIC           float64       `json:"aic"`
	BIC           float64       `json:"bic"`
}

// Coef returns the named coefficient.
func (r Result) Coef(name string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// Names lists regressor names in design order.
func (r Result) Names() []string {
	out := make([]string, len(r.Coefficients))
	for i, c := range r.Coefficients {
		out[i] = c.Name
	}
	return out
}

type distribution interface {
	Survival(x float64) float64
	Quantile(p float64) float64
}

// Fit regresses y on d by least squares through a thin SVD of the design.
// The design must have full column rank and more rows than columns.
func Fit(y []float64, d Design, opts Options) (Result, error) {
	n, k := d.Rows(), d.Cols()
	if k == 0 {
		return Result{}, fmt.Errorf("regress: empty design")
	}
	if len(y) != n {
		return Result{}, fmt.Errorf("regress: outcome has %d rows, design has %d", len(y), n)
	}
	if n == 0 {
		return Result{}, ErrNoObservations
	}
	if n <= k {
		return Result{}, fmt.Errorf("%w: %d rows, %d regressors", ErrInsufficientObservations, n, k)
	}
	for _, col := range d.Columns {
		for _, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Result{}, fmt.Errorf("regress: design contains non-finite values")
			}
		}
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, fmt.Errorf("regress: outcome contains non-finite values")
		}
	}

	x := d.dense()
	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return Result{}, fmt.Errorf("%w: factorization did not converge", ErrSingularDesign)
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	tol := float64(max(n, k)) * eps * s[0]
	if rank := rankOf(s, tol); rank < k {
		return Result{}, fmt.Errorf("%w: rank %d < %d, collinear columns %s",
			ErrSingularDesign, rank, k, strings.Join(collinear(d.Names, s, &v, tol), ", "))
	}

	// beta = V diag(1/s) U'y
	w := make([]float64, k)
	for j := 0; j < k; j++ {
		var dot float64
		for i := 0; i < n; i++ {
			dot += u.At(i, j) * y[i]
		}
		w[j] = dot / s[j]
	}
	beta := make([]float64, k)
	for a := 0; a < k; a++ {
		for j := 0; j < k; j++ {
			beta[a] += v.At(a, j) * w[j]
		}
	}

	// (X'X)^-1 = V diag(1/s^2) V'
	bread := mat.NewDense(k, k, nil)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			var acc float64
			for j := 0; j < k; j++ {
				acc += v.At(a, j) * v.At(b, j) / (s[j] * s[j])
			}
			bread.Set(a, b, acc)
		}
	}

	resid := make([]float64, n)
	var ssr float64
	for i := 0; i < n; i++ {
		fitted := 0.0
		for j := 0; j < k; j++ {
			fitted += x.At(i, j) * beta[j]
		}
		resid[i] = y[i] - fitted
		ssr += resid[i] * resid[i]
	}

	// X' diag(e^2) X
	meat := mat.NewDense(k, k, nil)
	for i := 0; i < n; i++ {
		e2 := resid[i] * resid[i]
		for a := 0; a < k; a++ {
			xa := x.At(i, a) * e2
			for b := 0; b < k; b++ {
				meat.Set(a, b, meat.At(a, b)+xa*x.At(i, b))
			}
		}
	}
	var tmp, cov mat.Dense
	tmp.Mul(bread, meat)
	cov.Mul(&tmp, bread)
	cov.Scale(float64(n)/float64(n-k), &cov)

	res := Result{
		CovType: CovHC1,
		Alpha:   opts.alpha(),
		NObs:    n,
		DFResid: n - k,
	}
	var dist distribution = distuv.UnitNormal
	res.Statistic = "z"
	if opts.UseT {
		dist = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - k)}
		res.Statistic = "t"
	}
	q := dist.Quantile(1 - res.Alpha/2)
	res.Coefficients = make([]Coefficient, k)
	for j := 0; j < k; j++ {
		se := math.Sqrt(cov.At(j, j))
		stat := beta[j] / se
		res.Coefficients[j] = Coefficient{
			Name:      d.Names[j],
			Estimate:  beta[j],
			StdErr:    se,
			Statistic: stat,
			PValue:    2 * dist.Survival(math.Abs(stat)),
			CILow:     beta[j] - q*se,
			CIHigh:    beta[j] + q*se,
		}
	}

	constant := d.constant()
	res.DFModel = k
	if constant >= 0 {
		res.DFModel = k - 1
	}
	res.fitStatistics(y, ssr, constant >= 0)
	res.FValue, res.FPValue = waldF(beta, &cov, constant, res.DFResid)
	return res, nil
}

var eps = math.Nextafter(1, 2) - 1

func rankOf(s []float64, tol float64) int {
	rank := 0
	for _, v := range s {
		if v > tol {
			rank++
		}
	}
	return rank
}

// collinear names the columns that load on the null space of the design.
func collinear(names []string, s []float64, v *mat.Dense, tol float64) []string {
	involved := make(map[int]struct{})
	for j, sv := range s {
		if sv > tol {
			continue
		}
		for a := range names {
			if math.Abs(v.At(a, j)) > 1e-6 {
				involved[a] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(involved))
	for a, name := range names {
		if _, ok := involved[a]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (r *Result) fitStatistics(y []float64, ssr float64, centered bool) {
	n := float64(r.NObs)
	var mean float64
	if centered {
		for _, v := range y {
			mean += v
		}
		mean /= n
	}
	var tss float64
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}
	r.RSquared = math.NaN()
	r.AdjRSquared = math.NaN()
	if tss > 0 {
		r.RSquared = 1 - ssr/tss
		dfTotal := n
		if centered {
			dfTotal = n - 1
		}
		r.AdjRSquared = 1 - dfTotal/float64(r.DFResid)*(1-r.RSquared)
	}
	k := float64(len(r.Coefficients))
	r.LogLikelihood = -n / 2 * (math.Log(2*math.Pi) + math.Log(ssr/n) + 1)
	r.AIC = -2*r.LogLikelihood + 2*k
	r.BIC = -2*r.LogLikelihood + math.Log(n)*k
}

// waldF tests that every non-constant coefficient is zero using the robust
// covariance, returning the F statistic and its p-value.
func waldF(beta []float64, cov *mat.Dense, constant, dfResid int) (float64, float64) {
	idx := make([]int, 0, len(beta))
	for j := range beta {
		if j != constant {
			idx = append(idx, j)
		}
	}
	q := len(idx)
	if q == 0 {
		return math.NaN(), math.NaN()
	}
	sub := mat.NewDense(q, q, nil)
	br := mat.NewVecDense(q, nil)
	for a, ia := range idx {
		br.SetVec(a, beta[ia])
		for b, ib := range idx {
			sub.Set(a, b, cov.At(ia, ib))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(sub); err != nil {
		return math.NaN(), math.NaN()
	}
	var tmp mat.VecDense
	tmp.MulVec(&inv, br)
	f := mat.Dot(br, &tmp) / float64(q)
	p := distuv.F{D1: float64(q), D2: float64(dfResid)}.Survival(f)
	return f, p
}
