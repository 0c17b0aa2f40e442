package report

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"rctcore/internal/analysis"
	"rctcore/internal/panel"
	"rctcore/internal/regress"
)

// number is a float that encodes NaN and ±Inf as null.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

type jsonReport struct {
	RunID        string            `json:"run_id"`
	Source       string            `json:"source"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Observations int               `json:"observations"`
	MissingID    int               `json:"missing_id"`
	Subjects     int               `json:"subjects"`
	Filter       []panel.StepCount `json:"filter"`
	References   []jsonReference   `json:"references"`
	Estimates    []jsonEstimate    `json:"estimates"`
}

type jsonReference struct {
	Measure    string `json:"measure"`
	Mean       number `json:"mean"`
	SD         number `json:"sd"`
	N          int    `json:"n"`
	Degenerate bool   `json:"degenerate"`
}

type jsonEstimate struct {
	Label     string          `json:"label"`
	Title     string          `json:"title"`
	Outcome   string          `json:"outcome"`
	Baseline  string          `json:"baseline"`
	Sample    panel.StepCount `json:"sample"`
	Treatment *number         `json:"treatment,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    *jsonResult     `json:"result,omitempty"`
}

type jsonResult struct {
	CovType       string            `json:"cov_type"`
	Statistic     string            `json:"statistic"`
	Alpha         number            `json:"alpha"`
	NObs          int               `json:"n_obs"`
	DFModel       int               `json:"df_model"`
	DFResid       int               `json:"df_resid"`
	RSquared      number            `json:"r_squared"`
	AdjRSquared   number            `json:"adj_r_squared"`
	FValue        number            `json:"f_value"`
	FPValue       number            `json:"f_p_value"`
	LogLikelihood number            `json:"log_likelihood"`
	AIC           number            `json:"aic"`
	BIC           number            `json:"bic"`
	Coefficients  []jsonCoefficient `json:"coefficients"`
}

type jsonCoefficient struct {
	Name      string `json:"name"`
	Estimate  number `json:"coef"`
	StdErr    number `json:"std_err"`
	Statistic number `json:"statistic"`
	PValue    number `json:"p_value"`
	CILow     number `json:"ci_low"`
	CIHigh    number `json:"ci_high"`
}

func toJSON(r analysis.Report) jsonReport {
	out := jsonReport{
		RunID:        r.RunID,
		Source:       r.Source,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Observations: r.Observations,
		MissingID:    r.MissingID,
		Subjects:     r.Subjects,
		Filter:       append([]panel.StepCount{}, r.Filter.Steps...),
		References:   make([]jsonReference, 0, len(r.References)),
		Estimates:    make([]jsonEstimate, 0, len(r.Estimates)),
	}
	for _, ref := range r.References {
		out.References = append(out.References, jsonReference{
			Measure: ref.Column, Mean: number(ref.Mean), SD: number(ref.SD), N: ref.N, Degenerate: ref.Degenerate,
		})
	}
	for _, e := range r.Estimates {
		je := jsonEstimate{Label: e.Label, Title: e.Title, Outcome: e.Outcome, Baseline: e.Baseline, Sample: e.Sample}
		if e.Err != nil {
			je.Error = e.Err.Error()
		}
		if coef, ok := e.Treatment(); ok {
			v := number(coef.Estimate)
			je.Treatment = &v
		}
		if e.Result != nil {
			je.Result = resultJSON(*e.Result)
		}
		out.Estimates = append(out.Estimates, je)
	}
	return out
}

func resultJSON(res regress.Result) *jsonResult {
	jr := &jsonResult{
		CovType:       res.CovType,
		Statistic:     res.Statistic,
		Alpha:         number(res.Alpha),
		NObs:          res.NObs,
		DFModel:       res.DFModel,
		DFResid:       res.DFResid,
		RSquared:      number(res.RSquared),
		AdjRSquared:   number(res.AdjRSquared),
		FValue:        number(res.FValue),
		FPValue:       number(res.FPValue),
		LogLikelihood: number(res.LogLikelihood),
		AIC:           number(res.AIC),
		BIC:           number(res.BIC),
		Coefficients:  make([]jsonCoefficient, len(res.Coefficients)),
	}
	for i, c := range res.Coefficients {
		jr.Coefficients[i] = jsonCoefficient{
			Name:      c.Name,
			Estimate:  number(c.Estimate),
			StdErr:    number(c.StdErr),
			Statistic: number(c.Statistic),
			PValue:    number(c.PValue),
			CILow:     number(c.CILow),
			CIHigh:    number(c.CIHigh),
		}
	}
	return jr
}

func writeJSON(w io.Writer, r analysis.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSON(r))
}
