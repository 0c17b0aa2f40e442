package report

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"rctcore/internal/analysis"
)

var csvHeader = []string{
	"domain", "label", "term", "coef", "std_err", "statistic", "p_value",
	"ci_low", "ci_high", "n_obs", "cov_type", "error",
}

func writeCSV(w io.Writer, r analysis.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range r.Estimates {
		domain := e.Domain.String()
		if e.Result == nil {
			msg := ""
			if e.Err != nil {
				msg = e.Err.Error()
			}
			if err := cw.Write([]string{domain, e.Label, "", "", "", "", "", "", "", "", "", msg}); err != nil {
				return err
			}
			continue
		}
		res := e.Result
		for _, c := range res.Coefficients {
			record := []string{
				domain, e.Label, c.Name,
				csvFloat(c.Estimate), csvFloat(c.StdErr), csvFloat(c.Statistic), csvFloat(c.PValue),
				csvFloat(c.CILow), csvFloat(c.CIHigh),
				strconv.Itoa(res.NObs), res.CovType, "",
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
