package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"rctcore/internal/analysis"
	"rctcore/internal/regress"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	nameStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
)

func (rd Renderer) text(w io.Writer, r analysis.Report) error {
	var b strings.Builder
	if rd.Verbose {
		writePreamble(&b, r)
	}
	for _, e := range r.Estimates {
		b.WriteString(Headline(e))
		b.WriteByte('\n')
	}
	for _, e := range r.Estimates {
		fmt.Fprintf(&b, "\nFull results – %s:\n", e.Title)
		if e.Result == nil {
			fmt.Fprintf(&b, "failed: %v\n", e.Err)
			continue
		}
		b.WriteString(coefficientTable(*e.Result))
		b.WriteByte('\n')
		b.WriteString(fitLine(*e.Result))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writePreamble(b *strings.Builder, r analysis.Report) {
	fmt.Fprintf(b, "Run %s: %s (%d rows, %d without st_id)\n", r.RunID, r.Source, r.Observations, r.MissingID)
	rows := make([][]string, 0, len(r.Filter.Steps))
	for _, s := range r.Filter.Steps {
		rows = append(rows, []string{s.Step, itoa(s.In), itoa(s.Kept), itoa(s.Dropped), s.Reason})
	}
	for _, e := range r.Estimates {
		if e.Sample.Step != "" {
			s := e.Sample
			rows = append(rows, []string{s.Step, itoa(s.In), itoa(s.Kept), itoa(s.Dropped), s.Reason})
		}
	}
	b.WriteString(render([]string{"step", "in", "kept", "dropped", "reason"}, rows, 1, 3))
	b.WriteString("\n")

	refs := make([][]string, 0, len(r.References))
	for _, ref := range r.References {
		note := ""
		if ref.Degenerate {
			note = "degenerate"
		}
		refs = append(refs, []string{ref.Column, formatFloat(ref.Mean, 4), formatFloat(ref.SD, 4), itoa(ref.N), note})
	}
	b.WriteString(render([]string{"measure", "control mean", "control sd", "n", ""}, refs, 1, 3))
	b.WriteString("\n\n")
}

func coefficientTable(res regress.Result) string {
	lo, hi := ciLabels(res.Alpha)
	headers := []string{"", "coef", "std err", res.Statistic, "P>|" + res.Statistic + "|", lo, hi}
	rows := make([][]string, 0, len(res.Coefficients))
	for _, c := range res.Coefficients {
		rows = append(rows, []string{
			c.Name,
			formatFloat(c.Estimate, 4),
			formatFloat(c.StdErr, 3),
			formatFloat(c.Statistic, 3),
			formatFloat(c.PValue, 3),
			formatFloat(c.CILow, 3),
			formatFloat(c.CIHigh, 3),
		})
	}
	return render(headers, rows, 1, len(headers)-1)
}

func fitLine(res regress.Result) string {
	return fmt.Sprintf("N = %d  R² = %s  adj. R² = %s  F(%d, %d) = %s (p = %s)  log-lik = %s  AIC = %s  BIC = %s  cov = %s",
		res.NObs,
		formatFloat(res.RSquared, 3), formatFloat(res.AdjRSquared, 3),
		res.DFModel, res.DFResid, formatFloat(res.FValue, 3), formatFloat(res.FPValue, 4),
		formatFloat(res.LogLikelihood, 2), formatFloat(res.AIC, 2), formatFloat(res.BIC, 2),
		res.CovType)
}

// render draws a bordered table; columns firstNum..lastNum are right-aligned.
func render(headers []string, rows [][]string, firstNum, lastNum int) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= firstNum && col <= lastNum:
				return numberStyle
			default:
				return nameStyle
			}
		})
	return t.Render()
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
