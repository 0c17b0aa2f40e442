// Package report renders an analysis run to the console as text, JSON or CSV.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"rctcore/internal/analysis"
)

// Format selects a renderer.
type Format string

const (
	// FormatText is the human-readable summary with coefficient tables.
	FormatText Format = "text"
	// FormatJSON is a single JSON document; non-finite numbers become null.
	FormatJSON Format = "json"
	// FormatCSV is one row per coefficient.
	FormatCSV Format = "csv"
)

// ParseFormat validates a format name; empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want text, json or csv)", s)
}

// Renderer writes reports.
type Renderer struct {
	// Verbose adds the filter report and control references to text output.
	Verbose bool
}

// Render writes r to w in format with the default renderer.
func Render(w io.Writer, format Format, r analysis.Report) error {
	return Renderer{}.Render(w, format, r)
}

// Render writes r to w in format.
func (rd Renderer) Render(w io.Writer, format Format, r analysis.Report) error {
	switch format {
	case FormatText, "":
		return rd.text(w, r)
	case FormatJSON:
		return writeJSON(w, r)
	case FormatCSV:
		return writeCSV(w, r)
	default:
		return fmt.Errorf("unsupported output format %s", format)
	}
}

// Headline is the one-line treatment summary for an estimate.
func Headline(e analysis.Estimate) string {
	if e.Err != nil {
		return fmt.Sprintf("%s: failed: %v", e.Label, e.Err)
	}
	coef, ok := e.Treatment()
	if !ok {
		return fmt.Sprintf("%s: failed: no treatment coefficient", e.Label)
	}
	return fmt.Sprintf("%s: %s", e.Label, formatFloat(coef.Estimate, 6))
}

func formatFloat(v float64, prec int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// ciLabels are the confidence bound headers, e.g. "[0.025" and "0.975]".
func ciLabels(alpha float64) (string, string) {
	lo := strconv.FormatFloat(alpha/2, 'f', -1, 64)
	hi := strconv.FormatFloat(1-alpha/2, 'f', -1, 64)
	return "[" + lo, hi + "]"
}
