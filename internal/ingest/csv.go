package ingest

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kshedden/datareader"

	"rctcore/internal/panel"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// isMissingToken reports the cell spellings treated as missing: empty,
// Stata's "." and "NA".
func isMissingToken(s string) bool {
	switch strings.TrimSpace(s) {
	case "", ".", "NA":
		return true
	}
	return false
}

// decodeCSV reads a CSV file with a header row. The panel's fields are read
// as text and converted here: the reader maps unparseable numbers to missing,
// so numeric fields are parsed strictly to reject bad cells. Columns outside
// the panel keep the reader's type inference.
func decodeCSV(data []byte, cols panel.Columns) ([]panel.Column, error) {
	cols = cols.WithDefaults()
	numeric := map[string]bool{
		cols.Stratum: true,
		cols.Treat:   true,
		cols.Math:    true,
		cols.Hindi:   true,
		cols.InR2:    true,
	}
	rdr := datareader.NewCSVReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	rdr.TypeHintsName = map[string]string{cols.StudentID: "string", cols.Round: "string"}
	for name := range numeric {
		rdr.TypeHintsName[name] = "string"
	}
	series, err := rdr.Read(-1)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	out := make([]panel.Column, 0, len(series))
	for _, s := range series {
		name := strings.TrimSpace(s.Name)
		text, isText := s.Data().([]string)
		switch {
		case isText && numeric[name]:
			col, err := parseNumeric(name, text, s.Missing())
			if err != nil {
				return nil, err
			}
			out = append(out, col)
		case isText:
			out = append(out, textColumn(name, text, s.Missing()))
		default:
			col := panel.Column{Name: name}
			if err := appendSeries(&col, s); err != nil {
				return nil, fmt.Errorf("csv: %w", err)
			}
			out = append(out, col)
		}
	}
	return out, nil
}

func textColumn(name string, values []string, miss []bool) panel.Column {
	col := panel.Column{Name: name, Strings: make([]string, len(values)), Missing: make([]bool, len(values))}
	for i, v := range values {
		if (miss != nil && miss[i]) || isMissingToken(v) {
			col.Missing[i] = true
			continue
		}
		col.Strings[i] = strings.TrimSpace(v)
	}
	return col
}

func parseNumeric(name string, values []string, miss []bool) (panel.Column, error) {
	col := panel.Column{Name: name, Floats: make([]float64, len(values)), Missing: make([]bool, len(values))}
	var (
		first string
		bad   int
	)
	for i, v := range values {
		if (miss != nil && miss[i]) || isMissingToken(v) {
			col.Floats[i], col.Missing[i] = math.NaN(), true
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			if bad == 0 {
				// Row numbers count the header as line 1.
				first = fmt.Sprintf("line %d: %q", i+2, v)
			}
			bad++
			continue
		}
		col.Floats[i] = f
	}
	if bad > 0 {
		return panel.Column{}, fmt.Errorf("%w: column %s has %d non-numeric cells (first at %s)", panel.ErrSchema, name, bad, first)
	}
	return col, nil
}
