package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/kshedden/datareader"

	"rctcore/internal/panel"
)

const stataChunkRows = 10000

// decodeStata reads every record of a .dta file. For formats 117 and 118
// value labels are inserted, so labelled numeric columns such as round arrive
// as strings.
func decodeStata(data []byte) (cols []panel.Column, err error) {
	// The reader panics on some truncated headers.
	defer func() {
		if r := recover(); r != nil {
			cols, err = nil, fmt.Errorf("stata: malformed file: %v", r)
		}
	}()
	rdr, err := datareader.NewStataReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("stata: %w", err)
	}
	rdr.InsertCategoryLabels = true
	rdr.InsertStrls = true
	rdr.ConvertDates = true

	var byIndex []panel.Column
	for {
		chunk, err := rdr.Read(stataChunkRows)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("stata: %w", err)
		}
		if len(chunk) == 0 || chunk[0] == nil || chunk[0].Length() == 0 {
			break
		}
		if byIndex == nil {
			byIndex = make([]panel.Column, len(chunk))
		}
		if len(chunk) != len(byIndex) {
			return nil, fmt.Errorf("stata: chunk has %d columns, expected %d", len(chunk), len(byIndex))
		}
		for i, s := range chunk {
			if err := appendSeries(&byIndex[i], s); err != nil {
				return nil, fmt.Errorf("stata: %w", err)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if byIndex == nil {
		return nil, fmt.Errorf("stata: no records")
	}
	return byIndex, nil
}

// appendSeries converts one chunk of a datareader series onto col.
func appendSeries(col *panel.Column, s *datareader.Series) error {
	if col.Name == "" {
		col.Name = s.Name
	}
	miss := s.Missing()
	isMiss := func(i int) bool { return miss != nil && miss[i] }
	switch v := s.Data().(type) {
	case []string:
		if col.Floats != nil {
			return fmt.Errorf("column %s changes from numeric to text between chunks", col.Name)
		}
		for i, x := range v {
			col.Strings = append(col.Strings, x)
			col.Missing = append(col.Missing, isMiss(i))
		}
	case []time.Time:
		for i, x := range v {
			col.Strings = append(col.Strings, x.Format(time.RFC3339))
			col.Missing = append(col.Missing, isMiss(i))
		}
	case []float64:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return v[i] })
	case []float32:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return float64(v[i]) })
	case []int64:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return float64(v[i]) })
	case []int32:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return float64(v[i]) })
	case []int16:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return float64(v[i]) })
	case []int8:
		appendFloats(col, len(v), isMiss, func(i int) float64 { return float64(v[i]) })
	default:
		return fmt.Errorf("column %s has unsupported type %T", col.Name, v)
	}
	return nil
}

func appendFloats(col *panel.Column, n int, isMiss func(int) bool, at func(int) float64) {
	if col.Strings != nil {
		// Value labels are per value, so a labelled column can mix chunks.
		for i := 0; i < n; i++ {
			col.Strings = append(col.Strings, strconv.FormatFloat(at(i), 'f', -1, 64))
			col.Missing = append(col.Missing, isMiss(i))
		}
		return
	}
	for i := 0; i < n; i++ {
		v := at(i)
		m := isMiss(i) || math.IsNaN(v)
		if m {
			v = math.NaN()
		}
		col.Floats = append(col.Floats, v)
		col.Missing = append(col.Missing, m)
	}
}
