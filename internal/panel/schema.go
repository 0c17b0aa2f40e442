package panel

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Columns maps the logical panel fields to source column names.
type Columns struct {
	StudentID string `yaml:"st_id"`
	Round     string `yaml:"round"`
	Stratum   string `yaml:"strata"`
	Treat     string `yaml:"treat"`
	Math      string `yaml:"math"`
	Hindi     string `yaml:"hindi"`
	InR2      string `yaml:"in_r2"`
}

// DefaultColumns returns the column names of the trial's long file.
func DefaultColumns() Columns {
	return Columns{
		StudentID: "st_id",
		Round:     "round",
		Stratum:   "strata",
		Treat:     "treat",
		Math:      "m_theta_mle",
		Hindi:     "h_theta_mle",
		InR2:      "in_r2",
	}
}

// WithDefaults fills empty names from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&c.StudentID, d.StudentID)
	fill(&c.Round, d.Round)
	fill(&c.Stratum, d.Stratum)
	fill(&c.Treat, d.Treat)
	fill(&c.Math, d.Math)
	fill(&c.Hindi, d.Hindi)
	fill(&c.InR2, d.InR2)
	return c
}

func (c Columns) names() []string {
	return []string{c.StudentID, c.Round, c.Stratum, c.Treat, c.Math, c.Hindi, c.InR2}
}

// Column is a named tabular column as produced by a dataset decoder. Numeric
// columns set Floats, string columns set Strings. Missing marks absent cells;
// a NaN float is missing as well.
type Column struct {
	Name    string
	Floats  []float64
	Strings []string
	Missing []bool
}

// Len returns the number of cells.
func (c Column) Len() int {
	if c.Strings != nil {
		return len(c.Strings)
	}
	return len(c.Floats)
}

// Numeric reports whether the column holds numbers.
func (c Column) Numeric() bool { return c.Strings == nil }

// IsMissing reports whether cell i is absent.
func (c Column) IsMissing(i int) bool {
	if c.Missing != nil && c.Missing[i] {
		return true
	}
	if c.Strings != nil {
		return false
	}
	return math.IsNaN(c.Floats[i])
}

// maxValueErrors bounds the number of offending cells quoted in a schema error.
const maxValueErrors = 5

// Decode validates the source columns against cols and converts every row to
// an Observation. Column lookup is exact first, then case-insensitive.
func Decode(source string, in []Column, cols Columns) (Panel, error) {
	cols = cols.WithDefaults()
	index := make(map[string]int, len(in))
	folded := make(map[string]int, len(in))
	for i, c := range in {
		index[c.Name] = i
		folded[strings.ToLower(c.Name)] = i
	}
	lookup := func(name string) (Column, bool) {
		if i, ok := index[name]; ok {
			return in[i], true
		}
		if i, ok := folded[strings.ToLower(name)]; ok {
			return in[i], true
		}
		return Column{}, false
	}

	var missing []string
	resolved := make(map[string]Column, 7)
	for _, name := range cols.names() {
		c, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved[name] = c
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Panel{}, fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}

	n := resolved[cols.StudentID].Len()
	for _, name := range cols.names() {
		if l := resolved[name].Len(); l != n {
			return Panel{}, fmt.Errorf("%w: column %s has %d rows, expected %d", ErrSchema, name, l, n)
		}
	}
	round := resolved[cols.Round]
	if round.Numeric() {
		return Panel{}, fmt.Errorf("%w: column %s must hold round labels, found numeric codes", ErrSchema, cols.Round)
	}
	for _, name := range []string{cols.Stratum, cols.Treat, cols.Math, cols.Hindi, cols.InR2} {
		if !resolved[name].Numeric() {
			return Panel{}, fmt.Errorf("%w: column %s must be numeric", ErrSchema, name)
		}
	}

	d := decoder{}
	out := Panel{Source: source, Observations: make([]Observation, 0, n)}
	id, strata, treat := resolved[cols.StudentID], resolved[cols.Stratum], resolved[cols.Treat]
	mathCol, hindiCol, inR2 := resolved[cols.Math], resolved[cols.Hindi], resolved[cols.InR2]
	for i := 0; i < n; i++ {
		sid, ok := studentID(id, i)
		if !ok {
			out.MissingID++
			continue
		}
		obs := Observation{
			StudentID: sid,
			Round:     RoundOther,
			Stratum:   d.stratum(strata, i),
			Treat:     d.indicator(treat, i),
			Math:      score(mathCol, i),
			Hindi:     score(hindiCol, i),
			InR2:      d.indicator(inR2, i),
		}
		if !round.IsMissing(i) {
			obs.Round = ParseRound(round.Strings[i])
		}
		out.Observations = append(out.Observations, obs)
	}
	if err := d.err(); err != nil {
		return Panel{}, err
	}
	return out, nil
}

type decoder struct {
	problems []string
	total    int
}

func (d *decoder) fail(col Column, row int, v float64, want string) {
	d.total++
	if len(d.problems) < maxValueErrors {
		d.problems = append(d.problems, fmt.Sprintf("%s[%d]=%v (want %s)", col.Name, row, v, want))
	}
}

func (d *decoder) err() error {
	if d.total == 0 {
		return nil
	}
	msg := strings.Join(d.problems, "; ")
	if d.total > len(d.problems) {
		msg += fmt.Sprintf("; and %d more", d.total-len(d.problems))
	}
	return fmt.Errorf("%w: %s", ErrSchema, msg)
}

func (d *decoder) indicator(c Column, i int) Indicator {
	if c.IsMissing(i) {
		return IndicatorMissing
	}
	switch v := c.Floats[i]; v {
	case 0:
		return IndicatorZero
	case 1:
		return IndicatorOne
	default:
		d.fail(c, i, v, "0 or 1")
		return IndicatorMissing
	}
}

func (d *decoder) stratum(c Column, i int) Stratum {
	if c.IsMissing(i) {
		return Stratum{}
	}
	v := c.Floats[i]
	if math.IsInf(v, 0) || v != math.Trunc(v) {
		d.fail(c, i, v, "an integer")
		return Stratum{}
	}
	return Stratum{Code: int(v), Valid: true}
}

func score(c Column, i int) float64 {
	if c.IsMissing(i) {
		return math.NaN()
	}
	return c.Floats[i]
}

func studentID(c Column, i int) (string, bool) {
	if c.IsMissing(i) {
		return "", false
	}
	if c.Numeric() {
		return strconv.FormatFloat(c.Floats[i], 'f', -1, 64), true
	}
	id := strings.TrimSpace(c.Strings[i])
	return id, id != ""
}
