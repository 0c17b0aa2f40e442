// Package panel holds the typed record schema of the trial panel and the
// long-to-wide reshape that produces the IRT linking sample.
package panel

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrSchema reports input columns that are absent or hold values outside
	// their declared domain.
	ErrSchema = errors.New("panel: schema mismatch")
	// ErrDuplicateSubject reports a subject id that occurs twice within one round.
	ErrDuplicateSubject = errors.New("panel: duplicate subject in round")
)

// Round identifies the survey round of an observation.
type Round int

const (
	RoundOther    Round = iota // any label other than Baseline/Endline
	RoundBaseline              // "Baseline"
	RoundEndline               // "Endline"
)

// ParseRound maps a round label to a Round. Matching ignores case and
// surrounding whitespace; unknown labels map to RoundOther.
func ParseRound(label string) Round {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "baseline":
		return RoundBaseline
	case "endline":
		return RoundEndline
	default:
		return RoundOther
	}
}

func (r Round) String() string {
	switch r {
	case RoundBaseline:
		return "Baseline"
	case RoundEndline:
		return "Endline"
	default:
		return "other"
	}
}

// Indicator is a binary variable that may be missing.
type Indicator int8

const (
	IndicatorMissing Indicator = -1
	IndicatorZero    Indicator = 0
	IndicatorOne     Indicator = 1
)

// Valid reports whether the indicator was observed.
func (i Indicator) Valid() bool { return i == IndicatorZero || i == IndicatorOne }

// Float returns the indicator as a regressor value, NaN when missing.
func (i Indicator) Float() float64 {
	if !i.Valid() {
		return math.NaN()
	}
	return float64(i)
}

// Stratum is the randomization stratum of a subject.
type Stratum struct {
	Code  int
	Valid bool
}

// Observation is one (subject, round) row of the long panel.
type Observation struct {
	StudentID string
	Round     Round
	Stratum   Stratum
	Treat     Indicator
	Math      float64 // m_theta_mle, NaN when missing
	Hindi     float64 // h_theta_mle, NaN when missing
	InR2      Indicator
}

// Panel is the decoded long-format table.
type Panel struct {
	Source       string
	Observations []Observation
	// MissingID counts source rows dropped at decode time for lacking a subject id.
	MissingID int
}

// Domain is a tested subject area.
type Domain int

const (
	DomainMath Domain = iota
	DomainHindi
)

// Domains lists the domains in reporting order.
func Domains() []Domain { return []Domain{DomainMath, DomainHindi} }

func (d Domain) String() string {
	if d == DomainHindi {
		return "hindi"
	}
	return "math"
}

// Label is the human readable domain name used in reports.
func (d Domain) Label() string {
	if d == DomainHindi {
		return "Hindi"
	}
	return "Math"
}

func (d Domain) prefix() string {
	if d == DomainHindi {
		return "h"
	}
	return "m"
}

// Measure is one of the four round-specific score columns of the wide table.
type Measure int

const (
	MathBase Measure = iota
	MathEnd
	HindiBase
	HindiEnd

	NumMeasures = 4
)

// Measures lists every measure in column order.
func Measures() []Measure { return []Measure{MathBase, MathEnd, HindiBase, HindiEnd} }

// MeasureFor returns the measure of domain d in round r. r must be Baseline or Endline.
func MeasureFor(d Domain, r Round) Measure {
	m := MathBase
	if d == DomainHindi {
		m = HindiBase
	}
	if r == RoundEndline {
		m++
	}
	return m
}

func (m Measure) Domain() Domain {
	if m == HindiBase || m == HindiEnd {
		return DomainHindi
	}
	return DomainMath
}

func (m Measure) Round() Round {
	if m == MathEnd || m == HindiEnd {
		return RoundEndline
	}
	return RoundBaseline
}

// String is the wide-table column name, e.g. "m_base".
func (m Measure) String() string {
	suffix := "_base"
	if m.Round() == RoundEndline {
		suffix = "_end"
	}
	return m.Domain().prefix() + suffix
}

// ZName is the name of the standardized column, e.g. "m_base_z".
func (m Measure) ZName() string { return m.String() + "_z" }

// WideRecord is one subject of the IRT linking sample. Stratum and Treat come
// from the baseline row.
type WideRecord struct {
	StudentID string
	Stratum   Stratum
	Treat     Indicator
	MathBase  float64
	HindiBase float64
	InR2Base  Indicator
	MathEnd   float64
	HindiEnd  float64
	InR2End   Indicator
}

// Score returns the raw value of measure m.
func (w WideRecord) Score(m Measure) float64 {
	switch m {
	case MathBase:
		return w.MathBase
	case MathEnd:
		return w.MathEnd
	case HindiBase:
		return w.HindiBase
	case HindiEnd:
		return w.HindiEnd
	default:
		return math.NaN()
	}
}

// WideTable is the reshaped one-row-per-subject table.
type WideTable struct {
	Records []WideRecord
}

// Len returns the number of subjects.
func (t WideTable) Len() int { return len(t.Records) }
