package panel

import "fmt"

// Filter step names reported by Reshape.
const (
	StepSplitRounds  = "split_rounds"
	StepJoinSubjects = "join_subjects"
	StepIRTLinking   = "irt_linking_sample"
)

// StepCount records the effect of one explicit filtering step.
type StepCount struct {
	Step    string `json:"step"`
	In      int    `json:"in"`
	Kept    int    `json:"kept"`
	Dropped int    `json:"dropped"`
	Reason  string `json:"reason"`
}

// FilterReport lists the filtering steps in the order they ran.
type FilterReport struct {
	Steps []StepCount `json:"steps"`
}

// Add appends a step, deriving Dropped from In and Kept.
func (r *FilterReport) Add(step string, in, kept int, reason string) StepCount {
	sc := StepCount{Step: step, In: in, Kept: kept, Dropped: in - kept, Reason: reason}
	r.Steps = append(r.Steps, sc)
	return sc
}

// Dropped returns the total rows dropped across all steps.
func (r FilterReport) Dropped() int {
	total := 0
	for _, s := range r.Steps {
		total += s.Dropped
	}
	return total
}

// Step returns the named step, if recorded.
func (r FilterReport) Step(name string) (StepCount, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepCount{}, false
}

// Reshape turns the long panel into one row per subject: Baseline and
// Endline rows are inner-joined on subject id and then restricted to subjects
// with in_r2 == 1 in both rounds. Output order follows the baseline rows.
func Reshape(p Panel) (WideTable, FilterReport, error) {
	var report FilterReport

	var base, end []Observation
	for _, obs := range p.Observations {
		switch obs.Round {
		case RoundBaseline:
			base = append(base, obs)
		case RoundEndline:
			end = append(end, obs)
		}
	}
	report.Add(StepSplitRounds, len(p.Observations), len(base)+len(end), "round is neither Baseline nor Endline")

	endByID := make(map[string]Observation, len(end))
	for _, obs := range end {
		if _, dup := endByID[obs.StudentID]; dup {
			return WideTable{}, report, fmt.Errorf("%w: %s in %s", ErrDuplicateSubject, obs.StudentID, RoundEndline)
		}
		endByID[obs.StudentID] = obs
	}

	seen := make(map[string]struct{}, len(base))
	joined := make([]WideRecord, 0, len(base))
	for _, b := range base {
		if _, dup := seen[b.StudentID]; dup {
			return WideTable{}, report, fmt.Errorf("%w: %s in %s", ErrDuplicateSubject, b.StudentID, RoundBaseline)
		}
		seen[b.StudentID] = struct{}{}
		e, ok := endByID[b.StudentID]
		if !ok {
			continue
		}
		joined = append(joined, WideRecord{
			StudentID: b.StudentID,
			Stratum:   b.Stratum,
			Treat:     b.Treat,
			MathBase:  b.Math,
			HindiBase: b.Hindi,
			InR2Base:  b.InR2,
			MathEnd:   e.Math,
			HindiEnd:  e.Hindi,
			InR2End:   e.InR2,
		})
	}
	subjects := len(seen)
	for id := range endByID {
		if _, ok := seen[id]; !ok {
			subjects++
		}
	}
	report.Add(StepJoinSubjects, subjects, len(joined), "subject observed in one round only")

	linked := make([]WideRecord, 0, len(joined))
	for _, w := range joined {
		if w.InR2Base == IndicatorOne && w.InR2End == IndicatorOne {
			linked = append(linked, w)
		}
	}
	report.Add(StepIRTLinking, len(joined), len(linked), "in_r2 != 1 in baseline or endline")

	return WideTable{Records: linked}, report, nil
}
