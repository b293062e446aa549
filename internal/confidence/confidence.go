// Package confidence derives a report's confidence score from its sources
// and the writer's consistency markers.
package confidence

import (
	"github.com/max-solo23/deeptrace/internal/model"
)

// Scoring weights.
const (
	Base              = 0.30
	PerSourceBonus    = 0.05
	SaturationSources = 7
	GovBonus          = 0.125
	AcademicBonus     = 0.125
	AllUnknownPenalty = 0.10
	ConsistencyBonus  = 0.10
)

// Label is the human-readable confidence band.
type Label string

const (
	LabelLow    Label = "Low"
	LabelMedium Label = "Medium"
	LabelHigh   Label = "High"
)

// Threshold maps scores strictly below Below to Label.
type Threshold struct {
	Below float64
	Label Label
}

// Thresholds is the label policy, checked in order. Scores at or above the
// last bound are High.
var Thresholds = []Threshold{
	{Below: 0.4, Label: LabelLow},
	{Below: 0.7, Label: LabelMedium},
}

// Signals are the inputs to the scorer.
type Signals struct {
	// SourceTypes holds one entry per distinct source backing the report.
	SourceTypes []model.SourceType
	// TargetSources is the mode's source target; bonus stops growing past it.
	TargetSources int
	// Contradictions is the number of contradiction markers from the writer.
	Contradictions int
}

// Result is a score in [0,1] with its label.
type Result struct {
	Score float64 `json:"score"`
	Label Label   `json:"label"`
}

// Score computes the confidence for the given signals. A report with no
// sources scores zero.
func Score(s Signals) Result {
	n := len(s.SourceTypes)
	if n == 0 {
		return Result{Score: 0, Label: LabelFor(0)}
	}

	score := Base + sourceBonus(n, s.TargetSources) + qualityBonus(s.SourceTypes)
	if s.Contradictions <= 0 {
		score += ConsistencyBonus
	}
	score = clamp(score)
	return Result{Score: score, Label: LabelFor(score)}
}

// ForSources is a convenience wrapper building Signals from persisted sources.
func ForSources(sources []model.Source, mode model.Mode, contradictions int) Result {
	types := make([]model.SourceType, len(sources))
	for i, src := range sources {
		types[i] = src.SourceType
	}
	return Score(Signals{
		SourceTypes:    types,
		TargetSources:  mode.Config().MaxSources,
		Contradictions: contradictions,
	})
}

// LabelFor maps a score to its band.
func LabelFor(score float64) Label {
	for _, t := range Thresholds {
		if score < t.Below {
			return t.Label
		}
	}
	return LabelHigh
}

func sourceBonus(n, target int) float64 {
	saturation := SaturationSources
	if target > 0 && target < saturation {
		saturation = target
	}
	if n > saturation {
		n = saturation
	}
	return float64(n) * PerSourceBonus
}

func qualityBonus(types []model.SourceType) float64 {
	var gov, academic bool
	unknown := 0
	for _, t := range types {
		switch t {
		case model.SourceGov:
			gov = true
		case model.SourceAcademic:
			academic = true
		case model.SourceUnknown, "":
			unknown++
		}
	}

	var bonus float64
	if gov {
		bonus += GovBonus
	}
	if academic {
		bonus += AcademicBonus
	}
	if unknown == len(types) {
		bonus -= AllUnknownPenalty
	}
	return bonus
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
