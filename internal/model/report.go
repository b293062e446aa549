package model

import (
	"strings"
	"time"
)

// Report is one finalized, partial or error research output.
type Report struct {
	ID                string    `json:"id" yaml:"id"`
	Query             string    `json:"query" yaml:"query"`
	Mode              Mode      `json:"mode" yaml:"mode"`
	Summary           string    `json:"summary" yaml:"summary"`
	Goals             string    `json:"goals" yaml:"goals"`
	Methodology       string    `json:"methodology" yaml:"methodology"`
	Findings          string    `json:"findings" yaml:"findings"`
	Competitors       string    `json:"competitors,omitempty" yaml:"competitors,omitempty"`
	Risks             string    `json:"risks" yaml:"risks"`
	Opportunities     string    `json:"opportunities" yaml:"opportunities"`
	Recommendations   string    `json:"recommendations" yaml:"recommendations"`
	ConfidenceScore   float64   `json:"confidence_score" yaml:"confidence_score"`
	MarkdownReport    string    `json:"markdown_report,omitempty" yaml:"markdown_report,omitempty"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty" yaml:"follow_up_questions,omitempty"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at"`
}

// Validate checks required fields, the mode enumeration and the confidence range.
func (r *Report) Validate() error {
	if r == nil {
		return NewValidationError("report", "is required")
	}
	required := []struct {
		field string
		value string
	}{
		{"query", r.Query},
		{"summary", r.Summary},
		{"goals", r.Goals},
		{"methodology", r.Methodology},
		{"findings", r.Findings},
		{"risks", r.Risks},
		{"opportunities", r.Opportunities},
		{"recommendations", r.Recommendations},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return NewValidationError(f.field, "is required")
		}
	}
	if !r.Mode.Valid() {
		return NewValidationError("mode", "must be one of quick, deep")
	}
	if !inUnitRange(r.ConfidenceScore) {
		return NewValidationError("confidence_score", "must be between 0 and 1")
	}
	return nil
}

// ReportDraft is the structured output of the writer collaborator.
type ReportDraft struct {
	Summary           string   `json:"summary"`
	Goals             string   `json:"goals"`
	Methodology       string   `json:"methodology"`
	Findings          string   `json:"findings"`
	Competitors       string   `json:"competitors"`
	Risks             string   `json:"risks"`
	Opportunities     string   `json:"opportunities"`
	Recommendations   string   `json:"recommendations"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	// Contradictions lists statements the writer found to conflict across sources.
	Contradictions []string `json:"contradictions"`
}

// ToReport assembles a Report from the draft. Id, score and timestamps are
// left to the caller.
func (d *ReportDraft) ToReport(query string, mode Mode) Report {
	return Report{
		Query:             query,
		Mode:              mode,
		Summary:           d.Summary,
		Goals:             d.Goals,
		Methodology:       d.Methodology,
		Findings:          d.Findings,
		Competitors:       d.Competitors,
		Risks:             d.Risks,
		Opportunities:     d.Opportunities,
		Recommendations:   d.Recommendations,
		MarkdownReport:    d.MarkdownReport,
		FollowUpQuestions: d.FollowUpQuestions,
	}
}

// Clarification is the clarifier's assessment of a query.
type Clarification struct {
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"clarifying_questions"`
	Reasoning          string   `json:"reasoning"`
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
