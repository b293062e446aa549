// Package errreport builds schema-complete fallback reports for pipeline
// failures. It depends only on the data model so it cannot itself fail.
package errreport

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/max-solo23/deeptrace/internal/model"
)

// Class identifies which failure produced the report.
type Class string

const (
	ClassPlanning          Class = "planning"
	ClassAllSearchesFailed Class = "all-searches-failed"
	ClassWriting           Class = "writing"
	ClassUnexpected        Class = "unexpected"
)

// Placeholder texts for degraded sections.
const (
	FindingsHeader     = "[Error occurred during research]"
	PartialHeader      = "**Partial Results Retrieved:**"
	NoSourcesMarker    = "No sources found."
	NoResultsSentence  = "No search results were retrieved before the error occurred."
	CompetitorsMissing = "[Information not available due to error]"
)

// Confidence values for error reports. They are fixed rather than computed.
const (
	ErrorConfidence   = 0.0
	PartialConfidence = 0.1
)

// Failure describes what went wrong and what was gathered before it did.
type Failure struct {
	Class   Class
	Query   string
	Mode    model.Mode
	Err     error
	Partial []model.SearchResult
}

// Message returns the user-facing description of the failure class.
func (f Failure) Message() string {
	switch f.Class {
	case ClassPlanning:
		return "Failed to plan research searches"
	case ClassAllSearchesFailed:
		return "All search attempts failed"
	case ClassWriting:
		return "Failed to generate structured report"
	default:
		return "Unexpected system error: " + errorType(f.Err)
	}
}

// Generate returns a Report satisfying every required field, with explicit
// placeholders marking what is missing.
func Generate(f Failure) model.Report {
	msg := f.Message()
	mode := f.Mode
	if !mode.Valid() {
		mode = model.ModeQuick
	}
	query := strings.TrimSpace(f.Query)
	if query == "" {
		query = "(empty query)"
	}

	findings := buildFindings(f)
	confidence := ErrorConfidence
	if len(f.Partial) > 0 && f.Class == ClassWriting {
		confidence = PartialConfidence
	}

	return model.Report{
		Query:           query,
		Mode:            mode,
		Summary:         "Research failed: " + msg,
		Goals:           "Attempted to research: " + query,
		Methodology:     "Research pipeline encountered an error before completion",
		Findings:        findings,
		Competitors:     CompetitorsMissing,
		Risks:           "System error prevented complete research execution",
		Opportunities:   "Retry may succeed; consider query refinement",
		Recommendations: "Retry the query or contact support",
		ConfidenceScore: confidence,
		MarkdownReport:  buildMarkdown(query, msg, findings, len(f.Partial) > 0),
		FollowUpQuestions: []string{
			"Should the query be rephrased or simplified?",
			"Are there system issues affecting research execution?",
			"Would breaking the query into smaller parts help?",
		},
	}
}

func buildFindings(f Failure) string {
	var b strings.Builder
	b.WriteString(FindingsHeader)
	b.WriteString("\n\n")

	if len(f.Partial) == 0 {
		if f.Class == ClassAllSearchesFailed {
			b.WriteString(NoSourcesMarker)
			b.WriteString(" ")
		}
		b.WriteString(NoResultsSentence)
		return b.String()
	}

	b.WriteString(PartialHeader)
	b.WriteString(" (partial)\n\n")
	for i, r := range f.Partial {
		summary := strings.TrimSpace(r.Summary)
		if summary == "" {
			summary = "(empty summary)"
		}
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildMarkdown(query, msg, findings string, partial bool) string {
	partialLabel := "No"
	summary := "No results were retrieved."
	if partial {
		partialLabel = "Yes"
		summary = "Some partial results were retrieved and are included below."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", query)
	b.WriteString("## Error Notice\n\n")
	b.WriteString("**Status:** Research pipeline encountered an error\n")
	fmt.Fprintf(&b, "**Error:** %s\n", msg)
	fmt.Fprintf(&b, "**Partial Results:** %s\n\n---\n\n", partialLabel)
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "This research attempt was unable to complete successfully due to a system error. %s\n\n---\n\n", summary)
	b.WriteString("## Findings\n\n")
	b.WriteString(findings)
	b.WriteString("\n\n---\n\n## Recommendations\n\n")
	b.WriteString("- Retry the research query\n")
	b.WriteString("- Simplify the query if it was complex\n")
	b.WriteString("- Check system logs for detailed error information\n")
	b.WriteString("\n---\n\n*This is an automatically generated error report.*\n")
	return b.String()
}

func errorType(err error) string {
	if err == nil {
		return "unknown"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "error"
	}
	return t.Name()
}
