package errreport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-solo23/deeptrace/internal/model"
)

type timeoutError struct{}

func (*timeoutError) Error() string { return "deadline" }

func TestGenerate_EveryClassIsSchemaValid(t *testing.T) {
	partial := []model.SearchResult{{Summary: "AI agents act autonomously."}}
	for _, f := range []Failure{
		{Class: ClassPlanning, Query: "q", Mode: model.ModeQuick},
		{Class: ClassAllSearchesFailed, Query: "q", Mode: model.ModeDeep},
		{Class: ClassWriting, Query: "q", Mode: model.ModeQuick, Partial: partial},
		{Class: ClassUnexpected, Query: "q", Mode: model.ModeQuick, Err: &timeoutError{}},
		{Class: ClassUnexpected, Query: "", Mode: "bogus"},
	} {
		t.Run(string(f.Class), func(t *testing.T) {
			r := Generate(f)
			require.NoError(t, r.Validate())
			assert.LessOrEqual(t, r.ConfidenceScore, 0.2)
			assert.Equal(t, CompetitorsMissing, r.Competitors)
			assert.Len(t, r.FollowUpQuestions, 3)
			assert.Contains(t, r.Findings, FindingsHeader)
			assert.Contains(t, r.MarkdownReport, "## Error Notice")
		})
	}
}

func TestGenerate_AllSearchesFailedMarksNoSources(t *testing.T) {
	r := Generate(Failure{Class: ClassAllSearchesFailed, Query: "What are AI agents?", Mode: model.ModeQuick})
	assert.Contains(t, r.Findings, NoSourcesMarker)
	assert.Equal(t, "Research failed: All search attempts failed", r.Summary)
	assert.Equal(t, "Attempted to research: What are AI agents?", r.Goals)
	assert.Equal(t, ErrorConfidence, r.ConfidenceScore)
}

func TestGenerate_WritingFailureKeepsPartialResults(t *testing.T) {
	r := Generate(Failure{
		Class: ClassWriting,
		Query: "q",
		Mode:  model.ModeQuick,
		Partial: []model.SearchResult{
			{Summary: "first summary"},
			{Summary: "second summary"},
		},
	})
	assert.Contains(t, r.Findings, PartialHeader)
	assert.Contains(t, r.Findings, "(partial)")
	assert.Contains(t, r.Findings, "1. first summary")
	assert.Contains(t, r.Findings, "2. second summary")
	assert.Equal(t, PartialConfidence, r.ConfidenceScore)
	assert.Contains(t, r.MarkdownReport, "**Partial Results:** Yes")
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Failed to plan research searches", Failure{Class: ClassPlanning}.Message())
	assert.Equal(t, "Failed to generate structured report", Failure{Class: ClassWriting}.Message())
	assert.Equal(t, "Unexpected system error: timeoutError", Failure{Class: ClassUnexpected, Err: &timeoutError{}}.Message())
	assert.Equal(t, "Unexpected system error: unknown", Failure{Class: ClassUnexpected}.Message())
	assert.Equal(t, "Unexpected system error: errorString", Failure{Class: ClassUnexpected, Err: errors.New("x")}.Message())
}
