package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReport() *Report {
	return &Report{
		Query:           "What are AI agents?",
		Mode:            ModeQuick,
		Summary:         "s",
		Goals:           "g",
		Methodology:     "m",
		Findings:        "f",
		Risks:           "r",
		Opportunities:   "o",
		Recommendations: "rec",
		ConfidenceScore: 0.5,
	}
}

func TestLookupMode(t *testing.T) {
	cfg, ok := LookupMode("quick")
	require.True(t, ok)
	assert.Equal(t, 4, cfg.MinSources)
	assert.Equal(t, 6, cfg.MaxSources)
	assert.Equal(t, 20, cfg.HardCapSources)
	assert.Equal(t, 120*time.Second, cfg.TargetDuration)

	cfg, ok = LookupMode(" DEEP ")
	require.True(t, ok)
	assert.Equal(t, 10, cfg.MinSources)
	assert.Equal(t, 14, cfg.MaxSources)
	assert.Equal(t, 480*time.Second, cfg.TargetDuration)

	_, ok = LookupMode("medium")
	assert.False(t, ok)
}

func TestParseMode_Unknown(t *testing.T) {
	_, err := ParseMode("turbo")
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "mode", ve.Field)
}

func TestClampSourceCount(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		count     int
		want      int
		wantBelow bool
	}{
		{"quick within range", ModeQuick, 5, 5, false},
		{"quick above max", ModeQuick, 9, 6, false},
		{"quick above hard cap", ModeQuick, 40, 6, false},
		{"quick below min", ModeQuick, 3, 3, true},
		{"deep above hard cap", ModeDeep, 25, 14, false},
		{"deep below min", ModeDeep, 8, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, below := tt.mode.Config().ClampSourceCount(tt.count)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantBelow, below)
		})
	}
}

func TestReportValidate(t *testing.T) {
	require.NoError(t, validReport().Validate())

	tests := []struct {
		name  string
		mut   func(r *Report)
		field string
	}{
		{"missing query", func(r *Report) { r.Query = "" }, "query"},
		{"blank findings", func(r *Report) { r.Findings = "  " }, "findings"},
		{"bad mode", func(r *Report) { r.Mode = "slow" }, "mode"},
		{"score above one", func(r *Report) { r.ConfidenceScore = 1.01 }, "confidence_score"},
		{"negative score", func(r *Report) { r.ConfidenceScore = -0.1 }, "confidence_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mut(r)
			err := r.Validate()
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestReportValidate_CompetitorsOptional(t *testing.T) {
	r := validReport()
	r.Competitors = ""
	assert.NoError(t, r.Validate())
}

func TestSourceValidate(t *testing.T) {
	s := &Source{ReportID: "r1", URL: "https://example.gov/a", Domain: "example.gov", Reliability: 0.9, SourceType: SourceGov}
	require.NoError(t, s.Validate())

	s.Reliability = 1.4
	var ve *ValidationError
	require.True(t, errors.As(s.Validate(), &ve))
	assert.Equal(t, "reliability", ve.Field)

	s.Reliability = 0.5
	s.SourceType = "podcast"
	require.True(t, errors.As(s.Validate(), &ve))
	assert.Equal(t, "source_type", ve.Field)
}

func TestLogEntryValidate(t *testing.T) {
	l := &LogEntry{Stage: "plan", Message: "planning", Status: StatusRunning}
	require.NoError(t, l.Validate())

	l.Status = "done"
	var ve *ValidationError
	require.True(t, errors.As(l.Validate(), &ve))
	assert.Equal(t, "status", ve.Field)
}

func TestEventLogEntry(t *testing.T) {
	now := time.Now().UTC()
	e := Event{Stage: "search", Message: "Search 1/3 completed", Status: StatusOK, ReportID: "abc", Timestamp: now}
	entry := e.LogEntry()
	require.NotNil(t, entry.ReportID)
	assert.Equal(t, "abc", *entry.ReportID)
	assert.Equal(t, now, entry.Timestamp)

	e.ReportID = ""
	assert.Nil(t, e.LogEntry().ReportID)
}

func TestDraftToReport(t *testing.T) {
	d := &ReportDraft{Summary: "s", FollowUpQuestions: []string{"q1"}, Contradictions: []string{"x"}}
	r := d.ToReport("q", ModeDeep)
	assert.Equal(t, "q", r.Query)
	assert.Equal(t, ModeDeep, r.Mode)
	assert.Equal(t, []string{"q1"}, r.FollowUpQuestions)
	assert.Empty(t, r.ID)
}
