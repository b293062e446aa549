package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/errreport"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/resilience"
	storemocks "github.com/max-solo23/deeptrace/internal/store/mocks"
)

const testQuery = "What are AI agents?"

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func testConfig() Config {
	return Config{
		SearchTimeout: time.Second,
		PlanningRetry: fastRetry(),
		SearchRetry:   fastRetry(),
		WritingRetry:  fastRetry(),
	}
}

func planItems(n int) []model.SearchItem {
	items := make([]model.SearchItem, n)
	for i := range items {
		items[i] = model.SearchItem{Query: fmt.Sprintf("search %d", i), Reason: "coverage"}
	}
	return items
}

func resultFor(item model.SearchItem, sources ...model.Source) *model.SearchResult {
	return &model.SearchResult{Item: item, Summary: "summary of " + item.Query, Sources: sources}
}

func fullDraft() *model.ReportDraft {
	return &model.ReportDraft{
		Summary:           "Agents plan and act.",
		Goals:             "Explain AI agents.",
		Methodology:       "Web search and synthesis.",
		Findings:          "Agents combine LLMs with tools.",
		Risks:             "Reliability.",
		Opportunities:     "Automation.",
		Recommendations:   "Start small.",
		MarkdownReport:    "# AI agents",
		FollowUpQuestions: []string{"Which frameworks exist?"},
	}
}

var (
	mediaSource = model.Source{URL: "https://www.reuters.com/technology/agents", Domain: "reuters.com", Reliability: 0.7, SourceType: model.SourceMedia}
	blogSource  = model.Source{URL: "https://agents.substack.com/p/intro", Domain: "agents.substack.com", Reliability: 0.45, SourceType: model.SourceBlog}
)

func newLenientStore(t *testing.T) *storemocks.MockStore {
	st := storemocks.NewMockStore(t)
	st.On("SaveLog", mock.Anything, mock.Anything).Return("log-id", nil).Maybe()
	return st
}

func drain(ch chan model.Event) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func findEvent(events []model.Event, substr string) (model.Event, bool) {
	for _, ev := range events {
		if strings.Contains(ev.Message, substr) {
			return ev, true
		}
	}
	return model.Event{}, false
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	ctx := context.Background()
	items := planItems(3)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)

	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, items[0]).Return(resultFor(items[0], mediaSource), nil)
	searcher.On("Search", mock.Anything, items[1]).Return(nil, errors.New("upstream timeout"))
	searcher.On("Search", mock.Anything, items[2]).Return(resultFor(items[2], blogSource), nil)

	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.MatchedBy(func(rs []model.SearchResult) bool {
		return len(rs) == 2 && rs[0].Item == items[0] && rs[1].Item == items[2]
	})).Return(fullDraft(), nil)

	st := newLenientStore(t)
	st.On("SaveReport", mock.Anything, mock.MatchedBy(func(r *model.Report) bool { return r.ID == "run-1" })).Return("run-1", nil).Once()
	st.On("SaveSource", mock.Anything, mock.MatchedBy(func(s *model.Source) bool { return s.ReportID == "run-1" })).Return("src", nil).Twice()

	exporter := &mockExporter{}
	exporter.On("Export", mock.Anything, mock.Anything, mock.Anything).Return("exports/research_ai.md", nil)

	events := make(chan model.Event, 64)
	p := New(planner, searcher, writer, st,
		WithConfig(testConfig()),
		WithEvents(events),
		WithExporters(exporter),
		WithReportID(func() string { return "run-1" }),
	)

	out, err := p.Run(ctx, Request{Query: testQuery}, cancellation.New())
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	require.NotNil(t, out.Report)
	assert.Equal(t, "run-1", out.Report.ID)
	assert.InDelta(t, 0.5, out.Report.ConfidenceScore, 1e-9)
	assert.Equal(t, confidence.LabelMedium, out.Confidence.Label)
	assert.Len(t, out.Sources, 2)
	assert.Equal(t, "run-1", out.SavedReportID)
	require.Len(t, out.Exports, 1)
	assert.NoError(t, out.Exports[0].Err)
	searcher.AssertNumberOfCalls(t, "Search", 5)

	evs := drain(events)
	require.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.Equal(t, "run-1", ev.ReportID)
	}
	_, ok := findEvent(evs, "2 successful so far")
	assert.True(t, ok)
	failed, ok := findEvent(evs, "failed")
	require.True(t, ok)
	assert.Equal(t, model.StatusWarning, failed.Status)
	below, ok := findEvent(evs, "below the quick mode minimum of 4")
	require.True(t, ok)
	assert.Equal(t, model.StatusWarning, below.Status)
	_, ok = findEvent(evs, "Report written. Confidence: Medium (0.50)")
	assert.True(t, ok)
	assert.Equal(t, msgComplete, evs[len(evs)-1].Message)

	assert.Equal(t, []State{StatePlan, StateSearch, StateWrite, StatePersist, StateExport}, phaseNames(out.Timings))
	planner.AssertExpectations(t)
	writer.AssertExpectations(t)
	exporter.AssertExpectations(t)
}

func phaseNames(t Timings) []State {
	var names []State
	for _, ph := range t.Phases {
		names = append(names, ph.Phase)
	}
	return names
}

func TestPipeline_Run_StopBeforeSearchWritesNoReport(t *testing.T) {
	ctl := cancellation.New()
	items := planItems(4)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).
		Run(func(mock.Arguments) { ctl.Stop("user") }).
		Return(items, nil)
	searcher := &mockSearcher{}
	writer := &mockWriter{}
	st := newLenientStore(t)

	events := make(chan model.Event, 32)
	p := New(planner, searcher, writer, st, WithConfig(testConfig()), WithEvents(events))

	out, err := p.Run(context.Background(), Request{Query: testQuery}, ctl)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, out.State)
	assert.Nil(t, out.Report)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	writer.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SaveReport", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SaveSource", mock.Anything, mock.Anything)

	evs := drain(events)
	last := evs[len(evs)-1]
	assert.Equal(t, string(StateStopped), last.Stage)
	assert.Contains(t, last.Message, "Results not saved to database")
}

func TestPipeline_Run_PreassignedIDWins(t *testing.T) {
	ctl := cancellation.New()
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeDeep).
		Run(func(mock.Arguments) { ctl.Stop("user") }).
		Return(planItems(10), nil)

	events := make(chan model.Event, 32)
	p := New(planner, &mockSearcher{}, &mockWriter{}, newLenientStore(t),
		WithConfig(testConfig()),
		WithEvents(events),
		WithReportID(func() string { t.Fatal("generator must not be used"); return "" }),
	)

	out, err := p.Run(context.Background(), Request{ID: " run-42 ", Query: testQuery, Mode: model.ModeDeep}, ctl)
	require.NoError(t, err)
	assert.Equal(t, "run-42", out.ReportID)
	for _, ev := range drain(events) {
		assert.Equal(t, "run-42", ev.ReportID)
	}
}

func TestPipeline_Run_StopAfterWriteSkipsPersist(t *testing.T) {
	ctl := cancellation.New()
	items := planItems(4)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	for _, it := range items {
		searcher.On("Search", mock.Anything, it).Return(resultFor(it, mediaSource), nil)
	}
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).
		Run(func(mock.Arguments) { ctl.Stop("user") }).
		Return(fullDraft(), nil)
	st := newLenientStore(t)

	p := New(planner, searcher, writer, st, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, ctl)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, out.State)
	assert.NotNil(t, out.Report)
	assert.Empty(t, out.SavedReportID)
	st.AssertNotCalled(t, "SaveReport", mock.Anything, mock.Anything)
}

func TestPipeline_Run_StopAfterPersistKeepsSavedReport(t *testing.T) {
	ctl := cancellation.New()
	items := planItems(4)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	for _, it := range items {
		searcher.On("Search", mock.Anything, it).Return(resultFor(it, mediaSource), nil)
	}
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(fullDraft(), nil)

	st := newLenientStore(t)
	st.On("SaveReport", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ctl.Stop("user") }).
		Return("run-7a2c91f0", nil).Once()
	st.On("SaveSource", mock.Anything, mock.Anything).Return("src", nil).Maybe()
	exporter := &mockExporter{}

	core, logs := observer.New(zap.InfoLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	events := make(chan model.Event, 64)
	p := New(planner, searcher, writer, st, WithConfig(testConfig()), WithEvents(events), WithExporters(exporter))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, ctl)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, "run-7a2c91f0", out.SavedReportID)
	exporter.AssertNotCalled(t, "Export", mock.Anything, mock.Anything, mock.Anything)

	evs := drain(events)
	last := evs[len(evs)-1]
	assert.Equal(t, string(StateStopped), last.Stage)
	assert.Contains(t, last.Message, "before export")
	assert.Contains(t, last.Message, "Report already saved (id run-7a2c)")
	assert.NotContains(t, last.Message, "not saved")

	stopped := logs.FilterMessage("pipeline: research stopped").All()
	require.Len(t, stopped, 1)
	fields := stopped[0].ContextMap()
	assert.Equal(t, "user", fields["reason"])
	assert.Equal(t, true, fields["saved"])
	assert.Contains(t, fields, "stop_latency")
}

func TestPipeline_Run_AllSearchesFail(t *testing.T) {
	items := planItems(4)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(nil, resilience.Permanent(errors.New("bad request")))
	writer := &mockWriter{}
	st := newLenientStore(t)

	events := make(chan model.Event, 32)
	p := New(planner, searcher, writer, st, WithConfig(testConfig()), WithEvents(events))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, cancellation.New())
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	require.NotNil(t, out.Failure)
	assert.Equal(t, errreport.ClassAllSearchesFailed, out.Failure.Class)
	require.NotNil(t, out.Report)
	assert.Contains(t, out.Report.Findings, errreport.NoSourcesMarker)
	assert.Zero(t, out.Report.ConfidenceScore)
	assert.NoError(t, out.Report.Validate())

	searcher.AssertNumberOfCalls(t, "Search", 4)
	writer.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SaveReport", mock.Anything, mock.Anything)

	evs := drain(events)
	last := evs[len(evs)-1]
	assert.Equal(t, model.StatusError, last.Status)
	assert.Equal(t, msgAllFailed, last.Message)
}

func TestPipeline_Run_PlanningFailsAfterRetries(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeDeep).Return(nil, errors.New("overloaded"))

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery, Mode: model.ModeDeep}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, errreport.ClassPlanning, out.Failure.Class)
	assert.Equal(t, StatePlan, out.Failure.Stage)
	assert.Equal(t, model.ModeDeep, out.Report.Mode)
	planner.AssertNumberOfCalls(t, "Plan", 3)
}

func TestPipeline_Run_EmptyPlanIsPlanningFailure(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return([]model.SearchItem{{Query: "  "}}, nil)

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, errreport.ClassPlanning, out.Failure.Class)
	planner.AssertNumberOfCalls(t, "Plan", 1)
}

func TestPipeline_Run_WritingFailureKeepsPartialResults(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	for _, it := range items {
		searcher.On("Search", mock.Anything, it).Return(resultFor(it, mediaSource), nil)
	}
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(nil, errors.New("model unavailable"))

	p := New(planner, searcher, writer, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, errreport.ClassWriting, out.Failure.Class)
	assert.InDelta(t, errreport.PartialConfidence, out.Report.ConfidenceScore, 1e-9)
	assert.Contains(t, out.Report.Findings, "summary of search 0")
	writer.AssertNumberOfCalls(t, "Synthesize", 3)
}

func TestPipeline_Run_IncompleteDraftIsWritingFailure(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], mediaSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(&model.ReportDraft{Summary: "only a summary"}, nil)

	p := New(planner, searcher, writer, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, errreport.ClassWriting, out.Failure.Class)
	var verr *model.ValidationError
	assert.ErrorAs(t, out.Failure, &verr)
}

func TestPipeline_Run_WriterPanicBecomesUnexpectedFailure(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], mediaSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).
		Run(func(mock.Arguments) { panic("nil map write") }).
		Return(nil, nil)

	p := New(planner, searcher, writer, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, errreport.ClassUnexpected, out.Failure.Class)
	assert.Contains(t, out.Report.Summary, "Unexpected system error: PanicError")
	writer.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestPipeline_Run_SearcherPanicFailsOnlyThatTask(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, items[0]).Run(func(mock.Arguments) { panic("boom") }).Return(nil, nil)
	for _, it := range items[1:] {
		searcher.On("Search", mock.Anything, it).Return(resultFor(it, mediaSource), nil)
	}
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.MatchedBy(func(rs []model.SearchResult) bool { return len(rs) == 3 })).
		Return(fullDraft(), nil)

	p := New(planner, searcher, writer, nil, WithConfig(testConfig()))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Len(t, out.Sources, 1)
}

func TestPipeline_Run_PlanTruncatedToModeMax(t *testing.T) {
	items := planItems(25)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], blogSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(fullDraft(), nil)

	events := make(chan model.Event, 64)
	p := New(planner, searcher, writer, nil, WithConfig(testConfig()), WithEvents(events))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	searcher.AssertNumberOfCalls(t, "Search", 6)
	_, ok := findEvent(drain(events), msgPlanned(6))
	assert.True(t, ok)
}

func TestPipeline_Run_Validation(t *testing.T) {
	planner := &mockPlanner{}
	p := New(planner, &mockSearcher{}, &mockWriter{}, nil)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty query", Request{Query: "   "}, "query"},
		{"unknown mode", Request{Query: testQuery, Mode: "exhaustive"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Run(context.Background(), tt.req, nil)
			assert.Nil(t, out)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	planner.AssertNotCalled(t, "Plan", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_ClarificationAnswersRefineQuery(t *testing.T) {
	clarifier := &mockClarifier{}
	clarifier.On("Classify", mock.Anything, "agents").Return(&model.Clarification{
		NeedsClarification: true,
		Questions:          []string{"Which industry?", "Which time frame?"},
	}, nil)

	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.HasPrefix(q, "agents") && strings.Contains(q, "Which industry? Healthcare")
	}), model.ModeQuick).Return(nil, resilience.Permanent(errors.New("stop here")))

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil, WithConfig(testConfig()), WithClarifier(clarifier))
	out, err := p.Run(context.Background(), Request{Query: "agents", Answers: []string{"Healthcare", "2024"}}, nil)
	require.NoError(t, err)

	require.NotNil(t, out.Clarification)
	assert.Contains(t, out.Query, "Which time frame? 2024")
	planner.AssertExpectations(t)
}

func TestPipeline_Run_ClarificationHandlerIsAsked(t *testing.T) {
	clarifier := &mockClarifier{}
	clarifier.On("Classify", mock.Anything, "agents").Return(&model.Clarification{
		NeedsClarification: true,
		Questions:          []string{"Which industry?"},
	}, nil)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, model.ModeQuick).Return(nil, resilience.Permanent(errors.New("stop here")))

	var asked []string
	handler := func(_ context.Context, qs []string) ([]string, error) {
		asked = qs
		return []string{"Retail"}, nil
	}

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil,
		WithConfig(testConfig()), WithClarifier(clarifier), WithClarificationHandler(handler))
	out, err := p.Run(context.Background(), Request{Query: "agents"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Which industry?"}, asked)
	assert.Contains(t, out.Query, "Retail")
}

func TestPipeline_Run_ClarificationHandlerBlankAnswerKeepsAlignment(t *testing.T) {
	questions := []string{"Which segment?", "Which region?", "Which year?"}
	clarifier := &mockClarifier{}
	clarifier.On("Classify", mock.Anything, "agents").Return(&model.Clarification{
		NeedsClarification: true,
		Questions:          questions,
	}, nil)

	var planned string
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, model.ModeQuick).
		Run(func(args mock.Arguments) { planned = args.String(1) }).
		Return(nil, resilience.Permanent(errors.New("stop here")))

	handler := func(context.Context, []string) ([]string, error) {
		return []string{"Enterprise", "", "2025"}, nil
	}

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil,
		WithConfig(testConfig()), WithClarifier(clarifier), WithClarificationHandler(handler))
	_, err := p.Run(context.Background(), Request{Query: "agents"}, nil)
	require.NoError(t, err)

	assert.Contains(t, planned, "- Which segment? Enterprise")
	assert.Contains(t, planned, "- Which year? 2025")
	assert.NotContains(t, planned, "Which region?")
}

func TestPipeline_Run_ClarificationWithoutAnswersWarns(t *testing.T) {
	clarifier := &mockClarifier{}
	clarifier.On("Classify", mock.Anything, "agents").Return(&model.Clarification{
		NeedsClarification: true,
		Questions:          []string{"Which industry?"},
	}, nil)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, "agents", model.ModeQuick).Return(nil, resilience.Permanent(errors.New("stop here")))

	events := make(chan model.Event, 32)
	p := New(planner, &mockSearcher{}, &mockWriter{}, nil,
		WithConfig(testConfig()), WithClarifier(clarifier), WithEvents(events))
	_, err := p.Run(context.Background(), Request{Query: "agents"}, nil)
	require.NoError(t, err)

	ev, ok := findEvent(drain(events), "Which industry?")
	require.True(t, ok)
	assert.Equal(t, model.StatusWarning, ev.Status)
	planner.AssertExpectations(t)
}

func TestPipeline_Run_ClarifierFailureIsNonFatal(t *testing.T) {
	clarifier := &mockClarifier{}
	clarifier.On("Classify", mock.Anything, "agents").Return(nil, errors.New("timeout"))
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, "agents", model.ModeQuick).Return(nil, resilience.Permanent(errors.New("stop here")))

	p := New(planner, &mockSearcher{}, &mockWriter{}, nil, WithConfig(testConfig()), WithClarifier(clarifier))
	out, err := p.Run(context.Background(), Request{Query: "agents"}, nil)
	require.NoError(t, err)

	assert.Equal(t, errreport.ClassPlanning, out.Failure.Class)
	require.NotEmpty(t, out.Timings.Phases)
	assert.Equal(t, StateClarify, out.Timings.Phases[0].Phase)
	assert.True(t, out.Timings.Phases[0].Failed)
}

func TestPipeline_Run_PersistFailureStillDone(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], mediaSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(fullDraft(), nil)

	st := newLenientStore(t)
	st.On("SaveReport", mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	events := make(chan model.Event, 64)
	p := New(planner, searcher, writer, st, WithConfig(testConfig()), WithEvents(events))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Empty(t, out.SavedReportID)
	assert.NotNil(t, out.Report)
	ev, ok := findEvent(drain(events), "Database save failed")
	require.True(t, ok)
	assert.Equal(t, model.StatusWarning, ev.Status)
	st.AssertNotCalled(t, "SaveSource", mock.Anything, mock.Anything)
}

func TestPipeline_Run_ExportFailureIsNonFatal(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], mediaSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(fullDraft(), nil)

	broken := &mockExporter{}
	broken.On("Export", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("smtp refused"))
	skipped := &mockExporter{}
	skipped.On("Export", mock.Anything, mock.Anything, mock.Anything).Return("", nil)

	events := make(chan model.Event, 64)
	p := New(planner, searcher, writer, nil, WithConfig(testConfig()), WithEvents(events), WithExporters(broken, skipped))
	out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	require.Len(t, out.Exports, 2)
	assert.Error(t, out.Exports[0].Err)
	assert.NoError(t, out.Exports[1].Err)
	evs := drain(events)
	assert.Equal(t, msgCompleteNoExport, evs[len(evs)-1].Message)
}

func TestPipeline_Run_FullEventChannelNeverBlocks(t *testing.T) {
	items := planItems(4)
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, testQuery, model.ModeQuick).Return(items, nil)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(resultFor(items[0], mediaSource), nil)
	writer := &mockWriter{}
	writer.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(fullDraft(), nil)

	events := make(chan model.Event, 1)
	p := New(planner, searcher, writer, nil, WithConfig(testConfig()), WithEvents(events))

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err := p.Run(context.Background(), Request{Query: testQuery}, nil)
		assert.NoError(t, err)
		assert.Equal(t, StateDone, out.State)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on a full event channel")
	}
	assert.Len(t, events, 1)
}

func TestCollectSources(t *testing.T) {
	dup := mediaSource
	dup.URL = mediaSource.URL + "/"
	odd := model.Source{URL: "https://example.com/x", Domain: "example.com", Reliability: 0.5, SourceType: "rumor", ID: "stale"}
	empty := model.Source{URL: " "}

	results := []model.SearchResult{
		{Sources: []model.Source{mediaSource, empty}},
		{Sources: []model.Source{dup, odd, blogSource}},
	}

	got := collectSources(results, "r1")
	require.Len(t, got, 3)
	assert.Equal(t, mediaSource.URL, got[0].URL)
	assert.Equal(t, model.SourceUnknown, got[1].SourceType)
	assert.Empty(t, got[1].ID)
	for _, s := range got {
		assert.Equal(t, "r1", s.ReportID)
	}
}

func TestCollectSources_CapsAtHardLimit(t *testing.T) {
	var srcs []model.Source
	for i := 0; i < 30; i++ {
		srcs = append(srcs, model.Source{URL: fmt.Sprintf("https://example.com/%d", i), Domain: "example.com", SourceType: model.SourceBlog})
	}
	got := collectSources([]model.SearchResult{{Sources: srcs}}, "r1")
	assert.Len(t, got, model.HardCapSources)
}

func TestRefineQuery(t *testing.T) {
	got := refineQuery("agents", []string{"Which industry?"}, []string{"Retail", " ", "budget under 10k"})
	assert.Equal(t, "agents\n\nClarifications:\n- Which industry? Retail\n- budget under 10k", got)
}
