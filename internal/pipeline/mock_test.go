package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/max-solo23/deeptrace/internal/model"
)

// --- Planner Mock ---

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) Plan(ctx context.Context, query string, mode model.Mode) ([]model.SearchItem, error) {
	args := m.Called(ctx, query, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SearchItem), args.Error(1)
}

// --- Clarifier Mock ---

type mockClarifier struct {
	mock.Mock
}

func (m *mockClarifier) Classify(ctx context.Context, query string) (*model.Clarification, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Clarification), args.Error(1)
}

// --- Searcher Mock ---

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SearchResult), args.Error(1)
}

// --- Writer Mock ---

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Synthesize(ctx context.Context, query string, results []model.SearchResult) (*model.ReportDraft, error) {
	args := m.Called(ctx, query, results)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReportDraft), args.Error(1)
}

// --- Exporter Mock ---

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, report *model.Report, sources []model.Source) (string, error) {
	args := m.Called(ctx, report, sources)
	return args.String(0), args.Error(1)
}
