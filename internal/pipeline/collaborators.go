package pipeline

import (
	"context"

	"github.com/max-solo23/deeptrace/internal/model"
)

// Planner turns a query into the searches to run.
type Planner interface {
	Plan(ctx context.Context, query string, mode model.Mode) ([]model.SearchItem, error)
}

// Clarifier decides whether a query is too vague to research as-is.
type Clarifier interface {
	Classify(ctx context.Context, query string) (*model.Clarification, error)
}

// Searcher runs one planned search.
type Searcher interface {
	Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error)
}

// Writer synthesizes the search results into a report draft.
type Writer interface {
	Synthesize(ctx context.Context, query string, results []model.SearchResult) (*model.ReportDraft, error)
}

// Exporter delivers a finished report somewhere and returns where it went.
type Exporter interface {
	Export(ctx context.Context, report *model.Report, sources []model.Source) (string, error)
}

// ClarificationHandler collects answers to clarifying questions, typically
// from an interactive user. Returning no answers keeps the original query.
type ClarificationHandler func(ctx context.Context, questions []string) ([]string, error)
