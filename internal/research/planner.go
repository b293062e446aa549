package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/pkg/anthropic"
)

// Planner asks the LLM for a set of web searches covering a query.
type Planner struct {
	llm llm
}

// NewPlanner creates a Planner.
func NewPlanner(client anthropic.Client, opts ...LLMOption) *Planner {
	return &Planner{llm: newLLM(client, "plan", 2048, opts)}
}

type searchPlan struct {
	Searches []model.SearchItem `json:"searches"`
}

// Plan returns the planned searches for query in the given mode.
func (p *Planner) Plan(ctx context.Context, query string, mode model.Mode) ([]model.SearchItem, error) {
	var plan searchPlan
	if err := p.llm.completeJSON(ctx, plannerPrompt(mode.Config()), "Query: "+query, &plan); err != nil {
		return nil, err
	}

	items := make([]model.SearchItem, 0, len(plan.Searches))
	for _, s := range plan.Searches {
		s.Query = strings.TrimSpace(s.Query)
		if s.Query == "" {
			continue
		}
		items = append(items, s)
	}
	return items, nil
}

func plannerPrompt(cfg model.ModeConfig) string {
	return fmt.Sprintf(`You are a research assistant operating in %s mode.

Given a user query, plan the web searches that best answer it.
Output between %d and %d searches. Each search targets a distinct aspect of
the query with effective keywords and no redundancy.

Respond with JSON only:
{"searches": [{"query": "search terms", "reason": "why this search matters"}]}`,
		strings.ToUpper(string(cfg.Mode)), cfg.MinSources, cfg.MaxSources)
}
