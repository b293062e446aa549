package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/pkg/anthropic"
)

const writerPrompt = `You are a senior researcher writing a structured research report.

You receive the original query and summarized search results. Synthesize only
from those results. Every section must have content; write
"[Information not available]" when a section cannot be supported.

Mark uncertain claims ("Evidence suggests..."). When sources disagree, list each
conflicting statement in "contradictions".

Respond with JSON only, using these keys:
{"summary": "", "goals": "", "methodology": "", "findings": "", "competitors": "",
 "risks": "", "opportunities": "", "recommendations": "",
 "markdown_report": "full markdown report with all sections",
 "follow_up_questions": ["3 to 5 questions"],
 "contradictions": []}`

// Writer asks the LLM to synthesize search results into a report draft.
type Writer struct {
	llm llm
}

// NewWriter creates a Writer.
func NewWriter(client anthropic.Client, opts ...LLMOption) *Writer {
	return &Writer{llm: newLLM(client, "write", 8192, opts)}
}

// Synthesize drafts the report for query from the successful search results.
func (w *Writer) Synthesize(ctx context.Context, query string, results []model.SearchResult) (*model.ReportDraft, error) {
	var draft model.ReportDraft
	if err := w.llm.completeJSON(ctx, writerPrompt, writerInput(query, results), &draft); err != nil {
		return nil, err
	}
	fillMissing(&draft)
	return &draft, nil
}

func writerInput(query string, results []model.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\nSearch results:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n## Result %d: %s\n%s\n", i+1, r.Item.Query, strings.TrimSpace(r.Summary))
		for _, s := range r.Sources {
			if s.Title != "" {
				fmt.Fprintf(&b, "- %s (%s, %s)\n", s.Title, s.URL, s.SourceType)
			} else {
				fmt.Fprintf(&b, "- %s (%s)\n", s.URL, s.SourceType)
			}
		}
	}
	return b.String()
}

// fillMissing replaces empty required sections with the not-available marker.
func fillMissing(d *model.ReportDraft) {
	for _, f := range []*string{
		&d.Summary, &d.Goals, &d.Methodology, &d.Findings,
		&d.Risks, &d.Opportunities, &d.Recommendations,
	} {
		if strings.TrimSpace(*f) == "" {
			*f = InfoNotAvailable
		}
	}
}
