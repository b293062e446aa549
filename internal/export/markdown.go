// Package export writes finished reports to files, spreadsheets, Notion and
// email.
package export

import (
	"fmt"
	"strings"

	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/model"
)

// Section is one titled block of a report in display order.
type Section struct {
	Heading string
	Body    string
}

// Sections returns the report sections in display order. Competitors is
// omitted when empty.
func Sections(r *model.Report) []Section {
	out := []Section{
		{"Executive Summary", r.Summary},
		{"Goals", r.Goals},
		{"Methodology", r.Methodology},
		{"Findings", r.Findings},
	}
	if strings.TrimSpace(r.Competitors) != "" {
		out = append(out, Section{"Competitors", r.Competitors})
	}
	return append(out,
		Section{"Risks", r.Risks},
		Section{"Opportunities", r.Opportunities},
		Section{"Recommendations", r.Recommendations},
	)
}

// RenderMarkdown renders a report and its sources as a markdown document.
func RenderMarkdown(r *model.Report, sources []model.Source) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Query)
	fmt.Fprintf(&b, "- **Mode:** %s\n", r.Mode)
	fmt.Fprintf(&b, "- **Confidence:** %s (%.2f)\n", confidence.LabelFor(r.ConfidenceScore), r.ConfidenceScore)
	if !r.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- **Created:** %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if r.ID != "" {
		fmt.Fprintf(&b, "- **Report ID:** %s\n", r.ID)
	}
	b.WriteString("\n")

	for _, s := range Sections(r) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Heading, strings.TrimSpace(s.Body))
	}

	if len(r.FollowUpQuestions) > 0 {
		b.WriteString("## Follow-up Questions\n\n")
		for _, q := range r.FollowUpQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
		b.WriteString("\n")
	}

	if len(sources) > 0 {
		b.WriteString("## Sources\n\n")
		for i, s := range sources {
			title := s.Title
			if title == "" {
				title = s.Domain
			}
			fmt.Fprintf(&b, "%d. [%s](%s) - %s, reliability %.2f\n", i+1, title, s.URL, s.SourceType, s.Reliability)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
