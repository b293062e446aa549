package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stageStyle   = lipgloss.NewStyle().Bold(true).Width(8)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F85149"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
)

var statusIcons = map[model.LogStatus]string{
	model.StatusRunning: "…",
	model.StatusOK:      "✓",
	model.StatusWarning: "!",
	model.StatusError:   "✗",
}

// renderEvent formats one progress event as a single line.
func renderEvent(ev model.Event) string {
	icon := statusIcons[ev.Status]
	if icon == "" {
		icon = "·"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		statusStyle(ev.Status).Render(icon+" "),
		stageStyle.Render(ev.Stage),
		ev.Message,
	)
}

func statusStyle(s model.LogStatus) lipgloss.Style {
	switch s {
	case model.StatusOK:
		return okStyle
	case model.StatusWarning:
		return warnStyle
	case model.StatusError:
		return errStyle
	default:
		return mutedStyle
	}
}

// renderOutcome formats the summary box printed after a run.
func renderOutcome(out *pipeline.Outcome) string {
	var lines []string
	switch out.State {
	case pipeline.StateStopped:
		lines = append(lines, warnStyle.Render("Research stopped"))
		if out.SavedReportID != "" {
			lines = append(lines, "Saved as: "+out.SavedReportID)
		} else {
			lines = append(lines, "Results not saved to database.")
		}
	case pipeline.StateError:
		lines = append(lines, errStyle.Render("Research failed"))
		if out.Failure != nil {
			lines = append(lines, fmt.Sprintf("Stage: %s (%s)", out.Failure.Stage, out.Failure.Class))
			lines = append(lines, fmt.Sprintf("Error: %v", out.Failure.Err))
		}
	default:
		lines = append(lines, okStyle.Render("Research complete"))
		lines = append(lines, "Confidence: "+confidenceStyle(out.Confidence.Label).
			Render(fmt.Sprintf("%s (%.2f)", out.Confidence.Label, out.Confidence.Score)))
		lines = append(lines, fmt.Sprintf("Sources: %d", len(out.Sources)))
		if out.SavedReportID != "" {
			lines = append(lines, "Saved as: "+out.SavedReportID)
		}
	}

	if t := out.Timings; t.Total > 0 {
		timing := fmt.Sprintf("Time: %s", t.Total.Round(100*time.Millisecond))
		if t.Target > 0 {
			timing += fmt.Sprintf(" (target %s)", t.Target)
			if !t.WithinTarget() {
				timing = warnStyle.Render(timing)
			}
		}
		lines = append(lines, timing)
	}

	for _, x := range out.Exports {
		switch {
		case x.Err != nil:
			lines = append(lines, warnStyle.Render(fmt.Sprintf("Export failed: %v", x.Err)))
		case x.Target != "":
			lines = append(lines, "Exported: "+x.Target)
		}
	}

	return summaryStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func confidenceStyle(l confidence.Label) lipgloss.Style {
	switch l {
	case confidence.LabelHigh:
		return okStyle
	case confidence.LabelMedium:
		return warnStyle
	default:
		return errStyle
	}
}

// renderQuestions formats clarifying questions as a numbered list.
func renderQuestions(questions []string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("A few questions to sharpen the research:"))
	b.WriteString("\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
	}
	return b.String()
}
