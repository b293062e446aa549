package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/store"
)

// emitter pushes status events to an optional listener and appends them to
// the run log. Neither path may block or fail the run.
type emitter struct {
	ch       chan<- model.Event
	store    store.Store
	reportID string
	log      *zap.Logger
	now      func() time.Time
}

func (e *emitter) emit(ctx context.Context, stage State, status model.LogStatus, msg string) {
	ev := model.Event{
		Stage:     string(stage),
		Message:   msg,
		Status:    status,
		ReportID:  e.reportID,
		Timestamp: e.now().UTC(),
	}

	if e.ch != nil {
		select {
		case e.ch <- ev:
		default:
			e.log.Debug("pipeline: event channel full, dropping event",
				zap.String("stage", ev.Stage),
				zap.String("message", ev.Message),
			)
		}
	}

	if e.store != nil {
		if _, err := e.store.SaveLog(ctx, ev.LogEntry()); err != nil {
			e.log.Debug("pipeline: failed to persist event", zap.String("stage", ev.Stage), zap.Error(err))
		}
	}
}

func (e *emitter) running(ctx context.Context, stage State, msg string) {
	e.emit(ctx, stage, model.StatusRunning, msg)
}

func (e *emitter) ok(ctx context.Context, stage State, msg string) {
	e.emit(ctx, stage, model.StatusOK, msg)
}

func (e *emitter) warn(ctx context.Context, stage State, msg string) {
	e.emit(ctx, stage, model.StatusWarning, msg)
}

func (e *emitter) fail(ctx context.Context, stage State, msg string) {
	e.emit(ctx, stage, model.StatusError, msg)
}

// Status messages.

func msgStarting(mode model.Mode) string {
	return fmt.Sprintf("Starting %s mode research...", strings.ToUpper(string(mode)))
}

func msgNeedsClarification(questions []string) string {
	return "Query may need clarification: " + strings.Join(questions, " | ")
}

func msgPlanned(n int) string {
	return fmt.Sprintf("Planning complete - %d searches planned", n)
}

func msgBelowMinimum(n int, cfg model.ModeConfig) string {
	return fmt.Sprintf("Only %d searches planned, below the %s mode minimum of %d", n, cfg.Mode, cfg.MinSources)
}

func msgSearchDone(i, n, succeeded int) string {
	return fmt.Sprintf("Search %d/%d completed - %d successful so far", i, n, succeeded)
}

func msgSearchFailed(i, n int) string {
	return fmt.Sprintf("Search %d/%d failed", i, n)
}

func msgSearchesComplete(succeeded, n int) string {
	return fmt.Sprintf("Searches complete (%d/%d successful), writing report...", succeeded, n)
}

func msgReportWritten(res confidence.Result) string {
	return fmt.Sprintf("Report written. Confidence: %s (%.2f)", res.Label, res.Score)
}

func msgSaved(id string) string {
	return fmt.Sprintf("Saved to database (id %s)", shortID(id))
}

func msgStopped(stage State, savedID string) string {
	msg := fmt.Sprintf("Research stopped by user before %s.", stage)
	if savedID == "" {
		return msg + " Results not saved to database."
	}
	return fmt.Sprintf("%s Report already saved (id %s).", msg, shortID(savedID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const (
	msgPlanning         = "Planning searches..."
	msgPlanningFailed   = "Planning failed after retries. Returning error report."
	msgAllFailed        = "All searches failed. Returning error report."
	msgWriting          = "Writing report..."
	msgWritingFailed    = "Report generation failed after retries. Returning partial results."
	msgClarified        = "Query refined with clarification answers"
	msgComplete         = "Research complete."
	msgCompleteNoExport = "Research complete (some exports failed)."
)
