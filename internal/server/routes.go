package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/export"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/pipeline"
	"github.com/max-solo23/deeptrace/internal/store"
)

// HealthResponse reports service and store health.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Store  string `json:"store" example:"ok"`
}

// ModeResponse describes one research mode.
type ModeResponse struct {
	Mode           model.Mode `json:"mode"`
	MinSources     int        `json:"min_sources"`
	MaxSources     int        `json:"max_sources"`
	HardCapSources int        `json:"hard_cap_sources"`
	TargetSeconds  int        `json:"target_seconds"`
}

// ResearchRequest starts a research run.
type ResearchRequest struct {
	Query   string   `json:"query" minLength:"1" doc:"Research question"`
	Mode    string   `json:"mode,omitempty" doc:"quick or deep, defaults to quick"`
	Answers []string `json:"answers,omitempty" doc:"Answers to clarifying questions"`
	Wait    bool     `json:"wait,omitempty" doc:"Block until the run finishes"`
}

// ResearchResponse is the state of a run: terminal when the caller waited,
// accepted otherwise.
type ResearchResponse struct {
	RunID           string               `json:"run_id"`
	State           pipeline.State       `json:"state"`
	SavedReportID   string               `json:"saved_report_id,omitempty"`
	Confidence      float64              `json:"confidence"`
	ConfidenceLabel confidence.Label     `json:"confidence_label,omitempty"`
	Report          *model.Report        `json:"report,omitempty"`
	Sources         []model.Source       `json:"sources,omitempty"`
	Clarification   *model.Clarification `json:"clarification,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// RunsResponse lists runs in progress.
type RunsResponse struct {
	Active []string `json:"active"`
}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	RunID   string `json:"run_id"`
	Stopped bool   `json:"stopped"`
}

// ReportDetail is a report with its sources.
type ReportDetail struct {
	Report  *model.Report  `json:"report"`
	Sources []model.Source `json:"sources"`
}

type handlers struct {
	cfg Config
}

func registerHealth(api huma.API, st store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse
	}, error) {
		resp := HealthResponse{Status: "ok", Store: "none"}
		if st != nil {
			if err := st.Ping(ctx); err != nil {
				zap.L().Warn("server: store ping failed", zap.Error(err))
				return nil, huma.Error503ServiceUnavailable("store unavailable")
			}
			resp.Store = "ok"
		}
		return &struct {
			Body HealthResponse
		}{Body: resp}, nil
	})
}

func registerModes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-modes",
		Method:      http.MethodGet,
		Path:        "/modes",
		Summary:     "List research modes",
	}, func(_ context.Context, _ *struct{}) (*struct {
		Body []ModeResponse
	}, error) {
		var out []ModeResponse
		for _, m := range model.Modes() {
			c := m.Config()
			out = append(out, ModeResponse{
				Mode:           c.Mode,
				MinSources:     c.MinSources,
				MaxSources:     c.MaxSources,
				HardCapSources: c.HardCapSources,
				TargetSeconds:  int(c.TargetDuration.Seconds()),
			})
		}
		return &struct {
			Body []ModeResponse
		}{Body: out}, nil
	})
}

func registerResearch(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-research",
		Method:        http.MethodPost,
		Path:          "/research",
		Summary:       "Run research",
		Description:   "Starts a research run. With wait set the response carries the finished run, otherwise 202 with the run id.",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ResearchRequest
	}) (*struct {
		Status int
		Body   ResearchResponse
	}, error) {
		if h.cfg.Runner == nil {
			return nil, huma.Error503ServiceUnavailable("research is not configured")
		}
		req, err := h.request(input.Body)
		if err != nil {
			return nil, err
		}

		if !input.Body.Wait {
			ctl := h.cfg.Registry.Start(req.ID)
			go h.runBackground(req, ctl)
			return &struct {
				Status int
				Body   ResearchResponse
			}{Status: http.StatusAccepted, Body: ResearchResponse{RunID: req.ID, State: pipeline.StateInit}}, nil
		}

		out, err := h.runAttached(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   ResearchResponse
		}{Status: http.StatusOK, Body: researchResponse(out)}, nil
	})
}

// request validates the body and assigns the run id.
func (h *handlers) request(body ResearchRequest) (pipeline.Request, error) {
	if strings.TrimSpace(body.Query) == "" {
		return pipeline.Request{}, handleError(model.NewValidationError("query", "is required"))
	}
	mode := model.ModeQuick
	if body.Mode != "" {
		m, err := model.ParseMode(body.Mode)
		if err != nil {
			return pipeline.Request{}, handleError(err)
		}
		mode = m
	}
	return pipeline.Request{
		ID:      h.cfg.NewID(),
		Query:   body.Query,
		Mode:    mode,
		Answers: body.Answers,
	}, nil
}

func (h *handlers) runBackground(req pipeline.Request, ctl *cancellation.Controller) {
	defer h.cfg.Registry.Finish(req.ID)
	log := zap.L().With(zap.String("run_id", req.ID))

	out, err := h.cfg.Runner.Run(h.cfg.BaseContext, req, ctl)
	if err != nil {
		log.Error("server: research run rejected", zap.Error(err))
		return
	}
	log.Info("server: research run finished", zap.String("state", string(out.State)))
}

// runAttached runs in the foreground; a disconnecting client stops the run at
// its next checkpoint.
func (h *handlers) runAttached(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	ctl := h.cfg.Registry.Start(req.ID)
	defer h.cfg.Registry.Finish(req.ID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ctl.Stop("client disconnected")
		case <-done:
		}
	}()

	return h.cfg.Runner.Run(h.cfg.BaseContext, req, ctl)
}

func researchResponse(out *pipeline.Outcome) ResearchResponse {
	resp := ResearchResponse{
		RunID:           out.ReportID,
		State:           out.State,
		SavedReportID:   out.SavedReportID,
		Confidence:      out.Confidence.Score,
		ConfidenceLabel: out.Confidence.Label,
		Report:          out.Report,
		Sources:         out.Sources,
		Clarification:   out.Clarification,
	}
	if out.Report != nil && out.State == pipeline.StateError {
		resp.Confidence = out.Report.ConfidenceScore
		resp.ConfidenceLabel = confidence.LabelFor(out.Report.ConfidenceScore)
	}
	if out.Failure != nil {
		resp.Error = out.Failure.Error()
	}
	return resp
}

func registerRuns(api huma.API, reg *cancellation.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs in progress",
	}, func(_ context.Context, _ *struct{}) (*struct {
		Body RunsResponse
	}, error) {
		return &struct {
			Body RunsResponse
		}{Body: RunsResponse{Active: reg.Active()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/stop",
		Summary:     "Stop a run at its next checkpoint",
		Errors:      []int{http.StatusNotFound},
	}, func(_ context.Context, input *struct {
		RunID  string `path:"run_id"`
		Reason string `query:"reason"`
	}) (*struct {
		Body StopResponse
	}, error) {
		reason := input.Reason
		if reason == "" {
			reason = "stopped via api"
		}
		if !reg.Stop(input.RunID, reason) {
			return nil, huma.Error404NotFound("run not in progress")
		}
		zap.L().Info("server: stop requested", zap.String("run_id", input.RunID), zap.String("reason", reason))
		return &struct {
			Body StopResponse
		}{Body: StopResponse{RunID: input.RunID, Stopped: true}}, nil
	})
}

type reportPath struct {
	ID string `path:"id" doc:"Report id"`
}

func registerReports(api huma.API, st store.Store) {
	if st == nil {
		return
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []model.Report
	}, error) {
		return &struct {
			Body []model.Report
		}{Body: st.GetAllReports(ctx, input.Limit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get a report with its sources",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ReportDetail
	}, error) {
		r := st.GetReport(ctx, input.ID)
		if r == nil {
			return nil, huma.Error404NotFound("report not found")
		}
		return &struct {
			Body ReportDetail
		}{Body: ReportDetail{Report: r, Sources: st.GetSourcesForReport(ctx, r.ID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report-markdown",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/markdown",
		Summary:     "Render a report as markdown",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		r := st.GetReport(ctx, input.ID)
		if r == nil {
			return nil, huma.Error404NotFound("report not found")
		}
		md := export.RenderMarkdown(r, st.GetSourcesForReport(ctx, r.ID))
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/markdown; charset=utf-8", Body: []byte(md)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-sources",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/sources",
		Summary:     "List sources of a report",
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body []model.Source
	}, error) {
		return &struct {
			Body []model.Source
		}{Body: st.GetSourcesForReport(ctx, input.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-logs",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/logs",
		Summary:     "List pipeline logs of a run",
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body []model.LogEntry
	}, error) {
		return &struct {
			Body []model.LogEntry
		}{Body: st.GetLogsForReport(ctx, input.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-report",
		Method:        http.MethodDelete,
		Path:          "/reports/{id}",
		Summary:       "Delete a report and its sources",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *reportPath) (*struct{}, error) {
		deleted, err := st.DeleteReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !deleted {
			return nil, huma.Error404NotFound("report not found")
		}
		return nil, nil
	})
}

func handleError(err error) error {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return huma.Error400BadRequest(ve.Error())
	}
	var se *store.StorageError
	if errors.As(err, &se) {
		zap.L().Error("server: storage failure", zap.Error(err))
		return huma.Error500InternalServerError("storage failure")
	}
	zap.L().Error("server: request failed", zap.Error(err))
	return huma.Error500InternalServerError("internal error")
}
