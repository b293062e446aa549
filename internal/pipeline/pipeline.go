// Package pipeline orchestrates a research run: clarify, plan, search,
// write, persist and export, with cooperative cancellation between stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/errreport"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/resilience"
	"github.com/max-solo23/deeptrace/internal/store"
	"github.com/max-solo23/deeptrace/internal/taskpool"
)

// State is a stage of the run state machine.
type State string

const (
	StateInit    State = "init"
	StateClarify State = "clarify"
	StatePlan    State = "plan"
	StateSearch  State = "search"
	StateWrite   State = "write"
	StatePersist State = "persist"
	StateExport  State = "export"
	StateDone    State = "done"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// DefaultSearchTimeout bounds a single search attempt.
const DefaultSearchTimeout = 60 * time.Second

// Config tunes the run. Zero values fall back to DefaultConfig.
type Config struct {
	SearchTimeout time.Duration
	Concurrency   int     // in-flight searches, zero means the hard source cap
	RateLimit     float64 // search dispatches per second, zero disables throttling
	PlanningRetry resilience.RetryConfig
	SearchRetry   resilience.RetryConfig
	WritingRetry  resilience.RetryConfig
}

// DefaultConfig returns the stage retry presets and the default search timeout.
func DefaultConfig() Config {
	return Config{
		SearchTimeout: DefaultSearchTimeout,
		Concurrency:   model.HardCapSources,
		PlanningRetry: resilience.PlanningRetry(),
		SearchRetry:   resilience.SearchRetry(),
		WritingRetry:  resilience.WritingRetry(),
	}
}

// Request is the input of one run.
type Request struct {
	// ID preassigns the run and report id; one is generated when empty.
	ID    string
	Query string
	// Mode defaults to quick when empty.
	Mode model.Mode
	// Answers to clarifying questions, when the caller collected them up front.
	Answers []string
}

// ExportResult records the outcome of one exporter.
type ExportResult struct {
	Target string `json:"target,omitempty"`
	Err    error  `json:"-"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State         State                `json:"state"`
	ReportID      string               `json:"report_id"`
	Query         string               `json:"query"`
	Mode          model.Mode           `json:"mode"`
	Report        *model.Report        `json:"report,omitempty"`
	Sources       []model.Source       `json:"sources,omitempty"`
	Clarification *model.Clarification `json:"clarification,omitempty"`
	Confidence    confidence.Result    `json:"confidence"`
	Timings       Timings              `json:"timings"`
	SavedReportID string               `json:"saved_report_id,omitempty"`
	Exports       []ExportResult       `json:"exports,omitempty"`
	Failure       *StageFailure        `json:"-"`
}

// Pipeline runs research requests against a fixed set of collaborators.
type Pipeline struct {
	planner   Planner
	searcher  Searcher
	writer    Writer
	store     store.Store
	clarifier Clarifier
	answer    ClarificationHandler
	exporters []Exporter
	events    chan<- model.Event
	cfg       Config
	now       func() time.Time
	newID     func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClarifier enables the clarify stage.
func WithClarifier(c Clarifier) Option {
	return func(p *Pipeline) { p.clarifier = c }
}

// WithClarificationHandler lets an interactive caller answer clarifying questions.
func WithClarificationHandler(h ClarificationHandler) Option {
	return func(p *Pipeline) { p.answer = h }
}

// WithExporters appends exporters run after persistence.
func WithExporters(exporters ...Exporter) Option {
	return func(p *Pipeline) { p.exporters = append(p.exporters, exporters...) }
}

// WithEvents sends status events to ch. Sends never block; a full channel
// drops the event.
func WithEvents(ch chan<- model.Event) Option {
	return func(p *Pipeline) { p.events = ch }
}

// WithConfig overrides the run configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithReportID fixes the id of the next runs. Used by outer surfaces that
// hand the id out before the run starts.
func WithReportID(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline. The store may be nil, in which case nothing is
// persisted.
func New(planner Planner, searcher Searcher, writer Writer, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		planner:  planner,
		searcher: searcher,
		writer:   writer,
		store:    st,
		cfg:      DefaultConfig(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.SearchTimeout <= 0 {
		p.cfg.SearchTimeout = DefaultSearchTimeout
	}
	if p.cfg.Concurrency <= 0 {
		p.cfg.Concurrency = model.HardCapSources
	}
	return p
}

// Run executes one research request. The only error returned is a
// *model.ValidationError for a malformed request; every other failure is
// reported through the Outcome state and its error report.
func (p *Pipeline) Run(ctx context.Context, req Request, ctl *cancellation.Controller) (*Outcome, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, model.NewValidationError("query", "is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeQuick
	}
	if !mode.Valid() {
		return nil, model.NewValidationError("mode", "must be one of quick, deep")
	}

	reportID := strings.TrimSpace(req.ID)
	if reportID == "" {
		reportID = p.newID()
	}
	log := zap.L().With(
		zap.String("report_id", reportID),
		zap.String("mode", string(mode)),
	)
	log.Info("pipeline: starting research", zap.String("query", query))

	r := &run{
		p:     p,
		ctl:   ctl,
		log:   log,
		cfg:   mode.Config(),
		query: query,
		ev: &emitter{
			ch:       p.events,
			store:    p.store,
			reportID: reportID,
			log:      log,
			now:      p.now,
		},
		out: &Outcome{
			State:    StateInit,
			ReportID: reportID,
			Query:    query,
			Mode:     mode,
		},
	}
	r.tr = newTracker(log, r.cfg.TargetDuration, p.now)

	r.execute(ctx, req.Answers)
	r.out.Timings = r.tr.finish()

	log.Info("pipeline: research finished",
		zap.String("state", string(r.out.State)),
		zap.Duration("total", r.out.Timings.Total),
	)
	return r.out, nil
}

// run holds the state of one Run call.
type run struct {
	p     *Pipeline
	ctl   *cancellation.Controller
	log   *zap.Logger
	ev    *emitter
	tr    *tracker
	cfg   model.ModeConfig
	query string
	out   *Outcome
}

func (r *run) execute(ctx context.Context, answers []string) {
	defer func() {
		if v := recover(); v != nil {
			r.failWith(ctx, r.out.State, errreport.ClassUnexpected, &PanicError{Value: v}, nil)
		}
	}()

	r.ev.running(ctx, StateInit, msgStarting(r.out.Mode))

	if r.p.clarifier != nil {
		if r.checkpoint(ctx, StateClarify) {
			return
		}
		_ = r.tr.track(StateClarify, func() error { return r.clarify(ctx, answers) })
	}

	if r.checkpoint(ctx, StatePlan) {
		return
	}
	var items []model.SearchItem
	err := r.tr.track(StatePlan, func() (err error) {
		items, err = r.plan(ctx)
		return err
	})
	if err != nil {
		return
	}

	if r.checkpoint(ctx, StateSearch) {
		return
	}
	var results []model.SearchResult
	err = r.tr.track(StateSearch, func() (err error) {
		results, err = r.search(ctx, items)
		return err
	})
	if err != nil {
		return
	}

	if r.checkpoint(ctx, StateWrite) {
		return
	}
	if r.tr.track(StateWrite, func() error { return r.write(ctx, results) }) != nil {
		return
	}

	if r.checkpoint(ctx, StatePersist) {
		return
	}
	_ = r.tr.track(StatePersist, func() error { return r.persist(ctx) })

	if r.checkpoint(ctx, StateExport) {
		return
	}
	failed := 0
	_ = r.tr.track(StateExport, func() error {
		failed = r.export(ctx)
		return nil
	})

	r.out.State = StateDone
	if failed > 0 {
		r.ev.ok(ctx, StateDone, msgCompleteNoExport)
	} else {
		r.ev.ok(ctx, StateDone, msgComplete)
	}
}

// checkpoint consults the controller before entering next. It returns true
// when the run has been stopped.
func (r *run) checkpoint(ctx context.Context, next State) bool {
	if !r.ctl.Stopped() && ctx.Err() == nil {
		r.out.State = next
		return false
	}
	r.stop(ctx, next)
	return true
}

func (r *run) stop(ctx context.Context, at State) {
	reason := r.ctl.Reason()
	if reason == "" && ctx.Err() != nil {
		reason = ctx.Err().Error()
	}
	fields := []zap.Field{
		zap.String("at", string(at)),
		zap.String("reason", reason),
		zap.Bool("saved", r.out.SavedReportID != ""),
	}
	if ts := r.ctl.StoppedAt(); !ts.IsZero() {
		fields = append(fields, zap.Duration("stop_latency", r.p.now().Sub(ts)))
	}
	r.log.Info("pipeline: research stopped", fields...)
	r.out.State = StateStopped
	r.ev.warn(context.WithoutCancel(ctx), StateStopped, msgStopped(at, r.out.SavedReportID))
}

// failWith ends the run in the Error state with a generated error report.
func (r *run) failWith(ctx context.Context, stage State, class errreport.Class, err error, partial []model.SearchResult) {
	f := errreport.Failure{
		Class:   class,
		Query:   r.query,
		Mode:    r.out.Mode,
		Err:     err,
		Partial: partial,
	}
	rep := errreport.Generate(f)
	rep.ID = r.out.ReportID
	rep.CreatedAt = r.p.now().UTC()

	r.out.State = StateError
	r.out.Report = &rep
	r.out.Confidence = confidence.Result{Score: rep.ConfidenceScore, Label: confidence.LabelFor(rep.ConfidenceScore)}
	r.out.Failure = &StageFailure{Stage: stage, Class: class, Err: err}

	r.log.Error("pipeline: research failed",
		zap.String("stage", string(stage)),
		zap.String("class", string(class)),
		zap.Int("partial_results", len(partial)),
		zap.Error(err),
	)

	var msg string
	switch class {
	case errreport.ClassPlanning:
		msg = msgPlanningFailed
	case errreport.ClassAllSearchesFailed:
		msg = msgAllFailed
	case errreport.ClassWriting:
		msg = msgWritingFailed
	default:
		msg = "Unexpected error occurred: " + strings.TrimPrefix(f.Message(), "Unexpected system error: ")
	}
	r.ev.fail(ctx, stage, msg)
}

func (r *run) clarify(ctx context.Context, answers []string) error {
	clar, err := guard(func() (*model.Clarification, error) {
		return r.p.clarifier.Classify(ctx, r.query)
	})
	if err != nil {
		r.log.Warn("pipeline: clarifier failed, continuing with original query", zap.Error(err))
		return err
	}
	if clar == nil || !clar.NeedsClarification || len(clar.Questions) == 0 {
		return nil
	}
	r.out.Clarification = clar

	if len(answers) == 0 && r.p.answer != nil {
		answers, err = guard(func() ([]string, error) { return r.p.answer(ctx, clar.Questions) })
		if err != nil {
			r.log.Warn("pipeline: clarification handler failed", zap.Error(err))
			answers = nil
		}
	}
	if len(nonEmpty(answers)) == 0 {
		r.ev.warn(ctx, StateClarify, msgNeedsClarification(clar.Questions))
		return nil
	}

	r.query = refineQuery(r.query, clar.Questions, answers)
	r.out.Query = r.query
	r.ev.ok(ctx, StateClarify, msgClarified)
	return nil
}

// refineQuery folds clarification answers into the query text.
func refineQuery(query string, questions, answers []string) string {
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\nClarifications:")
	for i, a := range answers {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if i < len(questions) {
			fmt.Fprintf(&b, "\n- %s %s", strings.TrimSpace(questions[i]), a)
		} else {
			fmt.Fprintf(&b, "\n- %s", a)
		}
	}
	return b.String()
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *run) plan(ctx context.Context) ([]model.SearchItem, error) {
	r.ev.running(ctx, StatePlan, msgPlanning)

	cfg := r.p.cfg.PlanningRetry
	cfg.Stopped = r.ctl.Stopped
	cfg.OnRetry = resilience.RetryLogger(string(StatePlan), "plan")

	items, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.SearchItem, error) {
		return guard(func() ([]model.SearchItem, error) {
			return r.p.planner.Plan(ctx, r.query, r.out.Mode)
		})
	})
	if err != nil && (errors.Is(err, resilience.ErrStopped) || r.ctl.Stopped()) {
		r.stop(ctx, StatePlan)
		return nil, err
	}
	if err == nil {
		items = validItems(items)
		if len(items) == 0 {
			err = eris.New("pipeline: planner returned an empty plan")
		}
	}
	if err != nil {
		r.failWith(ctx, StatePlan, classify(err, errreport.ClassPlanning), err, nil)
		return nil, err
	}

	planned := len(items)
	n, belowMin := r.cfg.ClampSourceCount(planned)
	if n < planned {
		r.log.Info("pipeline: truncating plan", zap.Int("planned", planned), zap.Int("kept", n))
		items = items[:n]
	}
	r.ev.ok(ctx, StatePlan, msgPlanned(len(items)))
	if belowMin {
		r.ev.warn(ctx, StatePlan, msgBelowMinimum(len(items), r.cfg))
	}
	return items, nil
}

func validItems(items []model.SearchItem) []model.SearchItem {
	out := make([]model.SearchItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Query) != "" {
			out = append(out, it)
		}
	}
	return out
}

func (r *run) search(ctx context.Context, items []model.SearchItem) ([]model.SearchResult, error) {
	n := len(items)
	r.ev.running(ctx, StateSearch, fmt.Sprintf("Running %d searches...", n))

	retry := r.p.cfg.SearchRetry
	retry.OnRetry = resilience.RetryLogger(string(StateSearch), "search")

	var limiter *rate.Limiter
	if r.p.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.p.cfg.RateLimit), 1)
	}

	pool := taskpool.New(taskpool.Options[model.SearchItem, *model.SearchResult]{
		Limit:       r.p.cfg.Concurrency,
		Limiter:     limiter,
		Retry:       retry,
		TaskTimeout: r.p.cfg.SearchTimeout,
		Controller:  r.ctl,
		OnComplete: func(res taskpool.Result[model.SearchItem, *model.SearchResult], done, succeeded int) {
			if res.OK {
				r.ev.ok(ctx, StateSearch, msgSearchDone(done, n, succeeded))
				return
			}
			r.log.Warn("pipeline: search failed",
				zap.String("search", res.Item.Query),
				zap.Error(res.Err),
			)
			r.ev.warn(ctx, StateSearch, msgSearchFailed(done, n))
		},
	})

	taskResults := pool.Run(ctx, items, func(ctx context.Context, item model.SearchItem) (*model.SearchResult, error) {
		res, err := guard(func() (*model.SearchResult, error) { return r.p.searcher.Search(ctx, item) })
		if err == nil && res == nil {
			err = resilience.Permanent(eris.Errorf("pipeline: no result for search %q", item.Query))
		}
		return res, err
	})

	if r.ctl.Stopped() || ctx.Err() != nil {
		r.stop(ctx, StateSearch)
		return nil, resilience.ErrStopped
	}

	var results []model.SearchResult
	for _, res := range taskpool.Succeeded(taskResults) {
		if res.Item.Query == "" {
			res.Item = itemFor(taskResults, res)
		}
		results = append(results, *res)
	}
	if len(results) == 0 {
		err := lastErr(taskResults)
		r.failWith(ctx, StateSearch, errreport.ClassAllSearchesFailed, err, nil)
		return nil, err
	}

	r.ev.ok(ctx, StateSearch, msgSearchesComplete(len(results), n))
	return results, nil
}

// itemFor finds the planned item a result came from.
func itemFor(results []taskpool.Result[model.SearchItem, *model.SearchResult], v *model.SearchResult) model.SearchItem {
	for _, r := range results {
		if r.Value == v {
			return r.Item
		}
	}
	return model.SearchItem{}
}

func lastErr(results []taskpool.Result[model.SearchItem, *model.SearchResult]) error {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Err != nil {
			return results[i].Err
		}
	}
	return eris.New("pipeline: no search succeeded")
}

func (r *run) write(ctx context.Context, results []model.SearchResult) error {
	r.ev.running(ctx, StateWrite, msgWriting)

	cfg := r.p.cfg.WritingRetry
	cfg.Stopped = r.ctl.Stopped
	cfg.OnRetry = resilience.RetryLogger(string(StateWrite), "synthesize")

	draft, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ReportDraft, error) {
		d, err := guard(func() (*model.ReportDraft, error) {
			return r.p.writer.Synthesize(ctx, r.query, results)
		})
		if err == nil && d == nil {
			err = resilience.Permanent(eris.New("pipeline: writer returned no draft"))
		}
		return d, err
	})
	if err != nil && (errors.Is(err, resilience.ErrStopped) || r.ctl.Stopped()) {
		r.stop(ctx, StateWrite)
		return err
	}

	var report model.Report
	if err == nil {
		report = draft.ToReport(r.query, r.out.Mode)
		if verr := report.Validate(); verr != nil {
			err = eris.Wrap(verr, "pipeline: writer returned an incomplete report")
		}
	}
	if err != nil {
		r.failWith(ctx, StateWrite, classify(err, errreport.ClassWriting), err, results)
		return err
	}

	sources := collectSources(results, r.out.ReportID)
	conf := confidence.ForSources(sources, r.out.Mode, len(draft.Contradictions))

	report.ID = r.out.ReportID
	report.ConfidenceScore = conf.Score
	report.CreatedAt = r.p.now().UTC()

	r.out.Report = &report
	r.out.Sources = sources
	r.out.Confidence = conf
	r.ev.ok(ctx, StateWrite, msgReportWritten(conf))
	return nil
}

// collectSources flattens the sources of all results, keeping the first
// occurrence of each URL, up to the hard cap.
func collectSources(results []model.SearchResult, reportID string) []model.Source {
	seen := make(map[string]struct{})
	sources := make([]model.Source, 0)
	for _, res := range results {
		for _, src := range res.Sources {
			key := strings.TrimRight(strings.TrimSpace(src.URL), "/")
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			src.ID = ""
			src.ReportID = reportID
			if !src.SourceType.Valid() {
				src.SourceType = model.SourceUnknown
			}
			sources = append(sources, src)
			if len(sources) == model.HardCapSources {
				return sources
			}
		}
	}
	return sources
}

func (r *run) persist(ctx context.Context) error {
	if r.p.store == nil {
		r.log.Debug("pipeline: no store configured, skipping persistence")
		return nil
	}

	id, err := r.p.store.SaveReport(ctx, r.out.Report)
	if err != nil {
		r.log.Error("pipeline: failed to save report", zap.Error(err))
		r.ev.warn(ctx, StatePersist, "Database save failed: "+err.Error())
		return err
	}
	r.out.SavedReportID = id

	var failed int
	for i := range r.out.Sources {
		if _, err := r.p.store.SaveSource(ctx, &r.out.Sources[i]); err != nil {
			failed++
			r.log.Warn("pipeline: failed to save source",
				zap.String("url", r.out.Sources[i].URL),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		r.ev.warn(ctx, StatePersist, fmt.Sprintf("%d of %d sources could not be saved", failed, len(r.out.Sources)))
	}
	r.ev.ok(ctx, StatePersist, msgSaved(id))
	return nil
}

// export runs every exporter and returns how many failed.
func (r *run) export(ctx context.Context) int {
	var failed int
	for _, x := range r.p.exporters {
		target, err := guard(func() (string, error) { return x.Export(ctx, r.out.Report, r.out.Sources) })
		r.out.Exports = append(r.out.Exports, ExportResult{Target: target, Err: err})
		switch {
		case err != nil:
			failed++
			r.log.Warn("pipeline: export failed", zap.String("exporter", exporterName(x)), zap.Error(err))
			r.ev.warn(ctx, StateExport, "Export failed: "+err.Error())
		case target != "":
			r.ev.ok(ctx, StateExport, "Exported to "+target)
		}
	}
	return failed
}

func exporterName(x Exporter) string {
	if n, ok := x.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", x)
}

// classify maps a collaborator error to an error report class; recovered
// panics are unexpected regardless of the stage.
func classify(err error, stageClass errreport.Class) errreport.Class {
	var pe *PanicError
	if errors.As(err, &pe) {
		return errreport.ClassUnexpected
	}
	return stageClass
}
