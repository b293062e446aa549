package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/config"
	"github.com/max-solo23/deeptrace/internal/export"
	"github.com/max-solo23/deeptrace/internal/pipeline"
	"github.com/max-solo23/deeptrace/internal/research"
	"github.com/max-solo23/deeptrace/internal/resilience"
	"github.com/max-solo23/deeptrace/internal/store"
	anthropicpkg "github.com/max-solo23/deeptrace/pkg/anthropic"
	"github.com/max-solo23/deeptrace/pkg/jina"
	"github.com/max-solo23/deeptrace/pkg/notion"
	"github.com/max-solo23/deeptrace/pkg/perplexity"
)

// researchEnv holds the store, collaborators and exporters needed by the
// research, serve and mcp commands.
type researchEnv struct {
	Store     store.Store
	Registry  *cancellation.Registry
	Planner   pipeline.Planner
	Clarifier pipeline.Clarifier // nil unless research.clarify is set
	Searcher  pipeline.Searcher
	Writer    pipeline.Writer
	Exporters []pipeline.Exporter
	Config    pipeline.Config
}

// Close releases resources held by the environment.
func (e *researchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Pipeline builds a pipeline over the environment's collaborators. Extra
// options are applied last.
func (e *researchEnv) Pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	base := []pipeline.Option{
		pipeline.WithConfig(e.Config),
		pipeline.WithExporters(e.Exporters...),
	}
	if e.Clarifier != nil {
		base = append(base, pipeline.WithClarifier(e.Clarifier))
	}
	return pipeline.New(e.Planner, e.Searcher, e.Writer, e.Store, append(base, opts...)...)
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "deeptrace.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initResearch validates the config for mode, opens the store and builds
// every collaborator. Callers should defer env.Close().
func initResearch(ctx context.Context, mode string) (*researchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	exporters, err := buildExporters(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	env := &researchEnv{
		Store:     st,
		Registry:  cancellation.NewRegistry(),
		Planner:   research.NewPlanner(anthropicClient, research.WithModel(cfg.Anthropic.PlannerModel)),
		Searcher:  buildSearcher(cfg),
		Writer:    research.NewWriter(anthropicClient, research.WithModel(cfg.Anthropic.WriterModel)),
		Exporters: exporters,
		Config:    pipelineConfig(cfg.Research),
	}
	if cfg.Research.Clarify {
		env.Clarifier = research.NewClarifier(anthropicClient, research.WithModel(cfg.Anthropic.ClarifierModel))
	}

	zap.L().Debug("research environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("exporters", len(exporters)),
		zap.Bool("clarify", cfg.Research.Clarify),
	)
	return env, nil
}

// buildSearcher chains the configured search providers, Perplexity first.
func buildSearcher(c *config.Config) *research.FallbackSearcher {
	var providers []research.Provider
	if c.Perplexity.Key != "" {
		client := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		)
		providers = append(providers, research.Provider{
			Name:     "perplexity",
			Searcher: research.NewPerplexitySearcher(client, c.Perplexity.Model),
		})
	}
	if c.Jina.Key != "" {
		var opts []jina.Option
		if c.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
		}
		providers = append(providers, research.Provider{
			Name:     "jina",
			Searcher: research.NewJinaSearcher(jina.NewClient(c.Jina.Key, opts...), c.Jina.MaxResults),
		})
	}
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(c.Research.BreakerThreshold, c.Research.BreakerCooldownSecs))
	return research.NewFallbackSearcher(breakers, providers...)
}

// buildExporters creates one file exporter per configured format, plus
// Notion and email delivery when configured.
func buildExporters(c *config.Config) ([]pipeline.Exporter, error) {
	var out []pipeline.Exporter
	seen := make(map[export.Format]bool)
	for _, name := range c.Export.Formats {
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		if f == export.FormatXLSX {
			out = append(out, export.NewXLSXExporter(c.Export.Dir))
			continue
		}
		out = append(out, export.NewFileExporter(c.Export.Dir, f))
	}

	if c.Notion.Token != "" && c.Notion.ReportDB != "" {
		client := notion.NewClient(c.Notion.Token, notion.WithRateLimit(c.Notion.RateLimit))
		out = append(out, export.NewNotionExporter(client, c.Notion.ReportDB))
	}

	email := export.EmailConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
		To:       c.Email.To,
		Subject:  c.Email.Subject,
	}
	if email.Configured() {
		out = append(out, export.NewEmailExporter(email))
	}
	return out, nil
}

// pipelineConfig overlays the configured limits on the stage presets.
func pipelineConfig(rc config.ResearchConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	if d := rc.SearchTimeout(); d > 0 {
		pc.SearchTimeout = d
	}
	if rc.Concurrency > 0 {
		pc.Concurrency = rc.Concurrency
	}
	pc.RateLimit = rc.RateLimit
	pc.PlanningRetry = retryFrom(pc.PlanningRetry, rc.Planning)
	pc.SearchRetry = retryFrom(pc.SearchRetry, rc.Search)
	pc.WritingRetry = retryFrom(pc.WritingRetry, rc.Writing)
	return pc
}

func retryFrom(preset resilience.RetryConfig, rc config.RetryConfig) resilience.RetryConfig {
	return resilience.FromRetryConfig(preset,
		rc.MaxAttempts,
		int(rc.InitialBackoff.Milliseconds()),
		int(rc.MaxBackoff.Milliseconds()),
	)
}
