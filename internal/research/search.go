package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/resilience"
	"github.com/max-solo23/deeptrace/pkg/jina"
	"github.com/max-solo23/deeptrace/pkg/perplexity"
)

// ErrNoResults is returned when a provider answered but found nothing.
var ErrNoResults = eris.New("research: search returned no results")

// Searcher runs one planned search.
type Searcher interface {
	Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error)
}

const searchSystemPrompt = `You are a research assistant. Search the web for the given term and
produce a concise summary of the results: 2 or 3 paragraphs, under 300 words.
Capture the main points and skip fluff. Write succinctly; this summary feeds a
report writer.`

// PerplexitySearcher answers a search with Perplexity's online models and
// keeps the web results the answer cites.
type PerplexitySearcher struct {
	client perplexity.Client
	model  string
}

// NewPerplexitySearcher creates a PerplexitySearcher. An empty model uses the
// client default.
func NewPerplexitySearcher(client perplexity.Client, model string) *PerplexitySearcher {
	return &PerplexitySearcher{client: client, model: model}
}

// Search implements Searcher.
func (s *PerplexitySearcher) Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error) {
	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: s.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: searchInput(item)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "research: perplexity search %q", item.Query)
	}

	summary := strings.TrimSpace(resp.Content())
	if summary == "" {
		return nil, resilience.Permanent(eris.Wrapf(ErrNoResults, "perplexity search %q", item.Query))
	}

	var sources []model.Source
	if len(resp.SearchResults) > 0 {
		for _, r := range resp.SearchResults {
			if src, ok := NewSource(r.URL, r.Title, r.Date); ok {
				sources = append(sources, src)
			}
		}
	} else {
		for _, c := range resp.Citations {
			if src, ok := NewSource(c, "", ""); ok {
				sources = append(sources, src)
			}
		}
	}

	return &model.SearchResult{Item: item, Summary: summary, Sources: sources}, nil
}

// JinaSearcher runs a plain web search and summarizes the top hits
// extractively.
type JinaSearcher struct {
	client     jina.Client
	maxResults int
}

// NewJinaSearcher creates a JinaSearcher keeping at most maxResults hits.
func NewJinaSearcher(client jina.Client, maxResults int) *JinaSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &JinaSearcher{client: client, maxResults: maxResults}
}

// Search implements Searcher.
func (s *JinaSearcher) Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error) {
	resp, err := s.client.Search(ctx, item.Query)
	if err != nil {
		return nil, eris.Wrapf(err, "research: jina search %q", item.Query)
	}

	var (
		sources []model.Source
		b       strings.Builder
	)
	for _, hit := range resp.Data {
		if len(sources) == s.maxResults {
			break
		}
		src, ok := NewSource(hit.URL, hit.Title, hit.Date)
		if !ok {
			continue
		}
		sources = append(sources, src)

		text := strings.TrimSpace(hit.Description)
		if text == "" {
			text = truncate(strings.TrimSpace(hit.Content), 600)
		}
		fmt.Fprintf(&b, "%s: %s\n\n", hit.Title, text)
	}
	if len(sources) == 0 {
		return nil, resilience.Permanent(eris.Wrapf(ErrNoResults, "jina search %q", item.Query))
	}

	return &model.SearchResult{Item: item, Summary: strings.TrimSpace(b.String()), Sources: sources}, nil
}

// Provider is a named searcher for the fallback chain.
type Provider struct {
	Name     string
	Searcher Searcher
}

// FallbackSearcher tries providers in order, skipping any whose circuit is
// open, and returns the first success.
type FallbackSearcher struct {
	providers []Provider
	breakers  *resilience.ServiceBreakers
}

// NewFallbackSearcher creates a FallbackSearcher. A nil breakers registry
// uses the default breaker configuration.
func NewFallbackSearcher(breakers *resilience.ServiceBreakers, providers ...Provider) *FallbackSearcher {
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &FallbackSearcher{providers: providers, breakers: breakers}
}

// Search implements Searcher. The error of the last provider tried is
// returned when all fail; it stays retryable unless every provider failed
// permanently.
func (f *FallbackSearcher) Search(ctx context.Context, item model.SearchItem) (*model.SearchResult, error) {
	if len(f.providers) == 0 {
		return nil, resilience.Permanent(eris.New("research: no search providers configured"))
	}

	var lastErr error
	allPermanent := true
	for _, p := range f.providers {
		// An empty answer is not a provider fault and must not trip the breaker.
		var empty error
		res, err := resilience.ExecuteVal(ctx, f.breakers.Get(p.Name), func(ctx context.Context) (*model.SearchResult, error) {
			r, err := p.Searcher.Search(ctx, item)
			if errors.Is(err, ErrNoResults) {
				empty = err
				return nil, nil
			}
			return r, err
		})
		if empty != nil {
			err = empty
		}
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zap.L().Debug("research: provider failed, trying next",
			zap.String("provider", p.Name),
			zap.String("search", item.Query),
			zap.Bool("transient", resilience.IsTransient(err)),
			zap.Error(err),
		)
		lastErr = err
		if resilience.IsRetryable(err) {
			allPermanent = false
		}
	}

	if allPermanent {
		return nil, lastErr
	}
	var pe *resilience.PermanentError
	if errors.As(lastErr, &pe) {
		return nil, pe.Err
	}
	return nil, lastErr
}

func searchInput(item model.SearchItem) string {
	if item.Reason == "" {
		return "Search term: " + item.Query
	}
	return fmt.Sprintf("Search term: %s\nReason for searching: %s", item.Query, item.Reason)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
