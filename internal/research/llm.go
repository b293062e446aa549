// Package research implements the collaborators of a research run: the LLM
// planner, clarifier and writer, the web searchers and source classification.
package research

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/max-solo23/deeptrace/pkg/anthropic"
)

// InfoNotAvailable marks a report section the writer could not fill.
const InfoNotAvailable = "[Information not available]"

// LLMOption configures an LLM-backed collaborator.
type LLMOption func(*llm)

// WithModel sets the Anthropic model.
func WithModel(model string) LLMOption {
	return func(l *llm) {
		if model != "" {
			l.model = model
		}
	}
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int64) LLMOption {
	return func(l *llm) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// llm is the shared call path of the planner, clarifier and writer.
type llm struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	stage     string
}

func newLLM(client anthropic.Client, stage string, maxTokens int64, opts []LLMOption) llm {
	l := llm{client: client, model: anthropic.DefaultModel, maxTokens: maxTokens, stage: stage}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// completeJSON sends one system+user exchange and decodes the JSON object
// in the reply into v.
func (l llm) completeJSON(ctx context.Context, system, user string, v any) error {
	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		System:    anthropic.CachedSystem(system),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return eris.Wrapf(err, "research: %s request", l.stage)
	}
	if resp == nil {
		return eris.Errorf("research: %s returned no response", l.stage)
	}
	resp.Usage.LogCost(l.model, l.stage)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return eris.Errorf("research: %s returned no text", l.stage)
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), v); err != nil {
		return eris.Wrapf(err, "research: parse %s json", l.stage)
	}
	return nil
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
