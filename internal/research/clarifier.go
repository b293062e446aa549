package research

import (
	"context"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/pkg/anthropic"
)

// maxClarifyingQuestions caps the questions put to the user.
const maxClarifyingQuestions = 3

const clarifierPrompt = `You are a research clarification specialist.

Decide whether the query is too vague to research well. A query is vague when
it is very short, lacks a domain or time frame, or could mean several things.
Only ask for clarification when it would materially improve the research.

Respond with JSON only:
{"needs_clarification": true|false, "clarifying_questions": ["..."], "reasoning": "..."}
Ask 2 or 3 focused questions when clarification is needed, none otherwise.`

// Clarifier asks the LLM whether a query needs clarifying questions.
type Clarifier struct {
	llm llm
}

// NewClarifier creates a Clarifier.
func NewClarifier(client anthropic.Client, opts ...LLMOption) *Clarifier {
	return &Clarifier{llm: newLLM(client, "clarify", 1024, opts)}
}

// Classify returns the clarification assessment of query.
func (c *Clarifier) Classify(ctx context.Context, query string) (*model.Clarification, error) {
	var out model.Clarification
	if err := c.llm.completeJSON(ctx, clarifierPrompt, "Query to analyze: "+query, &out); err != nil {
		return nil, err
	}
	if len(out.Questions) > maxClarifyingQuestions {
		out.Questions = out.Questions[:maxClarifyingQuestions]
	}
	if len(out.Questions) == 0 {
		out.NeedsClarification = false
	}
	return &out, nil
}
