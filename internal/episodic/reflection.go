package episodic

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator is the completion-style LLM interface reflection generation
// is built on, mirroring the single-string completion contract used
// elsewhere in the engine for non-embedding model calls.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PromptReflectionGenerator builds a reflection prompt from the buffered
// excerpts and delegates to a TextGenerator for the actual summarization.
type PromptReflectionGenerator struct {
	llm TextGenerator
}

func NewPromptReflectionGenerator(llm TextGenerator) *PromptReflectionGenerator {
	return &PromptReflectionGenerator{llm: llm}
}

func (g *PromptReflectionGenerator) Reflect(ctx context.Context, excerpts []Excerpt) (string, error) {
	if len(excerpts) == 0 {
		return "", fmt.Errorf("episodic: reflect called with no excerpts")
	}
	var sb strings.Builder
	sb.WriteString("Summarize the durable facts, preferences, and open threads from this conversation excerpt batch in a few sentences:\n\n")
	for _, e := range excerpts {
		sb.WriteString("- ")
		sb.WriteString(e.Text)
		sb.WriteString("\n")
	}
	body, err := g.llm.Complete(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("episodic: reflection completion: %w", err)
	}
	return body, nil
}
