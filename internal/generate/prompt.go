package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultContextBudget caps the characters of chunk text in one prompt.
const DefaultContextBudget = 12000

// Source is a chunk placed in the prompt.
type Source struct {
	ChunkID  string
	SourceID string
	Text     string
}

// selectSources keeps chunks in order while their text fits in budget
// characters. Nil chunks and chunks with blank text are skipped.
func selectSources(chunks []*store.Chunk, budget int) []Source {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	var sources []Source
	remaining := budget
	for _, c := range chunks {
		if c == nil || strings.TrimSpace(c.Text) == "" {
			continue
		}
		n := utf8.RuneCountInString(c.Text)
		if n > remaining {
			continue
		}
		remaining -= n
		sources = append(sources, Source{ChunkID: c.ID, SourceID: c.SourceID, Text: c.Text})
	}
	return sources
}

// formatContext labels each source "[Source i: source_id]".
func formatContext(sources []Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		label := s.SourceID
		if label == "" {
			label = "unknown"
		}
		parts[i] = fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, label, s.Text)
	}
	return strings.Join(parts, "\n")
}

// BuildPrompt renders the prompt for tier. The complex tier is asked for a
// fuller, reasoned answer; the fast tier for a concise one.
func BuildPrompt(tier llm.Tier, query string, sources []Source) string {
	if len(sources) == 0 {
		return fmt.Sprintf(`No relevant documents were found for this question.
Answer from general knowledge if you can and say so if you cannot. Do not cite sources.

Question: %s`, query)
	}

	ctx := formatContext(sources)
	if tier == llm.TierComplex {
		return fmt.Sprintf(`Use the following context to provide a comprehensive, well-reasoned answer.

Context:
%s
Question: %s

Provide an answer that:
1. Synthesizes information from the context
2. Shows reasoning steps if needed
3. Cites the sources it relies on as [Source n]
4. Acknowledges limitations if the context is insufficient`, ctx, query)
	}

	return fmt.Sprintf(`Context:
%s
Question: %s

Answer based on the context above and cite the sources you use as [Source n]. If the context doesn't contain enough information, say so.`, ctx, query)
}
