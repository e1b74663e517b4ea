package router

import (
	"fmt"
	"strings"
	"unicode"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

func classificationPrompt(query string) string {
	return fmt.Sprintf(`Classify this query as either "simple" or "complex".

Simple queries: direct factual questions, lookups, definitions, single-step answers.
Complex queries: multi-step reasoning, comparisons, analysis, synthesis, or answers that combine multiple pieces of information.

Query: %s

Respond with only "simple" or "complex".`, query)
}

// parseClassification maps the first "simple" or "complex" word in the
// model output to a tier.
func parseClassification(raw string) (llm.Tier, error) {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch w {
		case "simple":
			return llm.TierFast, nil
		case "complex":
			return llm.TierComplex, nil
		}
	}
	return "", amanerrors.New(amanerrors.ErrCodeModelMalformed, "unrecognized classification", nil).
		WithDetail("output", raw)
}
