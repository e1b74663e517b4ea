package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

// Expander defaults.
const (
	DefaultMaxVariants    = 3
	DefaultExpandedWeight = 0.8
	DefaultExpandTimeout  = 3 * time.Second
)

// ExpanderConfig configures query expansion.
type ExpanderConfig struct {
	Enabled        bool
	MaxVariants    int
	ExpandedWeight float64
	Timeout        time.Duration
}

// Expander asks the fast tier for alternative phrasings of a query.
type Expander struct {
	gen    llm.Service
	config ExpanderConfig
	instruments
}

// NewExpander creates an expander. A nil gen disables expansion.
func NewExpander(gen llm.Service, cfg ExpanderConfig, opts ...Option) *Expander {
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = DefaultMaxVariants
	}
	if cfg.ExpandedWeight <= 0 {
		cfg.ExpandedWeight = DefaultExpandedWeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExpandTimeout
	}
	return &Expander{gen: gen, config: cfg, instruments: newInstruments(opts)}
}

// Expand returns the original query first, followed by at most
// maxVariants-1 distinct expansions. maxVariants <= 0 uses the configured
// limit. A blank query yields no variants.
//
// When the generation call fails the original alone is returned and
// degraded is true. Expansion never returns an error.
func (e *Expander) Expand(ctx context.Context, query string, maxVariants int) (variants []QueryVariant, degraded bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []QueryVariant{}, false
	}
	original := QueryVariant{Text: query, Origin: OriginOriginal, Weight: 1.0}

	if maxVariants <= 0 {
		maxVariants = e.config.MaxVariants
	}
	if !e.config.Enabled || e.gen == nil || maxVariants < 2 {
		return []QueryVariant{original}, false
	}

	start := time.Now()
	defer func() { e.metrics.ObserveStage(StageExpansion, time.Since(start)) }()

	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	raw, err := e.gen.Generate(callCtx, llm.TierFast, expansionPrompt(query, maxVariants-1))
	if err == nil && strings.TrimSpace(raw) == "" {
		err = amanerrors.New(amanerrors.ErrCodeModelMalformed, "empty expansion output", nil)
	}
	if err != nil {
		degradation := amanerrors.Degraded(amanerrors.ErrCodeExpansionDegraded, StageExpansion, err)
		e.logger.Warn("query expansion degraded",
			slog.String("query", query),
			slog.String("stage", StageExpansion),
			slog.String("code", degradation.Code),
			slog.String("reason", err.Error()))
		e.metrics.RecordDegradation(StageExpansion, err.Error())
		return []QueryVariant{original}, true
	}

	variants = []QueryVariant{original}
	seen := map[string]struct{}{dedupeKey(query): {}}
	for _, line := range parseExpansionLines(raw) {
		if len(variants) >= maxVariants {
			break
		}
		key := dedupeKey(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, QueryVariant{
			Text:   line,
			Origin: OriginExpanded,
			Weight: e.config.ExpandedWeight,
		})
	}

	e.logger.Debug("query expanded",
		slog.String("query", query),
		slog.Int("variants", len(variants)))
	return variants, false
}

func expansionPrompt(query string, n int) string {
	return fmt.Sprintf(`Rewrite the search query below in up to %d different ways to help find relevant documents.
Include paraphrases and broader or narrower reformulations.
Return one query per line with no numbering, quotes or commentary.

Query: %s`, n, query)
}

// listMarker matches bullets and numbering such as "-", "*", "1.", "2)".
var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.):]|\(\d+\))\s*`)

// parseExpansionLines extracts candidate queries from model output, one per
// line, with list markers and wrapping quotes removed.
func parseExpansionLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, "\"'`")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// dedupeKey lowercases and collapses whitespace.
func dedupeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
