package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultRerankTimeout bounds one scorer call.
const DefaultRerankTimeout = 5 * time.Second

// RerankResult is one scored document.
type RerankResult struct {
	// Index is the position in the input documents slice.
	Index int
	// Score is the relevance score; higher is better.
	Score float64
}

// Reranker scores documents against a query. Results may omit documents;
// unmentioned documents keep their input order after the scored ones.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)
	Name() string
}

// RerankConfig configures the rerank stage.
type RerankConfig struct {
	Enabled bool
	Timeout time.Duration
}

// RerankStage reorders fuzzy candidates with a Reranker. Exact matches stay
// in front in their retrieval order.
type RerankStage struct {
	reranker Reranker
	chunks   store.ChunkReader
	config   RerankConfig
	instruments
}

// NewRerankStage creates the stage. A nil reranker makes every call a
// pass-through.
func NewRerankStage(reranker Reranker, chunks store.ChunkReader, cfg RerankConfig, opts ...Option) *RerankStage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}
	return &RerankStage{
		reranker:    reranker,
		chunks:      chunks,
		config:      cfg,
		instruments: newInstruments(opts),
	}
}

// Rerank returns at most topK candidates drawn from the input. When the
// scorer is disabled, missing or failing, the first topK candidates are
// returned in input order and degraded is true.
func (s *RerankStage) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (out []Candidate, degraded bool) {
	if len(candidates) == 0 || topK <= 0 {
		return []Candidate{}, false
	}

	var exact, fuzzy []Candidate
	for _, c := range candidates {
		if c.ExactMatch {
			exact = append(exact, c)
		} else {
			fuzzy = append(fuzzy, c)
		}
	}
	if len(exact) >= topK || len(fuzzy) == 0 {
		return passThrough(append(exact, fuzzy...), topK), false
	}

	if !s.config.Enabled || s.reranker == nil {
		s.degrade(query, errors.New("reranker disabled"))
		return passThrough(candidates, topK), true
	}

	start := time.Now()
	defer func() { s.metrics.ObserveStage(StageRerank, time.Since(start)) }()

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ordered, err := s.reorder(callCtx, query, fuzzy)
	if err != nil {
		s.degrade(query, err)
		return passThrough(candidates, topK), true
	}

	out = make([]Candidate, 0, topK)
	out = append(out, exact...)
	out = append(out, ordered...)
	return passThrough(out, topK), false
}

func (s *RerankStage) reorder(ctx context.Context, query string, fuzzy []Candidate) ([]Candidate, error) {
	ids := make([]string, len(fuzzy))
	for i, c := range fuzzy {
		ids[i] = c.ChunkID
	}
	chunks, err := s.chunks.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunk text: %w", err)
	}
	docs := make([]string, len(fuzzy))
	for i, id := range ids {
		if ch, ok := chunks[id]; ok {
			docs[i] = ch.Text
		}
	}

	results, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		return nil, err
	}

	// Keep the first valid score per index.
	scored := make([]RerankResult, 0, len(results))
	seen := make(map[int]struct{}, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(fuzzy) {
			continue
		}
		if _, dup := seen[r.Index]; dup {
			continue
		}
		seen[r.Index] = struct{}{}
		scored = append(scored, r)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return fuzzy[scored[i].Index].ChunkID < fuzzy[scored[j].Index].ChunkID
	})

	ordered := make([]Candidate, 0, len(fuzzy))
	for _, r := range scored {
		ordered = append(ordered, fuzzy[r.Index])
	}
	for i, c := range fuzzy {
		if _, ok := seen[i]; !ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

func (s *RerankStage) degrade(query string, cause error) {
	d := amanerrors.Degraded(amanerrors.ErrCodeRerankUnavailable, StageRerank, cause)
	s.logger.Warn("rerank unavailable, passing candidates through",
		slog.String("query", query),
		slog.String("stage", StageRerank),
		slog.String("code", d.Code),
		slog.String("reason", cause.Error()))
	s.metrics.RecordDegradation(StageRerank, cause.Error())
}

func passThrough(cs []Candidate, topK int) []Candidate {
	if len(cs) > topK {
		cs = cs[:topK]
	}
	out := make([]Candidate, len(cs))
	copy(out, cs)
	return out
}

// LLMReranker asks the fast tier to order numbered passages.
type LLMReranker struct {
	gen        llm.Service
	snippetMax int
}

// NewLLMReranker creates a reranker over gen.
func NewLLMReranker(gen llm.Service) *LLMReranker {
	return &LLMReranker{gen: gen, snippetMax: 200}
}

func (r *LLMReranker) Name() string { return "llm" }

// Rerank scores documents by the position the model lists them in.
func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	raw, err := r.gen.Generate(ctx, llm.TierFast, r.prompt(query, documents))
	if err != nil {
		return nil, err
	}
	order := parseRankOrder(raw, len(documents))
	if len(order) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeModelMalformed, "rerank output lists no passages", nil).
			WithDetail("output", truncate(raw, 200))
	}

	results := make([]RerankResult, len(order))
	for pos, idx := range order {
		results[pos] = RerankResult{Index: idx, Score: 1.0 - float64(pos)/float64(len(documents))}
	}
	return results, nil
}

func (r *LLMReranker) prompt(query string, documents []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the query: %q\n\nRank these texts by relevance (most relevant first):\n", query)
	for i, doc := range documents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncate(strings.Join(strings.Fields(doc), " "), r.snippetMax))
	}
	b.WriteString("\nReturn only the numbers in order of relevance, separated by commas.")
	return b.String()
}

var rankNumber = regexp.MustCompile(`\d+`)

// parseRankOrder reads 1-based passage numbers from model output and returns
// distinct 0-based indices below n, in the order given.
func parseRankOrder(raw string, n int) []int {
	var order []int
	seen := make(map[int]struct{})
	for _, m := range rankNumber.FindAllString(raw, -1) {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 || v > n {
			continue
		}
		idx := v - 1
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		order = append(order, idx)
	}
	return order
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// LexicalReranker scores documents by the share of query terms they
// contain. It needs no model.
type LexicalReranker struct {
	stopWords map[string]struct{}
}

// NewLexicalReranker creates a reranker using the default stop words.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{stopWords: store.BuildStopWordMap(store.DefaultStopWords)}
}

func (r *LexicalReranker) Name() string { return "lexical" }

func (r *LexicalReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := uniqueTerms(store.AnalyzeTerms(query, r.stopWords))
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i}
		if len(terms) == 0 {
			continue
		}
		have := uniqueTerms(store.AnalyzeTerms(doc, r.stopWords))
		var hits int
		for t := range terms {
			if _, ok := have[t]; ok {
				hits++
			}
		}
		results[i].Score = float64(hits) / float64(len(terms))
	}
	return results, nil
}

func uniqueTerms(terms []string) map[string]struct{} {
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

var (
	_ Reranker = (*LLMReranker)(nil)
	_ Reranker = (*LexicalReranker)(nil)
)
