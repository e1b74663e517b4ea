package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func enabledExpander(gen llm.Service, opts ...Option) *Expander {
	return NewExpander(gen, ExpanderConfig{Enabled: true, MaxVariants: 3, ExpandedWeight: 0.8, Timeout: time.Second}, opts...)
}

func TestExpand_OriginalFirstThenDistinctVariants(t *testing.T) {
	var gotTier llm.Tier
	gen := llm.ServiceFunc(func(ctx context.Context, tier llm.Tier, prompt string) (string, error) {
		gotTier = tier
		return "1. Article 33 information duties\n- article 33   information DUTIES\n2) What must suppliers disclose under REACH?\n* supplier communication obligations", nil
	})
	e := enabledExpander(gen)

	// When: expanding with room for three variants
	variants, degraded := e.Expand(context.Background(), "What does Article 33 require?", 3)

	// Then: the original leads and duplicates are dropped
	assert.False(t, degraded)
	assert.Equal(t, llm.TierFast, gotTier)
	require.Len(t, variants, 3)
	assert.Equal(t, QueryVariant{Text: "What does Article 33 require?", Origin: OriginOriginal, Weight: 1.0}, variants[0])
	assert.Equal(t, "Article 33 information duties", variants[1].Text)
	assert.Equal(t, "What must suppliers disclose under REACH?", variants[2].Text)
	for _, v := range variants[1:] {
		assert.Equal(t, OriginExpanded, v.Origin)
		assert.Equal(t, 0.8, v.Weight)
	}
}

func TestExpand_DropsCopiesOfTheOriginal(t *testing.T) {
	gen := llm.ServiceFunc(func(context.Context, llm.Tier, string) (string, error) {
		return "Here are some alternatives:\n\"benzene   LISTING\"\nbenzene carcinogen listing", nil
	})

	variants, degraded := enabledExpander(gen).Expand(context.Background(), "Benzene listing", 0)

	assert.False(t, degraded)
	assert.Equal(t, []string{"Benzene listing", "benzene carcinogen listing"}, variantTexts(variants))
}

func TestExpand_FailureDegradesToOriginal(t *testing.T) {
	tests := []struct {
		name string
		gen  llm.ServiceFunc
	}{
		{"error", func(context.Context, llm.Tier, string) (string, error) {
			return "", errors.New("connection refused")
		}},
		{"blank output", func(context.Context, llm.Tier, string) (string, error) {
			return "  \n", nil
		}},
		{"timeout", func(ctx context.Context, _ llm.Tier, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := telemetry.NewMetrics()
			e := NewExpander(tt.gen, ExpanderConfig{Enabled: true, MaxVariants: 3, Timeout: 20 * time.Millisecond},
				WithMetrics(metrics))

			variants, degraded := e.Expand(context.Background(), "Article 33", 3)

			assert.True(t, degraded)
			assert.Equal(t, []QueryVariant{{Text: "Article 33", Origin: OriginOriginal, Weight: 1.0}}, variants)
			require.Len(t, metrics.Snapshot().RecentDegradations, 1)
			assert.Equal(t, StageExpansion, metrics.Snapshot().RecentDegradations[0].Stage)
		})
	}
}

func TestExpand_DisabledOrBlank(t *testing.T) {
	called := false
	gen := llm.ServiceFunc(func(context.Context, llm.Tier, string) (string, error) {
		called = true
		return "x", nil
	})

	disabled := NewExpander(gen, ExpanderConfig{Enabled: false})
	variants, degraded := disabled.Expand(context.Background(), "Article 33", 3)
	assert.False(t, degraded)
	assert.Len(t, variants, 1)

	variants, degraded = enabledExpander(gen).Expand(context.Background(), "   ", 3)
	assert.False(t, degraded)
	assert.Empty(t, variants)

	variants, _ = enabledExpander(gen).Expand(context.Background(), "Article 33", 1)
	assert.Len(t, variants, 1)

	assert.False(t, called)
}

func TestParseExpansionLines(t *testing.T) {
	lines := parseExpansionLines("Alternatives:\n1. first\n2) second\n(3) third\n- fourth\n• fifth\n\n`sixth`")
	assert.Equal(t, []string{"first", "second", "third", "fourth", "fifth", "sixth"}, lines)
}

func variantTexts(vs []QueryVariant) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Text
	}
	return out
}
