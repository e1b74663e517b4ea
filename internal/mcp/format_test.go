package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAnswer(t *testing.T) {
	out := RespondOutput{
		Answer: "Suppliers must share safety information.",
		Citations: []Citation{
			{ChunkID: "reach-art33-01", SourceID: "reach-regulation"},
			{ChunkID: "orphan"},
		},
		Degradations: []string{"expansion", "rerank"},
	}

	got := FormatAnswer(out)

	assert.Contains(t, got, "Suppliers must share safety information.")
	assert.Contains(t, got, "**Sources**")
	assert.Contains(t, got, "1. `reach-art33-01` (reach-regulation)")
	assert.Contains(t, got, "2. `orphan`\n")
	assert.Contains(t, got, "_Degraded: expansion, rerank_")
}

func TestFormatAnswer_NoSources(t *testing.T) {
	got := FormatAnswer(RespondOutput{Answer: "Hello!"})

	assert.Equal(t, "Hello!\n", got)
}

func TestFormatRetrieval(t *testing.T) {
	tests := []struct {
		name     string
		out      RetrieveOutput
		contains []string
	}{
		{
			name:     "empty",
			out:      RetrieveOutput{},
			contains: []string{`No results found for "article 33"`},
		},
		{
			name: "single exact match",
			out: RetrieveOutput{Results: []RetrievedChunk{
				{ChunkID: "reach-art33-01", SourceID: "reach-regulation", Text: "Article 33 text", Score: 2.71, ExactMatch: true},
			}},
			contains: []string{
				`## Results for "article 33"`,
				"Found 1 result\n",
				"### 1. reach-art33-01 (reach-regulation) (score: 2.71, exact match)",
				"Article 33 text",
			},
		},
		{
			name: "plural",
			out: RetrieveOutput{Results: []RetrievedChunk{
				{ChunkID: "a", Score: 0.5},
				{ChunkID: "b", Score: 0.25},
			}},
			contains: []string{"Found 2 results", "### 2. b (score: 0.25)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatRetrieval("article 33", tt.out)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}
