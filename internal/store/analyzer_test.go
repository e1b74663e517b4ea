package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain words", "Reporting Obligations", []string{"reporting", "obligations"}},
		{"numbers kept", "Article 33", []string{"article", "33"}},
		{"cas number whole and parts", "CAS 50-00-0", []string{"cas", "50-00-0", "50", "00", "0"}},
		{"single letters dropped", "a b c data", []string{"data"}},
		{"regulation reference", "EC 1907/2006", []string{"ec", "1907/2006", "1907", "2006"}},
		{"trailing punctuation", "hazards.", []string{"hazards"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeTerms_DropsStopWords(t *testing.T) {
	stop := BuildStopWordMap(DefaultStopWords)

	got := AnalyzeTerms("What are the obligations of the supplier?", stop)

	assert.Equal(t, []string{"obligations", "supplier"}, got)
}

func TestTermSpans_OffsetsPointIntoInput(t *testing.T) {
	text := "Formaldehyde (CAS 50-00-0)"

	for _, s := range termSpans(text) {
		assert.Equal(t, s.term, strings.ToLower(text[s.start:s.end]))
	}
}
