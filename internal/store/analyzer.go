package store

import (
	"regexp"
	"strings"
	"unicode"
)

// termPattern matches words and joined identifiers such as "50-00-0",
// "1907/2006" or "3.2.1". Joiners only count between letters or digits.
var termPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:[-./][\p{L}\p{N}]+)*`)

// DefaultStopWords are English function words dropped from keyword terms.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by",
	"can", "do", "does", "for", "from", "had", "has", "have", "how",
	"i", "if", "in", "into", "is", "it", "its", "me", "my", "of", "on",
	"or", "our", "so", "such", "than", "that", "the", "their", "them",
	"then", "there", "these", "they", "this", "those", "to", "was",
	"we", "were", "what", "when", "where", "which", "who", "whom",
	"why", "will", "with", "would", "you", "your",
}

type termSpan struct {
	term       string
	start, end int
}

// termSpans splits text into lowercased terms with byte offsets. A joined
// identifier yields the whole identifier followed by its parts.
func termSpans(text string) []termSpan {
	var spans []termSpan
	for _, loc := range termPattern.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		if !strings.ContainsAny(raw, "-./") {
			if keepTerm(raw) {
				spans = append(spans, termSpan{strings.ToLower(raw), loc[0], loc[1]})
			}
			continue
		}

		spans = append(spans, termSpan{strings.ToLower(raw), loc[0], loc[1]})
		offset := loc[0]
		for _, part := range strings.FieldsFunc(raw, isJoiner) {
			idx := strings.Index(text[offset:loc[1]], part)
			start := offset + idx
			end := start + len(part)
			offset = end
			if keepTerm(part) {
				spans = append(spans, termSpan{strings.ToLower(part), start, end})
			}
		}
	}
	return spans
}

// Tokenize returns the lowercased terms of text, joined identifiers included.
func Tokenize(text string) []string {
	spans := termSpans(text)
	terms := make([]string, len(spans))
	for i, s := range spans {
		terms[i] = s.term
	}
	return terms
}

// AnalyzeTerms tokenizes text and drops stop words.
func AnalyzeTerms(text string, stopWords map[string]struct{}) []string {
	return FilterStopWords(Tokenize(text), stopWords)
}

// FilterStopWords removes tokens present in stopWords (case-insensitive).
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := stopWords[strings.ToLower(token)]; !stop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap creates a lookup set from a word list.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

func isJoiner(r rune) bool {
	return r == '-' || r == '.' || r == '/'
}

// keepTerm drops single letters but keeps any number ("33", "5").
func keepTerm(s string) bool {
	if len([]rune(s)) > 1 {
		return true
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
