package router

import (
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/llm"
)

// DefaultComplexKeywords flag multi-step or comparative questions.
var DefaultComplexKeywords = []string{
	"compare", "comparison", "analyze", "analyse", "explain why", "how does",
	"relationship between", "synthesize", "evaluate", "discuss",
	"multiple", "several", "difference between", "pros and cons",
	"step by step",
}

// Heuristics settles clear-cut queries without a model call.
type Heuristics struct {
	complexWords int
	simpleWords  int
	keywords     []string
}

// NewHeuristics creates heuristics. Zero thresholds and a nil keyword list
// take the defaults.
func NewHeuristics(complexWords, simpleWords int, keywords []string) *Heuristics {
	if complexWords <= 0 {
		complexWords = DefaultComplexWordThreshold
	}
	if simpleWords <= 0 {
		simpleWords = DefaultSimpleWordThreshold
	}
	if keywords == nil {
		keywords = DefaultComplexKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = normalize(k); k != "" {
			normalized = append(normalized, k)
		}
	}
	return &Heuristics{complexWords: complexWords, simpleWords: simpleWords, keywords: normalized}
}

// Classify returns the tier and true when a heuristic decides, or false
// when the query is ambiguous.
//
// Complex: more than the complex word threshold, a complex keyword as whole
// words, or two or more question marks. Simple: at most the simple word threshold with
// none of those signals.
func (h *Heuristics) Classify(query string) (llm.Tier, bool) {
	words := len(strings.Fields(query))
	if words > h.complexWords {
		return llm.TierComplex, true
	}
	if strings.Count(query, "?") >= 2 {
		return llm.TierComplex, true
	}
	padded := " " + normalize(query) + " "
	for _, k := range h.keywords {
		if strings.Contains(padded, " "+k+" ") {
			return llm.TierComplex, true
		}
	}
	if words <= h.simpleWords {
		return llm.TierFast, true
	}
	return "", false
}

// conversationalMaxWords bounds how long a conversational turn can be.
const conversationalMaxWords = 6

var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hi|hello|hey|hiya|greetings|good (morning|afternoon|evening|day))( there| everyone| all| again)?$`),
	regexp.MustCompile(`^(thanks|thank you|thx|ty|many thanks|cheers)( (so|very) much| a lot| again)?$`),
	regexp.MustCompile(`^(bye|goodbye|bye bye|see you( later| soon)?|good night|later)$`),
	regexp.MustCompile(`^(who|what) are you$`),
	regexp.MustCompile(`^what can you (do|help with)$`),
	regexp.MustCompile(`^how are you( doing)?( today)?$`),
	regexp.MustCompile(`^(ok|okay|cool|great|nice|got it|perfect)( thanks| thank you)?$`),
}

// IsConversational reports whether query is a greeting, thanks, farewell
// or a question about the assistant itself.
func IsConversational(query string) bool {
	n := normalize(query)
	if n == "" || len(strings.Fields(n)) > conversationalMaxWords {
		return false
	}
	for _, p := range conversationalPatterns {
		if p.MatchString(n) {
			return true
		}
	}
	return false
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// normalize lowercases, turns punctuation and hyphens into spaces and
// collapses whitespace.
func normalize(s string) string {
	s = nonWord.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Join(strings.Fields(s), " ")
}
