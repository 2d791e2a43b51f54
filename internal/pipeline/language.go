package pipeline

import "strings"

const (
	LanguageEnglish = "en"
	LanguageUnknown = "unknown"
)

var englishStopwords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
}

// DetectLanguage guesses the language of text from common English words in
// its first 100 words. Anything below a 10% hit rate is "unknown".
func DetectLanguage(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return LanguageUnknown
	}
	if len(words) > 100 {
		words = words[:100]
	}
	hits := 0
	for _, w := range words {
		if _, ok := englishStopwords[w]; ok {
			hits++
		}
	}
	if float64(hits)/float64(len(words)) > 0.1 {
		return LanguageEnglish
	}
	return LanguageUnknown
}
