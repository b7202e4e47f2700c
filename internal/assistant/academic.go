package assistant

import (
	"regexp"
	"strings"
)

var academicKeywords = []string{
	"research", "study", "analysis", "theory", "hypothesis", "methodology",
	"literature", "academic", "scholarly", "scientific", "experiment",
	"data", "findings", "conclusion", "abstract", "thesis", "dissertation",
	"journal", "publication", "citation", "reference", "bibliography",
	"education", "learning", "course", "curriculum", "syllabus",
	"concept", "principle", "framework", "model", "paradigm",
}

var nonAcademicKeywords = []string{
	"entertainment", "movie", "game", "music", "celebrity", "gossip",
	"shopping", "recipe", "cooking", "fashion", "sports", "weather",
	"personal", "relationship", "dating", "social media", "meme",
}

var academicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(what|how|why|when|where)\s+(is|are|does|do|did|can|could|would|should)\b.*\b(concept|theory|principle|method|approach|framework)\b`),
	regexp.MustCompile(`\bexplain\s+(the|this|that|how|why)\b`),
	regexp.MustCompile(`\b(analyze|examine|discuss|evaluate|compare|contrast|critique)\b`),
	regexp.MustCompile(`\b(according to|based on|as mentioned in|as stated in)\b.*\b(document|paper|text|study|research)\b`),
}

// IsAcademicQuestion classifies a question without calling the model.
// Non-academic keywords veto first; otherwise academic keywords or
// question-shape patterns admit it. Borderline questions are allowed.
func IsAcademicQuestion(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range nonAcademicKeywords {
		if strings.Contains(q, kw) {
			return false
		}
	}
	for _, kw := range academicKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	for _, pattern := range academicPatterns {
		if pattern.MatchString(q) {
			return true
		}
	}
	return true
}
