// Package classify decides whether an incoming question belongs to the support domain.
//
// The built-in strategy is keyword matching with a token-overlap continuation rule;
// callers depend only on the Classifier interface so it can be swapped out.
package classify

import (
	"log/slog"
	"strings"
)

// DefaultSimilarityThreshold is the token overlap above which a question is treated
// as a refinement of the previous one. The comparison is strict.
const DefaultSimilarityThreshold = 0.5

// punctuation is the ASCII punctuation set removed by Normalize.
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Normalize removes ASCII punctuation and lowercases the text.
func Normalize(text string) string {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, text)
	return strings.ToLower(stripped)
}

// Verdict is the outcome of classifying one question.
type Verdict struct {
	Technical      bool
	MatchedKeyword string  // set when a keyword matched
	Continuation   bool    // set when the previous question made this one technical
	Similarity     float64 // token overlap with the previous question, if one was given
}

// Classifier decides whether a question is technical.
// lastQuestion is "" when the conversation has no previous question.
type Classifier interface {
	Classify(question, lastQuestion string) Verdict
}

// Option configures a KeywordClassifier.
type Option func(*KeywordClassifier)

// WithSimilarityThreshold overrides DefaultSimilarityThreshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(c *KeywordClassifier) {
		c.threshold = threshold
	}
}

// KeywordClassifier matches questions against a fixed keyword list.
type KeywordClassifier struct {
	keywords  []string // normalized like questions
	threshold float64
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds a classifier over the given keywords. Keywords are
// normalized the same way as questions, so "PXE-загрузка" matches "pxe-загрузка не стартует".
func NewKeywordClassifier(keywords []string, opts ...Option) *KeywordClassifier {
	c := &KeywordClassifier{threshold: DefaultSimilarityThreshold}
	for _, kw := range keywords {
		kw = strings.TrimSpace(Normalize(kw))
		if kw != "" {
			c.keywords = append(c.keywords, kw)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify reports whether question is technical.
//
// A question is technical when a keyword, or any whitespace-delimited token of a keyword,
// occurs in the normalized question. Otherwise, if lastQuestion is set, the question is
// technical when its token overlap with lastQuestion exceeds the similarity threshold.
func (c *KeywordClassifier) Classify(question, lastQuestion string) Verdict {
	normalized := Normalize(question)

	if kw, ok := c.matchKeyword(normalized); ok {
		slog.Debug("KeywordClassifier question classified as technical", "question", question, "keyword", kw)
		return Verdict{Technical: true, MatchedKeyword: kw}
	}

	if lastQuestion != "" {
		similarity := Similarity(question, lastQuestion)
		if similarity > c.threshold {
			slog.Debug("KeywordClassifier question treated as refinement", "question", question, "last_question", lastQuestion, "similarity", similarity)
			return Verdict{Technical: true, Continuation: true, Similarity: similarity}
		}
		slog.Debug("KeywordClassifier question is not technical", "question", question, "similarity", similarity)
		return Verdict{Similarity: similarity}
	}

	slog.Debug("KeywordClassifier question is not technical", "question", question)
	return Verdict{}
}

func (c *KeywordClassifier) matchKeyword(normalized string) (string, bool) {
	if normalized == "" {
		return "", false
	}
	for _, kw := range c.keywords {
		if strings.Contains(normalized, kw) {
			return kw, true
		}
		for _, token := range strings.Fields(kw) {
			if strings.Contains(normalized, token) {
				return kw, true
			}
		}
	}
	return "", false
}

// Similarity is the share of question tokens that also occur in lastQuestion:
// |set(q) ∩ set(last)| / max(len(q tokens), 1), both sides normalized first.
func Similarity(question, lastQuestion string) float64 {
	qTokens := strings.Fields(Normalize(question))
	lastSet := make(map[string]struct{})
	for _, tok := range strings.Fields(Normalize(lastQuestion)) {
		lastSet[tok] = struct{}{}
	}

	common := make(map[string]struct{})
	for _, tok := range qTokens {
		if _, ok := lastSet[tok]; ok {
			common[tok] = struct{}{}
		}
	}
	return float64(len(common)) / float64(max(len(qTokens), 1))
}
