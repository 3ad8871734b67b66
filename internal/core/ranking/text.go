package ranking

import (
	"strings"
	"unicode"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// Tokenize splits s into lowercase letter/digit runs.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// WordCount counts whitespace-delimited words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// FoundText concatenates everything a must-match token may appear in:
// identifier values, searchable tokens and the description.
func FoundText(c domain.Candidate) string {
	parts := make([]string, 0, len(c.Attributes.Identifiers)+len(c.SearchableTokens)+1)
	for _, id := range c.Attributes.Identifiers {
		if id.Value != "" {
			parts = append(parts, id.Value)
		}
	}
	for _, tok := range c.SearchableTokens {
		if tok != "" {
			parts = append(parts, tok)
		}
	}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	return strings.Join(parts, " ")
}

func cleanTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
