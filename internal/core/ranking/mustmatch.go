package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const mustMatchBoost = 0.30

// ApplyMustMatch orders scored candidates so that every candidate containing
// all must-match tokens precedes every candidate that does not. Matching
// candidates are boosted by 0.30 (capped at 1). The input is not modified.
func ApplyMustMatch(tokens []string, candidates []domain.Candidate) []domain.Candidate {
	tokens = cleanTokens(tokens)
	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)

	if len(tokens) == 0 {
		sortByScore(out)
		return out
	}

	boosted := make([]domain.Candidate, 0, len(out))
	rest := make([]domain.Candidate, 0, len(out))
	for _, c := range out {
		if containsAll(tokens, FoundText(c)) {
			c.Score = round4(math.Min(1, c.Score+mustMatchBoost))
			boosted = append(boosted, c)
			continue
		}
		rest = append(rest, c)
	}
	sortByScore(boosted)
	sortByScore(rest)
	return append(boosted, rest...)
}

// containsAll is literal, case-insensitive containment. Fuzzy matches stay in
// IdentifierScore: one digit off a serial is a different item.
func containsAll(tokens []string, text string) bool {
	lowered := strings.ToLower(text)
	for _, tok := range tokens {
		if !strings.Contains(lowered, strings.ToLower(tok)) {
			return false
		}
	}
	return true
}

func sortByScore(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}
