package ranking

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	matchThreshold         = 0.85
	partialThreshold       = 0.60
	contradictionThreshold = 0.40
	tokenFuzzyThreshold    = 0.90
)

const (
	AttrNotComparable = -1.0
	AttrMismatch      = 0.0
	AttrPartial       = 0.5
	AttrMatch         = 1.0
)

// Similarity is a case-insensitive normalized edit-distance ratio in [0,1].
// Absent values compare as 0.
func Similarity(a, b string) float64 {
	a = normalizeValue(a)
	b = normalizeValue(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	ratio := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}

// AttributeMatch grades one attribute pair: -1 when either side is absent,
// otherwise 1, 0.5 or 0.
func AttributeMatch(query, found string) float64 {
	if !specified(query) || !specified(found) {
		return AttrNotComparable
	}
	return matchLevel(Similarity(query, found))
}

func matchLevel(sim float64) float64 {
	switch {
	case sim >= matchThreshold:
		return AttrMatch
	case sim >= partialThreshold:
		return AttrPartial
	default:
		return AttrMismatch
	}
}

// TokenPresent reports whether token occurs in text literally
// (case-insensitive) or fuzzily matches one of its whitespace chunks.
func TokenPresent(token, text string) bool {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, token) {
		return true
	}
	for _, chunk := range strings.Fields(lowered) {
		if Similarity(token, chunk) > tokenFuzzyThreshold {
			return true
		}
	}
	return false
}

func specified(v string) bool {
	return normalizeValue(v) != ""
}

func normalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "unknown", "null", "none", "n/a", "-":
		return ""
	}
	return v
}
