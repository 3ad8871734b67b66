package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/core/ranking"
)

const (
	maxNormalizeKeyText = 2000
	maxFallbackKeywords = 10
	minIdentifierLength = 5
	defaultNormalizeTTL = 24 * time.Hour
)

// NormalizeUseCase wraps the normalization service with a cache and a
// deterministic passthrough fallback. It never fails.
type NormalizeUseCase struct {
	normalizer ports.QueryNormalizer
	cache      ports.NormalizationCache
	ttl        time.Duration
}

func NewNormalizeUseCase(normalizer ports.QueryNormalizer, cache ports.NormalizationCache, ttl time.Duration) *NormalizeUseCase {
	if ttl <= 0 {
		ttl = defaultNormalizeTTL
	}
	return &NormalizeUseCase{normalizer: normalizer, cache: cache, ttl: ttl}
}

func (uc *NormalizeUseCase) Normalize(ctx context.Context, kind domain.NormalizeKind, rawText, category string) domain.NormalizedQuery {
	key := NormalizeCacheKey(kind, rawText, category)
	if uc.cache != nil {
		cached, ok, err := uc.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("normalize_cache_get_failed", "error", err)
		} else if ok {
			return cached
		}
	}

	if uc.normalizer == nil {
		return PassthroughQuery(rawText)
	}
	q, err := uc.normalizer.Normalize(ctx, kind, rawText, category)
	if err != nil {
		slog.Warn("normalize_fallback", "kind", string(kind), "error", err)
		return PassthroughQuery(rawText)
	}
	q = sanitizeQuery(q, rawText)

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, key, q, uc.ttl); err != nil {
			slog.Warn("normalize_cache_set_failed", "error", err)
		}
	}
	return q
}

// NormalizeCacheKey hashes (kind, first 2000 runes of text, category).
func NormalizeCacheKey(kind domain.NormalizeKind, rawText, category string) string {
	text := domain.TruncateText(rawText, maxNormalizeKeyText)
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + text + "\x00" + category))
	return "norm:" + hex.EncodeToString(sum[:])
}

// PassthroughQuery is the low-confidence result used when the normalization
// service is unavailable: tokenized raw text, with letter+digit tokens kept as
// must-match identifiers.
func PassthroughQuery(rawText string) domain.NormalizedQuery {
	q := domain.NormalizedQuery{
		CleanText:     strings.TrimSpace(rawText),
		Keywords:      []string{},
		MissingFields: []string{"brand", "model", "color", "material", "size"},
		Confidence:    domain.ConfidenceLow,
	}
	seen := make(map[string]struct{})
	for _, tok := range ranking.Tokenize(rawText) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		if looksLikeIdentifier(tok) {
			q.MustMatchTokens = append(q.MustMatchTokens, tok)
			continue
		}
		if len(q.Keywords) < maxFallbackKeywords && len([]rune(tok)) > 2 {
			q.Keywords = append(q.Keywords, tok)
		}
	}
	return q
}

func looksLikeIdentifier(tok string) bool {
	if len([]rune(tok)) < minIdentifierLength {
		return false
	}
	var letters, digits bool
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r):
			digits = true
		case unicode.IsLetter(r):
			letters = true
		}
	}
	return digits && (letters || len(tok) >= 8)
}

func sanitizeQuery(q domain.NormalizedQuery, rawText string) domain.NormalizedQuery {
	if q.CleanText == "" {
		q.CleanText = strings.TrimSpace(rawText)
	}
	switch q.Confidence {
	case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
	default:
		q.Confidence = domain.ConfidenceLow
	}
	if q.Keywords == nil {
		q.Keywords = []string{}
	}
	if q.MissingFields == nil {
		q.MissingFields = []string{}
	}
	return q
}
