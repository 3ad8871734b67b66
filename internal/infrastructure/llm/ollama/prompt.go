package ollama

import (
	"strings"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const maxPromptText = 2000

func buildNormalizationPrompt(kind domain.NormalizeKind, text, category string) string {
	snippet := []rune(text)
	if len(snippet) > maxPromptText {
		snippet = snippet[:maxPromptText]
	}

	subject := "a person describing an item they LOST"
	if kind == domain.KindFound {
		subject = "staff describing an item they FOUND"
	}

	var b strings.Builder
	b.WriteString("You extract structured attributes from a lost-and-found report written by ")
	b.WriteString(subject)
	b.WriteString(`.
Return strict JSON object with keys:
clean_text (string, the report rewritten as a short neutral description),
language (string, ISO 639-1),
keywords (array of at most 10 lowercase nouns/adjectives),
attributes (object with keys brand, model, color, material, size, unique_marks as strings or null,
  and identifiers as array of {"type": string, "value": string} for serial numbers, IMEI, plates, names on cards),
must_match_tokens (array of exact identifier strings that a matching item MUST contain),
missing_fields (array of attribute names not stated in the report),
confidence ("high", "medium" or "low").
Use null for anything not stated. Never invent identifiers. No markdown, no extra keys.
`)
	if strings.TrimSpace(category) != "" {
		b.WriteString("\nCategory: ")
		b.WriteString(category)
	}
	b.WriteString("\n\nReport:\n")
	b.WriteString(string(snippet))
	return b.String()
}
