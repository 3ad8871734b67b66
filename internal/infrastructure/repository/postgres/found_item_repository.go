package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// keywordScoreScale maps ts_rank_cd's [0,1) (normalization 32) onto the
// [0,20) range the feature normalizer expects.
const keywordScoreScale = 20.0

type FoundItemRepository struct {
	db *sql.DB
}

func NewFoundItemRepository(db *sql.DB) *FoundItemRepository {
	return &FoundItemRepository{db: db}
}

func (r *FoundItemRepository) Available() bool { return r.db != nil }

// Create inserts a found item. Existing ids are left untouched.
func (r *FoundItemRepository) Create(ctx context.Context, item domain.FoundItem) error {
	attrs, err := json.Marshal(item.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	tokens, err := json.Marshal(nonNil(item.SearchableTokens))
	if err != nil {
		return fmt.Errorf("marshal searchable tokens: %w", err)
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO found_items (id, description, category, attributes, searchable_tokens, search_text, extracted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, item.ID, item.Description, item.Category, attrs, tokens, strings.Join(item.SearchableTokens, " "), item.ExtractedAt, createdAt)
	if err != nil {
		return fmt.Errorf("insert found item: %w", err)
	}
	return nil
}

func (r *FoundItemRepository) GetItems(ctx context.Context, ids []string) (map[string]domain.FoundItem, error) {
	out := make(map[string]domain.FoundItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, description, category, attributes, searchable_tokens, extracted_at, created_at
FROM found_items
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, fmt.Errorf("get found items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanFoundItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate found items: %w", err)
	}
	return out, nil
}

func (r *FoundItemRepository) ListUnprocessed(ctx context.Context, afterID string, limit int) ([]domain.FoundItem, error) {
	return r.list(ctx, `
SELECT id, description, category, attributes, searchable_tokens, extracted_at, created_at
FROM found_items
WHERE extracted_at IS NULL AND id > $1
ORDER BY id
LIMIT $2
`, afterID, limit)
}

func (r *FoundItemRepository) ListAll(ctx context.Context, afterID string, limit int) ([]domain.FoundItem, error) {
	return r.list(ctx, `
SELECT id, description, category, attributes, searchable_tokens, extracted_at, created_at
FROM found_items
WHERE id > $1
ORDER BY id
LIMIT $2
`, afterID, limit)
}

func (r *FoundItemRepository) list(ctx context.Context, query, afterID string, limit int) ([]domain.FoundItem, error) {
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list found items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FoundItem, 0, limit)
	for rows.Next() {
		item, err := scanFoundItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate found items: %w", err)
	}
	return out, nil
}

func (r *FoundItemRepository) SaveAttributes(ctx context.Context, id string, attrs domain.Attributes, searchableTokens []string) error {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	tokensJSON, err := json.Marshal(nonNil(searchableTokens))
	if err != nil {
		return fmt.Errorf("marshal searchable tokens: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE found_items
SET attributes = $2, searchable_tokens = $3, search_text = $4, extracted_at = $5
WHERE id = $1
`, id, attrsJSON, tokensJSON, strings.Join(searchableTokens, " "), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save attributes: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attributes rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "save attributes", fmt.Errorf("found item %s", id))
	}
	return nil
}

// SearchText matches any of the tokens against descriptions and searchable
// tokens with Postgres full-text search.
func (r *FoundItemRepository) SearchText(ctx context.Context, tokens []string, limit int, filter domain.SearchFilter) ([]domain.KeywordHit, error) {
	query := tsQuery(tokens)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, description, category, ts_rank_cd(search_vector, q, 32) * $4 AS score
FROM found_items, websearch_to_tsquery('simple', $1) AS q
WHERE search_vector @@ q AND ($2 = '' OR lower(category) = lower($2))
ORDER BY score DESC, id
LIMIT $3
`, query, strings.TrimSpace(filter.Category), limit, keywordScoreScale)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.KeywordHit, 0, limit)
	for rows.Next() {
		var hit domain.KeywordHit
		if err := rows.Scan(&hit.ID, &hit.Description, &hit.Category, &hit.TextScore); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword hits: %w", err)
	}
	return out, nil
}

// tsQuery renders tokens as a websearch OR query. Each token is quoted so
// punctuation inside identifiers does not turn into operators.
func tsQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(strings.ReplaceAll(tok, `"`, " "))
		if tok == "" {
			continue
		}
		parts = append(parts, `"`+tok+`"`)
	}
	return strings.Join(parts, " or ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFoundItem(row rowScanner) (domain.FoundItem, error) {
	var item domain.FoundItem
	var attrsRaw, tokensRaw []byte
	var extractedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.Description, &item.Category, &attrsRaw, &tokensRaw, &extractedAt, &item.CreatedAt); err != nil {
		return domain.FoundItem{}, fmt.Errorf("scan found item: %w", err)
	}
	if len(attrsRaw) > 0 {
		if err := json.Unmarshal(attrsRaw, &item.Attributes); err != nil {
			return domain.FoundItem{}, fmt.Errorf("unmarshal attributes of %s: %w", item.ID, err)
		}
	}
	if len(tokensRaw) > 0 {
		if err := json.Unmarshal(tokensRaw, &item.SearchableTokens); err != nil {
			return domain.FoundItem{}, fmt.Errorf("unmarshal searchable tokens of %s: %w", item.ID, err)
		}
	}
	if extractedAt.Valid {
		t := extractedAt.Time
		item.ExtractedAt = &t
	}
	return item, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
