package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// FeedbackRepository stores impressions and selections. Both are write-once:
// re-inserting an existing id is a no-op.
type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Available() bool { return r.db != nil }

func (r *FeedbackRepository) InsertImpression(ctx context.Context, imp domain.Impression) error {
	shown, err := json.Marshal(imp.ShownResults)
	if err != nil {
		return fmt.Errorf("marshal shown results: %w", err)
	}
	var snapshot []byte
	if imp.QuerySnapshot != nil {
		if snapshot, err = json.Marshal(imp.QuerySnapshot); err != nil {
			return fmt.Errorf("marshal query snapshot: %w", err)
		}
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO impressions (impression_id, query_id, raw_text, category, session_id, shown_results, query_snapshot, ts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (impression_id) DO NOTHING
`, imp.ImpressionID, imp.QueryID, imp.RawText, imp.Category, imp.SessionID, shown, snapshot, imp.Timestamp)
	if err != nil {
		return fmt.Errorf("insert impression: %w", err)
	}
	return nil
}

func (r *FeedbackRepository) InsertSelection(ctx context.Context, sel domain.Selection) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO selections (selection_id, impression_id, query_id, raw_text, selected_found_id, selected_rank, ts)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (selection_id) DO NOTHING
`, sel.SelectionID, sel.ImpressionID, sel.QueryID, sel.RawText, sel.SelectedFoundID, sel.SelectedRank, sel.Timestamp)
	if err != nil {
		return fmt.Errorf("insert selection: %w", err)
	}
	return nil
}

// ListSelectedImpressions joins every impression shown in [from, to) with the
// selections made on it.
func (r *FeedbackRepository) ListSelectedImpressions(ctx context.Context, from, to time.Time) ([]domain.SelectedImpression, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT i.impression_id, i.query_id, i.raw_text, i.category, i.session_id, i.shown_results, i.query_snapshot, i.ts,
	s.selection_id, s.query_id, s.raw_text, s.selected_found_id, s.selected_rank, s.ts
FROM selections s
JOIN impressions i ON i.impression_id = s.impression_id
WHERE i.ts >= $1 AND i.ts < $2
ORDER BY i.ts, s.ts, s.selection_id
`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list selected impressions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SelectedImpression, 0)
	for rows.Next() {
		var p domain.SelectedImpression
		var shownRaw, snapshotRaw []byte
		err := rows.Scan(
			&p.Impression.ImpressionID, &p.Impression.QueryID, &p.Impression.RawText, &p.Impression.Category,
			&p.Impression.SessionID, &shownRaw, &snapshotRaw, &p.Impression.Timestamp,
			&p.Selection.SelectionID, &p.Selection.QueryID, &p.Selection.RawText, &p.Selection.SelectedFoundID,
			&p.Selection.SelectedRank, &p.Selection.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan selected impression: %w", err)
		}
		if err := json.Unmarshal(shownRaw, &p.Impression.ShownResults); err != nil {
			return nil, fmt.Errorf("unmarshal shown results of %s: %w", p.Impression.ImpressionID, err)
		}
		if len(snapshotRaw) > 0 {
			var snap domain.QuerySnapshot
			if err := json.Unmarshal(snapshotRaw, &snap); err != nil {
				return nil, fmt.Errorf("unmarshal query snapshot of %s: %w", p.Impression.ImpressionID, err)
			}
			p.Impression.QuerySnapshot = &snap
		}
		p.Selection.ImpressionID = p.Impression.ImpressionID
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selected impressions: %w", err)
	}
	return out, nil
}

func (r *FeedbackRepository) ListVerifications(ctx context.Context, queryIDs []string) (map[domain.VerificationKey]bool, error) {
	out := make(map[domain.VerificationKey]bool)
	if len(queryIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, found_id, verified
FROM verifications
WHERE query_id = ANY($1)
`, queryIDs)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key domain.VerificationKey
		var verified bool
		if err := rows.Scan(&key.QueryID, &key.FoundID, &verified); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out[key] = verified
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// RecordVerification upserts the outcome of a physical handover.
func (r *FeedbackRepository) RecordVerification(ctx context.Context, v domain.VerificationRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO verifications (query_id, found_id, verified, verified_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (query_id, found_id) DO UPDATE SET verified = EXCLUDED.verified, verified_at = EXCLUDED.verified_at
`, v.QueryID, v.FoundID, v.Verified, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	return nil
}
