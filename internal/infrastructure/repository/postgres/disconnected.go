package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

var errDisconnected = errors.New("postgres not configured")

// Disconnected stands in for the found-item, feedback and keyword stores when
// no database is configured. Reads fail with ErrStoreUnavailable.
type Disconnected struct{}

func (Disconnected) Available() bool { return false }

func (Disconnected) GetItems(context.Context, []string) (map[string]domain.FoundItem, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "get found items", errDisconnected)
}

func (Disconnected) ListUnprocessed(context.Context, string, int) ([]domain.FoundItem, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "list unprocessed", errDisconnected)
}

func (Disconnected) ListAll(context.Context, string, int) ([]domain.FoundItem, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "list found items", errDisconnected)
}

func (Disconnected) SaveAttributes(context.Context, string, domain.Attributes, []string) error {
	return domain.WrapError(domain.ErrStoreUnavailable, "save attributes", errDisconnected)
}

func (Disconnected) SearchText(context.Context, []string, int, domain.SearchFilter) ([]domain.KeywordHit, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "keyword search", errDisconnected)
}

func (Disconnected) InsertImpression(context.Context, domain.Impression) error {
	return domain.WrapError(domain.ErrStoreUnavailable, "insert impression", errDisconnected)
}

func (Disconnected) InsertSelection(context.Context, domain.Selection) error {
	return domain.WrapError(domain.ErrStoreUnavailable, "insert selection", errDisconnected)
}

func (Disconnected) ListSelectedImpressions(context.Context, time.Time, time.Time) ([]domain.SelectedImpression, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "list selected impressions", errDisconnected)
}

func (Disconnected) ListVerifications(context.Context, []string) (map[domain.VerificationKey]bool, error) {
	return nil, domain.WrapError(domain.ErrStoreUnavailable, "list verifications", errDisconnected)
}
