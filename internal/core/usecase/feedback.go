package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

const (
	defaultImpressionQueueSize = 256
	defaultImpressionWorkers   = 2
	defaultImpressionTimeout   = 3 * time.Second
)

// Impression logging outcomes reported to FeedbackConfig.OnOutcome.
const (
	OutcomeQueued    = "queued"
	OutcomeInline    = "inline"
	OutcomeSkipped   = "skipped"
	OutcomePersisted = "persisted"
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

type FeedbackConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	OnOutcome    func(outcome string)
}

// ImpressionInput is what the ranking pass hands to the logger.
type ImpressionInput struct {
	QueryID   string
	RawText   string
	Category  string
	SessionID string
	Query     domain.NormalizedQuery
	Results   []domain.RankedResult
}

// FeedbackUseCase records impressions off the request path and selections
// synchronously. Impressions go to the publisher when one is configured,
// otherwise straight to the store.
type FeedbackUseCase struct {
	store     ports.FeedbackStore
	publisher ports.ImpressionPublisher
	cfg       FeedbackConfig
	now       func() time.Time

	mu     sync.RWMutex
	queue  chan domain.Impression
	closed bool
	wg     sync.WaitGroup
}

func NewFeedbackUseCase(store ports.FeedbackStore, publisher ports.ImpressionPublisher, cfg FeedbackConfig) *FeedbackUseCase {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultImpressionQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultImpressionWorkers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultImpressionTimeout
	}
	return &FeedbackUseCase{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the background writers. Without Start every impression is
// written inline.
func (uc *FeedbackUseCase) Start() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.queue != nil || uc.closed {
		return
	}
	uc.queue = make(chan domain.Impression, uc.cfg.QueueSize)
	for i := 0; i < uc.cfg.Workers; i++ {
		uc.wg.Add(1)
		go func() {
			defer uc.wg.Done()
			for imp := range uc.queue {
				uc.dispatch(imp)
			}
		}()
	}
}

// Close stops accepting impressions and drains the queue.
func (uc *FeedbackUseCase) Close() {
	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	uc.closed = true
	if uc.queue != nil {
		close(uc.queue)
	}
	uc.mu.Unlock()
	uc.wg.Wait()
}

// LogImpression returns the new impression id, or "" when the store is not
// available. Write failures are logged and never returned.
func (uc *FeedbackUseCase) LogImpression(_ context.Context, in ImpressionInput) string {
	if uc.store == nil || !uc.store.Available() {
		uc.outcome(OutcomeSkipped)
		return ""
	}

	imp := domain.Impression{
		ImpressionID:  uuid.NewString(),
		QueryID:       in.QueryID,
		RawText:       domain.TruncateText(in.RawText, domain.MaxImpressionTextLen),
		Category:      in.Category,
		SessionID:     in.SessionID,
		Timestamp:     uc.now().UTC(),
		ShownResults:  make([]domain.ShownResult, 0, len(in.Results)),
		QuerySnapshot: domain.SnapshotOf(in.Query),
	}
	for _, r := range in.Results {
		imp.ShownResults = append(imp.ShownResults, domain.ShownResult{
			Rank:           r.Rank,
			FoundID:        r.FoundID,
			Score:          r.Score,
			ScoreBreakdown: domain.StripPrivate(r.ScoreBreakdown),
			ModelVersion:   r.ModelVersion,
		})
	}

	if uc.enqueue(imp) {
		uc.outcome(OutcomeQueued)
		return imp.ImpressionID
	}
	uc.outcome(OutcomeInline)
	uc.dispatch(imp)
	return imp.ImpressionID
}

func (uc *FeedbackUseCase) enqueue(imp domain.Impression) bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed || uc.queue == nil {
		return false
	}
	select {
	case uc.queue <- imp:
		return true
	default:
		return false
	}
}

// dispatch writes one impression with its own timeout, detached from the
// request context.
func (uc *FeedbackUseCase) dispatch(imp domain.Impression) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.cfg.WriteTimeout)
	defer cancel()

	if uc.publisher != nil {
		err := uc.publisher.PublishImpression(ctx, imp)
		if err == nil {
			uc.outcome(OutcomePublished)
			return
		}
		slog.Warn("impression_publish_failed", "impression_id", imp.ImpressionID, "error", err)
	}
	if err := uc.PersistImpression(ctx, imp); err != nil {
		slog.Error("impression_write_failed", "impression_id", imp.ImpressionID, "query_id", imp.QueryID, "error", err)
	}
}

// PersistImpression writes one impression to the store.
func (uc *FeedbackUseCase) PersistImpression(ctx context.Context, imp domain.Impression) error {
	if err := uc.store.InsertImpression(ctx, imp); err != nil {
		uc.outcome(OutcomeFailed)
		return err
	}
	uc.outcome(OutcomePersisted)
	return nil
}

// LogSelection records a selection. It reports whether the write happened.
func (uc *FeedbackUseCase) LogSelection(ctx context.Context, sel domain.Selection) bool {
	if uc.store == nil || !uc.store.Available() {
		slog.Warn("selection_skipped_store_unavailable", "impression_id", sel.ImpressionID)
		return false
	}
	if sel.SelectionID == "" {
		sel.SelectionID = SelectionID(sel.ImpressionID, sel.SelectedFoundID)
	}
	if sel.Timestamp.IsZero() {
		sel.Timestamp = uc.now().UTC()
	}
	sel.RawText = domain.TruncateText(sel.RawText, domain.MaxImpressionTextLen)

	if err := uc.store.InsertSelection(ctx, sel); err != nil {
		slog.Error("selection_write_failed", "impression_id", sel.ImpressionID, "error", err)
		return false
	}
	return true
}

// SelectionID derives a stable id so that re-logging the same pick is a no-op.
func SelectionID(impressionID, foundID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("selection:"+impressionID+"/"+foundID)).String()
}

func (uc *FeedbackUseCase) outcome(name string) {
	if uc.cfg.OnOutcome != nil {
		uc.cfg.OnOutcome(name)
	}
}
