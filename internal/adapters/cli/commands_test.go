package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/usecase"
)

type fakeBackfill struct {
	maxItems int
}

func (f *fakeBackfill) Run(_ context.Context, maxItems int) (usecase.BackfillReport, error) {
	f.maxItems = maxItems
	return usecase.BackfillReport{Processed: 4, Failed: 1}, nil
}

type fakeTrain struct {
	req     usecase.TrainRequest
	outcome *usecase.TrainOutcome
	err     error
}

func (f *fakeTrain) Run(_ context.Context, req usecase.TrainRequest) (*usecase.TrainOutcome, error) {
	f.req = req
	return f.outcome, f.err
}

type fakeReindex struct {
	n   int
	err error
}

func (f *fakeReindex) Run(context.Context) (int, error) { return f.n, f.err }

func run(t *testing.T, services Services, args ...string) (string, int, error) {
	t.Helper()
	opened, released := 0, 0
	root, release := NewRootCommand(func(context.Context) (Services, func(), error) {
		opened++
		return services, func() { released++ }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	release()
	release()
	if opened != released {
		t.Fatalf("opened %d times, released %d times", opened, released)
	}
	return out.String(), opened, err
}

func TestTrainPassesFlags(t *testing.T) {
	train := &fakeTrain{outcome: &usecase.TrainOutcome{Rows: 120, TrainRows: 96, ValRows: 24}}
	out, _, err := run(t, Services{Train: train}, "train", "--days", "14", "--dry-run", "--export", "ds.xlsx")
	if err != nil {
		t.Fatalf("train error = %v", err)
	}
	if train.req != (usecase.TrainRequest{Days: 14, DryRun: true, ExportPath: "ds.xlsx"}) {
		t.Fatalf("unexpected request %+v", train.req)
	}
	var outcome usecase.TrainOutcome
	if err := json.Unmarshal([]byte(out), &outcome); err != nil {
		t.Fatalf("expected json outcome, got %q: %v", out, err)
	}
	if outcome.Rows != 120 || outcome.Published {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestTrainReportsInsufficientDataWithCounts(t *testing.T) {
	train := &fakeTrain{
		outcome: &usecase.TrainOutcome{Rows: 12},
		err:     &domain.InsufficientDataError{What: "positives", Observed: 3, Required: 50},
	}
	out, _, err := run(t, Services{Train: train}, "train")
	if err == nil || !strings.Contains(err.Error(), "not enough data") {
		t.Fatalf("expected insufficient data error, got %v", err)
	}
	if !strings.Contains(out, `"rows": 12`) {
		t.Fatalf("expected partial outcome to be printed, got %q", out)
	}
	if train.req.Days != 30 {
		t.Fatalf("expected default of 30 days, got %d", train.req.Days)
	}
}

func TestBackfillAndReindex(t *testing.T) {
	backfill := &fakeBackfill{}
	out, _, err := run(t, Services{Backfill: backfill}, "backfill", "--max-items", "5")
	if err != nil {
		t.Fatalf("backfill error = %v", err)
	}
	if backfill.maxItems != 5 || !strings.Contains(out, `"processed": 4`) {
		t.Fatalf("unexpected backfill run: max=%d out=%q", backfill.maxItems, out)
	}

	_, _, err = run(t, Services{Reindex: &fakeReindex{n: 7, err: errors.New("qdrant down")}}, "reindex")
	if err == nil || !strings.Contains(err.Error(), "after 7 items") {
		t.Fatalf("expected reindex error with progress, got %v", err)
	}
}

func TestHelpDoesNotOpenServices(t *testing.T) {
	_, opened, err := run(t, Services{}, "--help")
	if err != nil {
		t.Fatalf("help error = %v", err)
	}
	if opened != 0 {
		t.Fatalf("expected services to stay closed for help")
	}
}
