package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

type fakeExtractor struct {
	category models.Category
	payload  json.RawMessage
	err      error
	panicMsg string

	calls  int
	sawIDs map[string]struct{}
}

func (f *fakeExtractor) Category() models.Category { return f.category }

func (f *fakeExtractor) Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error) {
	f.calls++
	f.sawIDs = existing
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.payload, f.err
}

type fakeResolver struct {
	ids map[models.Category]map[string]struct{}
}

func (f *fakeResolver) ExistingIDs(ctx context.Context, accountID int64, category models.Category) map[string]struct{} {
	if ids, ok := f.ids[category]; ok {
		return ids
	}
	return map[string]struct{}{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPartialFailure(t *testing.T) {
	vehicles := &fakeExtractor{category: models.CategoryVehicles, payload: json.RawMessage(`[{"id":"v1"}]`)}
	trips := &fakeExtractor{category: models.CategoryTrips, err: errors.New("listing page timed out")}
	earnings := &fakeExtractor{category: models.CategoryEarnings, payload: json.RawMessage(`[{"id":"e1"}]`)}

	p := New(&fakeResolver{}, 0, discardLogger(), vehicles, trips, earnings)
	results, err := p.Run(context.Background(), nil, 7, []models.Category{
		models.CategoryVehicles, models.CategoryTrips, models.CategoryEarnings,
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected an entry per requested category, got %d", len(results))
	}
	if results[models.CategoryVehicles] == nil || results[models.CategoryEarnings] == nil {
		t.Fatal("expected successful categories to carry payloads")
	}
	if results[models.CategoryTrips] != nil {
		t.Fatal("expected failed category to be nil")
	}
	// The failing category must not have stopped the ones after it.
	if earnings.calls != 1 {
		t.Fatalf("expected earnings extracted after trips failed, got %d calls", earnings.calls)
	}
}

func TestRunAllCategoriesFail(t *testing.T) {
	vehicles := &fakeExtractor{category: models.CategoryVehicles, err: errors.New("nope")}
	trips := &fakeExtractor{category: models.CategoryTrips, err: errors.New("nope")}

	p := New(&fakeResolver{}, 0, discardLogger(), vehicles, trips)
	results, err := p.Run(context.Background(), nil, 7, []models.Category{
		models.CategoryVehicles, models.CategoryTrips,
	})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected nil entries to remain visible, got %d", len(results))
	}
}

func TestRunPassesExistingIDs(t *testing.T) {
	trips := &fakeExtractor{category: models.CategoryTrips, payload: json.RawMessage(`[{"id":"t3"}]`)}
	resolver := &fakeResolver{ids: map[models.Category]map[string]struct{}{
		models.CategoryTrips: {"t1": {}, "t2": {}},
	}}

	p := New(resolver, 0, discardLogger(), trips)
	if _, err := p.Run(context.Background(), nil, 7, []models.Category{models.CategoryTrips}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trips.sawIDs) != 2 {
		t.Fatalf("expected extractor to see 2 known ids, got %d", len(trips.sawIDs))
	}
	if _, ok := trips.sawIDs["t1"]; !ok {
		t.Fatal("expected t1 in the known set")
	}
}

func TestRunDropsKnownRecords(t *testing.T) {
	trips := &fakeExtractor{
		category: models.CategoryTrips,
		payload:  json.RawMessage(`[{"id":"A"},{"id":"C"},{"note":"no id"}]`),
	}
	resolver := &fakeResolver{ids: map[models.Category]map[string]struct{}{
		models.CategoryTrips: {"A": {}, "B": {}},
	}}

	p := New(resolver, 0, discardLogger(), trips)
	results, err := p.Run(context.Background(), nil, 7, []models.Category{models.CategoryTrips})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var records []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(results[models.CategoryTrips], &records); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected the known record dropped, got %d records", len(records))
	}
	if records[0].ID != "C" {
		t.Fatalf("expected only the new id downstream, got %q", records[0].ID)
	}
	// Records without an id cannot be matched against the known set.
	if records[1].ID != "" {
		t.Fatalf("expected the id-less record kept last, got %q", records[1].ID)
	}
}

func TestRunExtractorPanicIsContained(t *testing.T) {
	vehicles := &fakeExtractor{category: models.CategoryVehicles, panicMsg: "nil card node"}
	trips := &fakeExtractor{category: models.CategoryTrips, payload: json.RawMessage(`[{"id":"t1"}]`)}

	p := New(&fakeResolver{}, 0, discardLogger(), vehicles, trips)
	results, err := p.Run(context.Background(), nil, 7, []models.Category{
		models.CategoryVehicles, models.CategoryTrips,
	})
	if err != nil {
		t.Fatalf("a panicking extractor must not fail the run: %v", err)
	}
	if results[models.CategoryVehicles] != nil {
		t.Fatal("expected nil payload for the panicked category")
	}
	if results[models.CategoryTrips] == nil || trips.calls != 1 {
		t.Fatal("expected the sibling category to run after the panic")
	}
}

func TestRunMissingExtractorIsContained(t *testing.T) {
	vehicles := &fakeExtractor{category: models.CategoryVehicles, payload: json.RawMessage(`[]`)}

	p := New(&fakeResolver{}, 0, discardLogger(), vehicles)
	results, err := p.Run(context.Background(), nil, 7, []models.Category{
		models.CategoryReviews, models.CategoryVehicles,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results[models.CategoryReviews] != nil {
		t.Fatal("expected nil for unregistered category")
	}
	if results[models.CategoryVehicles] == nil {
		t.Fatal("expected registered category to succeed")
	}
}

func TestRunCancelledContext(t *testing.T) {
	vehicles := &fakeExtractor{category: models.CategoryVehicles, payload: json.RawMessage(`[]`)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(&fakeResolver{}, 0, discardLogger(), vehicles)
	_, err := p.Run(ctx, nil, 7, []models.Category{models.CategoryVehicles})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation surfaced, got %v", err)
	}
	if vehicles.calls != 0 {
		t.Fatal("expected no extraction after cancellation")
	}
}
