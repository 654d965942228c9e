// Package pipeline runs the per-category extraction sequence over one
// authenticated browser session. Categories fail independently; the run as a
// whole fails only when nothing at all was extracted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

// ErrNoData means every requested category failed to produce a payload.
var ErrNoData = errors.New("no category produced data")

// Extractor pulls one category's records out of a live page. The existing
// set carries identifiers persisted on previous runs; extractors skip
// detail work for those and may still re-list them, because any record with
// a known id is dropped before the payload leaves the pipeline.
type Extractor interface {
	Category() models.Category
	Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error)
}

// IDResolver supplies already-known identifiers per account and category.
type IDResolver interface {
	ExistingIDs(ctx context.Context, accountID int64, category models.Category) map[string]struct{}
}

type Pipeline struct {
	extractors map[models.Category]Extractor
	resolver   IDResolver
	delay      time.Duration
	logger     *slog.Logger
}

func New(resolver IDResolver, delay time.Duration, logger *slog.Logger, extractors ...Extractor) *Pipeline {
	byCategory := make(map[models.Category]Extractor, len(extractors))
	for _, ex := range extractors {
		byCategory[ex.Category()] = ex
	}
	return &Pipeline{
		extractors: byCategory,
		resolver:   resolver,
		delay:      delay,
		logger:     logger,
	}
}

// Run executes the requested categories in order against the page. The
// result map carries one entry per requested category: the extracted payload
// on success, nil on failure. Category failures are contained; Run returns
// an error only when the context dies or every category came back nil.
func (p *Pipeline) Run(ctx context.Context, page browser.Page, accountID int64, categories []models.Category) (map[models.Category]json.RawMessage, error) {
	logger := p.logger.With("account_id", accountID)
	results := make(map[models.Category]json.RawMessage, len(categories))

	for i, category := range categories {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("pipeline aborted: %w", err)
		}
		if i > 0 && p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-ctx.Done():
				return results, fmt.Errorf("pipeline aborted: %w", ctx.Err())
			}
		}

		results[category] = p.runCategory(ctx, page, accountID, category, logger)
	}

	for _, payload := range results {
		if payload != nil {
			return results, nil
		}
	}
	return results, ErrNoData
}

func (p *Pipeline) runCategory(ctx context.Context, page browser.Page, accountID int64, category models.Category, logger *slog.Logger) json.RawMessage {
	extractor, ok := p.extractors[category]
	if !ok {
		logger.Warn("No extractor registered for category", "category", category)
		return nil
	}

	existing := p.resolver.ExistingIDs(ctx, accountID, category)
	logger.Info("Extracting category", "category", category, "known_ids", len(existing))

	started := time.Now()
	payload, err := p.extract(ctx, extractor, page, existing)
	if err != nil {
		logger.Warn("Category extraction failed",
			"category", category, "elapsed", time.Since(started), "error", err)
		return nil
	}

	payload, dropped := dropKnown(payload, existing)
	logger.Info("Category extracted",
		"category", category, "elapsed", time.Since(started), "bytes", len(payload), "known_dropped", dropped)
	return payload
}

// extract shields the run from a misbehaving extractor: a panic is turned
// into a category failure instead of unwinding past the sibling categories.
func (p *Pipeline) extract(ctx context.Context, extractor Extractor, page browser.Page, existing map[string]struct{}) (payload json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, fmt.Errorf("extractor panicked: %v", r)
		}
	}()
	return extractor.Extract(ctx, page, existing)
}

// dropKnown removes records whose id was already persisted on a previous
// run, so only new records travel on to the task result and the sink.
// Records without an id cannot be matched and pass through.
func dropKnown(payload json.RawMessage, existing map[string]struct{}) (json.RawMessage, int) {
	if len(existing) == 0 {
		return payload, 0
	}
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsArray() {
		return payload, 0
	}

	kept := []byte(`[]`)
	dropped := 0
	for _, record := range parsed.Array() {
		if id := record.Get("id").String(); id != "" {
			if _, known := existing[id]; known {
				dropped++
				continue
			}
		}
		kept, _ = sjson.SetRawBytes(kept, "-1", []byte(record.Raw))
	}
	return kept, dropped
}
