// Package dedup supplies already-known record identifiers so extraction can
// skip records that were ingested on a previous run.
package dedup

import (
	"context"
	"log/slog"

	"hostscrape/internal/models"
)

// IDSource answers which external identifiers are already persisted.
type IDSource interface {
	ExistingIDs(ctx context.Context, accountID int64, category models.Category) (map[string]struct{}, error)
}

type Resolver struct {
	source IDSource
	logger *slog.Logger
}

func NewResolver(source IDSource, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// ExistingIDs never fails: on a store error it returns an empty set, trading
// redundant re-extraction for availability. The worst case is repeated work,
// never lost data.
func (r *Resolver) ExistingIDs(ctx context.Context, accountID int64, category models.Category) map[string]struct{} {
	ids, err := r.source.ExistingIDs(ctx, accountID, category)
	if err != nil {
		r.logger.Warn("Failed to fetch existing ids, scraping everything",
			"account_id", accountID, "category", category, "error", err)
		return map[string]struct{}{}
	}
	if ids == nil {
		return map[string]struct{}{}
	}
	return ids
}
