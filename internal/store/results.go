// Package store is the persistence collaborator for scraped data. The
// orchestrator never interprets record payloads; it upserts them keyed by
// (account, category, external id) and answers which ids are already known.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/gjson"

	"hostscrape/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ExistingIDs returns every external identifier already persisted for the
// account and category.
func (s *Store) ExistingIDs(ctx context.Context, accountID int64, category models.Category) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_id FROM scraped_records
		WHERE account_id = $1 AND category = $2
	`, accountID, string(category))
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing ids: %w", err)
	}
	return ids, nil
}

// SaveResults upserts the records of one category payload. The payload is a
// JSON array; each element carries an "id" field plus opaque business data.
// Elements without an id are skipped — the orchestrator does not try to
// repair extractor output.
func (s *Store) SaveResults(ctx context.Context, accountID int64, category models.Category, payload json.RawMessage) (int, error) {
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsArray() {
		return 0, fmt.Errorf("payload for %s is not a JSON array", category)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	saved := 0
	for _, record := range parsed.Array() {
		externalID := record.Get("id").String()
		if externalID == "" {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO scraped_records (account_id, category, external_id, payload, scraped_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_id, category, external_id) DO UPDATE
			SET payload = EXCLUDED.payload,
			    scraped_at = NOW()
		`, accountID, string(category), externalID, []byte(record.Raw))
		if err != nil {
			return 0, fmt.Errorf("upsert record %s/%s: %w", category, externalID, err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return saved, nil
}
