// Package session persists browser authentication state per account.
//
// At most one session row per account is active at any time: Save deactivates
// the previous active row and inserts the replacement inside one transaction.
// Store outages are reported as ErrStorageUnavailable so callers can fail
// open to a fresh login instead of aborting the task.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrStorageUnavailable = errors.New("session storage unavailable")
)

// Metadata carries optional audit fields captured at login time.
type Metadata struct {
	UserAgent string
	IPAddress string
}

type Store struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, ttl: ttl}
}

// Save deactivates any currently active session for the account and inserts
// a new active one in the same transaction, returning its session ID.
func (s *Store) Save(ctx context.Context, accountID int64, storageState []byte, meta Metadata) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE browser_sessions
		SET is_active = FALSE
		WHERE account_id = $1 AND is_active = TRUE
	`, accountID)
	if err != nil {
		return "", fmt.Errorf("%w: deactivate previous: %v", ErrStorageUnavailable, err)
	}

	sessionID := uuid.NewString()
	expiresAt := time.Now().Add(s.ttl)
	_, err = tx.Exec(ctx, `
		INSERT INTO browser_sessions
			(account_id, session_id, storage_state, is_active, user_agent, ip_address, last_used_at, expires_at)
		VALUES ($1, $2, $3, TRUE, NULLIF($4, ''), NULLIF($5, ''), NOW(), $6)
	`, accountID, sessionID, storageState, meta.UserAgent, meta.IPAddress, expiresAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", ErrStorageUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return sessionID, nil
}

// GetActive returns the storage state of the most recently used, non-expired
// active session for the account and bumps its last_used_at.
func (s *Store) GetActive(ctx context.Context, accountID int64) ([]byte, error) {
	var storageState []byte
	err := s.pool.QueryRow(ctx, `
		UPDATE browser_sessions
		SET last_used_at = NOW()
		WHERE id = (
			SELECT id FROM browser_sessions
			WHERE account_id = $1
			  AND is_active = TRUE
			  AND expires_at > NOW()
			ORDER BY last_used_at DESC
			LIMIT 1
		)
		RETURNING storage_state
	`, accountID).Scan(&storageState)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return storageState, nil
}

func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE browser_sessions
		SET is_active = FALSE
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSession
	}
	return nil
}

// SweepExpired marks all expired rows inactive and returns how many were
// affected. Idempotent: a second sweep finds nothing.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE browser_sessions
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
