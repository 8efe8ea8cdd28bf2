package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StateRepository keeps per-tenant mutable state: the streamer status cache
// and small keyed flags used for once-only notifications.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a state repository.
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// GetStreamerStatus returns the cached status, or StreamerUnknown when the
// streamer has never been observed.
func (r *StateRepository) GetStreamerStatus(ctx context.Context, tenantID int64, streamerID string) (StreamerStatus, error) {
	var status string
	err := r.db.pool.QueryRow(ctx, `
		SELECT status FROM streamer_status WHERE tenant_id = $1 AND streamer_id = $2
	`, tenantID, streamerID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StreamerUnknown, nil
		}
		return StreamerUnknown, fmt.Errorf("query streamer status: %w", err)
	}
	return StreamerStatus(status), nil
}

// SetStreamerStatus stores the latest observed status.
func (r *StateRepository) SetStreamerStatus(ctx context.Context, tenantID int64, streamerID string, status StreamerStatus) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO streamer_status (tenant_id, streamer_id, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, streamer_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, tenantID, streamerID, string(status))
	if err != nil {
		return fmt.Errorf("upsert streamer status: %w", err)
	}
	return nil
}

// GetFlag returns a flag value and whether it is set.
func (r *StateRepository) GetFlag(ctx context.Context, tenantID int64, key string) (string, bool, error) {
	var value string
	err := r.db.pool.QueryRow(ctx, `
		SELECT value FROM tenant_flags WHERE tenant_id = $1 AND key = $2
	`, tenantID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query flag: %w", err)
	}
	return value, true, nil
}

// SetFlag stores a flag value.
func (r *StateRepository) SetFlag(ctx context.Context, tenantID int64, key, value string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenant_flags (tenant_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, tenantID, key, value)
	if err != nil {
		return fmt.Errorf("upsert flag: %w", err)
	}
	return nil
}

// DeleteFlag clears a flag. Clearing an unset flag is not an error.
func (r *StateRepository) DeleteFlag(ctx context.Context, tenantID int64, key string) error {
	if _, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenant_flags WHERE tenant_id = $1 AND key = $2
	`, tenantID, key); err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	return nil
}
