package db

import (
	"context"
	"fmt"
	"time"

	"github.com/xpadev-net/clipwatch/internal/ids"
)

// LedgerRepository records what has already been dispatched so a group or
// privileged clip is announced at most once per tenant.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a ledger repository.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WasGroupSent reports whether any recorded group for the streamer overlaps
// [start, end]. Touching intervals count as overlapping.
func (r *LedgerRepository) WasGroupSent(ctx context.Context, tenantID int64, streamerID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sent_groups
			WHERE tenant_id = $1 AND streamer_id = $2
			  AND group_start <= $4 AND $3 <= group_end
		)
	`, tenantID, streamerID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query sent group: %w", err)
	}
	return exists, nil
}

// RecordGroupSent stores a dispatched group interval.
func (r *LedgerRepository) RecordGroupSent(ctx context.Context, tenantID int64, streamerID string, start, end time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sent_groups (id, tenant_id, streamer_id, group_start, group_end)
		VALUES ($1, $2, $3, $4, $5)
	`, ids.NewRowID(), tenantID, streamerID, start, end)
	if err != nil {
		return fmt.Errorf("insert sent group: %w", err)
	}
	return nil
}

// WasClipSent reports whether the clip was already forwarded to the tenant.
func (r *LedgerRepository) WasClipSent(ctx context.Context, tenantID int64, clipID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sent_clips WHERE tenant_id = $1 AND clip_id = $2)
	`, tenantID, clipID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query sent clip: %w", err)
	}
	return exists, nil
}

// RecordClipSent stores a forwarded clip. Recording the same clip twice is a no-op.
func (r *LedgerRepository) RecordClipSent(ctx context.Context, tenantID int64, clipID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sent_clips (id, tenant_id, clip_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, clip_id) DO NOTHING
	`, ids.NewRowID(), tenantID, clipID)
	if err != nil {
		return fmt.Errorf("insert sent clip: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes ledger rows older than the retention period and
// returns how many were removed.
func (r *LedgerRepository) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	groups, err := r.db.pool.Exec(ctx, `DELETE FROM sent_groups WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sent groups: %w", err)
	}
	clips, err := r.db.pool.Exec(ctx, `DELETE FROM sent_clips WHERE created_at < $1`, cutoff)
	if err != nil {
		return groups.RowsAffected(), fmt.Errorf("purge sent clips: %w", err)
	}
	return groups.RowsAffected() + clips.RowsAffected(), nil
}
