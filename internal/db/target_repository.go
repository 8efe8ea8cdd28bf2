package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrTargetNotFound is returned when no tenant row matches the id.
var ErrTargetNotFound = errors.New("target not found")

const targetColumns = `id, client_id, client_secret, streamers, mode, manual_window_sec, manual_min_clips,
	privileged_creator, partner_mode, destination, notify_online, setup_complete, expires_at,
	created_at, updated_at`

// TargetRepository reads and writes tenant monitoring targets.
type TargetRepository struct {
	db       *DB
	maxSlots int
}

// NewTargetRepository creates a target repository. Streamer lists returned
// by ListEligible are truncated to maxSlots when it is positive.
func NewTargetRepository(db *DB, maxSlots int) *TargetRepository {
	return &TargetRepository{db: db, maxSlots: maxSlots}
}

// ListEligible returns every target that should be monitored right now.
func (r *TargetRepository) ListEligible(ctx context.Context) ([]*Target, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+targetColumns+`
		FROM tenants
		WHERE setup_complete
		  AND expires_at > NOW()
		  AND client_id <> '' AND client_secret <> ''
		  AND destination <> ''
		  AND cardinality(streamers) > 0
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query eligible targets: %w", err)
	}
	targets, err := collectTargets(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		t.Streamers = truncateSlots(t.Streamers, r.maxSlots)
	}
	return targets, nil
}

// ListExpiring returns set-up targets whose subscription ends before
// now+within, including those that expired up to one day ago.
func (r *TargetRepository) ListExpiring(ctx context.Context, within time.Duration) ([]*Target, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+targetColumns+`
		FROM tenants
		WHERE setup_complete
		  AND expires_at IS NOT NULL
		  AND expires_at <= NOW() + make_interval(secs => $1)
		  AND expires_at > NOW() - INTERVAL '1 day'
		ORDER BY expires_at
	`, within.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query expiring targets: %w", err)
	}
	return collectTargets(rows)
}

// GetByID retrieves a target by tenant id.
func (r *TargetRepository) GetByID(ctx context.Context, tenantID int64) (*Target, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM tenants WHERE id = $1`, tenantID)
	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("query target: %w", err)
	}
	return t, nil
}

// Upsert creates or replaces a target.
func (r *TargetRepository) Upsert(ctx context.Context, t *Target) error {
	if err := t.Validate(r.maxSlots); err != nil {
		return err
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, client_id, client_secret, streamers, mode, manual_window_sec,
			manual_min_clips, privileged_creator, partner_mode, destination, notify_online,
			setup_complete, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			streamers = EXCLUDED.streamers,
			mode = EXCLUDED.mode,
			manual_window_sec = EXCLUDED.manual_window_sec,
			manual_min_clips = EXCLUDED.manual_min_clips,
			privileged_creator = EXCLUDED.privileged_creator,
			partner_mode = EXCLUDED.partner_mode,
			destination = EXCLUDED.destination,
			notify_online = EXCLUDED.notify_online,
			setup_complete = EXCLUDED.setup_complete,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, t.TenantID, t.ClientID, t.ClientSecret, t.Streamers, string(t.Mode), t.ManualWindowSec,
		t.ManualMinClips, t.PrivilegedCreator, string(t.PartnerMode), t.Destination, t.NotifyOnline,
		t.SetupComplete, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

func collectTargets(rows pgx.Rows) ([]*Target, error) {
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

func scanTarget(row pgx.Row) (*Target, error) {
	var t Target
	var mode, partner string
	err := row.Scan(
		&t.TenantID,
		&t.ClientID,
		&t.ClientSecret,
		&t.Streamers,
		&mode,
		&t.ManualWindowSec,
		&t.ManualMinClips,
		&t.PrivilegedCreator,
		&partner,
		&t.Destination,
		&t.NotifyOnline,
		&t.SetupComplete,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Mode = clipMode(mode)
	t.PartnerMode = partnerMode(partner)
	return &t, nil
}

func truncateSlots(streamers []string, maxSlots int) []string {
	if maxSlots <= 0 || len(streamers) <= maxSlots {
		return streamers
	}
	return streamers[:maxSlots]
}
