// Package monitor runs the per-tenant monitoring cycle and the supervisor
// that schedules it.
package monitor

import (
	"context"
	"time"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/twitch"
)

// Source is the clip platform as seen by one tenant's credentials.
type Source interface {
	ResolveStreamer(ctx context.Context, login string) (*twitch.Streamer, error)
	GetLiveStatus(ctx context.Context, streamerID string) (*twitch.LiveStatus, error)
	GetLatestRecording(ctx context.Context, streamerID string) (*twitch.Recording, error)
	GetRecentClips(ctx context.Context, streamerID string, since time.Time) ([]clip.Clip, error)
}

// SourceFunc returns the Source for a tenant's application credentials.
type SourceFunc func(clientID, clientSecret string) Source

// TargetLister feeds the supervisor.
type TargetLister interface {
	ListEligible(ctx context.Context) ([]*db.Target, error)
}

// ExpiringLister feeds the expiry sweep.
type ExpiringLister interface {
	ListExpiring(ctx context.Context, within time.Duration) ([]*db.Target, error)
}

// State holds the streamer status cache and per-tenant flags.
type State interface {
	GetStreamerStatus(ctx context.Context, tenantID int64, streamerID string) (db.StreamerStatus, error)
	SetStreamerStatus(ctx context.Context, tenantID int64, streamerID string, status db.StreamerStatus) error
	GetFlag(ctx context.Context, tenantID int64, key string) (string, bool, error)
	SetFlag(ctx context.Context, tenantID int64, key, value string) error
	DeleteFlag(ctx context.Context, tenantID int64, key string) error
}

// Ledger remembers what has been dispatched.
type Ledger interface {
	WasGroupSent(ctx context.Context, tenantID int64, streamerID string, start, end time.Time) (bool, error)
	RecordGroupSent(ctx context.Context, tenantID int64, streamerID string, start, end time.Time) error
	WasClipSent(ctx context.Context, tenantID int64, clipID string) (bool, error)
	RecordClipSent(ctx context.Context, tenantID int64, clipID string) error
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Flag keys stored in State.
const (
	flagCredentialWarning = "credential_warning"
	flagExpiryNotice      = "expiry_notice"
)
