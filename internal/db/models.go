package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/xpadev-net/clipwatch/internal/clip"
)

// ErrInvalidTarget wraps every Target validation failure.
var ErrInvalidTarget = errors.New("invalid target")

// StreamerStatus is the cached live state of one streamer for one tenant.
type StreamerStatus string

const (
	StreamerUnknown StreamerStatus = ""
	StreamerOnline  StreamerStatus = "online"
	StreamerOffline StreamerStatus = "offline"
)

// PartnerMode selects which detection paths a tenant receives.
type PartnerMode string

const (
	// PartnerBot runs only burst detection.
	PartnerBot PartnerMode = "bot"
	// PartnerCreator forwards only the privileged creator's clips.
	PartnerCreator PartnerMode = "creator"
	// PartnerBoth runs both paths.
	PartnerBoth PartnerMode = "both"
)

// AllowsBot reports whether burst detection is enabled.
func (m PartnerMode) AllowsBot() bool {
	return m != PartnerCreator
}

// AllowsCreator reports whether privileged creator clips are forwarded.
func (m PartnerMode) AllowsCreator() bool {
	return m == PartnerCreator || m == PartnerBoth
}

// Target is one tenant's monitoring configuration, loaded fresh every cycle.
type Target struct {
	TenantID          int64       `json:"tenant_id"`
	ClientID          string      `json:"-"`
	ClientSecret      string      `json:"-"`
	Streamers         []string    `json:"streamers"`
	Mode              clip.Mode   `json:"mode"`
	ManualWindowSec   int         `json:"manual_window_sec"`
	ManualMinClips    int         `json:"manual_min_clips"`
	PrivilegedCreator string      `json:"privileged_creator,omitempty"`
	PartnerMode       PartnerMode `json:"partner_mode"`
	Destination       string      `json:"destination"`
	NotifyOnline      bool        `json:"notify_online"`
	SetupComplete     bool        `json:"setup_complete"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Eligible reports whether the target should be monitored at the given time.
func (t *Target) Eligible(now time.Time) bool {
	return t.SetupComplete &&
		t.ExpiresAt != nil && t.ExpiresAt.After(now) &&
		t.ClientID != "" && t.ClientSecret != "" &&
		t.Destination != "" &&
		len(t.Streamers) > 0
}

// Validate checks a target before it is stored.
func (t *Target) Validate(maxSlots int) error {
	if t.TenantID == 0 {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidTarget)
	}
	if !t.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTarget, t.Mode)
	}
	if t.Mode == clip.ModeManual && (t.ManualWindowSec <= 0 || t.ManualMinClips <= 0) {
		return fmt.Errorf("%w: manual mode needs positive manual_window_sec and manual_min_clips", ErrInvalidTarget)
	}
	switch t.PartnerMode {
	case PartnerBot, PartnerCreator, PartnerBoth:
	default:
		return fmt.Errorf("%w: unknown partner_mode %q", ErrInvalidTarget, t.PartnerMode)
	}
	if maxSlots > 0 && len(t.Streamers) > maxSlots {
		return fmt.Errorf("%w: at most %d streamers allowed, got %d", ErrInvalidTarget, maxSlots, len(t.Streamers))
	}
	return nil
}

// clipMode maps a stored mode, treating unknown values as auto.
func clipMode(s string) clip.Mode {
	m := clip.Mode(s)
	if !m.Valid() {
		return clip.ModeAuto
	}
	return m
}

// partnerMode maps a stored partner mode, treating unknown values as both.
func partnerMode(s string) PartnerMode {
	switch m := PartnerMode(s); m {
	case PartnerBot, PartnerCreator, PartnerBoth:
		return m
	default:
		return PartnerBoth
	}
}
