package db

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xpadev-net/clipwatch/internal/clip"
)

// Note: these tests cover the model helpers and the pieces of repository
// logic that run outside SQL. Queries are exercised against a real database
// in repository_integration_test.go.

func TestPartnerMode(t *testing.T) {
	tests := []struct {
		mode        PartnerMode
		wantBot     bool
		wantCreator bool
	}{
		{PartnerBot, true, false},
		{PartnerCreator, false, true},
		{PartnerBoth, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.AllowsBot(); got != tt.wantBot {
				t.Errorf("AllowsBot() = %v, want %v", got, tt.wantBot)
			}
			if got := tt.mode.AllowsCreator(); got != tt.wantCreator {
				t.Errorf("AllowsCreator() = %v, want %v", got, tt.wantCreator)
			}
		})
	}
}

func validTarget(now time.Time) *Target {
	expires := now.Add(48 * time.Hour)
	return &Target{
		TenantID:      7,
		ClientID:      "id",
		ClientSecret:  "secret",
		Streamers:     []string{"a"},
		Mode:          clip.ModeAuto,
		PartnerMode:   PartnerBoth,
		Destination:   "12345",
		SetupComplete: true,
		ExpiresAt:     &expires,
	}
}

func TestTarget_Eligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		mutate func(*Target)
		want   bool
	}{
		{"complete target", func(*Target) {}, true},
		{"setup incomplete", func(t *Target) { t.SetupComplete = false }, false},
		{"expired", func(t *Target) { t.ExpiresAt = &past }, false},
		{"no expiry", func(t *Target) { t.ExpiresAt = nil }, false},
		{"missing secret", func(t *Target) { t.ClientSecret = "" }, false},
		{"no streamers", func(t *Target) { t.Streamers = nil }, false},
		{"no destination", func(t *Target) { t.Destination = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := validTarget(now)
			tt.mutate(target)
			if got := target.Eligible(now); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTarget_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(*Target)
		wantErr string
	}{
		{"valid", func(*Target) {}, ""},
		{"missing tenant", func(t *Target) { t.TenantID = 0 }, "tenant_id"},
		{"unknown mode", func(t *Target) { t.Mode = "turbo" }, "mode"},
		{"manual without values", func(t *Target) { t.Mode = clip.ModeManual }, "manual"},
		{"manual with values", func(t *Target) {
			t.Mode = clip.ModeManual
			t.ManualWindowSec = 20
			t.ManualMinClips = 4
		}, ""},
		{"unknown partner mode", func(t *Target) { t.PartnerMode = "off" }, "partner_mode"},
		{"too many streamers", func(t *Target) { t.Streamers = []string{"a", "b", "c"} }, "at most 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := validTarget(now)
			tt.mutate(target)
			err := target.Validate(2)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTarget) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTruncateSlots(t *testing.T) {
	streamers := []string{"a", "b", "c", "d"}

	if got := truncateSlots(streamers, 2); len(got) != 2 || got[1] != "b" {
		t.Errorf("truncateSlots(2) = %v", got)
	}
	if got := truncateSlots(streamers, 10); len(got) != 4 {
		t.Errorf("truncateSlots(10) = %v", got)
	}
	if got := truncateSlots(streamers, 0); len(got) != 4 {
		t.Errorf("truncateSlots(0) = %v, want untouched", got)
	}
}

func TestClipMode(t *testing.T) {
	if got := clipMode("high"); got != clip.ModeHigh {
		t.Errorf("clipMode(high) = %q", got)
	}
	if got := clipMode("bogus"); got != clip.ModeAuto {
		t.Errorf("clipMode(bogus) = %q, want auto", got)
	}
}

func TestPartnerModeFromStore(t *testing.T) {
	tests := []struct {
		stored string
		want   PartnerMode
	}{
		{stored: "bot", want: PartnerBot},
		{stored: "creator", want: PartnerCreator},
		{stored: "both", want: PartnerBoth},
		{stored: "", want: PartnerBoth},
		{stored: "Creator", want: PartnerBoth},
		{stored: "viewer", want: PartnerBoth},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			got := partnerMode(tt.stored)
			if got != tt.want {
				t.Errorf("partnerMode(%q) = %q, want %q", tt.stored, got, tt.want)
			}
			// An unknown stored value must not silently disable both paths.
			if !got.AllowsBot() && !got.AllowsCreator() {
				t.Errorf("partnerMode(%q) enables no detection path", tt.stored)
			}
		})
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles() error: %v", err)
	}
	if len(names) == 0 || names[0] != "migrations/001_initial_schema.sql" {
		t.Errorf("migrationFiles() = %v", names)
	}
}

func TestRepositories_New(t *testing.T) {
	if r := NewTargetRepository(nil, 5); r == nil || r.maxSlots != 5 {
		t.Error("NewTargetRepository() returned unexpected value")
	}
	if NewStateRepository(nil) == nil {
		t.Error("NewStateRepository() returned nil")
	}
	if NewLedgerRepository(nil) == nil {
		t.Error("NewLedgerRepository() returned nil")
	}
}
