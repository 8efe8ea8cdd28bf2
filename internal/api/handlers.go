package api

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/httpapi"
	"github.com/xpadev-net/clipwatch/internal/log"
	"github.com/xpadev-net/clipwatch/internal/monitor"
)

// TargetStore reads and writes tenant configuration.
type TargetStore interface {
	GetByID(ctx context.Context, tenantID int64) (*db.Target, error)
	Upsert(ctx context.Context, t *db.Target) error
}

// Supervisor exposes the scheduling state of tenants.
type Supervisor interface {
	Snapshot() []monitor.TaskSnapshot
	State(tenantID int64) monitor.TaskState
}

// HealthChecker reports storage connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	targets    TargetStore
	supervisor Supervisor
	health     HealthChecker
}

// NewHandler creates a new API handler.
func NewHandler(targets TargetStore, supervisor Supervisor, health HealthChecker) *Handler {
	return &Handler{targets: targets, supervisor: supervisor, health: health}
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	httpapi.RespondOK(c, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Health(ctx); err != nil {
		log.Warn("readiness check failed", zap.Error(err))
		httpapi.RespondUnavailable(c, "Database unavailable")
		return
	}
	httpapi.RespondOK(c, gin.H{"status": "ready"})
}

// ListTenantsResponse represents the response for listing scheduled tenants.
type ListTenantsResponse struct {
	Tenants []monitor.TaskSnapshot `json:"tenants"`
}

// ListTenants handles GET /api/v1/tenants
func (h *Handler) ListTenants(c *gin.Context) {
	httpapi.RespondOK(c, ListTenantsResponse{Tenants: h.supervisor.Snapshot()})
}

// TenantResponse represents one tenant's configuration and scheduling state.
type TenantResponse struct {
	*db.Target
	HasCredentials bool              `json:"has_credentials"`
	Eligible       bool              `json:"eligible"`
	TaskState      monitor.TaskState `json:"task_state"`
}

// GetTenant handles GET /api/v1/tenants/:tenant_id
func (h *Handler) GetTenant(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}

	target, err := h.targets.GetByID(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, db.ErrTargetNotFound) {
			httpapi.RespondNotFound(c, "Tenant not found")
			return
		}
		log.Error("failed to get tenant", zap.Int64("tenant_id", tenantID), zap.Error(err))
		httpapi.RespondInternalError(c, "Failed to get tenant")
		return
	}

	httpapi.RespondOK(c, TenantResponse{
		Target:         target,
		HasCredentials: target.ClientID != "" && target.ClientSecret != "",
		Eligible:       target.Eligible(time.Now()),
		TaskState:      h.supervisor.State(tenantID),
	})
}

// PutTenantRequest represents the request body for creating or replacing a tenant.
type PutTenantRequest struct {
	ClientID          string     `json:"client_id"`
	ClientSecret      string     `json:"client_secret"`
	Streamers         []string   `json:"streamers"`
	Mode              string     `json:"mode,omitempty"`
	ManualWindowSec   int        `json:"manual_window_sec,omitempty"`
	ManualMinClips    int        `json:"manual_min_clips,omitempty"`
	PrivilegedCreator string     `json:"privileged_creator,omitempty"`
	PartnerMode       string     `json:"partner_mode,omitempty"`
	Destination       string     `json:"destination"`
	NotifyOnline      *bool      `json:"notify_online,omitempty"`
	SetupComplete     bool       `json:"setup_complete"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// toTarget applies defaults and normalizes streamer handles.
func (r *PutTenantRequest) toTarget(tenantID int64) *db.Target {
	t := &db.Target{
		TenantID:          tenantID,
		ClientID:          strings.TrimSpace(r.ClientID),
		ClientSecret:      strings.TrimSpace(r.ClientSecret),
		Mode:              clip.Mode(r.Mode),
		ManualWindowSec:   r.ManualWindowSec,
		ManualMinClips:    r.ManualMinClips,
		PrivilegedCreator: strings.TrimSpace(r.PrivilegedCreator),
		PartnerMode:       db.PartnerMode(r.PartnerMode),
		Destination:       strings.TrimSpace(r.Destination),
		NotifyOnline:      true,
		SetupComplete:     r.SetupComplete,
		ExpiresAt:         r.ExpiresAt,
	}
	if t.Mode == "" {
		t.Mode = clip.ModeAuto
	}
	if t.PartnerMode == "" {
		t.PartnerMode = db.PartnerBoth
	}
	if r.NotifyOnline != nil {
		t.NotifyOnline = *r.NotifyOnline
	}
	t.Streamers = make([]string, 0, len(r.Streamers))
	for _, s := range r.Streamers {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
		if s != "" {
			t.Streamers = append(t.Streamers, s)
		}
	}
	return t
}

// PutTenant handles PUT /api/v1/tenants/:tenant_id
func (h *Handler) PutTenant(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}

	var req PutTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	target := req.toTarget(tenantID)
	if err := h.targets.Upsert(c.Request.Context(), target); err != nil {
		if errors.Is(err, db.ErrInvalidTarget) {
			httpapi.RespondValidationError(c, err.Error())
			return
		}
		log.Error("failed to store tenant", zap.Int64("tenant_id", tenantID), zap.Error(err))
		httpapi.RespondInternalError(c, "Failed to store tenant")
		return
	}

	log.Info("tenant stored", zap.Int64("tenant_id", tenantID), zap.Int("streamers", len(target.Streamers)))
	h.GetTenant(c)
}

func parseTenantID(c *gin.Context) (int64, bool) {
	tenantID, err := strconv.ParseInt(c.Param("tenant_id"), 10, 64)
	if err != nil || tenantID == 0 {
		httpapi.RespondNotFound(c, "Tenant not found")
		return 0, false
	}
	return tenantID, true
}
