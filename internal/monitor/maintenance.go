package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/dispatch"
	"github.com/xpadev-net/clipwatch/internal/log"
	"github.com/xpadev-net/clipwatch/internal/metrics"
)

// expiryThresholds are the remaining-day marks that trigger a reminder,
// largest first.
var expiryThresholds = []int{7, 3, 1, 0}

const day = 24 * time.Hour

// MaintenanceConfig tunes the background sweeps.
type MaintenanceConfig struct {
	ExpiryInterval    time.Duration
	RetentionInterval time.Duration
	Retention         time.Duration
	// OpTimeout bounds one sweep.
	OpTimeout time.Duration
}

// Maintenance runs the expiry reminder and ledger retention sweeps.
type Maintenance struct {
	targets    ExpiringLister
	state      State
	ledger     Ledger
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	cfg        MaintenanceConfig
	now        func() time.Time
}

// NewMaintenance creates the sweeps. m may be nil.
func NewMaintenance(targets ExpiringLister, state State, ledger Ledger, dispatcher dispatch.Dispatcher, m *metrics.Metrics, cfg MaintenanceConfig) *Maintenance {
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = time.Hour
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = day
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = time.Minute
	}
	return &Maintenance{
		targets:    targets,
		state:      state,
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run executes both sweeps on their intervals until ctx is canceled.
func (m *Maintenance) Run(ctx context.Context) {
	log.Info("starting maintenance sweeps",
		zap.Duration("expiry_interval", m.cfg.ExpiryInterval),
		zap.Duration("retention_interval", m.cfg.RetentionInterval),
		zap.Duration("retention", m.cfg.Retention),
	)
	expiry := time.NewTicker(m.cfg.ExpiryInterval)
	defer expiry.Stop()
	retention := time.NewTicker(m.cfg.RetentionInterval)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("maintenance sweeps stopped")
			return
		case <-expiry.C:
			opCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
			if err := m.SweepExpiry(opCtx); err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
			}
			cancel()
		case <-retention.C:
			opCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
			if _, err := m.SweepRetention(opCtx); err != nil {
				log.Error("retention sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// SweepRetention purges ledger rows older than the retention period.
func (m *Maintenance) SweepRetention(ctx context.Context) (int64, error) {
	purged, err := m.ledger.PurgeOlderThan(ctx, m.cfg.Retention)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		log.Info("ledger rows purged", zap.Int64("purged", purged))
	}
	return purged, nil
}

// SweepExpiry sends one reminder per crossed threshold to every tenant whose
// subscription is about to end. Renewing resets the reminders.
func (m *Maintenance) SweepExpiry(ctx context.Context) error {
	targets, err := m.targets.ListExpiring(ctx, time.Duration(expiryThresholds[0]+1)*day)
	if err != nil {
		return fmt.Errorf("list expiring tenants: %w", err)
	}

	now := m.now()
	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.remind(ctx, t, now)
	}
	return nil
}

func (m *Maintenance) remind(ctx context.Context, t *db.Target, now time.Time) {
	if t.ExpiresAt == nil || t.Destination == "" {
		return
	}
	logger := log.Tenant(t.TenantID)

	daysLeft := remainingDays(*t.ExpiresAt, now)
	threshold, ok := crossedThreshold(daysLeft)
	if !ok {
		return
	}

	value, set, err := m.state.GetFlag(ctx, t.TenantID, flagExpiryNotice)
	if err != nil {
		logger.Warn("expiry flag read failed", zap.Error(err))
		return
	}
	if set {
		if expiresAt, last, ok := parseExpiryFlag(value); ok && expiresAt == t.ExpiresAt.Unix() && last <= threshold {
			return
		}
	}

	msg := dispatch.FormatExpiry(t.TenantID, daysLeft, *t.ExpiresAt)
	err = m.dispatcher.Send(ctx, t.Destination, msg)
	m.metrics.IncDispatch(string(msg.Kind), err)
	if err != nil {
		logger.Error("expiry reminder failed", zap.Error(err))
		return
	}
	if err := m.state.SetFlag(ctx, t.TenantID, flagExpiryNotice, formatExpiryFlag(t.ExpiresAt.Unix(), threshold)); err != nil {
		logger.Error("expiry flag write failed", zap.Error(err))
	}
	logger.Info("expiry reminder sent", zap.Int("days_left", daysLeft), zap.Int("threshold", threshold))
}

// remainingDays returns whole days until expiry, or -1 once it has passed.
func remainingDays(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return -1
	}
	return int(left / day)
}

// crossedThreshold returns the smallest threshold daysLeft has reached.
func crossedThreshold(daysLeft int) (int, bool) {
	crossed, ok := 0, false
	for _, th := range expiryThresholds {
		if daysLeft <= th {
			crossed, ok = th, true
		}
	}
	return crossed, ok
}

func formatExpiryFlag(expiresAt int64, threshold int) string {
	return fmt.Sprintf("%d:%d", expiresAt, threshold)
}

func parseExpiryFlag(v string) (expiresAt int64, threshold int, ok bool) {
	a, b, found := strings.Cut(v, ":")
	if !found {
		return 0, 0, false
	}
	expiresAt, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	threshold, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return expiresAt, threshold, true
}
