package monitor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/dispatch"
	"github.com/xpadev-net/clipwatch/internal/ids"
	"github.com/xpadev-net/clipwatch/internal/log"
	"github.com/xpadev-net/clipwatch/internal/metrics"
	"github.com/xpadev-net/clipwatch/internal/twitch"
)

// CycleConfig tunes a monitoring cycle.
type CycleConfig struct {
	// CallTimeout bounds every external read.
	CallTimeout time.Duration
	// Lookback is how far back clips are fetched.
	Lookback time.Duration
	// ResolveConcurrency limits parallel streamer lookups.
	ResolveConcurrency int
}

// DefaultCycleConfig returns the production cycle settings.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		CallTimeout:        10 * time.Second,
		Lookback:           5 * time.Minute,
		ResolveConcurrency: 4,
	}
}

// Cycle performs one monitoring pass for a tenant.
type Cycle struct {
	sources    SourceFunc
	state      State
	ledger     Ledger
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	cfg        CycleConfig
	now        func() time.Time
}

// NewCycle creates a cycle runner. m may be nil.
func NewCycle(sources SourceFunc, state State, ledger Ledger, dispatcher dispatch.Dispatcher, m *metrics.Metrics, cfg CycleConfig) *Cycle {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCycleConfig().CallTimeout
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultCycleConfig().Lookback
	}
	if cfg.ResolveConcurrency <= 0 {
		cfg.ResolveConcurrency = 1
	}
	return &Cycle{
		sources:    sources,
		state:      state,
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

// cycleRun carries the per-run state of one Cycle.Run call.
type cycleRun struct {
	*Cycle
	target     *db.Target
	source     Source
	classifier *Classifier
	logger     *zap.Logger

	// authenticated is set once any source call succeeds in this run.
	authenticated atomic.Bool
}

// Run executes one cycle. It never fails: errors are logged, credential
// rejection triggers a one-time warning to the tenant, and everything else
// degrades to "no data" for the affected step.
func (c *Cycle) Run(ctx context.Context, target *db.Target) {
	start := c.now()
	logger := log.Tenant(target.TenantID).With(zap.String("cycle_id", ids.NewCycleID()))
	source := c.sources(target.ClientID, target.ClientSecret)
	run := &cycleRun{
		Cycle:      c,
		target:     target,
		source:     source,
		classifier: NewClassifier(source, c.cfg.CallTimeout, logger),
		logger:     logger,
	}
	run.classifier.now = c.now

	logger.Debug("cycle started", zap.Int("streamers", len(target.Streamers)))
	err := run.execute(ctx)

	result := metrics.ResultOK
	switch {
	case errors.Is(err, twitch.ErrUnauthorized):
		result = metrics.ResultUnauthorized
		logger.Warn("credentials rejected, cycle aborted")
		run.warnCredentials(ctx)
	case ctx.Err() != nil:
		result = metrics.ResultCanceled
		logger.Info("cycle canceled")
	case run.authenticated.Load():
		run.clearCredentialWarning(ctx)
	}

	elapsed := c.now().Sub(start)
	c.metrics.ObserveCycle(result, elapsed)
	logger.Debug("cycle finished", zap.String("result", result), zap.Duration("elapsed", elapsed))
}

// execute returns twitch.ErrUnauthorized or a context error; every other
// failure is handled locally.
func (r *cycleRun) execute(ctx context.Context) error {
	streamers, err := r.resolveStreamers(ctx)
	if err != nil {
		return err
	}
	for _, s := range streamers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processStreamer(ctx, s); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (r *cycleRun) resolveStreamers(ctx context.Context) ([]*twitch.Streamer, error) {
	resolved := make([]*twitch.Streamer, len(r.target.Streamers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ResolveConcurrency)
	for i, handle := range r.target.Streamers {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.cfg.CallTimeout)
			defer cancel()
			s, err := r.source.ResolveStreamer(callCtx, handle)
			if err != nil {
				if errors.Is(err, twitch.ErrUnauthorized) {
					return err
				}
				if errors.Is(err, twitch.ErrNotFound) {
					// Answered with valid credentials.
					r.authenticated.Store(true)
				}
				r.logger.Warn("streamer not resolved, skipped this cycle",
					zap.String("streamer", handle), zap.Error(err))
				return nil
			}
			r.authenticated.Store(true)
			resolved[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(resolved))
	out := make([]*twitch.Streamer, 0, len(resolved))
	for _, s := range resolved {
		if s == nil || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out, nil
}

func (r *cycleRun) processStreamer(ctx context.Context, s *twitch.Streamer) error {
	logger := r.logger.With(zap.String("streamer_id", s.ID))
	name := s.DisplayName
	if name == "" {
		name = s.Login
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	live, err := r.source.GetLiveStatus(callCtx, s.ID)
	cancel()
	if err != nil {
		if errors.Is(err, twitch.ErrUnauthorized) {
			return err
		}
		logger.Warn("live status unavailable", zap.Error(err))
	} else {
		r.authenticated.Store(true)
		r.trackStatus(ctx, logger, s.ID, name, live)
	}

	callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	clips, err := r.source.GetRecentClips(callCtx, s.ID, r.now().Add(-r.cfg.Lookback))
	cancel()
	if err != nil {
		if errors.Is(err, twitch.ErrUnauthorized) {
			return err
		}
		logger.Warn("clips unavailable", zap.Error(err))
		return nil
	}
	r.authenticated.Store(true)
	if len(clips) == 0 {
		return nil
	}

	// The clip API carries no audience size, so clips are stamped with the
	// current viewer count (zero when offline or unknown).
	viewers := 0
	if live != nil {
		viewers = live.ViewerCount
	}
	for i := range clips {
		clips[i].ViewerCount = viewers
	}
	sort.SliceStable(clips, func(i, j int) bool { return clips[i].CreatedAt.Before(clips[j].CreatedAt) })

	if r.target.PartnerMode.AllowsCreator() && r.target.PrivilegedCreator != "" {
		r.forwardPrivileged(ctx, logger, s.ID, name, clips)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.target.PartnerMode.AllowsBot() {
		r.detectGroups(ctx, logger, s.ID, name, clips, live == nil)
	}
	return nil
}

// trackStatus updates the cached status and announces offline→online
// transitions. A failed cache read skips the transition entirely.
func (r *cycleRun) trackStatus(ctx context.Context, logger *zap.Logger, streamerID, name string, live *twitch.LiveStatus) {
	current := db.StreamerOffline
	if live != nil {
		current = db.StreamerOnline
	}

	previous, err := r.state.GetStreamerStatus(ctx, r.target.TenantID, streamerID)
	if err != nil {
		logger.Warn("streamer status read failed", zap.Error(err))
		return
	}
	if previous == current {
		return
	}
	if err := r.state.SetStreamerStatus(ctx, r.target.TenantID, streamerID, current); err != nil {
		logger.Error("streamer status write failed", zap.Error(err))
	}
	logger.Info("streamer status changed",
		zap.String("from", string(previous)), zap.String("to", string(current)))

	if current == db.StreamerOnline && r.target.NotifyOnline {
		r.send(ctx, logger, dispatch.FormatOnline(r.target.TenantID, name, live.Title, live.Game))
	}
}

func (r *cycleRun) forwardPrivileged(ctx context.Context, logger *zap.Logger, streamerID, name string, clips []clip.Clip) {
	for _, c := range clips {
		if ctx.Err() != nil {
			return
		}
		if !strings.EqualFold(c.CreatorName, r.target.PrivilegedCreator) {
			continue
		}
		clipLogger := logger.With(zap.String("clip_id", c.ID))

		sent, err := r.ledger.WasClipSent(ctx, r.target.TenantID, c.ID)
		if err != nil {
			clipLogger.Warn("ledger read failed, assuming clip not sent", zap.Error(err))
			sent = false
		}
		if sent {
			continue
		}

		origin := r.classifier.Classify(ctx, c, streamerID)
		if !r.send(ctx, clipLogger, dispatch.FormatPrivilegedClip(r.target.TenantID, name, c, origin)) {
			continue
		}
		if err := r.ledger.RecordClipSent(ctx, r.target.TenantID, c.ID); err != nil {
			clipLogger.Error("ledger write failed, clip may be sent again", zap.Error(err))
		}
	}
}

func (r *cycleRun) detectGroups(ctx context.Context, logger *zap.Logger, streamerID, name string, clips []clip.Clip, vod bool) {
	policy := clip.PolicyFor(r.target.Mode, r.target.ManualWindowSec, r.target.ManualMinClips, vod)
	groups := clip.GroupClips(clips, policy.WindowSec, policy.Minimum)
	r.metrics.AddGroupsDetected(len(groups))
	if len(groups) > 0 {
		logger.Debug("groups detected", zap.Int("groups", len(groups)), zap.Stringer("policy", policy))
	}

	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		groupLogger := logger.With(
			zap.Time("group_start", g.Start),
			zap.Time("group_end", g.End),
			zap.Int("size", g.Size()),
		)

		sent, err := r.ledger.WasGroupSent(ctx, r.target.TenantID, streamerID, g.Start, g.End)
		if err != nil {
			groupLogger.Warn("ledger read failed, assuming group not sent", zap.Error(err))
			sent = false
		}
		if sent {
			continue
		}

		origin := r.classifier.Classify(ctx, g.Anchor(), streamerID)
		if !r.send(ctx, groupLogger, dispatch.FormatGroup(r.target.TenantID, name, g, origin)) {
			continue
		}
		if err := r.ledger.RecordGroupSent(ctx, r.target.TenantID, streamerID, g.Start, g.End); err != nil {
			groupLogger.Error("ledger write failed, group may be sent again", zap.Error(err))
		}
	}
}

// send dispatches msg to the tenant's destination and reports success.
func (r *cycleRun) send(ctx context.Context, logger *zap.Logger, msg dispatch.Message) bool {
	err := r.dispatcher.Send(ctx, r.target.Destination, msg)
	r.metrics.IncDispatch(string(msg.Kind), err)
	if err != nil {
		logger.Error("dispatch failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
		return false
	}
	return true
}

// warnCredentials tells the tenant once that their credentials are rejected.
// The flag is only set after a successful send.
func (r *cycleRun) warnCredentials(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, warned, err := r.state.GetFlag(ctx, r.target.TenantID, flagCredentialWarning)
	if err != nil {
		r.logger.Warn("credential warning flag read failed", zap.Error(err))
		return
	}
	if warned {
		return
	}
	if !r.send(ctx, r.logger, dispatch.FormatCredentialWarning(r.target.TenantID)) {
		return
	}
	if err := r.state.SetFlag(ctx, r.target.TenantID, flagCredentialWarning, r.now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Error("credential warning flag write failed", zap.Error(err))
	}
}

// clearCredentialWarning re-arms the warning after credentials were accepted.
func (r *cycleRun) clearCredentialWarning(ctx context.Context) {
	_, warned, err := r.state.GetFlag(ctx, r.target.TenantID, flagCredentialWarning)
	if err != nil || !warned {
		return
	}
	if err := r.state.DeleteFlag(ctx, r.target.TenantID, flagCredentialWarning); err != nil {
		r.logger.Error("credential warning flag clear failed", zap.Error(err))
		return
	}
	r.logger.Info("credentials accepted again, warning cleared")
}
