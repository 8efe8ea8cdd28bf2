package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/log"
	"github.com/xpadev-net/clipwatch/internal/metrics"
)

// TaskState is the supervisor's view of one tenant.
type TaskState string

const (
	// TaskAbsent tenants have no handle.
	TaskAbsent TaskState = "absent"
	// TaskScheduled tenants are tracked and wait for the next tick.
	TaskScheduled TaskState = "scheduled"
	// TaskRunning tenants have a cycle in flight.
	TaskRunning TaskState = "running"
	// TaskRetiring tenants were canceled and are awaited in the background.
	TaskRetiring TaskState = "retiring"
)

// CycleRunner runs one monitoring cycle.
type CycleRunner interface {
	Run(ctx context.Context, target *db.Target)
}

// TaskHandle tracks the latest cycle of one tenant.
type TaskHandle struct {
	tenantID     int64
	cancel       context.CancelFunc
	done         chan struct{}
	retiring     bool
	cycles       int
	lastStarted  time.Time
	lastFinished time.Time
}

func (h *TaskHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// TaskSnapshot is a read-only view of a TaskHandle.
type TaskSnapshot struct {
	TenantID     int64      `json:"tenant_id"`
	State        TaskState  `json:"state"`
	Cycles       int        `json:"cycles"`
	LastStarted  time.Time  `json:"last_started"`
	LastFinished *time.Time `json:"last_finished,omitempty"`
}

// SupervisorConfig tunes a Supervisor.
type SupervisorConfig struct {
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
	// ListTimeout bounds the eligibility read of each tick.
	ListTimeout time.Duration
}

// Supervisor keeps at most one cycle in flight per eligible tenant and
// retires tenants that stop being eligible.
type Supervisor struct {
	targets     TargetLister
	runner      CycleRunner
	maintenance *Maintenance
	metrics     *metrics.Metrics
	cfg         SupervisorConfig

	mu    sync.Mutex
	tasks map[int64]*TaskHandle
}

// NewSupervisor creates a supervisor. maintenance and m may be nil.
func NewSupervisor(targets TargetLister, runner CycleRunner, maintenance *Maintenance, m *metrics.Metrics, cfg SupervisorConfig) *Supervisor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	return &Supervisor{
		targets:     targets,
		runner:      runner,
		maintenance: maintenance,
		metrics:     m,
		cfg:         cfg,
		tasks:       make(map[int64]*TaskHandle),
	}
}

// Run ticks until ctx is canceled, then cancels and awaits every cycle.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info("supervisor started", zap.Duration("tick_interval", s.cfg.TickInterval))

	var wg sync.WaitGroup
	if s.maintenance != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.maintenance.Run(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			err := s.shutdown()
			wg.Wait()
			log.Info("supervisor stopped")
			return err
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick reconciles running cycles with the eligible tenant list. A failed
// list read skips the tick so no tenant is retired on missing data.
func (s *Supervisor) Tick(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	targets, err := s.targets.ListEligible(listCtx)
	cancel()
	if err != nil {
		log.Error("list eligible tenants failed, skipping tick", zap.Error(err))
		return
	}

	eligible := make(map[int64]bool, len(targets))
	for _, t := range targets {
		eligible[t.TenantID] = true
		s.schedule(ctx, t)
	}

	s.mu.Lock()
	for id, h := range s.tasks {
		if eligible[id] || h.retiring {
			continue
		}
		h.retiring = true
		h.cancel()
		go s.reap(h)
	}
	s.metrics.SetActiveTenants(len(s.tasks))
	s.mu.Unlock()
}

// reap drops a retiring handle once its cycle has returned. A handle that was
// replaced in the meantime is left alone.
func (s *Supervisor) reap(h *TaskHandle) {
	<-h.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[h.tenantID] != h {
		return
	}
	delete(s.tasks, h.tenantID)
	s.metrics.SetActiveTenants(len(s.tasks))
	log.Tenant(h.tenantID).Info("tenant retired")
}

// schedule starts a cycle for the target unless one is still in flight.
func (s *Supervisor) schedule(ctx context.Context, target *db.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.tasks[target.TenantID]
	if ok && !h.finished() {
		s.metrics.IncCyclesSkipped()
		log.Tenant(target.TenantID).Debug("previous cycle still running, skipping")
		return
	}
	if !ok || h.retiring {
		// A retired tenant that is eligible again starts over.
		h = &TaskHandle{tenantID: target.TenantID}
		s.tasks[target.TenantID] = h
		log.Tenant(target.TenantID).Info("tenant scheduled")
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.cycles++
	h.lastStarted = time.Now()

	go func() {
		defer close(done)
		defer cancel()
		defer s.finish(h)
		defer func() {
			if r := recover(); r != nil {
				log.Tenant(target.TenantID).Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		s.runner.Run(cycleCtx, target)
	}()
}

func (s *Supervisor) finish(h *TaskHandle) {
	s.mu.Lock()
	h.lastFinished = time.Now()
	s.mu.Unlock()
}

// shutdown cancels every cycle and waits for them up to ShutdownTimeout.
func (s *Supervisor) shutdown() error {
	s.mu.Lock()
	handles := make([]*TaskHandle, 0, len(s.tasks))
	for _, h := range s.tasks {
		h.retiring = true
		h.cancel()
		handles = append(handles, h)
	}
	s.mu.Unlock()

	timeout := time.After(s.cfg.ShutdownTimeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-timeout:
			return fmt.Errorf("timed out waiting for %d cycles", len(handles))
		}
	}

	s.mu.Lock()
	s.tasks = make(map[int64]*TaskHandle)
	s.mu.Unlock()
	return nil
}

// State returns the state of one tenant.
func (s *Supervisor) State(tenantID int64) TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tasks[tenantID]
	if !ok {
		return TaskAbsent
	}
	return h.state()
}

func (h *TaskHandle) state() TaskState {
	switch {
	case h.retiring:
		return TaskRetiring
	case h.finished():
		return TaskScheduled
	default:
		return TaskRunning
	}
}

// Snapshot returns every tracked tenant ordered by id.
func (s *Supervisor) Snapshot() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, h := range s.tasks {
		snap := TaskSnapshot{
			TenantID:    h.tenantID,
			State:       h.state(),
			Cycles:      h.cycles,
			LastStarted: h.lastStarted,
		}
		if !h.lastFinished.IsZero() && h.finished() {
			finished := h.lastFinished
			snap.LastFinished = &finished
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
