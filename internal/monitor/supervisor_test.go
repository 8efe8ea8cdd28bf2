package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xpadev-net/clipwatch/internal/db"
)

// blockingRunner holds every cycle open until released or canceled.
type blockingRunner struct {
	mu       sync.Mutex
	calls    map[int64]int
	started  chan int64
	canceled chan int64
	release  chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		calls:    map[int64]int{},
		started:  make(chan int64, 16),
		canceled: make(chan int64, 16),
		release:  make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, target *db.Target) {
	r.mu.Lock()
	r.calls[target.TenantID]++
	r.mu.Unlock()
	r.started <- target.TenantID

	select {
	case <-r.release:
	case <-ctx.Done():
		r.canceled <- target.TenantID
	}
}

func (r *blockingRunner) callCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func tenant(id int64) *db.Target {
	t := testTarget("alice")
	t.TenantID = id
	return t
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan int64) int64 {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting on channel")
		return 0
	}
}

func TestSupervisor_AtMostOneCycleInFlight(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1))
	runner := newBlockingRunner()
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{})
	ctx := context.Background()

	s.Tick(ctx)
	receive(t, runner.started)
	s.Tick(ctx)
	s.Tick(ctx)

	if got := runner.callCount(1); got != 1 {
		t.Fatalf("cycles started while one was in flight = %d, want 1", got)
	}
	if got := s.State(1); got != TaskRunning {
		t.Errorf("State(1) = %q, want running", got)
	}

	close(runner.release)
	waitFor(t, "cycle to finish", func() bool { return s.State(1) == TaskScheduled })

	s.Tick(ctx)
	receive(t, runner.started)
	if got := runner.callCount(1); got != 2 {
		t.Errorf("cycles after completion = %d, want 2", got)
	}
}

func TestSupervisor_RetiresIneligibleTenants(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1), tenant(2))
	runner := newBlockingRunner()
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{})
	ctx := context.Background()

	s.Tick(ctx)
	receive(t, runner.started)
	receive(t, runner.started)

	targets.set(tenant(1))
	s.Tick(ctx)

	if id := receive(t, runner.canceled); id != 2 {
		t.Errorf("canceled tenant = %d, want 2", id)
	}
	waitFor(t, "tenant 2 to be retired", func() bool { return s.State(2) == TaskAbsent })
	if got := s.State(1); got != TaskRunning {
		t.Errorf("State(1) = %q, want running", got)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].TenantID != 1 || snap[0].Cycles != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	close(runner.release)
}

func TestSupervisor_SlowRetirementDoesNotBlockTick(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1))
	started := make(chan int64, 16)
	unstick := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, target *db.Target) {
		started <- target.TenantID
		if target.TenantID == 1 {
			// Ignores cancellation until released.
			<-unstick
			return
		}
		<-ctx.Done()
	})
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Tick(ctx)
	receive(t, started)

	targets.set(tenant(2))
	tickDone := make(chan struct{})
	go func() {
		s.Tick(ctx)
		close(tickDone)
	}()
	select {
	case <-tickDone:
	case <-time.After(time.Second):
		t.Fatal("Tick() blocked on a retiring cycle")
	}

	if id := receive(t, started); id != 2 {
		t.Errorf("started tenant = %d, want 2", id)
	}
	if got := s.State(1); got != TaskRetiring {
		t.Errorf("State(1) = %q, want retiring", got)
	}

	// Eligible again while the old cycle is still stuck: nothing new starts.
	targets.set(tenant(1), tenant(2))
	s.Tick(ctx)
	select {
	case id := <-started:
		t.Fatalf("tenant %d started while its retiring cycle was in flight", id)
	default:
	}

	close(unstick)
	waitFor(t, "tenant 1 cycle to return", func() bool {
		for _, snap := range s.Snapshot() {
			if snap.TenantID == 1 {
				return snap.LastFinished != nil || snap.State != TaskRetiring
			}
		}
		return true
	})
	s.Tick(ctx)
	if id := receive(t, started); id != 1 {
		t.Errorf("restarted tenant = %d, want 1", id)
	}
}

func TestSupervisor_ListFailureSkipsTick(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1))
	runner := newBlockingRunner()
	close(runner.release)
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{})
	ctx := context.Background()

	s.Tick(ctx)
	receive(t, runner.started)

	targets.setErr(errStub)
	s.Tick(ctx)

	if got := s.State(1); got == TaskAbsent {
		t.Error("tenant retired after a failed list read")
	}
}

func TestSupervisor_PanicIsolated(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1))
	var calls int
	var mu sync.Mutex
	runner := runnerFunc(func(context.Context, *db.Target) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("boom")
	})
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{})

	s.Tick(context.Background())
	waitFor(t, "panicking cycle to finish", func() bool { return s.State(1) == TaskScheduled })
	s.Tick(context.Background())
	waitFor(t, "second cycle", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestSupervisor_RunCancelsCyclesOnShutdown(t *testing.T) {
	targets := &staticTargets{}
	targets.set(tenant(1), tenant(2))
	runner := newBlockingRunner()
	s := NewSupervisor(targets, runner, nil, nil, SupervisorConfig{TickInterval: time.Hour, ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	receive(t, runner.started)
	receive(t, runner.started)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	receive(t, runner.canceled)
	receive(t, runner.canceled)
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() after shutdown = %+v", snap)
	}
}

type runnerFunc func(context.Context, *db.Target)

func (f runnerFunc) Run(ctx context.Context, t *db.Target) { f(ctx, t) }
