package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/xpadev-net/clipwatch/internal/db"
)

type sentGroup struct {
	tenantID   int64
	streamerID string
	start, end time.Time
	recordedAt time.Time
}

type clipKey struct {
	tenantID int64
	clipID   string
}

// MemoryLedger is an in-process Ledger with the same overlap semantics as
// the database ledger.
type MemoryLedger struct {
	mu     sync.Mutex
	groups []sentGroup
	clips  map[clipKey]time.Time
	now    func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{clips: make(map[clipKey]time.Time), now: time.Now}
}

func (l *MemoryLedger) WasGroupSent(_ context.Context, tenantID int64, streamerID string, start, end time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range l.groups {
		if g.tenantID == tenantID && g.streamerID == streamerID && !g.start.After(end) && !start.After(g.end) {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) RecordGroupSent(_ context.Context, tenantID int64, streamerID string, start, end time.Time) error {
	l.mu.Lock()
	l.groups = append(l.groups, sentGroup{tenantID, streamerID, start, end, l.now()})
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) WasClipSent(_ context.Context, tenantID int64, clipID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.clips[clipKey{tenantID, clipID}]
	return ok, nil
}

func (l *MemoryLedger) RecordClipSent(_ context.Context, tenantID int64, clipID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := clipKey{tenantID, clipID}
	if _, ok := l.clips[key]; !ok {
		l.clips[key] = l.now()
	}
	return nil
}

func (l *MemoryLedger) PurgeOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-retention)

	var purged int64
	kept := l.groups[:0]
	for _, g := range l.groups {
		if g.recordedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, g)
	}
	l.groups = kept
	for k, at := range l.clips {
		if at.Before(cutoff) {
			delete(l.clips, k)
			purged++
		}
	}
	return purged, nil
}

// GroupCount returns how many group intervals are recorded.
func (l *MemoryLedger) GroupCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.groups)
}

type statusKey struct {
	tenantID   int64
	streamerID string
}

type flagKey struct {
	tenantID int64
	key      string
}

// MemoryState is an in-process State.
type MemoryState struct {
	mu       sync.Mutex
	statuses map[statusKey]db.StreamerStatus
	flags    map[flagKey]string
}

// NewMemoryState creates an empty state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		statuses: make(map[statusKey]db.StreamerStatus),
		flags:    make(map[flagKey]string),
	}
}

func (s *MemoryState) GetStreamerStatus(_ context.Context, tenantID int64, streamerID string) (db.StreamerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[statusKey{tenantID, streamerID}], nil
}

func (s *MemoryState) SetStreamerStatus(_ context.Context, tenantID int64, streamerID string, status db.StreamerStatus) error {
	s.mu.Lock()
	s.statuses[statusKey{tenantID, streamerID}] = status
	s.mu.Unlock()
	return nil
}

func (s *MemoryState) GetFlag(_ context.Context, tenantID int64, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.flags[flagKey{tenantID, key}]
	return v, ok, nil
}

func (s *MemoryState) SetFlag(_ context.Context, tenantID int64, key, value string) error {
	s.mu.Lock()
	s.flags[flagKey{tenantID, key}] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryState) DeleteFlag(_ context.Context, tenantID int64, key string) error {
	s.mu.Lock()
	delete(s.flags, flagKey{tenantID, key})
	s.mu.Unlock()
	return nil
}
