package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/dispatch"
	"github.com/xpadev-net/clipwatch/internal/twitch"
)

var errStub = errors.New("stub failure")

// fakeSource serves canned platform data keyed by login or streamer id.
type fakeSource struct {
	mu         sync.Mutex
	streamers  map[string]*twitch.Streamer
	live       map[string]*twitch.LiveStatus
	recordings map[string]*twitch.Recording
	clips      map[string][]clip.Clip
	err        error
	liveCalls  int
	recCalls   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streamers:  map[string]*twitch.Streamer{},
		live:       map[string]*twitch.LiveStatus{},
		recordings: map[string]*twitch.Recording{},
		clips:      map[string][]clip.Clip{},
	}
}

func (f *fakeSource) addStreamer(login, id string) {
	f.mu.Lock()
	f.streamers[login] = &twitch.Streamer{ID: id, Login: login, DisplayName: login}
	f.mu.Unlock()
}

func (f *fakeSource) setLive(id string, live *twitch.LiveStatus) {
	f.mu.Lock()
	f.live[id] = live
	f.mu.Unlock()
}

func (f *fakeSource) setClips(id string, clips []clip.Clip) {
	f.mu.Lock()
	f.clips[id] = clips
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) ResolveStreamer(_ context.Context, login string) (*twitch.Streamer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.streamers[login]
	if !ok {
		return nil, twitch.ErrNotFound
	}
	return s, nil
}

func (f *fakeSource) GetLiveStatus(_ context.Context, id string) (*twitch.LiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.live[id], nil
}

func (f *fakeSource) GetLatestRecording(_ context.Context, id string) (*twitch.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.recordings[id], nil
}

func (f *fakeSource) GetRecentClips(_ context.Context, id string, _ time.Time) ([]clip.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]clip.Clip, len(f.clips[id]))
	copy(out, f.clips[id])
	return out, nil
}

// recordingDispatcher keeps every message it is asked to send.
type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []dispatch.Message
	err  error
}

func (d *recordingDispatcher) Send(_ context.Context, _ string, msg dispatch.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *recordingDispatcher) byKind(kind dispatch.Kind) []dispatch.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatch.Message
	for _, m := range d.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// failingLedger fails every operation.
type failingLedger struct{}

func (failingLedger) WasGroupSent(context.Context, int64, string, time.Time, time.Time) (bool, error) {
	return false, errStub
}
func (failingLedger) RecordGroupSent(context.Context, int64, string, time.Time, time.Time) error {
	return errStub
}
func (failingLedger) WasClipSent(context.Context, int64, string) (bool, error) { return false, errStub }
func (failingLedger) RecordClipSent(context.Context, int64, string) error       { return errStub }
func (failingLedger) PurgeOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, errStub
}

// staticTargets returns a mutable target list.
type staticTargets struct {
	mu      sync.Mutex
	targets []*db.Target
	err     error
}

func (s *staticTargets) set(targets ...*db.Target) {
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

func (s *staticTargets) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *staticTargets) ListEligible(context.Context) ([]*db.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.targets, nil
}

func (s *staticTargets) ListExpiring(context.Context, time.Duration) ([]*db.Target, error) {
	return s.ListEligible(context.Background())
}
