package app

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/five82/clanhub/internal/collection"
	"github.com/five82/clanhub/internal/feed"
	"github.com/five82/clanhub/internal/model"
)

type fakeSource struct {
	changes chan feed.Change
	states  chan feed.ConnState
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		changes: make(chan feed.Change, 8),
		states:  make(chan feed.ConnState, 8),
	}
}

func (s *fakeSource) Changes() <-chan feed.Change    { return s.changes }
func (s *fakeSource) States() <-chan feed.ConnState { return s.states }

func (s *fakeSource) close() {
	close(s.changes)
	close(s.states)
}

type fakeSink struct {
	mu       sync.Mutex
	calls    []string
	applied  []feed.Change
	applyErr error
}

func (s *fakeSink) Apply(_ context.Context, kind model.Kind, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "apply")
	s.applied = append(s.applied, feed.Change{Table: kind, Event: ev})
	return s.applyErr
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "pause")
}

func (s *fakeSink) Resume(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "resume")
	return nil
}

func (s *fakeSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func waitDone(t *testing.T, p *Pump) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestPumpRoutesChangesAndStates(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{}
	p := StartPump(context.Background(), sink, src, quietLogger())

	src.states <- feed.Connected
	src.changes <- feed.Change{Table: model.KindNews, Event: model.Insert{Record: model.Record{model.FieldID: "n1"}}}
	src.states <- feed.Disconnected
	src.states <- feed.Reconnected
	src.close()
	waitDone(t, p)

	calls := sink.snapshot()
	if len(calls) != 4 {
		t.Fatalf("calls = %v, want apply, pause and two resumes", calls)
	}
	has := map[string]bool{}
	for _, c := range calls {
		has[c] = true
	}
	for _, want := range []string{"apply", "pause", "resume"} {
		if !has[want] {
			t.Errorf("missing %s in %v", want, calls)
		}
	}
	// state order is preserved on its own channel
	var stateCalls []string
	for _, c := range calls {
		if c != "apply" {
			stateCalls = append(stateCalls, c)
		}
	}
	if len(stateCalls) != 3 || stateCalls[0] != "resume" || stateCalls[1] != "pause" || stateCalls[2] != "resume" {
		t.Fatalf("state calls = %v, want [resume pause resume]", stateCalls)
	}
	if sink.applied[0].Table != model.KindNews {
		t.Fatalf("applied = %+v", sink.applied)
	}
	if p.Online() {
		t.Fatal("Online should be false after the pump exits")
	}
}

func TestPumpResyncsOnFirstConnect(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{}
	p := StartPump(context.Background(), sink, src, quietLogger())

	// the initial load may have finished before the channels were joined
	src.states <- feed.Connected
	src.close()
	waitDone(t, p)

	calls := sink.snapshot()
	if len(calls) != 1 || calls[0] != "resume" {
		t.Fatalf("calls = %v, want [resume]", calls)
	}
}

func TestPumpTracksOnline(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := StartPump(ctx, sink, src, quietLogger())

	if p.Online() {
		t.Fatal("Online before any state")
	}
	src.states <- feed.Connected
	deadline := time.Now().Add(2 * time.Second)
	for !p.Online() {
		if time.Now().After(deadline) {
			t.Fatal("Online never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}

	src.states <- feed.Disconnected
	for p.Online() {
		if time.Now().After(deadline) {
			t.Fatal("Online never became false")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPumpStopsWhenSinkClosed(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{applyErr: collection.ErrClosed}
	p := StartPump(context.Background(), sink, src, quietLogger())

	src.changes <- feed.Change{Table: model.KindAwards, Event: model.Delete{ID: "a1"}}
	waitDone(t, p)
}

func TestPumpContinuesAfterApplyError(t *testing.T) {
	src := newFakeSource()
	sink := &fakeSink{applyErr: errors.New("reload failed")}
	p := StartPump(context.Background(), sink, src, quietLogger())

	src.changes <- feed.Change{Table: model.KindAwards, Event: model.Delete{ID: "a1"}}
	src.changes <- feed.Change{Table: model.KindAwards, Event: model.Delete{ID: "a2"}}
	src.close()
	waitDone(t, p)

	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("apply calls = %d, want 2", got)
	}
}

func TestPumpStopsOnContextCancel(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	p := StartPump(ctx, &fakeSink{}, src, quietLogger())
	cancel()
	waitDone(t, p)
}
