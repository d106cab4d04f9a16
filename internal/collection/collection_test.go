package collection

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/five82/clanhub/internal/model"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func staticLoader(rows ...model.Record) Loader {
	return func(context.Context) ([]model.Record, error) {
		out := make([]model.Record, len(rows))
		for i, r := range rows {
			out[i] = r.Clone()
		}
		return out, nil
	}
}

func newTestCollection(t *testing.T, kind model.Kind, loader Loader) *Collection {
	t.Helper()
	return New(Options{Policy: PolicyFor(kind), Loader: loader, Logger: quietLogger()})
}

func ids(snap Snapshot) []string {
	out := make([]string, len(snap.Records))
	for i, r := range snap.Records {
		out[i] = r.ID()
	}
	return out
}

func assertIDs(t *testing.T, c *Collection, want ...string) {
	t.Helper()
	got := ids(c.Snapshot())
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestLeaderboardScenario(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindLeaderboard, staticLoader(
		model.Record{"id": float64(1), "rank": float64(2)},
		model.Record{"id": float64(2), "rank": float64(1)},
	))

	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "2", "1")

	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": float64(3), "rank": float64(0)}}); err != nil {
		t.Fatalf("Apply insert returned error: %v", err)
	}
	assertIDs(t, c, "3", "2", "1")

	if err := c.Apply(ctx, model.Delete{ID: "2"}); err != nil {
		t.Fatalf("Apply delete returned error: %v", err)
	}
	assertIDs(t, c, "3", "1")
}

func TestLeaderboardStaysSortedUnderRankUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindLeaderboard, staticLoader())
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		id := strconv.Itoa(rng.Intn(20))
		rank := float64(rng.Intn(50))
		var ev model.Event = model.Insert{Record: model.Record{"id": id, "rank": rank}}
		if rng.Intn(2) == 0 {
			ev = model.Update{ID: id, Fields: model.Record{"rank": rank}}
		}
		if err := c.Apply(ctx, ev); err != nil {
			t.Fatalf("Apply(%#v) returned error: %v", ev, err)
		}

		snap := c.Snapshot()
		for j := 1; j < len(snap.Records); j++ {
			prev, _ := snap.Records[j-1].Float("rank")
			cur, _ := snap.Records[j].Float("rank")
			if prev > cur {
				t.Fatalf("step %d: leaderboard not ascending by rank: %v", i, snap.Records)
			}
		}
	}
}

func TestTopPlayersDescendingByScore(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindTopPlayers, staticLoader(
		model.Record{"id": "a", "score": float64(10)},
		model.Record{"id": "b", "score": float64(30)},
		model.Record{"id": "c"},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "b", "a", "c")

	if err := c.Apply(ctx, model.Update{ID: "a", Fields: model.Record{"score": float64(99)}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	assertIDs(t, c, "a", "b", "c")
}

func TestNewsInsertsArePrepended(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNews, staticLoader(
		model.Record{"id": "old", "created_at": "2024-01-01T00:00:00Z"},
		model.Record{"id": "new", "created_at": "2024-02-01T00:00:00Z"},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "new", "old")

	// arrival order wins over created_at for inserts
	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": "late", "created_at": "2023-01-01T00:00:00Z"}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	assertIDs(t, c, "late", "new", "old")

	if err := c.Apply(ctx, model.Update{ID: "old", Fields: model.Record{"created_at": "2025-01-01T00:00:00Z"}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	assertIDs(t, c, "late", "new", "old")
}

func TestUpdateMergesFieldsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNews, staticLoader(
		model.Record{"id": "1", "title": "Patch notes", "body": "v1"},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	ev := model.Update{ID: "1", Fields: model.Record{"body": "v2"}}
	if err := c.Apply(ctx, ev); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	once := c.Snapshot()
	if err := c.Apply(ctx, ev); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	twice := c.Snapshot()

	rec := twice.Records[0]
	if rec["title"] != "Patch notes" || rec["body"] != "v2" {
		t.Fatalf("record = %#v, want merged fields", rec)
	}
	if len(once.Records) != len(twice.Records) || once.Records[0]["body"] != twice.Records[0]["body"] {
		t.Fatalf("second update changed state: %#v vs %#v", once.Records, twice.Records)
	}
}

func TestUpdateAndDeleteOfMissingIDAreNoOps(t *testing.T) {
	ctx := context.Background()
	var changes atomic.Int32
	c := New(Options{
		Policy:   PolicyFor(model.KindAwards),
		Loader:   staticLoader(model.Record{"id": "1", "name": "MVP"}),
		Logger:   quietLogger(),
		OnChange: func(model.Kind) { changes.Add(1) },
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	before := changes.Load()

	if err := c.Apply(ctx, model.Update{ID: "404", Fields: model.Record{"name": "x"}}); err != nil {
		t.Fatalf("Apply update returned error: %v", err)
	}
	if err := c.Apply(ctx, model.Delete{ID: "404"}); err != nil {
		t.Fatalf("Apply delete returned error: %v", err)
	}
	assertIDs(t, c, "1")
	if rec, _ := c.Get("1"); rec["name"] != "MVP" {
		t.Fatalf("record changed: %#v", rec)
	}
	if changes.Load() != before {
		t.Fatalf("no-op events fired change hook")
	}
}

func TestDuplicateInsertIsMergedAsUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNotifications, staticLoader(
		model.Record{"id": "n1", "read": false, "text": "hi"},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": "n1", "read": true}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	rec, _ := c.Get("n1")
	if rec["read"] != true || rec["text"] != "hi" {
		t.Fatalf("record = %#v, want merged", rec)
	}
}

func TestInsertDeleteSequenceKeepsExactlyLiveIDs(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindTopPlayers, staticLoader())
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	live := map[string]bool{}
	next := 0
	for i := 0; i < 300; i++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			id := "p" + strconv.Itoa(next)
			next++
			live[id] = true
			_ = c.Apply(ctx, model.Insert{Record: model.Record{"id": id, "score": float64(rng.Intn(100))}})
			continue
		}
		for id := range live {
			delete(live, id)
			_ = c.Apply(ctx, model.Delete{ID: id})
			break
		}
	}

	snap := c.Snapshot()
	if len(snap.Records) != len(live) {
		t.Fatalf("len = %d, want %d", len(snap.Records), len(live))
	}
	for _, r := range snap.Records {
		if !live[r.ID()] {
			t.Fatalf("unexpected id %q in collection", r.ID())
		}
	}
}

func TestLoadFailureKeepsPreviousData(t *testing.T) {
	ctx := context.Background()
	fail := false
	c := newTestCollection(t, model.KindLeaderboard, func(context.Context) ([]model.Record, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return []model.Record{{"id": "1", "rank": float64(1)}}, nil
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	fail = true
	for i := 0; i < 2; i++ {
		err := c.LoadSnapshot(ctx)
		if err == nil || err.Error() != "load leaderboard: boom" {
			t.Fatalf("LoadSnapshot error = %v, want wrapped boom", err)
		}
	}

	snap := c.Snapshot()
	if snap.State != Ready || snap.Loading() {
		t.Fatalf("state = %v, want ready", snap.State)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("records = %#v, want previous data", snap.Records)
	}
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if !snap.IsOffline() {
		t.Fatalf("IsOffline() = false after %d failures", snap.ConsecutiveFailures)
	}

	fail = false
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if snap := c.Snapshot(); snap.ConsecutiveFailures != 0 || snap.LastError != nil {
		t.Fatalf("success did not reset failures: %#v", snap)
	}
}

func TestUnknownEventTriggersReload(t *testing.T) {
	ctx := context.Background()
	var loads atomic.Int32
	c := newTestCollection(t, model.KindAwards, func(context.Context) ([]model.Record, error) {
		n := loads.Add(1)
		return []model.Record{{"id": strconv.Itoa(int(n))}}, nil
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if err := c.Apply(ctx, model.Unknown{Type: "TRUNCATE"}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("loads = %d, want 2", loads.Load())
	}
	assertIDs(t, c, "2")
}

func TestMalformedEventIsDroppedAndReloads(t *testing.T) {
	ctx := context.Background()
	var loads atomic.Int32
	c := newTestCollection(t, model.KindNews, func(context.Context) ([]model.Record, error) {
		loads.Add(1)
		return []model.Record{{"id": "1"}}, nil
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	err := c.Apply(ctx, model.Insert{Record: model.Record{"title": "no id"}})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Apply error = %v, want ErrMalformed", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("loads = %d, want reload after malformed event", loads.Load())
	}
	assertIDs(t, c, "1")
}

func TestUnknownEventDuringLoadQueuesReload(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	var remote atomic.Value
	remote.Store([]model.Record{{"id": "1"}})
	var calls atomic.Int32
	c := newTestCollection(t, model.KindAwards, func(context.Context) ([]model.Record, error) {
		rows := remote.Load().([]model.Record)
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return rows, nil
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadSnapshot(ctx) }()
	<-started

	// the first query already ran against the old table
	remote.Store([]model.Record{{"id": "1"}, {"id": "2"}})
	if err := c.Apply(ctx, model.Unknown{Type: "TRUNCATE"}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("loader calls = %d, want 2", calls.Load())
	}
	assertIDs(t, c, "1", "2")
}

func TestMalformedEventDuringLoadQueuesReload(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	c := newTestCollection(t, model.KindNews, func(context.Context) ([]model.Record, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return []model.Record{{"id": "1"}}, nil
		}
		return []model.Record{{"id": "1"}, {"id": "2"}}, nil
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadSnapshot(ctx) }()
	<-started

	err := c.Apply(ctx, model.Update{ID: "1"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Apply error = %v, want ErrMalformed", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d before release, want 1", calls.Load())
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("loader calls = %d, want 2", calls.Load())
	}
	if got := ids(c.Snapshot()); len(got) != 2 {
		t.Fatalf("ids = %v, want both rows after the follow-up load", got)
	}
}

func TestVisibilityFilterIgnoresForeignRecords(t *testing.T) {
	ctx := context.Background()
	c := New(Options{
		Policy:  PolicyFor(model.KindClanRequests),
		Loader:  staticLoader(model.Record{"id": float64(1), "user_id": "A"}, model.Record{"id": float64(9), "user_id": "B"}),
		Visible: OwnedBy("A"),
		Logger:  quietLogger(),
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "1")

	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": float64(2), "user_id": "B"}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	assertIDs(t, c, "1")

	// an update trying to move a visible record out of scope is ignored
	if err := c.Apply(ctx, model.Update{ID: "1", Fields: model.Record{"user_id": "B", "status": "x"}}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	rec, _ := c.Get("1")
	if rec["user_id"] != "A" || rec["status"] != nil {
		t.Fatalf("record = %#v, want untouched", rec)
	}
}

func TestEventsDuringLoadAreReplayed(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	c := newTestCollection(t, model.KindLeaderboard, func(context.Context) ([]model.Record, error) {
		close(started)
		<-release
		return []model.Record{
			{"id": "1", "rank": float64(1)},
			{"id": "2", "rank": float64(2)},
		}, nil
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadSnapshot(ctx) }()
	<-started

	if !c.Snapshot().Loading() {
		t.Fatalf("state = %v, want loading", c.Snapshot().State)
	}
	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": "3", "rank": float64(0)}}); err != nil {
		t.Fatalf("Apply insert returned error: %v", err)
	}
	if err := c.Apply(ctx, model.Delete{ID: "2"}); err != nil {
		t.Fatalf("Apply delete returned error: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "3", "1")
}

func TestCloseDiscardsInFlightLoad(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	c := newTestCollection(t, model.KindNews, func(context.Context) ([]model.Record, error) {
		close(started)
		<-release
		return []model.Record{{"id": "1"}}, nil
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadSnapshot(ctx) }()
	<-started
	c.Close()
	close(release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("LoadSnapshot error = %v, want ErrClosed", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after close", c.Len())
	}
	if err := c.Apply(ctx, model.Insert{Record: model.Record{"id": "2"}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Apply after close = %v, want ErrClosed", err)
	}
	c.Close()
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	ctx := context.Background()
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	var calls atomic.Int32
	c := newTestCollection(t, model.KindAwards, func(context.Context) ([]model.Record, error) {
		if calls.Add(1) == 1 {
			close(slowStarted)
			<-slowRelease
			return []model.Record{{"id": "stale"}}, nil
		}
		return []model.Record{{"id": "fresh"}}, nil
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadSnapshot(ctx) }()
	<-slowStarted
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("second LoadSnapshot returned error: %v", err)
	}
	close(slowRelease)
	if err := <-done; err != nil {
		t.Fatalf("first LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "fresh")
}

func TestPauseDropsEventsAndResumeReloads(t *testing.T) {
	ctx := context.Background()
	var loads atomic.Int32
	c := newTestCollection(t, model.KindNews, func(context.Context) ([]model.Record, error) {
		loads.Add(1)
		return []model.Record{{"id": "1"}, {"id": "remote-only"}}, nil
	})
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	c.Pause()
	if !c.Snapshot().Paused {
		t.Fatalf("Paused = false after Pause")
	}
	if err := c.Apply(ctx, model.Delete{ID: "1"}); err != nil {
		t.Fatalf("Apply while paused returned error: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("paused collection applied event")
	}

	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("loads = %d, want one reload on resume", loads.Load())
	}
	if c.Snapshot().Paused {
		t.Fatalf("Paused = true after Resume")
	}
}

func TestMutateAndRestore(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNotifications, staticLoader(
		model.Record{"id": "n1", "read": false},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	patch := model.Record{"read": true}
	prior, ok := c.Mutate("n1", patch)
	if !ok || prior["read"] != false {
		t.Fatalf("Mutate = %#v, %v", prior, ok)
	}
	if rec, _ := c.Get("n1"); rec["read"] != true {
		t.Fatalf("read = %v, want true", rec["read"])
	}
	if !c.Restore("n1", patch, prior) {
		t.Fatalf("Restore returned false")
	}
	if rec, _ := c.Get("n1"); rec["read"] != false {
		t.Fatalf("read = %v, want false after restore", rec["read"])
	}

	if _, ok := c.Mutate("missing", patch); ok {
		t.Fatalf("Mutate on missing id returned ok")
	}
}

func TestRestoreKeepsNewerRemoteValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNotifications, staticLoader(
		model.Record{"id": "n1", "read": false, "label": "a"},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	patch := model.Record{"label": "b"}
	prior, _ := c.Mutate("n1", patch)
	_ = c.Apply(ctx, model.Update{ID: "n1", Fields: model.Record{"label": "c"}})

	if c.Restore("n1", patch, prior) {
		t.Fatalf("Restore overwrote newer remote value")
	}
	if rec, _ := c.Get("n1"); rec["label"] != "c" {
		t.Fatalf("label = %v, want c", rec["label"])
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindNews, staticLoader(model.Record{"id": "1", "title": "a"}))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	snap := c.Snapshot()
	snap.Records[0]["title"] = "mutated"
	if rec, _ := c.Get("1"); rec["title"] != "a" {
		t.Fatalf("Snapshot shares records with collection")
	}
}

func TestSnapshotDedupesAndSkipsRowsWithoutID(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, model.KindLeaderboard, staticLoader(
		model.Record{"id": "1", "rank": float64(5)},
		model.Record{"rank": float64(1)},
		model.Record{"id": "1", "rank": float64(3)},
		model.Record{"id": "2", "rank": float64(4)},
	))
	if err := c.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	assertIDs(t, c, "1", "2")
	if rec, _ := c.Get("1"); rec["rank"] != float64(3) {
		t.Fatalf("rank = %v, want last duplicate to win", rec["rank"])
	}
}

func TestStateTransitions(t *testing.T) {
	c := newTestCollection(t, model.KindNews, staticLoader())
	if got := c.Snapshot().State; got != Uninitialized {
		t.Fatalf("initial state = %v, want uninitialized", got)
	}
	if err := c.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if got := c.Snapshot().State; got != Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if Loading.String() != "loading" || Uninitialized.String() != "uninitialized" {
		t.Fatalf("State.String mismatch")
	}
}
