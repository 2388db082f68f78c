package replication

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/remote"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last(typ EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	store *db.DB
	src   *remote.Memory
	rec   *recorder
}

func newHarness(t *testing.T, opts ...db.Option) *harness {
	t.Helper()
	store, err := db.Initialize(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &harness{store: store, src: remote.NewMemory(), rec: &recorder{}}
}

func (h *harness) start(t *testing.T, cfg Config) *Channel {
	t.Helper()
	cfg.Store = h.store
	cfg.Source = h.src
	cfg.Sink = h.rec.sink
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 10 * time.Millisecond
	}
	ch := Start(context.Background(), cfg)
	t.Cleanup(func() {
		ch.Cancel()
		ch.Wait()
	})
	return ch
}

func putRemote(t *testing.T, src *remote.Memory, collection events.Collection, row models.Row) models.Document {
	t.Helper()
	doc, err := models.NewDocument(row)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := src.Put(collection, doc)
	if err != nil {
		t.Fatal(err)
	}
	return stored
}

func TestID(t *testing.T) {
	if got := ID(events.CollectionTeams, ""); got != "teams" {
		t.Errorf("global id = %q", got)
	}
	if got := ID(events.CollectionSets, "m42"); got != "sets_chunk_m42" {
		t.Errorf("scoped id = %q", got)
	}
}

func TestPull_EmptyRemoteStillCatchesUp(t *testing.T) {
	h := newHarness(t)
	ch := h.start(t, Config{Collection: events.CollectionSets, ScopeID: "m1"})

	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })
	if h.rec.count(EventCheckpoint) < 1 {
		t.Error("zero-row pull should still report a checkpoint")
	}
	if !ch.Checkpoint().IsZero() {
		t.Errorf("checkpoint = %v, want zero", ch.Checkpoint())
	}
}

func TestPull_PagesAndScopes(t *testing.T) {
	h := newHarness(t)
	var newest time.Time
	for i := 1; i <= 5; i++ {
		d := putRemote(t, h.src, events.CollectionScorePoints, &models.ScorePoint{
			ID: string(rune('a' + i)), MatchID: "m1", SetID: "s1", PointNumber: i, ScoringTeamID: "h",
		})
		newest = d.UpdatedAt
	}
	putRemote(t, h.src, events.CollectionScorePoints, &models.ScorePoint{
		ID: "other", MatchID: "m2", SetID: "s9", PointNumber: 1, ScoringTeamID: "a",
	})

	ch := h.start(t, Config{Collection: events.CollectionScorePoints, ScopeID: "m1", PageSize: 2})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	docs, err := h.store.Find(context.Background(), events.CollectionScorePoints, db.Filter{}, db.Sort{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 5 {
		t.Fatalf("pulled %d rows, want 5 (scope m1 only)", len(docs))
	}
	if !ch.Checkpoint().Equal(newest) {
		t.Errorf("checkpoint = %v, want %v", ch.Checkpoint(), newest)
	}
	if h.src.Calls("query") < 3 {
		t.Errorf("expected paged queries, got %d", h.src.Calls("query"))
	}
}

func TestPull_ResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	first := putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t1", Name: "Old"})
	putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t2", Name: "New"})

	h.start(t, Config{Collection: events.CollectionTeams, Checkpoint: first.UpdatedAt})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	ctx := context.Background()
	if _, err := h.store.Get(ctx, events.CollectionTeams, "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("row before checkpoint was pulled: %v", err)
	}
	if _, err := h.store.Get(ctx, events.CollectionTeams, "t2"); err != nil {
		t.Errorf("row after checkpoint missing: %v", err)
	}
}

func TestPull_InvalidRowDropped(t *testing.T) {
	h := newHarness(t)
	h.src.Put(events.CollectionPlayers, models.Document{
		ID:   "bad",
		Body: json.RawMessage(`{"id":"bad","name":"No Team"}`),
	})
	good := putRemote(t, h.src, events.CollectionPlayers, &models.Player{ID: "p1", TeamID: "t1", Name: "Ana"})

	ch := h.start(t, Config{Collection: events.CollectionPlayers})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	ev, ok := h.rec.last(EventRowRejected)
	if !ok || ev.RowID != "bad" {
		t.Fatalf("expected rejection of bad row, got %+v", ev)
	}
	var verr *db.ValidationError
	if !errors.As(ev.Err, &verr) {
		t.Errorf("rejection error = %v, want *db.ValidationError", ev.Err)
	}
	if h.rec.count(EventError) != 0 {
		t.Error("a rejected row must not surface as a channel error")
	}
	if !ch.Checkpoint().Equal(good.UpdatedAt) {
		t.Errorf("checkpoint did not move past the dropped row")
	}
}

func TestPull_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t1", Name: "A"})
	h.src.FailNext(3)

	h.start(t, Config{Collection: events.CollectionTeams, Attempts: 2})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })
	if h.rec.count(EventError) == 0 {
		t.Error("exhausting attempts should emit EventError")
	}
	if _, err := h.store.Get(context.Background(), events.CollectionTeams, "t1"); err != nil {
		t.Errorf("row not pulled after recovery: %v", err)
	}
}

func TestLive_FollowsFeed(t *testing.T) {
	h := newHarness(t)
	h.start(t, Config{Collection: events.CollectionSets, ScopeID: "m1", Live: true})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	putRemote(t, h.src, events.CollectionSets, &models.Set{ID: "s1", MatchID: "m1", SetNumber: 1, Status: models.SetLive, HomeScore: 4})
	putRemote(t, h.src, events.CollectionSets, &models.Set{ID: "s2", MatchID: "m2", SetNumber: 1, Status: models.SetLive})

	ctx := context.Background()
	waitUntil(t, "feed row applied", func() bool {
		_, err := h.store.Get(ctx, events.CollectionSets, "s1")
		return err == nil
	})
	if _, err := h.store.Get(ctx, events.CollectionSets, "s2"); err == nil {
		t.Error("row from another match leaked into the scoped channel")
	}

	if _, err := h.src.Delete(ctx, events.CollectionSets, "s1"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "feed delete applied", func() bool {
		_, err := h.store.Get(ctx, events.CollectionSets, "s1")
		return errors.Is(err, db.ErrNotFound)
	})
}

func TestLive_RecoversFromFeedLoss(t *testing.T) {
	h := newHarness(t)
	h.start(t, Config{Collection: events.CollectionTeams, Live: true})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	h.src.SetOffline(true)
	putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t1", Name: "While Down"})
	h.src.SetOffline(false)

	waitUntil(t, "row written during outage", func() bool {
		_, err := h.store.Get(context.Background(), events.CollectionTeams, "t1")
		return err == nil
	})
}

func TestPush_LocalWritesReachRemote(t *testing.T) {
	h := newHarness(t)
	h.start(t, Config{Collection: events.CollectionSubstitutions, ScopeID: "m1"})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	ctx := context.Background()
	sub := &models.Substitution{ID: "sub1", MatchID: "m1", SetID: "s1", TeamID: "h", PlayerOutID: "a", PlayerInID: "b", Position: 3}
	if _, err := h.store.Upsert(ctx, events.CollectionSubstitutions, sub); err != nil {
		t.Fatal(err)
	}
	other := &models.Substitution{ID: "sub2", MatchID: "m2", SetID: "s2", TeamID: "h", PlayerOutID: "a", PlayerInID: "b", Position: 3}
	if _, err := h.store.Upsert(ctx, events.CollectionSubstitutions, other); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, "push", func() bool { return h.rec.count(EventPushed) == 1 })
	if _, ok := h.src.Get(events.CollectionSubstitutions, "sub1"); !ok {
		t.Error("sub1 not on remote")
	}
	if _, ok := h.src.Get(events.CollectionSubstitutions, "sub2"); ok {
		t.Error("sub2 belongs to another scope and must wait for its own channel")
	}
	if n, _ := h.store.CountPending(ctx, events.CollectionSubstitutions); n != 1 {
		t.Errorf("pending = %d, want 1 (sub2)", n)
	}

	// Delete propagates as a tombstone
	if err := h.store.Remove(ctx, events.CollectionSubstitutions, "sub1"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "remote delete", func() bool {
		d, ok := h.src.Get(events.CollectionSubstitutions, "sub1")
		return ok && d.Deleted
	})
}

func TestPush_DeviceClockAheadOfServer(t *testing.T) {
	h := newHarness(t, db.WithClock(func() time.Time { return time.Now().Add(10 * time.Minute) }))
	h.start(t, Config{Collection: events.CollectionTeams, Live: true})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	ctx := context.Background()
	if _, err := h.store.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t1", Name: "Local"}); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "push", func() bool { return h.rec.count(EventPushed) == 1 })

	pushed, _ := h.src.Get(events.CollectionTeams, "t1")
	got, err := h.store.Get(ctx, events.CollectionTeams, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(pushed.UpdatedAt) {
		t.Fatalf("local updated_at = %v, want server stamp %v", got.UpdatedAt, pushed.UpdatedAt)
	}

	putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t1", Name: "Remote rename"})
	waitUntil(t, "remote rename applied", func() bool {
		doc, err := h.store.Get(ctx, events.CollectionTeams, "t1")
		return err == nil && doc.StringField("name") == "Remote rename"
	})
}

func TestPush_OfflineQueuesThenRetries(t *testing.T) {
	h := newHarness(t)
	h.src.SetOffline(true)
	ctx := context.Background()
	if _, err := h.store.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t1", Name: "Offline"}); err != nil {
		t.Fatal(err)
	}

	h.start(t, Config{Collection: events.CollectionTeams, Attempts: 2, RetryInterval: 20 * time.Millisecond})
	waitUntil(t, "push failure noted", func() bool {
		pending, err := h.store.PendingPushes(ctx, events.CollectionTeams, "", 0)
		return err == nil && len(pending) == 1 && pending[0].Attempts > 0 && pending[0].LastError != ""
	})
	waitUntil(t, "push error event", func() bool { return h.rec.count(EventError) > 0 })

	h.src.SetOffline(false)
	waitUntil(t, "retry tick push", func() bool { return h.rec.count(EventPushed) == 1 })
	if n, _ := h.store.CountPending(ctx, ""); n != 0 {
		t.Errorf("pending after recovery = %d", n)
	}
}

func TestPush_RejectedEntryDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	h.src.RejectID("t1")
	ctx := context.Background()
	h.store.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t1", Name: "Refused"})
	h.store.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t2", Name: "Fine"})

	h.start(t, Config{Collection: events.CollectionTeams})
	waitUntil(t, "t2 pushed", func() bool {
		_, ok := h.src.Get(events.CollectionTeams, "t2")
		return ok
	})
	if h.src.Calls("upsert") < 2 {
		t.Errorf("upsert calls = %d", h.src.Calls("upsert"))
	}
	if n, _ := h.store.CountPending(ctx, ""); n != 1 {
		t.Errorf("rejected entry should stay queued, pending = %d", n)
	}
	if _, ok := h.rec.last(EventError); !ok {
		t.Error("rejection should emit EventError")
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ch := h.start(t, Config{Collection: events.CollectionTeams})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	ch.Pause()
	if !ch.Paused() {
		t.Fatal("Paused() = false after Pause")
	}
	ctx := context.Background()
	h.store.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t1", Name: "Queued"})
	time.Sleep(50 * time.Millisecond)
	if _, ok := h.src.Get(events.CollectionTeams, "t1"); ok {
		t.Fatal("paused channel pushed")
	}

	ch.Resume()
	waitUntil(t, "push after resume", func() bool {
		_, ok := h.src.Get(events.CollectionTeams, "t1")
		return ok
	})
	waitUntil(t, "second catch-up", func() bool { return h.rec.count(EventCaughtUp) == 2 })
}

func TestResync(t *testing.T) {
	h := newHarness(t)
	ch := h.start(t, Config{Collection: events.CollectionTeams})
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })

	putRemote(t, h.src, events.CollectionTeams, &models.Team{ID: "t9", Name: "Late"})
	ch.Resync()
	waitUntil(t, "resync catch-up", func() bool { return h.rec.count(EventCaughtUp) == 2 })
	if _, err := h.store.Get(context.Background(), events.CollectionTeams, "t9"); err != nil {
		t.Errorf("resync did not pull new row: %v", err)
	}
}

func TestCancelStops(t *testing.T) {
	h := newHarness(t)
	ch := Start(context.Background(), Config{
		Collection: events.CollectionTeams,
		Store:      h.store,
		Source:     h.src,
		Live:       true,
	})
	ch.Cancel()
	done := make(chan struct{})
	go func() {
		ch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestStartPaused(t *testing.T) {
	h := newHarness(t)
	ch := h.start(t, Config{Collection: events.CollectionTeams, StartPaused: true})
	time.Sleep(30 * time.Millisecond)
	if h.src.Calls("query") != 0 {
		t.Fatal("paused channel queried the remote")
	}
	ch.Resume()
	waitUntil(t, "caught up", func() bool { return h.rec.count(EventCaughtUp) == 1 })
}
