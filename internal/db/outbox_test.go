package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

func TestOutbox_CoalescesPerRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	set := &models.Set{ID: "s1", MatchID: "m1", SetNumber: 1, Status: models.SetLive}
	for score := 1; score <= 3; score++ {
		set.HomeScore = score
		if _, err := db.Upsert(ctx, events.CollectionSets, set); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	pending, err := db.PendingPushes(ctx, events.CollectionSets, "m1", 0)
	if err != nil {
		t.Fatalf("PendingPushes: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	var got models.Set
	if err := pending[0].Doc.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.HomeScore != 3 {
		t.Errorf("queued home score = %d, want latest (3)", got.HomeScore)
	}
}

func TestOutbox_ScopedAndOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, matchID := range []string{"m1", "m2", "m1"} {
		p := &models.ScorePoint{ID: string(rune('a' + i)), MatchID: matchID, SetID: "s", PointNumber: i + 1, ScoringTeamID: "h"}
		if _, err := db.Upsert(ctx, events.CollectionScorePoints, p); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if _, err := db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t", Name: "T"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pending, err := db.PendingPushes(ctx, events.CollectionScorePoints, "m1", 0)
	if err != nil {
		t.Fatalf("PendingPushes: %v", err)
	}
	if len(pending) != 2 || pending[0].RowID != "a" || pending[1].RowID != "c" {
		t.Fatalf("m1 pending = %+v", pending)
	}

	global, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)
	if len(global) != 1 || global[0].ScopeID != "" {
		t.Fatalf("global pending = %+v", global)
	}

	scopes, err := db.PendingScopes(ctx, events.CollectionScorePoints)
	if err != nil {
		t.Fatalf("PendingScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != "m1" || scopes[1] != "m2" {
		t.Errorf("scopes = %v", scopes)
	}

	limited, _ := db.PendingPushes(ctx, events.CollectionScorePoints, "m1", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d entries", len(limited))
	}

	total, _ := db.CountPending(ctx, "")
	points, _ := db.CountPending(ctx, events.CollectionScorePoints)
	if total != 4 || points != 3 {
		t.Errorf("CountPending total=%d points=%d, want 4 and 3", total, points)
	}
}

func TestOutbox_FailureKeepsEntry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t", Name: "T"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	pending, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)
	id := pending[0].ID

	for i := 0; i < 2; i++ {
		if err := db.NotePushFailure(ctx, id, errors.New("connection refused")); err != nil {
			t.Fatalf("NotePushFailure: %v", err)
		}
	}
	pending, _ = db.PendingPushes(ctx, events.CollectionTeams, "", 0)
	if len(pending) != 1 {
		t.Fatalf("entry dropped after failures")
	}
	if pending[0].Attempts != 2 || pending[0].LastError != "connection refused" {
		t.Errorf("attempts=%d last_error=%q", pending[0].Attempts, pending[0].LastError)
	}

	if _, err := db.AckPushed(ctx, pending[0], models.Document{}); err != nil {
		t.Fatalf("AckPushed: %v", err)
	}
	if n, _ := db.CountPending(ctx, ""); n != 0 {
		t.Errorf("pending after ack = %d", n)
	}
}

func TestOutbox_AckOfSupersededEntryKeepsNewer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	team := &models.Team{ID: "t", Name: "One"}
	db.Upsert(ctx, events.CollectionTeams, team)
	first, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)

	// Edit lands while the first push is in flight.
	team.Name = "Two"
	db.Upsert(ctx, events.CollectionTeams, team)

	echo, _ := first[0].Doc.Stamp(first[0].Doc.UpdatedAt.Add(-time.Minute))
	adopted, err := db.AckPushed(ctx, first[0], echo)
	if err != nil {
		t.Fatalf("AckPushed: %v", err)
	}
	if adopted {
		t.Error("acknowledging a superseded entry replaced the newer local row")
	}
	pending, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)
	if len(pending) != 1 {
		t.Fatalf("newer edit lost: pending=%d", len(pending))
	}
	if pending[0].Doc.StringField("name") != "Two" {
		t.Errorf("queued name = %q", pending[0].Doc.StringField("name"))
	}
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Initialize(dir, WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t", Name: "T"})
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	pending, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)
	if len(pending) != 1 || !pending[0].Doc.UpdatedAt.Equal(t0) {
		t.Fatalf("pending after reopen = %+v", pending)
	}
}

func TestOutbox_AckAdoptsRemoteCopyFromSlowerClock(t *testing.T) {
	// The device clock runs ten minutes ahead of the server.
	db := newTestDB(t, WithClock(func() time.Time { return t0.Add(10 * time.Minute) }))
	ctx := context.Background()

	db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t", Name: "Local"})
	pending, _ := db.PendingPushes(ctx, events.CollectionTeams, "", 0)

	stored, err := pending[0].Doc.Stamp(t0)
	if err != nil {
		t.Fatal(err)
	}
	adopted, err := db.AckPushed(ctx, pending[0], stored)
	if err != nil {
		t.Fatalf("AckPushed: %v", err)
	}
	if !adopted {
		t.Fatal("remote copy not adopted")
	}
	got, _ := db.Get(ctx, events.CollectionTeams, "t")
	if !got.UpdatedAt.Equal(t0) {
		t.Fatalf("updated_at = %v, want server stamp %v", got.UpdatedAt, t0)
	}

	// A later server write now wins even though it is older than the device clock.
	rename, err := models.NewDocument(&models.Team{ID: "t", Name: "Remote rename", UpdatedAt: t0.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	applied, err := db.ApplyRemote(ctx, events.CollectionTeams, rename)
	if err != nil || !applied {
		t.Fatalf("ApplyRemote = %v, %v", applied, err)
	}
	got, _ = db.Get(ctx, events.CollectionTeams, "t")
	if got.StringField("name") != "Remote rename" {
		t.Errorf("name = %q, want Remote rename", got.StringField("name"))
	}
	if n, _ := db.CountPending(ctx, ""); n != 0 {
		t.Errorf("pending after ack = %d", n)
	}
}
