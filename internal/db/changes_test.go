package db

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	return Change{}
}

func TestSubscribe_Origins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ch, cancel := db.Subscribe(events.CollectionTeams)
	defer cancel()
	other, cancelOther := db.Subscribe(events.CollectionPlayers)
	defer cancelOther()

	if _, err := db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t1", Name: "A"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	c := receive(t, ch)
	if c.Origin != OriginLocal || c.Action != events.ActionUpsert || c.ID != "t1" {
		t.Errorf("local change = %+v", c)
	}

	doc := remoteDoc(t, &models.Team{ID: "t2", Name: "B"}, time.Now())
	if _, err := db.ApplyRemote(ctx, events.CollectionTeams, doc); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	c = receive(t, ch)
	if c.Origin != OriginRemote || c.ID != "t2" {
		t.Errorf("remote change = %+v", c)
	}

	// No-op replays are not published
	db.ApplyRemote(ctx, events.CollectionTeams, doc)
	if err := db.Remove(ctx, events.CollectionTeams, "t1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	c = receive(t, ch)
	if c.Action != events.ActionDelete || c.ID != "t1" {
		t.Errorf("expected delete of t1 next, got %+v", c)
	}

	select {
	case c := <-other:
		t.Errorf("players subscriber saw %+v", c)
	default:
	}
}

func TestSubscribe_CancelCloses(t *testing.T) {
	db := newTestDB(t)
	ch, cancel := db.Subscribe(events.CollectionSets)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlockWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, cancel := db.Subscribe(events.CollectionTeams)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < changeBuffer+10; i++ {
			db.Upsert(ctx, events.CollectionTeams, &models.Team{ID: "t", Name: "n"})
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("writes blocked on an unread subscription")
	}
}
