package syncclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/rally/internal/api"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/remote"
	"github.com/marcus/rally/internal/serverdb"
)

// newServer starts a rally-sync server and returns a client holding a valid key.
func newServer(t *testing.T) *Client {
	t.Helper()
	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	srv, err := api.NewServer(api.Config{
		MaxFeedWait:    time.Second,
		PageLimit:      100,
		RateLimitWrite: 1000,
		RateLimitRead:  1000,
		RateLimitOther: 1000,
	}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})

	ctx := context.Background()
	u, err := store.CreateUser(ctx, "scorer@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	key, _, err := store.GenerateAPIKey(ctx, u.ID, "test", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	c := New(ts.URL, key)
	c.FeedWait = 500 * time.Millisecond
	return c
}

func matchDoc(t *testing.T, id string) models.Document {
	t.Helper()
	doc, err := models.NewDocument(&models.Match{
		ID:         id,
		HomeTeamID: "home",
		AwayTeamID: "away",
		Status:     models.MatchUpcoming,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestPingAndMe(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.Email != "scorer@example.com" || me.ID == "" {
		t.Errorf("me = %+v", me)
	}
}

func TestUpsertQueryDelete(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	stored, err := c.Upsert(ctx, events.CollectionMatches, matchDoc(t, "m1"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if stored.ID != "m1" || stored.UpdatedAt.IsZero() {
		t.Fatalf("stored = %+v", stored)
	}

	rows, err := c.Query(ctx, remote.Query{Collection: events.CollectionMatches, ScopeID: "m1", Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || !rows[0].UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("rows = %+v", rows)
	}

	rows, err = c.Query(ctx, remote.Query{Collection: events.CollectionMatches, After: stored.UpdatedAt})
	if err != nil || len(rows) != 0 {
		t.Fatalf("rows after checkpoint = %+v, %v", rows, err)
	}

	tomb, err := c.Delete(ctx, events.CollectionMatches, "m1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !tomb.Deleted || !tomb.UpdatedAt.After(stored.UpdatedAt) {
		t.Errorf("tombstone = %+v", tomb)
	}
}

func TestUpsertRejected(t *testing.T) {
	c := newServer(t)
	bad := models.Document{ID: "m1", Body: []byte(`{"id":"m1"}`)}

	_, err := c.Upsert(context.Background(), events.CollectionMatches, bad)
	if !errors.Is(err, remote.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if remote.IsTransient(err) {
		t.Error("rejection reported as transient")
	}
}

func TestSubscribeDeliversChanges(t *testing.T) {
	c := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := c.Subscribe(ctx, remote.Query{Collection: events.CollectionMatches, ScopeID: "m2"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := c.Upsert(ctx, events.CollectionMatches, matchDoc(t, "m1")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Upsert(ctx, events.CollectionMatches, matchDoc(t, "m2")); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-feed:
		if change.Doc.ID != "m2" || change.Action != events.ActionUpsert {
			t.Fatalf("change = %+v; want only the subscribed match", change)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case _, ok := <-feed:
		for ok {
			_, ok = <-feed
		}
	case <-time.After(3 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		sentinel  error
	}{
		{http.StatusUnauthorized, true, ErrUnauthorized},
		{http.StatusForbidden, false, ErrForbidden},
		{http.StatusNotFound, false, ErrNotFound},
		{http.StatusUnprocessableEntity, false, remote.ErrRejected},
		{http.StatusTooManyRequests, true, remote.ErrUnavailable},
		{http.StatusBadGateway, true, remote.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"code":"x","message":"nope"}}`))
			}))
			defer ts.Close()

			_, err := New(ts.URL, "k").Query(context.Background(), remote.Query{Collection: events.CollectionTeams})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("err = %v, want %v", err, tt.sentinel)
			}
			if got := remote.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestUnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := New(url, "k").Ping(context.Background())
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := New(url, "k").Subscribe(context.Background(), remote.Query{Collection: events.CollectionTeams}); !errors.Is(err, remote.ErrFeedClosed) {
		t.Fatalf("Subscribe err = %v, want ErrFeedClosed", err)
	}
}
