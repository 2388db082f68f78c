package sync

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func put(t *testing.T, db *sql.DB, owner string, table events.Collection, doc models.Document, at time.Time) (models.Document, int64) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	stored, seq, err := Put(tx, owner, table, doc, at, nil)
	if err != nil {
		tx.Rollback()
		t.Fatalf("Put %s: %v", doc.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return stored, seq
}

func setDoc(id, matchID string) models.Document {
	return models.Document{
		ID:   id,
		Body: []byte(`{"id":"` + id + `","match_id":"` + matchID + `","set_number":1,"status":"live","updated_at":"2020-01-01T00:00:00Z"}`),
	}
}

func TestPutStampsAndLogs(t *testing.T) {
	db := setupDB(t)
	stored, seq := put(t, db, "u1", events.CollectionSets, setDoc("s1", "m1"), t0)

	if !stored.UpdatedAt.Equal(t0) {
		t.Errorf("updated_at = %v, want %v", stored.UpdatedAt, t0)
	}
	if got := stored.StringField("updated_at"); got != t0.Format(time.RFC3339Nano) {
		t.Errorf("body updated_at = %q", got)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	changes, err := ChangesAfter(db, ChangeQuery{Owner: "u1", Table: events.CollectionSets})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].MatchID != "m1" || changes[0].Action != events.ActionUpsert {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestPutUnknownTable(t *testing.T) {
	db := setupDB(t)
	tx, _ := db.Begin()
	defer tx.Rollback()
	if _, _, err := Put(tx, "u1", "issues", setDoc("x", "m"), t0, nil); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("err = %v, want ErrUnknownTable", err)
	}
}

func TestPutForeignRowForbidden(t *testing.T) {
	db := setupDB(t)
	put(t, db, "u1", events.CollectionSets, setDoc("s1", "m1"), t0)

	tx, _ := db.Begin()
	defer tx.Rollback()
	if _, _, err := Put(tx, "u2", events.CollectionSets, setDoc("s1", "m1"), t0.Add(time.Second), nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestPutRunsValidator(t *testing.T) {
	db := setupDB(t)
	tx, _ := db.Begin()
	defer tx.Rollback()
	bad := errors.New("bad row")
	_, _, err := Put(tx, "u1", events.CollectionSets, setDoc("s1", "m1"), t0, func(events.Collection, models.Document) error { return bad })
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v, want validator error", err)
	}
}

func TestQueryRowsPagesByScope(t *testing.T) {
	db := setupDB(t)
	put(t, db, "u1", events.CollectionSets, setDoc("a", "m1"), t0.Add(1*time.Second))
	put(t, db, "u1", events.CollectionSets, setDoc("b", "m2"), t0.Add(2*time.Second))
	put(t, db, "u1", events.CollectionSets, setDoc("c", "m1"), t0.Add(3*time.Second))
	put(t, db, "u2", events.CollectionSets, setDoc("d", "m1"), t0.Add(4*time.Second))

	page, err := QueryRows(db, RowQuery{Owner: "u1", Table: events.CollectionSets, MatchID: "m1", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "a" {
		t.Fatalf("first page = %+v", page)
	}
	page, err = QueryRows(db, RowQuery{Owner: "u1", Table: events.CollectionSets, MatchID: "m1", After: page[0].UpdatedAt})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "c" {
		t.Fatalf("second page = %+v", page)
	}

	all, err := QueryRows(db, RowQuery{Owner: "u1", Table: events.CollectionSets})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("unscoped rows = %d, want 3", len(all))
	}
}

func TestDeleteKeepsMatchScope(t *testing.T) {
	db := setupDB(t)
	put(t, db, "u1", events.CollectionSets, setDoc("s1", "m1"), t0)

	tx, _ := db.Begin()
	tomb, _, err := Delete(tx, "u1", events.CollectionSets, "s1", t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	if !tomb.Deleted {
		t.Fatal("Delete did not return a tombstone")
	}

	rows, err := QueryRows(db, RowQuery{Owner: "u1", Table: events.CollectionSets, MatchID: "m1", After: t0})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].Deleted {
		t.Fatalf("scoped rows after delete = %+v", rows)
	}

	changes, err := ChangesAfter(db, ChangeQuery{Owner: "u1", Table: events.CollectionSets, MatchID: "m1", AfterSeq: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Action != events.ActionDelete {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestDeleteUnknownRowRecordsTombstone(t *testing.T) {
	db := setupDB(t)
	tx, _ := db.Begin()
	if _, _, err := Delete(tx, "u1", events.CollectionTeams, "ghost", t0); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	rows, _ := QueryRows(db, RowQuery{Owner: "u1", Table: events.CollectionTeams})
	if len(rows) != 1 || !rows[0].Deleted {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestHeadSeqAndLastStamp(t *testing.T) {
	db := setupDB(t)
	if seq, _ := HeadSeq(db); seq != 0 {
		t.Errorf("empty head = %d", seq)
	}
	if ts, _ := LastStamp(db); !ts.IsZero() {
		t.Errorf("empty last stamp = %v", ts)
	}
	put(t, db, "u1", events.CollectionSets, setDoc("a", "m1"), t0)
	put(t, db, "u1", events.CollectionSets, setDoc("b", "m1"), t0.Add(time.Minute))
	if seq, _ := HeadSeq(db); seq != 2 {
		t.Errorf("head = %d, want 2", seq)
	}
	if ts, _ := LastStamp(db); !ts.Equal(t0.Add(time.Minute)) {
		t.Errorf("last stamp = %v", ts)
	}
}

func TestClockStrictlyIncreases(t *testing.T) {
	c := NewClock(func() time.Time { return t0 }, t0)
	a := c.Next()
	b := c.Next()
	if !a.After(t0) || !b.After(a) {
		t.Fatalf("clock not increasing: %v, %v", a, b)
	}
}

func TestNotifierWakesWaiters(t *testing.T) {
	n := NewNotifier()
	w1, w2 := n.Wait(), n.Wait()
	n.Notify()
	for _, w := range []<-chan struct{}{w1, w2} {
		select {
		case <-w:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}
	select {
	case <-n.Wait():
		t.Fatal("new waiter woken without Notify")
	default:
	}
}
