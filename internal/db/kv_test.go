package db

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/rally/internal/models"
)

func TestKV(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetKV(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetKV missing: ok=%v err=%v", ok, err)
	}
	if err := db.SetKV(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := db.SetKV(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	v, ok, err := db.GetKV(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("GetKV = %q %v %v", v, ok, err)
	}
	if err := db.DeleteKV(ctx, "k"); err != nil {
		t.Fatalf("DeleteKV: %v", err)
	}
	if _, ok, _ := db.GetKV(ctx, "k"); ok {
		t.Error("key still present after delete")
	}
}

func TestSyncState_SaveLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	state, found, err := db.LoadSyncState(ctx, "m1")
	if err != nil {
		t.Fatalf("LoadSyncState: %v", err)
	}
	if found || state.Status != models.SyncNeverSynced || state.Collections == nil {
		t.Fatalf("fresh state = %+v found=%v", state, found)
	}

	errAt := t0.Add(time.Minute)
	state.Status = models.SyncError
	state.LastError = "push sets: 503"
	state.LastErrorAt = &errAt
	state.Collections["sets"] = models.CollectionSync{LastUpdatedAt: t0, HasSynced: true}
	if err := db.SaveSyncState(ctx, state); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	got, found, err := db.LoadSyncState(ctx, "m1")
	if err != nil || !found {
		t.Fatalf("LoadSyncState: found=%v err=%v", found, err)
	}
	if got.Status != models.SyncError || got.LastError != "push sets: 503" {
		t.Errorf("got %+v", got)
	}
	if got.LastErrorAt == nil || !got.LastErrorAt.Equal(errAt) {
		t.Errorf("last_error_at = %v", got.LastErrorAt)
	}
	cs := got.Collections["sets"]
	if !cs.HasSynced || !cs.LastUpdatedAt.Equal(t0) {
		t.Errorf("collection checkpoint = %+v", cs)
	}

	db.SaveSyncState(ctx, models.SyncState{ScopeID: "global", Status: models.SyncSynced})
	states, err := db.ListSyncStates(ctx)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("states = %d, want 2", len(states))
	}

	if err := db.ResetSyncState(ctx, "m1"); err != nil {
		t.Fatalf("ResetSyncState: %v", err)
	}
	if _, found, _ := db.LoadSyncState(ctx, "m1"); found {
		t.Error("state survived reset")
	}
}
