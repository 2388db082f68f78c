package models

import (
	"maps"
	"time"
)

// SyncStatus is the readiness of a sync scope
type SyncStatus string

const (
	SyncNeverSynced SyncStatus = "never-synced"
	SyncSyncing     SyncStatus = "syncing"
	SyncSynced      SyncStatus = "synced"
	SyncError       SyncStatus = "error"
)

// CollectionSync is the per-collection checkpoint within a scope.
type CollectionSync struct {
	LastUpdatedAt time.Time `json:"last_updated_at"`
	HasSynced     bool      `json:"has_synced"`
}

// SyncState is the durable sync progress of one scope.
type SyncState struct {
	ScopeID     string                    `json:"scope_id"`
	Status      SyncStatus                `json:"status"`
	Collections map[string]CollectionSync `json:"collections"`
	LastError   string                    `json:"last_error,omitempty"`
	LastErrorAt *time.Time                `json:"last_error_at,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Clone returns a copy that shares no maps or pointers with s.
func (s SyncState) Clone() SyncState {
	s.Collections = maps.Clone(s.Collections)
	if s.LastErrorAt != nil {
		t := *s.LastErrorAt
		s.LastErrorAt = &t
	}
	return s
}

// AllSynced reports whether every tracked collection completed a pull.
// A scope with no tracked collections is not synced.
func (s SyncState) AllSynced() bool {
	if len(s.Collections) == 0 {
		return false
	}
	for _, c := range s.Collections {
		if !c.HasSynced {
			return false
		}
	}
	return true
}
