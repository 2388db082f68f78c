package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/rally/internal/models"
)

const syncStatePrefix = "sync_state:"

// GetKV returns the value stored under key and whether it exists.
func (db *DB) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, true, nil
}

// SetKV stores value under key, replacing any previous value.
func (db *DB) SetKV(ctx context.Context, key, value string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, db.now().UnixNano())
		if err != nil {
			return fmt.Errorf("set kv %s: %w", key, err)
		}
		return nil
	})
}

// DeleteKV removes key. Missing keys are ignored.
func (db *DB) DeleteKV(ctx context.Context, key string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return err
	})
}

// SaveSyncState persists the sync state of its scope.
func (db *DB) SaveSyncState(ctx context.Context, state models.SyncState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = db.now().UTC()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	return db.SetKV(ctx, syncStatePrefix+state.ScopeID, string(data))
}

// LoadSyncState returns the persisted state for scopeID. A scope that was
// never saved comes back as never-synced with found false.
func (db *DB) LoadSyncState(ctx context.Context, scopeID string) (models.SyncState, bool, error) {
	value, found, err := db.GetKV(ctx, syncStatePrefix+scopeID)
	if err != nil {
		return models.SyncState{}, false, err
	}
	if !found {
		return models.SyncState{
			ScopeID:     scopeID,
			Status:      models.SyncNeverSynced,
			Collections: map[string]models.CollectionSync{},
		}, false, nil
	}
	var state models.SyncState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return models.SyncState{}, false, fmt.Errorf("decode sync state %s: %w", scopeID, err)
	}
	if state.Collections == nil {
		state.Collections = map[string]models.CollectionSync{}
	}
	return state, true, nil
}

// ListSyncStates returns every persisted sync state, most recently updated first.
func (db *DB) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key LIKE ? ORDER BY updated_at DESC`, syncStatePrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	defer rows.Close()

	var states []models.SyncState
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var state models.SyncState
		if err := json.Unmarshal([]byte(value), &state); err != nil {
			return nil, fmt.Errorf("decode sync state %s: %w", strings.TrimPrefix(key, syncStatePrefix), err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ResetSyncState drops the persisted state of scopeID so the next sync
// starts from an empty checkpoint.
func (db *DB) ResetSyncState(ctx context.Context, scopeID string) error {
	return db.DeleteKV(ctx, syncStatePrefix+scopeID)
}
