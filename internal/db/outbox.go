package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// PendingPush is a queued local mutation awaiting acknowledgement by the remote.
type PendingPush struct {
	ID         int64
	Collection events.Collection
	ScopeID    string
	RowID      string
	Action     events.ActionType
	Doc        models.Document
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// enqueuePush records a mutation in the outbox. Earlier unacknowledged
// entries for the same row are superseded since doc carries the full state.
func enqueuePush(ctx context.Context, tx *sql.Tx, collection events.Collection, scopeID string, action events.ActionType, doc models.Document) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM outbox WHERE collection = ? AND row_id = ?`, string(collection), doc.ID); err != nil {
		return fmt.Errorf("supersede outbox %s/%s: %w", collection, doc.ID, err)
	}
	body, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (collection, scope_id, row_id, action, doc, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(collection), scopeID, doc.ID, string(action), string(body),
		doc.UpdatedAt.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

// PendingPushes returns queued entries for collection and scope, oldest first.
// limit <= 0 returns everything.
func (db *DB) PendingPushes(ctx context.Context, collection events.Collection, scopeID string, limit int) ([]PendingPush, error) {
	query := `
		SELECT id, collection, scope_id, row_id, action, doc, attempts, last_error, created_at
		FROM outbox
		WHERE collection = ? AND scope_id = ?
		ORDER BY id`
	args := []any{string(collection), scopeID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending pushes: %w", err)
	}
	defer rows.Close()

	var out []PendingPush
	for rows.Next() {
		var p PendingPush
		var collection, action, body string
		var createdAt int64
		if err := rows.Scan(&p.ID, &collection, &p.ScopeID, &p.RowID, &action, &body,
			&p.Attempts, &p.LastError, &createdAt); err != nil {
			return nil, err
		}
		p.Collection = events.Collection(collection)
		p.Action = events.NormalizeActionType(action)
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := p.Doc.UnmarshalJSON([]byte(body)); err != nil {
			return nil, fmt.Errorf("outbox entry %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AckPushed removes an entry once the remote accepted it and adopts the
// remote's stored copy when the local row is still the version that was
// pushed. Local stamps come from the device clock, so the stored copy
// replaces the row even if it does not look newer. A row written again
// since the push keeps its local state; acknowledging a superseded entry
// only removes it. It reports whether the row was replaced.
func (db *DB) AckPushed(ctx context.Context, p PendingPush, stored models.Document) (bool, error) {
	schema, err := Schema(p.Collection)
	if err != nil {
		return false, err
	}
	adopt := stored.ID == p.RowID
	if adopt {
		if err := Validate(p.Collection, stored); err != nil {
			db.log.Warn("remote copy rejected", "collection", p.Collection, "id", p.RowID, "err", err)
			adopt = false
		}
	}

	scopeID := p.ScopeID
	adopted := false
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, p.ID); err != nil {
			return fmt.Errorf("ack %s/%s: %w", p.Collection, p.RowID, err)
		}
		if !adopt {
			return nil
		}
		prev, found, err := getStored(ctx, tx, p.Collection, p.RowID)
		if err != nil {
			return err
		}
		if !found || !prev.doc.UpdatedAt.Equal(p.Doc.UpdatedAt) || prev.doc.UpdatedAt.Equal(stored.UpdatedAt) {
			return nil
		}
		if s := schema.ScopeOf(stored); s != "" {
			scopeID = s
		} else if prev.scopeID != "" {
			scopeID = prev.scopeID
		}
		if err := putStored(ctx, tx, p.Collection, scopeID, stored); err != nil {
			return err
		}
		adopted = true
		return nil
	})
	if err != nil || !adopted {
		return false, err
	}

	action := events.ActionUpsert
	if stored.Deleted {
		action = events.ActionDelete
	}
	db.publish(Change{
		Collection: p.Collection,
		Action:     action,
		ID:         p.RowID,
		ScopeID:    scopeID,
		Origin:     OriginRemote,
		Doc:        stored,
	})
	return true, nil
}

// NotePushFailure records a failed attempt. The entry stays queued.
func (db *DB) NotePushFailure(ctx context.Context, id int64, pushErr error) error {
	msg := ""
	if pushErr != nil {
		msg = pushErr.Error()
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
		return err
	})
}

// CountPending counts queued entries. An empty collection counts all of them.
func (db *DB) CountPending(ctx context.Context, collection events.Collection) (int, error) {
	var n int
	var err error
	if collection == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM outbox WHERE collection = ?`, string(collection)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// PendingScopes returns the distinct scopes with queued entries for collection.
func (db *DB) PendingScopes(ctx context.Context, collection events.Collection) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT scope_id FROM outbox WHERE collection = ? ORDER BY scope_id`, string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
