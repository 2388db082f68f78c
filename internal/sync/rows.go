package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

type storedRow struct {
	owner   string
	matchID string
	doc     models.Document
}

func getRow(q queryer, table events.Collection, id string) (storedRow, bool, error) {
	var r storedRow
	var updated int64
	var deleted int
	var raw string
	err := q.QueryRow(`SELECT owner_id, match_id, updated_at, deleted, doc FROM sync_rows WHERE tbl = ? AND id = ?`,
		string(table), id).Scan(&r.owner, &r.matchID, &updated, &deleted, &raw)
	if err == sql.ErrNoRows {
		return storedRow{}, false, nil
	}
	if err != nil {
		return storedRow{}, false, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(raw), &r.doc); err != nil {
		return storedRow{}, false, fmt.Errorf("decode %s/%s: %w", table, id, err)
	}
	r.doc.UpdatedAt = time.Unix(0, updated).UTC()
	return r, true, nil
}

// Put stores doc for owner, stamping it with at, and appends an upsert to
// the change log. It returns the stored document and its log sequence.
func Put(tx *sql.Tx, owner string, table events.Collection, doc models.Document, at time.Time, validate Validator) (models.Document, int64, error) {
	if !events.IsValidCollection(string(table)) {
		return models.Document{}, 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	prev, found, err := getRow(tx, table, doc.ID)
	if err != nil {
		return models.Document{}, 0, err
	}
	if found && prev.owner != owner {
		return models.Document{}, 0, fmt.Errorf("%w: %s/%s", ErrForbidden, table, doc.ID)
	}

	stamped, err := doc.Stamp(at)
	if err != nil {
		return models.Document{}, 0, err
	}
	if validate != nil {
		if err := validate(table, stamped); err != nil {
			return models.Document{}, 0, err
		}
	}

	matchID := ""
	if field := events.ScopeField(table); field != "" {
		matchID = stamped.StringField(field)
	}
	if stamped.Deleted && found {
		matchID = prev.matchID
	}

	action := events.ActionUpsert
	if stamped.Deleted {
		action = events.ActionDelete
	}
	seq, err := write(tx, owner, table, matchID, action, stamped)
	if err != nil {
		return models.Document{}, 0, err
	}
	return stamped, seq, nil
}

// Delete tombstones id. Deleting a row the server never saw still records
// the tombstone so later pushes of the old row lose.
func Delete(tx *sql.Tx, owner string, table events.Collection, id string, at time.Time) (models.Document, int64, error) {
	return Put(tx, owner, table, models.Tombstone(id, at), at, nil)
}

func write(tx *sql.Tx, owner string, table events.Collection, matchID string, action events.ActionType, doc models.Document) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", table, doc.ID, err)
	}
	deleted := 0
	if doc.Deleted {
		deleted = 1
	}
	_, err = tx.Exec(`
		INSERT INTO sync_rows (owner_id, tbl, id, match_id, updated_at, deleted, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tbl, id) DO UPDATE SET
			match_id = excluded.match_id,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			doc = excluded.doc`,
		owner, string(table), doc.ID, matchID, doc.UpdatedAt.UnixNano(), deleted, string(raw))
	if err != nil {
		return 0, fmt.Errorf("put %s/%s: %w", table, doc.ID, err)
	}

	res, err := tx.Exec(`INSERT INTO sync_changes (owner_id, tbl, row_id, match_id, action, doc, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		owner, string(table), doc.ID, matchID, string(action), string(raw), doc.UpdatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("log %s/%s: %w", table, doc.ID, err)
	}
	return res.LastInsertId()
}

// QueryRows returns rows of q.Table changed after q.After, oldest first,
// tombstones included.
func QueryRows(db queryer, q RowQuery) ([]models.Document, error) {
	query := `SELECT doc, updated_at FROM sync_rows WHERE owner_id = ? AND tbl = ? AND updated_at > ?`
	args := []any{q.Owner, string(q.Table), q.After.UnixNano()}
	if q.MatchID != "" {
		query += ` AND match_id = ?`
		args = append(args, q.MatchID)
	}
	query += ` ORDER BY updated_at, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var raw string
		var updated int64
		if err := rows.Scan(&raw, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		var doc models.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", q.Table, err)
		}
		doc.UpdatedAt = time.Unix(0, updated).UTC()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ChangesAfter returns change log entries after q.AfterSeq, oldest first.
func ChangesAfter(db queryer, q ChangeQuery) ([]Change, error) {
	query := `SELECT seq, row_id, match_id, action, doc FROM sync_changes WHERE owner_id = ? AND tbl = ? AND seq > ?`
	args := []any{q.Owner, string(q.Table), q.AfterSeq}
	if q.MatchID != "" {
		query += ` AND match_id = ?`
		args = append(args, q.MatchID)
	}
	query += ` ORDER BY seq`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("changes %s: %w", q.Table, err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		c := Change{Table: q.Table}
		var action, raw string
		if err := rows.Scan(&c.Seq, &c.RowID, &c.MatchID, &action, &raw); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Action = events.ActionType(action)
		if err := json.Unmarshal([]byte(raw), &c.Doc); err != nil {
			return nil, fmt.Errorf("decode change %d: %w", c.Seq, err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// HeadSeq returns the newest change log sequence, 0 when empty.
func HeadSeq(db queryer) (int64, error) {
	var seq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM sync_changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("head seq: %w", err)
	}
	return seq.Int64, nil
}

// LastStamp returns the newest updated_at across all rows, zero when empty.
func LastStamp(db queryer) (time.Time, error) {
	var ns sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(updated_at) FROM sync_rows`).Scan(&ns); err != nil {
		return time.Time{}, fmt.Errorf("last stamp: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ns.Int64).UTC(), nil
}
