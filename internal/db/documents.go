package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// ErrExists is returned by Insert when a live document already has the id.
var ErrExists = errors.New("document already exists")

// Filter narrows Find. Zero values match everything live.
type Filter struct {
	ScopeID string
	// Where matches top-level body fields by equality.
	Where          map[string]any
	UpdatedAfter   time.Time
	IncludeDeleted bool
	Limit          int
}

// Sort orders Find results. The default is updated_at ascending.
type Sort struct {
	Field string
	Desc  bool
}

type storedDoc struct {
	scopeID string
	doc     models.Document
}

// Insert writes a new document. It fails with ErrExists if a live document
// has the same id.
func (db *DB) Insert(ctx context.Context, collection events.Collection, row models.Row) (models.Document, error) {
	return db.writeLocal(ctx, collection, row, true)
}

// Upsert writes row locally, stamping updated_at, and queues it for push.
// row's UpdatedAt is set to the stamped value.
func (db *DB) Upsert(ctx context.Context, collection events.Collection, row models.Row) (models.Document, error) {
	return db.writeLocal(ctx, collection, row, false)
}

func (db *DB) writeLocal(ctx context.Context, collection events.Collection, row models.Row, insert bool) (models.Document, error) {
	schema, err := Schema(collection)
	if err != nil {
		return models.Document{}, err
	}
	if row.RowID() == "" {
		return models.Document{}, &ValidationError{Collection: collection, Field: "id", Reason: "is required"}
	}

	var doc models.Document
	var scopeID string
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		prev, found, err := getStored(ctx, tx, collection, row.RowID())
		if err != nil {
			return err
		}
		if insert && found && !prev.doc.Deleted {
			return fmt.Errorf("%w: %s/%s", ErrExists, collection, row.RowID())
		}

		floor := row.RowUpdatedAt()
		if found && prev.doc.UpdatedAt.After(floor) {
			floor = prev.doc.UpdatedAt
		}
		row.SetUpdatedAt(db.stamp(floor))

		doc, err = models.NewDocument(row)
		if err != nil {
			return err
		}
		if err := Validate(collection, doc); err != nil {
			return err
		}
		scopeID = schema.ScopeOf(doc)

		if err := putStored(ctx, tx, collection, scopeID, doc); err != nil {
			return err
		}
		return enqueuePush(ctx, tx, collection, scopeID, events.ActionUpsert, doc)
	})
	if err != nil {
		return models.Document{}, err
	}

	db.publish(Change{
		Collection: collection,
		Action:     events.ActionUpsert,
		ID:         doc.ID,
		ScopeID:    scopeID,
		Origin:     OriginLocal,
		Doc:        doc,
	})
	return doc, nil
}

// Remove deletes a document locally, leaving a tombstone, and queues the delete for push.
func (db *DB) Remove(ctx context.Context, collection events.Collection, id string) error {
	if _, err := Schema(collection); err != nil {
		return err
	}

	var doc models.Document
	var scopeID string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		prev, found, err := getStored(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if !found || prev.doc.Deleted {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		scopeID = prev.scopeID
		doc = models.Tombstone(id, db.stamp(prev.doc.UpdatedAt))
		if err := putStored(ctx, tx, collection, scopeID, doc); err != nil {
			return err
		}
		return enqueuePush(ctx, tx, collection, scopeID, events.ActionDelete, doc)
	})
	if err != nil {
		return err
	}

	db.publish(Change{
		Collection: collection,
		Action:     events.ActionDelete,
		ID:         id,
		ScopeID:    scopeID,
		Origin:     OriginLocal,
		Doc:        doc,
	})
	return nil
}

// ApplyRemote stores a document pulled from the remote source. The write
// happens only if doc is strictly newer than the stored copy, so replaying
// a row is a no-op. It reports whether the store changed.
func (db *DB) ApplyRemote(ctx context.Context, collection events.Collection, doc models.Document) (bool, error) {
	schema, err := Schema(collection)
	if err != nil {
		return false, err
	}
	if err := Validate(collection, doc); err != nil {
		return false, err
	}

	scopeID := schema.ScopeOf(doc)
	applied := false
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		prev, found, err := getStored(ctx, tx, collection, doc.ID)
		if err != nil {
			return err
		}
		if found {
			if !doc.UpdatedAt.After(prev.doc.UpdatedAt) {
				return nil
			}
			if scopeID == "" {
				scopeID = prev.scopeID
			}
		}
		if err := putStored(ctx, tx, collection, scopeID, doc); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}

	action := events.ActionUpsert
	if doc.Deleted {
		action = events.ActionDelete
	}
	db.publish(Change{
		Collection: collection,
		Action:     action,
		ID:         doc.ID,
		ScopeID:    scopeID,
		Origin:     OriginRemote,
		Doc:        doc,
	})
	return true, nil
}

// ApplyRemoteDelete applies a remote deletion observed at the given time.
func (db *DB) ApplyRemoteDelete(ctx context.Context, collection events.Collection, id string, at time.Time) (bool, error) {
	return db.ApplyRemote(ctx, collection, models.Tombstone(id, at))
}

// Get returns a live document. Deleted and missing documents yield ErrNotFound.
func (db *DB) Get(ctx context.Context, collection events.Collection, id string) (models.Document, error) {
	if _, err := Schema(collection); err != nil {
		return models.Document{}, err
	}
	stored, found, err := getStored(ctx, db.conn, collection, id)
	if err != nil {
		return models.Document{}, err
	}
	if !found || stored.doc.Deleted {
		return models.Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return stored.doc, nil
}

// Load decodes a live document into v.
func (db *DB) Load(ctx context.Context, collection events.Collection, id string, v any) error {
	doc, err := db.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := doc.Decode(v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// Find returns documents of collection matching filter, ordered by sort.
func (db *DB) Find(ctx context.Context, collection events.Collection, filter Filter, sort Sort) ([]models.Document, error) {
	if _, err := Schema(collection); err != nil {
		return nil, err
	}

	var conds []string
	var args []any
	if filter.ScopeID != "" {
		conds = append(conds, "scope_id = ?")
		args = append(args, filter.ScopeID)
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if !filter.UpdatedAfter.IsZero() {
		conds = append(conds, "updated_at > ?")
		args = append(args, filter.UpdatedAfter.UnixNano())
	}

	fields := make([]string, 0, len(filter.Where))
	for f := range filter.Where {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		if !validColumnName.MatchString(f) {
			return nil, fmt.Errorf("invalid filter field %q", f)
		}
		conds = append(conds, fmt.Sprintf("json_extract(doc, '$.%s') = ?", f))
		args = append(args, sqlValue(filter.Where[f]))
	}

	query := fmt.Sprintf("SELECT id, scope_id, updated_at, deleted, doc FROM %s", collection)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	order, err := orderBy(sort)
	if err != nil {
		return nil, err
	}
	query += " ORDER BY " + order
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		stored, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, stored.doc)
	}
	return docs, rows.Err()
}

func orderBy(s Sort) (string, error) {
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	switch s.Field {
	case "", "updated_at":
		return fmt.Sprintf("updated_at %s, id %s", dir, dir), nil
	case "id":
		return "id " + dir, nil
	}
	if !validColumnName.MatchString(s.Field) {
		return "", fmt.Errorf("invalid sort field %q", s.Field)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s') %s, id %s", s.Field, dir, dir), nil
}

// sqlValue lowers named string, integer and bool types to driver values.
func sqlValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getStored(ctx context.Context, q queryer, collection events.Collection, id string) (storedDoc, bool, error) {
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, scope_id, updated_at, deleted, doc FROM %s WHERE id = ?", collection), id)
	stored, err := scanStored(row)
	if err == sql.ErrNoRows {
		return storedDoc{}, false, nil
	}
	if err != nil {
		return storedDoc{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return stored, true, nil
}

func scanStored(r rowScanner) (storedDoc, error) {
	var (
		id, scopeID, body string
		updatedAt         int64
		deleted           bool
	)
	if err := r.Scan(&id, &scopeID, &updatedAt, &deleted, &body); err != nil {
		return storedDoc{}, err
	}
	doc := models.Document{ID: id, UpdatedAt: time.Unix(0, updatedAt).UTC(), Deleted: deleted}
	if !deleted {
		doc.Body = json.RawMessage(body)
	}
	return storedDoc{scopeID: scopeID, doc: doc}, nil
}

func putStored(ctx context.Context, tx *sql.Tx, collection events.Collection, scopeID string, doc models.Document) error {
	body := ""
	if !doc.Deleted {
		body = string(doc.Body)
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, scope_id, updated_at, deleted, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope_id = excluded.scope_id,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			doc = excluded.doc`, collection),
		doc.ID, scopeID, doc.UpdatedAt.UnixNano(), doc.Deleted, body)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

// withTx runs fn in a transaction under the write lock.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
