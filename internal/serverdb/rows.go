package serverdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	rsync "github.com/marcus/rally/internal/sync"
)

// PutRow validates and stores doc for owner with a server timestamp.
func (s *ServerDB) PutRow(ctx context.Context, owner string, table events.Collection, doc models.Document) (models.Document, error) {
	return s.writeRow(ctx, func(tx *sql.Tx) (models.Document, int64, error) {
		return rsync.Put(tx, owner, table, doc, s.clock.Next(), db.Validate)
	})
}

// DeleteRow tombstones a row for owner.
func (s *ServerDB) DeleteRow(ctx context.Context, owner string, table events.Collection, id string) (models.Document, error) {
	return s.writeRow(ctx, func(tx *sql.Tx) (models.Document, int64, error) {
		return rsync.Delete(tx, owner, table, id, s.clock.Next())
	})
}

func (s *ServerDB) writeRow(ctx context.Context, fn func(tx *sql.Tx) (models.Document, int64, error)) (models.Document, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Document{}, fmt.Errorf("begin: %w", err)
	}
	doc, _, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return models.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Document{}, fmt.Errorf("commit: %w", err)
	}
	s.notify.Notify()
	return doc, nil
}

// QueryRows pages rows changed after q.After.
func (s *ServerDB) QueryRows(ctx context.Context, q rsync.RowQuery) ([]models.Document, error) {
	if !events.IsValidCollection(string(q.Table)) {
		return nil, fmt.Errorf("%w: %q", rsync.ErrUnknownTable, q.Table)
	}
	return rsync.QueryRows(s.conn, q)
}

// Changes returns change log entries after q.AfterSeq.
func (s *ServerDB) Changes(ctx context.Context, q rsync.ChangeQuery) ([]rsync.Change, error) {
	if !events.IsValidCollection(string(q.Table)) {
		return nil, fmt.Errorf("%w: %q", rsync.ErrUnknownTable, q.Table)
	}
	return rsync.ChangesAfter(s.conn, q)
}

// HeadSeq returns the newest change log sequence.
func (s *ServerDB) HeadSeq(ctx context.Context) (int64, error) {
	return rsync.HeadSeq(s.conn)
}

// ChangeSignal returns a channel closed on the next committed write.
func (s *ServerDB) ChangeSignal() <-chan struct{} {
	return s.notify.Wait()
}
