// Package sync is the server side of replication: a row table per
// collection keyed by (owner, table, id), stamped with a server clock, and
// an append-only change log the live feed is served from. It works on any
// database/sql SQLite driver.
package sync

import (
	"errors"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

var (
	// ErrForbidden is returned when a row id is owned by another user.
	ErrForbidden = errors.New("row owned by another user")
	// ErrUnknownTable is returned for a table outside the collection taxonomy.
	ErrUnknownTable = errors.New("unknown table")
)

// Change is one entry of the change log.
type Change struct {
	Seq     int64
	Table   events.Collection
	RowID   string
	MatchID string
	Action  events.ActionType
	Doc     models.Document
}

// RowQuery selects rows changed after a watermark.
type RowQuery struct {
	Owner   string
	Table   events.Collection
	MatchID string
	After   time.Time
	Limit   int
}

// ChangeQuery selects change log entries after a sequence number.
type ChangeQuery struct {
	Owner    string
	Table    events.Collection
	MatchID  string
	AfterSeq int64
	Limit    int
}

// Validator checks a document before it is stored.
type Validator func(table events.Collection, doc models.Document) error
