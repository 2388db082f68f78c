// Package remote defines the contract the replication engine needs from a
// backend, and an in-memory implementation used by tests and offline demos.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

var (
	// ErrUnavailable marks transient failures (network, 5xx). Callers retry.
	ErrUnavailable = errors.New("remote unavailable")
	// ErrRejected marks a write the remote refused. Retrying the same payload will not help.
	ErrRejected = errors.New("remote rejected write")
	// ErrFeedClosed is returned by Subscribe when the change feed cannot be opened.
	ErrFeedClosed = errors.New("change feed closed")
)

// Query selects rows of one collection changed after a checkpoint.
// Results are ordered by updated_at ascending.
type Query struct {
	Collection events.Collection
	// ScopeID restricts match-scoped collections to one match.
	ScopeID string
	After   time.Time
	Limit   int
}

// Change is one entry of a remote change feed.
type Change struct {
	Action events.ActionType
	Doc    models.Document
}

// Source is a remote backend holding the shared copy of every collection.
// Implementations stamp updated_at on write with a clock that never repeats
// within a collection, so paging by updated_at is gap free.
type Source interface {
	Query(ctx context.Context, q Query) ([]models.Document, error)
	// Upsert stores doc and returns it as stored, with the remote's updated_at.
	Upsert(ctx context.Context, collection events.Collection, doc models.Document) (models.Document, error)
	// Delete tombstones id and returns the tombstone.
	Delete(ctx context.Context, collection events.Collection, id string) (models.Document, error)
	// Subscribe streams changes matching q (Limit ignored) until ctx ends or
	// the feed breaks; either way the channel is closed.
	Subscribe(ctx context.Context, q Query) (<-chan Change, error)
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
