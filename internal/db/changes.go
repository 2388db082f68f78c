package db

import (
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// Origin tells subscribers who produced a change.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// changeBuffer is the per-subscriber queue depth. Publishing never blocks:
// a slow subscriber misses notifications, and push channels recover from
// the outbox on their retry tick.
const changeBuffer = 64

// Change is one committed mutation of a collection.
type Change struct {
	Collection events.Collection
	Action     events.ActionType
	ID         string
	ScopeID    string
	Origin     Origin
	Doc        models.Document
}

// Subscribe registers for changes to collection. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (db *DB) Subscribe(collection events.Collection) (<-chan Change, func()) {
	ch := make(chan Change, changeBuffer)

	db.subMu.Lock()
	id := db.nextSub
	db.nextSub++
	if db.subs[collection] == nil {
		db.subs[collection] = make(map[int]chan Change)
	}
	db.subs[collection][id] = ch
	db.subMu.Unlock()

	cancel := func() {
		db.subMu.Lock()
		defer db.subMu.Unlock()
		subs := db.subs[collection]
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (db *DB) publish(change Change) {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	for _, ch := range db.subs[change.Collection] {
		select {
		case ch <- change:
		default:
			db.log.Debug("change dropped for slow subscriber",
				"collection", change.Collection, "id", change.ID)
		}
	}
}
