package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

const feedBuffer = 128

type memRow struct {
	scopeID string
	doc     models.Document
}

type memSub struct {
	q  Query
	ch chan Change
}

// Memory is an in-process Source. It can be taken offline or made to fail
// a number of calls to exercise retry paths.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	last   time.Time
	tables map[events.Collection]map[string]memRow
	subs   map[int]*memSub
	nextID int

	offline  bool
	failNext int
	reject   map[string]bool
	calls    map[string]int
}

// NewMemory returns an empty online source.
func NewMemory() *Memory {
	return &Memory{
		now:    time.Now,
		tables: make(map[events.Collection]map[string]memRow),
		subs:   make(map[int]*memSub),
		reject: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

// SetOffline makes every call fail with ErrUnavailable and drops open feeds.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
	if offline {
		for id, s := range m.subs {
			close(s.ch)
			delete(m.subs, id)
		}
	}
}

// FailNext makes the next n calls fail with ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// RejectID makes writes of id fail with ErrRejected.
func (m *Memory) RejectID(id string) {
	m.mu.Lock()
	m.reject[id] = true
	m.mu.Unlock()
}

// Calls returns how many times op ("query", "upsert", "delete", "subscribe", "ping") was called.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores doc as if another client had written it, bypassing fault injection.
func (m *Memory) Put(collection events.Collection, doc models.Document) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(collection, doc)
}

// Get returns the stored copy of id, tombstones included.
func (m *Memory) Get(collection events.Collection, id string) (models.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tables[collection][id]
	return r.doc, ok
}

// Len counts live rows in collection.
func (m *Memory) Len(collection events.Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.tables[collection] {
		if !r.doc.Deleted {
			n++
		}
	}
	return n
}

// enter records the call and applies fault injection. Caller holds mu.
func (m *Memory) enter(op string) error {
	m.calls[op]++
	if m.offline {
		return fmt.Errorf("%s: %w: offline", op, ErrUnavailable)
	}
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%s: %w: injected failure", op, ErrUnavailable)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("query"); err != nil {
		return nil, err
	}

	var out []models.Document
	for _, r := range m.tables[q.Collection] {
		if matches(q, r) {
			out = append(out, r.doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Upsert(ctx context.Context, collection events.Collection, doc models.Document) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upsert"); err != nil {
		return models.Document{}, err
	}
	if m.reject[doc.ID] {
		return models.Document{}, fmt.Errorf("upsert %s/%s: %w", collection, doc.ID, ErrRejected)
	}
	return m.putLocked(collection, doc)
}

func (m *Memory) Delete(ctx context.Context, collection events.Collection, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete"); err != nil {
		return models.Document{}, err
	}
	if m.reject[id] {
		return models.Document{}, fmt.Errorf("delete %s/%s: %w", collection, id, ErrRejected)
	}
	return m.putLocked(collection, models.Tombstone(id, time.Time{}))
}

func (m *Memory) Subscribe(ctx context.Context, q Query) (<-chan Change, error) {
	m.mu.Lock()
	if err := m.enter("subscribe"); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrFeedClosed, err)
	}
	id := m.nextID
	m.nextID++
	sub := &memSub{q: q, ch: make(chan Change, feedBuffer)}
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.subs[id]; ok {
			close(s.ch)
			delete(m.subs, id)
		}
	}()
	return sub.ch, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("ping")
}

// putLocked stamps and stores doc, then fans it out to feeds. A feed that
// cannot keep up is closed so its reader falls back to a pull.
func (m *Memory) putLocked(collection events.Collection, doc models.Document) (models.Document, error) {
	now := m.now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now

	stamped, err := doc.Stamp(now)
	if err != nil {
		return models.Document{}, err
	}

	table := m.tables[collection]
	if table == nil {
		table = make(map[string]memRow)
		m.tables[collection] = table
	}
	scopeID := table[doc.ID].scopeID
	if field := events.ScopeField(collection); field != "" && !stamped.Deleted {
		scopeID = stamped.StringField(field)
	}
	row := memRow{scopeID: scopeID, doc: stamped}
	table[doc.ID] = row

	action := events.ActionUpsert
	if stamped.Deleted {
		action = events.ActionDelete
	}
	for id, s := range m.subs {
		if s.q.Collection != collection || (s.q.ScopeID != "" && s.q.ScopeID != scopeID) {
			continue
		}
		select {
		case s.ch <- Change{Action: action, Doc: stamped}:
		default:
			close(s.ch)
			delete(m.subs, id)
		}
	}
	return stamped, nil
}

func matches(q Query, r memRow) bool {
	if q.ScopeID != "" && r.scopeID != q.ScopeID {
		return false
	}
	return r.doc.UpdatedAt.After(q.After)
}
