// Package orchestrator owns the replication channels of a client: the
// global channels started at login and the per-match channels started on
// demand. It tracks and persists the Sync State of every scope.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/remote"
	"github.com/marcus/rally/internal/replication"
)

// GlobalScope is the scope id under which the user-owned collections are tracked.
const GlobalScope = "global"

// DefaultSyncTimeout bounds how long SyncScope waits for a scope to catch up.
const DefaultSyncTimeout = 30 * time.Second

var (
	ErrClosed           = errors.New("orchestrator closed")
	ErrNotAuthenticated = errors.New("no authenticated user")
)

// Store is the local store surface the orchestrator needs.
type Store interface {
	replication.Store
	LoadSyncState(ctx context.Context, scopeID string) (models.SyncState, bool, error)
	SaveSyncState(ctx context.Context, state models.SyncState) error
}

// Options configures an Orchestrator.
type Options struct {
	Store  Store
	Source remote.Source
	Logger *slog.Logger
	// SyncTimeout defaults to DefaultSyncTimeout.
	SyncTimeout time.Duration
	// Live makes channels follow the remote change feed.
	Live bool
	// Channel carries retry and paging settings copied into every channel.
	Channel replication.Config
	// Now is used for error timestamps; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is safe for concurrent use. Scope activation and all
// bookkeeping run on one worker goroutine.
type Orchestrator struct {
	opts    Options
	log     *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  *taskQueue
	done   chan struct{}

	// Owned by the worker.
	user   *models.User
	online bool
	scopes map[string]*scope

	mu        sync.Mutex
	states    map[string]models.SyncState
	observers map[string]map[int]chan models.SyncState
	nextObs   int
}

// scope is one activated set of channels.
type scope struct {
	id       string
	channels map[events.Collection]*replication.Channel
	// caught tracks collections that completed a pull since the last (re)activation.
	caught  map[events.Collection]bool
	state   models.SyncState
	waiters []chan struct{}
}

// New creates an orchestrator. Channels start when a user is set.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:      opts,
		log:       logger,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		queue:     newTaskQueue(),
		done:      make(chan struct{}),
		online:    true,
		scopes:    make(map[string]*scope),
		states:    make(map[string]models.SyncState),
		observers: make(map[string]map[int]chan models.SyncState),
	}
	go func() {
		defer close(o.done)
		o.queue.run()
	}()
	return o
}

// do runs fn on the worker and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !o.queue.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrClosed
	}
}

// SetAuthenticatedUser starts the global channels for user, or cancels
// every channel when user is nil. Switching users restarts from scratch.
func (o *Orchestrator) SetAuthenticatedUser(user *models.User) {
	o.do(context.Background(), func() {
		switch {
		case user == nil:
			if o.user != nil {
				o.log.Info("user logged out, stopping sync")
			}
			o.user = nil
			o.cancelAll()
		case o.user != nil && o.user.ID == user.ID:
			u := *user
			o.user = &u
		default:
			if o.user != nil {
				o.cancelAll()
			}
			u := *user
			o.user = &u
			o.log.Info("user logged in, starting global sync", "user", user.ID)
			o.activate(GlobalScope)
		}
	})
}

// SetOnlineStatus pauses every channel when offline and resumes them when online.
func (o *Orchestrator) SetOnlineStatus(online bool) {
	o.do(context.Background(), func() {
		if o.online == online {
			return
		}
		o.online = online
		o.log.Info("connectivity changed", "online", online)
		for _, s := range o.scopes {
			for _, ch := range s.channels {
				if online {
					ch.Resume()
				} else {
					ch.Pause()
				}
			}
		}
	})
}

// SyncScope ensures the channels of a match exist and waits until they all
// caught up. It returns false when the timeout elapsed first; the channels
// keep running in that case.
func (o *Orchestrator) SyncScope(ctx context.Context, scopeID string) (bool, error) {
	var (
		wait      <-chan struct{}
		immediate bool
		opErr     error
	)
	err := o.do(ctx, func() {
		if o.user == nil {
			opErr = ErrNotAuthenticated
			return
		}
		s, exists := o.scopes[scopeID]
		switch {
		case !exists:
			s = o.activate(scopeID)
		case s.state.Status == models.SyncSynced:
			immediate = true
			return
		case s.state.Status == models.SyncNeverSynced || s.state.Status == models.SyncError:
			o.resync(s)
		}
		wait = s.waiter()
	})
	if err != nil {
		return false, err
	}
	if opErr != nil || immediate {
		return immediate, opErr
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()
	select {
	case <-wait:
		return true, nil
	case <-timer.C:
		o.log.Warn("sync timed out, continuing in background", "scope", scopeID, "timeout", o.timeout)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-o.done:
		return false, ErrClosed
	}
}

// CancelScope stops and forgets the channels of a scope. Its persisted
// state and checkpoints are kept.
func (o *Orchestrator) CancelScope(scopeID string) {
	o.do(context.Background(), func() {
		if s, ok := o.scopes[scopeID]; ok {
			o.stop(s)
			delete(o.scopes, scopeID)
		}
	})
}

// ScopeState returns the last known state of a scope, falling back to the
// persisted copy.
func (o *Orchestrator) ScopeState(scopeID string) models.SyncState {
	o.mu.Lock()
	state, ok := o.states[scopeID]
	o.mu.Unlock()
	if ok {
		return state.Clone()
	}
	state, _, err := o.opts.Store.LoadSyncState(o.ctx, scopeID)
	if err != nil {
		o.log.Warn("load sync state", "scope", scopeID, "err", err)
		return models.SyncState{ScopeID: scopeID, Status: models.SyncNeverSynced}
	}
	return state
}

// ObserveScopeState delivers the current state of a scope and every later
// change. Slow observers only miss intermediate states. cancel closes the channel.
func (o *Orchestrator) ObserveScopeState(scopeID string) (<-chan models.SyncState, func()) {
	ch := make(chan models.SyncState, 1)

	// Register and snapshot under one lock so a concurrent commit is either
	// in the snapshot or delivered to the channel.
	o.mu.Lock()
	id := o.nextObs
	o.nextObs++
	if o.observers[scopeID] == nil {
		o.observers[scopeID] = make(map[int]chan models.SyncState)
	}
	o.observers[scopeID][id] = ch
	state, known := o.states[scopeID]
	if known {
		ch <- state.Clone()
	}
	o.mu.Unlock()

	if !known {
		persisted := o.ScopeState(scopeID)
		o.mu.Lock()
		// A commit since registration already delivered a newer state.
		if _, committed := o.states[scopeID]; !committed && len(ch) == 0 {
			if _, open := o.observers[scopeID][id]; open {
				ch <- persisted
			}
		}
		o.mu.Unlock()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if obs := o.observers[scopeID]; obs != nil {
				if _, ok := obs[id]; ok {
					delete(obs, id)
					close(ch)
				}
			}
		})
	}
}

// Channels returns the ids of the running channels of a scope, sorted.
func (o *Orchestrator) Channels(scopeID string) []string {
	var ids []string
	o.do(context.Background(), func() {
		if s, ok := o.scopes[scopeID]; ok {
			for _, ch := range s.channels {
				ids = append(ids, ch.ID())
			}
		}
	})
	slices.Sort(ids)
	return ids
}

// Close stops every channel and the worker.
func (o *Orchestrator) Close() error {
	err := o.do(context.Background(), func() {
		o.cancelAll()
	})
	o.queue.close()
	<-o.done
	o.cancel()

	o.mu.Lock()
	for scopeID, obs := range o.observers {
		for id, ch := range obs {
			close(ch)
			delete(obs, id)
		}
		delete(o.observers, scopeID)
	}
	o.mu.Unlock()

	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// activate creates the channels of a scope. Worker only.
func (o *Orchestrator) activate(scopeID string) *scope {
	collections := events.MatchCollections()
	channelScope := scopeID
	if scopeID == GlobalScope {
		collections = events.GlobalCollections()
		channelScope = ""
	}

	state, _, err := o.opts.Store.LoadSyncState(o.ctx, scopeID)
	if err != nil {
		o.log.Warn("load sync state, starting from scratch", "scope", scopeID, "err", err)
		state = models.SyncState{ScopeID: scopeID}
	}
	if state.Collections == nil {
		state.Collections = make(map[string]models.CollectionSync)
	}
	state.ScopeID = scopeID
	state.Status = models.SyncSyncing
	state.LastError = ""
	state.LastErrorAt = nil

	s := &scope{
		id:       scopeID,
		channels: make(map[events.Collection]*replication.Channel),
		caught:   make(map[events.Collection]bool),
		state:    state,
	}
	o.scopes[scopeID] = s

	for _, c := range collections {
		cfg := o.opts.Channel
		cfg.Collection = c
		cfg.ScopeID = channelScope
		cfg.Checkpoint = state.Collections[string(c)].LastUpdatedAt
		cfg.Live = o.opts.Live
		cfg.StartPaused = !o.online
		cfg.Store = o.opts.Store
		cfg.Source = o.opts.Source
		cfg.Logger = o.log
		cfg.Sink = o.sinkFor(s)
		if _, ok := state.Collections[string(c)]; !ok {
			state.Collections[string(c)] = models.CollectionSync{}
		}
		s.channels[c] = replication.Start(o.ctx, cfg)
	}
	o.log.Debug("scope activated", "scope", scopeID, "channels", len(s.channels))
	o.commit(s)
	return s
}

// resync restarts the pulls of an existing scope and clears its error. Worker only.
func (o *Orchestrator) resync(s *scope) {
	o.log.Info("resyncing scope", "scope", s.id, "status", s.state.Status)
	clear(s.caught)
	s.state.Status = models.SyncSyncing
	s.state.LastError = ""
	s.state.LastErrorAt = nil
	o.commit(s)
	for _, ch := range s.channels {
		ch.Resync()
	}
}

func (o *Orchestrator) stop(s *scope) {
	for _, ch := range s.channels {
		ch.Cancel()
	}
	for _, ch := range s.channels {
		ch.Wait()
	}
	s.waiters = nil
}

func (o *Orchestrator) cancelAll() {
	for id, s := range o.scopes {
		o.stop(s)
		delete(o.scopes, id)
	}
}

// sinkFor routes channel events of s onto the worker. Events from a scope
// that was cancelled or replaced are ignored.
func (o *Orchestrator) sinkFor(s *scope) replication.EventSink {
	return func(e replication.Event) {
		o.queue.post(func() {
			if o.scopes[s.id] != s {
				return
			}
			o.handle(s, e)
		})
	}
}

// handle applies one channel event to the scope state. Worker only.
func (o *Orchestrator) handle(s *scope, e replication.Event) {
	key := string(e.Collection)
	cs := s.state.Collections[key]

	switch e.Type {
	case replication.EventCheckpoint:
		if !e.Checkpoint.After(cs.LastUpdatedAt) {
			return
		}
		cs.LastUpdatedAt = e.Checkpoint
		s.state.Collections[key] = cs
	case replication.EventCaughtUp:
		if e.Checkpoint.After(cs.LastUpdatedAt) {
			cs.LastUpdatedAt = e.Checkpoint
		}
		cs.HasSynced = true
		s.state.Collections[key] = cs
		s.caught[e.Collection] = true
		if len(s.caught) == len(s.channels) {
			for _, w := range s.waiters {
				close(w)
			}
			s.waiters = nil
			if s.state.Status != models.SyncError && s.state.AllSynced() {
				s.state.Status = models.SyncSynced
				o.log.Info("scope synced", "scope", s.id)
			}
		}
	case replication.EventError:
		now := o.opts.Now().UTC()
		s.state.Status = models.SyncError
		s.state.LastError = e.Err.Error()
		s.state.LastErrorAt = &now
		o.log.Warn("scope sync error", "scope", s.id, "channel", e.ChannelID, "err", e.Err)
	case replication.EventRowRejected:
		o.log.Warn("remote row rejected", "scope", s.id, "channel", e.ChannelID, "id", e.RowID, "err", e.Err)
		return
	case replication.EventPushed:
		o.log.Debug("pushed", "channel", e.ChannelID, "id", e.RowID)
		return
	default:
		return
	}
	o.commit(s)
}

// waiter returns a channel closed once every collection of s caught up. Worker only.
func (s *scope) waiter() <-chan struct{} {
	w := make(chan struct{})
	if len(s.channels) > 0 && len(s.caught) == len(s.channels) {
		close(w)
		return w
	}
	s.waiters = append(s.waiters, w)
	return w
}

// commit persists and publishes the state of s. Worker only.
func (o *Orchestrator) commit(s *scope) {
	s.state.UpdatedAt = o.opts.Now().UTC()
	if err := o.opts.Store.SaveSyncState(o.ctx, s.state); err != nil {
		o.log.Warn("persist sync state", "scope", s.id, "err", err)
	}

	snapshot := s.state.Clone()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[s.id] = snapshot
	for _, ch := range o.observers[s.id] {
		// Keep only the newest state for a slow observer.
		select {
		case <-ch:
		default:
		}
		ch <- snapshot.Clone()
	}
}
