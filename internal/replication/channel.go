// Package replication keeps one local collection, optionally narrowed to a
// single match, in step with a remote source: it pulls rows changed after a
// checkpoint, follows the remote change feed, and pushes the local outbox.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/remote"
)

// Defaults applied by Start for zero Config fields.
const (
	DefaultPageSize      = 100
	DefaultAttempts      = 5
	DefaultRetryBase     = 250 * time.Millisecond
	DefaultRetryMax      = 30 * time.Second
	DefaultRetryInterval = 15 * time.Second
)

// Store is the subset of the local store a channel uses.
type Store interface {
	ApplyRemote(ctx context.Context, collection events.Collection, doc models.Document) (bool, error)
	PendingPushes(ctx context.Context, collection events.Collection, scopeID string, limit int) ([]db.PendingPush, error)
	AckPushed(ctx context.Context, p db.PendingPush, stored models.Document) (bool, error)
	NotePushFailure(ctx context.Context, id int64, err error) error
	Subscribe(collection events.Collection) (<-chan db.Change, func())
}

// Config describes one channel.
type Config struct {
	Collection events.Collection
	// ScopeID narrows a match-scoped collection to one match; empty syncs everything.
	ScopeID    string
	Checkpoint time.Time
	// Live follows the remote change feed after the initial pull.
	Live bool
	// StartPaused creates the channel paused; Resume begins replication.
	StartPaused bool

	Store  Store
	Source remote.Source
	Sink   EventSink
	Logger *slog.Logger

	PageSize int
	// Attempts caps retries of a single remote call before EventError.
	Attempts      int
	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryInterval time.Duration
}

// ID returns the channel identifier for a collection and scope.
func ID(collection events.Collection, scopeID string) string {
	if scopeID == "" {
		return string(collection)
	}
	return fmt.Sprintf("%s_chunk_%s", collection, scopeID)
}

// Channel replicates one collection/scope until cancelled.
type Channel struct {
	id     string
	cfg    Config
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu         sync.Mutex
	checkpoint time.Time
	paused     bool
	stopRun    context.CancelFunc
}

// Start launches a channel. It runs until ctx ends or Cancel is called.
func Start(ctx context.Context, cfg Config) *Channel {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Sink == nil {
		cfg.Sink = func(Event) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := ID(cfg.Collection, cfg.ScopeID)
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		id:         id,
		cfg:        cfg,
		log:        logger.With("channel", id),
		cancel:     cancel,
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		checkpoint: cfg.Checkpoint,
		paused:     cfg.StartPaused,
	}
	go c.run(ctx)
	return c
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Collection returns the replicated collection.
func (c *Channel) Collection() events.Collection { return c.cfg.Collection }

// Checkpoint returns the newest remote updated_at seen.
func (c *Channel) Checkpoint() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpoint
}

// Paused reports whether the channel is paused.
func (c *Channel) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause stops replication until Resume. The checkpoint is kept.
func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	if c.stopRun != nil {
		c.stopRun()
	}
}

// Resume restarts a paused channel with a pull from the checkpoint and an outbox drain.
func (c *Channel) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Resync restarts the current session: a fresh pull from the checkpoint
// followed by EventCaughtUp. A paused channel resyncs when resumed.
func (c *Channel) Resync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRun != nil {
		c.stopRun()
	}
}

// Cancel stops the channel for good. Use Wait to block until it exits.
func (c *Channel) Cancel() { c.cancel() }

// Wait blocks until the channel has stopped.
func (c *Channel) Wait() { <-c.done }

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	c.log.Debug("channel started")
	defer c.log.Debug("channel stopped")

	for {
		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if paused {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		runCtx, stop := context.WithCancel(ctx)
		c.mu.Lock()
		if c.paused {
			c.mu.Unlock()
			stop()
			continue
		}
		c.stopRun = stop
		c.mu.Unlock()

		c.session(runCtx)

		c.mu.Lock()
		c.stopRun = nil
		c.mu.Unlock()
		stop()

		if ctx.Err() != nil {
			return
		}
	}
}

// session pulls, follows the feed, and pushes until ctx ends.
func (c *Channel) session(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pushLoop(ctx)
	}()
	defer wg.Wait()

	var feed <-chan remote.Change
	if c.cfg.Live {
		feed = c.openFeed(ctx)
	}
	if !c.pullUntilDone(ctx) {
		return
	}
	c.emit(Event{Type: EventCaughtUp, Checkpoint: c.Checkpoint()})

	if !c.cfg.Live {
		<-ctx.Done()
		return
	}
	c.follow(ctx, feed)
}

// pullUntilDone retries pull rounds until one completes. It reports false if ctx ended.
func (c *Channel) pullUntilDone(ctx context.Context) bool {
	b := newBackoff(c.cfg.RetryBase, c.cfg.RetryMax)
	failures := 0
	for {
		err := c.pull(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		failures++
		c.log.Debug("pull failed", "err", err, "attempt", failures)
		if failures == c.cfg.Attempts {
			c.log.Warn("pull retries exhausted", "err", err)
			c.emit(Event{Type: EventError, Err: fmt.Errorf("pull %s: %w", c.id, err)})
		}
		if !b.wait(ctx) {
			return false
		}
	}
}

// pull fetches every page changed after the checkpoint.
func (c *Channel) pull(ctx context.Context) error {
	for {
		q := remote.Query{
			Collection: c.cfg.Collection,
			ScopeID:    c.cfg.ScopeID,
			After:      c.Checkpoint(),
			Limit:      c.cfg.PageSize,
		}
		docs, err := c.cfg.Source.Query(ctx, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := c.applyInbound(ctx, doc); err != nil {
				return err
			}
		}
		if len(docs) < c.cfg.PageSize {
			c.emit(Event{Type: EventCheckpoint, Checkpoint: c.Checkpoint()})
			return nil
		}
	}
}

// applyInbound stores one remote row and advances the checkpoint past it.
// Rows failing validation are dropped; store failures stop the round.
func (c *Channel) applyInbound(ctx context.Context, doc models.Document) error {
	_, err := c.cfg.Store.ApplyRemote(ctx, c.cfg.Collection, doc)
	var verr *db.ValidationError
	switch {
	case errors.As(err, &verr):
		c.log.Warn("dropping invalid remote row", "id", doc.ID, "err", err)
		c.emit(Event{Type: EventRowRejected, RowID: doc.ID, Err: err})
	case err != nil:
		return fmt.Errorf("apply %s: %w", doc.ID, err)
	}
	c.advance(doc.UpdatedAt)
	return nil
}

func (c *Channel) advance(t time.Time) {
	c.mu.Lock()
	if t.After(c.checkpoint) {
		c.checkpoint = t
	}
	c.mu.Unlock()
}

// openFeed subscribes to the remote change feed, returning nil on failure.
func (c *Channel) openFeed(ctx context.Context) <-chan remote.Change {
	feed, err := c.cfg.Source.Subscribe(ctx, remote.Query{Collection: c.cfg.Collection, ScopeID: c.cfg.ScopeID})
	if err != nil {
		c.log.Debug("subscribe failed", "err", err)
		return nil
	}
	return feed
}

// follow applies feed changes; when the feed breaks it backs off,
// resubscribes and re-pulls from the checkpoint.
func (c *Channel) follow(ctx context.Context, feed <-chan remote.Change) {
	b := newBackoff(c.cfg.RetryBase, c.cfg.RetryMax)
	for {
		if feed == nil {
			if !b.wait(ctx) {
				return
			}
			feed = c.openFeed(ctx)
			if feed == nil {
				continue
			}
			if !c.pullUntilDone(ctx) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				c.log.Debug("change feed lost")
				feed = nil
				continue
			}
			b.reset()
			if err := c.applyInbound(ctx, change.Doc); err != nil {
				c.log.Warn("apply feed change", "err", err)
				feed = nil
				continue
			}
			c.emit(Event{Type: EventCheckpoint, Checkpoint: c.Checkpoint()})
		}
	}
}

// pushLoop drains the outbox now, on each local change in scope, and on a
// retry tick.
func (c *Channel) pushLoop(ctx context.Context) {
	changes, unsubscribe := c.cfg.Store.Subscribe(c.cfg.Collection)
	defer unsubscribe()
	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()

	c.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drain(ctx)
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.Origin != db.OriginLocal || (c.cfg.ScopeID != "" && ch.ScopeID != c.cfg.ScopeID) {
				continue
			}
			// Coalesce a burst of local writes into one drain.
			for pending := true; pending; {
				select {
				case _, ok := <-changes:
					pending = ok
				default:
					pending = false
				}
			}
			c.drain(ctx)
		}
	}
}

// drain pushes queued entries in order. A transient failure stops the
// drain so ordering is kept; a rejected entry stays queued and is skipped.
func (c *Channel) drain(ctx context.Context) {
	pending, err := c.cfg.Store.PendingPushes(ctx, c.cfg.Collection, c.cfg.ScopeID, 0)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("read outbox", "err", err)
		}
		return
	}

	for _, p := range pending {
		stored, err := c.pushOne(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if nerr := c.cfg.Store.NotePushFailure(ctx, p.ID, err); nerr != nil {
				c.log.Warn("record push failure", "err", nerr)
			}
			c.log.Warn("push failed", "id", p.RowID, "err", err)
			c.emit(Event{Type: EventError, RowID: p.RowID, Err: fmt.Errorf("push %s/%s: %w", c.cfg.Collection, p.RowID, err)})
			if remote.IsTransient(err) {
				return
			}
			continue
		}

		// The remote's stored copy carries the server stamp; adopting it keeps
		// later remote writes comparable with the local row.
		if _, err := c.cfg.Store.AckPushed(ctx, p, stored); err != nil {
			c.log.Warn("ack push", "id", p.RowID, "err", err)
			return
		}
		c.emit(Event{Type: EventPushed, RowID: p.RowID})
	}
}

func (c *Channel) pushOne(ctx context.Context, p db.PendingPush) (models.Document, error) {
	var stored models.Document
	b := newBackoff(c.cfg.RetryBase, c.cfg.RetryMax)
	err := retry(ctx, c.cfg.Attempts, b, remote.IsTransient, func() error {
		var err error
		if p.Action == events.ActionDelete {
			stored, err = c.cfg.Source.Delete(ctx, c.cfg.Collection, p.RowID)
		} else {
			stored, err = c.cfg.Source.Upsert(ctx, c.cfg.Collection, p.Doc)
		}
		return err
	})
	return stored, err
}

func (c *Channel) emit(e Event) {
	e.ChannelID = c.id
	e.Collection = c.cfg.Collection
	e.ScopeID = c.cfg.ScopeID
	c.cfg.Sink(e)
}
