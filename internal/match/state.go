package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

var (
	ErrMatchCompleted = errors.New("match is completed")
	ErrSetCompleted   = errors.New("set is completed")
	ErrNoActiveSet    = errors.New("no set in progress")
	ErrSetInProgress  = errors.New("current set has points recorded")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// State is the live state of a match: the match row and its current set.
type State struct {
	Match models.Match
	// Set is nil until the first set is set up.
	Set *models.Set
}

// Clone returns a deep copy.
func (s State) Clone() State {
	if s.Set != nil {
		set := s.Set.Clone()
		s.Set = &set
	}
	return s
}

// TeamSide returns "home", "away" or "" for teamID.
func (s State) TeamSide(teamID string) string {
	switch teamID {
	case s.Match.HomeTeamID:
		return "home"
	case s.Match.AwayTeamID:
		return "away"
	}
	return ""
}

// Opponent returns the other team of the match.
func (s State) Opponent(teamID string) string {
	if teamID == s.Match.HomeTeamID {
		return s.Match.AwayTeamID
	}
	return s.Match.HomeTeamID
}

// Store is the local store surface commands write through.
type Store interface {
	Insert(ctx context.Context, collection events.Collection, row models.Row) (models.Document, error)
	Upsert(ctx context.Context, collection events.Collection, row models.Row) (models.Document, error)
	Remove(ctx context.Context, collection events.Collection, id string) error
}

// Reader loads match state from the local store.
type Reader interface {
	Load(ctx context.Context, collection events.Collection, id string, v any) error
	Find(ctx context.Context, collection events.Collection, filter db.Filter, sort db.Sort) ([]models.Document, error)
}

// Deps are the collaborators every command needs.
type Deps struct {
	Store Store
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// LoadState reads a match and its most recent set.
func LoadState(ctx context.Context, r Reader, matchID string) (State, error) {
	var st State
	if err := r.Load(ctx, events.CollectionMatches, matchID, &st.Match); err != nil {
		return State{}, fmt.Errorf("load match %s: %w", matchID, err)
	}
	docs, err := r.Find(ctx, events.CollectionSets,
		db.Filter{ScopeID: matchID, Limit: 1},
		db.Sort{Field: "set_number", Desc: true})
	if err != nil {
		return State{}, fmt.Errorf("load sets of %s: %w", matchID, err)
	}
	if len(docs) > 0 {
		var set models.Set
		if err := docs[0].Decode(&set); err != nil {
			return State{}, fmt.Errorf("decode set %s: %w", docs[0].ID, err)
		}
		st.Set = &set
	}
	return st, nil
}

// NewMatch builds an upcoming match between two teams.
func NewMatch(d Deps, homeTeamID, awayTeamID, championshipID string, scheduledAt *time.Time) (*models.Match, error) {
	if homeTeamID == "" || awayTeamID == "" || homeTeamID == awayTeamID {
		return nil, fmt.Errorf("%w: a match needs two different teams", ErrInvalidPayload)
	}
	now := d.now()
	return &models.Match{
		ID:             d.newID(),
		HomeTeamID:     homeTeamID,
		AwayTeamID:     awayTeamID,
		Status:         models.MatchUpcoming,
		ChampionshipID: championshipID,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// writer applies a sequence of store writes and undoes the ones already
// made if a later write fails.
type writer struct {
	ctx   context.Context
	store Store
	undo  []func() error
}

func newWriter(ctx context.Context, store Store) *writer {
	return &writer{ctx: ctx, store: store}
}

// insert appends a new row; compensation removes it.
func (w *writer) insert(collection events.Collection, row models.Row) error {
	if _, err := w.store.Insert(w.ctx, collection, row); err != nil {
		return w.fail(err)
	}
	id := row.RowID()
	w.undo = append(w.undo, func() error { return w.store.Remove(w.ctx, collection, id) })
	return nil
}

// upsert writes row; compensation writes previous back, or removes the row when there was none.
func (w *writer) upsert(collection events.Collection, row, previous models.Row) error {
	if _, err := w.store.Upsert(w.ctx, collection, row); err != nil {
		return w.fail(err)
	}
	id := row.RowID()
	w.undo = append(w.undo, func() error {
		if previous == nil {
			return w.store.Remove(w.ctx, collection, id)
		}
		_, err := w.store.Upsert(w.ctx, collection, previous)
		return err
	})
	return nil
}

// remove deletes a row; compensation restores it.
func (w *writer) remove(collection events.Collection, id string, restore models.Row) error {
	if err := w.store.Remove(w.ctx, collection, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		return w.fail(err)
	}
	w.undo = append(w.undo, func() error {
		_, err := w.store.Upsert(w.ctx, collection, restore)
		return err
	})
	return nil
}

func (w *writer) fail(err error) error {
	for i := len(w.undo) - 1; i >= 0; i-- {
		if cerr := w.undo[i](); cerr != nil {
			return errors.Join(err, fmt.Errorf("compensate: %w", cerr))
		}
	}
	w.undo = nil
	return err
}
