package match

import (
	"context"
	"sync"

	"github.com/marcus/rally/internal/command"
	"github.com/marcus/rally/internal/models"
)

// Scorer drives one live match: each action builds a command from the
// current state, runs it through an undo engine and keeps the result.
type Scorer struct {
	deps   Deps
	engine *command.Engine[State]

	mu    sync.Mutex
	state State
}

// NewScorer returns a scorer starting from st.
func NewScorer(d Deps, st State, opts command.Options) *Scorer {
	return &Scorer{deps: d, engine: command.New[State](opts), state: st.Clone()}
}

// State returns a copy of the current state.
func (s *Scorer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// run builds a command from the current state and executes it.
func (s *Scorer) run(ctx context.Context, build func(State) (command.Command[State], error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, err := build(s.state)
	if err != nil {
		return s.state.Clone(), err
	}
	next, err := s.engine.Execute(ctx, cmd)
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = next
	return next.Clone(), nil
}

func (s *Scorer) SetupSet(ctx context.Context, p SetSetupPayload) (State, error) {
	return s.run(ctx, func(st State) (command.Command[State], error) { return NewSetSetup(s.deps, st, p) })
}

func (s *Scorer) Point(ctx context.Context, scoringTeamID string) (State, error) {
	return s.run(ctx, func(st State) (command.Command[State], error) {
		return NewScorePoint(s.deps, st, ScorePointPayload{ScoringTeamID: scoringTeamID})
	})
}

func (s *Scorer) Stat(ctx context.Context, p PlayerStatPayload) (State, error) {
	return s.run(ctx, func(st State) (command.Command[State], error) { return NewPlayerStat(s.deps, st, p) })
}

func (s *Scorer) Substitute(ctx context.Context, p SubstitutionPayload) (State, error) {
	return s.run(ctx, func(st State) (command.Command[State], error) { return NewSubstitution(s.deps, st, p) })
}

func (s *Scorer) Event(ctx context.Context, details models.EventDetails) (State, error) {
	return s.run(ctx, func(st State) (command.Command[State], error) { return NewRecordEvent(s.deps, st, details) })
}

// Undo reverts the last action.
func (s *Scorer) Undo(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.engine.Undo(ctx)
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = st
	return st.Clone(), nil
}

// Redo reapplies the last undone action.
func (s *Scorer) Redo(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.engine.Redo(ctx)
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = st
	return st.Clone(), nil
}

func (s *Scorer) CanUndo() bool { return s.engine.CanUndo() }
func (s *Scorer) CanRedo() bool { return s.engine.CanRedo() }

// History lists the undoable actions, most recent first.
func (s *Scorer) History() []string { return s.engine.History() }
