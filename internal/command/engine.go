// Package command runs reversible commands with bounded undo and redo history.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultLimit is the undo depth used when Options.Limit is zero.
const DefaultLimit = 50

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Command is a reversible state transition. Execute applies it and returns
// the resulting state; Undo reverts it and returns the state from before.
// Execute is called again on redo and must reproduce the same result.
type Command[S any] interface {
	Name() string
	Execute(ctx context.Context) (S, error)
	Undo(ctx context.Context) (S, error)
}

// Options configures an Engine.
type Options struct {
	Limit  int
	Logger *slog.Logger
}

// Engine serializes commands: at most one Execute, Undo or Redo runs at a time.
type Engine[S any] struct {
	mu    sync.Mutex
	undo  []Command[S]
	redo  []Command[S]
	limit int
	log   *slog.Logger
}

// New returns an engine with empty history.
func New[S any](opts Options) *Engine[S] {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine[S]{limit: limit, log: logger}
}

// Execute runs cmd and records it for undo. The redo history is cleared.
// A failed command is not recorded.
func (e *Engine[S]) Execute(ctx context.Context, cmd Command[S]) (S, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := cmd.Execute(ctx)
	if err != nil {
		return state, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	e.undo = append(e.undo, cmd)
	if len(e.undo) > e.limit {
		evicted := len(e.undo) - e.limit
		clear(e.undo[:evicted])
		e.undo = e.undo[evicted:]
	}
	clear(e.redo)
	e.redo = e.redo[:0]
	e.log.Debug("command executed", "command", cmd.Name(), "undo_depth", len(e.undo))
	return state, nil
}

// Undo reverts the most recent command. If the revert fails the command
// stays on the undo stack.
func (e *Engine[S]) Undo(ctx context.Context) (S, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero S
	if len(e.undo) == 0 {
		return zero, ErrNothingToUndo
	}
	cmd := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]

	state, err := cmd.Undo(ctx)
	if err != nil {
		e.undo = append(e.undo, cmd)
		return state, fmt.Errorf("undo %s: %w", cmd.Name(), err)
	}
	e.redo = append(e.redo, cmd)
	e.log.Debug("command undone", "command", cmd.Name())
	return state, nil
}

// Redo re-executes the most recently undone command. If it fails the
// command stays on the redo stack.
func (e *Engine[S]) Redo(ctx context.Context) (S, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero S
	if len(e.redo) == 0 {
		return zero, ErrNothingToRedo
	}
	cmd := e.redo[len(e.redo)-1]

	state, err := cmd.Execute(ctx)
	if err != nil {
		return state, fmt.Errorf("redo %s: %w", cmd.Name(), err)
	}
	e.redo = e.redo[:len(e.redo)-1]
	e.undo = append(e.undo, cmd)
	e.log.Debug("command redone", "command", cmd.Name())
	return state, nil
}

func (e *Engine[S]) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

func (e *Engine[S]) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

// Len returns the undo depth.
func (e *Engine[S]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo)
}

// History returns the names of undoable commands, most recent first.
func (e *Engine[S]) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.undo))
	for i := len(e.undo) - 1; i >= 0; i-- {
		names = append(names, e.undo[i].Name())
	}
	return names
}

// Reset drops all history.
func (e *Engine[S]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undo = nil
	e.redo = nil
}
