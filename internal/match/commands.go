package match

import (
	"context"
	"fmt"

	"github.com/marcus/rally/internal/command"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// Every command computes its next state when constructed. Execute and Undo
// only write to the store and hand back a state that was fixed up front.
var (
	_ command.Command[State] = (*SetSetup)(nil)
	_ command.Command[State] = (*Substitution)(nil)
	_ command.Command[State] = (*ScorePoint)(nil)
	_ command.Command[State] = (*PlayerStat)(nil)
	_ command.Command[State] = (*RecordEvent)(nil)
)

func matchRow(m models.Match) *models.Match { return &m }

func setRow(s *models.Set) *models.Set {
	c := s.Clone()
	return &c
}

func requireLiveSet(prev State) error {
	if prev.Match.Status == models.MatchCompleted {
		return ErrMatchCompleted
	}
	if prev.Set == nil || prev.Set.Status == models.SetUpcoming {
		return ErrNoActiveSet
	}
	if prev.Set.Status == models.SetCompleted {
		return ErrSetCompleted
	}
	return nil
}

// SetSetupPayload starts a set.
type SetSetupPayload struct {
	// SetNumber defaults to the set after the last completed one.
	SetNumber    int
	ServerTeamID string
	// LineupTeamID defaults to the home team.
	LineupTeamID string
	Lineup       models.Lineup
	Roles        map[string]models.Role
}

// SetSetup creates a live set with its starting lineup and server. Setting
// up again before the first point replaces the lineup of the same set.
type SetSetup struct {
	deps Deps
	prev State
	next State
	// replaced is true when the set row already existed.
	replaced bool
}

func NewSetSetup(d Deps, prev State, p SetSetupPayload) (*SetSetup, error) {
	if prev.Match.Status == models.MatchCompleted {
		return nil, ErrMatchCompleted
	}

	number := 1
	var reuse *models.Set
	if cur := prev.Set; cur != nil {
		switch {
		case cur.Status == models.SetCompleted:
			number = cur.SetNumber + 1
		case cur.HomeScore+cur.AwayScore > 0:
			return nil, ErrSetInProgress
		default:
			number = cur.SetNumber
			reuse = cur
		}
	}
	if p.SetNumber != 0 && p.SetNumber != number {
		return nil, fmt.Errorf("%w: next set is %d, not %d", ErrInvalidPayload, number, p.SetNumber)
	}
	if number > DecidingSet {
		return nil, ErrMatchCompleted
	}

	if prev.TeamSide(p.ServerTeamID) == "" {
		return nil, fmt.Errorf("%w: server %q is not playing this match", ErrInvalidPayload, p.ServerTeamID)
	}
	lineupTeam := p.LineupTeamID
	if lineupTeam == "" {
		lineupTeam = prev.Match.HomeTeamID
	}
	if prev.TeamSide(lineupTeam) == "" {
		return nil, fmt.Errorf("%w: lineup team %q is not playing this match", ErrInvalidPayload, lineupTeam)
	}
	seen := make(map[string]bool, models.CourtPositions)
	for i, id := range p.Lineup {
		if id == "" {
			return nil, fmt.Errorf("%w: position %d is empty", ErrInvalidPayload, i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: player %s appears twice in the lineup", ErrInvalidPayload, id)
		}
		seen[id] = true
	}

	now := d.now()
	set := models.Set{
		ID:            d.newID(),
		MatchID:       prev.Match.ID,
		SetNumber:     number,
		Status:        models.SetLive,
		ServerTeamID:  p.ServerTeamID,
		LineupTeamID:  lineupTeam,
		CurrentLineup: p.Lineup,
		CreatedAt:     now,
	}
	if len(p.Roles) > 0 {
		set.PlayerRoles = make(map[string]models.Role, len(p.Roles))
		for id, r := range p.Roles {
			set.PlayerRoles[id] = r
		}
	}
	if reuse != nil {
		set.ID = reuse.ID
		set.CreatedAt = reuse.CreatedAt
		set.UpdatedAt = reuse.UpdatedAt
	}

	next := prev.Clone()
	next.Set = &set
	next.Match.Status = models.MatchLive
	return &SetSetup{deps: d, prev: prev.Clone(), next: next, replaced: reuse != nil}, nil
}

func (c *SetSetup) Name() string { return fmt.Sprintf("setup set %d", c.next.Set.SetNumber) }

func (c *SetSetup) Execute(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	var before *models.Set
	if c.replaced {
		before = setRow(c.prev.Set)
	}
	if err := w.upsert(events.CollectionSets, setRow(c.next.Set), before); err != nil {
		return State{}, err
	}
	if c.next.Match.Status != c.prev.Match.Status {
		if err := w.upsert(events.CollectionMatches, matchRow(c.next.Match), matchRow(c.prev.Match)); err != nil {
			return State{}, err
		}
	}
	return c.next.Clone(), nil
}

func (c *SetSetup) Undo(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	if c.next.Match.Status != c.prev.Match.Status {
		if err := w.upsert(events.CollectionMatches, matchRow(c.prev.Match), matchRow(c.next.Match)); err != nil {
			return State{}, err
		}
	}
	if c.replaced {
		if err := w.upsert(events.CollectionSets, setRow(c.prev.Set), setRow(c.next.Set)); err != nil {
			return State{}, err
		}
	} else if err := w.remove(events.CollectionSets, c.next.Set.ID, setRow(c.next.Set)); err != nil {
		return State{}, err
	}
	return c.prev.Clone(), nil
}

// SubstitutionPayload swaps one player for another.
type SubstitutionPayload struct {
	// TeamID defaults to the team whose lineup is tracked.
	TeamID      string
	PlayerOutID string
	PlayerInID  string
	// Position is required only for the team whose lineup is not tracked.
	Position int
}

// Substitution records a player swap and, for the tracked team, updates the
// lineup in place.
type Substitution struct {
	deps Deps
	prev State
	next State
	row  models.Substitution
}

func NewSubstitution(d Deps, prev State, p SubstitutionPayload) (*Substitution, error) {
	if err := requireLiveSet(prev); err != nil {
		return nil, err
	}
	if p.PlayerOutID == "" || p.PlayerInID == "" || p.PlayerOutID == p.PlayerInID {
		return nil, fmt.Errorf("%w: substitution needs two different players", ErrInvalidPayload)
	}
	team := p.TeamID
	if team == "" {
		team = prev.Set.LineupTeamID
	}
	if prev.TeamSide(team) == "" {
		return nil, fmt.Errorf("%w: team %q is not playing this match", ErrInvalidPayload, team)
	}

	next := prev.Clone()
	position := p.Position
	if team == prev.Set.LineupTeamID {
		position = prev.Set.CurrentLineup.Position(p.PlayerOutID)
		if position == 0 {
			return nil, fmt.Errorf("%w: player %s is not on court", ErrInvalidPayload, p.PlayerOutID)
		}
		if prev.Set.CurrentLineup.Position(p.PlayerInID) != 0 {
			return nil, fmt.Errorf("%w: player %s is already on court", ErrInvalidPayload, p.PlayerInID)
		}
		next.Set.CurrentLineup[position-1] = p.PlayerInID
		if role, ok := next.Set.PlayerRoles[p.PlayerOutID]; ok {
			if _, has := next.Set.PlayerRoles[p.PlayerInID]; !has {
				next.Set.PlayerRoles[p.PlayerInID] = role
			}
		}
	} else if position < 1 || position > models.CourtPositions {
		return nil, fmt.Errorf("%w: position must be 1..%d", ErrInvalidPayload, models.CourtPositions)
	}

	return &Substitution{
		deps: d,
		prev: prev.Clone(),
		next: next,
		row: models.Substitution{
			ID:          d.newID(),
			MatchID:     prev.Match.ID,
			SetID:       prev.Set.ID,
			TeamID:      team,
			PlayerOutID: p.PlayerOutID,
			PlayerInID:  p.PlayerInID,
			Position:    position,
			CreatedAt:   d.now(),
		},
	}, nil
}

func (c *Substitution) Name() string {
	return fmt.Sprintf("substitution %s for %s", c.row.PlayerInID, c.row.PlayerOutID)
}

func (c *Substitution) lineupChanged() bool {
	return c.prev.Set.CurrentLineup != c.next.Set.CurrentLineup
}

func (c *Substitution) Execute(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	row := c.row
	if err := w.insert(events.CollectionSubstitutions, &row); err != nil {
		return State{}, err
	}
	if c.lineupChanged() {
		if err := w.upsert(events.CollectionSets, setRow(c.next.Set), setRow(c.prev.Set)); err != nil {
			return State{}, err
		}
	}
	return c.next.Clone(), nil
}

func (c *Substitution) Undo(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	if c.lineupChanged() {
		if err := w.upsert(events.CollectionSets, setRow(c.prev.Set), setRow(c.next.Set)); err != nil {
			return State{}, err
		}
	}
	row := c.row
	if err := w.remove(events.CollectionSubstitutions, row.ID, &row); err != nil {
		return State{}, err
	}
	return c.prev.Clone(), nil
}

// ScorePointPayload awards a rally to a team.
type ScorePointPayload struct {
	ScoringTeamID string
	// PlayerStatID links the point to the stat that produced it.
	PlayerStatID string
}

// ScorePoint appends a point, updates the running score, hands over serve
// with rotation, and closes the set and match when they are won.
type ScorePoint struct {
	deps    Deps
	prev    State
	next    State
	point   models.ScorePoint
	outcome PointOutcome
}

func NewScorePoint(d Deps, prev State, p ScorePointPayload) (*ScorePoint, error) {
	if err := requireLiveSet(prev); err != nil {
		return nil, err
	}
	if prev.TeamSide(p.ScoringTeamID) == "" {
		return nil, fmt.Errorf("%w: team %q is not playing this match", ErrInvalidPayload, p.ScoringTeamID)
	}

	set, outcome := ApplyPoint(*prev.Set, p.ScoringTeamID, prev.Match.HomeTeamID)
	next := prev.Clone()
	next.Set = &set
	if outcome.SetCompleted {
		if outcome.WinnerTeamID == prev.Match.HomeTeamID {
			next.Match.HomeScore++
		} else {
			next.Match.AwayScore++
		}
		if IsMatchComplete(next.Match.HomeScore, next.Match.AwayScore) {
			next.Match.Status = models.MatchCompleted
		}
	}

	return &ScorePoint{
		deps:    d,
		prev:    prev.Clone(),
		next:    next,
		outcome: outcome,
		point: models.ScorePoint{
			ID:              d.newID(),
			MatchID:         prev.Match.ID,
			SetID:           set.ID,
			PointNumber:     set.HomeScore + set.AwayScore,
			ScoringTeamID:   p.ScoringTeamID,
			HomeScore:       set.HomeScore,
			AwayScore:       set.AwayScore,
			CurrentRotation: set.CurrentLineup,
			PlayerStatID:    p.PlayerStatID,
			CreatedAt:       d.now(),
		},
	}, nil
}

func (c *ScorePoint) Name() string {
	return fmt.Sprintf("point %d-%d", c.point.HomeScore, c.point.AwayScore)
}

// Outcome reports the service change, rotation and completion this point causes.
func (c *ScorePoint) Outcome() PointOutcome { return c.outcome }

// Point returns the row this command appends.
func (c *ScorePoint) Point() models.ScorePoint { return c.point }

func (c *ScorePoint) matchChanged() bool {
	return c.prev.Match != c.next.Match
}

func (c *ScorePoint) Execute(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	point := c.point
	if err := w.insert(events.CollectionScorePoints, &point); err != nil {
		return State{}, err
	}
	if err := w.upsert(events.CollectionSets, setRow(c.next.Set), setRow(c.prev.Set)); err != nil {
		return State{}, err
	}
	if c.matchChanged() {
		if err := w.upsert(events.CollectionMatches, matchRow(c.next.Match), matchRow(c.prev.Match)); err != nil {
			return State{}, err
		}
	}
	return c.next.Clone(), nil
}

func (c *ScorePoint) Undo(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	if c.matchChanged() {
		if err := w.upsert(events.CollectionMatches, matchRow(c.prev.Match), matchRow(c.next.Match)); err != nil {
			return State{}, err
		}
	}
	if err := w.upsert(events.CollectionSets, setRow(c.prev.Set), setRow(c.next.Set)); err != nil {
		return State{}, err
	}
	point := c.point
	if err := w.remove(events.CollectionScorePoints, point.ID, &point); err != nil {
		return State{}, err
	}
	return c.prev.Clone(), nil
}

// PlayerStatPayload records one player action.
type PlayerStatPayload struct {
	PlayerID string
	// TeamID defaults to the team whose lineup is tracked.
	TeamID   string
	StatType models.StatType
	Result   models.StatResult
}

// PointFor returns the team that wins the rally because of a stat, or "" when
// the rally goes on. Kills, aces and stuff blocks score for the player's team;
// any error scores for the opponent.
func PointFor(st State, teamID string, t models.StatType, r models.StatResult) string {
	switch r {
	case models.ResultSuccess:
		switch t {
		case models.StatServe, models.StatAttack, models.StatBlock:
			return teamID
		}
	case models.ResultError:
		return st.Opponent(teamID)
	}
	if t == models.StatFault && r != models.ResultNeutral {
		return st.Opponent(teamID)
	}
	return ""
}

// PlayerStat appends a stat row. A stat that ends the rally also scores the
// point, and both are undone together.
type PlayerStat struct {
	deps  Deps
	prev  State
	next  State
	stat  models.PlayerStat
	point *ScorePoint
}

func NewPlayerStat(d Deps, prev State, p PlayerStatPayload) (*PlayerStat, error) {
	if err := requireLiveSet(prev); err != nil {
		return nil, err
	}
	if p.PlayerID == "" {
		return nil, fmt.Errorf("%w: player is required", ErrInvalidPayload)
	}
	team := p.TeamID
	if team == "" {
		team = prev.Set.LineupTeamID
	}
	if prev.TeamSide(team) == "" {
		return nil, fmt.Errorf("%w: team %q is not playing this match", ErrInvalidPayload, team)
	}
	switch p.StatType {
	case models.StatServe, models.StatAttack, models.StatBlock, models.StatReception,
		models.StatDig, models.StatSetting, models.StatFault:
	default:
		return nil, fmt.Errorf("%w: unknown stat type %q", ErrInvalidPayload, p.StatType)
	}
	switch p.Result {
	case models.ResultSuccess, models.ResultError, models.ResultNeutral:
	default:
		return nil, fmt.Errorf("%w: unknown result %q", ErrInvalidPayload, p.Result)
	}

	c := &PlayerStat{
		deps: d,
		prev: prev.Clone(),
		next: prev.Clone(),
		stat: models.PlayerStat{
			ID:        d.newID(),
			MatchID:   prev.Match.ID,
			SetID:     prev.Set.ID,
			PlayerID:  p.PlayerID,
			TeamID:    team,
			StatType:  p.StatType,
			Result:    p.Result,
			CreatedAt: d.now(),
		},
	}
	if scorer := PointFor(prev, team, p.StatType, p.Result); scorer != "" {
		point, err := NewScorePoint(d, prev, ScorePointPayload{ScoringTeamID: scorer, PlayerStatID: c.stat.ID})
		if err != nil {
			return nil, err
		}
		c.point = point
		c.stat.ScorePointID = point.point.ID
		c.next = point.next
	}
	return c, nil
}

func (c *PlayerStat) Name() string {
	return fmt.Sprintf("%s %s by %s", c.stat.StatType, c.stat.Result, c.stat.PlayerID)
}

// Point returns the derived point command, or nil when the stat scores nothing.
func (c *PlayerStat) Point() *ScorePoint { return c.point }

func (c *PlayerStat) Execute(ctx context.Context) (State, error) {
	w := newWriter(ctx, c.deps.Store)
	stat := c.stat
	if err := w.insert(events.CollectionPlayerStats, &stat); err != nil {
		return State{}, err
	}
	if c.point != nil {
		if _, err := c.point.Execute(ctx); err != nil {
			return State{}, w.fail(err)
		}
	}
	return c.next.Clone(), nil
}

func (c *PlayerStat) Undo(ctx context.Context) (State, error) {
	if c.point != nil {
		if _, err := c.point.Undo(ctx); err != nil {
			return State{}, err
		}
	}
	w := newWriter(ctx, c.deps.Store)
	stat := c.stat
	if err := w.remove(events.CollectionPlayerStats, stat.ID, &stat); err != nil {
		if c.point != nil {
			if _, rerr := c.point.Execute(ctx); rerr != nil {
				return State{}, fmt.Errorf("%w (restore point: %v)", err, rerr)
			}
		}
		return State{}, err
	}
	return c.prev.Clone(), nil
}

// RecordEvent appends a timeout, card, injury or note. Score and rotation
// are untouched.
type RecordEvent struct {
	deps  Deps
	state State
	event models.MatchEvent
}

func NewRecordEvent(d Deps, prev State, details models.EventDetails) (*RecordEvent, error) {
	if prev.Match.Status == models.MatchCompleted {
		return nil, ErrMatchCompleted
	}
	if details == nil {
		return nil, fmt.Errorf("%w: event details are required", ErrInvalidPayload)
	}
	if err := details.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev := models.MatchEvent{
		ID:        d.newID(),
		MatchID:   prev.Match.ID,
		Details:   details,
		CreatedAt: d.now(),
	}
	if prev.Set != nil {
		ev.SetID = prev.Set.ID
	}
	return &RecordEvent{deps: d, state: prev.Clone(), event: ev}, nil
}

func (c *RecordEvent) Name() string { return string(c.event.Details.Kind()) }

func (c *RecordEvent) Execute(ctx context.Context) (State, error) {
	ev := c.event
	if err := newWriter(ctx, c.deps.Store).insert(events.CollectionMatchEvents, &ev); err != nil {
		return State{}, err
	}
	return c.state.Clone(), nil
}

func (c *RecordEvent) Undo(ctx context.Context) (State, error) {
	ev := c.event
	if err := newWriter(ctx, c.deps.Store).remove(events.CollectionMatchEvents, ev.ID, &ev); err != nil {
		return State{}, err
	}
	return c.state.Clone(), nil
}
