package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/marcus/rally/internal/command"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/match"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/orchestrator"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

const liveHelp = `commands:
  setup <home|away> <p1> .. <p6> [home|away]   start a set: serving side, lineup, lineup side
  point <home|away>                            award the rally
  stat <player> <type> <result> [home|away]    record a player action
  sub <out> <in> [position] [home|away]        substitute a player
  timeout <home|away>
  card <home|away> <yellow|red> [player]
  injury <player> [description]
  note <text>
  undo | redo | show | history | help | quit
players are given by id or shirt number`

var liveCmd = &cobra.Command{
	Use:   "live <match-id>",
	Short: "Score a match point by point",
	Long: `Opens an interactive scorer for a match. Every action is written locally
first and pushed in the background when logged in.

` + liveHelp,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true, false)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := openLive(ctx, a, args[0], os.Stdout)
		if err != nil {
			return err
		}
		r.show()
		return r.run(ctx, os.Stdin)
	},
}

// openLive waits for reference data and the match to sync, bounded by the
// sync timeout, then loads the match. A scope that does not finish in time is
// reported and scoring continues on local data.
func openLive(ctx context.Context, a *app, matchID string, out io.Writer) (*repl, error) {
	if a.syncing() {
		for _, scopeID := range []string{orchestrator.GlobalScope, matchID} {
			synced, err := a.orch.SyncScope(ctx, scopeID)
			switch {
			case err != nil:
				output.Warning("sync %s: %v; using local data", scopeID, err)
			case !synced:
				output.Warning("%s did not finish syncing within %s; using local data", scopeID, a.cfg.SyncTimeout())
			}
		}
	} else {
		output.Info("offline: changes stay local until 'rally login'")
	}
	return newRepl(ctx, a.db, matchID, command.Options{Limit: a.cfg.UndoDepth(), Logger: a.log}, out)
}

// repl is a line-oriented scorer over a match.Scorer.
type repl struct {
	db     *db.DB
	scorer *match.Scorer
	names  output.Names
	roster map[string][]models.Player
	out    io.Writer
}

func newRepl(ctx context.Context, database *db.DB, matchID string, opts command.Options, out io.Writer) (*repl, error) {
	st, err := match.LoadState(ctx, database, matchID)
	if err != nil {
		return nil, err
	}
	r := &repl{
		db:     database,
		scorer: match.NewScorer(match.Deps{Store: database}, st, opts),
		names:  loadNames(ctx, database, st.Match),
		roster: make(map[string][]models.Player, 2),
		out:    out,
	}
	for _, teamID := range []string{st.Match.HomeTeamID, st.Match.AwayTeamID} {
		players, err := rosterOf(ctx, database, teamID)
		if err != nil {
			return nil, err
		}
		r.roster[teamID] = players
	}
	return r, nil
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		quit, err := r.exec(ctx, sc.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// exec runs one input line.
func (r *repl) exec(ctx context.Context, line string) (quit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	args := f[1:]
	var st match.State

	switch f[0] {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(r.out, liveHelp)
		return false, nil
	case "show":
		r.show()
		return false, nil
	case "history":
		h := r.scorer.History()
		if len(h) == 0 {
			fmt.Fprintln(r.out, "nothing to undo")
		}
		for i := len(h) - 1; i >= 0; i-- {
			fmt.Fprintf(r.out, "%3d  %s\n", i+1, h[i])
		}
		return false, nil
	case "undo":
		if !r.scorer.CanUndo() {
			return false, errors.New("nothing to undo")
		}
		st, err = r.scorer.Undo(ctx)
	case "redo":
		if !r.scorer.CanRedo() {
			return false, errors.New("nothing to redo")
		}
		st, err = r.scorer.Redo(ctx)
	case "setup":
		st, err = r.setup(ctx, args)
	case "point":
		st, err = r.point(ctx, args)
	case "stat":
		st, err = r.stat(ctx, args)
	case "sub":
		st, err = r.sub(ctx, args)
	case "timeout", "card", "injury", "note":
		st, err = r.event(ctx, f[0], args)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", f[0])
	}
	if err != nil {
		return false, err
	}
	r.summary(st)
	return false, nil
}

func (r *repl) show() {
	st := r.scorer.State()
	fmt.Fprintln(r.out, output.FormatScoreboard(st.Match, st.Set, r.names))
}

// summary prints the one-line score after an action.
func (r *repl) summary(st match.State) {
	m := st.Match
	line := fmt.Sprintf("sets %d-%d", m.HomeScore, m.AwayScore)
	if s := st.Set; s != nil {
		line += fmt.Sprintf("  set %d %d-%d  serve %s", s.SetNumber, s.HomeScore, s.AwayScore, r.names.Name(s.ServerTeamID))
		if s.Status == models.SetCompleted {
			line += "  (set over)"
		}
	}
	if m.Status == models.MatchCompleted {
		line += "  match over"
	}
	fmt.Fprintln(r.out, line)
}

// team resolves "home" or "away" to a team id.
func (r *repl) team(side string) (string, error) {
	m := r.scorer.State().Match
	switch strings.ToLower(side) {
	case "home", "h":
		return m.HomeTeamID, nil
	case "away", "a":
		return m.AwayTeamID, nil
	}
	return "", fmt.Errorf("side must be home or away, got %q", side)
}

// lineupTeam is the team whose rotation the current set tracks.
func (r *repl) lineupTeam() string {
	st := r.scorer.State()
	if st.Set != nil && st.Set.LineupTeamID != "" {
		return st.Set.LineupTeamID
	}
	return st.Match.HomeTeamID
}

// player resolves an id or shirt number within a team roster. Unknown ids
// are passed through so rosters that are not synced yet do not block scoring.
func (r *repl) player(teamID, ref string) string {
	n, numErr := strconv.Atoi(ref)
	for _, p := range r.roster[teamID] {
		if p.ID == ref || (numErr == nil && p.Number == n) {
			return p.ID
		}
	}
	return ref
}

// anyPlayer resolves ref against both rosters.
func (r *repl) anyPlayer(ref string) string {
	m := r.scorer.State().Match
	for _, teamID := range []string{m.HomeTeamID, m.AwayTeamID} {
		if id := r.player(teamID, ref); id != ref {
			return id
		}
	}
	return ref
}

func (r *repl) role(teamID, playerID string) models.Role {
	for _, p := range r.roster[teamID] {
		if p.ID == playerID {
			return p.Role
		}
	}
	return ""
}

func (r *repl) setup(ctx context.Context, args []string) (match.State, error) {
	if len(args) != 1+models.CourtPositions && len(args) != 2+models.CourtPositions {
		return match.State{}, errors.New("usage: setup <home|away> <p1> .. <p6> [home|away]")
	}
	server, err := r.team(args[0])
	if err != nil {
		return match.State{}, err
	}
	lineupTeam := r.scorer.State().Match.HomeTeamID
	if len(args) == 2+models.CourtPositions {
		if lineupTeam, err = r.team(args[len(args)-1]); err != nil {
			return match.State{}, err
		}
	}
	p := match.SetSetupPayload{ServerTeamID: server, LineupTeamID: lineupTeam}
	for i := range models.CourtPositions {
		id := r.player(lineupTeam, args[1+i])
		p.Lineup[i] = id
		if role := r.role(lineupTeam, id); role != "" {
			if p.Roles == nil {
				p.Roles = make(map[string]models.Role)
			}
			p.Roles[id] = role
		}
	}
	return r.scorer.SetupSet(ctx, p)
}

func (r *repl) point(ctx context.Context, args []string) (match.State, error) {
	if len(args) != 1 {
		return match.State{}, errors.New("usage: point <home|away>")
	}
	teamID, err := r.team(args[0])
	if err != nil {
		return match.State{}, err
	}
	return r.scorer.Point(ctx, teamID)
}

func (r *repl) stat(ctx context.Context, args []string) (match.State, error) {
	if len(args) != 3 && len(args) != 4 {
		return match.State{}, errors.New("usage: stat <player> <type> <result> [home|away]")
	}
	teamID := r.lineupTeam()
	if len(args) == 4 {
		var err error
		if teamID, err = r.team(args[3]); err != nil {
			return match.State{}, err
		}
	}
	return r.scorer.Stat(ctx, match.PlayerStatPayload{
		PlayerID: r.player(teamID, args[0]),
		TeamID:   teamID,
		StatType: models.StatType(strings.ToLower(args[1])),
		Result:   models.StatResult(strings.ToLower(args[2])),
	})
}

func (r *repl) sub(ctx context.Context, args []string) (match.State, error) {
	if len(args) < 2 || len(args) > 4 {
		return match.State{}, errors.New("usage: sub <out> <in> [position] [home|away]")
	}
	teamID := r.lineupTeam()
	position := 0
	for _, a := range args[2:] {
		if n, err := strconv.Atoi(a); err == nil {
			position = n
			continue
		}
		var err error
		if teamID, err = r.team(a); err != nil {
			return match.State{}, err
		}
	}
	return r.scorer.Substitute(ctx, match.SubstitutionPayload{
		TeamID:      teamID,
		PlayerOutID: r.player(teamID, args[0]),
		PlayerInID:  r.player(teamID, args[1]),
		Position:    position,
	})
}

func (r *repl) event(ctx context.Context, kind string, args []string) (match.State, error) {
	var details models.EventDetails
	switch kind {
	case "timeout":
		if len(args) != 1 {
			return match.State{}, errors.New("usage: timeout <home|away>")
		}
		teamID, err := r.team(args[0])
		if err != nil {
			return match.State{}, err
		}
		details = models.TimeoutDetails{TeamID: teamID}
	case "card":
		if len(args) != 2 && len(args) != 3 {
			return match.State{}, errors.New("usage: card <home|away> <yellow|red> [player]")
		}
		teamID, err := r.team(args[0])
		if err != nil {
			return match.State{}, err
		}
		c := models.CardDetails{TeamID: teamID, Color: models.CardColor(strings.ToLower(args[1]))}
		if len(args) == 3 {
			c.PlayerID = r.player(teamID, args[2])
		}
		details = c
	case "injury":
		if len(args) == 0 {
			return match.State{}, errors.New("usage: injury <player> [description]")
		}
		details = models.InjuryDetails{PlayerID: r.anyPlayer(args[0]), Description: strings.Join(args[1:], " ")}
	case "note":
		details = models.NoteDetails{Text: strings.Join(args, " ")}
	}
	return r.scorer.Event(ctx, details)
}

func init() {
	rootCmd.AddCommand(liveCmd)
}
