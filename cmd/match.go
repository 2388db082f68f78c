package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/rally/internal/dateparse"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/match"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:     "match",
	Short:   "Create and inspect matches",
	GroupID: "core",
}

var matchCreateCmd = &cobra.Command{
	Use:   "create <home-team-id> <away-team-id>",
	Short: "Schedule a match between two teams",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		championship, _ := cmd.Flags().GetString("championship")
		at, _ := cmd.Flags().GetString("at")

		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		for _, id := range args {
			if _, err := a.db.Get(ctx, events.CollectionTeams, id); err != nil {
				return fmt.Errorf("team %s: %w", id, err)
			}
		}

		var scheduledAt *time.Time
		if at != "" {
			t, err := dateparse.ParseKickoff(at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			scheduledAt = &t
		}

		m, err := match.NewMatch(a.deps(), args[0], args[1], championship, scheduledAt)
		if err != nil {
			return err
		}
		if _, err := a.db.Insert(ctx, events.CollectionMatches, m); err != nil {
			return err
		}
		output.Success("Created match %s", m.ID)
		return nil
	},
}

var matchListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List matches, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.db.Find(cmd.Context(), events.CollectionMatches, db.Filter{}, db.Sort{Field: "created_at", Desc: true})
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No matches")
			return nil
		}
		for _, doc := range docs {
			var m models.Match
			if err := doc.Decode(&m); err != nil {
				return err
			}
			names := loadNames(cmd.Context(), a.db, m)
			fmt.Printf("%s  %s vs %s  %d-%d  %s\n", m.ID,
				names.Name(m.HomeTeamID), names.Name(m.AwayTeamID),
				m.HomeScore, m.AwayScore, output.FormatMatchStatus(m.Status))
		}
		return nil
	},
}

var matchShowCmd = &cobra.Command{
	Use:   "show <match-id>",
	Short: "Show the scoreboard and event log of a match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		st, err := match.LoadState(ctx, a.db, args[0])
		if err != nil {
			return err
		}
		names := loadNames(ctx, a.db, st.Match)
		fmt.Println(output.FormatScoreboard(st.Match, st.Set, names))

		docs, err := a.db.Find(ctx, events.CollectionMatchEvents, db.Filter{ScopeID: st.Match.ID}, db.Sort{Field: "created_at"})
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		var lines []string
		for _, doc := range docs {
			var e models.MatchEvent
			if err := doc.Decode(&e); err != nil {
				a.log.Warn("skip undecodable event", "id", doc.ID, "err", err)
				continue
			}
			lines = append(lines, e.CreatedAt.Local().Format("15:04")+"  "+output.FormatEventDetails(e.Details, names))
		}
		fmt.Print(output.SectionHeader("events"))
		for _, l := range output.BulletList(lines, 2) {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	matchCreateCmd.Flags().String("championship", "", "championship id")
	matchCreateCmd.Flags().String("at", "", "kickoff, e.g. \"saturday 18:00\", \"+3d\" or RFC 3339")

	matchCmd.AddCommand(matchCreateCmd, matchListCmd, matchShowCmd)
	rootCmd.AddCommand(matchCmd)
}
