package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

var teamCmd = &cobra.Command{
	Use:     "team",
	Short:   "Manage teams and rosters",
	GroupID: "data",
}

var teamCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now().UTC()
		team := &models.Team{ID: uuid.NewString(), Name: args[0], OwnerID: a.ownerID(), CreatedAt: now, UpdatedAt: now}
		if _, err := a.db.Insert(cmd.Context(), events.CollectionTeams, team); err != nil {
			return err
		}
		output.Success("Created team %s (%s)", team.Name, team.ID)
		return nil
	},
}

var teamListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List teams with their players",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		teams, err := a.db.Find(cmd.Context(), events.CollectionTeams, db.Filter{}, db.Sort{Field: "name"})
		if err != nil {
			return err
		}
		for _, doc := range teams {
			var t models.Team
			if err := doc.Decode(&t); err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", t.ID, t.Name)
			players, err := rosterOf(cmd.Context(), a.db, t.ID)
			if err != nil {
				return err
			}
			for _, p := range players {
				fmt.Printf("    #%-3d %s  %s\n", p.Number, p.Name, p.ID)
			}
		}
		return nil
	},
}

var playerAddCmd = &cobra.Command{
	Use:   "add-player <team-id> <name>",
	Short: "Add a player to a team roster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, _ := cmd.Flags().GetInt("number")
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var team models.Team
		if err := a.db.Load(cmd.Context(), events.CollectionTeams, args[0], &team); err != nil {
			return fmt.Errorf("team %s: %w", args[0], err)
		}

		now := time.Now().UTC()
		p := &models.Player{
			ID:        uuid.NewString(),
			TeamID:    team.ID,
			Name:      args[1],
			Number:    number,
			Role:      models.Role(roleFlag.String()),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := a.db.Insert(cmd.Context(), events.CollectionPlayers, p); err != nil {
			return err
		}
		output.Success("Added #%d %s to %s (%s)", p.Number, p.Name, team.Name, p.ID)
		return nil
	},
}

var roleFlag *enumValue

func rosterOf(ctx context.Context, database *db.DB, teamID string) ([]models.Player, error) {
	docs, err := database.Find(ctx, events.CollectionPlayers,
		db.Filter{Where: map[string]any{"team_id": teamID}}, db.Sort{Field: "number"})
	if err != nil {
		return nil, err
	}
	players := make([]models.Player, 0, len(docs))
	for _, d := range docs {
		var p models.Player
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}

func init() {
	playerAddCmd.Flags().Int("number", 0, "shirt number")
	roleFlag = enumFlag(playerAddCmd.Flags(), "role", "", "court role",
		string(models.RoleSetter), string(models.RoleOutside), string(models.RoleOpposite),
		string(models.RoleMiddle), string(models.RoleLibero), string(models.RoleDefensiveSub))

	teamCmd.AddCommand(teamCreateCmd, teamListCmd, playerAddCmd)
	rootCmd.AddCommand(teamCmd)
}
