package cmd

import (
	"context"

	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/output"
)

// loadNames maps the teams of m and their players to display names.
// Missing reference data only degrades display, so errors are ignored.
func loadNames(ctx context.Context, database *db.DB, m models.Match) output.Names {
	names := output.Names{}
	for _, teamID := range []string{m.HomeTeamID, m.AwayTeamID} {
		var t models.Team
		if err := database.Load(ctx, events.CollectionTeams, teamID, &t); err == nil {
			names[t.ID] = t.Name
		}
		players, err := rosterOf(ctx, database, teamID)
		if err != nil {
			continue
		}
		for _, p := range players {
			names[p.ID] = p.Name
		}
	}
	return names
}
