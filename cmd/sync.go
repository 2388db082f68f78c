package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/rally/internal/orchestrator"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [match-id]",
	Short: "Sync reference data, or one match, with the server",
	Long: `Starts replication for the logged-in user and waits until it caught up.

With a match id the match and all its sets, points, stats, substitutions and
events are synced too. On timeout replication is abandoned with a warning;
run the command again to resume from the saved checkpoints.`,
	GroupID: "sync",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true, true)
		if err != nil {
			return err
		}
		defer a.Close()

		scopes := []string{orchestrator.GlobalScope}
		if len(args) == 1 {
			scopes = append(scopes, args[0])
		}

		start := time.Now()
		for _, scopeID := range scopes {
			synced, err := a.orch.SyncScope(cmd.Context(), scopeID)
			if err != nil {
				return fmt.Errorf("sync %s: %w", scopeID, err)
			}
			if !synced {
				output.Warning("%s did not finish within %s; it will resume next time", scopeID, a.cfg.SyncTimeout())
			}
			fmt.Println(output.FormatSyncState(a.orch.ScopeState(scopeID)))
		}

		pending, err := a.db.CountPending(cmd.Context(), "")
		if err != nil {
			return err
		}
		if pending > 0 {
			output.Warning("%d local changes still waiting to be pushed", pending)
		} else {
			output.Success("Synced in %s", time.Since(start).Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
