package cmd

import (
	"fmt"

	"github.com/marcus/rally/internal/config"
	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show login, sync progress and pending local changes",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false, false)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		creds, err := config.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			fmt.Println("Not logged in")
		} else {
			fmt.Printf("Logged in as %s at %s\n", creds.Email, serverURL(a.cfg, creds))
		}

		states, err := a.db.ListSyncStates(ctx)
		if err != nil {
			return err
		}
		fmt.Print(output.SectionHeader("scopes"))
		if len(states) == 0 {
			fmt.Println("  never synced")
		}
		for _, s := range states {
			fmt.Println(output.FormatSyncState(s))
		}

		var lines []string
		for _, c := range append(events.GlobalCollections(), events.MatchCollections()...) {
			n, err := a.db.CountPending(ctx, c)
			if err != nil {
				return err
			}
			if n > 0 {
				lines = append(lines, fmt.Sprintf("%s: %d", c, n))
			}
		}
		fmt.Print(output.SectionHeader("pending pushes"))
		if len(lines) == 0 {
			fmt.Println("  none")
		}
		for _, l := range output.BulletList(lines, 2) {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
