package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/marcus/rally/internal/config"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a local rally database",
	Long:    `Creates the .rally directory and SQLite database, and a default config if none exists.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := db.Path(getBaseDir())
		if _, err := os.Stat(dbPath); err == nil {
			output.Warning("%s already exists", dbPath)
			return nil
		}

		database, err := db.Initialize(getBaseDir())
		if err != nil {
			if errors.Is(err, db.ErrIncompatibleSchema) {
				output.Error("local database is newer than this binary; upgrade rally")
			}
			return err
		}
		defer database.Close()
		fmt.Printf("INITIALIZED %s\n", dbPath)

		dir, err := config.Dir()
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(dir + "/config.yaml"); os.IsNotExist(statErr) {
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("Config: %s/config.yaml (server %s)\n", dir, cfg.ServerURLOrDefault())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
