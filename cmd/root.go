// Package cmd implements the rally command line: local-first match scoring
// with background sync to a rally-sync server.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcus/rally/internal/workdir"
	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "rally",
	Short: "Local-first volleyball live scoring",
	Long: `rally - score volleyball matches point by point, offline first.

Every action is stored locally and replicated to a rally-sync server in the
background whenever one is reachable.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initBaseDir)
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "directory holding .rally/ (default: nearest enclosing workspace)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Scoring Commands:"},
		&cobra.Group{ID: "data", Title: "Reference Data Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

func initBaseDir() {
	if baseDir != "" {
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = workdir.ResolveBaseDir(cwd)
}

// getBaseDir returns the directory holding the local database
func getBaseDir() string {
	return baseDir
}
