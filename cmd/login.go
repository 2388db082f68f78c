package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/rally/internal/config"
	"github.com/marcus/rally/internal/output"
	"github.com/marcus/rally/internal/syncclient"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Store an API key for the sync server",
	Long:    `Verifies the key against the server and saves it to ~/.config/rally/auth.yaml.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		server, _ := cmd.Flags().GetString("server")
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("--key is required (create one with 'rally-sync admin create-key')")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if server == "" {
			server = cfg.ServerURLOrDefault()
		}
		server = strings.TrimRight(server, "/")

		me, err := syncclient.New(server, key).Me(cmd.Context())
		if err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				output.Error("the server rejected this key")
			}
			return fmt.Errorf("verify key: %w", err)
		}

		if err := config.SaveAuth(&config.AuthCredentials{
			APIKey:    key,
			UserID:    me.ID,
			Email:     me.Email,
			ServerURL: server,
		}); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		output.Success("Logged in as %s (%s)", me.Email, server)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget the stored API key",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAuth(); err != nil {
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("key", "", "API key issued by the sync server")
	loginCmd.Flags().String("server", "", "sync server URL (default: from config)")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
