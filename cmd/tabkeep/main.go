// Command tabkeep manages a local tabkeep store: syncing it with the remote
// API, inspecting pending changes, key setup and account data removal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	user   string
	logger string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "tabkeep",
		Short: "Local-first encrypted store for the drink and budget tracker",
		Long: `tabkeep keeps a user's drinks, budget, plans and profile in a local
encrypted store and reconciles them with the remote API.

Configuration is read from TABKEEP_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.user, "user", "u", os.Getenv("TABKEEP_USER"), "user id (default $TABKEEP_USER)")
	root.PersistentFlags().StringVar(&f.logger, "logger", "logrus", "log backend: logrus, zap or slog")

	root.AddGroup(
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
	root.AddCommand(
		newSyncCmd(f),
		newWatchCmd(f),
		newStatusCmd(f),
		newDrinksCmd(f),
		newExportCmd(f),
		newKeysCmd(f),
		newResetCmd(f),
		newDeleteAccountCmd(f),
	)
	return root
}
