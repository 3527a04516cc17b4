// Command sticky is a local-first sticky-note board with optional cloud
// sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/config"
	"github.com/tilesticker/sticky/internal/ui"
)

var (
	configPath string
	dbFlag     string
	noColor    bool
	quietFlag  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sticky",
	Short: "Local-first sticky-note board",
	Long: `sticky keeps typed cards (todo, memo, link, list, date) in a local
database and, when a remote is configured, syncs them with a hosted backend.

The remote is authoritative once cloud mode is on: every change is pushed as
it happens, and the board pulls the remote state every few seconds and on
every change notification.

Configuration is read from --config, $STICKY_CONFIG, ./sticky.toml or
~/.sticky/sticky.toml, and STICKY_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if cmd.Flags().Changed("db") {
			overrides["db.path"] = dbFlag
		}
		if quietFlag {
			overrides["log.quiet"] = true
		}
		loaded, err := config.Load(configPath, overrides)
		if err != nil {
			return err
		}
		cfg = loaded
		ui.Setup(os.Stdout, noColor)
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "cards", Title: "Cards:"},
		&cobra.Group{ID: "data", Title: "Import and export:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default: ./sticky.toml or ~/.sticky/sticky.toml)")
	flags.StringVar(&dbFlag, "db", "", "local database path")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "suppress log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
