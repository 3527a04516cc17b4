package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/config"
	"github.com/tilesticker/sticky/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Long: `Write a commented default config file (TOML).

The default path is ~/.sticky/sticky.toml. Existing files are kept unless
--force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := filepath.Join(config.HomeDir(), "sticky.toml")
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteFile(path, config.Defaults(), force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Remote.Token != "" {
			shown.Remote.Token = "********"
		}
		shown.Server.Tokens = nil
		for _, t := range cfg.Server.Tokens {
			shown.Server.Tokens = append(shown.Server.Tokens, config.TokenConfig{Token: "********", User: t.User})
		}
		data, err := config.Encode(&shown)
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Fprintf(os.Stderr, "%s\n", ui.RenderDim("# loaded from "+cfg.File))
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
