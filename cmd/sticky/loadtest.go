package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/loadtest"
	"github.com/tilesticker/sticky/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Hammer a scratch board with concurrent operations",
	Long: `Create a scratch board in a temporary directory, run concurrent
workers mixing searches with updates, toggles, adds and removes, then check
that the in-memory board still matches the database.

Your own board is never touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, _ := cmd.Flags().GetInt("items")
		workers, _ := cmd.Flags().GetInt("workers")
		ops, _ := cmd.Flags().GetInt("ops")
		seed, _ := cmd.Flags().GetInt64("seed")

		dir, err := os.MkdirTemp("", "sticky-loadtest-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		ctx := cmd.Context()
		board, err := loadtest.CreateBoard(ctx, filepath.Join(dir, "load.db"), items)
		if err != nil {
			return err
		}
		defer board.Close()

		fmt.Printf("%s Running %d workers x %d ops over %d cards...\n", ui.RenderAccent("⚡"), workers, ops, items)
		stats, runErr := board.Run(ctx, workers, ops, loadtest.DefaultMix, seed)
		if stats != nil {
			stats.PrintStats(os.Stdout)
		}
		if runErr != nil {
			return runErr
		}
		if err := board.VerifyConsistency(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Board consistent\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("items", 1000, "cards to generate")
	loadtestCmd.Flags().Int("workers", 50, "concurrent workers")
	loadtestCmd.Flags().Int("ops", 100, "operations per worker")
	loadtestCmd.Flags().Int64("seed", 42, "random seed")
	rootCmd.AddCommand(loadtestCmd)
}
