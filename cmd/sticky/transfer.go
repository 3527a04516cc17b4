package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/intake"
	"github.com/tilesticker/sticky/internal/migrate"
	"github.com/tilesticker/sticky/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export every card as a versioned envelope",
	Long: `Export every card as {"version": 1, "items": [...]}.

Without a file the envelope goes to stdout. The format follows the file
extension (.json, .yaml) unless --format is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")
		backup, _ := cmd.Flags().GetBool("backup")

		return withApp(cmd.Context(), func(a *app) error {
			if len(args) == 0 {
				format, err := migrate.ParseFormat(formatFlag)
				if err != nil {
					return err
				}
				data, err := a.store.Export(cmd.Context(), format)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}

			var format migrate.Format
			if cmd.Flags().Changed("format") {
				f, err := migrate.ParseFormat(formatFlag)
				if err != nil {
					return err
				}
				format = f
			}
			items, err := a.db.All(cmd.Context())
			if err != nil {
				return err
			}
			res, err := migrate.WriteFile(args[0], items, migrate.WriteOptions{Format: format, Backup: backup})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d cards to %s\n", ui.RenderPass("✓"), res.Items, args[0])
			if res.BackupCreated != "" {
				fmt.Fprintf(os.Stderr, "   Previous file saved as %s\n", res.BackupCreated)
			}
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file|->",
	GroupID: "data",
	Short:   "Import cards from an export envelope",
	Long: `Import cards from an export envelope. Every valid card is upserted
as-is (ids and timestamps kept); invalid cards are skipped. A document
without an items array changes nothing. Use - to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")

		var (
			data   []byte
			err    error
			format = migrate.FormatFromPath(args[0])
		)
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			// #nosec G304 - path from CLI
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read import: %w", err)
		}
		if cmd.Flags().Changed("format") {
			if format, err = migrate.ParseFormat(formatFlag); err != nil {
				return err
			}
		}

		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.store.Import(cmd.Context(), format, data)
			if err != nil {
				return err
			}
			fmt.Printf("%s Imported %d cards\n", ui.RenderPass("✓"), res.Imported)
			if len(res.Skipped) > 0 {
				fmt.Printf("%s Skipped %d invalid: %s\n", ui.RenderWarn("⚠"), len(res.Skipped), strings.Join(res.Skipped, ", "))
			}
			if res.Pushed > 0 {
				fmt.Printf("   Pushed %d to the remote\n", res.Pushed)
			}
			return nil
		})
	},
}

var newCmd = &cobra.Command{
	Use:     "new <query-or-url>...",
	GroupID: "data",
	Short:   "Create cards in bulk from query instructions",
	Long: `Create cards in bulk from URL query instructions.

  make_todo_name=...                     one todo per value
  make_memo_name=...&memo=...            paired by position
  make_link_name=...&link=...
  make_list_name=...&list=a,b,c
  make_date_name=...&date=...&date_note=...
  tags=a,b                               shared by the group

A full URL works too; its query is used. Dates accept YYYY-MM-DD or
natural language ("tomorrow"). Whatever is not an instruction is printed
back at the end.`,
	Example: `  sticky new 'make_todo_name=Buy milk&make_todo_name=Call mom&tags=home'
  sticky new 'https://board.example/?make_link_name=Go&link=https://go.dev'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			for _, arg := range args {
				query := arg
				if i := strings.IndexByte(arg, '?'); i >= 0 && strings.Contains(arg[:i], "://") {
					query = arg[i+1:]
				}
				for {
					created, rest, err := intake.Run(cmd.Context(), a.store, query, time.Now())
					for _, item := range created {
						fmt.Println(ui.Line(item))
					}
					if err != nil {
						return err
					}
					if len(created) == 0 {
						if rest != "" {
							fmt.Println(ui.RenderDim("Left over: " + rest))
						}
						break
					}
					query = rest
				}
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "json or yaml")
	exportCmd.Flags().Bool("backup", false, "keep a timestamped copy of an existing file")
	importCmd.Flags().String("format", "json", "json or yaml (default: from extension)")

	rootCmd.AddCommand(exportCmd, importCmd, newCmd)
}
