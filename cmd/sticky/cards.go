package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/intake"
	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
	"github.com/tilesticker/sticky/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <type> [title]",
	GroupID: "cards",
	Short:   "Create a card (todo, memo, link, list, date)",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := schema.ParseType(args[0])
		if err != nil {
			return err
		}
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		if len(args) == 2 {
			patch.Title = schema.Ptr(args[1])
		}

		return withApp(cmd.Context(), func(a *app) error {
			item, err := a.store.Add(cmd.Context(), t)
			if err != nil {
				return err
			}
			if !patch.IsEmpty() {
				filled, err := a.store.Update(cmd.Context(), item.ID, patch)
				if err != nil {
					return fmt.Errorf("created %s but could not apply fields: %w", item.ID, err)
				}
				item = filled
			}
			fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), item.Type, item.ID)
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:     "set <id>",
	GroupID: "cards",
	Short:   "Change card fields from flags",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to change; pass at least one field flag")
		}
		return withApp(cmd.Context(), func(a *app) error {
			item, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			updated, err := a.store.Update(cmd.Context(), item.ID, patch)
			if err != nil {
				return err
			}
			fmt.Println(ui.Card(updated))
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "cards",
	Short:   "Edit a card in an interactive form",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal(os.Stdin) {
			return fmt.Errorf("edit needs an interactive terminal; use 'sticky set' instead")
		}
		return withApp(cmd.Context(), func(a *app) error {
			item, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			patch, err := ui.EditItem(item)
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println(ui.RenderDim("Cancelled."))
				return nil
			}
			if err != nil {
				return err
			}
			if patch.IsEmpty() {
				fmt.Println(ui.RenderDim("No changes."))
				return nil
			}
			updated, err := a.store.Update(cmd.Context(), item.ID, patch)
			if err != nil {
				return err
			}
			fmt.Println(ui.Card(updated))
			return nil
		})
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "cards",
	Short:   "Toggle a todo's done flag",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			item, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			updated, err := a.store.ToggleDone(cmd.Context(), item.ID)
			if err != nil {
				return err
			}
			fmt.Println(ui.Line(updated))
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	GroupID: "cards",
	Short:   "Delete cards",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			for _, ref := range args {
				item, err := a.resolve(ref)
				if err != nil {
					return err
				}
				if err := a.store.Remove(cmd.Context(), item.ID, ""); err != nil {
					return err
				}
				fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), item.ID)
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "cards",
	Short:   "Delete every card",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("refusing to clear without --yes")
			}
			confirm := false
			if err := huh.NewConfirm().Title("Delete every card?").Value(&confirm).Run(); err != nil {
				return err
			}
			if !confirm {
				return nil
			}
		}
		return withApp(cmd.Context(), func(a *app) error {
			n := len(a.store.State().Items)
			if err := a.store.RemoveAll(cmd.Context(), ""); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %d cards\n", ui.RenderPass("✓"), n)
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	GroupID: "cards",
	Short:   "List cards",
	Long: `List cards, optionally filtered.

A query starting with # matches tags ("#work"); any other query matches
every word against title, content, link and tags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		sortFlag, _ := cmd.Flags().GetString("sort")
		typeFlag, _ := cmd.Flags().GetString("type")
		asCards, _ := cmd.Flags().GetBool("cards")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			if err := a.store.SetSort(search.ParseSortKey(sortFlag)); err != nil {
				return err
			}
			if typeFlag != "" {
				if err := a.store.SetFilterType(schema.Type(typeFlag)); err != nil {
					return err
				}
			}
			a.store.SetQuery(query)

			items := a.store.State().Visible()
			switch {
			case asJSON:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			case asCards:
				fmt.Println(ui.Board(items, ui.Width(os.Stdout)))
			default:
				if len(items) == 0 {
					fmt.Println(ui.RenderDim("No cards."))
				}
				for _, item := range items {
					fmt.Println(ui.Line(item))
				}
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "cards",
	Short:   "Show one card",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd.Context(), func(a *app) error {
			item, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(item)
			}
			fmt.Println(ui.Card(item))
			fmt.Println(ui.RenderDim(fmt.Sprintf("id %s · created %s · updated %s",
				item.ID,
				time.UnixMilli(item.CreatedAt).Format(time.DateTime),
				time.UnixMilli(item.UpdatedAt).Format(time.DateTime))))
			return nil
		})
	},
}

// addFieldFlags registers the flags patchFromFlags reads.
func addFieldFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("title", "", "title")
	f.String("content", "", "memo text, todo subtitle or date description")
	f.Bool("done", false, "todo done flag")
	f.String("href", "", "link URL")
	f.StringSlice("list", nil, "list entries (repeat or comma separate)")
	f.String("date", "", `date: YYYY-MM-DD or natural language ("next friday")`)
	f.String("note", "", "date note")
	f.StringSlice("tags", nil, "tags (repeat or comma separate)")
	f.String("color", "", "base color override, e.g. #ffd27f")
}

// patchFromFlags builds a patch from the field flags that were set.
func patchFromFlags(cmd *cobra.Command) (schema.Patch, error) {
	f := cmd.Flags()
	var p schema.Patch
	if f.Changed("title") {
		v, _ := f.GetString("title")
		p.Title = &v
	}
	if f.Changed("content") {
		v, _ := f.GetString("content")
		p.Content = &v
	}
	if f.Changed("done") {
		v, _ := f.GetBool("done")
		p.Done = &v
	}
	if f.Changed("href") {
		v, _ := f.GetString("href")
		p.Href = &v
	}
	if f.Changed("list") {
		v, _ := f.GetStringSlice("list")
		p.List = &v
	}
	if f.Changed("date") || f.Changed("note") {
		raw, _ := f.GetString("date")
		note, _ := f.GetString("note")
		day := time.Now().Format(time.DateOnly)
		if raw != "" {
			parsed, err := intake.ParseDate(raw, time.Now())
			if err != nil {
				return p, err
			}
			day = parsed
		}
		p.Date = &schema.DateInfo{SelectedDate: day, Note: note}
	}
	if f.Changed("tags") {
		v, _ := f.GetStringSlice("tags")
		p.Tags = &v
	}
	if f.Changed("color") {
		v, _ := f.GetString("color")
		p.Color = &schema.Color{Base: v}
	}
	return p, nil
}

func init() {
	addFieldFlags(addCmd)
	addFieldFlags(setCmd)
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	lsCmd.Flags().String("query", "", "search query")
	lsCmd.Flags().String("sort", "createdAt", "sort key: createdAt, updatedAt or type")
	lsCmd.Flags().String("type", "", "only cards of this type")
	lsCmd.Flags().Bool("cards", false, "render cards instead of lines")
	lsCmd.Flags().Bool("json", false, "print JSON")
	showCmd.Flags().Bool("json", false, "print JSON")

	rootCmd.AddCommand(addCmd, setCmd, editCmd, doneCmd, rmCmd, clearCmd, lsCmd, showCmd)
}
