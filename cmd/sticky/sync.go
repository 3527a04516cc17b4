package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/intake"
	"github.com/tilesticker/sticky/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Turn on cloud mode and pull once",
	Long: `Turn on cloud mode for remote.user and pull the remote state once.

The first time an account is used, every local card is uploaded to the
empty remote account. After that the remote is authoritative: the pull
overwrites local cards and removes cards deleted on other devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.HasRemote() || cfg.Remote.User == "" {
			return fmt.Errorf("set remote.url and remote.user to sync")
		}
		return withApp(cmd.Context(), func(a *app) error {
			start := time.Now()
			fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), cfg.Remote.URL)

			m, err := a.store.EnableCloud(cmd.Context(), cfg.Remote.User)
			if err != nil {
				return err
			}
			if m.Ran {
				fmt.Printf("   Uploaded %d local cards to the empty account\n", m.Uploaded)
				if len(m.Skipped) > 0 {
					fmt.Printf("   %s Skipped %d invalid cards\n", ui.RenderWarn("⚠"), len(m.Skipped))
				}
			}

			st := a.store.State()
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			fmt.Printf("   Cards: %d\n", len(st.Items))
			fmt.Printf("   Cache: %s\n", cfg.DB.Path)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Run in the foreground: keep the board synced and watch the inbox",
	Long: `Run in the foreground until interrupted.

With a remote configured, the board switches to cloud mode, pulls every
sync.interval and on every remote change notification. With inbox.dir set,
*.txt and *.url files dropped there are read as bulk-creation instructions
(one query per line) and deleted once applied.

Only one watch may run per database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noInbox, _ := cmd.Flags().GetBool("no-inbox")

		lock := flock.New(cfg.DB.Path + ".lock")
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
		}
		if !locked {
			return fmt.Errorf("another watch is already running for %s", cfg.DB.Path)
		}
		defer func() { _ = lock.Unlock() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, func(a *app) error {
			logger := a.out.Logger("watch")

			fmt.Printf("%s Watching board %s\n", ui.RenderAccent("🚀"), cfg.DB.Path)
			if cfg.HasRemote() && cfg.Remote.User != "" {
				if !a.engine.Active() {
					if _, err := a.store.EnableCloud(ctx, cfg.Remote.User); err != nil {
						logger.Printf("WARNING: cloud mode unavailable, staying local: %v", err)
					}
				}
				if a.engine.Active() {
					if err := a.store.StartRealtimeSync(ctx); err != nil {
						return err
					}
					fmt.Printf("   Syncing every %v with %s\n", cfg.Sync.Interval, cfg.Remote.URL)
				}
			}

			done := make(chan error, 1)
			if !noInbox && cfg.Inbox.Dir != "" {
				inbox, err := intake.NewInbox(cfg.Inbox.Dir, a.store, &intake.InboxConfig{
					DebounceInterval: 200 * time.Millisecond,
					Logger:           a.out.Logger("inbox"),
				})
				if err != nil {
					return err
				}
				go func() { done <- inbox.Start(ctx) }()
				fmt.Printf("   Inbox: %s\n", cfg.Inbox.Dir)
			} else {
				go func() { <-ctx.Done(); done <- nil }()
			}
			fmt.Printf("\nPress Ctrl+C to stop\n\n")

			for {
				select {
				case err := <-a.store.Errors():
					logger.Printf("WARNING: %v", err)
				case err := <-done:
					fmt.Println("\nStopping...")
					return err
				}
			}
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local cache and remote status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(cfg.DB.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Board not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'sticky add memo' to create %s\n\n", cfg.DB.Path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check database: %w", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			count, err := a.db.Count(cmd.Context())
			if err != nil {
				return err
			}
			version, err := a.db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n%s Board Status\n\n", ui.RenderAccent("📊"))
			fmt.Printf("Location: %s\n", cfg.DB.Path)
			fmt.Printf("Size: %s\n", formatSize(info.Size()))
			fmt.Printf("Cards: %d\n", count)
			fmt.Printf("Schema: v%d\n", version)
			fmt.Printf("Modified: %s\n", info.ModTime().Format(time.DateTime))
			if cfg.File != "" {
				fmt.Printf("Config: %s\n", cfg.File)
			}

			if a.client == nil {
				fmt.Printf("Remote: %s\n\n", ui.RenderDim("none (local-only)"))
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout)
			defer cancel()
			online := ui.RenderPass("online")
			if err := a.client.Ping(ctx); err != nil {
				online = ui.RenderFail("offline: " + err.Error())
			}
			fmt.Printf("Remote: %s (%s)\n", cfg.Remote.URL, online)
			fmt.Printf("User: %s\n", cfg.Remote.User)
			if a.engine.Active() {
				fmt.Printf("Cloud mode: on, last sync %s\n", a.engine.LastSync().Format(time.DateTime))
			} else {
				fmt.Printf("Cloud mode: off\n")
			}
			fmt.Println()
			return nil
		})
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

func init() {
	watchCmd.Flags().Bool("no-inbox", false, "do not watch inbox.dir")
	rootCmd.AddCommand(syncCmd, watchCmd, statusCmd)
}
