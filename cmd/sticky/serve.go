package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/tilesticker/sticky/internal/cloud"
	"github.com/tilesticker/sticky/internal/logging"
	"github.com/tilesticker/sticky/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the hosted backend that boards sync with",
	Long: `Run the remote item API that 'sticky sync' and 'sticky watch' talk to.

Backends (server.backend):
  sqlite   a local SQLite file at server.dsn
  libsql   a libSQL/Turso database, server.dsn = libsql://...?authToken=...
  redis    Redis at server.redis_addr; changes fan out over Redis pub/sub so
           several servers can share one Redis

Endpoints:
  GET  /health
  GET  /v1/users/{user}/items         websocket: /v1/users/{user}/changes

With [[server.tokens]] configured every request needs a Bearer token, and a
token may only act for its own user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if !cmd.Flags().Changed("addr") {
			addr = cfg.Server.Addr
		}

		out := logging.Open(logOptions(cfg))
		defer out.Close()
		logger := out.Logger("cloud")

		ctx := cmd.Context()
		var (
			backend  cloud.Backend
			notifier cloud.Notifier
		)
		switch cfg.Server.Backend {
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Server.RedisAddr, err)
			}
			backend = cloud.NewRedisBackend(client, "sticky")
			notifier = cloud.NewRedisNotifier(client, "sticky", out.Logger("notify"))
		default:
			sqlBackend, err := cloud.OpenSQL(ctx, cfg.Server.DSN)
			if err != nil {
				return err
			}
			backend = sqlBackend
		}
		defer backend.Close()

		server, err := cloud.NewServer(cloud.Config{
			Addr:     addr,
			Backend:  backend,
			Notifier: notifier,
			Tokens:   cfg.Server.TokenMap(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Cloud server started on %s (%s backend)\n", ui.RenderPass("✓"), server.Addr(), cfg.Server.Backend)
		fmt.Printf("Health check: http://%s/health\n", server.Addr())
		if len(cfg.Server.Tokens) == 0 {
			fmt.Printf("%s No tokens configured, authentication is off\n", ui.RenderWarn("⚠"))
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-sigCtx.Done()

		fmt.Println("\nShutting down cloud server...")
		if err := server.Stop(); err != nil {
			return err
		}
		if notifier != nil {
			_ = notifier.Close()
		}
		fmt.Println("Cloud server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("addr", "a", ":8787", "address to listen on (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}
