package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suite224/suite-db/internal/db"
	"github.com/suite224/suite-db/internal/health"
	"github.com/suite224/suite-db/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		healthBind string
		healthPort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a connection pool with health endpoints",
		Long: `Build a connection pool from the resolved profile and serve /health,
/ready and /live until interrupted. The pool is bounded by pool.max_connections
and queues or rejects callers according to pool.queue_behavior.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			if cmd.Flags().Changed("health-bind") {
				cfg.Health.Bind = healthBind
			}
			if cmd.Flags().Changed("health-port") {
				cfg.Health.Port = healthPort
			}

			profile, err := cfg.ActiveProfile()
			if err != nil {
				return err
			}
			opts, err := db.OptionsFromConfig(cfg.Pool)
			if err != nil {
				return err
			}

			pool, err := db.NewPool(profile, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if err := pool.Ping(ctx); err != nil {
				logger.Warn("Initial ping failed", "error", err)
				fmt.Fprintf(cmd.ErrOrStderr(), "%s initial ping failed: %v\n", badFormat("!"), err)
			} else {
				fmt.Fprintf(out, "%s connected to %s\n", goodFormat("✓"), profile.Database)
			}

			var srv *health.Server
			if cfg.Health.Enabled {
				serverCfg := health.ConfigFrom(cfg.Health)
				serverCfg.Debug = debug
				srv = health.NewServer(serverCfg, pool)
				if err := srv.Start(); err != nil {
					return err
				}
				fmt.Fprintf(out, "health endpoints on http://%s\n", srv.Addr())
			}

			fmt.Fprintf(out, "serving %s pool (max %d, queue %s), press Ctrl+C to stop\n",
				accentFormat(profile.Environment), opts.MaxConnections, opts.QueueBehavior)

			<-ctx.Done()
			fmt.Fprintln(out, "\nshutting down...")

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					logger.Error("Failed to stop health server", "error", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&healthBind, "health-bind", "", "health server bind address (overrides health.bind)")
	cmd.Flags().IntVar(&healthPort, "health-port", 0, "health server port (overrides health.port)")
	return cmd
}
