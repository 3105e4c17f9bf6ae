package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/suite224/suite-db/internal/db"
	"github.com/suite224/suite-db/internal/logger"
)

var (
	goodFormat   = color.New(color.FgGreen).SprintFunc()
	badFormat    = color.New(color.FgHiRed).SprintFunc()
	mutedFormat  = color.New(color.FgHiBlack).SprintFunc()
	accentFormat = color.New(color.FgCyan).SprintFunc()
)

func newPingCmd() *cobra.Command {
	var promptPassword bool

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Open one connection and report the server",
		Long: `Open a single connection with the resolved profile, confirm the session
is bound to the configured database and print the server version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			if promptPassword {
				password, err := promptForPassword("Enter database password: ")
				if err != nil {
					return err
				}
				cfg.SetPassword(password)
			}

			profile, err := cfg.ActiveProfile()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s@%s/%s\n", mutedFormat("connecting"),
				accentFormat(profile.Environment), profile.User, profile.Addr(), profile.Database)

			start := time.Now()
			conn, err := db.Connect(ctx, profile)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", badFormat("✗"), err)
				return err
			}
			defer conn.Close(context.Background())
			elapsed := time.Since(start)

			current, err := conn.CurrentDatabase(ctx)
			if err != nil {
				return err
			}
			if current != profile.Database {
				return fmt.Errorf("session is bound to %q, expected %q", current, profile.Database)
			}

			version, err := conn.ServerVersion(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s connected in %s\n", goodFormat("✓"), elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "  database: %s\n", current)
			fmt.Fprintf(out, "  server:   PostgreSQL %s\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&promptPassword, "prompt-password", false, "read the password from the terminal")
	return cmd
}
