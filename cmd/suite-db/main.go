package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/db"
	"github.com/suite224/suite-db/internal/logger"
)

// Exit codes
const (
	exitError        = 1
	exitConfigError  = 2
	exitConnectError = 3
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	envName    string
	logFile    string
	debug      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "suite-db",
		Short: "Resolve and check suite224 database connections",
		Long: `suite-db resolves the database connection profile for the running
environment and opens connections with it.

The environment is taken from --env, SUITE_ENV or NODE_ENV and defaults to
development. Secrets come from SUITE_DB_PASSWORD, PGPASSWORD or
SUITE_DB_PASSWORD_COMMAND, never from the config file.

  suite-db profile               Print the resolved profile (secrets redacted)
  suite-db ping                  Open one connection and report the server
  suite-db serve                 Run a connection pool with health endpoints`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/suite224/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment: development, test or production")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path, - for stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newProfileCmd(),
		newPingCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// setup loads configuration, applies --env and initializes logging. Callers
// must defer logger.Close.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if envName != "" {
		env, err := config.ParseEnvironment(envName)
		if err != nil {
			return nil, err
		}
		cfg.SetEnvironment(env)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "log_level", Reason: err.Error()}
	}
	if debug {
		level = logger.LevelDebug
	}

	path := cfg.LogFile
	if logFile != "" {
		path = logFile
	}
	logger.InitLogger(level, path)
	return cfg, nil
}

func exitCode(err error) int {
	var (
		cfgErr  *config.ConfigurationError
		connErr *db.ConnectionError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfigError
	case errors.As(err, &connErr):
		return exitConnectError
	default:
		return exitError
	}
}
