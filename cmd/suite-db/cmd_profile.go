package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/logger"
	"gopkg.in/yaml.v3"
)

// profileView is the printed form of a profile.
type profileView struct {
	config.ConnectionProfile `yaml:",inline"`
	SecretSource             string `yaml:"secret_source"`
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the resolved connection profile",
		Long: `Print the connection profile for the selected environment as YAML.
Passwords are redacted and password commands are not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			profile, err := cfg.ActiveProfile()
			if err != nil {
				return err
			}
			return writeProfile(cmd.OutOrStdout(), profile)
		},
	}
}

func writeProfile(w io.Writer, profile config.ConnectionProfile) error {
	view := profileView{
		ConnectionProfile: profile.Redacted(),
		SecretSource:      "environment",
	}
	if profile.PasswordCommand != "" {
		view.SecretSource = "command"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}
