package config

import (
	"github.com/spf13/cobra"

	"github.com/spatialpump/spatialpump/internal/conf"
)

// Command creates the config command group.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		Long:  "Print the settings after merging defaults, the config file, environment variables and flags. Secrets are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := *ctx.Settings
			if redacted.MQTT.Password != "" {
				redacted.MQTT.Password = "[redacted]"
			}
			if redacted.Sentry.DSN != "" {
				redacted.Sentry.DSN = "[redacted]"
			}
			data, err := redacted.ToYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := conf.DefaultConfigYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}
