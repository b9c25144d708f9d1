package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spatialpump/spatialpump/cmd/config"
	"github.com/spatialpump/spatialpump/cmd/devices"
	"github.com/spatialpump/spatialpump/cmd/run"
	"github.com/spatialpump/spatialpump/internal/app"
	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spatialpump",
		Short:         "Spatial audio object pump",
		Version:       ctx.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, ctx); err != nil {
		// flag binding only fails on programming errors
		panic(err)
	}

	devicesCmd := devices.Command(ctx)
	rootCmd.AddCommand(
		run.Command(ctx),
		devicesCmd,
		config.Command(ctx),
	)

	var central *logger.CentralLogger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// these only read static data and must work without a config file
		if cmd.Name() == devicesCmd.Name() || cmd.Name() == "default" {
			return nil
		}
		var err error
		central, err = initialize(ctx)
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if central != nil {
			_ = central.Close()
		}
	}

	return rootCmd
}

// initialize loads the settings, with flags bound through viper taking
// precedence, and installs the global logger.
func initialize(ctx *conf.Context) (*logger.CentralLogger, error) {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return nil, err
	}
	ctx.Settings = settings

	return app.InitLogging(settings)
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *conf.Context) error {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml, default searches ~/.config/spatialpump, /etc/spatialpump and .")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
