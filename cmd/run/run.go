package run

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spatialpump/spatialpump/internal/app"
	"github.com/spatialpump/spatialpump/internal/conf"
)

// Command creates the command that runs the pipeline until interrupted.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the spatial pump",
		Long:  "Start the pump worker with the configured renderer, and optionally the source simulator, status API and MQTT event publisher.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(sigCtx, ctx)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("renderer", "", "Render backend (\"virtual\" or \"device\")")
	cmd.Flags().String("device", "", "Playback device ID or name substring for the device renderer")
	cmd.Flags().Bool("simulate", false, "Feed the engine from the source simulator")
	cmd.Flags().Duration("duration", 0, "Stop after this much simulated time, 0 runs until interrupted")
	cmd.Flags().String("listen", "", "Listen address of the status API")
	cmd.Flags().Bool("mqtt", false, "Publish engine events to the MQTT broker")

	for key, flag := range map[string]string{
		"renderer.type":            "renderer",
		"renderer.device.deviceid": "device",
		"simulate.enabled":         "simulate",
		"simulate.duration":        "duration",
		"api.listen":               "listen",
		"mqtt.enabled":             "mqtt",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}
