package devices

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/renderer/device"
)

// Command creates the command listing playback devices for the device renderer.
func Command(_ *conf.Context) *cobra.Command {
	var (
		backend string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List playback devices",
		Long:  "List the playback devices of an audio backend. The ID column is what renderer.device.deviceid expects.",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := device.ListDevices(backend)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			if len(infos) == 0 {
				fmt.Fprintln(out, "no playback devices found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tDEFAULT\tNAME\tID")
			for _, d := range infos {
				def := ""
				if d.Default {
					def = "*"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.Index, def, d.Name, d.ID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Audio backend (alsa, pulseaudio, jack, wasapi, coreaudio, null), empty for the platform default")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")

	return cmd
}
