package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/mediakit/internal/service"
	"github.com/dustin/go-humanize"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show the resolved configuration and details for a media file",
	Long: `Prepare the given file without playing it and display its resolved path,
size and duration, followed by the settings of the active profile.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *service.Service) error {
			path := args[0]
			if !filepath.IsAbs(path) {
				path = filepath.Join(cfg.Output.MediaDirectory, path)
			}

			// Display file details
			fmt.Printf("=== FILE ===\n")
			fmt.Printf("path: %s\n", path)
			if stat, err := svc.Engines().Fs.Stat(path); err == nil {
				fmt.Printf("size: %s\n", humanize.Bytes(uint64(stat.Size())))
				fmt.Printf("modified: %s\n", humanize.Time(stat.ModTime()))
			}

			p, err := svc.LoadPlayer(ctx, path)
			if err != nil {
				fmt.Printf("duration: unavailable (%v)\n", err)
			} else {
				fmt.Printf("duration: %s\n", formatPosition(p.Duration()))
			}

			// Display resolved configuration
			fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)

			fmt.Printf("\n[Audio]\n")
			fmt.Printf("backend: %s (%s)\n", cfg.Audio.Backend, svc.Engines().Type)
			fmt.Printf("sample_rate: %d\n", cfg.Audio.SampleRate)
			fmt.Printf("buffer: %s\n", cfg.Audio.Buffer)

			fmt.Printf("\n[Input]\n")
			fmt.Printf("format: %s\n", cfg.Input.Format)
			fmt.Printf("device: %s\n", cfg.Input.Device)
			if len(cfg.Input.Ports) > 0 {
				fmt.Printf("ports: %s\n", strings.Join(cfg.Input.Ports, ", "))
			}

			fmt.Printf("\n[Player]\n")
			fmt.Printf("auto_destroy: %t\n", cfg.Player.AutoDestroy)
			fmt.Printf("category: %s\n", cfg.Player.Category)

			fmt.Printf("\n[Recorder]\n")
			fmt.Printf("sample_rate: %d, channels: %d, bitrate: %s\n",
				cfg.Recorder.SampleRate, cfg.Recorder.Channels, humanize.SI(float64(cfg.Recorder.Bitrate), "bps"))
			fmt.Printf("quality: %s\n", cfg.Recorder.Quality)
			fmt.Printf("auto_destroy: %t\n", cfg.Recorder.AutoDestroy)

			fmt.Printf("\n[Output]\n")
			fmt.Printf("media_directory: %s\n", cfg.Output.MediaDirectory)
			fmt.Printf("recordings_directory: %s\n", cfg.Output.RecordingsDirectory)
			return nil
		})
	},
}
