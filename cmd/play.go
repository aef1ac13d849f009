package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/mediakit/internal/media"
	"github.com/audiolibrelab/mediakit/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play an audio file",
	Long: `Play an mp3, wav or flac file through the default output device.
Relative paths are resolved against output.media_directory.

Playback runs until the end of the file, or until Ctrl+C with --loop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, _ := cmd.Flags().GetBool("loop")
		volume, _ := cmd.Flags().GetFloat64("volume")
		speed, _ := cmd.Flags().GetFloat64("speed")
		start, _ := cmd.Flags().GetDuration("start")

		return withService(func(ctx context.Context, svc *service.Service) error {
			p, err := svc.LoadPlayer(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", args[0], err)
			}

			if err := svc.SetVolume(volume); err != nil {
				return err
			}
			if err := svc.SetSpeed(speed); err != nil {
				return err
			}
			if err := svc.SetLooping(loop); err != nil {
				return err
			}

			sub := p.Subscribe()
			defer p.Unsubscribe(sub)

			if start > 0 {
				if _, err := svc.Seek(ctx, start); err != nil {
					return fmt.Errorf("failed to seek to %s: %w", start, err)
				}
			}
			if err := svc.Play(ctx); err != nil {
				return fmt.Errorf("playback failed: %w", err)
			}

			fmt.Printf("Playing %s (%s)\n", args[0], formatPosition(p.Duration()))
			return waitForEnd(ctx, sub)
		})
	},
}

func waitForEnd(ctx context.Context, sub *media.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Playback interrupted")
			return nil
		case <-sub.Done:
			return nil
		case e := <-sub.Events:
			switch ev := e.(type) {
			case media.EndedEvent:
				slog.Info("Playback finished")
				return nil
			case media.LoopedEvent:
				slog.Debug("Looping")
			case media.ErrorEvent:
				return fmt.Errorf("playback failed: %w", ev.Err)
			}
		}
	}
}

func formatPosition(d time.Duration) string {
	if d == media.Unknown {
		return "unknown length"
	}
	return d.Round(time.Second).String()
}

func init() {
	playCmd.Flags().Bool("loop", false, "loop until interrupted")
	playCmd.Flags().Float64("volume", 1.0, "volume between 0 and 1")
	playCmd.Flags().Float64("speed", 1.0, "playback rate")
	playCmd.Flags().Duration("start", 0, "start position (e.g. 1m30s)")
}
