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

var recordCmd = &cobra.Command{
	Use:   "record [file]",
	Short: "Record from the configured input",
	Long: `Record from the configured input with ffmpeg until Ctrl+C.
The container and encoder follow the file extension (aac, m4a, ogg, webm,
amr, wav, flac). Relative paths are resolved against
output.recordings_directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meter, _ := cmd.Flags().GetDuration("meter")
		if meter > 0 {
			cfg.Recorder.MeteringInterval = meter
		}
		slog.Info("Record command started", "file", args[0])

		return withService(func(ctx context.Context, svc *service.Service) error {
			fsPath, err := svc.StartRecording(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}

			r := svc.Recorder()
			sub := r.Subscribe()
			defer r.Unsubscribe(sub)

			slog.Info("Recording... Press Ctrl+C to stop", "output", fsPath)
			start := time.Now()

		wait:
			for {
				select {
				case <-ctx.Done():
					break wait
				case e := <-sub.Events:
					switch ev := e.(type) {
					case media.MeterEvent:
						fmt.Printf("\r%s  %6.1f dBFS", time.Since(start).Round(time.Second), ev.Level)
					case media.ErrorEvent:
						return fmt.Errorf("recording failed: %w", ev.Err)
					case media.EndedEvent:
						return fmt.Errorf("recording ended unexpectedly")
					}
				}
			}
			fmt.Println()

			slog.Info("Stopping recording...")
			// The signal context is already cancelled.
			stopped, err := svc.StopRecording(context.Background())
			if err != nil {
				return fmt.Errorf("failed to stop recording: %w", err)
			}

			st := svc.Status()
			fmt.Printf("Saved %s (%s, %s)\n", stopped, st.Recorder.SizeHuman, time.Since(start).Round(time.Second))
			return nil
		})
	},
}

func init() {
	recordCmd.Flags().Duration("meter", 0, "print the input level at this interval (e.g. 250ms)")
}
