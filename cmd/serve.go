package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/audiolibrelab/mediakit/internal/server"
	"github.com/audiolibrelab/mediakit/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the MediaKit web server to control playback and recording over HTTP.
This allows you to control a session from your smartphone or any device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = strconv.Itoa(cfg.Server.Port)
		}

		return withService(func(ctx context.Context, svc *service.Service) error {
			srv := server.New(svc, cfgFile, port)

			slog.Info("MediaKit web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

			// Start server (this blocks until Ctrl+C)
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from server.port)")
}
