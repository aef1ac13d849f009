package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	backend      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "mediakit",
	Short: "Play and record audio from the command line",
	Long: `MediaKit plays local audio files and records from PulseAudio, ALSA or
JACK/PipeWire inputs through ffmpeg.

Sessions can be driven from the terminal or remotely through the web server
started by 'mediakit serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// For sources command, only load config if explicitly provided
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/mediakit/config.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if backend != "" {
			cfg.Audio.Backend = backend
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid --backend: %w", err)
			}
		}
		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile, "backend", cfg.Audio.Backend)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mediakit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "audio backend: auto, native or memory (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug with ffmpeg output, 3=also PipeWire tracing")

	// Add subcommands
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// pw-link inherits this
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withService runs fn with a service for the loaded configuration and
// closes it afterwards.
func withService(fn func(ctx context.Context, svc *service.Service) error) error {
	ctx, stop := signalContext()
	defer stop()

	svc := service.New(cfg)
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			slog.Warn("Failed to close service", "error", err)
		}
	}()
	return fn(ctx, svc)
}
