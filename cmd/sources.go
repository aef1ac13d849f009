package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/mediakit/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List all PipeWire/JACK output ports that can be used as input.ports
for recording with input.format: jack.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		sources, err := audio.ListSources(ctx)
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		fmt.Printf("📋 PIPEWIRE/JACK SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		// Only check configured ports when a config was loaded
		if cfg != nil && len(cfg.Input.Ports) > 0 {
			fmt.Printf("\n🔌 CONFIGURED PORTS (profile %s):\n", cfg.Profile)
			for _, port := range cfg.Input.Ports {
				if err := audio.ValidateSource(ctx, port); err != nil {
					slog.Debug("Port validation failed", "port", port, "error", err)
					fmt.Printf("  ✗ %s (%v)\n", port, err)
					continue
				}
				fmt.Printf("  ✓ %s\n", port)
			}
		}

		fmt.Printf("\n💡 PipeWire Usage:\n")
		fmt.Printf("  • Format: \"Device: Audio (hw:X,Y):Z\" or \"Application:port\"\n")
		fmt.Printf("  • Example: \"Scarlett 2i2 USB: Audio (hw:1,0):capture_FL\"\n")
		fmt.Printf("  • Configure in input.ports with input.format: jack\n\n")

		return nil
	},
}
