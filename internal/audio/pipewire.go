package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/lo"
)

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PipeWire lists and links PipeWire/JACK ports through pw-link.
type PipeWire struct {
	run commandRunner
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{run: runCommand}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	output, err := pw.run(ctx, "pw-link", "-io")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	lines := lo.Map(strings.Split(output, "\n"), func(line string, _ int) string {
		return strings.TrimSpace(line)
	})
	return lo.Filter(lines, func(line string, _ int) bool {
		return line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:")
	})
}

// ValidatePort checks that a port exists exactly once.
func (pw *PipeWire) ValidatePort(ctx context.Context, portName string) error {
	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, ports []string) error {
	switch n := lo.Count(ports, portName); {
	case n == 0:
		return fmt.Errorf("port not found: %s", portName)
	case n > 1:
		return fmt.Errorf("duplicate sources detected for '%s' (%d ports). Please close conflicting applications", portName, n)
	}
	return nil
}

// ConnectPortsWithRetry links sourcePort to destPort, waiting for either to
// appear. Application ports get a longer grace period than hardware ports.
func (pw *PipeWire) ConnectPortsWithRetry(ctx context.Context, sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, 500*time.Millisecond
	if isEphemeralPort(sourcePort) {
		maxRetries, retryDelay = 15, time.Second
	}
	slog.Debug("Connecting ports", "source", sourcePort, "dest", destPort, "retries", maxRetries)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ports, err := pw.ListPorts(ctx)
		if err == nil && lo.Contains(ports, sourcePort) && lo.Contains(ports, destPort) {
			_, err = pw.run(ctx, "pw-link", sourcePort, destPort)
			if err == nil {
				slog.Debug("Successfully connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
				return nil
			}
			slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)
		} else {
			slog.Debug("Ports not yet available", "source", sourcePort, "dest", destPort, "attempt", attempt)
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

var ephemeralApps = []string{
	"chrome", "firefox", "spotify", "discord", "steam",
	"vlc", "mpv", "zoom", "teams", "slack", "wire",
}

// isEphemeralPort reports whether a port belongs to an application that may
// come and go, as opposed to a hardware device.
func isEphemeralPort(portName string) bool {
	lowerPort := strings.ToLower(portName)
	return lo.SomeBy(ephemeralApps, func(app string) bool {
		return strings.Contains(lowerPort, app)
	})
}
