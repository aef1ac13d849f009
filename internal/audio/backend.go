package audio

import (
	"context"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/engine"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	// BackendTypeNative plays through the speaker and records with ffmpeg.
	BackendTypeNative BackendType = "native"
	// BackendTypeMemory simulates both engines in memory. Nothing is played
	// or written to disk.
	BackendTypeMemory BackendType = "memory"
)

// Engines is the pair of native engines one runtime drives.
type Engines struct {
	Type     BackendType
	Player   engine.PlayerEngine
	Recorder engine.RecorderEngine
	// Fs is the filesystem both engines read and write.
	Fs afero.Fs
}

// NewEngines creates the engines selected by the configuration. Both publish
// their events through emitter.
func NewEngines(cfg *config.Config, emitter engine.Emitter) Engines {
	switch determineBackend(cfg) {
	case BackendTypeMemory:
		fs := afero.NewMemMapFs()
		return Engines{
			Type:     BackendTypeMemory,
			Player:   engine.NewFakePlayer(emitter),
			Recorder: engine.NewFakeRecorder(emitter, fs, cfg.Output.RecordingsDirectory),
			Fs:       fs,
		}
	default:
		fs := afero.NewOsFs()
		player := NewSpeakerPlayer(emitter, fs, cfg.Output.MediaDirectory, cfg.Audio)
		player.Transcoder = NewTranscoder(fs, defaultCacheDir())
		return Engines{
			Type:     BackendTypeNative,
			Player:   player,
			Recorder: NewFFmpegRecorder(emitter, fs, cfg.Output.RecordingsDirectory, cfg.Input),
			Fs:       fs,
		}
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case string(BackendTypeMemory):
		return BackendTypeMemory
	default:
		// "auto" and "native" both mean the real devices
		return BackendTypeNative
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeNative, BackendTypeMemory}
}

// ListSources returns available PipeWire/JACK ports
func ListSources(ctx context.Context) ([]string, error) {
	return NewPipeWire().ListPorts(ctx)
}

// ValidateSource validates a PipeWire/JACK port
func ValidateSource(ctx context.Context, source string) error {
	return NewPipeWire().ValidatePort(ctx, source)
}
