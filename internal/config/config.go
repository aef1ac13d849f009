package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/mediakit/internal/player"
	"github.com/audiolibrelab/mediakit/internal/recorder"
)

// Backend names accepted in audio.backend.
const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendMemory = "memory"
)

var backends = []string{BackendAuto, BackendNative, BackendMemory}

type GlobalsConfig struct {
	MediaDirectory      string `mapstructure:"media_directory" yaml:"media_directory"`
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]map[string]any `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Input    InputConfig      `mapstructure:"input" yaml:"input"`
	Player   player.Options   `mapstructure:"player" yaml:"player"`
	Recorder recorder.Options `mapstructure:"recorder" yaml:"recorder"`
	Output   OutputConfig     `mapstructure:"output" yaml:"output"`
	Server   ServerConfig     `mapstructure:"server" yaml:"server"`

	// Profile is the name of the profile this configuration was loaded from.
	Profile string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"` // "auto", "native", "memory"
	SampleRate int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Buffer     time.Duration `mapstructure:"buffer" yaml:"buffer"`
}

// InputConfig describes the capture source handed to ffmpeg.
type InputConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // ffmpeg input format: pulse, alsa, jack
	Device string `mapstructure:"device" yaml:"device"`
	// Ports lists PipeWire ports that must be present before recording starts.
	Ports []string `mapstructure:"ports" yaml:"ports"`
}

type OutputConfig struct {
	MediaDirectory      string `mapstructure:"media_directory" yaml:"media_directory"`
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Default returns the configuration every profile is layered on.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Audio: AudioConfig{
			Backend:    BackendAuto,
			SampleRate: 44100,
			Buffer:     100 * time.Millisecond,
		},
		Input: InputConfig{
			Format: "pulse",
			Device: "default",
		},
		Player:   player.DefaultOptions(),
		Recorder: recorder.DefaultOptions(),
		Output: OutputConfig{
			MediaDirectory:      filepath.Join(home, "Music"),
			RecordingsDirectory: filepath.Join(home, "Audio", "mediakit"),
		},
		Server: ServerConfig{Port: 8080},
	}
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MEDIAKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return v, nil
}

// ReadRoot parses the file without resolving a profile.
func ReadRoot(configFile string) (*RootConfig, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Environment overrides only reach keys read through viper.
	root.ActiveConfig = v.GetString("active_config")
	if media, recordings := v.GetString("globals.media_directory"), v.GetString("globals.recordings_directory"); media != "" || recordings != "" {
		if root.Globals == nil {
			root.Globals = &GlobalsConfig{}
		}
		root.Globals.MediaDirectory = lo.CoalesceOrEmpty(media, root.Globals.MediaDirectory)
		root.Globals.RecordingsDirectory = lo.CoalesceOrEmpty(recordings, root.Globals.RecordingsDirectory)
	}

	if len(root.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	return &root, nil
}

// ProfileNames returns the profiles defined in configFile, sorted.
func (r *RootConfig) ProfileNames() []string {
	names := lo.Keys(r.Configs)
	sort.Strings(names)
	return names
}

// LoadWithProfile resolves profile (or active_config, or "default") from
// configFile. Named profiles are layered over the "default" profile, and
// globals take precedence over both.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	root, err := ReadRoot(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := lo.CoalesceOrEmpty(profile, root.ActiveConfig, "default")
	selected, exists := root.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	cfg := Default()
	cfg.Profile = configName

	if configName != "default" {
		if base, ok := root.Configs["default"]; ok {
			if err := decodeProfile(base, cfg); err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
		}
	}
	if err := decodeProfile(selected, cfg); err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	if root.Globals != nil {
		cfg.Output.MediaDirectory = lo.CoalesceOrEmpty(root.Globals.MediaDirectory, cfg.Output.MediaDirectory)
		cfg.Output.RecordingsDirectory = lo.CoalesceOrEmpty(root.Globals.RecordingsDirectory, cfg.Output.RecordingsDirectory)
	}

	cfg.Output.MediaDirectory = expandPath(cfg.Output.MediaDirectory)
	cfg.Output.RecordingsDirectory = expandPath(cfg.Output.RecordingsDirectory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// decodeProfile overlays raw onto cfg. Keys absent from raw keep their
// current value.
func decodeProfile(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	root, err := ReadRoot(configFile)
	if err != nil {
		return err
	}
	if _, ok := root.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found, available: %s",
			newActiveConfig, strings.Join(root.ProfileNames(), ", "))
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if !lo.Contains(backends, c.Audio.Backend) {
		return fmt.Errorf("audio.backend must be one of %v, got: %s", backends, c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Buffer <= 0 {
		return fmt.Errorf("audio.buffer must be > 0, got: %s", c.Audio.Buffer)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	if c.Input.Format == "" {
		return fmt.Errorf("input.format is required")
	}
	for i, port := range c.Input.Ports {
		if !isValidAudioSource(port) {
			return fmt.Errorf("input.ports[%d] must be a valid audio source (JACK port), got: %s", i, port)
		}
	}

	if c.Output.RecordingsDirectory == "" {
		return fmt.Errorf("output.recordings_directory is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidAudioSource checks if a port name is valid for JACK/PipeWire
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	lastColonIndex := strings.LastIndex(source, ":")
	if lastColonIndex == -1 {
		// Device name without colon (not recommended for JACK/PipeWire)
		return true
	}

	deviceName := strings.TrimSpace(source[:lastColonIndex])
	portName := strings.TrimSpace(source[lastColonIndex+1:])
	return deviceName != "" && portName != ""
}
