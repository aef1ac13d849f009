package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/mediakit/internal/player"
	"github.com/audiolibrelab/mediakit/internal/recorder"
)

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediakit-test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const profilesConfig = `
active_config: studio
globals:
    recordings_directory: /global/recordings
configs:
    default:
        audio:
            sample_rate: 48000
        input:
            format: pulse
            device: default
        recorder:
            bitrate: 96000
            channels: 1
        output:
            media_directory: /default/media
            recordings_directory: /default/recordings
    studio:
        input:
            format: jack
            device: mediakit
            ports: ["system:capture_1", "system:capture_2"]
        player:
            auto_destroy: false
            category: ambient
        recorder:
            quality: high
            metering_interval: 250ms
        server:
            port: 9090
`

func TestLoadWithProfile_ActiveConfig(t *testing.T) {
	cfg, err := LoadWithProfile(createTempConfig(t, profilesConfig), "")
	require.NoError(t, err)

	assert.Equal(t, "studio", cfg.Profile)

	// Profile values
	assert.Equal(t, "jack", cfg.Input.Format)
	assert.Equal(t, "mediakit", cfg.Input.Device)
	assert.Equal(t, []string{"system:capture_1", "system:capture_2"}, cfg.Input.Ports)
	assert.False(t, cfg.Player.AutoDestroy)
	assert.Equal(t, player.CategoryAmbient, cfg.Player.Category)
	assert.Equal(t, recorder.QualityHigh, cfg.Recorder.Quality)
	assert.Equal(t, 250*time.Millisecond, cfg.Recorder.MeteringInterval)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Inherited from the default profile
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 96000, cfg.Recorder.Bitrate)
	assert.Equal(t, 1, cfg.Recorder.Channels)
	assert.Equal(t, "/default/media", cfg.Output.MediaDirectory)

	// Built-in defaults
	assert.Equal(t, BackendAuto, cfg.Audio.Backend)
	assert.Equal(t, 44100, cfg.Recorder.SampleRate)
	assert.True(t, cfg.Recorder.AutoDestroy)

	// Globals win over every profile
	assert.Equal(t, "/global/recordings", cfg.Output.RecordingsDirectory)
}

func TestLoadWithProfile_ExplicitProfile(t *testing.T) {
	cfg, err := LoadWithProfile(createTempConfig(t, profilesConfig), "default")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, "pulse", cfg.Input.Format)
	assert.Empty(t, cfg.Input.Ports)
	assert.True(t, cfg.Player.AutoDestroy)
	assert.Equal(t, player.CategoryPlayback, cfg.Player.Category)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	_, err := LoadWithProfile(createTempConfig(t, profilesConfig), "live")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration profile 'live' not found")
}

func TestLoadWithProfile_NoFile(t *testing.T) {
	_, err := LoadWithProfile("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config")

	_, err = LoadWithProfile(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestLoadWithProfile_FallsBackToDefault(t *testing.T) {
	content := `
configs:
    default:
        server:
            port: 7000
`
	cfg, err := LoadWithProfile(createTempConfig(t, content), "")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadWithProfile_EnvOverridesActiveConfig(t *testing.T) {
	t.Setenv("MEDIAKIT_ACTIVE_CONFIG", "default")
	t.Setenv("MEDIAKIT_GLOBALS_MEDIA_DIRECTORY", "/env/media")

	cfg, err := LoadWithProfile(createTempConfig(t, profilesConfig), "")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, "/env/media", cfg.Output.MediaDirectory)
	assert.Equal(t, "/global/recordings", cfg.Output.RecordingsDirectory)
}

func TestLoadWithProfile_ExpandsHome(t *testing.T) {
	content := `
configs:
    default:
        output:
            media_directory: ~/Music/loops
`
	cfg, err := LoadWithProfile(createTempConfig(t, content), "")
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "Music", "loops"), cfg.Output.MediaDirectory)
}

func TestLoadWithProfile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		wantErr string
	}{
		{
			name: "unknown key",
			profile: `
        recorder:
            bitrat: 1`,
			wantErr: "bitrat",
		},
		{
			name: "bad backend",
			profile: `
        audio:
            backend: coreaudio`,
			wantErr: "audio.backend",
		},
		{
			name: "bad category",
			profile: `
        player:
            category: loud`,
			wantErr: "player: category",
		},
		{
			name: "bad channels",
			profile: `
        recorder:
            channels: 6`,
			wantErr: "recorder: channels",
		},
		{
			name: "bad port",
			profile: `
        input:
            ports: ["system:capture_1", ":capture_2"]`,
			wantErr: "input.ports[1]",
		},
		{
			name: "empty input format",
			profile: `
        input:
            format: ""`,
			wantErr: "input.format",
		},
		{
			name: "server port",
			profile: `
        server:
            port: 70000`,
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "configs:\n    default:" + tt.profile + "\n"
			_, err := LoadWithProfile(createTempConfig(t, content), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadRoot_EmptyConfigs(t *testing.T) {
	_, err := ReadRoot(createTempConfig(t, "active_config: default\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configs section is required")
}

func TestProfileNames(t *testing.T) {
	root, err := ReadRoot(createTempConfig(t, profilesConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "studio"}, root.ProfileNames())
	assert.Equal(t, "studio", root.ActiveConfig)
}

func TestUpdateActiveConfig(t *testing.T) {
	path := createTempConfig(t, profilesConfig)

	require.NoError(t, UpdateActiveConfig(path, "default"))
	root, err := ReadRoot(path)
	require.NoError(t, err)
	assert.Equal(t, "default", root.ActiveConfig)

	err = UpdateActiveConfig(path, "live")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: default, studio")

	assert.Error(t, UpdateActiveConfig("", "default"))
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	assert.Equal(t, filepath.Join(home, "Audio"), expandPath("~/Audio"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "relative", expandPath("relative"))
}

func TestIsValidAudioSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"system:capture_1", true},
		{"alsa_input.usb-Focusrite:capture_FL", true},
		{"Built-in Audio Analog Stereo:monitor_FL", true},
		{"device", true},
		{"", false},
		{"   ", false},
		{":capture_1", false},
		{"system:", false},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidAudioSource(tt.source))
		})
	}
}
