package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

var pulseInput = config.InputConfig{Format: "pulse", Device: "default"}

func aacOptions() engine.RecorderOptions {
	return engine.RecorderOptions{
		Bitrate:     128000,
		Channels:    2,
		SampleRate:  44100,
		Format:      "aac",
		Encoder:     "aac",
		Quality:     "medium",
		AutoDestroy: true,
	}
}

func TestBuildArgs(t *testing.T) {
	args, err := buildArgs(pulseInput, "/rec/take.aac", aacOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin",
		"-f", "pulse", "-i", "default",
		"-ac", "2", "-ar", "44100",
		"-c:a", "aac", "-b:a", "128000",
		"-f", "adts", "-y", "/rec/take.aac",
	}, args)
}

func TestBuildArgs_Variants(t *testing.T) {
	jack := config.InputConfig{Format: "jack", Device: "mediakit"}

	opts := aacOptions()
	opts.Format, opts.Encoder, opts.Quality = "ogg", "vorbis", "high"
	opts.Channels = 1
	args, err := buildArgs(jack, "/rec/take.ogg", opts)
	require.NoError(t, err)
	assert.Subset(t, args, []string{"-channels", "1", "-c:a", "libvorbis", "-q:a", "6"})
	assert.NotContains(t, args, "-b:a")

	opts = aacOptions()
	opts.Format, opts.Encoder = "wav", "pcm"
	opts.MeteringInterval = 100 * time.Millisecond
	args, err = buildArgs(pulseInput, "/rec/take.wav", opts)
	require.NoError(t, err)
	assert.Contains(t, args, "pcm_s16le")
	assert.Contains(t, args, "-af")
	assert.NotContains(t, args, "-b:a")

	opts = aacOptions()
	opts.Encoder = "libfdk_aac"
	args, err = buildArgs(pulseInput, "/rec/take.aac", opts)
	require.NoError(t, err)
	assert.Contains(t, args, "libfdk_aac")

	opts = aacOptions()
	opts.Format = "mp3"
	_, err = buildArgs(pulseInput, "/rec/take.mp3", opts)
	assert.Error(t, err)
}

func TestParseMeterLine(t *testing.T) {
	level, ok := parseMeterLine("[Parsed_ametadata_1 @ 0x5555] lavfi.astats.Overall.RMS_level=-23.5")
	require.True(t, ok)
	assert.InDelta(t, -23.5, level, 1e-9)

	level, ok = parseMeterLine("lavfi.astats.Overall.RMS_level=-inf")
	require.True(t, ok)
	assert.True(t, math.IsInf(level, -1))

	_, ok = parseMeterLine("size=     256kB time=00:00:16.00 bitrate= 131.1kbits/s")
	assert.False(t, ok)
}

func TestCheckExit(t *testing.T) {
	assert.NoError(t, checkExit(nil))
	assert.Error(t, checkExit(errors.New("boom")))
}

func TestValidateOutputFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := validateOutputFile(fs, "/rec/missing.aac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, afero.WriteFile(fs, "/rec/short.aac", make([]byte, 10), 0644))
	err = validateOutputFile(fs, "/rec/short.aac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")

	require.NoError(t, afero.WriteFile(fs, "/rec/take.aac", make([]byte, 4096), 0644))
	assert.NoError(t, validateOutputFile(fs, "/rec/take.aac"))
}

func TestFFmpegRecorder_Prepare(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewFFmpegRecorder(engine.NewBus(), fs, "/recordings", pulseInput)
	require.NoError(t, afero.WriteFile(fs, "/recordings/session/take.aac", []byte("old take"), 0644))

	fsPath, err := r.Prepare(context.Background(), 1, "session/take.aac", aacOptions())
	require.NoError(t, err)
	assert.Equal(t, "/recordings/session/take.aac", fsPath)

	data, err := afero.ReadFile(fs, fsPath)
	require.NoError(t, err)
	assert.Empty(t, data)

	fsPath, err = r.Prepare(context.Background(), 2, "/elsewhere/take.aac", aacOptions())
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/take.aac", fsPath)

	_, err = r.Prepare(context.Background(), 3, "", aacOptions())
	assert.True(t, errors.Is(err, media.ErrNoPath))
}

func TestFFmpegRecorder_Prepare_ReadOnly(t *testing.T) {
	r := NewFFmpegRecorder(engine.NewBus(), afero.NewReadOnlyFs(afero.NewMemMapFs()), "/recordings", pulseInput)
	_, err := r.Prepare(context.Background(), 1, "take.aac", aacOptions())
	assert.True(t, errors.Is(err, media.ErrInvalidPath))
}

func TestFFmpegRecorder_UnknownHandle(t *testing.T) {
	r := NewFFmpegRecorder(engine.NewBus(), afero.NewMemMapFs(), "/recordings", pulseInput)
	ctx := context.Background()

	assert.True(t, errors.Is(r.Record(ctx, 9), media.ErrNotFound))
	assert.True(t, errors.Is(r.Stop(ctx, 9), media.ErrNotFound))
	assert.True(t, errors.Is(r.Pause(ctx, 9), media.ErrNotFound))
	assert.NoError(t, r.Destroy(ctx, 9))
}

func TestFFmpegRecorder_PauseNotSupported(t *testing.T) {
	r := NewFFmpegRecorder(engine.NewBus(), afero.NewMemMapFs(), "/recordings", pulseInput)
	ctx := context.Background()
	_, err := r.Prepare(ctx, 1, "take.aac", aacOptions())
	require.NoError(t, err)

	assert.True(t, errors.Is(r.Pause(ctx, 1), media.ErrNotSupported))
}

func TestFFmpegRecorder_StopWithoutRecording(t *testing.T) {
	r := NewFFmpegRecorder(engine.NewBus(), afero.NewMemMapFs(), "/recordings", pulseInput)
	ctx := context.Background()
	_, err := r.Prepare(ctx, 1, "take.aac", aacOptions())
	require.NoError(t, err)

	assert.True(t, errors.Is(r.Stop(ctx, 1), media.ErrStopFail))
}

func TestFFmpegRecorder_MissingBinary(t *testing.T) {
	r := NewFFmpegRecorder(engine.NewBus(), afero.NewMemMapFs(), "/recordings", pulseInput)
	r.Binary = filepath.Join(t.TempDir(), "no-ffmpeg")
	ctx := context.Background()
	_, err := r.Prepare(ctx, 1, "take.aac", aacOptions())
	require.NoError(t, err)

	assert.True(t, errors.Is(r.Record(ctx, 1), media.ErrStartFail))
}

// fakeFFmpeg writes a script standing in for ffmpeg: it fills the output
// file (its last argument) and then runs body.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := "#!/bin/sh\nfor last; do :; done\nhead -c 4096 /dev/zero > \"$last\"\n" + body + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

type eventLog struct {
	mu     sync.Mutex
	events []media.Event
}

func (l *eventLog) handle(e media.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []media.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]media.Event(nil), l.events...)
}

func TestFFmpegRecorder_RecordAndStop(t *testing.T) {
	bus := engine.NewBus()
	var log eventLog
	_, err := bus.Subscribe(1, log.handle)
	require.NoError(t, err)

	dir := t.TempDir()
	r := NewFFmpegRecorder(bus, afero.NewOsFs(), dir, pulseInput)
	r.Binary = fakeFFmpeg(t, "trap 'exit 255' INT\nwhile true; do sleep 0.05; done")
	ctx := context.Background()

	fsPath, err := r.Prepare(ctx, 1, "take.aac", aacOptions())
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, 1))

	assert.Eventually(t, func() bool {
		info, err := os.Stat(fsPath)
		return err == nil && info.Size() == 4096
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop(ctx, 1))
	assert.Empty(t, log.snapshot(), "a requested stop raises no event")

	// auto-destroy released the handle
	assert.True(t, errors.Is(r.Stop(ctx, 1), media.ErrNotFound))
}

func TestFFmpegRecorder_UnexpectedExit(t *testing.T) {
	bus := engine.NewBus()
	var log eventLog
	_, err := bus.Subscribe(1, log.handle)
	require.NoError(t, err)

	r := NewFFmpegRecorder(bus, afero.NewOsFs(), t.TempDir(), pulseInput)
	r.Binary = fakeFFmpeg(t, "exit 1")
	ctx := context.Background()

	_, err = r.Prepare(ctx, 1, "take.aac", aacOptions())
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, 1))

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev, ok := log.snapshot()[0].(media.ErrorEvent)
	require.True(t, ok)
	assert.True(t, errors.Is(ev.Err, media.ErrStartFail))

	require.NoError(t, r.Destroy(ctx, 1))
}
