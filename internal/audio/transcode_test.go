package audio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// fakeTranscoder writes a short WAV to the requested output instead of
// running ffmpeg.
func fakeTranscoder(t *testing.T, fs afero.Fs) (*Transcoder, *[][]string) {
	t.Helper()
	var calls [][]string
	tr := NewTranscoder(fs, "/cache")
	tr.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		writeSilence(t, fs, args[len(args)-1], 500*time.Millisecond)
		return nil, nil
	}
	return tr, &calls
}

func TestCanTranscode(t *testing.T) {
	assert.True(t, canTranscode("take.aac"))
	assert.True(t, canTranscode("/x/TAKE.OGG"))
	assert.True(t, canTranscode("a.webm"))
	assert.False(t, canTranscode("a.wav"))
	assert.False(t, canTranscode("a.mp3"))
	assert.False(t, canTranscode("noext"))
}

func TestTranscode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/rec/take.aac", []byte("aac"), 0644))
	require.NoError(t, fs.Chtimes("/rec/take.aac", time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	tr, calls := fakeTranscoder(t, fs)
	out, err := tr.Transcode(context.Background(), "/rec/take.aac", 44100)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "/cache/take-"))
	assert.True(t, strings.HasSuffix(out, ".wav"))
	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"ffmpeg", "-hide_banner", "-nostdin", "-i", "/rec/take.aac",
		"-ar", "44100", "-c:a", "pcm_s16le", "-f", "wav", "-y", out}, (*calls)[0])

	// The cached copy is newer than the source and is reused.
	again, err := tr.Transcode(context.Background(), "/rec/take.aac", 44100)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Len(t, *calls, 1)

	// Touching the source invalidates it.
	require.NoError(t, fs.Chtimes("/rec/take.aac", time.Now().Add(time.Hour), time.Now().Add(time.Hour)))
	_, err = tr.Transcode(context.Background(), "/rec/take.aac", 44100)
	require.NoError(t, err)
	assert.Len(t, *calls, 2)
}

func TestTranscodeCachePathsDiffer(t *testing.T) {
	tr := NewTranscoder(afero.NewMemMapFs(), "/cache")
	assert.NotEqual(t, tr.cachePath("/a/take.aac"), tr.cachePath("/b/take.aac"))
	assert.Equal(t, tr.cachePath("/a/take.aac"), tr.cachePath("/a/take.aac"))
}

func TestTranscodeErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := NewTranscoder(fs, "/cache")

	_, err := tr.Transcode(context.Background(), "/missing.aac", 44100)
	assert.ErrorContains(t, err, "input file not found")

	require.NoError(t, afero.WriteFile(fs, "/take.aac", []byte("aac"), 0644))
	tr.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}
	_, err = tr.Transcode(context.Background(), "/take.aac", 44100)
	assert.ErrorContains(t, err, "FFmpeg transcoding failed")
	assert.ErrorContains(t, err, "Invalid data found")

	tr.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	}
	_, err = tr.Transcode(context.Background(), "/take.aac", 44100)
	assert.ErrorContains(t, err, "output file not created")
}

func TestSpeakerPlayerPreparesTranscodedFile(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/media/take.ogg", []byte("ogg"), 0644))

	tr, calls := fakeTranscoder(t, f.fs)
	f.player.Transcoder = tr

	info, err := f.player.Prepare(context.Background(), 1, "take.ogg", autoDestroy(false))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, info.Duration)
	assert.Len(t, *calls, 1)
}

func TestSpeakerPlayerTranscodeFailure(t *testing.T) {
	f := newPlayerFixture(t)
	tr := NewTranscoder(f.fs, "/cache")
	f.player.Transcoder = tr

	_, err := f.player.Prepare(context.Background(), 1, "missing.aac", autoDestroy(false))
	assert.ErrorIs(t, err, media.ErrPrepareFail)
}
