package audio

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// transcodable lists the extensions the recorder can produce but the
// speaker player cannot decode.
var transcodable = []string{".aac", ".m4a", ".mp4", ".ogg", ".opus", ".webm", ".amr", ".3gp"}

func canTranscode(path string) bool {
	return lo.Contains(transcodable, strings.ToLower(filepath.Ext(path)))
}

// Transcoder converts files to 16-bit WAV with ffmpeg so the speaker player
// can open them. Converted copies are cached and reused while they are newer
// than their source.
type Transcoder struct {
	Binary   string
	CacheDir string

	fs  afero.Fs
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTranscoder caches converted files under cacheDir on fs.
func NewTranscoder(fs afero.Fs, cacheDir string) *Transcoder {
	return &Transcoder{
		Binary:   "ffmpeg",
		CacheDir: cacheDir,
		fs:       fs,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mediakit")
}

func (t *Transcoder) cachePath(input string) string {
	sum := sha1.Sum([]byte(input))
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(t.CacheDir, base+"-"+hex.EncodeToString(sum[:6])+".wav")
}

// Transcode returns the path of a WAV copy of input at sampleRate.
func (t *Transcoder) Transcode(ctx context.Context, input string, sampleRate int) (string, error) {
	in, err := t.fs.Stat(input)
	if err != nil {
		return "", fmt.Errorf("input file not found: %s", input)
	}

	output := t.cachePath(input)
	if out, err := t.fs.Stat(output); err == nil && out.Size() > 0 && out.ModTime().After(in.ModTime()) {
		slog.Debug("Using cached transcode", "input", input, "output", output)
		return output, nil
	}

	if err := t.fs.MkdirAll(t.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	// Remove a stale or partial copy
	t.fs.Remove(output)

	args := []string{
		"-hide_banner", "-nostdin",
		"-i", input,
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-y", // Overwrite output file
		output,
	}
	slog.Debug("Running FFmpeg for transcoding", "command", t.Binary+" "+strings.Join(args, " "))

	if out, err := t.run(ctx, t.Binary, args...); err != nil {
		return "", fmt.Errorf("FFmpeg transcoding failed: %w\nOutput: %s", err, string(out))
	}

	// Verify output file was created
	if _, err := t.fs.Stat(output); err != nil {
		return "", fmt.Errorf("output file not created: %s", output)
	}

	slog.Info("Transcoded audio file", "input", input, "output", output)
	return output, nil
}
