package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

const (
	stopTimeout = 5 * time.Second
	// minRecordingSize is the smallest output accepted as a real recording.
	minRecordingSize = 1024
	meterKey         = "lavfi.astats.Overall.RMS_level="
)

var codecs = map[string]string{
	"aac":    "aac",
	"vorbis": "libvorbis",
	"opus":   "libopus",
	"amr_nb": "libopencore_amrnb",
	"pcm":    "pcm_s16le",
	"flac":   "flac",
}

var muxers = map[string]string{
	"aac":  "adts",
	"mp4":  "mp4",
	"ogg":  "ogg",
	"webm": "webm",
	"amr":  "amr",
	"wav":  "wav",
	"flac": "flac",
}

// vorbisQuality maps quality hints onto libvorbis -q:a.
var vorbisQuality = map[string]int{"min": 0, "low": 2, "medium": 4, "high": 6, "max": 8}

// recording is one native recorder handle.
type recording struct {
	fsPath string
	opts   engine.RecorderOptions
	args   []string

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	exitErr  error
	stopping bool
	stderr   strings.Builder
}

// FFmpegRecorder captures audio with an ffmpeg child process per handle.
type FFmpegRecorder struct {
	// Binary is the ffmpeg executable, "ffmpeg" by default.
	Binary string

	emitter  engine.Emitter
	fs       afero.Fs
	dir      string
	input    config.InputConfig
	pipewire *PipeWire

	mutex      sync.Mutex
	recordings map[engine.ID]*recording
}

var _ engine.RecorderEngine = (*FFmpegRecorder)(nil)

// NewFFmpegRecorder resolves relative destinations under dir on fs.
func NewFFmpegRecorder(emitter engine.Emitter, fs afero.Fs, dir string, input config.InputConfig) *FFmpegRecorder {
	return &FFmpegRecorder{
		Binary:     "ffmpeg",
		emitter:    emitter,
		fs:         fs,
		dir:        dir,
		input:      input,
		pipewire:   NewPipeWire(),
		recordings: make(map[engine.ID]*recording),
	}
}

func (r *FFmpegRecorder) lookup(op string, id engine.ID) (*recording, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	rec, ok := r.recordings[id]
	if !ok {
		return nil, media.Errorf(media.CodeNotFound, op, "no recorder with id %d", id)
	}
	return rec, nil
}

// Prepare creates the destination directory, wipes the destination file and
// builds the capture command.
func (r *FFmpegRecorder) Prepare(ctx context.Context, id engine.ID, path string, opts engine.RecorderOptions) (string, error) {
	if path == "" {
		return "", media.NewError(media.CodeNoPath, "prepare", nil)
	}

	fsPath := path
	if !filepath.IsAbs(fsPath) {
		fsPath = filepath.Join(r.dir, path)
	}

	if err := r.fs.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return "", media.NewError(media.CodeInvalidPath, "prepare", fmt.Errorf("failed to create output directory: %w", err))
	}
	if err := afero.WriteFile(r.fs, fsPath, nil, 0644); err != nil {
		return "", media.NewError(media.CodeInvalidPath, "prepare", fmt.Errorf("failed to wipe %s: %w", fsPath, err))
	}

	args, err := buildArgs(r.input, fsPath, opts)
	if err != nil {
		return "", media.NewError(media.CodePrepareFail, "prepare", err)
	}

	r.mutex.Lock()
	if old, ok := r.recordings[id]; ok {
		r.mutex.Unlock()
		r.kill(old)
		r.mutex.Lock()
	}
	r.recordings[id] = &recording{fsPath: fsPath, opts: opts, args: args}
	r.mutex.Unlock()

	slog.Debug("FFmpeg recorder prepared", "recorder_id", id, "output", fsPath)
	return fsPath, nil
}

// Record starts the capture process. Configured PipeWire ports must be
// present before it starts.
func (r *FFmpegRecorder) Record(ctx context.Context, id engine.ID) error {
	rec, err := r.lookup("record", id)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	running := rec.cmd != nil
	r.mutex.Unlock()
	if running {
		return nil
	}

	for _, port := range r.input.Ports {
		if err := r.pipewire.ValidatePort(ctx, port); err != nil {
			return media.NewError(media.CodeStartFail, "record", err)
		}
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, r.Binary, rec.args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return media.NewError(media.CodeStartFail, "record", fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	slog.Info("Starting FFmpeg", "command", r.Binary+" "+strings.Join(rec.args, " "))
	if err := cmd.Start(); err != nil {
		cancel()
		return media.NewError(media.CodeStartFail, "record", fmt.Errorf("failed to start FFmpeg: %w", err))
	}

	r.mutex.Lock()
	rec.cmd = cmd
	rec.cancel = cancel
	rec.done = make(chan struct{})
	rec.stopping = false
	r.mutex.Unlock()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		r.readOutput(id, rec, stderr)
	}()
	go r.wait(id, rec, cmd, readDone)

	if r.input.Format == "jack" && len(r.input.Ports) > 0 {
		go r.connectPorts(procCtx, id)
	}
	return nil
}

// connectPorts links the configured ports to the JACK client ffmpeg creates.
func (r *FFmpegRecorder) connectPorts(ctx context.Context, id engine.ID) {
	for i, source := range r.input.Ports {
		dest := fmt.Sprintf("%s:input_%d", r.input.Device, i+1)
		if err := r.pipewire.ConnectPortsWithRetry(ctx, source, dest); err != nil {
			slog.Error("Failed to connect source", "recorder_id", id, "source", source, "dest", dest, "error", err)
			r.emitter.Emit(id, media.InfoEvent{Message: "port connection failed", Data: map[string]any{"source": source, "dest": dest}})
		}
	}
}

// readOutput buffers ffmpeg's log and turns metering lines into events.
func (r *FFmpegRecorder) readOutput(id engine.ID, rec *recording, pipe io.ReadCloser) {
	defer pipe.Close()

	var lastMeter time.Time
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if level, ok := parseMeterLine(line); ok {
			if rec.opts.MeteringInterval > 0 && time.Since(lastMeter) >= rec.opts.MeteringInterval {
				lastMeter = time.Now()
				r.emitter.Emit(id, media.MeterEvent{Level: level, Raw: math.Pow(10, level/20)})
			}
			continue
		}

		r.mutex.Lock()
		rec.stderr.WriteString(line + "\n")
		r.mutex.Unlock()
		slog.Debug("FFmpeg output", "recorder_id", id, "line", line)
	}
}

// wait reaps the process once its output is drained. An exit nobody asked
// for is reported as an event.
func (r *FFmpegRecorder) wait(id engine.ID, rec *recording, cmd *exec.Cmd, readDone <-chan struct{}) {
	<-readDone
	err := cmd.Wait()

	r.mutex.Lock()
	rec.exitErr = err
	stopping := rec.stopping
	rec.cmd = nil
	output := rec.stderr.String()
	r.mutex.Unlock()
	rec.cancel()
	close(rec.done)

	if stopping {
		return
	}

	if err != nil {
		slog.Warn("FFmpeg exited unexpectedly", "recorder_id", id, "error", err, "output", output)
		r.emitter.Emit(id, media.ErrorEvent{Err: media.NewError(media.CodeStartFail, "record", fmt.Errorf("FFmpeg process failed: %w", err))})
		return
	}
	slog.Info("FFmpeg input ended", "recorder_id", id)
	r.emitter.Emit(id, media.EndedEvent{})
}

// Pause is not supported: ffmpeg cannot suspend a capture.
func (r *FFmpegRecorder) Pause(ctx context.Context, id engine.ID) error {
	if _, err := r.lookup("pause", id); err != nil {
		return err
	}
	return media.Errorf(media.CodeNotSupported, "pause", "ffmpeg recorder cannot pause")
}

// Stop interrupts ffmpeg so it finalizes the container, then validates the
// output file.
func (r *FFmpegRecorder) Stop(ctx context.Context, id engine.ID) error {
	rec, err := r.lookup("stop", id)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	cmd := rec.cmd
	done := rec.done
	rec.stopping = true
	r.mutex.Unlock()
	if cmd == nil {
		return media.Errorf(media.CodeStopFail, "stop", "no recording in progress")
	}

	slog.Debug("Sending SIGINT to FFmpeg process", "recorder_id", id)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, killing", "error", err)
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing", "recorder_id", id)
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return media.NewError(media.CodeStopFail, "stop", ctx.Err())
	}

	r.mutex.Lock()
	exitErr := rec.exitErr
	output := rec.stderr.String()
	r.mutex.Unlock()

	if err := checkExit(exitErr); err != nil {
		slog.Debug("FFmpeg stderr", "output", output)
		return media.NewError(media.CodeStopFail, "stop", err)
	}
	if err := validateOutputFile(r.fs, rec.fsPath); err != nil {
		return media.NewError(media.CodeStopFail, "stop", err)
	}

	if rec.opts.AutoDestroy {
		r.release(id)
	}
	slog.Debug("FFmpeg recording completed successfully", "recorder_id", id, "output", rec.fsPath)
	return nil
}

// Destroy kills any running capture and forgets the handle. The output file
// is left in place.
func (r *FFmpegRecorder) Destroy(ctx context.Context, id engine.ID) error {
	r.mutex.Lock()
	rec, ok := r.recordings[id]
	r.mutex.Unlock()
	if !ok {
		return nil
	}
	r.kill(rec)
	r.release(id)
	return nil
}

func (r *FFmpegRecorder) release(id engine.ID) {
	r.mutex.Lock()
	delete(r.recordings, id)
	r.mutex.Unlock()
}

func (r *FFmpegRecorder) kill(rec *recording) {
	r.mutex.Lock()
	cmd := rec.cmd
	done := rec.done
	rec.stopping = true
	r.mutex.Unlock()

	if cmd != nil {
		_ = cmd.Process.Kill()
		<-done
	}
}

// checkExit treats the exit codes ffmpeg uses after an interrupt as success.
func checkExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Exit code 255 often means the process was interrupted gracefully
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			switch exitErr.ProcessState.String() {
			case "signal: interrupt", "signal: killed":
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}

// validateOutputFile validates the created output file
func validateOutputFile(fs afero.Fs, path string) error {
	fileInfo, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", path)
	}
	if fileInfo.Size() < minRecordingSize {
		return fmt.Errorf("recording failed: file too small (%d bytes)", fileInfo.Size())
	}
	slog.Debug("Output file validated", "path", path, "size", fileInfo.Size())
	return nil
}

// buildArgs constructs the ffmpeg command line for one recording.
func buildArgs(input config.InputConfig, fsPath string, opts engine.RecorderOptions) ([]string, error) {
	muxer, ok := muxers[opts.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format: %s", opts.Format)
	}
	codec, ok := codecs[opts.Encoder]
	if !ok {
		// Anything else is taken as an ffmpeg encoder name.
		codec = opts.Encoder
	}

	args := []string{"-hide_banner", "-nostdin", "-f", input.Format}
	if input.Format == "jack" {
		args = append(args, "-channels", strconv.Itoa(opts.Channels))
	}
	args = append(args,
		"-i", input.Device,
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
		"-c:a", codec,
	)

	switch opts.Encoder {
	case "pcm", "flac":
		// lossless, bitrate does not apply
	case "vorbis":
		args = append(args, "-q:a", strconv.Itoa(vorbisQuality[opts.Quality]))
	default:
		args = append(args, "-b:a", strconv.Itoa(opts.Bitrate))
	}

	if opts.MeteringInterval > 0 {
		args = append(args, "-af", "astats=metadata=1:reset=1,ametadata=mode=print:key=lavfi.astats.Overall.RMS_level")
	}

	return append(args, "-f", muxer, "-y", fsPath), nil
}

// parseMeterLine extracts the RMS level from an ametadata log line.
func parseMeterLine(line string) (float64, bool) {
	i := strings.Index(line, meterKey)
	if i < 0 {
		return 0, false
	}
	// ffmpeg prints -inf for silence, which ParseFloat accepts.
	level, err := strconv.ParseFloat(strings.TrimSpace(line[i+len(meterKey):]), 64)
	if err != nil {
		return 0, false
	}
	return level, true
}
