package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

const resampleQuality = 4

// sink receives the mixed output.
type sink interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type speakerSink struct{}

func (speakerSink) Init(sr beep.SampleRate, n int) error { return speaker.Init(sr, n) }
func (speakerSink) Play(s beep.Streamer)                { speaker.Play(s) }
func (speakerSink) Lock()                               { speaker.Lock() }
func (speakerSink) Unlock()                             { speaker.Unlock() }

type track struct {
	opts     engine.PlayerOptions
	file     afero.File
	streamer beep.StreamSeekCloser
	format   beep.Format

	resampler *beep.Resampler
	pan       *effects.Pan
	volume    *effects.Volume
	ctrl      *beep.Ctrl

	// queued is set while the track's sequence is in the mixer. token
	// identifies the current sequence so stale completions are ignored.
	queued bool
	token  uint64

	level   float64
	speed   float64
	pitch   float64
	looping bool
	seekGen uint64
}

// SpeakerPlayer plays local files through one shared speaker mixer.
type SpeakerPlayer struct {
	emitter    engine.Emitter
	fs         afero.Fs
	mediaDir   string
	sampleRate beep.SampleRate
	buffer     time.Duration
	sink       sink

	// settle is how long a seek keeps the track muted. A newer seek that
	// arrives meanwhile supersedes it.
	settle time.Duration

	// Transcoder, when set, converts formats decode does not handle.
	Transcoder *Transcoder

	initOnce sync.Once
	initErr  error
	mixer    *beep.Mixer

	mutex  sync.Mutex
	tracks map[engine.ID]*track
}

var _ engine.PlayerEngine = (*SpeakerPlayer)(nil)

// NewSpeakerPlayer resolves relative paths under mediaDir on fs.
func NewSpeakerPlayer(emitter engine.Emitter, fs afero.Fs, mediaDir string, cfg config.AudioConfig) *SpeakerPlayer {
	return &SpeakerPlayer{
		emitter:    emitter,
		fs:         fs,
		mediaDir:   mediaDir,
		sampleRate: beep.SampleRate(cfg.SampleRate),
		buffer:     cfg.Buffer,
		sink:       speakerSink{},
		settle:     100 * time.Millisecond,
		mixer:      &beep.Mixer{},
		tracks:     make(map[engine.ID]*track),
	}
}

// ensureOutput opens the sound card on first use.
func (p *SpeakerPlayer) ensureOutput() error {
	p.initOnce.Do(func() {
		if err := p.sink.Init(p.sampleRate, p.sampleRate.N(p.buffer)); err != nil {
			p.initErr = fmt.Errorf("failed to initialize speaker: %w", err)
			return
		}
		p.sink.Play(p.mixer)
		slog.Debug("Speaker initialized", "sample_rate", p.sampleRate, "buffer", p.buffer)
	})
	return p.initErr
}

func (p *SpeakerPlayer) lookup(op string, id engine.ID) (*track, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	t, ok := p.tracks[id]
	if !ok {
		return nil, media.Errorf(media.CodeNotFound, op, "no player with id %d", id)
	}
	return t, nil
}

// info reads the position; the caller holds the sink lock.
func (t *track) info() *media.Info {
	return &media.Info{
		Duration: t.format.SampleRate.D(t.streamer.Len()),
		Position: t.format.SampleRate.D(t.streamer.Position()),
	}
}

func decode(path string, f afero.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	case ".flac":
		return flac.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
}

func (p *SpeakerPlayer) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.mediaDir, path)
}

// Prepare opens and decodes path. The track starts paused at the beginning.
func (p *SpeakerPlayer) Prepare(ctx context.Context, id engine.ID, path string, opts engine.PlayerOptions) (*media.Info, error) {
	if path == "" {
		return nil, media.NewError(media.CodeNoPath, "prepare", nil)
	}
	fsPath := p.resolve(path)

	if p.Transcoder != nil && canTranscode(fsPath) {
		converted, err := p.Transcoder.Transcode(ctx, fsPath, int(p.sampleRate))
		if err != nil {
			return nil, media.NewError(media.CodePrepareFail, "prepare", err)
		}
		fsPath = converted
	}

	f, err := p.fs.Open(fsPath)
	if err != nil {
		return nil, media.NewError(media.CodeInvalidPath, "prepare", err)
	}
	streamer, format, err := decode(fsPath, f)
	if err != nil {
		f.Close()
		return nil, media.NewError(media.CodePrepareFail, "prepare", err)
	}

	t := &track{
		opts:     opts,
		file:     f,
		streamer: streamer,
		format:   format,
		level:    1,
		speed:    1,
		pitch:    1,
	}
	t.resampler = beep.ResampleRatio(resampleQuality, p.baseRatio(t), streamer)
	t.pan = &effects.Pan{Streamer: t.resampler}
	t.volume = &effects.Volume{Streamer: t.pan, Base: 2}
	t.ctrl = &beep.Ctrl{Streamer: t.volume, Paused: true}

	p.mutex.Lock()
	old := p.tracks[id]
	p.tracks[id] = t
	p.mutex.Unlock()
	if old != nil {
		p.close(old)
	}

	slog.Debug("Track prepared", "player_id", id, "path", fsPath, "sample_rate", format.SampleRate)
	return t.info(), nil
}

func (p *SpeakerPlayer) baseRatio(t *track) float64 {
	return float64(t.format.SampleRate) / float64(p.sampleRate)
}

// levelToVolume maps 0..1 onto beep's base-2 logarithmic volume.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}

// Set applies the non-nil parameters.
func (p *SpeakerPlayer) Set(ctx context.Context, id engine.ID, params engine.PlayerParams) error {
	t, err := p.lookup("set", id)
	if err != nil {
		return err
	}

	p.sink.Lock()
	defer p.sink.Unlock()

	if params.Volume != nil {
		t.level = *params.Volume
		t.volume.Volume = levelToVolume(t.level)
		t.volume.Silent = t.level <= 0
	}
	if params.Pan != nil {
		t.pan.Pan = *params.Pan
	}
	if params.Speed != nil {
		t.speed = *params.Speed
	}
	if params.Pitch != nil {
		t.pitch = *params.Pitch
	}
	if params.Speed != nil || params.Pitch != nil {
		// Resampling shifts speed and pitch together.
		t.resampler.SetRatio(p.baseRatio(t) * t.speed * t.pitch)
	}
	if params.Looping != nil {
		t.looping = *params.Looping
	}
	if params.WakeLock != nil {
		slog.Debug("Wake lock has no effect on this platform", "player_id", id)
	}
	return nil
}

// enqueueLocked adds the track's sequence to the mixer; the caller holds the
// sink lock.
func (p *SpeakerPlayer) enqueueLocked(id engine.ID, t *track) {
	t.token++
	token := t.token
	p.mixer.Add(beep.Seq(t.ctrl, beep.Callback(func() {
		go p.handleCompletion(id, token)
	})))
	t.queued = true
}

func (p *SpeakerPlayer) Play(ctx context.Context, id engine.ID) (*media.Info, error) {
	t, err := p.lookup("play", id)
	if err != nil {
		return nil, err
	}
	if err := p.ensureOutput(); err != nil {
		return nil, media.NewError(media.CodeStartFail, "play", err)
	}

	p.sink.Lock()
	defer p.sink.Unlock()
	if !t.queued {
		p.enqueueLocked(id, t)
	}
	t.ctrl.Paused = false
	return t.info(), nil
}

func (p *SpeakerPlayer) Pause(ctx context.Context, id engine.ID) (*media.Info, error) {
	t, err := p.lookup("pause", id)
	if err != nil {
		return nil, err
	}

	p.sink.Lock()
	defer p.sink.Unlock()
	t.ctrl.Paused = true
	return t.info(), nil
}

// Stop pauses and rewinds. With auto-destroy the handle is released.
func (p *SpeakerPlayer) Stop(ctx context.Context, id engine.ID) (*media.Info, error) {
	t, err := p.lookup("stop", id)
	if err != nil {
		return nil, err
	}

	p.sink.Lock()
	t.ctrl.Paused = true
	err = t.streamer.Seek(0)
	info := t.info()
	p.sink.Unlock()
	if err != nil {
		return nil, media.NewError(media.CodeStopFail, "stop", err)
	}

	if t.opts.AutoDestroy {
		p.release(id)
	}
	return info, nil
}

// Seek mutes the track, moves it, and unmutes once the output buffer had
// time to flush. A seek overtaken by a newer one on the same handle fails
// with media.ErrSeekSuperseded; decoder errors and cancellation fail with
// media.ErrSeekError and leave the track audible.
func (p *SpeakerPlayer) Seek(ctx context.Context, id engine.ID, position time.Duration) (*media.Info, error) {
	t, err := p.lookup("seek", id)
	if err != nil {
		return nil, err
	}

	p.mutex.Lock()
	t.seekGen++
	gen := t.seekGen
	p.mutex.Unlock()

	p.sink.Lock()
	target := max(0, min(t.format.SampleRate.N(position), t.streamer.Len()))
	t.volume.Silent = true
	err = t.streamer.Seek(target)
	if err != nil {
		t.volume.Silent = t.level <= 0
	}
	p.sink.Unlock()
	if err != nil {
		return nil, media.NewError(media.CodeSeekError, "seek", err)
	}

	select {
	case <-ctx.Done():
		p.sink.Lock()
		t.volume.Silent = t.level <= 0
		p.sink.Unlock()
		return nil, media.NewError(media.CodeSeekError, "seek", ctx.Err())
	case <-time.After(p.settle):
	}

	p.mutex.Lock()
	superseded := t.seekGen != gen
	p.mutex.Unlock()
	if superseded {
		return nil, media.ErrSeekSuperseded
	}

	p.sink.Lock()
	defer p.sink.Unlock()
	t.volume.Silent = t.level <= 0
	return t.info(), nil
}

// Destroy releases the handle. Unknown ids are ignored.
func (p *SpeakerPlayer) Destroy(ctx context.Context, id engine.ID) error {
	p.release(id)
	return nil
}

func (p *SpeakerPlayer) release(id engine.ID) {
	p.mutex.Lock()
	t, ok := p.tracks[id]
	delete(p.tracks, id)
	p.mutex.Unlock()
	if ok {
		p.close(t)
		slog.Debug("Track released", "player_id", id)
	}
}

// close detaches t from the mixer and closes its decoder.
func (p *SpeakerPlayer) close(t *track) {
	p.sink.Lock()
	t.token++
	t.queued = false
	t.ctrl.Streamer = nil
	p.sink.Unlock()

	if err := t.streamer.Close(); err != nil {
		slog.Debug("Failed to close decoder", "error", err)
	}
	if err := t.file.Close(); err != nil {
		slog.Debug("Failed to close file", "error", err)
	}
}

// handleCompletion runs when a track's sequence drains: it loops or ends.
func (p *SpeakerPlayer) handleCompletion(id engine.ID, token uint64) {
	p.mutex.Lock()
	t, ok := p.tracks[id]
	p.mutex.Unlock()
	if !ok {
		return
	}

	p.sink.Lock()
	if t.token != token {
		p.sink.Unlock()
		return
	}
	t.queued = false
	err := t.streamer.Seek(0)
	looping := t.looping && err == nil
	if looping {
		p.enqueueLocked(id, t)
	} else {
		t.ctrl.Paused = true
	}
	p.sink.Unlock()

	if looping {
		p.emitter.Emit(id, media.LoopedEvent{})
		return
	}
	if err != nil {
		p.emitter.Emit(id, media.ErrorEvent{Err: media.NewError(media.CodeStartFail, "play", err)})
		return
	}

	p.emitter.Emit(id, media.EndedEvent{})
	if t.opts.AutoDestroy {
		p.release(id)
	}
}
