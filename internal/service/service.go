// Package service holds one playback and one recording session on top of the
// configured engines. It is shared by the CLI and the web server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/mediakit/internal/audio"
	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
	"github.com/audiolibrelab/mediakit/internal/player"
	"github.com/audiolibrelab/mediakit/internal/recorder"
)

// ErrNoPlayer is returned by playback operations before a track is loaded.
var ErrNoPlayer = errors.New("no track loaded")

// ErrNoRecorder is returned by recording operations outside a recording session.
var ErrNoRecorder = errors.New("no recording in progress")

// PlayerStatus describes the loaded track.
type PlayerStatus struct {
	Path            string  `json:"path"`
	State           string  `json:"state"`
	Position        string  `json:"position"`
	PositionSeconds float64 `json:"position_seconds"`
	Duration        string  `json:"duration"`
	DurationSeconds float64 `json:"duration_seconds"`
	Volume          float64 `json:"volume"`
	Speed           float64 `json:"speed"`
	Looping         bool    `json:"looping"`
}

// RecorderStatus describes the current recording session.
type RecorderStatus struct {
	Path      string    `json:"path"`
	FsPath    string    `json:"fs_path,omitempty"`
	State     string    `json:"state"`
	StartTime time.Time `json:"start_time,omitempty"`
	Elapsed   string    `json:"elapsed,omitempty"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	Level     float64   `json:"level"`
}

// Status is a snapshot of both sessions.
type Status struct {
	Profile   string          `json:"profile"`
	Backend   string          `json:"backend"`
	Player    *PlayerStatus   `json:"player,omitempty"`
	Recorder  *RecorderStatus `json:"recorder,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// Service is the main service implementation
type Service struct {
	cfg     *config.Config
	rt      *engine.Runtime
	engines audio.Engines

	mu             sync.Mutex
	player         *player.Controller
	recorder       *recorder.Controller
	recordingStart time.Time

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service with a fresh runtime and the engines selected by cfg.
func New(cfg *config.Config) *Service {
	rt := engine.NewRuntime()
	engines := audio.NewEngines(cfg, rt.Bus)
	slog.Debug("Service created", "backend", engines.Type, "profile", cfg.Profile)
	return &Service{
		cfg:     cfg,
		rt:      rt,
		engines: engines,
	}
}

// Config returns the configuration the service was created with.
func (s *Service) Config() *config.Config { return s.cfg }

// Engines returns the engines driven by this service.
func (s *Service) Engines() audio.Engines { return s.engines }

// LoadPlayer replaces the current track with path and prepares it.
func (s *Service) LoadPlayer(ctx context.Context, path string) (*player.Controller, error) {
	s.clearLastError()

	p, err := player.New(s.rt, s.engines.Player, path, s.cfg.Player)
	if err != nil {
		return nil, s.fail("load", err)
	}

	s.mu.Lock()
	prev := s.player
	s.player = p
	s.mu.Unlock()

	if prev != nil {
		if _, err := prev.Destroy(ctx).Collect(); err != nil {
			slog.Warn("Failed to destroy previous player", "path", prev.Path(), "error", err)
		}
	}

	if _, err := p.Prepare(ctx).Collect(); err != nil {
		return nil, s.fail("prepare", err)
	}
	slog.Info("Track loaded", "path", path, "duration", p.Duration())
	return p, nil
}

// Player returns the loaded player, or nil.
func (s *Service) Player() *player.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *Service) currentPlayer() (*player.Controller, error) {
	p := s.Player()
	if p == nil {
		return nil, ErrNoPlayer
	}
	return p, nil
}

// Play starts or resumes the loaded track.
func (s *Service) Play(ctx context.Context) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	_, err = p.Play(ctx).Collect()
	return s.fail("play", err)
}

// Pause pauses the loaded track.
func (s *Service) Pause(ctx context.Context) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	_, err = p.Pause(ctx).Collect()
	return s.fail("pause", err)
}

// TogglePlay toggles between playing and paused. It reports whether the
// track is paused afterwards.
func (s *Service) TogglePlay(ctx context.Context) (bool, error) {
	p, err := s.currentPlayer()
	if err != nil {
		return false, err
	}
	paused, err := p.PlayPause(ctx).Collect()
	return paused, s.fail("toggle", err)
}

// StopPlayback stops the loaded track and rewinds it.
func (s *Service) StopPlayback(ctx context.Context) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	_, err = p.Stop(ctx).Collect()
	return s.fail("stop", err)
}

// Seek moves the loaded track to position. It reports false when a later
// seek superseded this one.
func (s *Service) Seek(ctx context.Context, position time.Duration) (bool, error) {
	p, err := s.currentPlayer()
	if err != nil {
		return false, err
	}
	done, err := p.Seek(ctx, position).Collect()
	return done, s.fail("seek", err)
}

// SetVolume sets the loaded track's volume.
func (s *Service) SetVolume(v float64) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	return s.fail("volume", p.SetVolume(v))
}

// SetSpeed sets the loaded track's playback rate.
func (s *Service) SetSpeed(v float64) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	return s.fail("speed", p.SetSpeed(v))
}

// SetLooping turns looping of the loaded track on or off.
func (s *Service) SetLooping(v bool) error {
	p, err := s.currentPlayer()
	if err != nil {
		return err
	}
	p.SetLooping(v)
	return nil
}

// StartRecording starts a new recording to path. A previous recorder is
// destroyed first.
func (s *Service) StartRecording(ctx context.Context, path string) (string, error) {
	slog.Debug("Service.StartRecording called", "path", path)
	s.clearLastError()

	r, err := recorder.New(s.rt, s.engines.Recorder, path, s.cfg.Recorder)
	if err != nil {
		return "", s.fail("record", err)
	}

	s.mu.Lock()
	prev := s.recorder
	s.recorder = r
	s.recordingStart = time.Time{}
	s.mu.Unlock()

	if prev != nil {
		// Finalize the previous take before dropping it.
		if prev.IsRecording() || prev.IsPaused() {
			if _, err := prev.Stop(ctx).Collect(); err != nil {
				slog.Warn("Failed to stop previous recording", "path", prev.Path(), "error", err)
			}
		}
		if _, err := prev.Destroy(ctx).Collect(); err != nil {
			slog.Warn("Failed to destroy previous recorder", "path", prev.Path(), "error", err)
		}
	}

	fsPath, err := r.Record(ctx).Collect()
	if err != nil {
		return "", s.fail("record", err)
	}

	s.mu.Lock()
	s.recordingStart = s.rt.Clock()
	s.mu.Unlock()

	slog.Info("Recording started", "path", fsPath)
	return fsPath, nil
}

// Recorder returns the current recorder, or nil.
func (s *Service) Recorder() *recorder.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder
}

func (s *Service) currentRecorder() (*recorder.Controller, error) {
	r := s.Recorder()
	if r == nil || r.State() == media.StateDestroyed {
		return nil, ErrNoRecorder
	}
	return r, nil
}

// PauseRecording pauses the current recording.
func (s *Service) PauseRecording(ctx context.Context) error {
	r, err := s.currentRecorder()
	if err != nil {
		return err
	}
	_, err = r.Pause(ctx).Collect()
	return s.fail("pause recording", err)
}

// StopRecording finishes the current recording and returns its path.
func (s *Service) StopRecording(ctx context.Context) (string, error) {
	r, err := s.currentRecorder()
	if err != nil {
		return "", err
	}
	fsPath := r.FsPath()
	if _, err := r.Stop(ctx).Collect(); err != nil {
		return "", s.fail("stop recording", err)
	}

	size := s.fileSize(fsPath)
	slog.Info("Recording stopped", "path", fsPath, "size", humanize.Bytes(uint64(size)))
	return fsPath, nil
}

// ToggleRecording stops an active recording, or starts a new one to path.
// It reports whether it stopped.
func (s *Service) ToggleRecording(ctx context.Context, path string) (bool, error) {
	if r := s.Recorder(); r != nil && r.IsRecording() {
		_, err := s.StopRecording(ctx)
		return true, err
	}
	_, err := s.StartRecording(ctx, path)
	return false, err
}

// Status returns a snapshot of both sessions.
func (s *Service) Status() Status {
	st := Status{
		Profile:   s.cfg.Profile,
		Backend:   string(s.engines.Type),
		LastError: s.GetLastError(),
	}

	if p := s.Player(); p != nil {
		position, duration := p.CurrentTime(), p.Duration()
		st.Player = &PlayerStatus{
			Path:            p.Path(),
			State:           p.State().String(),
			Position:        formatDuration(position),
			PositionSeconds: max(position, 0).Seconds(),
			Duration:        formatDuration(duration),
			DurationSeconds: max(duration, 0).Seconds(),
			Volume:          p.Volume(),
			Speed:           p.Speed(),
			Looping:         p.Looping(),
		}
	}

	s.mu.Lock()
	r, start := s.recorder, s.recordingStart
	s.mu.Unlock()
	if r != nil {
		state := r.State()
		rs := &RecorderStatus{
			Path:   r.Path(),
			FsPath: r.FsPath(),
			State:  recorderStateName(state),
			Level:  r.Level(),
		}
		if !start.IsZero() {
			rs.StartTime = start
			if state == media.StateRecording {
				rs.Elapsed = formatDuration(s.rt.Clock().Sub(start))
			}
		}
		rs.Size = s.fileSize(rs.FsPath)
		rs.SizeHuman = humanize.Bytes(uint64(rs.Size))
		st.Recorder = rs
	}
	return st
}

// Close destroys both sessions.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	p, r := s.player, s.recorder
	s.player, s.recorder = nil, nil
	s.mu.Unlock()

	var errs []error
	if r != nil {
		if r.IsRecording() || r.IsPaused() {
			if _, err := r.Stop(ctx).Collect(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop recording: %w", err))
			}
		}
		if _, err := r.Destroy(ctx).Collect(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy recorder: %w", err))
		}
	}
	if p != nil {
		if _, err := p.Destroy(ctx).Collect(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy player: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := s.engines.Fs.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ReadRecording returns the contents of a finished recording.
func (s *Service) ReadRecording(path string) ([]byte, error) {
	return afero.ReadFile(s.engines.Fs, path)
}

func recorderStateName(state media.State) string {
	if state == media.StateRecording {
		return "recording"
	}
	return state.String()
}

func formatDuration(d time.Duration) string {
	if d == media.Unknown {
		return "--:--"
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// fail records err as the last error and returns it unchanged.
func (s *Service) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	s.setLastError(fmt.Sprintf("%s failed: %v", op, err))
	return err
}

// GetLastError returns the last error message (thread-safe)
func (s *Service) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *Service) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *Service) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
