// Package player implements the playback controller: it sequences
// operations against a native player engine and reconciles the engine's
// asynchronous events into one observable state.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
	"github.com/audiolibrelab/mediakit/internal/sequence"
)

const (
	defaultVolume = 1.0
	defaultPan    = 0.0
	defaultSpeed  = 1.0
	defaultPitch  = 1.0
)

// Controller owns one native player handle.
//
// Operations return immediately with a future. Separate operations are not
// serialized against each other: when two are in flight the state reflects
// whichever completes last. Once destroyed, every operation fails with
// media.ErrDestroyed without reaching the engine.
type Controller struct {
	id     engine.ID
	path   string
	opts   Options
	engine engine.PlayerEngine
	seq    *sequence.Sequencer
	hub    media.Hub

	cancelEvents func()
	// pushMu serializes parameter pushes to the engine.
	pushMu sync.Mutex

	mu       sync.RWMutex
	tr       media.Tracker
	volume   float64
	pan      float64
	speed    float64
	pitch    float64
	looping  bool
	wakeLock bool
	buffered float64
	preSeek  media.State
	// released is set when the engine dropped the handle on its own
	// (auto-destroy after stop or end of media).
	released bool
	// pausing counts Pause calls waiting for the engine.
	pausing int
}

// New creates an idle player for path. Nothing is sent to the engine until
// the first operation.
func New(rt *engine.Runtime, eng engine.PlayerEngine, path string, opts Options) (*Controller, error) {
	if path == "" {
		return nil, media.NewError(media.CodeNoPath, "new player", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid player options: %w", err)
	}

	c := &Controller{
		id:     rt.NextID(),
		path:   path,
		opts:   opts.normalized(),
		engine: eng,
		tr:     media.NewTracker(rt.Clock),
	}
	c.seq = sequence.New(fmt.Sprintf("player-%d", c.id))
	c.resetLocked()

	cancel, err := rt.Bus.Subscribe(c.id, c.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to player events: %w", err)
	}
	c.cancelEvents = cancel

	slog.Debug("Player created", "player_id", c.id, "path", path)
	return c, nil
}

func (c *Controller) resetLocked() {
	c.tr.Reset()
	c.volume = defaultVolume
	c.pan = defaultPan
	c.speed = defaultSpeed
	c.pitch = defaultPitch
	c.looping = false
	c.wakeLock = false
	c.buffered = 0
	c.preSeek = media.StateIdle
	c.released = false
	c.pausing = 0
}

// transition runs mutate under the lock and publishes the resulting state
// change, if any. Late completions never revive a destroyed controller.
func (c *Controller) transition(mutate func()) {
	c.mu.Lock()
	prev := c.tr.State
	if prev == media.StateDestroyed {
		c.mu.Unlock()
		return
	}
	mutate()
	cur := c.tr.State
	c.mu.Unlock()

	if prev != cur {
		slog.Debug("Player state changed", "player_id", c.id, "from", prev, "to", cur)
	}
	c.hub.PublishState(prev, cur)
}

func (c *Controller) destroyedErr(op string) error {
	return media.NewError(media.CodeDestroyed, op, fmt.Errorf("player %d was destroyed", c.id))
}

func (c *Controller) params() engine.PlayerParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return engine.PlayerParams{
		Volume:   engine.Float(c.volume),
		Pan:      engine.Float(c.pan),
		Speed:    engine.Float(c.speed),
		Pitch:    engine.Float(c.pitch),
		Looping:  engine.Bool(c.looping),
		WakeLock: engine.Bool(c.wakeLock),
	}
}

// Prepare loads the source and applies the cached parameters.
func (c *Controller) Prepare(ctx context.Context) *mo.Future[struct{}] {
	if c.State() == media.StateDestroyed {
		return media.Settled(struct{}{}, c.destroyedErr("prepare"))
	}
	c.transition(func() { c.tr.State = media.StatePreparing })
	return media.Go(func() (struct{}, error) {
		return struct{}{}, c.runPrepare(ctx)
	})
}

func (c *Controller) runPrepare(ctx context.Context) error {
	var opErr error
	c.seq.Run(ctx, "prepare", []sequence.Step{
		func(ctx context.Context) (any, error) {
			return c.engine.Prepare(ctx, c.id, c.path, c.opts.engine())
		},
		func(ctx context.Context) (any, error) {
			return nil, c.engine.Set(ctx, c.id, c.params())
		},
	}, func(results []any, err error) {
		c.transition(func() {
			c.tr.Apply(err, media.StatePrepared, results...)
			if err == nil {
				c.released = false
			}
		})
		opErr = err
	})
	return opErr
}

// Play starts playback, preparing first when there is no native handle.
func (c *Controller) Play(ctx context.Context) *mo.Future[struct{}] {
	c.mu.RLock()
	state := c.tr.State
	needsPrepare := state == media.StateIdle || c.released
	c.mu.RUnlock()

	if state == media.StateDestroyed {
		return media.Settled(struct{}{}, c.destroyedErr("play"))
	}

	var steps []sequence.Step
	if needsPrepare {
		steps = append(steps, func(ctx context.Context) (any, error) {
			c.transition(func() { c.tr.State = media.StatePreparing })
			return nil, c.runPrepare(ctx)
		})
	}
	steps = append(steps, func(ctx context.Context) (any, error) {
		return c.engine.Play(ctx, c.id)
	})

	return media.Go(func() (struct{}, error) {
		var opErr error
		c.seq.Run(ctx, "play", steps, func(results []any, err error) {
			c.transition(func() { c.tr.Apply(err, media.StatePlaying, results...) })
			opErr = err
		})
		return struct{}{}, opErr
	})
}

// Pause pauses playback. The engine's answer to this call is authoritative:
// a PauseEvent raised while the call is outstanding is ignored.
func (c *Controller) Pause(ctx context.Context) *mo.Future[struct{}] {
	c.mu.Lock()
	state := c.tr.State
	released := c.released
	if state != media.StateDestroyed {
		c.pausing++
	}
	c.mu.Unlock()

	if state == media.StateDestroyed {
		return media.Settled(struct{}{}, c.destroyedErr("pause"))
	}

	var steps []sequence.Step
	if !released {
		steps = append(steps, func(ctx context.Context) (any, error) {
			return c.engine.Pause(ctx, c.id)
		})
	}

	return media.Go(func() (struct{}, error) {
		var opErr error
		c.seq.Run(ctx, "pause", steps, func(results []any, err error) {
			c.transition(func() {
				c.pausing--
				c.tr.Apply(err, media.StatePaused, results...)
			})
			opErr = err
		})
		return struct{}{}, opErr
	})
}

// PlayPause pauses when playing and plays otherwise. It resolves with true
// when the player ends up paused.
func (c *Controller) PlayPause(ctx context.Context) *mo.Future[bool] {
	if c.State() == media.StatePlaying {
		f := c.Pause(ctx)
		return media.Go(func() (bool, error) {
			_, err := f.Collect()
			return true, err
		})
	}
	f := c.Play(ctx)
	return media.Go(func() (bool, error) {
		_, err := f.Collect()
		return false, err
	})
}

// Stop stops playback and forgets the position. Stopping an idle player or
// one whose handle was already released succeeds without an engine call.
func (c *Controller) Stop(ctx context.Context) *mo.Future[struct{}] {
	c.mu.RLock()
	state := c.tr.State
	released := c.released
	c.mu.RUnlock()

	switch {
	case state == media.StateDestroyed:
		return media.Settled(struct{}{}, c.destroyedErr("stop"))
	case state == media.StateIdle:
		return media.Settled(struct{}{}, nil)
	}

	var steps []sequence.Step
	if !released {
		steps = append(steps, func(ctx context.Context) (any, error) {
			return c.engine.Stop(ctx, c.id)
		})
	}

	return media.Go(func() (struct{}, error) {
		var opErr error
		c.seq.Run(ctx, "stop", steps, func(results []any, err error) {
			c.transition(func() {
				c.tr.Apply(err, media.StatePrepared, results...)
				if err == nil {
					c.tr.Position = media.Unknown
					c.released = c.released || c.opts.AutoDestroy
				}
			})
			opErr = err
		})
		return struct{}{}, opErr
	})
}

// Destroy resets the controller and tears down the native handle. The state
// becomes StateDestroyed immediately. Calling it again is a no-op.
func (c *Controller) Destroy(ctx context.Context) *mo.Future[struct{}] {
	c.mu.Lock()
	prev := c.tr.State
	if prev == media.StateDestroyed {
		c.mu.Unlock()
		return media.Settled(struct{}{}, nil)
	}
	c.resetLocked()
	c.tr.State = media.StateDestroyed
	c.mu.Unlock()

	slog.Debug("Player state changed", "player_id", c.id, "from", prev, "to", media.StateDestroyed)
	c.hub.PublishState(prev, media.StateDestroyed)
	c.cancelEvents()

	return media.Go(func() (struct{}, error) {
		defer c.hub.Close()
		var opErr error
		c.seq.Run(ctx, "destroy", []sequence.Step{
			func(ctx context.Context) (any, error) {
				return nil, c.engine.Destroy(ctx, c.id)
			},
		}, func(_ []any, err error) {
			opErr = err
		})
		return struct{}{}, opErr
	})
}

// Seek moves to position, preparing again first when the engine released
// the handle. It resolves with false when a newer seek
// superseded this one; that is not an error and leaves the state alone.
// Otherwise the state saved before the first of a run of back-to-back seeks
// is restored, or StateError on failure.
func (c *Controller) Seek(ctx context.Context, position time.Duration) *mo.Future[bool] {
	c.mu.RLock()
	state := c.tr.State
	released := c.released
	c.mu.RUnlock()
	if state == media.StateDestroyed {
		return media.Settled(false, c.destroyedErr("seek"))
	}

	var steps []sequence.Step
	if released {
		steps = append(steps, func(ctx context.Context) (any, error) {
			if err := c.runPrepare(ctx); err != nil {
				return nil, err
			}
			c.transition(func() { c.tr.State = media.StateSeeking })
			return nil, nil
		})
	}
	steps = append(steps, func(ctx context.Context) (any, error) {
		return c.engine.Seek(ctx, c.id, position)
	})

	c.transition(func() {
		if c.tr.State != media.StateSeeking {
			c.preSeek = c.tr.State
		}
		c.tr.State = media.StateSeeking
	})

	return media.Go(func() (bool, error) {
		var applied bool
		var opErr error
		c.seq.Run(ctx, "seek", steps, func(results []any, err error) {
			if errors.Is(err, media.ErrSeekSuperseded) {
				slog.Debug("Seek superseded", "player_id", c.id, "position", position)
				return
			}
			c.transition(func() { c.tr.Apply(err, c.preSeek, results...) })
			applied, opErr = err == nil, err
		})
		return applied, opErr
	})
}

// SetCurrentTime seeks without waiting for the outcome.
func (c *Controller) SetCurrentTime(position time.Duration) {
	media.Await(c.Seek(context.Background(), position), func(_ bool, err error) {
		if err != nil {
			slog.Warn("Seek failed", "player_id", c.id, "position", position, "error", err)
		}
	})
}

// Subscribe returns a subscription to this player's events and state changes.
func (c *Controller) Subscribe() *media.Subscription {
	return c.hub.Subscribe()
}

// Unsubscribe ends a subscription returned by Subscribe.
func (c *Controller) Unsubscribe(s *media.Subscription) {
	c.hub.Unsubscribe(s)
}

func (c *Controller) ID() engine.ID    { return c.id }
func (c *Controller) Path() string     { return c.path }
func (c *Controller) Options() Options { return c.opts }

// State returns the current state.
func (c *Controller) State() media.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.State
}

func (c *Controller) CanPlay() bool    { return c.State().CanPlay() }
func (c *Controller) CanStop() bool    { return c.State().CanStop() }
func (c *Controller) CanPrepare() bool { return c.State().CanPrepare() }
func (c *Controller) IsPlaying() bool  { return c.State().IsPlaying() }
func (c *Controller) IsStopped() bool  { return c.State().IsStopped() }
func (c *Controller) IsPaused() bool   { return c.State().IsPaused() }
func (c *Controller) IsPrepared() bool { return c.State().IsPrepared() }

// Duration returns the last reported duration, or media.Unknown.
func (c *Controller) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.Duration
}

// Position returns the last synced position without extrapolation.
func (c *Controller) Position() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.Position
}

// CurrentTime returns the playback position extrapolated from the last sync,
// or media.Unknown.
func (c *Controller) CurrentTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.CurrentTime(c.speed)
}

// LastSync returns when info was last synced from the engine.
func (c *Controller) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.LastSync
}

// Buffered returns the last buffering estimate in percent.
func (c *Controller) Buffered() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buffered
}
