// Package recorder implements the record controller on top of a native
// capture engine.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/mo"

	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
	"github.com/audiolibrelab/mediakit/internal/sequence"
)

// Controller owns one native recorder handle.
//
// A recorder is single use: Stop finishes the recording and leaves the
// controller destroyed. Failed operations and asynchronous engine errors
// reset it to idle so it can be prepared again; media.ErrNotSupported leaves
// the state untouched. Once destroyed, every operation fails with
// media.ErrDestroyed.
type Controller struct {
	id     engine.ID
	path   string
	opts   engine.RecorderOptions
	engine engine.RecorderEngine
	seq    *sequence.Sequencer
	hub    media.Hub

	cancelEvents func()
	releaseOnce  sync.Once

	mu     sync.RWMutex
	state  media.State
	fsPath string
	level  float64
}

// New creates an idle recorder writing to path.
func New(rt *engine.Runtime, eng engine.RecorderEngine, path string, opts Options) (*Controller, error) {
	if path == "" {
		return nil, media.NewError(media.CodeNoPath, "new recorder", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder options: %w", err)
	}
	resolved, err := opts.resolve(path)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		id:     rt.NextID(),
		path:   path,
		opts:   resolved,
		engine: eng,
		state:  media.StateIdle,
	}
	c.seq = sequence.New(fmt.Sprintf("recorder-%d", c.id))

	cancel, err := rt.Bus.Subscribe(c.id, c.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to recorder events: %w", err)
	}
	c.cancelEvents = cancel

	slog.Debug("Recorder created", "recorder_id", c.id, "path", path, "format", resolved.Format, "encoder", resolved.Encoder)
	return c, nil
}

func (c *Controller) transition(mutate func()) {
	c.mu.Lock()
	prev := c.state
	if prev == media.StateDestroyed {
		c.mu.Unlock()
		return
	}
	mutate()
	cur := c.state
	c.mu.Unlock()

	if prev != cur {
		slog.Debug("Recorder state changed", "recorder_id", c.id, "from", prev, "to", cur)
	}
	c.hub.PublishState(prev, cur)
}

// finish moves to target. A failure resets the recorder to idle, except for
// an unsupported operation which changes nothing.
func (c *Controller) finish(op string, err error, target media.State) {
	switch {
	case err == nil:
		c.transition(func() { c.state = target })
	case errors.Is(err, media.ErrNotSupported):
		slog.Debug("Recorder operation not supported", "recorder_id", c.id, "op", op)
	default:
		slog.Warn("Recorder operation failed, resetting", "recorder_id", c.id, "op", op, "error", err)
		c.transition(c.resetLocked)
	}
}

func (c *Controller) resetLocked() {
	c.state = media.StateIdle
	c.fsPath = ""
	c.level = 0
}

// release drops the event subscription and closes client subscriptions.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		c.cancelEvents()
		c.hub.Close()
	})
}

func (c *Controller) destroyedErr(op string) error {
	return media.NewError(media.CodeDestroyed, op, fmt.Errorf("recorder %d was destroyed", c.id))
}

// Prepare opens the destination and resolves with its filesystem path.
func (c *Controller) Prepare(ctx context.Context) *mo.Future[string] {
	if c.State() == media.StateDestroyed {
		return media.Settled("", c.destroyedErr("prepare"))
	}
	c.transition(func() { c.state = media.StatePreparing })
	return media.Go(func() (string, error) {
		if err := c.runPrepare(ctx); err != nil {
			return "", err
		}
		return c.FsPath(), nil
	})
}

func (c *Controller) runPrepare(ctx context.Context) error {
	var opErr error
	c.seq.Run(ctx, "prepare", []sequence.Step{
		func(ctx context.Context) (any, error) {
			return c.engine.Prepare(ctx, c.id, c.path, c.opts)
		},
	}, func(results []any, err error) {
		if err != nil {
			c.finish("prepare", err, media.StatePrepared)
			opErr = err
			return
		}
		c.transition(func() {
			c.fsPath, _ = results[0].(string)
			c.state = media.StatePrepared
		})
	})
	return opErr
}

// Record starts recording, preparing first from idle. It resolves with the
// destination's filesystem path.
func (c *Controller) Record(ctx context.Context) *mo.Future[string] {
	state := c.State()
	if state == media.StateDestroyed {
		return media.Settled("", c.destroyedErr("record"))
	}

	var steps []sequence.Step
	if state == media.StateIdle {
		steps = append(steps, func(ctx context.Context) (any, error) {
			c.transition(func() { c.state = media.StatePreparing })
			return nil, c.runPrepare(ctx)
		})
	}
	steps = append(steps, func(ctx context.Context) (any, error) {
		return nil, c.engine.Record(ctx, c.id)
	})

	return media.Go(func() (string, error) {
		var opErr error
		c.seq.Run(ctx, "record", steps, func(_ []any, err error) {
			c.finish("record", err, media.StateRecording)
			opErr = err
		})
		if opErr != nil {
			return "", opErr
		}
		return c.FsPath(), nil
	})
}

// Pause pauses an active recording. Outside a recording it only records the
// paused state. Engines without pause support fail with media.ErrNotSupported
// and keep recording.
func (c *Controller) Pause(ctx context.Context) *mo.Future[struct{}] {
	state := c.State()
	if state == media.StateDestroyed {
		return media.Settled(struct{}{}, c.destroyedErr("pause"))
	}

	var steps []sequence.Step
	if state >= media.StateRecording {
		steps = append(steps, func(ctx context.Context) (any, error) {
			return nil, c.engine.Pause(ctx, c.id)
		})
	}

	return media.Go(func() (struct{}, error) {
		var opErr error
		c.seq.Run(ctx, "pause", steps, func(_ []any, err error) {
			c.finish("pause", err, media.StatePaused)
			opErr = err
		})
		return struct{}{}, opErr
	})
}

// Stop finalizes the recording and leaves the recorder destroyed. A capture
// that is recording or paused is always stopped through the engine so the
// file is finalized. Without one it succeeds without an engine stop.
func (c *Controller) Stop(ctx context.Context) *mo.Future[struct{}] {
	state := c.State()
	if state == media.StateDestroyed {
		return media.Settled(struct{}{}, c.destroyedErr("stop"))
	}

	var steps []sequence.Step
	if state >= media.StateRecording {
		steps = append(steps, func(ctx context.Context) (any, error) {
			return nil, c.engine.Stop(ctx, c.id)
		})
	}
	// The engine only releases the handle itself when auto-destroy applies
	// to a stopped recording.
	if state != media.StateIdle && (state < media.StateRecording || !c.opts.AutoDestroy) {
		steps = append(steps, func(ctx context.Context) (any, error) {
			return nil, c.engine.Destroy(ctx, c.id)
		})
	}

	return media.Go(func() (struct{}, error) {
		var opErr error
		c.seq.Run(ctx, "stop", steps, func(_ []any, err error) {
			c.finish("stop", err, media.StateDestroyed)
			opErr = err
		})
		if opErr == nil {
			c.release()
		}
		return struct{}{}, opErr
	})
}

// ToggleRecord stops an active recording or starts one. It resolves with
// true when it stopped.
func (c *Controller) ToggleRecord(ctx context.Context) *mo.Future[bool] {
	if c.State() == media.StateRecording {
		f := c.Stop(ctx)
		return media.Go(func() (bool, error) {
			_, err := f.Collect()
			return true, err
		})
	}
	f := c.Record(ctx)
	return media.Go(func() (bool, error) {
		_, err := f.Collect()
		return false, err
	})
}

// Destroy resets the recorder and tears down the native handle. Calling it
// again is a no-op.
func (c *Controller) Destroy(ctx context.Context) *mo.Future[struct{}] {
	c.mu.Lock()
	prev := c.state
	if prev == media.StateDestroyed {
		c.mu.Unlock()
		return media.Settled(struct{}{}, nil)
	}
	c.resetLocked()
	c.state = media.StateDestroyed
	c.mu.Unlock()

	slog.Debug("Recorder state changed", "recorder_id", c.id, "from", prev, "to", media.StateDestroyed)
	c.hub.PublishState(prev, media.StateDestroyed)

	return media.Go(func() (struct{}, error) {
		defer c.release()
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

// handleEvent reconciles one engine event and forwards it to subscribers.
func (c *Controller) handleEvent(e media.Event) {
	if c.State() == media.StateDestroyed {
		return
	}

	switch ev := e.(type) {
	case media.EndedEvent:
		c.transition(func() { c.state = min(c.state, media.StatePrepared) })

	case media.ErrorEvent:
		slog.Warn("Recorder error, resetting", "recorder_id", c.id, "error", ev.Err)
		c.transition(c.resetLocked)

	case media.MeterEvent:
		c.mu.Lock()
		c.level = ev.Level
		c.mu.Unlock()

	case media.InfoEvent:
		slog.Debug("Recorder info", "recorder_id", c.id, "message", ev.Message)

	case media.ProgressEvent, media.PauseEvent, media.ForcePauseEvent, media.LoopedEvent,
		media.BufferingEvent, media.SeekedEvent:
		slog.Debug("Ignoring playback event on a recorder", "recorder_id", c.id, "event", e.Name())

	default:
		slog.Warn("Unhandled recorder event", "recorder_id", c.id, "event", e.Name())
		return
	}

	c.hub.PublishEvent(e)
}

// Subscribe returns a subscription to this recorder's events and state changes.
func (c *Controller) Subscribe() *media.Subscription {
	return c.hub.Subscribe()
}

// Unsubscribe ends a subscription returned by Subscribe.
func (c *Controller) Unsubscribe(s *media.Subscription) {
	c.hub.Unsubscribe(s)
}

func (c *Controller) ID() engine.ID                   { return c.id }
func (c *Controller) Path() string                    { return c.path }
func (c *Controller) Options() engine.RecorderOptions { return c.opts }

// State returns the current state.
func (c *Controller) State() media.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FsPath returns the resolved destination, empty before prepare.
func (c *Controller) FsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fsPath
}

// Level returns the last metered input level in dBFS.
func (c *Controller) Level() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

func (c *Controller) CanRecord() bool   { return c.State().CanRecord() }
func (c *Controller) CanStop() bool     { return c.State().CanStop() }
func (c *Controller) CanPrepare() bool  { return c.State().CanPrepare() }
func (c *Controller) IsRecording() bool { return c.State().IsRecording() }
func (c *Controller) IsStopped() bool   { return c.State().IsStopped() }
func (c *Controller) IsPaused() bool    { return c.State().IsPaused() }
func (c *Controller) IsPrepared() bool  { return c.State().IsPrepared() }
