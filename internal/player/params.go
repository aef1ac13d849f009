package player

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

// set caches a parameter and pushes it to the engine once the source is
// prepared. Until then prepare applies the cached values.
//
// Pushes run one at a time and read the cached value when they run, so the
// engine always ends up with the newest value even when setters are called
// in a burst.
func (c *Controller) set(apply func(), snapshot func() engine.PlayerParams) {
	c.mu.Lock()
	apply()
	push := c.tr.State.CanPlay() && !c.released
	c.mu.Unlock()

	if !push {
		return
	}
	go func() {
		c.pushMu.Lock()
		defer c.pushMu.Unlock()

		c.mu.RLock()
		params := snapshot()
		c.mu.RUnlock()

		if err := c.engine.Set(context.Background(), c.id, params); err != nil {
			slog.Warn("Failed to apply player parameters", "player_id", c.id, "error", err)
		}
	}()
}

// SetVolume sets the volume in [0, 1].
func (c *Controller) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got: %.2f", v)
	}
	c.set(func() { c.volume = v }, func() engine.PlayerParams { return engine.PlayerParams{Volume: engine.Float(c.volume)} })
	return nil
}

// SetPan sets the stereo pan in [-1, 1].
func (c *Controller) SetPan(v float64) error {
	if v < -1 || v > 1 {
		return fmt.Errorf("pan must be between -1 and 1, got: %.2f", v)
	}
	c.set(func() { c.pan = v }, func() engine.PlayerParams { return engine.PlayerParams{Pan: engine.Float(c.pan)} })
	return nil
}

// SetSpeed sets the playback rate. It also scales position extrapolation.
func (c *Controller) SetSpeed(v float64) error {
	if v <= 0 {
		return fmt.Errorf("speed must be > 0, got: %.2f", v)
	}
	c.set(func() {
		// Fold the time played so far at the old speed into the position.
		if c.tr.State == media.StatePlaying && c.tr.Position >= 0 {
			c.tr.Sync(c.tr.CurrentTime(c.speed))
		}
		c.speed = v
	}, func() engine.PlayerParams { return engine.PlayerParams{Speed: engine.Float(c.speed)} })
	return nil
}

// SetPitch sets the pitch multiplier.
func (c *Controller) SetPitch(v float64) error {
	if v <= 0 {
		return fmt.Errorf("pitch must be > 0, got: %.2f", v)
	}
	c.set(func() { c.pitch = v }, func() engine.PlayerParams { return engine.PlayerParams{Pitch: engine.Float(c.pitch)} })
	return nil
}

func (c *Controller) SetLooping(v bool) {
	c.set(func() { c.looping = v }, func() engine.PlayerParams { return engine.PlayerParams{Looping: engine.Bool(c.looping)} })
}

func (c *Controller) SetWakeLock(v bool) {
	c.set(func() { c.wakeLock = v }, func() engine.PlayerParams { return engine.PlayerParams{WakeLock: engine.Bool(c.wakeLock)} })
}

func (c *Controller) Volume() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volume
}

func (c *Controller) Pan() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pan
}

func (c *Controller) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

func (c *Controller) Pitch() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pitch
}

func (c *Controller) Looping() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.looping
}

func (c *Controller) WakeLock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wakeLock
}
