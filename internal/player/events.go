package player

import (
	"context"
	"log/slog"

	"github.com/samber/mo"

	"github.com/audiolibrelab/mediakit/internal/media"
)

func optionalInfo(o mo.Option[media.Info]) []any {
	if info, ok := o.Get(); ok {
		return []any{&info}
	}
	return nil
}

// handleEvent reconciles one engine event into the controller state and
// forwards it to subscribers.
func (c *Controller) handleEvent(e media.Event) {
	if c.State() == media.StateDestroyed {
		return
	}

	switch ev := e.(type) {
	case media.ProgressEvent:
		c.transition(func() {
			c.buffered = ev.Buffered
			c.tr.Apply(nil, c.tr.State, optionalInfo(ev.Info)...)
		})

	case media.EndedEvent:
		c.transition(func() {
			c.tr.State = media.StatePrepared
			c.tr.Sync(0)
			c.released = c.released || c.opts.AutoDestroy
		})

	case media.InfoEvent:
		slog.Debug("Player info", "player_id", c.id, "message", ev.Message, "data", ev.Data)

	case media.ErrorEvent:
		slog.Warn("Player error", "player_id", c.id, "error", ev.Err)
		c.transition(func() { c.tr.State = media.StateError })

	case media.PauseEvent:
		c.transition(func() {
			if c.pausing > 0 {
				slog.Debug("Ignoring pause event while a pause call is outstanding", "player_id", c.id)
				return
			}
			c.tr.Apply(nil, media.StatePaused, optionalInfo(ev.Info)...)
		})

	case media.ForcePauseEvent:
		slog.Debug("Player asked to yield audio focus", "player_id", c.id)
		media.Await(c.Pause(context.Background()), func(_ struct{}, err error) {
			if err != nil {
				slog.Warn("Forced pause failed", "player_id", c.id, "error", err)
			}
		})

	case media.LoopedEvent:
		c.transition(func() { c.tr.Sync(0) })

	case media.BufferingEvent:
		c.transition(func() {
			c.buffered = ev.Buffered
			if c.tr.State >= media.StatePreparing && c.tr.State <= media.StateBuffering {
				c.tr.ApplyPartial(nil, media.StateBuffering, optionalInfo(ev.Info)...)
			}
		})

	case media.SeekedEvent:
		c.transition(func() { c.tr.Apply(nil, c.tr.State, optionalInfo(ev.Info)...) })

	case media.MeterEvent:
		slog.Debug("Ignoring meter event on a player", "player_id", c.id)

	default:
		slog.Warn("Unhandled player event", "player_id", c.id, "event", e.Name())
		return
	}

	c.hub.PublishEvent(e)
}
