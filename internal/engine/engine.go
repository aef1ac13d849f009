// Package engine defines the boundary between controllers and the native
// audio engines that do the actual decoding, encoding and device I/O.
package engine

import (
	"context"
	"time"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// ID identifies one native engine handle. Each controller owns exactly one.
type ID uint64

// PlayerOptions is the configuration a player engine receives on prepare.
type PlayerOptions struct {
	AutoDestroy                 bool
	ContinuesToPlayInBackground bool
	Category                    string
	MixWithOthers               bool
}

// PlayerParams carries player parameters to push to the engine.
// Nil fields are left unchanged.
type PlayerParams struct {
	Volume   *float64
	Pan      *float64
	Speed    *float64
	Pitch    *float64
	Looping  *bool
	WakeLock *bool
}

// PlayerEngine is a native playback engine. Calls block until the engine
// answers. Seek returns media.ErrSeekSuperseded when a newer seek on the same
// handle overtook it, and a media.CodeSeekError error for any other seek
// failure.
type PlayerEngine interface {
	Prepare(ctx context.Context, id ID, path string, opts PlayerOptions) (*media.Info, error)
	Set(ctx context.Context, id ID, params PlayerParams) error
	Play(ctx context.Context, id ID) (*media.Info, error)
	Pause(ctx context.Context, id ID) (*media.Info, error)
	Stop(ctx context.Context, id ID) (*media.Info, error)
	Seek(ctx context.Context, id ID, position time.Duration) (*media.Info, error)
	Destroy(ctx context.Context, id ID) error
}

// RecorderOptions is the configuration a recorder engine receives on prepare.
type RecorderOptions struct {
	Bitrate          int
	Channels         int
	SampleRate       int
	Format           string
	Encoder          string
	Quality          string
	AutoDestroy      bool
	MeteringInterval time.Duration
}

// RecorderEngine is a native capture engine. Prepare returns the resolved
// filesystem path of the destination.
type RecorderEngine interface {
	Prepare(ctx context.Context, id ID, path string, opts RecorderOptions) (string, error)
	Record(ctx context.Context, id ID) error
	Pause(ctx context.Context, id ID) error
	Stop(ctx context.Context, id ID) error
	Destroy(ctx context.Context, id ID) error
}

// Handler receives the events of one instance.
type Handler func(media.Event)

// Bridge routes native events to the controller owning an id.
type Bridge interface {
	Subscribe(id ID, h Handler) (cancel func(), err error)
}

// Emitter is what engines use to publish events.
type Emitter interface {
	Emit(id ID, e media.Event)
}

// Float and Bool build PlayerParams fields.
func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool         { return &v }
