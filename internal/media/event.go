package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/mo"
)

// Event is a notification delivered by a native engine for one instance.
// The set of implementations is closed; controllers switch over all of them.
type Event interface {
	Name() string
	isEvent()
}

// ProgressEvent reports buffering progress and optionally a fresh position sync.
type ProgressEvent struct {
	Info     mo.Option[Info]
	Buffered float64
}

// EndedEvent signals the end of the media.
type EndedEvent struct{}

// InfoEvent carries an informational engine message with no state effect.
type InfoEvent struct {
	Message string
	Data    map[string]any
}

// ErrorEvent reports an asynchronous native failure.
type ErrorEvent struct {
	Err error
}

// PauseEvent is emitted when the engine paused on its own.
type PauseEvent struct {
	Info mo.Option[Info]
}

// ForcePauseEvent asks the controller to pause, typically after losing audio focus.
type ForcePauseEvent struct{}

// LoopedEvent signals a loop wrap back to the start.
type LoopedEvent struct{}

// BufferingEvent carries a partial, low-confidence info update.
type BufferingEvent struct {
	Info     mo.Option[Info]
	Buffered float64
}

// SeekedEvent is emitted when the engine finished a seek it started itself.
type SeekedEvent struct {
	Info mo.Option[Info]
}

// MeterEvent carries a recorder input level in dBFS.
type MeterEvent struct {
	Level float64
	Raw   float64
}

func (ProgressEvent) Name() string   { return "progress" }
func (EndedEvent) Name() string      { return "ended" }
func (InfoEvent) Name() string       { return "info" }
func (ErrorEvent) Name() string      { return "error" }
func (PauseEvent) Name() string      { return "pause" }
func (ForcePauseEvent) Name() string { return "forcePause" }
func (LoopedEvent) Name() string     { return "looped" }
func (BufferingEvent) Name() string  { return "buffering" }
func (SeekedEvent) Name() string     { return "seeked" }
func (MeterEvent) Name() string      { return "meter" }

func (ProgressEvent) isEvent()   {}
func (EndedEvent) isEvent()      {}
func (InfoEvent) isEvent()       {}
func (ErrorEvent) isEvent()      {}
func (PauseEvent) isEvent()      {}
func (ForcePauseEvent) isEvent() {}
func (LoopedEvent) isEvent()     {}
func (BufferingEvent) isEvent()  {}
func (SeekedEvent) isEvent()     {}
func (MeterEvent) isEvent()      {}

// Payload is the untyped form in which bridges receive native events.
// Durations in Data are milliseconds.
type Payload struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type payloadData struct {
	Duration *float64 `mapstructure:"duration"`
	Position *float64 `mapstructure:"position"`
	Percent  float64  `mapstructure:"percent"`
	Code     string   `mapstructure:"err"`
	Message  string   `mapstructure:"message"`
	Value    float64  `mapstructure:"value"`
	RawValue float64  `mapstructure:"rawValue"`
}

func (d payloadData) info() mo.Option[Info] {
	if d.Duration == nil && d.Position == nil {
		return mo.None[Info]()
	}
	info := Info{Duration: Unknown, Position: Unknown}
	if d.Duration != nil {
		info.Duration = millis(*d.Duration)
	}
	if d.Position != nil {
		info.Position = millis(*d.Position)
	}
	return mo.Some(info)
}

func millis(ms float64) time.Duration {
	if ms < 0 {
		return Unknown
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Decode converts a named payload into its typed event.
func Decode(p Payload) (Event, error) {
	var d payloadData
	switch v := p.Data.(type) {
	case nil:
	case string:
		d.Message = v
	default:
		if err := mapstructure.WeakDecode(v, &d); err != nil {
			return nil, fmt.Errorf("failed to decode %q payload: %w", p.Event, err)
		}
	}

	switch p.Event {
	case "progress":
		return ProgressEvent{Info: d.info(), Buffered: d.Percent}, nil
	case "ended":
		return EndedEvent{}, nil
	case "info":
		data, _ := p.Data.(map[string]any)
		return InfoEvent{Message: d.Message, Data: data}, nil
	case "error":
		code := Code(d.Code)
		if code == "" {
			code = CodeStartFail
		}
		var cause error
		if d.Message != "" {
			cause = errors.New(d.Message)
		}
		return ErrorEvent{Err: NewError(code, "native", cause)}, nil
	case "pause":
		return PauseEvent{Info: d.info()}, nil
	case "forcePause":
		return ForcePauseEvent{}, nil
	case "looped":
		return LoopedEvent{}, nil
	case "buffering":
		return BufferingEvent{Info: d.info(), Buffered: d.Percent}, nil
	case "seeked":
		return SeekedEvent{Info: d.info()}, nil
	case "meter":
		return MeterEvent{Level: d.Value, Raw: d.RawValue}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", p.Event)
	}
}
