package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    Event
	}{
		{
			name:    "ended",
			payload: Payload{Event: "ended"},
			want:    EndedEvent{},
		},
		{
			name:    "looped",
			payload: Payload{Event: "looped"},
			want:    LoopedEvent{},
		},
		{
			name:    "force pause",
			payload: Payload{Event: "forcePause"},
			want:    ForcePauseEvent{},
		},
		{
			name:    "meter",
			payload: Payload{Event: "meter", Data: map[string]any{"value": -12.5, "rawValue": 3000}},
			want:    MeterEvent{Level: -12.5, Raw: 3000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.payload.Event, got.Name())
		})
	}
}

func TestDecodeInfoPayloads(t *testing.T) {
	ev, err := Decode(Payload{Event: "pause", Data: map[string]any{"duration": 10000, "position": "2500"}})
	require.NoError(t, err)

	pause, ok := ev.(PauseEvent)
	require.True(t, ok)
	info, present := pause.Info.Get()
	require.True(t, present)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.Equal(t, 2500*time.Millisecond, info.Position)

	ev, err = Decode(Payload{Event: "buffering", Data: map[string]any{"percent": 40, "duration": -1}})
	require.NoError(t, err)
	buffering := ev.(BufferingEvent)
	assert.Equal(t, 40.0, buffering.Buffered)
	info, present = buffering.Info.Get()
	require.True(t, present)
	assert.Equal(t, Unknown, info.Duration)
	assert.Equal(t, Unknown, info.Position)

	ev, err = Decode(Payload{Event: "progress", Data: map[string]any{"percent": 10}})
	require.NoError(t, err)
	assert.False(t, ev.(ProgressEvent).Info.IsPresent())
}

func TestDecodeError(t *testing.T) {
	ev, err := Decode(Payload{Event: "error", Data: map[string]any{"err": "notfound", "message": "gone"}})
	require.NoError(t, err)
	errEvent := ev.(ErrorEvent)
	assert.True(t, errors.Is(errEvent.Err, ErrNotFound))
	assert.Contains(t, errEvent.Err.Error(), "gone")

	ev, err = Decode(Payload{Event: "error", Data: "device unplugged"})
	require.NoError(t, err)
	assert.True(t, errors.Is(ev.(ErrorEvent).Err, ErrStartFail))
}

func TestDecodeUnknown(t *testing.T) {
	_, err := Decode(Payload{Event: "warp"})
	assert.Error(t, err)

	_, err = Decode(Payload{Event: "pause", Data: map[string]any{"position": "soon"}})
	assert.Error(t, err)
}

func TestErrorMatching(t *testing.T) {
	err := NewError(CodeSeekFail, "seek", errors.New("superseded"))
	assert.True(t, errors.Is(err, ErrSeekSuperseded))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "seek: seekfail: superseded", err.Error())

	wrapped := errors.Join(errors.New("context"), Errorf(CodeNoPath, "prepare", "empty path %q", ""))
	code, ok := CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeNoPath, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
