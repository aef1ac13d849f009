package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

type fixture struct {
	rec  *Controller
	fake *engine.FakeRecorder
	fs   afero.Fs
	rt   *engine.Runtime
}

func newFixture(t *testing.T, path string, opts Options) *fixture {
	t.Helper()
	rt := engine.NewRuntime()
	fs := afero.NewMemMapFs()
	fake := engine.NewFakeRecorder(rt.Bus, fs, "/recordings")

	rec, err := New(rt, fake, path, opts)
	require.NoError(t, err)
	return &fixture{rec: rec, fake: fake, fs: fs, rt: rt}
}

func wait[T any](t *testing.T, f *mo.Future[T]) T {
	t.Helper()
	v, err := f.Collect()
	require.NoError(t, err)
	return v
}

func TestRecordScenario(t *testing.T) {
	f := newFixture(t, "take1.aac", DefaultOptions())
	ctx := context.Background()

	fsPath := wait(t, f.rec.Record(ctx))
	assert.Equal(t, "/recordings/take1.aac", fsPath)
	assert.Equal(t, fsPath, f.rec.FsPath())
	assert.Equal(t, media.StateRecording, f.rec.State())
	assert.True(t, f.rec.IsRecording())
	assert.True(t, f.rec.CanStop())

	stopped := wait(t, f.rec.ToggleRecord(ctx))
	assert.True(t, stopped)
	assert.Equal(t, media.StateDestroyed, f.rec.State())
	assert.Equal(t, 1, f.fake.CallCount("stop"))
	assert.Equal(t, 0, f.fake.CallCount("destroy"), "auto-destroy lets the engine release the handle")
	assert.Equal(t, 0, f.rt.Bus.Len())

	_, err := f.rec.Record(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrDestroyed), "a stopped recorder cannot be reused")
}

func TestToggleRecordStarts(t *testing.T) {
	f := newFixture(t, "take.m4a", DefaultOptions())
	stopped := wait(t, f.rec.ToggleRecord(context.Background()))
	assert.False(t, stopped)
	assert.Equal(t, media.StateRecording, f.rec.State())
}

func TestPrepareWipesDestination(t *testing.T) {
	f := newFixture(t, "take.wav", DefaultOptions())
	require.NoError(t, afero.WriteFile(f.fs, "/recordings/take.wav", []byte("previous take"), 0644))

	fsPath := wait(t, f.rec.Prepare(context.Background()))
	assert.Equal(t, media.StatePrepared, f.rec.State())
	assert.True(t, f.rec.CanRecord())

	data, err := afero.ReadFile(f.fs, fsPath)
	require.NoError(t, err)
	assert.Empty(t, data)

	wait(t, f.rec.Record(context.Background()))
	assert.Equal(t, 1, f.fake.CallCount("prepare"), "prepared recorders are not prepared again")
}

func TestPrepareFailure(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	f.fake.FailNext("prepare", media.Errorf(media.CodeInvalidPath, "prepare", "read-only"))

	_, err := f.rec.Record(context.Background()).Collect()
	assert.True(t, errors.Is(err, media.ErrInvalidPath))
	assert.Equal(t, media.StateIdle, f.rec.State())
	assert.Empty(t, f.rec.FsPath())
	assert.Equal(t, 0, f.fake.CallCount("record"))
}

func TestRecordFailureResets(t *testing.T) {
	f := newFixture(t, "a.aac", DefaultOptions())
	ctx := context.Background()
	f.fake.FailNext("record", media.Errorf(media.CodeStartFail, "record", "device busy"))

	_, err := f.rec.Record(ctx).Collect()
	assert.ErrorIs(t, err, media.ErrStartFail)
	assert.Equal(t, media.StateIdle, f.rec.State())
	assert.Empty(t, f.rec.FsPath())

	fsPath := wait(t, f.rec.Record(ctx))
	assert.Equal(t, "/recordings/a.aac", fsPath)
	assert.Equal(t, 2, f.fake.CallCount("prepare"), "prepared again from idle")
	assert.Equal(t, media.StateRecording, f.rec.State())
}

func TestPause(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	ctx := context.Background()

	wait(t, f.rec.Prepare(ctx))
	wait(t, f.rec.Pause(ctx))
	assert.Equal(t, media.StatePaused, f.rec.State())
	assert.Equal(t, 0, f.fake.CallCount("pause"), "nothing to pause before recording")

	wait(t, f.rec.Record(ctx))
	wait(t, f.rec.Pause(ctx))
	assert.True(t, f.rec.IsPaused())
	assert.Equal(t, 1, f.fake.CallCount("pause"))

	wait(t, f.rec.Record(ctx))
	assert.Equal(t, media.StateRecording, f.rec.State())
}

func TestPauseNotSupported(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	f.fake.SupportsPause = false
	ctx := context.Background()

	wait(t, f.rec.Record(ctx))
	_, err := f.rec.Pause(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrNotSupported))
	assert.Equal(t, media.StateRecording, f.rec.State(), "still recording")

	wait(t, f.rec.Stop(ctx))
	assert.Equal(t, media.StateDestroyed, f.rec.State())
	assert.Equal(t, 1, f.fake.CallCount("stop"), "the capture is finalized")
	assert.Equal(t, 0, f.fake.CallCount("destroy"))
}

func TestStopWithoutRecording(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	wait(t, f.rec.Stop(context.Background()))
	assert.Equal(t, media.StateDestroyed, f.rec.State())
	assert.Equal(t, 0, f.fake.CallCount("stop"))
	assert.Equal(t, 0, f.fake.CallCount("destroy"), "an idle recorder has no handle")
}

func TestStopPreparedReleasesHandle(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	ctx := context.Background()
	wait(t, f.rec.Prepare(ctx))

	wait(t, f.rec.Stop(ctx))
	assert.Equal(t, media.StateDestroyed, f.rec.State())
	assert.Equal(t, 0, f.fake.CallCount("stop"))
	assert.False(t, f.fake.Has(f.rec.ID()))
}

func TestStopWithoutAutoDestroy(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoDestroy = false
	f := newFixture(t, "take.aac", opts)
	ctx := context.Background()

	wait(t, f.rec.Record(ctx))
	wait(t, f.rec.Stop(ctx))
	assert.Equal(t, 1, f.fake.CallCount("stop"))
	assert.Equal(t, 1, f.fake.CallCount("destroy"))
	assert.False(t, f.fake.Has(f.rec.ID()))
	assert.Equal(t, "/recordings/take.aac", f.rec.FsPath(), "the path survives stop")
}

func TestStopFailure(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	ctx := context.Background()
	wait(t, f.rec.Record(ctx))

	f.fake.FailNext("stop", media.Errorf(media.CodeStopFail, "stop", "no data"))
	_, err := f.rec.Stop(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrStopFail))
	assert.Equal(t, media.StateIdle, f.rec.State())

	wait(t, f.rec.Destroy(ctx))
	assert.Equal(t, media.StateDestroyed, f.rec.State())
}

func TestEndedEventCapsAtPrepared(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())

	f.fake.Emit(f.rec.ID(), media.EndedEvent{})
	assert.Equal(t, media.StateIdle, f.rec.State(), "never raised")

	wait(t, f.rec.Record(context.Background()))
	f.fake.Emit(f.rec.ID(), media.EndedEvent{})
	assert.Equal(t, media.StatePrepared, f.rec.State())
}

func TestErrorEventResets(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	ctx := context.Background()
	wait(t, f.rec.Record(ctx))

	f.fake.Emit(f.rec.ID(), media.ErrorEvent{Err: media.ErrStartFail})
	assert.Equal(t, media.StateIdle, f.rec.State())
	assert.Empty(t, f.rec.FsPath())

	wait(t, f.rec.Record(ctx))
	assert.Equal(t, 2, f.fake.CallCount("prepare"))
	assert.Equal(t, media.StateRecording, f.rec.State())
}

func TestMeterEvent(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	sub := f.rec.Subscribe()

	f.fake.Emit(f.rec.ID(), media.MeterEvent{Level: -18, Raw: 4000})
	assert.Equal(t, -18.0, f.rec.Level())

	select {
	case e := <-sub.Events:
		assert.Equal(t, media.MeterEvent{Level: -18, Raw: 4000}, e)
	case <-time.After(time.Second):
		t.Fatal("meter event not forwarded")
	}
}

func TestDestroy(t *testing.T) {
	f := newFixture(t, "take.aac", DefaultOptions())
	ctx := context.Background()
	wait(t, f.rec.Record(ctx))

	wait(t, f.rec.Destroy(ctx))
	assert.Equal(t, media.StateDestroyed, f.rec.State())
	assert.Empty(t, f.rec.FsPath())
	assert.False(t, f.fake.Has(f.rec.ID()))

	wait(t, f.rec.Destroy(ctx))
	assert.Equal(t, 1, f.fake.CallCount("destroy"))

	_, err := f.rec.Pause(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrDestroyed))
	_, err = f.rec.Stop(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrDestroyed))
	_, err = f.rec.Prepare(ctx).Collect()
	assert.True(t, errors.Is(err, media.ErrDestroyed))
}

func TestNewValidation(t *testing.T) {
	rt := engine.NewRuntime()
	fake := engine.NewFakeRecorder(rt.Bus, afero.NewMemMapFs(), "/")

	_, err := New(rt, fake, "", DefaultOptions())
	assert.True(t, errors.Is(err, media.ErrNoPath))

	_, err = New(rt, fake, "take.xyz", DefaultOptions())
	assert.True(t, errors.Is(err, media.ErrInvalidPath))

	opts := DefaultOptions()
	opts.Format = "aac"
	rec, err := New(rt, fake, "take.xyz", opts)
	require.NoError(t, err)
	assert.Equal(t, "aac", rec.Options().Encoder)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"mono", func(o *Options) { o.Channels = 1 }, false},
		{"zero bitrate", func(o *Options) { o.Bitrate = 0 }, true},
		{"three channels", func(o *Options) { o.Channels = 3 }, true},
		{"negative sample rate", func(o *Options) { o.SampleRate = -1 }, true},
		{"unknown quality", func(o *Options) { o.Quality = "ultra" }, true},
		{"unknown format", func(o *Options) { o.Format = "mp3" }, true},
		{"known format", func(o *Options) { o.Format = "webm" }, false},
		{"negative metering", func(o *Options) { o.MeteringInterval = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptionsResolve(t *testing.T) {
	tests := []struct {
		path    string
		format  string
		encoder string
	}{
		{"a.aac", "aac", "aac"},
		{"a.M4A", "mp4", "aac"},
		{"a.mp4", "mp4", "aac"},
		{"a.ogg", "ogg", "vorbis"},
		{"a.webm", "webm", "opus"},
		{"a.amr", "amr", "amr_nb"},
		{"a.wav", "wav", "pcm"},
		{"a.flac", "flac", "flac"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DefaultOptions().resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, got.Format)
			assert.Equal(t, tt.encoder, got.Encoder)
			assert.Equal(t, "medium", got.Quality)
			assert.Equal(t, 128000, got.Bitrate)
		})
	}

	o := DefaultOptions()
	o.Encoder = "libfdk_aac"
	got, err := o.resolve("a.aac")
	require.NoError(t, err)
	assert.Equal(t, "libfdk_aac", got.Encoder)
}
