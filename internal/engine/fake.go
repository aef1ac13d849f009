package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// Call records one invocation of a fake engine.
type Call struct {
	Op       string
	ID       ID
	Path     string
	Params   PlayerParams
	Position time.Duration
}

type fakeCalls struct {
	calls    []Call
	failures map[string]error
}

func (f *fakeCalls) record(c Call) error {
	f.calls = append(f.calls, c)
	if err, ok := f.failures[c.Op]; ok {
		delete(f.failures, c.Op)
		return err
	}
	return nil
}

func (f *fakeCalls) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

type pendingSeek struct {
	position time.Duration
	done     chan error
}

type fakeHandle struct {
	path     string
	opts     PlayerOptions
	params   PlayerParams
	position time.Duration
	playing  bool
	seek     *pendingSeek
}

// FakePlayer is an in-memory PlayerEngine. It behaves like a well-mannered
// platform engine and lets callers inject failures, hold seeks, and emit
// events.
type FakePlayer struct {
	// Duration is reported for every prepared source.
	Duration time.Duration
	// HoldSeeks keeps seeks pending until ReleaseSeeks or a newer seek.
	HoldSeeks bool
	// EmitPause makes Pause also emit a PauseEvent, as some platforms do.
	EmitPause bool

	emitter Emitter

	mu      sync.Mutex
	handles map[ID]*fakeHandle
	fakeCalls
}

var _ PlayerEngine = (*FakePlayer)(nil)

// NewFakePlayer returns a fake that publishes its events through emitter.
func NewFakePlayer(emitter Emitter) *FakePlayer {
	return &FakePlayer{
		Duration:  10 * time.Second,
		emitter:   emitter,
		handles:   make(map[ID]*fakeHandle),
		fakeCalls: fakeCalls{failures: make(map[string]error)},
	}
}

// FailNext makes the next call of op fail with err.
func (f *FakePlayer) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls returns a copy of all recorded calls.
func (f *FakePlayer) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount reports how many times op was called.
func (f *FakePlayer) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count(op)
}

// Has reports whether a native handle exists for id.
func (f *FakePlayer) Has(id ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[id]
	return ok
}

// Params returns the parameters last applied to id.
func (f *FakePlayer) Params(id ID) PlayerParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.handles[id]; ok {
		return h.params
	}
	return PlayerParams{}
}

// Emit publishes e for id as if the engine raised it.
func (f *FakePlayer) Emit(id ID, e media.Event) {
	f.emitter.Emit(id, e)
}

func (f *FakePlayer) info(h *fakeHandle) *media.Info {
	return &media.Info{Duration: f.Duration, Position: h.position}
}

func (f *FakePlayer) handle(op string, id ID) (*fakeHandle, error) {
	h, ok := f.handles[id]
	if !ok {
		return nil, media.Errorf(media.CodeNotFound, op, "no player with id %d", id)
	}
	return h, nil
}

func (f *FakePlayer) Prepare(ctx context.Context, id ID, path string, opts PlayerOptions) (*media.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "prepare", ID: id, Path: path}); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, media.NewError(media.CodeNoPath, "prepare", nil)
	}
	h := &fakeHandle{path: path, opts: opts}
	f.handles[id] = h
	return f.info(h), nil
}

func (f *FakePlayer) Set(ctx context.Context, id ID, params PlayerParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "set", ID: id, Params: params}); err != nil {
		return err
	}
	h, err := f.handle("set", id)
	if err != nil {
		return err
	}
	mergeParams(&h.params, params)
	return nil
}

func mergeParams(dst *PlayerParams, src PlayerParams) {
	if src.Volume != nil {
		dst.Volume = src.Volume
	}
	if src.Pan != nil {
		dst.Pan = src.Pan
	}
	if src.Speed != nil {
		dst.Speed = src.Speed
	}
	if src.Pitch != nil {
		dst.Pitch = src.Pitch
	}
	if src.Looping != nil {
		dst.Looping = src.Looping
	}
	if src.WakeLock != nil {
		dst.WakeLock = src.WakeLock
	}
}

func (f *FakePlayer) Play(ctx context.Context, id ID) (*media.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "play", ID: id}); err != nil {
		return nil, err
	}
	h, err := f.handle("play", id)
	if err != nil {
		return nil, err
	}
	h.playing = true
	return f.info(h), nil
}

func (f *FakePlayer) Pause(ctx context.Context, id ID) (*media.Info, error) {
	f.mu.Lock()
	if err := f.record(Call{Op: "pause", ID: id}); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	h, err := f.handle("pause", id)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	h.playing = false
	info := f.info(h)
	emit := f.EmitPause
	f.mu.Unlock()

	if emit {
		f.emitter.Emit(id, media.PauseEvent{Info: mo.Some(*info)})
	}
	return info, nil
}

func (f *FakePlayer) Stop(ctx context.Context, id ID) (*media.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "stop", ID: id}); err != nil {
		return nil, err
	}
	h, err := f.handle("stop", id)
	if err != nil {
		return nil, err
	}
	h.playing = false
	h.position = 0
	if h.opts.AutoDestroy {
		delete(f.handles, id)
	}
	return f.info(h), nil
}

func (f *FakePlayer) Seek(ctx context.Context, id ID, position time.Duration) (*media.Info, error) {
	f.mu.Lock()
	if err := f.record(Call{Op: "seek", ID: id, Position: position}); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	h, err := f.handle("seek", id)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if prev := h.seek; prev != nil {
		prev.done <- media.NewError(media.CodeSeekFail, "seek", fmt.Errorf("superseded by seek to %s", position))
		h.seek = nil
	}
	if !f.HoldSeeks {
		h.position = position
		info := f.info(h)
		f.mu.Unlock()
		return info, nil
	}

	ps := &pendingSeek{position: position, done: make(chan error, 1)}
	h.seek = ps
	f.mu.Unlock()

	select {
	case err := <-ps.done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h.position = ps.position
	return f.info(h), nil
}

// ReleaseSeeks completes every held seek.
func (f *FakePlayer) ReleaseSeeks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.handles {
		if h.seek != nil {
			h.seek.done <- nil
			h.seek = nil
		}
	}
}

// PendingSeeks reports how many seeks are being held.
func (f *FakePlayer) PendingSeeks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if h.seek != nil {
			n++
		}
	}
	return n
}

func (f *FakePlayer) Destroy(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "destroy", ID: id}); err != nil {
		return err
	}
	delete(f.handles, id)
	return nil
}

type fakeRecording struct {
	fsPath    string
	opts      RecorderOptions
	recording bool
}

// FakeRecorder is an in-memory RecorderEngine writing to an afero filesystem.
type FakeRecorder struct {
	// SupportsPause controls whether Pause succeeds or reports notsupported.
	SupportsPause bool

	emitter Emitter
	fs      afero.Fs
	dir     string

	mu      sync.Mutex
	handles map[ID]*fakeRecording
	fakeCalls
}

var _ RecorderEngine = (*FakeRecorder)(nil)

// NewFakeRecorder returns a fake that resolves relative paths under dir on fs.
func NewFakeRecorder(emitter Emitter, fs afero.Fs, dir string) *FakeRecorder {
	return &FakeRecorder{
		SupportsPause: true,
		emitter:       emitter,
		fs:            fs,
		dir:           dir,
		handles:       make(map[ID]*fakeRecording),
		fakeCalls:     fakeCalls{failures: make(map[string]error)},
	}
}

// FailNext makes the next call of op fail with err.
func (f *FakeRecorder) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// CallCount reports how many times op was called.
func (f *FakeRecorder) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count(op)
}

// Has reports whether a native handle exists for id.
func (f *FakeRecorder) Has(id ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[id]
	return ok
}

// Emit publishes e for id as if the engine raised it.
func (f *FakeRecorder) Emit(id ID, e media.Event) {
	f.emitter.Emit(id, e)
}

func (f *FakeRecorder) handle(op string, id ID) (*fakeRecording, error) {
	h, ok := f.handles[id]
	if !ok {
		return nil, media.Errorf(media.CodeNotFound, op, "no recorder with id %d", id)
	}
	return h, nil
}

func (f *FakeRecorder) Prepare(ctx context.Context, id ID, path string, opts RecorderOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "prepare", ID: id, Path: path}); err != nil {
		return "", err
	}
	if path == "" {
		return "", media.NewError(media.CodeNoPath, "prepare", nil)
	}

	fsPath := path
	if !filepath.IsAbs(fsPath) {
		fsPath = filepath.Join(f.dir, path)
	}
	if err := f.fs.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return "", media.NewError(media.CodeInvalidPath, "prepare", err)
	}
	if err := afero.WriteFile(f.fs, fsPath, nil, 0644); err != nil {
		return "", media.NewError(media.CodeInvalidPath, "prepare", err)
	}

	f.handles[id] = &fakeRecording{fsPath: fsPath, opts: opts}
	return fsPath, nil
}

func (f *FakeRecorder) Record(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "record", ID: id}); err != nil {
		return err
	}
	h, err := f.handle("record", id)
	if err != nil {
		return err
	}
	h.recording = true
	return nil
}

func (f *FakeRecorder) Pause(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "pause", ID: id}); err != nil {
		return err
	}
	if !f.SupportsPause {
		return media.NewError(media.CodeNotSupported, "pause", nil)
	}
	h, err := f.handle("pause", id)
	if err != nil {
		return err
	}
	h.recording = false
	return nil
}

func (f *FakeRecorder) Stop(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "stop", ID: id}); err != nil {
		return err
	}
	h, err := f.handle("stop", id)
	if err != nil {
		return err
	}
	h.recording = false
	if h.opts.AutoDestroy {
		delete(f.handles, id)
	}
	return nil
}

func (f *FakeRecorder) Destroy(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Op: "destroy", ID: id}); err != nil {
		return err
	}
	delete(f.handles, id)
	return nil
}
