package media

import (
	"time"

	"github.com/samber/lo"
)

// Unknown marks a duration or position that has not been reported yet.
const Unknown time.Duration = -1

// Info is a duration/position pair reported by a native engine.
type Info struct {
	Duration time.Duration `json:"duration" mapstructure:"duration"`
	Position time.Duration `json:"position" mapstructure:"position"`
}

// Clock returns the current wall-clock time.
type Clock func() time.Time

// Tracker holds the state and last-known media info of one controller and
// extrapolates the playback position between syncs.
//
// Tracker is not safe for concurrent use; its owner serializes access.
type Tracker struct {
	State    State
	Duration time.Duration
	Position time.Duration
	LastSync time.Time

	now Clock
}

// NewTracker returns an idle tracker with no info. A nil clock means time.Now.
func NewTracker(now Clock) Tracker {
	if now == nil {
		now = time.Now
	}
	return Tracker{
		State:    StateIdle,
		Duration: Unknown,
		Position: Unknown,
		now:      now,
	}
}

// Apply moves to target, or to StateError when err is set, and syncs info
// from the last *Info found in results.
func (t *Tracker) Apply(err error, target State, results ...any) {
	t.update(err, target, true, results)
}

// ApplyPartial is Apply without refreshing LastSync. It is used for
// low-confidence updates such as buffering estimates.
func (t *Tracker) ApplyPartial(err error, target State, results ...any) {
	t.update(err, target, false, results)
}

func (t *Tracker) update(err error, target State, stamp bool, results []any) {
	if err != nil {
		t.State = StateError
	} else {
		t.State = target
	}

	infos := lo.FilterMap(results, func(r any, _ int) (*Info, bool) {
		info, ok := r.(*Info)
		return info, ok && info != nil
	})
	info := lo.LastOr(infos, nil)
	if info == nil {
		return
	}
	t.Duration = info.Duration
	t.Position = info.Position
	if stamp {
		t.LastSync = t.now()
	}
}

// Sync replaces the cached position and refreshes LastSync without touching
// the state.
func (t *Tracker) Sync(position time.Duration) {
	t.Position = position
	t.LastSync = t.now()
}

// CurrentTime reports the extrapolated playback position, or Unknown if no
// info was ever captured.
func (t *Tracker) CurrentTime(speed float64) time.Duration {
	if t.Position < 0 {
		return Unknown
	}
	if t.State != StatePlaying {
		return t.Position
	}

	elapsed := t.now().Sub(t.LastSync)
	pos := t.Position + time.Duration(float64(elapsed)*speed)
	if t.Duration >= 0 && pos > t.Duration {
		pos = t.Duration
	}
	return pos
}

// Reset clears all info and returns to idle.
func (t *Tracker) Reset() {
	t.State = StateIdle
	t.Duration = Unknown
	t.Position = Unknown
	t.LastSync = time.Time{}
}

// Now exposes the tracker's clock.
func (t *Tracker) Now() time.Time {
	return t.now()
}
