package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTrackerApplyUsesLastInfo(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	first := &Info{Duration: 5 * time.Second, Position: time.Second}
	last := &Info{Duration: 10 * time.Second, Position: 2 * time.Second}
	tr.Apply(nil, StatePlaying, first, nil, last, (*Info)(nil), "ignored")

	assert.Equal(t, StatePlaying, tr.State)
	assert.Equal(t, 10*time.Second, tr.Duration)
	assert.Equal(t, 2*time.Second, tr.Position)
	assert.Equal(t, clock.now, tr.LastSync)
}

func TestTrackerApplyError(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(errors.New("boom"), StatePlaying)
	assert.Equal(t, StateError, tr.State)
	assert.Equal(t, Unknown, tr.Position)
}

func TestTrackerApplyWithoutResultsKeepsInfo(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)
	tr.Apply(nil, StatePrepared, &Info{Duration: time.Second, Position: 0})
	synced := tr.LastSync

	clock.Advance(time.Second)
	tr.Apply(nil, StatePaused)

	assert.Equal(t, StatePaused, tr.State)
	assert.Equal(t, time.Second, tr.Duration)
	assert.Equal(t, synced, tr.LastSync)
}

func TestTrackerApplyPartialSkipsStamp(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)
	tr.Apply(nil, StatePrepared, &Info{Duration: 10 * time.Second, Position: 0})
	synced := tr.LastSync

	clock.Advance(3 * time.Second)
	tr.ApplyPartial(nil, StateBuffering, &Info{Duration: 12 * time.Second, Position: time.Second})

	assert.Equal(t, StateBuffering, tr.State)
	assert.Equal(t, 12*time.Second, tr.Duration)
	assert.Equal(t, time.Second, tr.Position)
	assert.Equal(t, synced, tr.LastSync)
}

func TestTrackerCurrentTime(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	assert.Equal(t, Unknown, tr.CurrentTime(1), "no info yet")

	tr.Apply(nil, StatePlaying, &Info{Duration: 10 * time.Second, Position: 2 * time.Second})
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 2500*time.Millisecond, tr.CurrentTime(1))
	assert.Equal(t, 3*time.Second, tr.CurrentTime(2))

	clock.Advance(time.Minute)
	assert.Equal(t, 10*time.Second, tr.CurrentTime(1), "clamped to duration")

	tr.State = StatePaused
	assert.Equal(t, 2*time.Second, tr.CurrentTime(1), "cached when not playing")
}

func TestTrackerCurrentTimeUnknownDuration(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)
	tr.Apply(nil, StatePlaying, &Info{Duration: Unknown, Position: 0})
	clock.Advance(time.Hour)
	assert.Equal(t, time.Hour, tr.CurrentTime(1), "live streams are not clamped")
}

func TestTrackerSyncAndReset(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)
	tr.Apply(nil, StatePlaying, &Info{Duration: 10 * time.Second, Position: 9 * time.Second})

	clock.Advance(time.Second)
	tr.Sync(0)
	assert.Equal(t, StatePlaying, tr.State)
	assert.Equal(t, time.Duration(0), tr.Position)
	assert.Equal(t, clock.now, tr.LastSync)

	tr.Reset()
	assert.Equal(t, StateIdle, tr.State)
	assert.Equal(t, Unknown, tr.Position)
	assert.Equal(t, Unknown, tr.Duration)
	assert.True(t, tr.LastSync.IsZero())
}
