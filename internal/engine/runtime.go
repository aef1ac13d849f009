package engine

import (
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// Runtime owns what controllers share: the event bridge, the clock, and the
// id sequence. Ids are never reused within one runtime.
type Runtime struct {
	Bus   *Bus
	Clock media.Clock

	ids atomic.Uint64
}

// NewRuntime returns a runtime with a fresh bus and the wall clock.
func NewRuntime() *Runtime {
	return &Runtime{
		Bus:   NewBus(),
		Clock: time.Now,
	}
}

// NextID allocates a new instance id.
func (r *Runtime) NextID() ID {
	return ID(r.ids.Add(1))
}
