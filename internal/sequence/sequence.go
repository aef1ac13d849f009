// Package sequence runs the sub-steps of a compound media operation.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// Step is one unit of work in a compound operation. A step may itself run
// a compound operation. Its result is collected for the completion.
type Step func(ctx context.Context) (any, error)

// Series runs steps strictly in order and stops at the first failure.
// It returns the results collected so far together with that error.
func Series(ctx context.Context, steps ...Step) ([]any, error) {
	results := make([]any, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := step(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Sequencer runs compound operations for one controller. Separate Run calls
// are not serialized against each other; only the steps of a single call are.
type Sequencer struct {
	owner   string
	pending atomic.Int32
}

// New returns a sequencer whose log lines are attributed to owner.
func New(owner string) *Sequencer {
	return &Sequencer{owner: owner}
}

// Run executes steps in order on the calling goroutine, then invokes done
// exactly once with the first error or the collected results. Errors are
// prefixed with op unless they already carry one as a *media.Error.
func (s *Sequencer) Run(ctx context.Context, op string, steps []Step, done func(results []any, err error)) {
	s.pending.Add(1)
	defer s.pending.Add(-1)

	slog.Debug("Running operation", "owner", s.owner, "op", op, "steps", len(steps))
	results, err := Series(ctx, steps...)
	if err != nil {
		slog.Debug("Operation failed", "owner", s.owner, "op", op, "completed", len(results), "error", err)
		if _, ok := media.CodeOf(err); !ok {
			err = fmt.Errorf("%s: %w", op, err)
		}
		done(nil, err)
		return
	}
	done(results, nil)
}

// Pending reports how many operations are currently running.
func (s *Sequencer) Pending() int {
	return int(s.pending.Load())
}
