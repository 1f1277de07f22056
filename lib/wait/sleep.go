package wait

import (
	"context"
	"time"

	"github.com/gravitational/trace"
)

// Sleep is the context-interruptable suspension primitive used between
// retry attempts outside the polling loop itself. It returns nil once d
// has elapsed, or the context error when ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	case <-time.After(d):
		return nil
	}
}
