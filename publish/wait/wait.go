package wait

import (
	"context"
	"time"
)

// Sleep blocks for d or until ctx is done, whichever comes
// first. It returns ctx.Err() when cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
