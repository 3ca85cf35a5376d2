package ticker

import (
	"context"
	"time"
)

// Periodically runs task every interval until ctx is done. Errors are handed
// to onErr and do not stop the loop; the next tick retries.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error, onErr func(error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
