package bot

import (
	"context"
	"time"
)

// RobustExecute calls f up to n times, sleeping d between attempts, until f
// reports success. It gives up early when ctx is done.
func RobustExecute(ctx context.Context, n int, d time.Duration, f func() bool) bool {
	if n < 1 {
		n = 1
	}

	for i := 0; i < n; i++ {
		if f() {
			return true
		}

		if i == n-1 {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
	}
	return false
}
