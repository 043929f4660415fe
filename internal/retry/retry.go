// Package retry wraps a single-item transfer attempt with bounded retries,
// exponential backoff, and optional post-transfer verification.
package retry

import (
	"context"
	"time"
)

// Policy bounds the retry loop for one item.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the backoff slept after failed attempt n (1-based):
// min(initial * 2^(n-1), cap).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs execute up to MaxAttempts times. When a verifier is supplied, an
// attempt only counts as successful once verification also passes; a
// verification failure consumes the attempt and the loop continues. Returns
// the number of attempts consumed and the final error (nil on success).
//
// Cancellation during backoff stops the loop; the in-flight attempt itself is
// never interrupted here.
func Do(ctx context.Context, p Policy, execute func(context.Context) error, verify func(context.Context) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := execute(ctx)
		if err == nil && verify != nil {
			err = verify(ctx)
		}
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			return attempt, lastErr
		}
		if !sleep(ctx, p.Delay(attempt)) {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
