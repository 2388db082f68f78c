package replication

import (
	"context"
	"time"
)

// backoff yields capped exponential delays.
type backoff struct {
	base, max time.Duration
	next      time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, next: base}
}

func (b *backoff) reset() { b.next = b.base }

// wait sleeps for the next delay. It returns false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	d := b.next
	b.next = min(b.next*2, b.max)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retry calls fn until it succeeds, attempts run out, ctx ends, or
// transient reports the error as permanent.
func retry(ctx context.Context, attempts int, b *backoff, transient func(error) bool, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !transient(err) || i == attempts-1 {
			break
		}
		if !b.wait(ctx) {
			return ctx.Err()
		}
	}
	return err
}
