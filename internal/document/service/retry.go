package service

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/document-service/internal/document"
)

// Backoff controls Modify's retry loop.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Attempts: 5, Initial: 10 * time.Millisecond, Max: 500 * time.Millisecond}
}

// Modify reads the latest revision, lets mutate derive the next draft and
// writes it, retrying on ConcurrentModificationError with exponential
// backoff. Any other error, including one from mutate, stops the loop.
func Modify(ctx context.Context, svc Service, id string, b Backoff, mutate func(cur *document.Revision) (Draft, error)) (int, error) {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	wait := b.Initial
	var lastErr error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return 0, ctx.Err()
			case <-t.C:
			}
			wait *= 2
			if b.Max > 0 && wait > b.Max {
				wait = b.Max
			}
		}
		cur, err := svc.Get(ctx, id, Latest)
		if err != nil {
			return 0, err
		}
		d, err := mutate(cur)
		if err != nil {
			return 0, err
		}
		rev, err := svc.Update(ctx, id, cur.Number, d)
		if err == nil {
			return rev, nil
		}
		if !errors.Is(err, document.ErrConcurrentModification) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}
