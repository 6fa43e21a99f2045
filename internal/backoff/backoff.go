package backoff

import (
	"context"
	"fmt"
	"time"
)

// Policy is a capped exponential backoff: Initial, 2*Initial, ... up to Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Validate reports a policy that would spin or never grow.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("backoff: initial wait must be > 0, got %v", p.Initial)
	}
	if p.Max < p.Initial {
		return fmt.Errorf("backoff: max wait %v is below initial wait %v", p.Max, p.Initial)
	}
	return nil
}

// Next returns the wait following current.
func (p Policy) Next(current time.Duration) time.Duration {
	if current <= 0 {
		return p.Initial
	}
	next := current * 2
	if next > p.Max {
		next = p.Max
	}
	return next
}

// Attempt describes a failed try passed to the OnRetry hook.
type Attempt struct {
	Number    int
	Err       error
	NextRetry time.Duration
}

// Retry calls fn until it succeeds or ctx is done, sleeping between attempts
// according to p. onRetry may be nil. The returned error wraps the last
// failure when ctx ends first.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(Attempt)) (int, error) {
	attempt := 0
	wait := p.Initial

	for {
		attempt++

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("gave up after %d attempts: %w", attempt, err)

		case <-timer.C:
			if onRetry != nil {
				onRetry(Attempt{Number: attempt, Err: err, NextRetry: wait})
			}
			wait = p.Next(wait)
		}
	}
}

// Sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
