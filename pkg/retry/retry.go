// Package retry implements the blocking, bounded-time retry loop used by
// the object-store and stream client adapters. It is a closure and a time
// budget, not an async primitive (spec's "coroutine-free retry").
package retry

import (
	"context"
	"time"

	"lsmcloud/pkg/dberrors"
)

// DefaultSleep is the fixed inter-attempt sleep mandated by spec: 100ms.
const DefaultSleep = 100 * time.Millisecond

// DefaultBudget is the default total retry budget: 10s.
const DefaultBudget = 10 * time.Second

// Transient reports whether err should be retried: it must be a
// dberrors.Error carrying Kind Transient. Any other error, including a
// plain non-kinded error, is treated as non-retryable.
func Transient(err error) bool {
	return dberrors.Is(err, dberrors.Transient)
}

// Do runs fn, retrying on errors for which isTransient returns true, with a
// fixed sleep between attempts, until budget elapses or ctx is done. A
// non-transient error is returned as is; once the budget is exhausted (or
// ctx is done) the result is a Timeout error wrapping the last error (or
// ctx's error).
func Do(ctx context.Context, budget time.Duration, isTransient func(error) bool, fn func() error) error {
	if budget <= 0 {
		budget = DefaultBudget
	}
	deadline := time.Now().Add(budget)

	var lastErr error
	for {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if time.Now().After(deadline) {
			return dberrors.New(dberrors.Timeout, "retry.Do", lastErr)
		}

		select {
		case <-ctx.Done():
			return dberrors.New(dberrors.Timeout, "retry.Do", ctx.Err())
		case <-time.After(DefaultSleep):
		}
	}
}
