// Package retry provides the fixed-delay retry helper used for outbound
// store and RPC calls (spec.md §7's "small retry-with-backoff"). Grounded
// on original_source/ssss/src/utils.rs's retry/retry_times: a 1.5s fixed
// backoff, logged at warn, with an optional attempt limit. Idempotent
// operations only — never wrap a cryptographic verification in this.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Delay is the fixed backoff between attempts, matching utils.rs's
// sleep(Duration::from_millis(1500)).
const Delay = 1500 * time.Millisecond

// ErrExceeded is returned by Times when limit attempts have all failed.
var ErrExceeded = errors.New("retry: attempts exceeded")

// Forever retries f until it succeeds or ctx is done, logging each
// failure at warn via log. There is no attempt limit, mirroring
// utils.rs's retry (used where giving up isn't an option, e.g. RPC
// polling).
func Forever[T any](ctx context.Context, log *slog.Logger, f func(context.Context) (T, error)) (T, error) {
	var zero T
	for {
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		if log != nil {
			log.WarnContext(ctx, "retrying failed operation", "error", err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(Delay):
		}
	}
}

// Times retries f up to limit attempts, returning ErrExceeded if none
// succeed. Mirrors utils.rs's retry_times.
func Times[T any](ctx context.Context, log *slog.Logger, limit uint64, f func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := uint64(0); attempt < limit; attempt++ {
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if log != nil {
			log.WarnContext(ctx, "retrying failed operation", "error", err, "attempt", attempt+1, "limit", limit)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(Delay):
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrExceeded, lastErr)
}
