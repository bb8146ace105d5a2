// Package retry runs an operation again on transient failure, backing off
// exponentially with jitter between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// MaxDelay caps a single backoff sleep.
const MaxDelay = 30 * time.Second

// PermanentError marks a failure that another attempt cannot fix, such as
// a 4xx from an upstream provider.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a permanent error, ctx ends, or
// attempts run out. The first retry waits about baseDelay; each later one
// doubles it (+-25% jitter, at most MaxDelay). A permanent error is
// returned unwrapped.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt >= attempts {
			return err
		}

		t := time.NewTimer(jittered(delay))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > MaxDelay {
			delay = MaxDelay
		}
	}
}

// jittered spreads d by +-25% so clients failing together do not retry
// together.
func jittered(d time.Duration) time.Duration {
	spread := int64(d / 4)
	if spread <= 0 {
		return d
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := int64(binary.LittleEndian.Uint64(b[:]) >> 1) //nolint:gosec // shifted into int64 range
	return d - time.Duration(spread) + time.Duration(n%(2*spread+1))
}
