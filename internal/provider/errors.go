// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPreconditionFailed signals that a conditional upload lost the race:
	// the backend's current revision differs from ifMatch. Expected during
	// normal operation; the orchestrator re-pulls and retries.
	ErrPreconditionFailed = errors.New("remote revision changed since last pull")

	// ErrAuthExpired signals expired or invalid credentials. Never retried
	// automatically; surfaced to the UI collaborator for re-auth.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrNotFound signals that the vault does not exist on the backend.
	ErrNotFound = errors.New("vault not found on backend")

	// ErrRetryable marks transient transport failures (timeouts, 5xx,
	// throttling). Matched via errors.Is; a wrapped TransientError may carry
	// a server-mandated delay.
	ErrRetryable = errors.New("transient backend error")

	// ErrChangesUnsupported is returned by ListChanges on backends without
	// a delta/cursor API.
	ErrChangesUnsupported = errors.New("backend does not support change listing")
)

// TransientError wraps a transient failure together with the backend's
// Retry-After hint, when one was provided. It matches ErrRetryable under
// errors.Is so callers never need the concrete type unless they want the
// delay.
type TransientError struct {
	Status int
	Delay  time.Duration
	cause  error
}

func (e *TransientError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("transient backend error (status %d, retry after %s): %v", e.Status, e.Delay, e.cause)
	}
	return fmt.Sprintf("transient backend error (status %d): %v", e.Status, e.cause)
}

func (e *TransientError) Unwrap() error { return e.cause }

func (e *TransientError) Is(target error) bool { return target == ErrRetryable }

// RetryAfter extracts the server-mandated delay from a transient error
// chain. Returns false when the error carries no delay hint.
func RetryAfter(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.Delay > 0 {
		return te.Delay, true
	}
	return 0, false
}
