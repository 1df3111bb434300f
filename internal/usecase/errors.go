package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrTransientFetch marks upstream failures worth retrying: 429, 5xx,
	// transport errors. ErrPermanentFetch marks everything else (other 4xx,
	// malformed payloads) where a retry cannot help.
	ErrTransientFetch = errors.New("transient fetch failure")
	ErrPermanentFetch = errors.New("permanent fetch failure")

	// ErrReplayInconsistency is returned when a replayed timeline cannot be
	// reconciled with the recorded final score.
	ErrReplayInconsistency = errors.New("timeline replay inconsistency")

	// ErrLockTimeout is returned when a refresh lock holder overruns the
	// configured refresh timeout and the lock is reclaimed.
	ErrLockTimeout = errors.New("refresh lock timeout")
)
