package store

import "errors"

// ErrNotFound means the address is unknown to the backend. Permanent:
// callers must surface it, never retry it.
var ErrNotFound = errors.New("store: content not found")

// ErrTransient wraps backend failures that are worth retrying with
// backoff (timeouts, rate limits, 5xx from a gateway).
var ErrTransient = errors.New("store: transient backend failure")
