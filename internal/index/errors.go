package index

import "errors"

// ErrNotFound means the id is unknown to the index.
var ErrNotFound = errors.New("index: record not found")

// ErrDuplicate rejects a second Put for an existing envelope id. The
// ledger is append-only: an envelope is written once and never
// replaced.
var ErrDuplicate = errors.New("index: envelope already recorded")
