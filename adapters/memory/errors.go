package memory

import "errors"

// ErrUnavailable simulates a store connection failure.
var ErrUnavailable = errors.New("balance store unavailable")

// ErrNotFound reports a missing account counter.
var ErrNotFound = errors.New("account not found")
