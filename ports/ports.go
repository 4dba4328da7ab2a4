// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides token hashing for operator authentication.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Balance Store Port
// -----------------------------------------------------------------------------

// BalanceStore is the remote integer counter holding each account's
// remaining funds in micro-units. It is shared by every session billing
// the same account; its atomic decrement is the sole serialization
// point across sessions.
type BalanceStore interface {
	// Debit atomically decrements the account's counter by amount
	// (encoded to micro-units, rounded up). A store failure returns an
	// error with the counter untouched; a debit is never partially
	// applied.
	Debit(ctx context.Context, account string, amount float64) error

	// Balance reads and decodes the account's counter. Any read
	// failure, including a missing key, is returned as an error; the
	// caller decides whether to fail open or closed.
	Balance(ctx context.Context, account string) (float64, error)

	// Credit adds funds to the account's counter. Used by operator
	// tooling to top accounts up.
	Credit(ctx context.Context, account string, amount float64) error
}

// -----------------------------------------------------------------------------
// Session Runtime Ports
// -----------------------------------------------------------------------------

// Lifecycle is the coarse state of a session in the host runtime.
type Lifecycle string

const (
	LifecycleRouting   Lifecycle = "routing"
	LifecycleExecuting Lifecycle = "executing"
	LifecycleHangup    Lifecycle = "hangup"
	LifecycleReporting Lifecycle = "reporting"
)

// Terminal reports whether the session has finished (no further
// threshold actions should be attempted on it).
func (l Lifecycle) Terminal() bool {
	return l == LifecycleHangup || l == LifecycleReporting
}

// Session is a live communication session owned by the host runtime.
// The billing core reads its configuration variables, publishes totals
// back, and asks the runtime to execute actions or reroute the call.
type Session interface {
	// ID returns the stable session identifier.
	ID() string

	// Variable returns a named string variable, "" if unset.
	Variable(name string) string

	// SetVariable stores a named string variable on the session.
	SetVariable(name, value string)

	// AnswerTime returns when the session was answered, zero if it has
	// not been answered yet.
	AnswerTime() time.Time

	// Lifecycle returns the session's current lifecycle state.
	Lifecycle() Lifecycle

	// Execute runs a named in-session action (e.g. play a warning).
	Execute(ctx context.Context, action string) error

	// Transfer reroutes the session to a new destination.
	Transfer(ctx context.Context, destination string) error
}

// SessionRegistry resolves live sessions by identifier. A session that
// has ended is simply absent.
type SessionRegistry interface {
	Lookup(id string) (Session, bool)
}

// HeartbeatScheduler delivers periodic billing triggers for a session.
type HeartbeatScheduler interface {
	// Enable starts (or retunes) the session's heartbeat at the given
	// interval.
	Enable(sessionID string, interval time.Duration)

	// Disable stops the session's heartbeat.
	Disable(sessionID string)
}

// -----------------------------------------------------------------------------
// Notification Port
// -----------------------------------------------------------------------------

// NotificationKind classifies a billing trigger.
type NotificationKind string

const (
	NotifyHeartbeat NotificationKind = "heartbeat"
	NotifyRouting   NotificationKind = "routing"
	NotifyExecute   NotificationKind = "execute"
	NotifyMedia     NotificationKind = "media"
	NotifyHangup    NotificationKind = "hangup"
)

// Notification is a billing trigger for one session. ID is assigned by
// the emitter for log correlation.
type Notification struct {
	ID        string
	SessionID string
	Kind      NotificationKind
}
