// Package billing provides the per-session metering state machine and
// the pure charge arithmetic. All functions are deterministic with no
// side effects; the app layer owns locking, store access and actions.
package billing

import (
	"math"
	"time"

	"github.com/artpar/nibble/domain/money"
)

// State is the per-session billing record. A session moves between two
// states, Active and Paused; a zero PausedAt is the sole indicator of
// Active.
type State struct {
	LastBilled time.Time // end of the last window billed (or prepaid)
	Total      float64   // money charged to the session so far
	PausedAt   time.Time // zero = not paused
	Adjustment float64   // credit subtracted from the next charge

	LowActionRun bool // the low-balance action fired already
}

// NewState creates billing state for a session answered at the given
// time. Seeding from the answer time (not the current time) makes the
// first charge cover the whole answered portion of the call, even when
// billing engages late.
func NewState(answered time.Time) State {
	return State{LastBilled: answered}
}

// Paused reports whether billing is suspended.
func (s State) Paused() bool {
	return !s.PausedAt.IsZero()
}

// ChargeResult is the outcome of computing one billing window.
type ChargeResult struct {
	Amount  float64       // amount to debit (rate-scaled, net of Adjustment)
	Charged time.Duration // wall-clock span the amount covers
	Next    State         // state after the window is consumed
	OK      bool          // false when the clock ran backwards
}

// Charge computes the amount owed since the last billed instant.
//
// When increment > 0 the session is billed in discrete blocks of that
// length: a window shorter than one block still costs a full block, a
// longer one costs the smallest multiple of blocks that covers it. The
// billed-through timestamp advances by whole blocks, so block billing
// may run ahead of the wall clock (prepaid time).
//
// When increment is zero the exact elapsed time is billed and the
// timestamp advances to now.
//
// A negative elapsed time returns OK=false with the state unchanged.
func Charge(st State, ratePerMinute float64, increment time.Duration, now time.Time) ChargeResult {
	elapsed := now.Sub(st.LastBilled)
	if elapsed < 0 {
		return ChargeResult{Next: st}
	}

	var charged time.Duration
	if increment > 0 {
		if elapsed <= increment {
			charged = increment
		} else {
			blocks := math.Ceil(elapsed.Seconds() / increment.Seconds())
			charged = time.Duration(blocks) * increment
		}
	} else {
		charged = elapsed
	}

	next := st
	next.LastBilled = st.LastBilled.Add(charged)

	amount := money.PerSecond(ratePerMinute)*charged.Seconds() - st.Adjustment

	return ChargeResult{
		Amount:  amount,
		Charged: charged,
		Next:    next,
		OK:      true,
	}
}

// Commit records a successful debit of amount: the running total grows
// and any pause credit has been consumed.
func Commit(st State, amount float64) State {
	st.Total += amount
	st.Adjustment = 0
	return st
}

// Pause suspends billing at the given instant. Idempotent: a session
// already paused keeps its original pause timestamp.
func Pause(st State, now time.Time) State {
	if st.PausedAt.IsZero() {
		st.PausedAt = now
	}
	return st
}

// Resume returns billing to the Active state. The time spent paused is
// converted to a credit at the current rate and folded into Adjustment,
// to be subtracted from the next charge. The second return value is the
// credit granted; resumed is false when the session was not paused.
func Resume(st State, ratePerMinute float64, now time.Time) (next State, credit float64, resumed bool) {
	if st.PausedAt.IsZero() {
		return st, 0, false
	}
	credit = PauseCredit(ratePerMinute, now.Sub(st.PausedAt))
	st.Adjustment += credit
	st.PausedAt = time.Time{}
	return st, credit, true
}

// PauseCredit is the amount "lost" to billing over a paused span at the
// given per-minute rate.
func PauseCredit(ratePerMinute float64, paused time.Duration) float64 {
	return money.PerSecond(ratePerMinute) * paused.Seconds()
}

// Reset moves the billed-through timestamp to now without charging,
// discarding any elapsed-time debt.
func Reset(st State, now time.Time) State {
	st.LastBilled = now
	return st
}
