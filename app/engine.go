// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/nibble/adapters/metrics"
	"github.com/artpar/nibble/config"
	"github.com/artpar/nibble/domain/billing"
	"github.com/artpar/nibble/domain/command"
	"github.com/artpar/nibble/ports"
)

// Session variable names consumed and produced by the engine. The
// routing layer sets the first group before billing engages; the
// engine publishes the second group for observability.
const (
	VarRate      = "nibble_rate"      // currency per minute, float
	VarIncrement = "nibble_increment" // seconds, integer (optional)
	VarAccount   = "nibble_account"   // balance store account id

	VarLowBalanceAmount = "nibble_lowbal_amt" // per-session override (optional)
	VarNoBalanceAmount  = "nibble_nobal_amt"  // per-session override (optional)

	VarTotalBilled    = "nibble_total_billed"
	VarCurrentBalance = "nibble_current_balance"
)

// ErrNoSession reports a session identifier unknown to the runtime.
var ErrNoSession = errors.New("no such session")

// Engine is the billing engine: it owns every session's billing state
// and is the only code that mutates it. Operations for the same
// session serialize on that session's lock; different sessions bill in
// parallel and contend only on the shared account counter.
type Engine struct {
	store    ports.BalanceStore
	sessions ports.SessionRegistry
	clock    ports.Clock
	cfg      *config.Holder
	logger   zerolog.Logger

	// Optional collaborators.
	metrics    *metrics.Collector
	heartbeats ports.HeartbeatScheduler

	mu        sync.Mutex
	slots     map[string]*slot
	scheduled map[string]struct{}
}

// slot pairs one session's billing state with its lock. state is nil
// until the first successful billing pass initializes it.
type slot struct {
	mu    sync.Mutex
	state *billing.State
}

// EngineDeps contains dependencies for Engine.
type EngineDeps struct {
	Store    ports.BalanceStore
	Sessions ports.SessionRegistry
	Clock    ports.Clock
	Config   *config.Holder
	Logger   zerolog.Logger

	Metrics    *metrics.Collector       // optional
	Heartbeats ports.HeartbeatScheduler // optional
}

// NewEngine creates the billing engine.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		store:      deps.Store,
		sessions:   deps.Sessions,
		clock:      deps.Clock,
		cfg:        deps.Config,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		heartbeats: deps.Heartbeats,
		slots:      make(map[string]*slot),
		scheduled:  make(map[string]struct{}),
	}
}

// params is the per-session billing configuration read from session
// variables.
type params struct {
	rate      float64
	account   string
	increment time.Duration
}

// billingParams reads the session's billing variables. ok is false
// when the session has not opted into billing (no rate or account);
// every engine operation is a silent no-op in that case.
func (e *Engine) billingParams(sess ports.Session) (params, bool) {
	rateStr := sess.Variable(VarRate)
	account := sess.Variable(VarAccount)
	if rateStr == "" || account == "" {
		return params{}, false
	}

	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		e.logger.Warn().
			Str("session", sess.ID()).
			Str("rate", rateStr).
			Msg("unparseable billing rate, billing disabled for session")
		return params{}, false
	}

	p := params{rate: rate, account: account}
	if incStr := sess.Variable(VarIncrement); incStr != "" {
		if secs, err := strconv.Atoi(incStr); err == nil && secs > 0 {
			p.increment = time.Duration(secs) * time.Second
		}
	}
	return p, true
}

// thresholds resolves the balance thresholds for a session: global
// configuration with per-session variable overrides.
func (e *Engine) thresholds(sess ports.Session) billing.Thresholds {
	cfg := e.cfg.Get().Thresholds
	th := billing.Thresholds{
		Low:  cfg.LowBalanceAmount,
		None: cfg.NoBalanceAmount,
	}
	if v := sess.Variable(VarLowBalanceAmount); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			th.Low = f
		}
	}
	if v := sess.Variable(VarNoBalanceAmount); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			th.None = f
		}
	}
	return th
}

// slotFor returns the session's slot, creating it if needed.
func (e *Engine) slotFor(id string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[id]
	if !ok {
		s = &slot{}
		e.slots[id] = s
	}
	return s
}

// slotIfExists returns the session's slot without creating one.
func (e *Engine) slotIfExists(id string) (*slot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[id]
	return s, ok
}

// lookup resolves a session or returns ErrNoSession.
func (e *Engine) lookup(id string) (ports.Session, error) {
	sess, ok := e.sessions.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNoSession)
	}
	return sess, nil
}

// readBalance reads the account balance, applying the configured
// read-failure policy. The original store treated an unreadable
// balance as one whole currency unit to keep calls up through
// transient errors; that stays the default but is now explicit
// configuration.
func (e *Engine) readBalance(ctx context.Context, account string) float64 {
	if e.metrics != nil {
		e.metrics.BalanceReads.Inc()
	}

	balance, err := e.store.Balance(ctx, account)
	if err == nil {
		return balance
	}

	if e.metrics != nil {
		e.metrics.BalanceReadFailures.Inc()
	}

	bal := e.cfg.Get().Balance
	switch bal.ReadFailure {
	case config.ReadFailClosed:
		e.logger.Error().Err(err).
			Str("account", account).
			Msg("balance read failed, failing closed")
		return 0
	default:
		e.logger.Warn().Err(err).
			Str("account", account).
			Float64("assumed", bal.FailOpenBalance).
			Msg("balance read failed, failing open")
		return bal.FailOpenBalance
	}
}

// Bill runs one billing pass for the session: charge the elapsed
// window, debit the account, and evaluate balance thresholds. It is
// invoked on every trigger (heartbeat, lifecycle transition, flush)
// and is safe to call concurrently; passes for the same session
// serialize on its lock.
func (e *Engine) Bill(ctx context.Context, sessionID string) error {
	sess, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	p, ok := e.billingParams(sess)
	if !ok {
		return nil
	}

	log := e.logger.With().
		Str("session", sessionID).
		Str("account", p.account).
		Logger()

	th := e.thresholds(sess)

	// Pre-answer: nothing to charge yet, but check the account can
	// afford the call at all before it connects.
	if sess.AnswerTime().IsZero() {
		balance := e.readBalance(ctx, p.account)
		if billing.Evaluate(balance, th).No {
			log.Info().
				Float64("balance", balance).
				Float64("floor", th.None).
				Msg("pre-answer balance below floor, rerouting")
			e.reroute(ctx, sess, log)
		}
		return nil
	}

	s := e.slotFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		st := billing.NewState(sess.AnswerTime())
		s.state = &st
		if e.metrics != nil {
			e.metrics.SessionsBilling.Inc()
		}
		log.Info().Time("answered", sess.AnswerTime()).Msg("beginning billing")
	}

	if s.state.Paused() {
		log.Debug().Msg("billing trigger ignored, session paused")
		return nil
	}

	now := e.clock.Now()
	res := billing.Charge(*s.state, p.rate, p.increment, now)
	if !res.OK {
		if e.metrics != nil {
			e.metrics.NegativeElapsed.Inc()
		}
		log.Warn().
			Time("last_billed", s.state.LastBilled).
			Time("now", now).
			Msg("negative elapsed time, skipping charge")
		return nil
	}

	log.Debug().
		Float64("amount", res.Amount).
		Dur("charged", res.Charged).
		Float64("total", s.state.Total).
		Msg("debiting account")

	// The window is consumed whether or not the debit lands: a failed
	// debit is not retried and does not re-bill the same span later.
	if err := e.store.Debit(ctx, p.account, res.Amount); err != nil {
		*s.state = res.Next
		if e.metrics != nil {
			e.metrics.DebitFailures.Inc()
		}
		log.Error().Err(err).Float64("amount", res.Amount).Msg("debit failed")
	} else {
		*s.state = billing.Commit(res.Next, res.Amount)
		sess.SetVariable(VarTotalBilled, formatAmount(s.state.Total))
		if e.metrics != nil {
			e.metrics.DebitsTotal.Inc()
			// A large pause credit can make the net amount negative;
			// the counter only tracks money actually billed.
			if res.Amount > 0 {
				e.metrics.AmountBilledTotal.Add(res.Amount)
			}
		}
	}

	// Skip threshold work for sessions already winding down.
	if sess.Lifecycle().Terminal() {
		return nil
	}

	balance := e.readBalance(ctx, p.account)
	breach := billing.Evaluate(balance, th)

	if breach.Low && !s.state.LowActionRun {
		action := e.cfg.Get().Thresholds.LowBalanceAction
		log.Info().
			Float64("balance", balance).
			Float64("threshold", th.Low).
			Str("action", action).
			Msg("balance below warning threshold")
		if err := sess.Execute(ctx, action); err != nil {
			log.Error().Err(err).Str("action", action).Msg("low balance action failed")
		} else {
			s.state.LowActionRun = true
			if e.metrics != nil {
				e.metrics.ThresholdActions.WithLabelValues("low_balance").Inc()
			}
		}
	}

	if breach.No {
		log.Warn().
			Float64("balance", balance).
			Float64("floor", th.None).
			Msg("balance below floor, pausing and rerouting")

		// Pause before the reroute: the reroute sends the session back
		// through routing, which triggers billing again, and an active
		// state would loop forever.
		*s.state = billing.Pause(*s.state, now)
		e.reroute(ctx, sess, log)
	}

	return nil
}

// reroute sends the session to the configured no-balance destination.
func (e *Engine) reroute(ctx context.Context, sess ports.Session, log zerolog.Logger) {
	action := e.cfg.Get().Thresholds.NoBalanceAction
	if err := sess.Transfer(ctx, action); err != nil {
		log.Error().Err(err).Str("action", action).Msg("no balance reroute failed")
		return
	}
	if e.metrics != nil {
		e.metrics.ThresholdActions.WithLabelValues("no_balance").Inc()
	}
}

// Pause suspends billing for the session. Idempotent; a session with
// no billing state yet cannot be paused.
func (e *Engine) Pause(sessionID string) error {
	if _, err := e.lookup(sessionID); err != nil {
		return err
	}

	s, ok := e.slotIfExists(sessionID)
	if !ok {
		e.logger.Info().Str("session", sessionID).Msg("cannot pause, billing not initialized")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		e.logger.Info().Str("session", sessionID).Msg("cannot pause, billing not initialized")
		return nil
	}

	*s.state = billing.Pause(*s.state, e.clock.Now())
	e.logger.Info().Str("session", sessionID).Msg("billing paused")
	return nil
}

// Resume returns a paused session to active billing, crediting back
// the time spent paused against the next charge.
func (e *Engine) Resume(sessionID string) error {
	sess, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s, ok := e.slotIfExists(sessionID)
	if !ok {
		e.logger.Debug().Str("session", sessionID).
			Msg("cannot resume, billing not initialized (expected at teardown)")
		return nil
	}

	p, pok := e.billingParams(sess)
	if !pok {
		e.logger.Debug().Str("session", sessionID).
			Msg("cannot resume, session has no billing variables")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		e.logger.Debug().Str("session", sessionID).
			Msg("cannot resume, billing not initialized (expected at teardown)")
		return nil
	}

	next, credit, resumed := billing.Resume(*s.state, p.rate, e.clock.Now())
	if !resumed {
		e.logger.Debug().Str("session", sessionID).Msg("cannot resume, session not paused")
		return nil
	}

	*s.state = next
	e.logger.Info().
		Str("session", sessionID).
		Float64("credit", credit).
		Msg("billing resumed, pause credited against next charge")
	return nil
}

// Reset moves the session's billed-through marker to now without
// charging, discarding any elapsed-time debt.
func (e *Engine) Reset(sessionID string) error {
	if _, err := e.lookup(sessionID); err != nil {
		return err
	}

	s, ok := e.slotIfExists(sessionID)
	if !ok {
		e.logger.Info().Str("session", sessionID).Msg("cannot reset, billing not initialized")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		e.logger.Info().Str("session", sessionID).Msg("cannot reset, billing not initialized")
		return nil
	}

	*s.state = billing.Reset(*s.state, e.clock.Now())
	e.logger.Info().Str("session", sessionID).Msg("billing timestamp reset")
	return nil
}

// Check returns the session's running total. ok is false when billing
// has not initialized for the session (or the session is unknown).
func (e *Engine) Check(sessionID string) (total float64, ok bool) {
	s, exists := e.slotIfExists(sessionID)
	if !exists {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return 0, false
	}
	return s.state.Total, true
}

// Paused reports whether the session's billing is currently paused.
func (e *Engine) Paused(sessionID string) bool {
	s, ok := e.slotIfExists(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && s.state.Paused()
}

// Adjust applies an out-of-band correction straight against the
// account: a positive amount refunds, a negative amount charges. The
// session's local charge computation is bypassed entirely.
func (e *Engine) Adjust(ctx context.Context, sessionID string, amount float64) error {
	sess, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	account := sess.Variable(VarAccount)
	if account == "" {
		return nil
	}

	// The store debits the opposite of the adjustment.
	if err := e.store.Debit(ctx, account, -amount); err != nil {
		e.logger.Error().Err(err).
			Str("session", sessionID).
			Str("account", account).
			Float64("amount", amount).
			Msg("adjustment failed")
		return fmt.Errorf("adjust %s: %w", account, err)
	}

	e.logger.Info().
		Str("session", sessionID).
		Str("account", account).
		Float64("amount", amount).
		Msg("recorded adjustment")
	return nil
}

// Settle runs a billing pass and publishes the account's remaining
// balance to the session. Called on lifecycle transitions, most
// importantly at hangup, so the final partial window is charged.
func (e *Engine) Settle(ctx context.Context, sessionID string) error {
	if err := e.Bill(ctx, sessionID); err != nil {
		return err
	}

	sess, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	account := sess.Variable(VarAccount)
	if account == "" {
		return nil
	}

	balance := e.readBalance(ctx, account)
	sess.SetVariable(VarCurrentBalance, formatAmount(balance))
	return nil
}

// Schedule enables the global heartbeat for a billable session. A
// session without billing variables gets no heartbeat.
func (e *Engine) Schedule(sessionID string) error {
	sess, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	if _, ok := e.billingParams(sess); !ok {
		return nil
	}
	if e.heartbeats == nil {
		return nil
	}

	interval := e.cfg.Get().Heartbeat.Interval()
	if interval <= 0 {
		return nil
	}

	e.heartbeats.Enable(sessionID, interval)
	e.markScheduled(sessionID)
	return nil
}

// EnableHeartbeat turns on (or retunes) the session's own heartbeat,
// independent of the global interval.
func (e *Engine) EnableHeartbeat(sessionID string, interval time.Duration) error {
	if _, err := e.lookup(sessionID); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval %s: %w", interval, command.ErrUsage)
	}
	if e.heartbeats == nil {
		return nil
	}
	e.heartbeats.Enable(sessionID, interval)
	e.markScheduled(sessionID)
	return nil
}

// markScheduled records the session in the heartbeat set. The gauge
// counts sessions with a schedule, not Enable calls, so a retune of an
// already-scheduled session leaves it unchanged.
func (e *Engine) markScheduled(sessionID string) {
	e.mu.Lock()
	_, known := e.scheduled[sessionID]
	if !known {
		e.scheduled[sessionID] = struct{}{}
	}
	e.mu.Unlock()
	if !known && e.metrics != nil {
		e.metrics.HeartbeatsActive.Inc()
	}
}

func (e *Engine) unmarkScheduled(sessionID string) {
	e.mu.Lock()
	_, known := e.scheduled[sessionID]
	delete(e.scheduled, sessionID)
	e.mu.Unlock()
	if known && e.metrics != nil {
		e.metrics.HeartbeatsActive.Dec()
	}
}

// Forget discards the session's billing state and heartbeat. Called
// after the final settle when the runtime destroys the session.
func (e *Engine) Forget(sessionID string) {
	if e.heartbeats != nil {
		e.heartbeats.Disable(sessionID)
	}
	e.unmarkScheduled(sessionID)

	e.mu.Lock()
	s, ok := e.slots[sessionID]
	delete(e.slots, sessionID)
	e.mu.Unlock()

	if ok && e.metrics != nil {
		s.mu.Lock()
		initialized := s.state != nil
		s.mu.Unlock()
		if initialized {
			e.metrics.SessionsBilling.Dec()
		}
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
