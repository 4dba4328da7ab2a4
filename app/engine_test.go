package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/artpar/nibble/adapters/clock"
	"github.com/artpar/nibble/adapters/memory"
	"github.com/artpar/nibble/adapters/metrics"
	"github.com/artpar/nibble/config"
	"github.com/artpar/nibble/domain/command"
	"github.com/artpar/nibble/domain/money"
	"github.com/artpar/nibble/ports"
)

// fakeScheduler records heartbeat enables and disables.
type fakeScheduler struct {
	mu       sync.Mutex
	enabled  map[string]time.Duration
	disabled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{enabled: make(map[string]time.Duration)}
}

func (f *fakeScheduler) Enable(sessionID string, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[sessionID] = interval
}

func (f *fakeScheduler) Disable(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.enabled, sessionID)
	f.disabled = append(f.disabled, sessionID)
}

func (f *fakeScheduler) interval(sessionID string) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.enabled[sessionID]
	return d, ok
}

var _ ports.HeartbeatScheduler = (*fakeScheduler)(nil)

type testEnv struct {
	engine    *Engine
	store     *memory.BalanceStore
	sessions  *memory.SessionRegistry
	clock     *clock.Fake
	scheduler *fakeScheduler
	cfg       *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Balance: config.BalanceConfig{
			ReadFailure:     config.ReadFailOpen,
			FailOpenBalance: 1.0,
		},
		Thresholds: config.ThresholdsConfig{
			LowBalanceAmount: 5,
			LowBalanceAction: "playback warning",
			NoBalanceAmount:  0,
			NoBalanceAction:  "transfer overdrawn",
		},
		Heartbeat: config.HeartbeatConfig{IntervalSecs: 60},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     memory.NewBalanceStore(),
		sessions:  memory.NewSessionRegistry(),
		clock:     clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		scheduler: newFakeScheduler(),
		cfg:       testConfig(),
	}
	env.engine = NewEngine(EngineDeps{
		Store:      env.store,
		Sessions:   env.sessions,
		Clock:      env.clock,
		Config:     config.NewStaticHolder(env.cfg),
		Logger:     zerolog.Nop(),
		Heartbeats: env.scheduler,
	})
	return env
}

// addSession registers an answered session billing at the given rate.
func (env *testEnv) addSession(id, account string, rate string) *memory.Session {
	sess := memory.NewSession(id)
	sess.SetVariable(VarRate, rate)
	sess.SetVariable(VarAccount, account)
	sess.Answer(env.clock.Now())
	env.sessions.Add(sess)
	return sess
}

func TestEngine_Bill_ContinuousRate(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	sess := env.addSession("s1", "acct", "60") // $1/second

	env.clock.Advance(30 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if got := env.store.Micros("acct"); got != 70*money.MicrosPerUnit {
		t.Errorf("balance = %d micros, want %d", got, 70*money.MicrosPerUnit)
	}
	total, ok := env.engine.Check("s1")
	if !ok || total != 30 {
		t.Errorf("Check() = (%v, %v), want (30, true)", total, ok)
	}
	if got := sess.Variable(VarTotalBilled); got != "30.000000" {
		t.Errorf("%s = %q, want 30.000000", VarTotalBilled, got)
	}
}

func TestEngine_Bill_IncrementBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 1000)
	sess := env.addSession("s1", "acct", "30")
	sess.SetVariable(VarIncrement, "60")

	// 90s elapsed rounds up to two 60s blocks at $0.50/s.
	env.clock.Advance(90 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 60 {
		t.Errorf("total = %v, want 60 (two full blocks)", total)
	}

	// The blocks are prepaid through 120s; a trigger at 100s has a
	// negative window and charges nothing.
	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	total, _ = env.engine.Check("s1")
	if total != 60 {
		t.Errorf("total after prepaid trigger = %v, want 60", total)
	}
}

func TestEngine_Bill_FirstChargeCoversFromAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	// Billing engages 45s after answer; the first charge still covers
	// the whole answered span.
	env.clock.Advance(45 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 45 {
		t.Errorf("total = %v, want 45", total)
	}
}

func TestEngine_Bill_WithoutVariables_NoOp(t *testing.T) {
	env := newTestEnv(t)
	sess := memory.NewSession("s1")
	sess.Answer(env.clock.Now())
	env.sessions.Add(sess)

	env.clock.Advance(time.Minute)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if env.store.DebitCount() != 0 {
		t.Error("unconfigured session must not debit")
	}
	if _, ok := env.engine.Check("s1"); ok {
		t.Error("unconfigured session must not initialize billing state")
	}
}

func TestEngine_Bill_UnparseableRate_NoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "not-a-number")

	env.clock.Advance(time.Minute)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if env.store.DebitCount() != 0 {
		t.Error("unparseable rate must disable billing, not charge")
	}
}

func TestEngine_Bill_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Bill(context.Background(), "ghost")
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("Bill(ghost) error = %v, want ErrNoSession", err)
	}
}

func TestEngine_Bill_PreAnswer_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 0)
	sess := memory.NewSession("s1")
	sess.SetVariable(VarRate, "60")
	sess.SetVariable(VarAccount, "acct")
	env.sessions.Add(sess)

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if got := sess.Transferred(); len(got) != 1 || got[0] != "transfer overdrawn" {
		t.Errorf("Transferred() = %v, want [transfer overdrawn]", got)
	}
	if env.store.DebitCount() != 0 {
		t.Error("pre-answer check must not debit")
	}
}

func TestEngine_Bill_PreAnswer_SufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 50)
	sess := memory.NewSession("s1")
	sess.SetVariable(VarRate, "60")
	sess.SetVariable(VarAccount, "acct")
	env.sessions.Add(sess)

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if got := sess.Transferred(); len(got) != 0 {
		t.Errorf("funded pre-answer session rerouted: %v", got)
	}
}

func TestEngine_Bill_NegativeElapsed_Skips(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	env.clock.Advance(30 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	env.clock.Rewind(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 30 {
		t.Errorf("total after backwards clock = %v, want 30", total)
	}
	if env.store.DebitCount() != 1 {
		t.Errorf("debits = %d, want 1", env.store.DebitCount())
	}
}

func TestEngine_Bill_DebitFailure_ConsumesWindow(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	env.clock.Advance(30 * time.Second)
	env.store.FailDebits = true
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	// The failed window's money is lost, not re-billed.
	total, _ := env.engine.Check("s1")
	if total != 0 {
		t.Errorf("total after failed debit = %v, want 0", total)
	}

	env.store.FailDebits = false
	env.clock.Advance(20 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ = env.engine.Check("s1")
	if total != 20 {
		t.Errorf("total = %v, want 20 (only the second window)", total)
	}
	if got := env.store.Micros("acct"); got != 80*money.MicrosPerUnit {
		t.Errorf("balance = %d micros, want %d", got, 80*money.MicrosPerUnit)
	}
}

func TestEngine_Bill_DebitFailure_RetainsPauseCredit(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if err := env.engine.Pause("s1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	env.clock.Advance(10 * time.Second) // $10 of credit
	if err := env.engine.Resume("s1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	env.clock.Advance(5 * time.Second)
	env.store.FailDebits = true
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	// The credit survives the failed debit and offsets the next one.
	env.store.FailDebits = false
	env.clock.Advance(15 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 5 {
		t.Errorf("total = %v, want 5 (15s charge minus 10 credit)", total)
	}
}

func TestEngine_Bill_Paused_NoCharge(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if err := env.engine.Pause("s1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	env.clock.Advance(time.Minute)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 0 {
		t.Errorf("total while paused = %v, want 0", total)
	}
}

func TestEngine_PauseResume_CreditsDowntime(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 1000)
	env.addSession("s1", "acct", "30") // $0.50/s

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if err := env.engine.Pause("s1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if !env.engine.Paused("s1") {
		t.Fatal("Paused() = false after Pause")
	}

	env.clock.Advance(40 * time.Second) // $20 of credit
	if err := env.engine.Resume("s1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if env.engine.Paused("s1") {
		t.Fatal("Paused() = true after Resume")
	}

	// The 40s pause is part of the next window's elapsed time; with
	// the credit it nets to zero, and the next 10s bill normally.
	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 5 {
		t.Errorf("total = %v, want 5 (50s charge minus 20 credit)", total)
	}
}

func TestEngine_Resume_NoBillingVars_NoOpWithDiagnostic(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.engine.logger = zerolog.New(&buf)

	sess := memory.NewSession("s1")
	sess.Answer(env.clock.Now())
	env.sessions.Add(sess)
	env.engine.slotFor("s1")

	if err := env.engine.Resume("s1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !strings.Contains(buf.String(), "no billing variables") {
		t.Errorf("log = %q, want a no-billing-variables diagnostic", buf.String())
	}
}

func TestEngine_Resume_NotPaused_NoOp(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if err := env.engine.Resume("s1"); err != nil {
		t.Errorf("Resume() on active session error = %v, want nil", err)
	}
}

func TestEngine_Reset_DiscardsDebt(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if err := env.engine.Reset("s1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	total, _ := env.engine.Check("s1")
	if total != 10 {
		t.Errorf("total = %v, want 10 (the 30s before reset is forgiven)", total)
	}
}

func TestEngine_Bill_LowBalanceActionRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 3) // under Low (5), above None (0)
	sess := env.addSession("s1", "acct", "0.6")

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if got := sess.Executed(); len(got) != 1 || got[0] != "playback warning" {
		t.Errorf("Executed() = %v, want one playback warning", got)
	}
}

func TestEngine_Bill_LowBalanceActionRetriedAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 3)
	sess := env.addSession("s1", "acct", "0.6")
	sess.ExecuteErr = errors.New("media unavailable")

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if got := sess.Executed(); len(got) != 0 {
		t.Fatalf("Executed() = %v, want none while failing", got)
	}

	sess.ExecuteErr = nil
	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if got := sess.Executed(); len(got) != 1 {
		t.Errorf("Executed() = %v, want the retried warning", got)
	}
}

func TestEngine_Bill_NoBalance_PausesBeforeReroute(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 10)
	sess := env.addSession("s1", "acct", "60")

	// The billing pass holds the session's lock through the reroute,
	// so the hook inspects the slot directly.
	pausedAtTransfer := false
	sess.OnTransfer = func(string) {
		if s, ok := env.engine.slotIfExists("s1"); ok && s.state != nil {
			pausedAtTransfer = s.state.Paused()
		}
	}

	// 30s at $1/s drains the account well past the floor.
	env.clock.Advance(30 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if got := sess.Transferred(); len(got) != 1 || got[0] != "transfer overdrawn" {
		t.Fatalf("Transferred() = %v, want [transfer overdrawn]", got)
	}
	if !pausedAtTransfer {
		t.Error("session must already be paused when the reroute fires")
	}
}

func TestEngine_Bill_SessionVariableOverridesThresholds(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 50)
	sess := env.addSession("s1", "acct", "0.6")
	sess.SetVariable(VarNoBalanceAmount, "100")

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	// Balance 50 is under the per-session floor of 100.
	if got := sess.Transferred(); len(got) != 1 {
		t.Errorf("Transferred() = %v, want the per-session floor to apply", got)
	}
}

func TestEngine_Bill_TerminalLifecycle_SkipsThresholds(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 0)
	sess := env.addSession("s1", "acct", "60")
	sess.SetLifecycle(ports.LifecycleHangup)

	env.clock.Advance(30 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	// The final window is still charged; the dead session gets no
	// warning and no reroute.
	total, _ := env.engine.Check("s1")
	if total != 30 {
		t.Errorf("total = %v, want 30", total)
	}
	if len(sess.Executed()) != 0 || len(sess.Transferred()) != 0 {
		t.Error("terminal session must not receive threshold actions")
	}
}

func TestEngine_ReadFailure_FailOpen(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailReads = true
	sess := env.addSession("s1", "acct", "60")

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	// The assumed balance of 1.0 is above the floor; the call stays up.
	if got := sess.Transferred(); len(got) != 0 {
		t.Errorf("fail-open must not reroute, got %v", got)
	}
}

func TestEngine_ReadFailure_FailClosed(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Balance.ReadFailure = config.ReadFailClosed
	env.store.FailReads = true
	sess := env.addSession("s1", "acct", "60")

	env.clock.Advance(10 * time.Second)
	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}

	if got := sess.Transferred(); len(got) != 1 {
		t.Errorf("fail-closed must reroute on unreadable balance, got %v", got)
	}
}

func TestEngine_Adjust_CreditsAccount(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 10)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Adjust(context.Background(), "s1", 5); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if got := env.store.Micros("acct"); got != 15*money.MicrosPerUnit {
		t.Errorf("balance = %d micros, want %d", got, 15*money.MicrosPerUnit)
	}

	if err := env.engine.Adjust(context.Background(), "s1", -3); err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if got := env.store.Micros("acct"); got != 12*money.MicrosPerUnit {
		t.Errorf("balance = %d micros, want %d", got, 12*money.MicrosPerUnit)
	}
}

func TestEngine_Adjust_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "60")
	env.store.FailDebits = true

	if err := env.engine.Adjust(context.Background(), "s1", 5); err == nil {
		t.Error("Adjust() must surface the store failure")
	}
}

func TestEngine_Settle_PublishesBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	sess := env.addSession("s1", "acct", "60")

	env.clock.Advance(30 * time.Second)
	if err := env.engine.Settle(context.Background(), "s1"); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	if got := sess.Variable(VarCurrentBalance); got != "70.000000" {
		t.Errorf("%s = %q, want 70.000000", VarCurrentBalance, got)
	}
}

func TestEngine_Schedule_EnablesHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Schedule("s1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if d, ok := env.scheduler.interval("s1"); !ok || d != time.Minute {
		t.Errorf("heartbeat interval = (%v, %v), want (1m, true)", d, ok)
	}
}

func TestEngine_Schedule_UnbillableSession_NoHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	sess := memory.NewSession("s1")
	env.sessions.Add(sess)

	if err := env.engine.Schedule("s1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, ok := env.scheduler.interval("s1"); ok {
		t.Error("unbillable session must not get a heartbeat")
	}
}

func TestEngine_EnableHeartbeat_CustomInterval(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "60")

	if err := env.engine.EnableHeartbeat("s1", 15*time.Second); err != nil {
		t.Fatalf("EnableHeartbeat() error = %v", err)
	}
	if d, _ := env.scheduler.interval("s1"); d != 15*time.Second {
		t.Errorf("interval = %v, want 15s", d)
	}
}

func TestEngine_EnableHeartbeat_RejectsNonPositiveInterval(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "60")

	for _, interval := range []time.Duration{0, -5 * time.Second} {
		if err := env.engine.EnableHeartbeat("s1", interval); !errors.Is(err, command.ErrUsage) {
			t.Errorf("EnableHeartbeat(%v) = %v, want ErrUsage", interval, err)
		}
	}
	if _, ok := env.scheduler.interval("s1"); ok {
		t.Error("rejected interval must not schedule a heartbeat")
	}
}

func TestEngine_HeartbeatGauge_TracksScheduledSessions(t *testing.T) {
	env := newTestEnv(t)
	coll := metrics.NewWithRegistry(prometheus.NewRegistry())
	env.engine.metrics = coll
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")
	env.addSession("s2", "acct", "60")

	// Re-schedules and retunes of a scheduled session leave the gauge
	// alone; it counts sessions, not Enable calls.
	for i := 0; i < 2; i++ {
		if err := env.engine.Schedule("s1"); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	if err := env.engine.EnableHeartbeat("s1", 15*time.Second); err != nil {
		t.Fatalf("EnableHeartbeat() error = %v", err)
	}
	if got := testutil.ToFloat64(coll.HeartbeatsActive); got != 1 {
		t.Errorf("heartbeats_active = %v, want 1", got)
	}

	// Forgetting a never-scheduled session must not drive it negative.
	env.engine.Forget("s2")
	if got := testutil.ToFloat64(coll.HeartbeatsActive); got != 1 {
		t.Errorf("heartbeats_active after unrelated Forget = %v, want 1", got)
	}

	env.engine.Forget("s1")
	if got := testutil.ToFloat64(coll.HeartbeatsActive); got != 0 {
		t.Errorf("heartbeats_active after Forget = %v, want 0", got)
	}
}

func TestEngine_Forget(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 100)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Bill(context.Background(), "s1"); err != nil {
		t.Fatalf("Bill() error = %v", err)
	}
	if err := env.engine.Schedule("s1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	env.engine.Forget("s1")

	if _, ok := env.engine.Check("s1"); ok {
		t.Error("Check() after Forget must report uninitialized")
	}
	if _, ok := env.scheduler.interval("s1"); ok {
		t.Error("Forget must disable the heartbeat")
	}
}

func TestEngine_Pause_Uninitialized_NoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", "acct", "60")

	if err := env.engine.Pause("s1"); err != nil {
		t.Errorf("Pause() before billing error = %v, want nil", err)
	}
	if env.engine.Paused("s1") {
		t.Error("uninitialized session cannot be paused")
	}
}

func TestEngine_ConcurrentBills_SingleAccount(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set("acct", 10_000)
	const sessions = 20
	for i := 0; i < sessions; i++ {
		env.addSession(string(rune('a'+i)), "acct", "60")
	}
	env.clock.Advance(10 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := env.engine.Bill(context.Background(), id); err != nil {
				t.Errorf("Bill(%s) error = %v", id, err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	want := int64(10_000-sessions*10) * money.MicrosPerUnit
	if got := env.store.Micros("acct"); got != want {
		t.Errorf("balance = %d micros, want %d", got, want)
	}
}
