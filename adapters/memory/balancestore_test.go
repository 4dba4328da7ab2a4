package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestBalanceStore_DebitAndBalance(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	s.Set("acct", 10.0)

	if err := s.Debit(ctx, "acct", 2.5); err != nil {
		t.Fatalf("Debit error: %v", err)
	}

	got, err := s.Balance(ctx, "acct")
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if got != 7.5 {
		t.Errorf("Balance = %v, want 7.5", got)
	}
	if s.DebitCount() != 1 {
		t.Errorf("DebitCount = %d, want 1", s.DebitCount())
	}
}

func TestBalanceStore_DebitRoundsUp(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	s.Set("acct", 1.0)

	// A sub-micro fraction must cost at least one extra micro-unit.
	if err := s.Debit(ctx, "acct", 0.0000001); err != nil {
		t.Fatalf("Debit error: %v", err)
	}
	if got := s.Micros("acct"); got != 999_999 {
		t.Errorf("Micros = %d, want 999999", got)
	}
}

func TestBalanceStore_NegativeDebitCredits(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	s.Set("acct", 1.0)

	// Adjustments debit the opposite sign: a negative debit tops up.
	if err := s.Debit(ctx, "acct", -2.0); err != nil {
		t.Fatalf("Debit error: %v", err)
	}
	got, _ := s.Balance(ctx, "acct")
	if got != 3.0 {
		t.Errorf("Balance = %v, want 3.0", got)
	}
}

func TestBalanceStore_MissingAccount(t *testing.T) {
	s := NewBalanceStore()

	_, err := s.Balance(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Balance error = %v, want ErrNotFound", err)
	}
}

func TestBalanceStore_ForcedFailures(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	s.Set("acct", 5)
	s.FailDebits = true
	s.FailReads = true

	if err := s.Debit(ctx, "acct", 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Debit error = %v, want ErrUnavailable", err)
	}
	if _, err := s.Balance(ctx, "acct"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Balance error = %v, want ErrUnavailable", err)
	}
	if s.Micros("acct") != 5_000_000 {
		t.Error("failed debit must not touch the counter")
	}
}

func TestBalanceStore_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	s.Set("acct", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Debit(ctx, "acct", 1)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Balance(ctx, "acct")
	if got != 0 {
		t.Errorf("Balance = %v, want 0 after 1000 unit debits", got)
	}
}
