// Package memory provides in-memory implementations of storage and
// runtime ports, used by tests and single-process demos.
package memory

import (
	"context"
	"sync"

	"github.com/artpar/nibble/domain/money"
	"github.com/artpar/nibble/ports"
)

// BalanceStore is an in-memory implementation of ports.BalanceStore.
// Counters are held in micro-units, matching the remote store's
// representation exactly.
type BalanceStore struct {
	mu     sync.Mutex
	micros map[string]int64

	// FailDebits and FailReads force errors, for exercising the
	// engine's failure paths.
	FailDebits bool
	FailReads  bool

	debits int
}

// NewBalanceStore creates an empty in-memory balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{micros: make(map[string]int64)}
}

// Debit atomically decrements the account's counter.
func (s *BalanceStore) Debit(ctx context.Context, account string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDebits {
		return ErrUnavailable
	}
	s.micros[account] -= money.ToMicros(amount)
	s.debits++
	return nil
}

// Balance reads and decodes the account's counter. A missing account
// is a read failure, as it is on the remote store.
func (s *BalanceStore) Balance(ctx context.Context, account string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return 0, ErrUnavailable
	}
	v, ok := s.micros[account]
	if !ok {
		return 0, ErrNotFound
	}
	return money.FromMicros(v), nil
}

// Credit adds funds to the account's counter, creating it if needed.
func (s *BalanceStore) Credit(ctx context.Context, account string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDebits {
		return ErrUnavailable
	}
	s.micros[account] += money.ToMicros(amount)
	return nil
}

// Set overwrites the account's balance in currency units (for tests).
func (s *BalanceStore) Set(account string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micros[account] = int64(balance * money.MicrosPerUnit)
}

// Micros returns the raw counter value (for tests).
func (s *BalanceStore) Micros(account string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micros[account]
}

// DebitCount returns how many debits were applied (for tests).
func (s *BalanceStore) DebitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debits
}

// Ensure interface compliance.
var _ ports.BalanceStore = (*BalanceStore)(nil)
