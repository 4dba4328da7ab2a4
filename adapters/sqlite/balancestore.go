package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/nibble/domain/money"
	"github.com/artpar/nibble/ports"
)

// ErrNotFound reports a missing account row.
var ErrNotFound = errors.New("account not found")

// BalanceStore is the SQLite implementation of ports.BalanceStore.
// Counters are stored in micro-units; each debit is a single UPSERT so
// concurrent sessions billing the same account serialize in the
// database, matching the remote store's atomic decrement.
type BalanceStore struct {
	db *DB
}

// NewBalanceStore creates a balance store backed by db.
func NewBalanceStore(db *DB) *BalanceStore {
	return &BalanceStore{db: db}
}

// Debit atomically decrements the account's counter. Like the remote
// store, debiting an unknown account creates it at zero first, so the
// counter goes negative rather than the debit failing.
func (s *BalanceStore) Debit(ctx context.Context, account string, amount float64) error {
	return s.apply(ctx, account, -money.ToMicros(amount))
}

// Credit adds funds to the account's counter.
func (s *BalanceStore) Credit(ctx context.Context, account string, amount float64) error {
	return s.apply(ctx, account, money.ToMicros(amount))
}

func (s *BalanceStore) apply(ctx context.Context, account string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (account, micros) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET
			micros = micros + excluded.micros,
			updated_at = CURRENT_TIMESTAMP
	`, account, delta)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}

// Balance reads and decodes the account's counter. A missing row is
// reported as ErrNotFound.
func (s *BalanceStore) Balance(ctx context.Context, account string) (float64, error) {
	var micros int64
	err := s.db.QueryRowContext(ctx,
		"SELECT micros FROM balances WHERE account = ?", account,
	).Scan(&micros)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("balance %s: %w", account, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}
	return money.FromMicros(micros), nil
}

// Ensure interface compliance.
var _ ports.BalanceStore = (*BalanceStore)(nil)
