// Package redis provides the Redis implementation of the balance
// store port. Balances live under "rn_<account>" keys as integer
// micro-units; the shared counter's DECRBY is what keeps concurrent
// sessions billing the same account consistent.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artpar/nibble/domain/money"
	"github.com/artpar/nibble/ports"
)

// KeyPrefix namespaces billing counters in the shared store.
const KeyPrefix = "rn_"

// ErrNotFound reports a missing account counter.
var ErrNotFound = errors.New("account not found")

// Key returns the store key for an account.
func Key(account string) string {
	return KeyPrefix + account
}

// BalanceStore talks to a Redis server. A single pooled client
// replaces the connection-per-operation of older dialects; every
// operation still carries its own timeout and surfaces connection
// failure as an error.
type BalanceStore struct {
	client  *redis.Client
	timeout time.Duration
}

// Config holds connection parameters for the store.
type Config struct {
	Host    string
	Port    int
	DB      int
	Timeout time.Duration
}

// New creates a balance store client. No connection is established
// until the first operation.
func New(cfg Config) *BalanceStore {
	return &BalanceStore{
		client: redis.NewClient(&redis.Options{
			Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			DB:          cfg.DB,
			DialTimeout: cfg.Timeout,
			ReadTimeout: cfg.Timeout,
		}),
		timeout: cfg.Timeout,
	}
}

// Ping verifies the store is reachable.
func (s *BalanceStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping balance store: %w", err)
	}
	return nil
}

// Debit atomically decrements the account's counter by the micro-unit
// encoding of amount. DECRBY creates a missing key at zero, so a debit
// against an unknown account drives it negative rather than failing.
func (s *BalanceStore) Debit(ctx context.Context, account string, amount float64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.DecrBy(ctx, Key(account), money.ToMicros(amount)).Err(); err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	return nil
}

// Balance reads and decodes the account's counter. A missing key is
// reported as ErrNotFound; the caller's read-failure policy decides
// what that means.
func (s *BalanceStore) Balance(ctx context.Context, account string) (float64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, Key(account)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("balance %s: %w", account, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("balance %s: parse %q: %w", account, raw, err)
	}
	return money.FromMicros(v), nil
}

// Credit adds funds to the account's counter.
func (s *BalanceStore) Credit(ctx context.Context, account string, amount float64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.IncrBy(ctx, Key(account), money.ToMicros(amount)).Err(); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *BalanceStore) Close() error {
	return s.client.Close()
}

func (s *BalanceStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ensure interface compliance.
var _ ports.BalanceStore = (*BalanceStore)(nil)
