package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/config"
	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store runs every unit of work in a read-committed transaction, rolling
// back on error and retrying when Postgres reports a lock conflict.
type Store struct {
	pool   *pgxpool.Pool
	policy store.RetryPolicy
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, c config.PostgresConfig, log *zap.Logger) *Store {
	return &Store{
		pool: pool,
		policy: store.RetryPolicy{
			MaxAttempts: c.TxMaxAttempts,
			Backoff:     c.TxRetryBackoff,
			IsTransient: IsTransient,
			OnRetry: func(attempt int, err error) {
				metrics.TxRetries.Inc()
				log.Warn("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
			},
		},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return store.Retry(ctx, s.policy, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &Tx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

const (
	codeDeadlock             = "40P01"
	codeSerializationFailure = "40001"
	codeLockNotAvailable     = "55P03"
)

// IsTransient reports errors worth retrying the whole transaction for.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeDeadlock, codeSerializationFailure, codeLockNotAvailable:
		return true
	}
	return false
}
