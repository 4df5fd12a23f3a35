package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs standalone or inside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func newRepositories(q querier) repo.Repositories {
	return repo.Repositories{
		Accounts:     &accountsRepo{q},
		Transfers:    &transfersRepo{q},
		Transactions: &transactionsRepo{q},
		OtpTokens:    &otpTokensRepo{q},
		Events:       &eventsRepo{q},
		SagaLog:      &sagaLogRepo{q},
	}
}

type atomic struct{ pool *pgxpool.Pool }

// WithTx runs fn inside one serializable pgx transaction. Serializable
// isolation is what serializes concurrent settlement attempts touching the
// same accounts (spenders either wait or abort and retry at the caller).
func (a *atomic) WithTx(ctx context.Context, fn func(repo.Repositories) error) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(newRepositories(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func NewStore(pool *pgxpool.Pool) repo.Store {
	return repo.Store{
		Repositories: newRepositories(pool),
		Atomic:       &atomic{pool},
	}
}
