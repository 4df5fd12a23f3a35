package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

type accountsRepo struct{ q querier }

const accountCols = `id, owner_id, account_number, currency, balance, reserved_balance,
       status, daily_limit, monthly_limit, daily_spent, monthly_spent, created_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Currency, &a.Balance, &a.ReservedBalance,
		&a.Status, &a.DailyLimit, &a.MonthlyLimit, &a.DailySpent, &a.MonthlySpent, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, repo.ErrNotFound
	}
	return a, err
}

func (r *accountsRepo) Create(ctx context.Context, a models.Account) (models.Account, error) {
	return scanAccount(r.q.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, account_number, currency, balance, reserved_balance,
		                       status, daily_limit, monthly_limit, daily_spent, monthly_spent)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING `+accountCols,
		a.OwnerID, a.AccountNumber, a.Currency, a.Balance, a.ReservedBalance,
		a.Status, a.DailyLimit, a.MonthlyLimit, a.DailySpent, a.MonthlySpent,
	))
}

func (r *accountsRepo) GetByID(ctx context.Context, id int64) (models.Account, error) {
	return scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id=$1`, id))
}

func (r *accountsRepo) GetByNumber(ctx context.Context, number string) (models.Account, error) {
	return scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE account_number=$1`, number))
}

func (r *accountsRepo) Update(ctx context.Context, a models.Account) error {
	_, err := r.q.Exec(ctx,
		`UPDATE accounts
		    SET balance=$2, reserved_balance=$3, status=$4,
		        daily_spent=$5, monthly_spent=$6
		  WHERE id=$1`,
		a.ID, a.Balance, a.ReservedBalance, a.Status, a.DailySpent, a.MonthlySpent,
	)
	return err
}
