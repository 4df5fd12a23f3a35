package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

type transfersRepo struct{ q querier }

const transferCols = `id, from_account_id, to_account_id, amount, from_currency, to_currency,
       otp, type, status, note, created_at, completed_at`

func scanTransfer(row pgx.Row) (models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.FromCurrency, &t.ToCurrency,
		&t.Otp, &t.Type, &t.Status, &t.Note, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, repo.ErrNotFound
	}
	return t, err
}

func (r *transfersRepo) Create(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	return scanTransfer(r.q.QueryRow(ctx,
		`INSERT INTO transfers (from_account_id, to_account_id, amount, from_currency, to_currency,
		                        otp, type, status, note)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING `+transferCols,
		t.FromAccountID, t.ToAccountID, t.Amount, t.FromCurrency, t.ToCurrency,
		t.Otp, t.Type, t.Status, t.Note,
	))
}

func (r *transfersRepo) GetByID(ctx context.Context, id int64) (models.Transfer, error) {
	return scanTransfer(r.q.QueryRow(ctx,
		`SELECT `+transferCols+` FROM transfers WHERE id=$1`, id))
}

func (r *transfersRepo) Update(ctx context.Context, t models.Transfer) error {
	_, err := r.q.Exec(ctx,
		`UPDATE transfers SET otp=$2, status=$3, note=$4, completed_at=$5 WHERE id=$1`,
		t.ID, t.Otp, t.Status, t.Note, t.CompletedAt,
	)
	return err
}
