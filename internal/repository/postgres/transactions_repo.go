package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
)

type transactionsRepo struct{ q querier }

const transactionCols = `id, from_account_id, to_account_id, amount, currency, description, ts, transfer_id`

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	err := r.q.QueryRow(ctx,
		`INSERT INTO transactions (from_account_id, to_account_id, amount, currency, description, ts, transfer_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING id`,
		tx.FromAccountID, tx.ToAccountID, tx.Amount, tx.Currency, tx.Description, tx.Timestamp, tx.TransferID,
	).Scan(&tx.ID)
	return tx, err
}

func (r *transactionsRepo) ListByAccount(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionCols+`
		   FROM transactions
		  WHERE from_account_id=$1 OR to_account_id=$1
		  ORDER BY ts DESC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *transactionsRepo) ListByTransfer(ctx context.Context, transferID int64) ([]models.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE transfer_id=$1 ORDER BY id`,
		transferID,
	)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.FromAccountID, &tx.ToAccountID, &tx.Amount, &tx.Currency,
			&tx.Description, &tx.Timestamp, &tx.TransferID); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
