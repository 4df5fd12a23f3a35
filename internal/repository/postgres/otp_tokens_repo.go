package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

type otpTokensRepo struct{ q querier }

func (r *otpTokensRepo) Create(ctx context.Context, t models.OtpToken) (models.OtpToken, error) {
	err := r.q.QueryRow(ctx,
		`INSERT INTO otp_tokens (transfer_id, code_hash, expires_at, used)
		 VALUES ($1,$2,$3,false)
		 RETURNING id`,
		t.TransferID, t.CodeHash, t.ExpiresAt,
	).Scan(&t.ID)
	return t, err
}

func (r *otpTokensRepo) LatestByTransfer(ctx context.Context, transferID int64) (models.OtpToken, error) {
	var t models.OtpToken
	err := r.q.QueryRow(ctx,
		`SELECT id, transfer_id, code_hash, expires_at, used
		   FROM otp_tokens
		  WHERE transfer_id=$1
		  ORDER BY id DESC
		  LIMIT 1`,
		transferID,
	).Scan(&t.ID, &t.TransferID, &t.CodeHash, &t.ExpiresAt, &t.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, repo.ErrNotFound
	}
	return t, err
}

func (r *otpTokensRepo) MarkUsed(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `UPDATE otp_tokens SET used=true WHERE id=$1`, id)
	return err
}
