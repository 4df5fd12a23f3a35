package postgres

import (
	"context"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
)

type sagaLogRepo struct{ q querier }

func (r *sagaLogRepo) Append(ctx context.Context, rec models.SagaLogRecord) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO saga_log (uid, buyer_account_id, seller_account_id, amount, stage, failed, closed, at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.UID, rec.BuyerAccountID, rec.SellerAccountID, rec.Amount, rec.Stage, rec.Failed, rec.Closed, rec.At,
	)
	return err
}

func (r *sagaLogRepo) Close(ctx context.Context, uid string) error {
	_, err := r.q.Exec(ctx, `UPDATE saga_log SET closed=true WHERE uid=$1`, uid)
	return err
}

func (r *sagaLogRepo) Active(ctx context.Context) ([]models.SagaLogRecord, error) {
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT ON (uid)
		        id, uid, buyer_account_id, seller_account_id, amount, stage, failed, closed, at
		   FROM saga_log
		  WHERE NOT closed
		  ORDER BY uid, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SagaLogRecord
	for rows.Next() {
		var rec models.SagaLogRecord
		if err := rows.Scan(&rec.ID, &rec.UID, &rec.BuyerAccountID, &rec.SellerAccountID,
			&rec.Amount, &rec.Stage, &rec.Failed, &rec.Closed, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
