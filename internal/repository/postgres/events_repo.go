package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

type eventsRepo struct{ q querier }

const eventCols = `id, message_type, payload, url, routing_number, local_key, direction, status, created_at`

func scanEvent(row pgx.Row) (models.Event, error) {
	var ev models.Event
	err := row.Scan(&ev.ID, &ev.MessageType, &ev.Payload, &ev.URL,
		&ev.IdempotenceKey.RoutingNumber, &ev.IdempotenceKey.LocallyGeneratedKey,
		&ev.Direction, &ev.Status, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ev, repo.ErrNotFound
	}
	return ev, err
}

func (r *eventsRepo) Create(ctx context.Context, ev models.Event) (models.Event, error) {
	return scanEvent(r.q.QueryRow(ctx,
		`INSERT INTO events (message_type, payload, url, routing_number, local_key, direction, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING `+eventCols,
		ev.MessageType, ev.Payload, ev.URL,
		ev.IdempotenceKey.RoutingNumber, ev.IdempotenceKey.LocallyGeneratedKey,
		ev.Direction, ev.Status,
	))
}

func (r *eventsRepo) GetByID(ctx context.Context, id int64) (models.Event, error) {
	return scanEvent(r.q.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1`, id))
}

func (r *eventsRepo) GetByIdempotenceKey(ctx context.Context, key models.IdempotenceKey) (models.Event, error) {
	return scanEvent(r.q.QueryRow(ctx,
		`SELECT `+eventCols+` FROM events WHERE routing_number=$1 AND local_key=$2`,
		key.RoutingNumber, key.LocallyGeneratedKey,
	))
}

func (r *eventsRepo) ExistsByIdempotenceKey(ctx context.Context, key models.IdempotenceKey) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE routing_number=$1 AND local_key=$2)`,
		key.RoutingNumber, key.LocallyGeneratedKey,
	).Scan(&exists)
	return exists, err
}

func (r *eventsRepo) SetStatus(ctx context.Context, id int64, status models.DeliveryStatus) error {
	_, err := r.q.Exec(ctx, `UPDATE events SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (r *eventsRepo) AddDelivery(ctx context.Context, d models.EventDelivery) (models.EventDelivery, error) {
	err := r.q.QueryRow(ctx,
		`INSERT INTO event_deliveries (event_id, sent_at, status, http_status, response_body, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING id`,
		d.EventID, d.SentAt, d.Status, d.HTTPStatus, d.ResponseBody, d.DurationMs,
	).Scan(&d.ID)
	return d, err
}

func (r *eventsRepo) ListDeliveries(ctx context.Context, eventID int64) ([]models.EventDelivery, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, event_id, sent_at, status, http_status, response_body, duration_ms
		   FROM event_deliveries
		  WHERE event_id=$1
		  ORDER BY id`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventDelivery
	for rows.Next() {
		var d models.EventDelivery
		if err := rows.Scan(&d.ID, &d.EventID, &d.SentAt, &d.Status, &d.HTTPStatus,
			&d.ResponseBody, &d.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
