// Package outbox delivers domain events to fixed remote HTTP endpoints with
// fixed-delay retries up to a bound. Every attempt leaves an EventDelivery
// audit row. Delivery is at-least-once; receivers dedupe on the idempotence key.
package outbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/metrics"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
	"github.com/mkrivacevic11921rn/settlement-core/internal/worker"
)

// transportFailure is recorded as the http status of an attempt that failed
// before any HTTP response existed.
const transportFailure = -1

const maxResponseBody = 64 << 10

// Marshaler builds the wire body for an event. A marshal error is a
// serialization failure: terminal, never retried.
type Marshaler func(ev models.Event) ([]byte, error)

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	Client     *http.Client
	Clock      Clock
}

type Engine struct {
	events     repo.Events
	pool       *worker.Pool
	marshal    Marshaler
	client     *http.Client
	clock      Clock
	queue      *retryQueue
	maxRetries int
	retryDelay time.Duration
}

func NewEngine(events repo.Events, pool *worker.Pool, marshal Marshaler, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &Engine{
		events:     events,
		pool:       pool,
		marshal:    marshal,
		client:     cfg.Client,
		clock:      cfg.Clock,
		queue:      newRetryQueue(),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Start runs the retry drain loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Send dispatches the first delivery attempt out of band and returns
// immediately.
func (e *Engine) Send(ev models.Event) {
	e.pool.Submit(func() { e.attempt(context.Background(), ev.ID, 1) })
}

func (e *Engine) loop(ctx context.Context) {
	for {
		t, wait := e.queue.pop(e.clock.Now())
		if t != nil {
			tt := *t
			e.pool.Submit(func() { e.attempt(ctx, tt.eventID, tt.attempt) })
			continue
		}
		var due <-chan time.Time
		if wait > 0 {
			due = e.clock.After(wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-e.queue.wake:
		case <-due:
		}
	}
}

func (e *Engine) attempt(ctx context.Context, eventID int64, attempt int) {
	ev, err := e.events.GetByID(ctx, eventID)
	if err != nil {
		slog.Error("outbox: load event", "event", eventID, "err", err)
		return
	}

	body, err := e.marshal(ev)
	if err != nil {
		// A malformed payload cannot succeed on retry.
		slog.Error("outbox: serialize payload", "event", ev.ID, "type", ev.MessageType, "err", err)
		if err := e.events.SetStatus(ctx, ev.ID, models.DeliveryFailed); err != nil {
			slog.Error("outbox: mark failed", "event", ev.ID, "err", err)
		}
		return
	}

	start := e.clock.Now()
	status, httpStatus, respBody := e.post(ctx, ev.URL, body)
	durationMs := e.clock.Now().Sub(start).Milliseconds()

	// The retry is queued only after this row is written, so attempt N+1
	// never starts before attempt N is recorded.
	if _, err := e.events.AddDelivery(ctx, models.EventDelivery{
		EventID:      ev.ID,
		SentAt:       start,
		Status:       status,
		HTTPStatus:   httpStatus,
		ResponseBody: respBody,
		DurationMs:   durationMs,
	}); err != nil {
		slog.Error("outbox: record delivery", "event", ev.ID, "err", err)
	}

	switch {
	case status == models.DeliverySuccess:
		metrics.OutboxAttempts.WithLabelValues("success").Inc()
		e.setStatus(ctx, ev.ID, models.DeliverySuccess)
	case attempt < e.maxRetries:
		metrics.OutboxAttempts.WithLabelValues("failed").Inc()
		e.setStatus(ctx, ev.ID, models.DeliveryRetrying)
		e.queue.push(task{eventID: ev.ID, attempt: attempt + 1, at: e.clock.Now().Add(e.retryDelay)})
	default:
		metrics.OutboxAttempts.WithLabelValues("failed").Inc()
		slog.Warn("outbox: retries exhausted", "event", ev.ID, "attempts", attempt)
		e.setStatus(ctx, ev.ID, models.DeliveryCanceled)
	}
}

// post treats transport errors and non-2xx responses identically as a failed
// attempt. The stdlib client never errors on a non-2xx status, which is
// exactly the behavior the delivery contract asks for.
func (e *Engine) post(ctx context.Context, url string, body []byte) (models.DeliveryStatus, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.DeliveryFailed, transportFailure, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return models.DeliveryFailed, transportFailure, err.Error()
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.DeliveryFailed, resp.StatusCode, string(b)
	}
	return models.DeliverySuccess, resp.StatusCode, string(b)
}

func (e *Engine) setStatus(ctx context.Context, eventID int64, status models.DeliveryStatus) {
	if err := e.events.SetStatus(ctx, eventID, status); err != nil {
		slog.Error("outbox: set status", "event", eventID, "status", status, "err", err)
	}
}
