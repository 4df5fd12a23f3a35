package outbox_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	"github.com/mkrivacevic11921rn/settlement-core/internal/outbox"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
	"github.com/mkrivacevic11921rn/settlement-core/internal/repository/memory"
	"github.com/mkrivacevic11921rn/settlement-core/internal/worker"
)

// fakeClock jumps forward whenever the drain loop sleeps, so fixed-delay
// retries run without real waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	n := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- n
	return ch
}

func rawMarshal(ev models.Event) ([]byte, error) { return ev.Payload, nil }

func newEvent(t *testing.T, store repo.Store, url string) models.Event {
	t.Helper()
	ev, err := store.Events.Create(context.Background(), models.Event{
		MessageType:    models.MessageOtcAck,
		Payload:        []byte(`{"uid":"trade-1","failed":false,"message":"ok"}`),
		URL:            url,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 111, LocallyGeneratedKey: "k-" + t.Name()},
		Direction:      models.DirectionOutgoing,
		Status:         models.DeliveryPending,
	})
	require.NoError(t, err)
	return ev
}

func eventStatus(t *testing.T, store repo.Store, id int64) models.DeliveryStatus {
	t.Helper()
	ev, err := store.Events.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ev.Status
}

func TestEngineDeliversOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.NewStore()
	wp := worker.NewPool(2)
	defer wp.Stop()

	eng := outbox.NewEngine(store.Events, wp, rawMarshal, outbox.Config{
		MaxRetries: 5,
		RetryDelay: 20 * time.Second,
	})
	ev := newEvent(t, store, srv.URL)
	eng.Send(ev)

	require.Eventually(t, func() bool {
		return eventStatus(t, store, ev.ID) == models.DeliverySuccess
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, hits.Load())

	dels, err := store.Events.ListDeliveries(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	require.Equal(t, models.DeliverySuccess, dels[0].Status)
	require.Equal(t, http.StatusOK, dels[0].HTTPStatus)
}

func TestEngineRetriesThenCancels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := memory.NewStore()
	wp := worker.NewPool(2)
	defer wp.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{now: time.Now()}
	eng := outbox.NewEngine(store.Events, wp, rawMarshal, outbox.Config{
		MaxRetries: 5,
		RetryDelay: 20 * time.Second,
		Clock:      clock,
	})
	eng.Start(ctx)

	ev := newEvent(t, store, srv.URL)
	eng.Send(ev)

	require.Eventually(t, func() bool {
		return eventStatus(t, store, ev.ID) == models.DeliveryCanceled
	}, 5*time.Second, 10*time.Millisecond)

	// exactly one audit row per attempt, all failed with the real status
	dels, err := store.Events.ListDeliveries(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, dels, 5)
	for _, d := range dels {
		require.Equal(t, models.DeliveryFailed, d.Status)
		require.Equal(t, http.StatusInternalServerError, d.HTTPStatus)
	}
}

func TestEngineRecordsTransportFailure(t *testing.T) {
	store := memory.NewStore()
	wp := worker.NewPool(1)
	defer wp.Stop()

	eng := outbox.NewEngine(store.Events, wp, rawMarshal, outbox.Config{
		MaxRetries: 1,
		RetryDelay: time.Second,
	})
	// nothing listens here
	ev := newEvent(t, store, "http://127.0.0.1:1/webhook")
	eng.Send(ev)

	require.Eventually(t, func() bool {
		return eventStatus(t, store, ev.ID) == models.DeliveryCanceled
	}, 2*time.Second, 10*time.Millisecond)

	dels, err := store.Events.ListDeliveries(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	require.Equal(t, -1, dels[0].HTTPStatus)
	require.NotEmpty(t, dels[0].ResponseBody)
}

func TestEngineMarshalFailureIsTerminal(t *testing.T) {
	store := memory.NewStore()
	wp := worker.NewPool(1)
	defer wp.Stop()

	eng := outbox.NewEngine(store.Events, wp, func(models.Event) ([]byte, error) {
		return nil, errors.New("unserializable payload")
	}, outbox.Config{MaxRetries: 5, RetryDelay: time.Second})

	ev := newEvent(t, store, "http://localhost:0")
	eng.Send(ev)

	require.Eventually(t, func() bool {
		return eventStatus(t, store, ev.ID) == models.DeliveryFailed
	}, 2*time.Second, 10*time.Millisecond)

	// no attempt was made, so no audit row exists
	dels, err := store.Events.ListDeliveries(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Empty(t, dels)
}
