// Package memory holds an in-memory repository.Store used by the test suites.
// It mirrors the postgres implementation behind the same interfaces; WithTx
// takes a snapshot of the whole state and restores it when fn fails, so the
// all-or-nothing contract holds for real.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

type data struct {
	accounts     map[int64]models.Account
	transfers    map[int64]models.Transfer
	transactions []models.Transaction
	otpTokens    []models.OtpToken
	events       map[int64]models.Event
	deliveries   []models.EventDelivery
	sagaLog      []models.SagaLogRecord
	nextID       int64
}

func (d *data) clone() data {
	c := data{
		accounts:     make(map[int64]models.Account, len(d.accounts)),
		transfers:    make(map[int64]models.Transfer, len(d.transfers)),
		transactions: append([]models.Transaction(nil), d.transactions...),
		otpTokens:    append([]models.OtpToken(nil), d.otpTokens...),
		events:       make(map[int64]models.Event, len(d.events)),
		deliveries:   append([]models.EventDelivery(nil), d.deliveries...),
		sagaLog:      append([]models.SagaLogRecord(nil), d.sagaLog...),
		nextID:       d.nextID,
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transfers {
		c.transfers[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

// view gives locked access when mu is set, and raw access inside WithTx where
// the store mutex is already held.
type view struct {
	d  *data
	mu *sync.Mutex
}

func (v view) lock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

func repositories(v view) repo.Repositories {
	return repo.Repositories{
		Accounts:     accounts{v},
		Transfers:    transfers{v},
		Transactions: transactions{v},
		OtpTokens:    otpTokens{v},
		Events:       events{v},
		SagaLog:      sagaLog{v},
	}
}

type atomic struct {
	d  *data
	mu *sync.Mutex
}

func (a *atomic) WithTx(_ context.Context, fn func(repo.Repositories) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.d.clone()
	if err := fn(repositories(view{d: a.d})); err != nil {
		*a.d = snap
		return err
	}
	return nil
}

func NewStore() repo.Store {
	d := &data{
		accounts:  make(map[int64]models.Account),
		transfers: make(map[int64]models.Transfer),
		events:    make(map[int64]models.Event),
	}
	mu := &sync.Mutex{}
	return repo.Store{
		Repositories: repositories(view{d: d, mu: mu}),
		Atomic:       &atomic{d: d, mu: mu},
	}
}

// ---- accounts ----

type accounts struct{ view }

func (r accounts) Create(_ context.Context, a models.Account) (models.Account, error) {
	defer r.lock()()
	a.ID = r.d.id()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.d.accounts[a.ID] = a
	return a, nil
}

func (r accounts) GetByID(_ context.Context, id int64) (models.Account, error) {
	defer r.lock()()
	a, ok := r.d.accounts[id]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return a, nil
}

func (r accounts) GetByNumber(_ context.Context, number string) (models.Account, error) {
	defer r.lock()()
	for _, a := range r.d.accounts {
		if a.AccountNumber == number {
			return a, nil
		}
	}
	return models.Account{}, repo.ErrNotFound
}

func (r accounts) Update(_ context.Context, a models.Account) error {
	defer r.lock()()
	if _, ok := r.d.accounts[a.ID]; !ok {
		return repo.ErrNotFound
	}
	r.d.accounts[a.ID] = a
	return nil
}

// ---- transfers ----

type transfers struct{ view }

func (r transfers) Create(_ context.Context, t models.Transfer) (models.Transfer, error) {
	defer r.lock()()
	t.ID = r.d.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	r.d.transfers[t.ID] = t
	return t, nil
}

func (r transfers) GetByID(_ context.Context, id int64) (models.Transfer, error) {
	defer r.lock()()
	t, ok := r.d.transfers[id]
	if !ok {
		return models.Transfer{}, repo.ErrNotFound
	}
	return t, nil
}

func (r transfers) Update(_ context.Context, t models.Transfer) error {
	defer r.lock()()
	if _, ok := r.d.transfers[t.ID]; !ok {
		return repo.ErrNotFound
	}
	r.d.transfers[t.ID] = t
	return nil
}

// ---- transactions ----

type transactions struct{ view }

func (r transactions) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	defer r.lock()()
	tx.ID = r.d.id()
	r.d.transactions = append(r.d.transactions, tx)
	return tx, nil
}

func (r transactions) ListByAccount(_ context.Context, accountID int64) ([]models.Transaction, error) {
	defer r.lock()()
	var out []models.Transaction
	for _, tx := range r.d.transactions {
		if tx.FromAccountID == accountID || tx.ToAccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r transactions) ListByTransfer(_ context.Context, transferID int64) ([]models.Transaction, error) {
	defer r.lock()()
	var out []models.Transaction
	for _, tx := range r.d.transactions {
		if tx.TransferID == transferID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ---- otp tokens ----

type otpTokens struct{ view }

func (r otpTokens) Create(_ context.Context, t models.OtpToken) (models.OtpToken, error) {
	defer r.lock()()
	t.ID = r.d.id()
	r.d.otpTokens = append(r.d.otpTokens, t)
	return t, nil
}

func (r otpTokens) LatestByTransfer(_ context.Context, transferID int64) (models.OtpToken, error) {
	defer r.lock()()
	for i := len(r.d.otpTokens) - 1; i >= 0; i-- {
		if r.d.otpTokens[i].TransferID == transferID {
			return r.d.otpTokens[i], nil
		}
	}
	return models.OtpToken{}, repo.ErrNotFound
}

func (r otpTokens) MarkUsed(_ context.Context, id int64) error {
	defer r.lock()()
	for i := range r.d.otpTokens {
		if r.d.otpTokens[i].ID == id {
			r.d.otpTokens[i].Used = true
			return nil
		}
	}
	return repo.ErrNotFound
}

// ---- events ----

type events struct{ view }

func (r events) Create(_ context.Context, ev models.Event) (models.Event, error) {
	defer r.lock()()
	ev.ID = r.d.id()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.d.events[ev.ID] = ev
	return ev, nil
}

func (r events) GetByID(_ context.Context, id int64) (models.Event, error) {
	defer r.lock()()
	ev, ok := r.d.events[id]
	if !ok {
		return models.Event{}, repo.ErrNotFound
	}
	return ev, nil
}

func (r events) GetByIdempotenceKey(_ context.Context, key models.IdempotenceKey) (models.Event, error) {
	defer r.lock()()
	for _, ev := range r.d.events {
		if ev.IdempotenceKey == key {
			return ev, nil
		}
	}
	return models.Event{}, repo.ErrNotFound
}

func (r events) ExistsByIdempotenceKey(ctx context.Context, key models.IdempotenceKey) (bool, error) {
	_, err := r.GetByIdempotenceKey(ctx, key)
	if err == repo.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r events) SetStatus(_ context.Context, id int64, status models.DeliveryStatus) error {
	defer r.lock()()
	ev, ok := r.d.events[id]
	if !ok {
		return repo.ErrNotFound
	}
	ev.Status = status
	r.d.events[id] = ev
	return nil
}

func (r events) AddDelivery(_ context.Context, d models.EventDelivery) (models.EventDelivery, error) {
	defer r.lock()()
	d.ID = r.d.id()
	r.d.deliveries = append(r.d.deliveries, d)
	return d, nil
}

func (r events) ListDeliveries(_ context.Context, eventID int64) ([]models.EventDelivery, error) {
	defer r.lock()()
	var out []models.EventDelivery
	for _, d := range r.d.deliveries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- saga log ----

type sagaLog struct{ view }

func (r sagaLog) Append(_ context.Context, rec models.SagaLogRecord) error {
	defer r.lock()()
	rec.ID = r.d.id()
	r.d.sagaLog = append(r.d.sagaLog, rec)
	return nil
}

func (r sagaLog) Close(_ context.Context, uid string) error {
	defer r.lock()()
	for i := range r.d.sagaLog {
		if r.d.sagaLog[i].UID == uid {
			r.d.sagaLog[i].Closed = true
		}
	}
	return nil
}

func (r sagaLog) Active(_ context.Context) ([]models.SagaLogRecord, error) {
	defer r.lock()()
	latest := make(map[string]models.SagaLogRecord)
	for _, rec := range r.d.sagaLog {
		if !rec.Closed {
			latest[rec.UID] = rec
		}
	}
	out := make([]models.SagaLogRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
