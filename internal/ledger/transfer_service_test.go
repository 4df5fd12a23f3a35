package ledger_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrivacevic11921rn/settlement-core/internal/interbank"
	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
	"github.com/mkrivacevic11921rn/settlement-core/internal/repository/memory"
)

type stubSender struct {
	sent []interbank.NewTransaction
	err  error
}

func (s *stubSender) SendNewTransaction(_ context.Context, m interbank.NewTransaction) (models.Event, error) {
	if s.err != nil {
		return models.Event{}, s.err
	}
	s.sent = append(s.sent, m)
	return models.Event{ID: int64(len(s.sent))}, nil
}

type stubDirectory struct{}

func (stubDirectory) CustomerByID(_ context.Context, id int64) (ledger.Customer, error) {
	return ledger.Customer{ID: id, FirstName: "Mila", LastName: "Petrov", Email: "mila@example.com"}, nil
}

type stubNotifier struct {
	notes []ledger.Notification
}

func (n *stubNotifier) Notify(_ context.Context, note ledger.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type fixture struct {
	store    repo.Store
	svc      *ledger.TransferService
	otp      *ledger.OtpService
	sender   *stubSender
	notifier *stubNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	otp := ledger.NewOtpService(store.OtpTokens, ledgerTestOtpTTL)
	sender := &stubSender{}
	notifier := &stubNotifier{}
	svc := ledger.NewTransferService(store, sender, stubDirectory{}, notifier, otp)
	return &fixture{store: store, svc: svc, otp: otp, sender: sender, notifier: notifier}
}

func (f *fixture) account(t *testing.T, owner int64, number, currency string, balance float64) models.Account {
	t.Helper()
	a, err := f.store.Accounts.Create(context.Background(), models.Account{
		OwnerID:       owner,
		AccountNumber: number,
		Currency:      currency,
		Balance:       balance,
		Status:        models.AccountActive,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) pendingTransfer(t *testing.T, from, to models.Account, amount float64, typ models.TransferType) models.Transfer {
	t.Helper()
	tr, err := f.store.Transfers.Create(context.Background(), models.Transfer{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        amount,
		FromCurrency:  from.Currency,
		ToCurrency:    to.Currency,
		Type:          typ,
		Status:        models.TransferPending,
	})
	require.NoError(t, err)
	return tr
}

func TestSettleInternalTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 1, "111000200", "RSD", 0)
	tr := f.pendingTransfer(t, from, to, 40, models.TransferInternal)

	msg, err := f.svc.Settle(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, "Transfer completed successfully", msg)

	from, _ = f.store.Accounts.GetByID(ctx, from.ID)
	to, _ = f.store.Accounts.GetByID(ctx, to.ID)
	require.Equal(t, 60.0, from.Balance)
	require.Equal(t, 40.0, to.Balance)
	require.Equal(t, 40.0, from.DailySpent)

	got, err := f.store.Transfers.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	legs, err := f.store.Transactions.ListByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		require.Equal(t, from.ID, leg.FromAccountID)
		require.Equal(t, to.ID, leg.ToAccountID)
		require.Equal(t, 40.0, leg.Amount)
	}
}

func TestSettleInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 10)
	to := f.account(t, 1, "111000200", "RSD", 5)
	tr := f.pendingTransfer(t, from, to, 40, models.TransferInternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// no balance moved, no ledger rows written
	from, _ = f.store.Accounts.GetByID(ctx, from.ID)
	to, _ = f.store.Accounts.GetByID(ctx, to.ID)
	require.Equal(t, 10.0, from.Balance)
	require.Equal(t, 5.0, to.Balance)
	legs, err := f.store.Transactions.ListByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Empty(t, legs)

	// but the terminal FAILED status survives
	got, err := f.store.Transfers.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferFailed, got.Status)
}

func TestSettleDailyLimitExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 1, "111000200", "RSD", 0)
	from.DailyLimit = 50
	from.DailySpent = 20
	require.NoError(t, f.store.Accounts.Update(ctx, from))
	tr := f.pendingTransfer(t, from, to, 40, models.TransferInternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.ErrorIs(t, err, ledger.ErrLimitExceeded)

	from, _ = f.store.Accounts.GetByID(ctx, from.ID)
	to, _ = f.store.Accounts.GetByID(ctx, to.ID)
	require.Equal(t, 100.0, from.Balance)
	require.Equal(t, 20.0, from.DailySpent)
	require.Equal(t, 0.0, to.Balance)

	got, err := f.store.Transfers.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferFailed, got.Status)
	require.Equal(t, "Spending limit exceeded", got.Note)
}

func TestSettleMonthlyLimitExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 1, "111000200", "RSD", 0)
	from.MonthlyLimit = 100
	from.MonthlySpent = 70
	require.NoError(t, f.store.Accounts.Update(ctx, from))
	tr := f.pendingTransfer(t, from, to, 40, models.TransferInternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.ErrorIs(t, err, ledger.ErrLimitExceeded)

	got, err := f.store.Transfers.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferFailed, got.Status)
}

func TestSettleRejectsTerminalTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 1, "111000200", "RSD", 0)
	tr := f.pendingTransfer(t, from, to, 40, models.TransferInternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, tr.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	// balances unchanged by the second call
	from, _ = f.store.Accounts.GetByID(ctx, from.ID)
	require.Equal(t, 60.0, from.Balance)
}

func TestSettleUnknownTransfer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Settle(context.Background(), 999)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSettleExternalAnnouncesCounterparty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 2, "222000900", "RSD", 0)
	tr := f.pendingTransfer(t, from, to, 25, models.TransferExternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 1)
	m := f.sender.sent[0]
	require.Equal(t, tr.ID, m.TransferID)
	require.Len(t, m.Postings, 2)
	require.Equal(t, "111000100", m.Postings[0].AccountNumber)
	require.Equal(t, -25.0, m.Postings[0].Amount)
	require.Equal(t, "222000900", m.Postings[1].AccountNumber)
	require.Equal(t, 25.0, m.Postings[1].Amount)
}

func TestDenyExternalReversesLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 2, "222000900", "RSD", 0)
	tr := f.pendingTransfer(t, from, to, 25, models.TransferExternal)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DenyExternal(ctx, tr.ID))

	from, _ = f.store.Accounts.GetByID(ctx, from.ID)
	to, _ = f.store.Accounts.GetByID(ctx, to.ID)
	require.Equal(t, 100.0, from.Balance)
	require.Equal(t, 0.0, to.Balance)

	got, err := f.store.Transfers.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferCancelled, got.Status)

	// original legs stay, the reversal is a new row
	legs, err := f.store.Transactions.ListByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, legs, 3)
}

func TestConfirmExternalRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 2, "222000900", "RSD", 0)
	tr := f.pendingTransfer(t, from, to, 25, models.TransferExternal)

	require.ErrorIs(t, f.svc.ConfirmExternal(ctx, tr.ID), ledger.ErrInvalidState)

	_, err := f.svc.Settle(ctx, tr.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.ConfirmExternal(ctx, tr.ID))
}

func TestCreateTransferIssuesOtp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.account(t, 1, "111000100", "RSD", 100)
	to := f.account(t, 1, "111000200", "RSD", 0)

	tr, err := f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        40,
		Type:          models.TransferInternal,
	})
	require.NoError(t, err)
	require.Equal(t, models.TransferPending, tr.Status)

	require.Len(t, f.notifier.notes, 1)
	code := regexp.MustCompile(`\d{6}`).FindString(f.notifier.notes[0].Message)
	require.NotEmpty(t, code)
	require.True(t, f.otp.IsValid(ctx, tr.ID, code))

	// the stored token is a hash, never the plaintext
	tok, err := f.store.OtpTokens.LatestByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	require.NotEqual(t, code, tok.CodeHash)
}

func TestCreateTransferValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rsd := f.account(t, 1, "111000100", "RSD", 100)
	eur := f.account(t, 1, "111000300", "EUR", 0)
	other := f.account(t, 2, "222000900", "RSD", 0)

	_, err := f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: rsd.ID, ToAccountID: eur.ID, Amount: 10, Type: models.TransferInternal,
	})
	require.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	_, err = f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: rsd.ID, ToAccountID: other.ID, Amount: 10, Type: models.TransferInternal,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidTransfer)

	_, err = f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: rsd.ID, ToAccountID: rsd.ID, Amount: 10, Type: models.TransferInternal,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidTransfer)

	_, err = f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: rsd.ID, ToAccountID: other.ID, Amount: -1, Type: models.TransferExternal,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidTransfer)

	_, err = f.svc.CreateTransfer(ctx, ledger.CreateTransferInput{
		FromAccountID: 999, ToAccountID: rsd.ID, Amount: 10, Type: models.TransferInternal,
	})
	require.ErrorIs(t, err, repo.ErrNotFound)
}
