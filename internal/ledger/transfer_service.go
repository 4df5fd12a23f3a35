// Package ledger holds the settlement engine that moves money between
// accounts. Balance mutation, ledger rows and transfer state always change
// inside one repository unit of work.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/interbank"
	"github.com/mkrivacevic11921rn/settlement-core/internal/metrics"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("spending limit exceeded")
	ErrInvalidState      = errors.New("invalid transfer state")
	ErrCurrencyMismatch  = errors.New("currency type mismatch")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// Customer lookups and OTP notifications are external collaborators; the
// engine only knows these narrow contracts.
type Customer struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Address   string
}

type CustomerDirectory interface {
	CustomerByID(ctx context.Context, id int64) (Customer, error)
}

type Notification struct {
	Email     string
	FirstName string
	LastName  string
	Subject   string
	Message   string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// InterbankSender announces the counterparty leg of an external transfer.
type InterbankSender interface {
	SendNewTransaction(ctx context.Context, m interbank.NewTransaction) (models.Event, error)
}

type TransferService struct {
	store     repo.Store
	interbank InterbankSender
	customers CustomerDirectory
	notifier  Notifier
	otp       *OtpService
}

func NewTransferService(store repo.Store, ib InterbankSender, customers CustomerDirectory, notifier Notifier, otp *OtpService) *TransferService {
	return &TransferService{store: store, interbank: ib, customers: customers, notifier: notifier, otp: otp}
}

// Settle drives a PENDING transfer to a terminal state. The transfer type
// picks the mutation path; settling a terminal transfer is an error, never a
// silent no-op.
func (s *TransferService) Settle(ctx context.Context, transferID int64) (string, error) {
	t, err := s.store.Transfers.GetByID(ctx, transferID)
	if err != nil {
		return "", fmt.Errorf("load transfer %d: %w", transferID, err)
	}
	switch t.Type {
	case models.TransferInternal, models.TransferExchange:
		return s.ProcessInternalTransfer(ctx, transferID)
	case models.TransferExternal:
		return s.ProcessExternalTransfer(ctx, transferID)
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidTransfer, t.Type)
	}
}

func (s *TransferService) ProcessInternalTransfer(ctx context.Context, transferID int64) (string, error) {
	if _, err := s.settle(ctx, transferID); err != nil {
		return "", err
	}
	return "Transfer completed successfully", nil
}

// ProcessExternalTransfer settles the local legs exactly like an internal
// transfer, then announces the counterparty leg to the remote bank. The
// remote side later confirms (COMMIT_TX) or denies (ROLLBACK_TX) through the
// interbank gateway.
func (s *TransferService) ProcessExternalTransfer(ctx context.Context, transferID int64) (string, error) {
	t, err := s.settle(ctx, transferID)
	if err != nil {
		return "", err
	}

	from, err := s.store.Accounts.GetByID(ctx, t.FromAccountID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", t.FromAccountID, err)
	}
	to, err := s.store.Accounts.GetByID(ctx, t.ToAccountID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", t.ToAccountID, err)
	}

	m := interbank.NewTransaction{
		TransferID: t.ID,
		Postings: []interbank.Posting{
			{AccountNumber: from.AccountNumber, Amount: -t.Amount, Currency: t.FromCurrency},
			{AccountNumber: to.AccountNumber, Amount: t.Amount, Currency: t.ToCurrency},
		},
		Message: t.Note,
	}
	// Delivery runs out of band with its own retries; the local settlement
	// stands regardless.
	if _, err := s.interbank.SendNewTransaction(ctx, m); err != nil {
		slog.Error("ledger: announce external transfer", "transfer", t.ID, "err", err)
	}
	return "Transfer completed successfully", nil
}

// settle is the shared all-or-nothing mutation: debit, credit, two ledger
// rows and the COMPLETED flip happen in one unit of work or not at all. On
// insufficient funds the transfer is marked FAILED in its own unit of work
// and no balance changes.
func (s *TransferService) settle(ctx context.Context, transferID int64) (models.Transfer, error) {
	var settled models.Transfer
	err := s.store.WithTx(ctx, func(r repo.Repositories) error {
		t, err := r.Transfers.GetByID(ctx, transferID)
		if err != nil {
			return fmt.Errorf("load transfer %d: %w", transferID, err)
		}
		if t.Terminal() {
			return fmt.Errorf("%w: transfer %d is %s", ErrInvalidState, t.ID, t.Status)
		}

		from, err := r.Accounts.GetByID(ctx, t.FromAccountID)
		if err != nil {
			return fmt.Errorf("load account %d: %w", t.FromAccountID, err)
		}
		to, err := r.Accounts.GetByID(ctx, t.ToAccountID)
		if err != nil {
			return fmt.Errorf("load account %d: %w", t.ToAccountID, err)
		}

		if from.Balance < t.Amount {
			return ErrInsufficientFunds
		}
		// A zero limit means unlimited.
		if from.DailyLimit > 0 && from.DailySpent+t.Amount > from.DailyLimit {
			return fmt.Errorf("%w: daily", ErrLimitExceeded)
		}
		if from.MonthlyLimit > 0 && from.MonthlySpent+t.Amount > from.MonthlyLimit {
			return fmt.Errorf("%w: monthly", ErrLimitExceeded)
		}

		from.Balance -= t.Amount
		from.DailySpent += t.Amount
		from.MonthlySpent += t.Amount
		to.Balance += t.Amount
		if err := r.Accounts.Update(ctx, from); err != nil {
			return err
		}
		if err := r.Accounts.Update(ctx, to); err != nil {
			return err
		}

		now := time.Now()
		legs := []models.Transaction{
			{
				FromAccountID: from.ID,
				ToAccountID:   to.ID,
				Amount:        t.Amount,
				Currency:      t.FromCurrency,
				Description:   fmt.Sprintf("Debit leg for transfer %d", t.ID),
				Timestamp:     now,
				TransferID:    t.ID,
			},
			{
				FromAccountID: from.ID,
				ToAccountID:   to.ID,
				Amount:        t.Amount,
				Currency:      t.ToCurrency,
				Description:   fmt.Sprintf("Credit leg for transfer %d", t.ID),
				Timestamp:     now,
				TransferID:    t.ID,
			},
		}
		for _, leg := range legs {
			if _, err := r.Transactions.Create(ctx, leg); err != nil {
				return err
			}
		}

		t.Status = models.TransferCompleted
		t.CompletedAt = &now
		if err := r.Transfers.Update(ctx, t); err != nil {
			return err
		}
		settled = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.markFailed(ctx, transferID, "Insufficient balance")
		}
		if errors.Is(err, ErrLimitExceeded) {
			s.markFailed(ctx, transferID, "Spending limit exceeded")
		}
		metrics.TransfersSettled.WithLabelValues(string(models.TransferFailed)).Inc()
		return models.Transfer{}, err
	}
	metrics.TransfersSettled.WithLabelValues(string(models.TransferCompleted)).Inc()
	return settled, nil
}

// markFailed runs outside the settlement unit of work so the terminal FAILED
// status survives its rollback.
func (s *TransferService) markFailed(ctx context.Context, transferID int64, note string) {
	t, err := s.store.Transfers.GetByID(ctx, transferID)
	if err != nil {
		slog.Error("ledger: load transfer for fail mark", "transfer", transferID, "err", err)
		return
	}
	t.Status = models.TransferFailed
	t.Note = note
	if err := s.store.Transfers.Update(ctx, t); err != nil {
		slog.Error("ledger: mark transfer failed", "transfer", transferID, "err", err)
	}
}

// ConfirmExternal is the inbound COMMIT_TX path: the counterparty accepted
// the announced leg. The local settlement already happened, so this only
// verifies state.
func (s *TransferService) ConfirmExternal(ctx context.Context, transferID int64) error {
	t, err := s.store.Transfers.GetByID(ctx, transferID)
	if err != nil {
		return fmt.Errorf("load transfer %d: %w", transferID, err)
	}
	if t.Status != models.TransferCompleted {
		return fmt.Errorf("%w: transfer %d is %s, expected COMPLETED", ErrInvalidState, t.ID, t.Status)
	}
	slog.Info("ledger: external transfer confirmed", "transfer", t.ID)
	return nil
}

// DenyExternal is the inbound ROLLBACK_TX path: the counterparty denied the
// announced leg. Both local legs are reversed and the reversal gets its own
// ledger rows; the original rows stay, the table is append-only.
func (s *TransferService) DenyExternal(ctx context.Context, transferID int64) error {
	err := s.store.WithTx(ctx, func(r repo.Repositories) error {
		t, err := r.Transfers.GetByID(ctx, transferID)
		if err != nil {
			return fmt.Errorf("load transfer %d: %w", transferID, err)
		}
		if t.Status != models.TransferCompleted {
			return fmt.Errorf("%w: transfer %d is %s, expected COMPLETED", ErrInvalidState, t.ID, t.Status)
		}

		from, err := r.Accounts.GetByID(ctx, t.FromAccountID)
		if err != nil {
			return err
		}
		to, err := r.Accounts.GetByID(ctx, t.ToAccountID)
		if err != nil {
			return err
		}
		from.Balance += t.Amount
		to.Balance -= t.Amount
		if err := r.Accounts.Update(ctx, from); err != nil {
			return err
		}
		if err := r.Accounts.Update(ctx, to); err != nil {
			return err
		}

		now := time.Now()
		reversal := models.Transaction{
			FromAccountID: to.ID,
			ToAccountID:   from.ID,
			Amount:        t.Amount,
			Currency:      t.FromCurrency,
			Description:   fmt.Sprintf("Reversal for transfer %d denied by counterparty", t.ID),
			Timestamp:     now,
			TransferID:    t.ID,
		}
		if _, err := r.Transactions.Create(ctx, reversal); err != nil {
			return err
		}

		t.Status = models.TransferCancelled
		t.Note = "Denied by counterparty"
		return r.Transfers.Update(ctx, t)
	})
	if err != nil {
		return err
	}
	metrics.TransfersSettled.WithLabelValues(string(models.TransferCancelled)).Inc()
	slog.Warn("ledger: external transfer denied, legs reversed", "transfer", transferID)
	return nil
}

type CreateTransferInput struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        float64
	Type          models.TransferType
	Note          string
}

// CreateTransfer registers a PENDING transfer, issues its OTP and fires the
// notification to the owning customer. Settlement happens later, after the
// request layer verifies the code.
func (s *TransferService) CreateTransfer(ctx context.Context, in CreateTransferInput) (models.Transfer, error) {
	if in.Amount <= 0 {
		return models.Transfer{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if in.FromAccountID == in.ToAccountID {
		return models.Transfer{}, fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidTransfer)
	}

	from, err := s.store.Accounts.GetByID(ctx, in.FromAccountID)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("load account %d: %w", in.FromAccountID, err)
	}
	to, err := s.store.Accounts.GetByID(ctx, in.ToAccountID)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("load account %d: %w", in.ToAccountID, err)
	}

	switch in.Type {
	case models.TransferInternal:
		if from.OwnerID != to.OwnerID {
			return models.Transfer{}, fmt.Errorf("%w: internal transfer requires one owner", ErrInvalidTransfer)
		}
		if from.Currency != to.Currency {
			return models.Transfer{}, ErrCurrencyMismatch
		}
	case models.TransferExchange:
		if from.OwnerID != to.OwnerID {
			return models.Transfer{}, fmt.Errorf("%w: exchange requires one owner", ErrInvalidTransfer)
		}
		if from.Currency == to.Currency {
			return models.Transfer{}, fmt.Errorf("%w: exchange requires distinct currencies", ErrInvalidTransfer)
		}
	case models.TransferExternal:
		if from.OwnerID == to.OwnerID {
			return models.Transfer{}, fmt.Errorf("%w: external transfer requires distinct owners", ErrInvalidTransfer)
		}
	default:
		return models.Transfer{}, fmt.Errorf("%w: unknown type %q", ErrInvalidTransfer, in.Type)
	}

	t, err := s.store.Transfers.Create(ctx, models.Transfer{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        in.Amount,
		FromCurrency:  from.Currency,
		ToCurrency:    to.Currency,
		Type:          in.Type,
		Status:        models.TransferPending,
		Note:          in.Note,
	})
	if err != nil {
		return models.Transfer{}, fmt.Errorf("create transfer: %w", err)
	}

	code, err := s.otp.Issue(ctx, t.ID)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("issue otp: %w", err)
	}

	cust, err := s.customers.CustomerByID(ctx, from.OwnerID)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("load customer %d: %w", from.OwnerID, err)
	}
	// The notification channel is fire-and-forget; a send failure must not
	// fail transfer creation.
	if err := s.notifier.Notify(ctx, Notification{
		Email:     cust.Email,
		FirstName: cust.FirstName,
		LastName:  cust.LastName,
		Subject:   "Verification",
		Message:   "Your verification code is: " + code,
	}); err != nil {
		slog.Error("ledger: send otp notification", "transfer", t.ID, "err", err)
	}
	return t, nil
}
