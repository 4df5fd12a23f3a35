package repository

import (
	"context"
	"errors"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
)

var ErrNotFound = errors.New("not found")

type Accounts interface {
	Create(ctx context.Context, a models.Account) (models.Account, error)
	GetByID(ctx context.Context, id int64) (models.Account, error)
	GetByNumber(ctx context.Context, number string) (models.Account, error)
	Update(ctx context.Context, a models.Account) error
}

type Transfers interface {
	Create(ctx context.Context, t models.Transfer) (models.Transfer, error)
	GetByID(ctx context.Context, id int64) (models.Transfer, error)
	Update(ctx context.Context, t models.Transfer) error
}

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	ListByAccount(ctx context.Context, accountID int64) ([]models.Transaction, error)
	ListByTransfer(ctx context.Context, transferID int64) ([]models.Transaction, error)
}

type OtpTokens interface {
	Create(ctx context.Context, t models.OtpToken) (models.OtpToken, error)
	// LatestByTransfer returns the most recently issued token for the
	// transfer; there is at most one active token per transfer.
	LatestByTransfer(ctx context.Context, transferID int64) (models.OtpToken, error)
	MarkUsed(ctx context.Context, id int64) error
}

type Events interface {
	Create(ctx context.Context, ev models.Event) (models.Event, error)
	GetByID(ctx context.Context, id int64) (models.Event, error)
	GetByIdempotenceKey(ctx context.Context, key models.IdempotenceKey) (models.Event, error)
	ExistsByIdempotenceKey(ctx context.Context, key models.IdempotenceKey) (bool, error)
	SetStatus(ctx context.Context, id int64, status models.DeliveryStatus) error
	// AddDelivery appends one attempt record; rows are never updated.
	AddDelivery(ctx context.Context, d models.EventDelivery) (models.EventDelivery, error)
	ListDeliveries(ctx context.Context, eventID int64) ([]models.EventDelivery, error)
}

type SagaLog interface {
	Append(ctx context.Context, rec models.SagaLogRecord) error
	// Close marks every record of the uid as settled so recovery skips it.
	Close(ctx context.Context, uid string) error
	// Active returns the latest record of every uid that has not been closed.
	Active(ctx context.Context) ([]models.SagaLogRecord, error)
}

type Repositories struct {
	Accounts     Accounts
	Transfers    Transfers
	Transactions Transactions
	OtpTokens    OtpTokens
	Events       Events
	SagaLog      SagaLog
}

// Atomic runs fn against a repository set bound to one all-or-nothing unit of
// work. Either every write inside fn persists or none does.
type Atomic interface {
	WithTx(ctx context.Context, fn func(Repositories) error) error
}

type Store struct {
	Repositories
	Atomic
}
