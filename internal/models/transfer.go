package models

import "time"

type TransferType string

const (
	TransferInternal TransferType = "INTERNAL"
	TransferExternal TransferType = "EXTERNAL"
	TransferExchange TransferType = "EXCHANGE"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferFailed    TransferStatus = "FAILED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// Transfer is created PENDING by the request layer and moved to exactly one
// terminal status by the settlement engine. Terminal transfers are immutable.
type Transfer struct {
	ID            int64          `json:"id"`
	FromAccountID int64          `json:"from_account_id"`
	ToAccountID   int64          `json:"to_account_id"`
	Amount        float64        `json:"amount"`
	FromCurrency  string         `json:"from_currency"`
	ToCurrency    string         `json:"to_currency"`
	Otp           *string        `json:"-"`
	Type          TransferType   `json:"type"`
	Status        TransferStatus `json:"status"`
	Note          string         `json:"note,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

func (t Transfer) Terminal() bool {
	return t.Status != TransferPending
}
