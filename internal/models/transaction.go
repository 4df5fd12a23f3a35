package models

import "time"

// Transaction is one immutable ledger entry: a single money movement leg with
// a back-reference to the transfer that produced it. Rows are only ever
// inserted; the table is the audit trail.
type Transaction struct {
	ID            int64     `json:"id"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description"`
	Timestamp     time.Time `json:"timestamp"`
	TransferID    int64     `json:"transfer_id"`
}
