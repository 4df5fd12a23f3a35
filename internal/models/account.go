package models

import "time"

type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountBlocked AccountStatus = "BLOCKED"
	AccountClosed  AccountStatus = "CLOSED"
)

// Account rows are never deleted; decommissioned accounts move to
// AccountClosed. Balance and ReservedBalance are mutated only inside a
// repository unit of work together with the transfer/ledger state they belong to.
type Account struct {
	ID              int64         `json:"id"`
	OwnerID         int64         `json:"owner_id"`
	AccountNumber   string        `json:"account_number"`
	Currency        string        `json:"currency"`
	Balance         float64       `json:"balance"`
	ReservedBalance float64       `json:"reserved_balance"`
	Status          AccountStatus `json:"status"`
	DailyLimit      float64       `json:"daily_limit"`
	MonthlyLimit    float64       `json:"monthly_limit"`
	DailySpent      float64       `json:"daily_spent"`
	MonthlySpent    float64       `json:"monthly_spent"`
	CreatedAt       time.Time     `json:"created_at"`
}
