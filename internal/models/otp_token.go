package models

import "time"

// OtpToken gates settlement of a transfer behind a one-time code. The code
// itself is stored as a bcrypt hash; the plaintext leaves the process only
// through the notification channel. Used is a one-way transition.
type OtpToken struct {
	ID         int64     `json:"id"`
	TransferID int64     `json:"transfer_id"`
	CodeHash   string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	Used       bool      `json:"used"`
}
