package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

var ErrOtpNotFound = errors.New("otp not found")

// OtpService gates settlement behind a short-lived verification code. Codes
// are stored hashed; the plaintext exists only in the notification sent to
// the customer.
type OtpService struct {
	tokens repo.OtpTokens
	ttl    time.Duration
	now    func() time.Time
}

func NewOtpService(tokens repo.OtpTokens, ttl time.Duration) *OtpService {
	return &OtpService{tokens: tokens, ttl: ttl, now: time.Now}
}

// Issue creates a fresh six digit code for the transfer and returns the
// plaintext for delivery. Re-issuing supersedes earlier codes because
// validation only ever looks at the latest token.
func (s *OtpService) Issue(ctx context.Context, transferID int64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	_, err = s.tokens.Create(ctx, models.OtpToken{
		TransferID: transferID,
		CodeHash:   string(hash),
		ExpiresAt:  s.now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// IsValid reports whether code matches the latest unused token for the
// transfer. Expiry is checked separately so callers can tell the two apart.
func (s *OtpService) IsValid(ctx context.Context, transferID int64, code string) bool {
	t, err := s.tokens.LatestByTransfer(ctx, transferID)
	if err != nil || t.Used {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(t.CodeHash), []byte(code)) == nil
}

// IsExpired treats a missing token as expired.
func (s *OtpService) IsExpired(ctx context.Context, transferID int64) bool {
	t, err := s.tokens.LatestByTransfer(ctx, transferID)
	if err != nil {
		return true
	}
	return t.ExpiresAt.Before(s.now())
}

// MarkUsed burns the latest token after a successful verification so the
// same code cannot authorize a second settlement.
func (s *OtpService) MarkUsed(ctx context.Context, transferID int64) error {
	t, err := s.tokens.LatestByTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrOtpNotFound
		}
		return err
	}
	return s.tokens.MarkUsed(ctx, t.ID)
}
