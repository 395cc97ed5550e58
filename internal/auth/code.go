package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Verification code parameters.
const (
	VerificationCodeLength = 4
	VerificationCodeTTL    = 15 * time.Minute
)

type EmailVerificationCode struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
}

// CodeRepository persists email verification codes.
type CodeRepository interface {
	DeleteByUser(ctx context.Context, userID string) error
	Create(ctx context.Context, code *EmailVerificationCode) error
	// Consume deletes the row matching all three fields and returns it in
	// the same statement. It returns ErrNotFound when nothing matched.
	Consume(ctx context.Context, userID, email, code string) (*EmailVerificationCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CodeService issues and consumes single-use email verification codes.
type CodeService struct {
	codes    CodeRepository
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

func NewCodeService(codes CodeRepository, ttl time.Duration) *CodeService {
	if ttl <= 0 {
		ttl = VerificationCodeTTL
	}
	return &CodeService{
		codes:    codes,
		ttl:      ttl,
		now:      time.Now,
		generate: RandomDigits,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *CodeService) WithClock(now func() time.Time) *CodeService {
	s.now = now
	return s
}

// WithGenerator replaces the code generator. Used by tests.
func (s *CodeService) WithGenerator(gen func() (string, error)) *CodeService {
	s.generate = gen
	return s
}

func (s *CodeService) TTL() time.Duration { return s.ttl }

// Issue replaces any outstanding code for userID with a new one and
// returns its plaintext.
func (s *CodeService) Issue(ctx context.Context, userID, email string) (string, error) {
	if err := s.codes.DeleteByUser(ctx, userID); err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "delete previous code").
			With("user_id", userID).
			Wrap(err)
	}

	code, err := s.generate()
	if err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	row := &EmailVerificationCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.codes.Create(ctx, row); err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "insert code").
			With("user_id", userID).
			Wrap(err)
	}
	return code, nil
}

// Consume reports whether code is the outstanding, unexpired code for the
// user and email. A matching row is deleted even when it turns out to be
// expired, so every code can be tried successfully at most once.
func (s *CodeService) Consume(ctx context.Context, userID, email, code string) (bool, error) {
	row, err := s.codes.Consume(ctx, userID, email, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	if !s.now().Before(row.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

// PruneExpired removes codes that expired before now.
func (s *CodeService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.codes.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("CODE_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

// RandomDigits returns VerificationCodeLength digits from crypto/rand.
func RandomDigits() (string, error) {
	buf := make([]byte, VerificationCodeLength)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
