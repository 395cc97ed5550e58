package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/auth"
)

// CodeRepository implements auth.CodeRepository.
type CodeRepository struct {
	db DB
}

func NewCodeRepository(db DB) *CodeRepository {
	return &CodeRepository{db: db}
}

func (r *CodeRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM email_verification_codes WHERE user_id = $1`, userID); err != nil {
		return oops.Code("CODE_DELETE_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

func (r *CodeRepository) Create(ctx context.Context, code *auth.EmailVerificationCode) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO email_verification_codes (id, user_id, email, code, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, code.ID, code.UserID, code.Email, code.Code, code.ExpiresAt)
	if isUniqueViolation(err, "email_verification_codes_user_id_key") {
		return oops.Code("CODE_OUTSTANDING").
			With("user_id", code.UserID).
			Wrap(auth.ErrCodeOutstanding)
	}
	if err != nil {
		return oops.Code("CODE_INSERT_FAILED").
			With("user_id", code.UserID).
			Wrap(err)
	}
	return nil
}

// Consume is a single DELETE ... RETURNING so concurrent submissions of the
// same code cannot both observe the row.
func (r *CodeRepository) Consume(ctx context.Context, userID, email, code string) (*auth.EmailVerificationCode, error) {
	var c auth.EmailVerificationCode
	err := r.db.QueryRow(ctx, `
		DELETE FROM email_verification_codes
		WHERE user_id = $1 AND email = $2 AND code = $3
		RETURNING id, user_id, email, code, expires_at
	`, userID, email, code).Scan(&c.ID, &c.UserID, &c.Email, &c.Code, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_DELETE_RETURNING_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return &c, nil
}

func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM email_verification_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("CODE_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
