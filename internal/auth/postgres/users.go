package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/auth"
)

const userColumns = `id, email, hashed_password, email_verified, created_at`

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, email, hashedPassword string, emailVerified bool) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, hashed_password, email_verified)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		uuid.NewString(), email, hashedPassword, emailVerified,
	)

	user, err := scanUser(row)
	if isUniqueViolation(err, "users_email_key") {
		return nil, oops.Code(auth.CodeEmailTaken).
			With("email", email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id).
			Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET email_verified = TRUE WHERE id = $1`, userID)
	if err != nil {
		return oops.Code("USER_VERIFY_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.EmailVerified, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
