package auth

import (
	"context"
	"net/mail"
	"time"
)

type User struct {
	ID             string
	Email          string
	HashedPassword string
	EmailVerified  bool
	CreatedAt      time.Time
}

// UserRepository is the credential store. Implementations must enforce
// email uniqueness at the storage layer and report a duplicate insert with
// an error wrapping ErrEmailTaken.
type UserRepository interface {
	Create(ctx context.Context, email, hashedPassword string, emailVerified bool) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// SetEmailVerified is idempotent.
	SetEmailVerified(ctx context.Context, userID string) error
}

// ValidEmail reports whether email parses as a bare RFC 5322 address.
// Display-name forms such as "Bob <bob@x.com>" are rejected.
func ValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}
