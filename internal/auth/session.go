package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Session lifetime defaults.
const (
	DefaultSessionTTL = 30 * 24 * time.Hour
)

type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	// Fresh is set on the value returned by Create and by a renewing
	// Validate. It is never persisted.
	Fresh bool
}

// IsExpiredAt reports whether the session is no longer valid at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionRepository persists sessions.
type SessionRepository interface {
	Create(ctx context.Context, sess *Session) error
	// Get returns ErrNotFound when no row exists. It does not filter expired rows.
	Get(ctx context.Context, id string) (*Session, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	// Delete and DeleteByUser succeed when nothing matched.
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionConfig struct {
	TTL time.Duration
	// RenewWithin is the remaining-lifetime threshold below which a
	// validated session is extended. Zero means TTL/2.
	RenewWithin time.Duration
}

// SessionManager issues, validates, renews and revokes sessions.
type SessionManager struct {
	sessions SessionRepository
	users    UserRepository
	cfg      SessionConfig
	now      func() time.Time
	newID    func() string
}

func NewSessionManager(sessions SessionRepository, users UserRepository, cfg SessionConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.RenewWithin <= 0 || cfg.RenewWithin > cfg.TTL {
		cfg.RenewWithin = cfg.TTL / 2
	}
	return &SessionManager{
		sessions: sessions,
		users:    users,
		cfg:      cfg,
		now:      time.Now,
		newID:    NewSessionID,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) TTL() time.Duration { return m.cfg.TTL }

// Create starts a new session for userID.
func (m *SessionManager) Create(ctx context.Context, userID string) (*Session, error) {
	sess := &Session{
		ID:        m.newID(),
		UserID:    userID,
		ExpiresAt: m.now().Add(m.cfg.TTL),
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	sess.Fresh = true
	return sess, nil
}

// Validate resolves a session id to its session and owner. A nil session
// with a nil error means the id is not (or no longer) valid; expired and
// orphaned rows are deleted on the way out.
func (m *SessionManager) Validate(ctx context.Context, id string) (*Session, *User, error) {
	if id == "" {
		return nil, nil, nil
	}

	sess, err := m.sessions.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	now := m.now()
	if sess.IsExpiredAt(now) {
		if err := m.sessions.Delete(ctx, id); err != nil {
			return nil, nil, oops.Code("SESSION_VALIDATE_FAILED").
				With("operation", "purge expired session").
				Wrap(err)
		}
		return nil, nil, nil
	}

	user, err := m.users.FindByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		if err := m.sessions.Delete(ctx, id); err != nil {
			return nil, nil, oops.Code("SESSION_VALIDATE_FAILED").
				With("operation", "purge orphaned session").
				Wrap(err)
		}
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "load session owner").
			With("user_id", sess.UserID).
			Wrap(err)
	}

	if sess.ExpiresAt.Sub(now) < m.cfg.RenewWithin {
		expires := now.Add(m.cfg.TTL)
		if err := m.sessions.UpdateExpiry(ctx, id, expires); err != nil {
			return nil, nil, oops.Code("SESSION_VALIDATE_FAILED").
				With("operation", "renew session").
				Wrap(err)
		}
		sess.ExpiresAt = expires
		sess.Fresh = true
	}

	return sess, user, nil
}

// Invalidate deletes a single session. Unknown ids are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, id string) error {
	if err := m.sessions.Delete(ctx, id); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	return nil
}

// InvalidateUser deletes every session owned by userID.
func (m *SessionManager) InvalidateUser(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// PruneExpired removes sessions that expired before now.
func (m *SessionManager) PruneExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

func NewSessionID() string {
	return uuid.NewString()
}
