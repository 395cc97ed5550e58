// Package authtest provides in-memory repositories for tests of code built
// on the auth package.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vestri/authcore/internal/auth"
)

// Users is an in-memory auth.UserRepository.
type Users struct {
	mu   sync.Mutex
	byID map[string]auth.User
	// Err, when set, is returned by every method.
	Err error
}

func NewUsers() *Users {
	return &Users{byID: make(map[string]auth.User)}
}

func (r *Users) Create(_ context.Context, email, hashedPassword string, emailVerified bool) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.byID {
		if u.Email == email {
			return nil, auth.ErrEmailTaken
		}
	}
	u := auth.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: hashedPassword,
		EmailVerified:  emailVerified,
		CreatedAt:      time.Now(),
	}
	r.byID[u.ID] = u
	return &u, nil
}

func (r *Users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *Users) FindByID(_ context.Context, id string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (r *Users) SetEmailVerified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	u, ok := r.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.EmailVerified = true
	r.byID[userID] = u
	return nil
}

// Remove deletes a user, leaving their sessions orphaned.
func (r *Users) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// CountByEmail returns the number of users registered under email.
func (r *Users) CountByEmail(email string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.byID {
		if u.Email == email {
			n++
		}
	}
	return n
}

// Sessions is an in-memory auth.SessionRepository.
type Sessions struct {
	mu   sync.Mutex
	byID map[string]auth.Session
	Err  error
}

func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]auth.Session)}
}

func (r *Sessions) Create(_ context.Context, sess *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	stored := *sess
	stored.Fresh = false
	r.byID[sess.ID] = stored
	return nil
}

func (r *Sessions) Get(_ context.Context, id string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &s, nil
}

func (r *Sessions) UpdateExpiry(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if s, ok := r.byID[id]; ok {
		s.ExpiresAt = expiresAt
		r.byID[id] = s
	}
	return nil
}

func (r *Sessions) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.byID, id)
	return nil
}

func (r *Sessions) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *Sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for id, s := range r.byID {
		if s.IsExpiredAt(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// ForUser returns the stored sessions owned by userID.
func (r *Sessions) ForUser(userID string) []auth.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.Session
	for _, s := range r.byID {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Codes is an in-memory auth.CodeRepository keyed by user id, mirroring the
// unique constraint on user_id.
type Codes struct {
	mu     sync.Mutex
	byUser map[string]auth.EmailVerificationCode
	Err    error
}

func NewCodes() *Codes {
	return &Codes{byUser: make(map[string]auth.EmailVerificationCode)}
}

func (r *Codes) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.byUser, userID)
	return nil
}

func (r *Codes) Create(_ context.Context, code *auth.EmailVerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, exists := r.byUser[code.UserID]; exists {
		return auth.ErrCodeOutstanding
	}
	r.byUser[code.UserID] = *code
	return nil
}

func (r *Codes) Consume(_ context.Context, userID, email, code string) (*auth.EmailVerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	row, ok := r.byUser[userID]
	if !ok || row.Email != email || row.Code != code {
		return nil, auth.ErrNotFound
	}
	delete(r.byUser, userID)
	return &row, nil
}

func (r *Codes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for id, c := range r.byUser {
		if !now.Before(c.ExpiresAt) {
			delete(r.byUser, id)
			n++
		}
	}
	return n, nil
}

// Outstanding returns the code currently stored for userID.
func (r *Codes) Outstanding(userID string) (auth.EmailVerificationCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[userID]
	return c, ok
}

func (r *Codes) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Mailer records sent messages.
type Mailer struct {
	mu   sync.Mutex
	Sent []Message
	Err  error
}

type Message struct {
	To, Subject, Text, HTML string
}

func (m *Mailer) Send(_ context.Context, to, subject, text, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, Message{To: to, Subject: subject, Text: text, HTML: html})
	return m.Err
}

func (m *Mailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Sent...)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
