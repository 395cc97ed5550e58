package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/errutil"
	"github.com/vestri/authcore/internal/i18n"
)

// Mailer delivers a message. Failures are reported but never fatal to the
// caller's use case.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// Service composes the credential store, hasher, session manager and code
// service into the signup, login, logout and email verification flows.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionManager
	codes    *CodeService
	mailer   Mailer
	logger   *slog.Logger
}

func NewService(users UserRepository, hasher PasswordHasher, sessions *SessionManager, codes *CodeService, mailer Mailer, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session manager is required")
	}
	if codes == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("code service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		codes:    codes,
		mailer:   mailer,
		logger:   logger,
	}, nil
}

func (s *Service) Sessions() *SessionManager { return s.sessions }

type Credentials struct {
	Email    string
	Password string
	// Locale selects the language of outgoing mail.
	Locale string
}

// Result is the outcome of a use case that establishes a session.
type Result struct {
	User    *User
	Session *Session
	Cookie  CookieDirective
}

func validateCredentials(c Credentials) error {
	if !ValidEmail(c.Email) {
		return validationError("invalid email address")
	}
	if c.Password == "" {
		return validationError("password is required")
	}
	return nil
}

// Signup registers a new, unverified user, sends them a verification code
// and logs them in.
func (s *Service) Signup(ctx context.Context, c Credentials) (*Result, error) {
	if err := validateCredentials(c); err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, c.Email, s.hasher.Hash(c.Password), false)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code(CodeEmailTaken).
				With("email", c.Email).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	code, err := s.codes.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "issue verification code").
			With("user_id", user.ID).
			Wrap(err)
	}
	s.deliverCode(ctx, user, code, c.Locale)

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create session").
			With("user_id", user.ID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return &Result{User: user, Session: sess, Cookie: SetSession(sess)}, nil
}

// Login checks credentials and starts a new session. Unknown email and
// wrong password fail with distinct codes.
func (s *Service) Login(ctx context.Context, c Credentials) (*Result, error) {
	if err := validateCredentials(c); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, c.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeInvalidEmail).Errorf("invalid email")
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	if !s.hasher.Verify(c.Password, user.HashedPassword) {
		return nil, oops.Code(CodeInvalidPassword).Errorf("invalid password")
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			With("user_id", user.ID).
			Wrap(err)
	}
	return &Result{User: user, Session: sess, Cookie: SetSession(sess)}, nil
}

// Logout revokes sess when present. The returned directive always clears
// the cookie, including when revocation failed.
func (s *Service) Logout(ctx context.Context, sess *Session) (CookieDirective, error) {
	if sess == nil {
		return ClearSession(), nil
	}
	if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
		return ClearSession(), oops.Code("AUTH_LOGOUT_FAILED").
			With("session_id", sess.ID).
			Wrap(err)
	}
	return ClearSession(), nil
}

// VerifyEmail consumes code for the authenticated user. On success the user
// is marked verified, every existing session is revoked and a new one is
// issued in their place.
func (s *Service) VerifyEmail(ctx context.Context, user *User, code string) (*Result, error) {
	if user == nil {
		return nil, oops.Code(CodeUnauthenticated).Errorf("not signed in")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validationError("code is required")
	}

	ok, err := s.codes.Consume(ctx, user.ID, user.Email, code)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "consume code").
			With("user_id", user.ID).
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code(CodeVerificationFailed).
			With("user_id", user.ID).
			Errorf("invalid or expired code")
	}

	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "set email verified").
			With("user_id", user.ID).
			Wrap(err)
	}
	if err := s.sessions.InvalidateUser(ctx, user.ID); err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "invalidate sessions").
			With("user_id", user.ID).
			Wrap(err)
	}
	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "create session").
			With("user_id", user.ID).
			Wrap(err)
	}

	verified := *user
	verified.EmailVerified = true
	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID)
	return &Result{User: &verified, Session: sess, Cookie: SetSession(sess)}, nil
}

// ResendVerification supersedes the user's outstanding code with a new one.
func (s *Service) ResendVerification(ctx context.Context, user *User, locale string) error {
	if user == nil {
		return oops.Code(CodeUnauthenticated).Errorf("not signed in")
	}
	if user.EmailVerified {
		return oops.Code(CodeAlreadyVerified).Errorf("email already verified")
	}
	code, err := s.codes.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return oops.Code("AUTH_RESEND_FAILED").
			With("user_id", user.ID).
			Wrap(err)
	}
	s.deliverCode(ctx, user, code, locale)
	return nil
}

// Prune deletes expired sessions and codes.
func (s *Service) Prune(ctx context.Context) (sessions, codes int64, err error) {
	sessions, err = s.sessions.PruneExpired(ctx)
	if err != nil {
		return 0, 0, err
	}
	codes, err = s.codes.PruneExpired(ctx)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, codes, nil
}

func (s *Service) deliverCode(ctx context.Context, user *User, code, locale string) {
	if s.mailer == nil {
		s.logger.WarnContext(ctx, "no mailer configured, verification code not sent", "user_id", user.ID)
		return
	}
	minutes := int(s.codes.TTL().Minutes())
	content := i18n.VerificationEmail(locale, code, minutes)
	if err := s.mailer.Send(ctx, user.Email, content.Subject, content.Text, content.HTML); err != nil {
		errutil.LogError(s.logger, "verification email delivery failed", err)
	}
}
