package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/auth/authtest"
	"github.com/vestri/authcore/internal/errutil"
)

func signup(t *testing.T, f *fixture, email, password string) *auth.Result {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), auth.Credentials{Email: email, Password: password})
	require.NoError(t, err)
	return res
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	f := newFixture(t)

	_, err := auth.NewService(nil, auth.NewSHA256Hasher(), f.manager, f.codeSvc, nil, nil)
	errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
	_, err = auth.NewService(f.users, nil, f.manager, f.codeSvc, nil, nil)
	errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
	_, err = auth.NewService(f.users, auth.NewSHA256Hasher(), nil, f.codeSvc, nil, nil)
	errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
	_, err = auth.NewService(f.users, auth.NewSHA256Hasher(), f.manager, nil, nil, nil)
	errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")

	svc, err := auth.NewService(f.users, auth.NewSHA256Hasher(), f.manager, f.codeSvc, nil, nil)
	require.NoError(t, err)
	assert.Same(t, f.manager, svc.Sessions())
}

func TestSignup_CreatesUserSessionAndCode(t *testing.T) {
	f := newFixture(t)
	f.codeSvc.WithGenerator(auth.RandomDigits)

	res := signup(t, f, "a@x.com", "pw1")

	assert.Equal(t, 1, f.users.CountByEmail("a@x.com"))
	assert.False(t, res.User.EmailVerified)
	assert.NotEqual(t, "pw1", res.User.HashedPassword)
	assert.Equal(t, auth.HashString("pw1"), res.User.HashedPassword)

	sessions := f.sessions.ForUser(res.User.ID)
	require.Len(t, sessions, 1)
	assert.Equal(t, res.Session.ID, sessions[0].ID)
	assert.True(t, res.Session.Fresh)
	assert.Equal(t, auth.CookieDirective{Value: res.Session.ID, Expires: res.Session.ExpiresAt}, res.Cookie)

	code, ok := f.codes.Outstanding(res.User.ID)
	require.True(t, ok)
	assert.Equal(t, 1, f.codes.Len())
	assert.Regexp(t, fourDigits, code.Code)
	assert.Equal(t, "a@x.com", code.Email)

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a@x.com", msgs[0].To)
	assert.Contains(t, msgs[0].Text, code.Code)
	assert.Contains(t, msgs[0].Text, "15 minutes")
}

func TestSignup_LocalizedEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Signup(context.Background(), auth.Credentials{Email: "a@x.com", Password: "pw1", Locale: "de-DE"})
	require.NoError(t, err)

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "E-Mail verifizieren", msgs[0].Subject)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	signup(t, f, "a@x.com", "pw1")

	_, err := f.svc.Signup(context.Background(), auth.Credentials{Email: "a@x.com", Password: "other"})
	require.Error(t, err)
	assert.True(t, auth.IsConflict(err))
	errutil.AssertErrorCode(t, err, auth.CodeEmailTaken)

	assert.Equal(t, 1, f.users.CountByEmail("a@x.com"))
	assert.Equal(t, 1, f.sessions.Len())
}

func TestSignup_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Signup(context.Background(), auth.Credentials{Email: "race@x.com", Password: "pw"})
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case auth.IsConflict(err):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, f.users.CountByEmail("race@x.com"))
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name  string
		creds auth.Credentials
	}{
		{"empty email", auth.Credentials{Password: "pw"}},
		{"malformed email", auth.Credentials{Email: "nope", Password: "pw"}},
		{"empty password", auth.Credentials{Email: "a@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.users.Err = errors.New("storage must not be reached")

			_, err := f.svc.Signup(context.Background(), tt.creds)
			require.Error(t, err)
			assert.True(t, auth.IsValidation(err))
			assert.True(t, auth.IsDomain(err))
		})
	}
}

func TestSignup_EmailFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.mailer.Err = errors.New("smtp unavailable")

	res := signup(t, f, "a@x.com", "pw1")

	assert.NotNil(t, res.Session)
	assert.Equal(t, 1, f.users.CountByEmail("a@x.com"))
	assert.Contains(t, f.logs.String(), "verification email delivery failed")
	assert.Contains(t, f.logs.String(), "smtp unavailable")
}

func TestSignup_WithoutMailer(t *testing.T) {
	f := newFixture(t)
	svc, err := auth.NewService(f.users, auth.NewSHA256Hasher(), f.manager, f.codeSvc, nil, nil)
	require.NoError(t, err)

	res, err := svc.Signup(context.Background(), auth.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestSignup_StorageError(t *testing.T) {
	f := newFixture(t)
	f.users.Err = errors.New("connection refused")

	_, err := f.svc.Signup(context.Background(), auth.Credentials{Email: "a@x.com", Password: "pw1"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_SIGNUP_FAILED")
	assert.False(t, auth.IsDomain(err))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	registered := signup(t, f, "a@x.com", "pw1")

	res, err := f.svc.Login(context.Background(), auth.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)

	assert.Equal(t, registered.User.ID, res.User.ID)
	assert.NotEqual(t, registered.Session.ID, res.Session.ID)
	assert.True(t, res.Session.Fresh)
	assert.Equal(t, res.Session.ID, res.Cookie.Value)
	assert.Len(t, f.sessions.ForUser(res.User.ID), 2)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name  string
		creds auth.Credentials
		code  string
	}{
		{"wrong password", auth.Credentials{Email: "a@x.com", Password: "wrong"}, auth.CodeInvalidPassword},
		{"unknown email", auth.Credentials{Email: "b@x.com", Password: "pw1"}, auth.CodeInvalidEmail},
		{"malformed email", auth.Credentials{Email: "b@", Password: "pw1"}, auth.CodeValidation},
		{"empty password", auth.Credentials{Email: "a@x.com"}, auth.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			signup(t, f, "a@x.com", "pw1")
			before := f.sessions.Len()

			_, err := f.svc.Login(context.Background(), tt.creds)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
			assert.True(t, auth.IsDomain(err))
			assert.Equal(t, before, f.sessions.Len())
		})
	}
}

func TestLogin_MessagesDiffer(t *testing.T) {
	f := newFixture(t)
	signup(t, f, "a@x.com", "pw1")

	_, wrongPassword := f.svc.Login(context.Background(), auth.Credentials{Email: "a@x.com", Password: "nope"})
	_, unknownEmail := f.svc.Login(context.Background(), auth.Credentials{Email: "z@x.com", Password: "pw1"})

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.True(t, auth.IsAuthentication(wrongPassword))
	assert.True(t, auth.IsAuthentication(unknownEmail))
	assert.NotEqual(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	res := signup(t, f, "a@x.com", "pw1")

	d, err := f.svc.Logout(context.Background(), res.Session)
	require.NoError(t, err)
	assert.True(t, d.Clear)

	sess, _, err := f.manager.Validate(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.Logout(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, auth.ClearSession(), d)
}

func TestLogout_StorageErrorStillClears(t *testing.T) {
	f := newFixture(t)
	res := signup(t, f, "a@x.com", "pw1")
	f.sessions.Err = errors.New("timeout")

	d, err := f.svc.Logout(context.Background(), res.Session)
	require.Error(t, err)
	assert.True(t, d.Clear)
}

func TestVerifyEmail_RotatesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := signup(t, f, "a@x.com", "pw1")
	other, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)

	verified, err := f.svc.VerifyEmail(ctx, res.User, "1234")
	require.NoError(t, err)

	assert.True(t, verified.User.EmailVerified)
	stored, err := f.users.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)

	for _, old := range []string{res.Session.ID, other.Session.ID} {
		sess, _, err := f.manager.Validate(ctx, old)
		require.NoError(t, err)
		assert.Nil(t, sess, "prior session %s must be invalid", old)
	}

	sess, user, err := f.manager.Validate(ctx, verified.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, verified.Session.ID, verified.Cookie.Value)
	assert.Len(t, f.sessions.ForUser(res.User.ID), 1)
}

func TestVerifyEmail_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := signup(t, f, "a@x.com", "pw1")

	_, err := f.svc.VerifyEmail(ctx, nil, "1234")
	errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)

	_, err = f.svc.VerifyEmail(ctx, res.User, "  ")
	errutil.AssertErrorCode(t, err, auth.CodeValidation)

	_, err = f.svc.VerifyEmail(ctx, res.User, "9999")
	errutil.AssertErrorCode(t, err, auth.CodeVerificationFailed)
	assert.True(t, auth.IsVerification(err))

	// A failed attempt has no further effect.
	stored, err := f.users.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
	sess, _, err := f.manager.Validate(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestVerifyEmail_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := signup(t, f, "a@x.com", "pw1")

	f.clock.Advance(16 * time.Minute)
	_, err := f.svc.VerifyEmail(ctx, res.User, "1234")
	errutil.AssertErrorCode(t, err, auth.CodeVerificationFailed)

	stored, err := f.users.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
}

func TestVerifyEmail_StorageError(t *testing.T) {
	f := newFixture(t)
	res := signup(t, f, "a@x.com", "pw1")
	f.codes.Err = errors.New("connection reset")

	_, err := f.svc.VerifyEmail(context.Background(), res.User, "1234")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CODE_CONSUME_FAILED")
	assert.False(t, auth.IsDomain(err))
}

func TestEndToEnd_SignupVerifyReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := signup(t, f, "a@x.com", "pw1")
	assert.False(t, res.Cookie.Clear)
	assert.NotEmpty(t, res.Cookie.Value)

	f.clock.Advance(5 * time.Minute)
	verified, err := f.svc.VerifyEmail(ctx, res.User, "1234")
	require.NoError(t, err)
	assert.True(t, verified.User.EmailVerified)
	assert.NotEqual(t, res.Cookie.Value, verified.Cookie.Value)

	sess, _, err := f.manager.Validate(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Nil(t, sess)

	_, err = f.svc.VerifyEmail(ctx, verified.User, "1234")
	errutil.AssertErrorCode(t, err, auth.CodeVerificationFailed)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := signup(t, f, "a@x.com", "pw1")

	f.codeSvc.WithGenerator(fixedCode("4321"))
	require.NoError(t, f.svc.ResendVerification(ctx, res.User, "en"))

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "4321")

	_, err := f.svc.VerifyEmail(ctx, res.User, "1234")
	errutil.AssertErrorCode(t, err, auth.CodeVerificationFailed)
	_, err = f.svc.VerifyEmail(ctx, res.User, "4321")
	require.NoError(t, err)
}

func TestResendVerification_Rejections(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ResendVerification(context.Background(), nil, "en")
	errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)

	err = f.svc.ResendVerification(context.Background(), &auth.User{ID: "u", Email: "a@x.com", EmailVerified: true}, "en")
	errutil.AssertErrorCode(t, err, auth.CodeAlreadyVerified)
	assert.Empty(t, f.mailer.Messages())
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	signup(t, f, "a@x.com", "pw1")
	signup(t, f, "b@x.com", "pw2")

	f.clock.Advance(2 * time.Hour)
	sessions, codes, err := f.svc.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sessions)
	assert.Equal(t, int64(2), codes)
}

func TestPrune_StorageError(t *testing.T) {
	f := newFixture(t)
	f.sessions.Err = errors.New("boom")

	_, _, err := f.svc.Prune(context.Background())
	errutil.AssertErrorCode(t, err, "SESSION_PRUNE_FAILED")
}

var _ auth.Mailer = (*authtest.Mailer)(nil)
