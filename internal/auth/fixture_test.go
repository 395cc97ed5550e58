package auth_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/auth/authtest"
)

var testStart = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

const (
	testTTL         = time.Hour
	testRenewWithin = 30 * time.Minute
)

type fixture struct {
	users    *authtest.Users
	sessions *authtest.Sessions
	codes    *authtest.Codes
	mailer   *authtest.Mailer
	clock    *authtest.Clock
	logs     *bytes.Buffer

	manager *auth.SessionManager
	codeSvc *auth.CodeService
	svc     *auth.Service
}

func fixedCode(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    authtest.NewUsers(),
		sessions: authtest.NewSessions(),
		codes:    authtest.NewCodes(),
		mailer:   &authtest.Mailer{},
		clock:    authtest.NewClock(testStart),
		logs:     &bytes.Buffer{},
	}
	f.manager = auth.NewSessionManager(f.sessions, f.users, auth.SessionConfig{
		TTL:         testTTL,
		RenewWithin: testRenewWithin,
	}).WithClock(f.clock.Now)
	f.codeSvc = auth.NewCodeService(f.codes, auth.VerificationCodeTTL).
		WithClock(f.clock.Now).
		WithGenerator(fixedCode("1234"))

	logger := slog.New(slog.NewJSONHandler(f.logs, nil))
	svc, err := auth.NewService(f.users, auth.NewSHA256Hasher(), f.manager, f.codeSvc, f.mailer, logger)
	require.NoError(t, err)
	f.svc = svc
	return f
}
