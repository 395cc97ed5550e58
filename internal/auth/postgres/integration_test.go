//go:build integration

package postgres_test

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/auth/authtest"
	"github.com/vestri/authcore/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var users *postgres.UserRepository

	BeforeEach(func() {
		users = postgres.NewUserRepository(env.pool)
	})

	It("creates and finds a user", func() {
		created, err := users.Create(env.ctx, "bob@example.com", "digest", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).NotTo(BeEmpty())

		byEmail, err := users.FindByEmail(env.ctx, "bob@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(byEmail.ID).To(Equal(created.ID))
		Expect(byEmail.EmailVerified).To(BeFalse())

		Expect(users.SetEmailVerified(env.ctx, created.ID)).To(Succeed())
		Expect(users.SetEmailVerified(env.ctx, created.ID)).To(Succeed())
		byID, err := users.FindByID(env.ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.EmailVerified).To(BeTrue())
	})

	It("reports a missing user as not found", func() {
		_, err := users.FindByEmail(env.ctx, "nobody@example.com")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("lets exactly one of many concurrent signups for an email succeed", func() {
		const attempts = 8
		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := users.Create(env.ctx, "race@example.com", "digest", false)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok, taken int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, auth.ErrEmailTaken):
				taken++
			}
		}
		Expect(ok).To(Equal(1))
		Expect(taken).To(Equal(attempts - 1))
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		users    *postgres.UserRepository
		sessions *postgres.SessionRepository
		owner    *auth.User
	)

	BeforeEach(func() {
		users = postgres.NewUserRepository(env.pool)
		sessions = postgres.NewSessionRepository(env.pool)
		var err error
		owner, err = users.Create(env.ctx, "owner@example.com", "digest", false)
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips, renews and deletes sessions", func() {
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		sess := &auth.Session{ID: auth.NewSessionID(), UserID: owner.ID, ExpiresAt: expires}
		Expect(sessions.Create(env.ctx, sess)).To(Succeed())

		got, err := sessions.Get(env.ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ExpiresAt.Equal(expires)).To(BeTrue())

		later := expires.Add(time.Hour)
		Expect(sessions.UpdateExpiry(env.ctx, sess.ID, later)).To(Succeed())
		got, err = sessions.Get(env.ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ExpiresAt.Equal(later)).To(BeTrue())

		Expect(sessions.Delete(env.ctx, sess.ID)).To(Succeed())
		Expect(sessions.Delete(env.ctx, sess.ID)).To(Succeed())
		_, err = sessions.Get(env.ctx, sess.ID)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("deletes every session of a user and prunes expired ones", func() {
		now := time.Now()
		for _, exp := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour), now.Add(2 * time.Hour)} {
			Expect(sessions.Create(env.ctx, &auth.Session{ID: auth.NewSessionID(), UserID: owner.ID, ExpiresAt: exp})).To(Succeed())
		}

		n, err := sessions.DeleteExpired(env.ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		Expect(sessions.DeleteByUser(env.ctx, owner.ID)).To(Succeed())
		n, err = sessions.DeleteExpired(env.ctx, now.Add(24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})

var _ = Describe("CodeRepository", func() {
	var (
		codes *postgres.CodeRepository
		owner *auth.User
	)

	BeforeEach(func() {
		codes = postgres.NewCodeRepository(env.pool)
		var err error
		owner, err = postgres.NewUserRepository(env.pool).Create(env.ctx, "code@example.com", "digest", false)
		Expect(err).NotTo(HaveOccurred())
	})

	It("consumes a code at most once under concurrency", func() {
		svc := auth.NewCodeService(codes, time.Minute).
			WithGenerator(func() (string, error) { return "1234", nil })
		_, err := svc.Issue(env.ctx, owner.ID, owner.Email)
		Expect(err).NotTo(HaveOccurred())

		const attempts = 8
		var wg sync.WaitGroup
		type outcome struct {
			ok  bool
			err error
		}
		results := make(chan outcome, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := svc.Consume(env.ctx, owner.ID, owner.Email, "1234")
				results <- outcome{ok: ok, err: err}
			}()
		}
		wg.Wait()
		close(results)

		var successes int
		for res := range results {
			Expect(res.err).NotTo(HaveOccurred())
			if res.ok {
				successes++
			}
		}
		Expect(successes).To(Equal(1))
	})

	It("keeps one outstanding code per user", func() {
		row := func() *auth.EmailVerificationCode {
			return &auth.EmailVerificationCode{
				ID: uuid.NewString(), UserID: owner.ID, Email: owner.Email,
				Code: "1111", ExpiresAt: time.Now().Add(time.Minute),
			}
		}
		Expect(codes.Create(env.ctx, row())).To(Succeed())
		err := codes.Create(env.ctx, row())
		Expect(errors.Is(err, auth.ErrCodeOutstanding)).To(BeTrue())
	})

	It("rejects a wrong code without consuming the right one", func() {
		svc := auth.NewCodeService(codes, time.Minute).
			WithGenerator(func() (string, error) { return "1234", nil })
		_, err := svc.Issue(env.ctx, owner.ID, owner.Email)
		Expect(err).NotTo(HaveOccurred())

		ok, err := svc.Consume(env.ctx, owner.ID, owner.Email, "9999")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ok, err = svc.Consume(env.ctx, owner.ID, owner.Email, "1234")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("Service on PostgreSQL", func() {
	It("runs signup, verification and login end to end", func() {
		users := postgres.NewUserRepository(env.pool)
		manager := auth.NewSessionManager(postgres.NewSessionRepository(env.pool), users, auth.SessionConfig{TTL: time.Hour})
		codes := auth.NewCodeService(postgres.NewCodeRepository(env.pool), time.Minute).
			WithGenerator(func() (string, error) { return "4321", nil })
		mailer := &authtest.Mailer{}
		svc, err := auth.NewService(users, auth.NewSHA256Hasher(), manager, codes, mailer, nil)
		Expect(err).NotTo(HaveOccurred())

		creds := auth.Credentials{Email: "flow@example.com", Password: "secret"}
		signup, err := svc.Signup(env.ctx, creds)
		Expect(err).NotTo(HaveOccurred())
		Expect(mailer.Messages()).To(HaveLen(1))

		_, err = svc.Signup(env.ctx, creds)
		Expect(auth.IsConflict(err)).To(BeTrue())

		verified, err := svc.VerifyEmail(env.ctx, signup.User, "4321")
		Expect(err).NotTo(HaveOccurred())
		Expect(verified.User.EmailVerified).To(BeTrue())

		sess, _, err := manager.Validate(env.ctx, signup.Session.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess).To(BeNil())

		login, err := svc.Login(env.ctx, creds)
		Expect(err).NotTo(HaveOccurred())
		Expect(login.User.EmailVerified).To(BeTrue())
	})
})
