package server

import (
	"net/http"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/errutil"
	"github.com/vestri/authcore/internal/i18n"
	"github.com/vestri/authcore/internal/metrics"
)

// fail writes the response for a failed use case. Internal errors are
// logged and hidden behind a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	status, message := errorResponse(err)
	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), s.Logger, event+" failed", err)
		s.Metrics.Record(event, metrics.OutcomeError)
	} else {
		s.Metrics.Record(event, metrics.OutcomeRejected)
	}
	writeError(w, status, message)
}

func (s *Server) credentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return auth.Credentials{}, false
	}
	return auth.Credentials{
		Email:    fields.Get("email"),
		Password: fields.Get("password"),
		Locale:   i18n.LocaleFromRequest(r),
	}, true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.credentials(w, r)
	if !ok {
		return
	}

	res, err := s.Auth.Signup(r.Context(), creds)
	if err != nil {
		s.fail(w, r, metrics.EventSignup, err)
		return
	}

	setCookie(r.Context(), res.Cookie)
	s.Metrics.Record(metrics.EventSignup, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":                   "Registration successful. Check your email for the verification code.",
		"emailVerificationRequired": true,
		"user":                      newUserResponse(res.User),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.credentials(w, r)
	if !ok {
		return
	}

	res, err := s.Auth.Login(r.Context(), creds)
	if err != nil {
		s.fail(w, r, metrics.EventLogin, err)
		return
	}

	setCookie(r.Context(), res.Cookie)
	s.Metrics.Record(metrics.EventLogin, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, map[string]any{
		"user": newUserResponse(res.User),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	d, err := s.Auth.Logout(r.Context(), sessionFromContext(r.Context()))
	setCookie(r.Context(), d)
	if err != nil {
		s.fail(w, r, metrics.EventLogout, err)
		return
	}
	s.Metrics.Record(metrics.EventLogout, metrics.OutcomeSuccess)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.Auth.VerifyEmail(r.Context(), userFromContext(r.Context()), fields.Get("code"))
	if err != nil {
		s.fail(w, r, metrics.EventVerify, err)
		return
	}

	setCookie(r.Context(), res.Cookie)
	s.Metrics.Record(metrics.EventVerify, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email verified.",
		"user":    newUserResponse(res.User),
	})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	err := s.Auth.ResendVerification(r.Context(), userFromContext(r.Context()), i18n.LocaleFromRequest(r))
	if err != nil {
		s.fail(w, r, metrics.EventResend, err)
		return
	}
	s.Metrics.Record(metrics.EventResend, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "A new verification code has been sent.",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
