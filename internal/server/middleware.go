package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/errutil"
)

type ctxKey string

const requestStateKey ctxKey = "auth"

// requestState is what loadSession resolved for the current request.
type requestState struct {
	user    *auth.User
	session *auth.Session
	cookies *cookieWriter
}

// loadSession resolves the session cookie, if any, and attaches the user
// and session to the request context. It never rejects a request for a
// missing or stale cookie; handlers that need a user check for one.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var id string
		cookie, err := r.Cookie(s.Cookies.CookieName())
		presented := err == nil
		if presented {
			id = cookie.Value
		}

		sess, user, err := s.Auth.Sessions().Validate(ctx, id)
		if err != nil {
			errutil.LogErrorContext(ctx, s.Logger, "session validation failed", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		cw := &cookieWriter{ResponseWriter: w, cfg: s.Cookies}
		if d, ok := auth.DirectiveForValidation(presented, sess); ok {
			cw.set(d)
			if d.Clear {
				s.Metrics.RecordCleared()
			} else {
				s.Metrics.RecordRenewal()
			}
		}

		state := &requestState{user: user, session: sess, cookies: cw}
		next.ServeHTTP(cw, r.WithContext(context.WithValue(ctx, requestStateKey, state)))
		cw.finish()
	})
}

func stateFromContext(ctx context.Context) *requestState {
	if val, ok := ctx.Value(requestStateKey).(*requestState); ok {
		return val
	}
	return nil
}

func userFromContext(ctx context.Context) *auth.User {
	if st := stateFromContext(ctx); st != nil {
		return st.user
	}
	return nil
}

func sessionFromContext(ctx context.Context) *auth.Session {
	if st := stateFromContext(ctx); st != nil {
		return st.session
	}
	return nil
}

// setCookie replaces the pending cookie directive for the request. It has
// no effect once the response header has been written.
func setCookie(ctx context.Context, d auth.CookieDirective) {
	if st := stateFromContext(ctx); st != nil {
		st.cookies.set(d)
	}
}

// cookieWriter holds at most one session cookie directive and emits it with
// the response header, so a request yields at most one Set-Cookie for the
// session and the last directive wins.
type cookieWriter struct {
	http.ResponseWriter
	cfg         auth.CookieConfig
	pending     *auth.CookieDirective
	wroteHeader bool
}

func (w *cookieWriter) set(d auth.CookieDirective) {
	if w.wroteHeader {
		return
	}
	w.pending = &d
}

func (w *cookieWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if w.pending != nil {
			http.SetCookie(w.ResponseWriter, w.cfg.Cookie(*w.pending))
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish flushes a pending directive for handlers that wrote nothing.
func (w *cookieWriter) finish() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

// requestLogger writes one structured access log line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
