package auth

import (
	"net/http"
	"time"
)

const DefaultCookieName = "session_id"

// CookieDirective is the decision to (re)issue or clear the session cookie.
// It is produced by the auth core and written to the response at the
// HTTP boundary.
type CookieDirective struct {
	Value   string
	Expires time.Time
	Clear   bool
}

// SetSession returns a directive that emits the cookie for sess.
func SetSession(sess *Session) CookieDirective {
	return CookieDirective{Value: sess.ID, Expires: sess.ExpiresAt}
}

// ClearSession returns a directive that blanks the cookie.
func ClearSession() CookieDirective {
	return CookieDirective{Clear: true}
}

// DirectiveForValidation applies the cookie policy to the outcome of a
// request's session validation: a fresh session is re-emitted, a presented
// cookie that no longer resolves is cleared, and anything else leaves the
// cookie alone.
func DirectiveForValidation(cookiePresented bool, sess *Session) (CookieDirective, bool) {
	if sess != nil {
		if sess.Fresh {
			return SetSession(sess), true
		}
		return CookieDirective{}, false
	}
	if cookiePresented {
		return ClearSession(), true
	}
	return CookieDirective{}, false
}

type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
}

// CookieName returns the configured name or DefaultCookieName.
func (c CookieConfig) CookieName() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// Cookie renders the directive as an http.Cookie.
func (c CookieConfig) Cookie(d CookieDirective) *http.Cookie {
	cookie := &http.Cookie{
		Name:     c.CookieName(),
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if d.Clear {
		cookie.Value = ""
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		return cookie
	}
	cookie.Value = d.Value
	cookie.Expires = d.Expires
	return cookie
}
