package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/vestri/authcore/internal/auth"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// readFields returns the request's fields from a JSON object body or, for
// any other content type, from the url-encoded form.
func readFields(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				return url.Values{}, nil
			}
			return nil, err
		}
		vals := make(url.Values, len(body))
		for k, v := range body {
			vals.Set(k, v)
		}
		return vals, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified}
}

// errorResponse maps a use case error onto a status and a client-facing
// message. Anything unrecognised is an internal error.
func errorResponse(err error) (int, string) {
	code := auth.ErrorCode(err)
	switch {
	case code == auth.CodeUnauthenticated:
		return http.StatusUnauthorized, "not signed in"
	case auth.IsValidation(err):
		if reason := auth.Reason(err); reason != "" {
			return http.StatusBadRequest, reason
		}
		return http.StatusBadRequest, "invalid request"
	case auth.IsConflict(err):
		return http.StatusBadRequest, "email already registered"
	case code == auth.CodeInvalidEmail:
		return http.StatusBadRequest, "invalid email"
	case code == auth.CodeInvalidPassword:
		return http.StatusBadRequest, "invalid password"
	case code == auth.CodeVerificationFailed:
		return http.StatusBadRequest, "invalid or expired code"
	case code == auth.CodeAlreadyVerified:
		return http.StatusBadRequest, "email already verified"
	}
	return http.StatusInternalServerError, "internal server error"
}
