package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned by repositories when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is wrapped by repositories when the users.email unique
// constraint rejects an insert.
var ErrEmailTaken = errors.New("email already registered")

// ErrCodeOutstanding is returned when a code is inserted for a user who
// still holds one. Issue deletes the prior code first, so this only
// surfaces under a concurrent Issue for the same user.
var ErrCodeOutstanding = errors.New("verification code already outstanding")

// Error codes. Handlers map them onto HTTP statuses.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodeVerificationFailed = "AUTH_VERIFICATION_FAILED"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeAlreadyVerified    = "AUTH_ALREADY_VERIFIED"
)

// validationError carries its message under the "reason" context key so
// the HTTP layer can show it to the client.
func validationError(format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return oops.Code(CodeValidation).With("reason", reason).Errorf("%s", reason)
}

// Reason returns the client-facing message of a validation error.
func Reason(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	reason, _ := oopsErr.Context()["reason"].(string)
	return reason
}

// ErrorCode returns the oops code attached to err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// IsValidation reports whether err was caused by malformed input.
func IsValidation(err error) bool { return ErrorCode(err) == CodeValidation }

// IsConflict reports whether err is a duplicate-email failure.
func IsConflict(err error) bool {
	return ErrorCode(err) == CodeEmailTaken || errors.Is(err, ErrEmailTaken)
}

// IsAuthentication reports whether err is a login credential failure.
func IsAuthentication(err error) bool {
	switch ErrorCode(err) {
	case CodeInvalidEmail, CodeInvalidPassword:
		return true
	}
	return false
}

// IsVerification reports whether err is a failed email verification attempt.
func IsVerification(err error) bool {
	switch ErrorCode(err) {
	case CodeVerificationFailed, CodeUnauthenticated, CodeAlreadyVerified:
		return true
	}
	return false
}

// IsDomain reports whether err is one of the expected, user-facing failures.
// Anything else is a storage or programming error.
func IsDomain(err error) bool {
	return IsValidation(err) || IsConflict(err) || IsAuthentication(err) || IsVerification(err)
}
