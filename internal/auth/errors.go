package auth

import "errors"

var (
	// ErrMissingCredential is returned when no bearer credential accompanies a request.
	ErrMissingCredential = errors.New("token not provided")
	// ErrMalformedCredential covers tokens that cannot be parsed and
	// Authorization headers without Bearer framing.
	ErrMalformedCredential = errors.New("malformed token")
	// ErrExpiredCredential is returned once the current time reaches the token expiry.
	ErrExpiredCredential = errors.New("token expired")
	// ErrInvalidCredential covers every other verification failure.
	ErrInvalidCredential = errors.New("invalid token")

	ErrMissingSecret   = errors.New("token signing secret is required")
	ErrInvalidUserID   = errors.New("user id must be positive")
	ErrInvalidLogin    = errors.New("invalid credentials")
	ErrUserDisabled    = errors.New("user is disabled")
	ErrMissingUsername = errors.New("username and password are required")
)

// RejectionReason maps a verification error to a short metrics label.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed"
	case errors.Is(err, ErrExpiredCredential):
		return "expired"
	default:
		return "invalid"
	}
}
