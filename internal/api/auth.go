package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"guacplayer/internal/auth"
)

type contextKey string

const identityContextKey contextKey = "authenticatedIdentity"

// ContextWithIdentity stores the verified caller in the provided context.
func ContextWithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the verified caller from context if present.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok
}

// ExtractToken reads the bearer credential from the Authorization header.
// When allowQuery is set and no header is present, the token query parameter
// is used instead; media elements cannot attach headers to their requests.
func ExtractToken(r *http.Request, allowQuery bool) (string, error) {
	header := r.Header.Get("Authorization")
	if strings.TrimSpace(header) != "" || !allowQuery {
		return auth.ParseBearer(header)
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return "", auth.ErrMissingCredential
	}
	return token, nil
}

// Authenticate verifies the credential on r. Rejections are counted by
// reason and logged at warn.
func (h *Handler) Authenticate(r *http.Request, allowQuery bool) (auth.Identity, error) {
	token, err := ExtractToken(r, allowQuery)
	if err == nil {
		var identity auth.Identity
		identity, err = h.Tokens.Verify(token)
		if err == nil {
			return identity, nil
		}
	}
	reason := auth.RejectionReason(err)
	h.Metrics.ObserveCredentialRejection(reason)
	h.logger(r).Warn("credential rejected", "reason", reason, "path", r.URL.Path)
	return auth.Identity{}, err
}

// CredentialError maps an Authenticate failure to its client-facing error.
func CredentialError(err error) RequestError {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return UnauthorizedError(auth.ErrMissingCredential.Error())
	case errors.Is(err, auth.ErrMalformedCredential):
		return UnauthorizedError(auth.ErrMalformedCredential.Error())
	case errors.Is(err, auth.ErrExpiredCredential):
		return UnauthorizedError(auth.ErrExpiredCredential.Error())
	default:
		return UnauthorizedError(auth.ErrInvalidCredential.Error())
	}
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteRequestError(w, UnauthorizedError(auth.ErrMissingCredential.Error()))
		return auth.Identity{}, false
	}
	return identity, true
}
