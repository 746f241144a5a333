package api

import (
	"errors"
	"net/http"
	"time"

	"guacplayer/internal/auth"
)

type loginRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type verifyResponse struct {
	Valid bool         `json:"valid"`
	User  userResponse `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Metrics.ObserveLogin("bad_request")
		WriteRequestError(w, ValidationError(err.Error()))
		return
	}
	if req.Username == nil {
		h.Metrics.ObserveLogin("bad_request")
		WriteRequestError(w, ValidationError("username is required"))
		return
	}
	if req.Password == nil {
		h.Metrics.ObserveLogin("bad_request")
		WriteRequestError(w, ValidationError("password is required"))
		return
	}

	logger := h.logger(r)
	user, err := auth.Authenticate(r.Context(), h.Repo, *req.Username, *req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingUsername):
			h.Metrics.ObserveLogin("bad_request")
			WriteRequestError(w, ValidationError(err.Error()))
		case errors.Is(err, auth.ErrUserDisabled):
			h.Metrics.ObserveLogin("disabled")
			logger.Warn("login rejected for disabled user", "username", *req.Username)
			WriteRequestError(w, UnauthorizedError(err.Error()))
		case errors.Is(err, auth.ErrInvalidLogin):
			h.Metrics.ObserveLogin("invalid")
			logger.Warn("login rejected", "username", *req.Username)
			WriteRequestError(w, UnauthorizedError(err.Error()))
		default:
			h.Metrics.ObserveLogin("error")
			logger.Error("login failed", "username", *req.Username, "error", err)
			WriteRequestError(w, InternalError())
		}
		return
	}

	token, expiresAt, err := h.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.Metrics.ObserveLogin("error")
		logger.Error("issue token", "user_id", user.ID, "error", err)
		WriteRequestError(w, InternalError())
		return
	}

	h.Metrics.ObserveLogin("success")
	logger.Info("user authenticated", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      userResponse{ID: user.ID, Username: user.Username},
	})
}

// Verify confirms the presented token still maps to an enabled account.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	logger := h.logger(r)
	user, found, err := h.Repo.UserByID(r.Context(), identity.UserID)
	if err != nil {
		logger.Error("load user for verification", "user_id", identity.UserID, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	if !found {
		logger.Warn("token subject no longer exists", "user_id", identity.UserID)
		WriteRequestError(w, NotFoundError("user not found"))
		return
	}
	if user.Disabled {
		logger.Warn("token subject is disabled", "user_id", identity.UserID)
		WriteRequestError(w, UnauthorizedError(auth.ErrUserDisabled.Error()))
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid: true,
		User:  userResponse{ID: user.ID, Username: user.Username},
	})
}

// Logout only records the event; tokens stay valid until they expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	h.logger(r).Info("user logged out", "user_id", identity.UserID, "username", identity.Username)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "logged out"})
}
