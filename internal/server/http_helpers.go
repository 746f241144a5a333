package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"guacplayer/internal/api"
)

// writeMiddlewareError normalises middleware error responses to the API JSON shape.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteRequestError(w, api.RequestError{Status: status, Message: message})
}

func setRetryAfter(w http.ResponseWriter, wait time.Duration) {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
}

// recoverMiddleware turns a handler panic into a logged 500. http.ErrAbortHandler
// is re-raised so net/http can drop the connection quietly.
func recoverMiddleware(logger *slog.Logger, resolver clientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				loggingWithRequest(logger, resolver, r).Error("panic serving request",
					"method", r.Method,
					"panic", fmt.Sprint(recovered),
					"stack", string(debug.Stack()))
				writeMiddlewareError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeMiddlewareError(w, http.StatusNotFound, "not found")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeMiddlewareError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}
