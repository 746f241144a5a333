package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"guacplayer/internal/observability/logging"
)

const requestIDHeader = "X-Request-Id"

// maxRequestIDLength drops oversized caller-supplied ids instead of logging them.
const maxRequestIDLength = 128

type idGenerator func() string

func requestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, uuid.NewString)
}

func requestIDMiddlewareWithGenerator(logger *slog.Logger, generator idGenerator) func(http.Handler) http.Handler {
	if generator == nil {
		generator = uuid.NewString
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = generator()
			}

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))
			w.Header().Set(requestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
