package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization"
	corsExposeHeaders = "Content-Disposition, Content-Length, Content-Range, Accept-Ranges, X-Request-Id"
)

// CORSConfig lists the browser origins allowed to call the API from another
// host, typically the player frontend dev server. "*" allows any origin but
// never echoes credentials. With no origins only same-origin requests pass.
type CORSConfig struct {
	Origins []string
}

type corsPolicy struct {
	allowed  map[string]struct{}
	wildcard bool
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	policy := corsPolicy{allowed: make(map[string]struct{})}
	for _, origin := range cfg.Origins {
		if strings.TrimSpace(origin) == "*" {
			policy.wildcard = true
			continue
		}
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return corsPolicy{}, fmt.Errorf("parse origin %q: %w", origin, err)
		}
		if normalized != "" {
			policy.allowed[normalized] = struct{}{}
		}
	}
	return policy, nil
}

func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", nil
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host)), nil
}

func corsMiddleware(policy corsPolicy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			explicit, ok := policy.allows(origin, originForRequest(r))
			if !ok {
				if logger != nil {
					logger.Warn("blocked CORS origin", "origin", origin, "path", r.URL.Path)
				}
				writeMiddlewareError(w, http.StatusForbidden, "origin not allowed")
				return
			}

			if explicit {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)

			if r.Method == http.MethodOptions {
				if r.Header.Get("Access-Control-Request-Method") != "" {
					w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
					if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
						w.Header().Set("Access-Control-Allow-Headers", requested)
					} else {
						w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
					}
					w.Header().Set("Access-Control-Max-Age", "600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allows reports whether origin may call the API and whether it matched an
// explicit entry (or the request's own origin) rather than the wildcard.
func (p corsPolicy) allows(origin string, requestOrigin string) (explicit bool, ok bool) {
	normalizedOrigin, err := normalizeOrigin(origin)
	if err != nil || normalizedOrigin == "" {
		return false, false
	}
	if _, found := p.allowed[normalizedOrigin]; found {
		return true, true
	}
	if requestOrigin != "" && normalizedOrigin == requestOrigin {
		return true, true
	}
	return false, p.wildcard
}

func originForRequest(r *http.Request) string {
	host := strings.ToLower(strings.TrimSpace(r.Host))
	if host == "" {
		return ""
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s", scheme, host)
}
