package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityConfig controls the hardening headers attached to every response.
// Zero-valued fields fall back to defaults suited to the bundled player.
type SecurityConfig struct {
	// ContentSecurityPolicy replaces the generated policy entirely.
	ContentSecurityPolicy string
	// FrameAncestors feeds both the CSP directive and X-Frame-Options.
	FrameAncestors    string
	ReferrerPolicy    string
	PermissionsPolicy string
	// HSTSMaxAge applies to TLS requests only. Negative disables the header.
	HSTSMaxAge time.Duration
}

// cspDirectives is the default policy. The player fetches recordings from
// the same origin and may hand blob: URLs to the media element.
var cspDirectives = [][2]string{
	{"default-src", "'self'"},
	{"connect-src", "'self'"},
	{"media-src", "'self' blob:"},
	{"img-src", "'self' data:"},
	{"script-src", "'self'"},
	{"style-src", "'self'"},
	{"font-src", "'self'"},
	{"object-src", "'none'"},
	{"base-uri", "'self'"},
	{"form-action", "'self'"},
}

type securityHeaders struct {
	csp         string
	frame       string
	referrer    string
	permissions string
	hsts        string
}

func (cfg SecurityConfig) resolve() securityHeaders {
	ancestors := strings.TrimSpace(cfg.FrameAncestors)
	if ancestors == "" {
		ancestors = "'none'"
	}
	out := securityHeaders{
		csp:         cfg.ContentSecurityPolicy,
		frame:       frameOptionsFor(ancestors),
		referrer:    firstNonBlank(cfg.ReferrerPolicy, "no-referrer"),
		permissions: firstNonBlank(cfg.PermissionsPolicy, "camera=(), microphone=(), geolocation=()"),
	}
	if out.csp == "" {
		parts := make([]string, 0, len(cspDirectives)+1)
		for _, d := range cspDirectives {
			parts = append(parts, d[0]+" "+d[1])
		}
		parts = append(parts, "frame-ancestors "+ancestors)
		out.csp = strings.Join(parts, "; ")
	}
	maxAge := cfg.HSTSMaxAge
	if maxAge == 0 {
		maxAge = defaultHSTSMaxAge
	}
	if maxAge > 0 {
		out.hsts = "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"
	}
	return out
}

// frameOptionsFor maps a frame-ancestors source list to the legacy header.
// Lists that X-Frame-Options cannot express yield no header.
func frameOptionsFor(ancestors string) string {
	switch ancestors {
	case "'none'":
		return "DENY"
	case "'self'":
		return "SAMEORIGIN"
	default:
		return ""
	}
}

func firstNonBlank(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func securityHeadersMiddleware(cfg SecurityConfig) func(http.Handler) http.Handler {
	headers := cfg.resolve()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", headers.csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", headers.referrer)
			h.Set("Permissions-Policy", headers.permissions)
			if headers.frame != "" {
				h.Set("X-Frame-Options", headers.frame)
			}
			if r.TLS != nil && headers.hsts != "" {
				h.Set("Strict-Transport-Security", headers.hsts)
			}
			if strings.HasPrefix(r.URL.Path, "/api/auth/") {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
