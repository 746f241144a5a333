package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"guacplayer/internal/observability/logging"
)

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceForwardedFor  = "x_forwarded_for"
	ipSourceRealIP        = "x_real_ip"
	unknownClientIdentity = "unknown"
)

// clientIPResolver picks the address used for throttling and logs. Forwarding
// headers are honoured only when the server sits behind a trusted proxy.
type clientIPResolver struct {
	trustForwarded bool
}

func (c clientIPResolver) resolve(r *http.Request) (string, string) {
	if c.trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, ipSourceForwardedFor
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			return xrip, ipSourceRealIP
		}
	}
	return remoteHost(r.RemoteAddr), ipSourceRemoteAddr
}

// key is the throttling key for r.
func (c clientIPResolver) key(r *http.Request) (string, error) {
	ip, _ := c.resolve(r)
	if ip == "" {
		return unknownClientIdentity, nil
	}
	return ip, nil
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// loggingWithRequest returns the request-scoped logger annotated with the
// path and the resolved client address.
func loggingWithRequest(base *slog.Logger, resolver clientIPResolver, r *http.Request) *slog.Logger {
	logger := logging.FromContext(r.Context(), base)
	ip, source := resolver.resolve(r)
	return logger.With("path", r.URL.Path, "remote_ip", ip, "ip_source", source)
}
