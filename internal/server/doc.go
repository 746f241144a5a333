// Package server exposes the guacplayer API on a chi router.
//
// Every request passes the same chain: panic recovery, request ids, metrics,
// request logging, security headers, CORS and the global token bucket. Login
// attempts are throttled per client (in memory, or in Redis when several
// replicas share the window) and authenticated routes get a per-client
// request budget. A built frontend can be served from disk for everything
// outside /api/.
package server
