// Package api hosts the HTTP handlers behind the GuacPlayer REST API.
//
// Handler is assembled once at startup with the Guacamole repository, the
// token manager and the recordings store, and every request handler reads
// those injected dependencies rather than package globals. Not-found results
// come back from the lower layers as found flags and are mapped to 404 here;
// errors are logged with their identifiers and surface to clients only as a
// generic message.
//
// Authentication is enforced by middleware in internal/server, which calls
// Handler.Authenticate and stores the verified identity on the request
// context. Handlers for protected routes read it back with
// IdentityFromContext.
package api
