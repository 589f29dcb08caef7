// Package middleware adapts [websession.Manager] to net/http.
//
// # Handler
//
//   - [Sessions] — per-request lifecycle: cookie in, Begin, context
//     injection, Finish, cookie out.
//
// The wrapped handler retrieves its session via [SessionFromRequest] and
// mutates it freely; the middleware commits the session and writes the
// Set-Cookie header before the first response byte leaves the process.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Manager calls. It does NOT
// implement session logic itself — expiry, rotation, and persistence are
// delegated to the Manager.
//
// # What this package must NOT do
//
//   - Touch the store directly (the Manager handles I/O).
//   - Emit a Set-Cookie header after the response body has started.
//   - Leak Finish errors into the response body beyond a generic 500.
package middleware
