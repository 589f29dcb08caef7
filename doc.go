// Package websession provides server-side session state for web
// applications: cookie-carried identifiers with HMAC integrity tags,
// pluggable record storage (in-process memory, Redis single-node, Redis
// Cluster, Redis Sentinel), and sliding expiration with an absolute
// lifetime cap.
//
// The package is designed for concurrent server workloads: Manager methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build]. One [SessionContext] serves exactly one request and is
// never shared across requests.
//
// # Architecture boundaries
//
// websession is the public surface. It exposes [Manager], [Builder],
// [Config], [SessionContext], [CookieEnvelope], and value types
// (MetricsSnapshot, AuditEvent). Identifier generation lives under
// internal/sid; cookie integrity lives in the cookie package; persistence
// contracts and adapters live under store/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, record encodings, or backend key layouts in
//     its public API beyond the store.Backend seam.
//   - Perform I/O during construction (Builder is allocation-only until
//     Build, and Build only dials when it constructs the backend itself).
//   - Write to the backend before Finish — all session mutation between
//     Begin and Finish is buffered in the SessionContext.
//
// # Performance contract
//
// Begin and Finish are the hot path. An unmodified, non-new session costs
// one backend round-trip on Begin and one TTL refresh on Finish; no
// payload bytes move on the refresh.
package websession
