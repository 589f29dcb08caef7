// Package otel bridges websession metrics into an OpenTelemetry meter via
// observable instruments: every collection cycle polls the source snapshot
// instead of the core recording into OTel directly, keeping the hot path
// free of the SDK.
//
// # What this package must NOT do
//
//   - Require the OTel SDK; only the metric API surface is used.
//   - Mutate the metrics it reads.
package otel
