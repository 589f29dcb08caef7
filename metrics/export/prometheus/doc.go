// Package prometheus renders websession metrics in Prometheus text
// exposition format without importing the Prometheus client library.
//
// The exporter polls a metrics source (normally the [websession.Manager])
// on every scrape; nothing is pushed and no background goroutine runs.
//
// # What this package must NOT do
//
//   - Mutate the metrics it reads.
//   - Hold state across scrapes.
package prometheus
