package internaldefs

import (
	websession "github.com/nocturnehq/websession"
)

// CounterDef binds a core metric ID to its exported name and help text.
type CounterDef struct {
	ID   websession.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram ID to its exported name and help text.
type HistogramDef struct {
	ID   websession.MetricID
	Name string
	Help string
}

// CounterDefs is the shared counter catalog, in export order.
var CounterDefs = []CounterDef{
	{ID: websession.MetricSessionCreated, Name: "websession_session_created_total", Help: "Sessions persisted for the first time."},
	{ID: websession.MetricSessionLoaded, Name: "websession_session_loaded_total", Help: "Sessions resolved from a valid cookie."},
	{ID: websession.MetricCookieRejected, Name: "websession_cookie_rejected_total", Help: "Cookies rejected by structural or integrity validation."},
	{ID: websession.MetricSessionRotated, Name: "websession_session_rotated_total", Help: "Session identifier rotations."},
	{ID: websession.MetricSessionDestroyed, Name: "websession_session_destroyed_total", Help: "Explicit session terminations."},
	{ID: websession.MetricStoreUnavailable, Name: "websession_store_unavailable_total", Help: "Backend outages that exhausted the retry budget."},
	{ID: websession.MetricSaveFailure, Name: "websession_save_failure_total", Help: "Surfaced session save failures."},
	{ID: websession.MetricIDCollisionRetry, Name: "websession_id_collision_retry_total", Help: "Identifier regenerations after a backend-reported collision."},
	{ID: websession.MetricTouch, Name: "websession_touch_total", Help: "Payload-free TTL refreshes."},
	{ID: websession.MetricSessionExpired, Name: "websession_session_expired_total", Help: "Sessions evicted for exceeding the absolute lifetime cap."},
}

// HistogramDefs is the shared histogram catalog.
var HistogramDefs = []HistogramDef{
	{ID: websession.MetricBeginLatency, Name: "websession_begin_latency_seconds", Help: "Begin latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// core histogram layout.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders each bound as an identifier-safe suffix for
// backends without native histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus and OTel expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
