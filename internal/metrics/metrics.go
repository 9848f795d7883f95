// Package metrics exposes atomic connection counters for a wsclient.Client
// in Prometheus text exposition format, grounded on
// agent/internal/transport/metrics.go's hand-rolled counters. No
// prometheus/client_golang dependency: the teacher's own transport layer
// never takes that dependency either, preferring atomic.Int64 fields plus a
// small text writer, and this package matches that idiom rather than
// introducing a registry the rest of the codebase doesn't use.
//
// # Usage
//
//	m := metrics.New()
//	http.Handle("/metrics", m.Handler())
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds all counters and gauges for one Client's lifetime. The zero
// value is ready to use.
type Metrics struct {
	HandshakeAttempts atomic.Int64
	HandshakeFailures atomic.Int64
	FramesSent        atomic.Int64
	FramesReceived    atomic.Int64
	BytesSent         atomic.Int64
	BytesReceived     atomic.Int64
	ProtocolErrors    atomic.Int64

	// Connected is 1 while the handshake has completed and no disconnect
	// has been observed yet, 0 otherwise.
	Connected atomic.Int64
}

// New allocates a ready-to-use Metrics value.
func New() *Metrics {
	return &Metrics{}
}

type metricLine struct {
	help  string
	kind  string
	name  string
	value int64
}

func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{"Total number of handshake attempts made by this client.", "counter", "wsclient_handshake_attempts_total", m.HandshakeAttempts.Load()},
		{"Total number of handshake attempts that failed validation.", "counter", "wsclient_handshake_failures_total", m.HandshakeFailures.Load()},
		{"Total number of frames written to the transport.", "counter", "wsclient_frames_sent_total", m.FramesSent.Load()},
		{"Total number of frames decoded from the transport.", "counter", "wsclient_frames_received_total", m.FramesReceived.Load()},
		{"Total number of payload bytes written to the transport.", "counter", "wsclient_bytes_sent_total", m.BytesSent.Load()},
		{"Total number of payload bytes read from the transport.", "counter", "wsclient_bytes_received_total", m.BytesReceived.Load()},
		{"Total number of protocol violations observed (malformed frame, bad UTF-8).", "counter", "wsclient_protocol_errors_total", m.ProtocolErrors.Load()},
		{"1 while the connection is past handshake and not yet disconnected, 0 otherwise.", "gauge", "wsclient_connected", m.Connected.Load()},
	}
}

// Handler returns an http.Handler serving the current snapshot in
// Prometheus text exposition format on every GET.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
