package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	rowsWritten  atomic.Int64
	rowQueries   atomic.Int64
	feedWaits    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	RowsWritten   int64   `json:"rows_written"`
	RowQueries    int64   `json:"row_queries"`
	FeedWaits     int64   `json:"feed_waits"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordRowWrite counts an accepted upsert or delete.
func (m *Metrics) RecordRowWrite() {
	m.rowsWritten.Add(1)
}

// RecordRowQuery counts a row page request.
func (m *Metrics) RecordRowQuery() {
	m.rowQueries.Add(1)
}

// RecordFeedWait counts a change feed request that blocked.
func (m *Metrics) RecordFeedWait() {
	m.feedWaits.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		RowsWritten:   m.rowsWritten.Load(),
		RowQueries:    m.rowQueries.Load(),
		FeedWaits:     m.feedWaits.Load(),
	}
}
