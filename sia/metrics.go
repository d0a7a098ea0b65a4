// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sia

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Add adds a delta to the gauge
func (g *Gauge) Add(delta int64) {
	atomic.AddInt64(&g.value, delta)
}

// Inc increments the gauge by 1
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// latencyBounds are the upper bounds of the histogram buckets; the last bucket
// is open-ended
var latencyBounds = []time.Duration{
	100 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// LatencyHistogram tracks frame handling time
type LatencyHistogram struct {
	mu      sync.RWMutex
	count   int64
	sum     int64 // nanoseconds
	min     int64
	max     int64
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1, // no measurements yet
		buckets: make([]int64, len(latencyBounds)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	ns := d.Nanoseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += ns

	if h.min < 0 || ns < h.min {
		h.min = ns
	}
	if ns > h.max {
		h.max = ns
	}

	i := 0
	for i < len(latencyBounds) && d >= latencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := LatencyStats{
		Count:   h.count,
		Buckets: make([]int64, len(h.buckets)),
	}
	copy(stats.Buckets, h.buckets)

	if h.count > 0 {
		stats.Min = time.Duration(h.min)
		stats.Max = time.Duration(h.max)
		stats.Avg = time.Duration(h.sum / h.count)
	}

	return stats
}

// Reset resets the histogram
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count = 0
	h.sum = 0
	h.min = -1
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Count   int64         `json:"count"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Avg     time.Duration `json:"avg"`
	Buckets []int64       `json:"buckets"`
}

// Metrics holds receiver metrics
type Metrics struct {
	// Transport
	ConnectionsAccepted Counter
	ConnectionsClosed   Counter
	DatagramsReceived   Counter
	ActiveConnections   Gauge
	BytesReceived       Counter
	BytesSent           Counter

	// Frames
	FramesReceived  Counter
	FramingErrors   Counter
	GarbageBytes    Counter
	KeepAlives      Counter
	Unparseable     Counter
	CodeNotFound    Counter
	HeuristicParses Counter

	// Validation failures
	CRCErrors       Counter
	AccountErrors   Counter
	DecryptErrors   Counter
	TimestampErrors Counter
	FormatErrors    Counter

	// Responses
	ACKsSent Counter
	NAKsSent Counter
	DUHsSent Counter

	// Dispatch
	EventsDispatched Counter
	EventsDropped    Counter
	CallbackErrors   Counter
	QueueDepth       Gauge

	// Latency
	HandleLatency *LatencyHistogram

	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		HandleLatency: NewLatencyHistogram(),
		startTime:     time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Metrics) recordFailure(kind FailureKind) {
	switch kind {
	case FailureCRC:
		m.CRCErrors.Inc()
	case FailureAccount:
		m.AccountErrors.Inc()
	case FailureDecrypt:
		m.DecryptErrors.Inc()
	case FailureTimestamp:
		m.TimestampErrors.Inc()
	case FailureFormat:
		m.FormatErrors.Inc()
	}
}

func (m *Metrics) recordResponse(kind ResponseKind) {
	switch kind {
	case ResponseACK:
		m.ACKsSent.Inc()
	case ResponseNAK:
		m.NAKsSent.Inc()
	case ResponseDUH:
		m.DUHsSent.Inc()
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		ConnectionsAccepted: m.ConnectionsAccepted.Value(),
		ConnectionsClosed:   m.ConnectionsClosed.Value(),
		DatagramsReceived:   m.DatagramsReceived.Value(),
		ActiveConnections:   m.ActiveConnections.Value(),
		BytesReceived:       m.BytesReceived.Value(),
		BytesSent:           m.BytesSent.Value(),

		FramesReceived:  m.FramesReceived.Value(),
		FramingErrors:   m.FramingErrors.Value(),
		GarbageBytes:    m.GarbageBytes.Value(),
		KeepAlives:      m.KeepAlives.Value(),
		Unparseable:     m.Unparseable.Value(),
		CodeNotFound:    m.CodeNotFound.Value(),
		HeuristicParses: m.HeuristicParses.Value(),

		CRCErrors:       m.CRCErrors.Value(),
		AccountErrors:   m.AccountErrors.Value(),
		DecryptErrors:   m.DecryptErrors.Value(),
		TimestampErrors: m.TimestampErrors.Value(),
		FormatErrors:    m.FormatErrors.Value(),

		ACKsSent: m.ACKsSent.Value(),
		NAKsSent: m.NAKsSent.Value(),
		DUHsSent: m.DUHsSent.Value(),

		EventsDispatched: m.EventsDispatched.Value(),
		EventsDropped:    m.EventsDropped.Value(),
		CallbackErrors:   m.CallbackErrors.Value(),
		QueueDepth:       m.QueueDepth.Value(),

		Latency: m.HandleLatency.Stats(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration `json:"uptime"`

	ConnectionsAccepted int64 `json:"connections_accepted"`
	ConnectionsClosed   int64 `json:"connections_closed"`
	DatagramsReceived   int64 `json:"datagrams_received"`
	ActiveConnections   int64 `json:"active_connections"`
	BytesReceived       int64 `json:"bytes_received"`
	BytesSent           int64 `json:"bytes_sent"`

	FramesReceived  int64 `json:"frames_received"`
	FramingErrors   int64 `json:"framing_errors"`
	GarbageBytes    int64 `json:"garbage_bytes"`
	KeepAlives      int64 `json:"keep_alives"`
	Unparseable     int64 `json:"unparseable"`
	CodeNotFound    int64 `json:"code_not_found"`
	HeuristicParses int64 `json:"heuristic_parses"`

	CRCErrors       int64 `json:"crc_errors"`
	AccountErrors   int64 `json:"account_errors"`
	DecryptErrors   int64 `json:"decrypt_errors"`
	TimestampErrors int64 `json:"timestamp_errors"`
	FormatErrors    int64 `json:"format_errors"`

	ACKsSent int64 `json:"acks_sent"`
	NAKsSent int64 `json:"naks_sent"`
	DUHsSent int64 `json:"duhs_sent"`

	EventsDispatched int64 `json:"events_dispatched"`
	EventsDropped    int64 `json:"events_dropped"`
	CallbackErrors   int64 `json:"callback_errors"`
	QueueDepth       int64 `json:"queue_depth"`

	Latency LatencyStats `json:"latency"`

	LastActivity time.Time `json:"last_activity"`
}
