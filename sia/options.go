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
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Transport selects the sockets a server listens on
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportUDP
	TransportBoth
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportBoth:
		return "both"
	default:
		return fmt.Sprintf("transport(%d)", t)
	}
}

// ParseTransport maps "tcp", "udp" or "both" to a Transport
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp", "":
		return TransportTCP, nil
	case "udp":
		return TransportUDP, nil
	case "both", "tcp+udp":
		return TransportBoth, nil
	}
	return TransportTCP, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s)
}

// Scheduling selects how inbound frames are processed
type Scheduling uint8

const (
	// SchedulePerConnection runs one goroutine per TCP connection or UDP datagram
	SchedulePerConnection Scheduling = iota
	// ScheduleSerial processes every frame on a single loop
	ScheduleSerial
)

func (s Scheduling) String() string {
	switch s {
	case SchedulePerConnection:
		return "per-connection"
	case ScheduleSerial:
		return "serial"
	default:
		return fmt.Sprintf("scheduling(%d)", s)
	}
}

// QueuePolicy decides what happens when a dispatch queue is full
type QueuePolicy uint8

const (
	// DropOldest evicts the oldest queued event to make room
	DropOldest QueuePolicy = iota
	// Block makes the connection wait for room after its ACK was written
	Block
)

func (p QueuePolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("policy(%d)", p)
	}
}

// ParseQueuePolicy maps "drop-oldest" or "block" to a QueuePolicy
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-oldest", "drop_oldest", "":
		return DropOldest, nil
	case "block":
		return Block, nil
	}
	return DropOldest, fmt.Errorf("unknown queue policy %q", s)
}

// RawRecord describes one inbound frame and the reply it earned
type RawRecord struct {
	ConnID     string
	Transport  string
	RemoteAddr string
	ReceivedAt time.Time
	Frame      []byte
	Response   []byte
	Failure    FailureKind
}

// RawRecorder receives every frame handled by the server. Implementations must
// be safe for concurrent use and must not retain the byte slices.
type RawRecorder interface {
	Record(RawRecord)
}

// serverOptions holds configuration for the receiver
type serverOptions struct {
	transport       Transport
	maxFrameLength  int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	queueSize    int
	queueWorkers int
	queuePolicy  QueuePolicy
	scheduling   Scheduling

	recorder RawRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// defaultOptions returns the default server options
func defaultOptions() *serverOptions {
	return &serverOptions{
		transport:       TransportTCP,
		maxFrameLength:  DefaultMaxFrameLength,
		writeTimeout:    5 * time.Second,
		shutdownTimeout: 5 * time.Second,
		queueSize:       256,
		queueWorkers:    4,
		queuePolicy:     DropOldest,
		scheduling:      SchedulePerConnection,
		now:             time.Now,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring the server
type Option func(*serverOptions)

// WithTransport selects TCP, UDP or both
func WithTransport(t Transport) Option {
	return func(o *serverOptions) {
		o.transport = t
	}
}

// WithMaxFrameLength bounds the body of an inbound frame
func WithMaxFrameLength(n int) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxFrameLength = n
		}
	}
}

// WithReadTimeout closes TCP connections idle for longer than d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithWriteTimeout sets the deadline for writing a response
func WithWriteTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithShutdownTimeout sets the default drain deadline used by Stop
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithDispatchQueue configures the event hand-off: size is the capacity of each
// queue, workers the number of queues (and handler goroutines)
func WithDispatchQueue(size, workers int, policy QueuePolicy) Option {
	return func(o *serverOptions) {
		if size > 0 {
			o.queueSize = size
		}
		if workers > 0 {
			o.queueWorkers = workers
		}
		o.queuePolicy = policy
	}
}

// WithScheduling selects the frame processing model
func WithScheduling(s Scheduling) Option {
	return func(o *serverOptions) {
		o.scheduling = s
	}
}

// WithRawRecorder records every inbound frame
func WithRawRecorder(r RawRecorder) Option {
	return func(o *serverOptions) {
		o.recorder = r
	}
}

// WithClock replaces time.Now for timestamp validation
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
