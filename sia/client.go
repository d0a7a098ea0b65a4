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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/sia/sia/internal/transport"
)

// Outbound is a panel-side message
type Outbound struct {
	ID           string // defaults to SIA-DCS
	Sequence     int
	Receiver     string
	Prefix       string
	Account      string
	Data         string // content up to, not including, the closing ']'
	ExtendedData []string
	Timestamp    time.Time // zero omits the timestamp
	Key          string    // non-empty encrypts the content
}

// EncodeMessage renders m as a complete frame
func EncodeMessage(m Outbound) ([]byte, error) {
	id := m.ID
	if id == "" {
		id = IDSIA
	}
	prefix := m.Prefix
	if prefix == "" {
		prefix = "0"
	}
	account := strings.ToUpper(m.Account)

	var content strings.Builder
	switch id {
	case IDNull, IDOpenHold:
		// keep-alives carry no data
	default:
		content.WriteString("#" + account + "|")
		content.WriteString(m.Data)
	}
	content.WriteByte(']')
	for _, x := range m.ExtendedData {
		content.WriteString("[" + x + "]")
	}
	if !m.Timestamp.IsZero() {
		content.WriteString("_" + FormatTimestamp(m.Timestamp))
	}

	var b strings.Builder
	b.WriteByte('"')
	if m.Key != "" {
		b.WriteByte('*')
	}
	b.WriteString(id)
	b.WriteByte('"')
	b.WriteString(fmt.Sprintf("%04d", m.Sequence%10000))
	if m.Receiver != "" {
		b.WriteString("R" + m.Receiver)
	}
	b.WriteString("L" + prefix)
	b.WriteString("#" + account)
	b.WriteByte('[')

	if m.Key != "" {
		hexData, err := EncryptHex(content.String(), []byte(m.Key))
		if err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
		b.WriteString(hexData)
	} else {
		b.WriteString(content.String())
	}

	return EncodeFrame([]byte(b.String())), nil
}

// ConnectionState represents the client connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type clientOptions struct {
	network string
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption is a functional option for configuring the client
type ClientOption func(*clientOptions)

// WithNetwork selects "tcp" (default) or "udp"
func WithNetwork(network string) ClientOption {
	return func(o *clientOptions) {
		o.network = network
	}
}

// WithTimeout sets the dial and request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithClientLogger sets the logger for the client
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Client plays the panel side of DC-09: it sends frames to a receiver and
// decodes the replies. Requests on one client are serialised.
type Client struct {
	addr string
	opts *clientOptions

	state  atomic.Int32
	mu     sync.Mutex
	conn   net.Conn
	framer *Framer
	seq    atomic.Uint32
}

// NewClient creates a client for the receiver at addr
func NewClient(addr string, opts ...ClientOption) *Client {
	options := &clientOptions{
		network: "tcp",
		timeout: 5 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Client{addr: addr, opts: options}
}

// Connect dials the receiver
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	conn, err := transport.Dial(ctx, c.opts.network, c.addr, c.opts.timeout)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.framer = NewFramer(DefaultMaxFrameLength)
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	c.opts.logger.Debug("connected",
		slog.String("network", c.opts.network),
		slog.String("addr", c.addr),
	)
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	if c.state.Swap(int32(StateDisconnected)) == int32(StateDisconnected) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// NextSequence returns the next sequence number, wrapping at 9999
func (c *Client) NextSequence() int {
	return int((c.seq.Add(1)-1)%9999) + 1
}

// Send writes m and waits for the receiver's reply
func (c *Client) Send(ctx context.Context, m Outbound) (Response, error) {
	if c.State() != StateConnected {
		return Response{}, ErrNotConnected
	}

	frame, err := EncodeMessage(m)
	if err != nil {
		return Response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close may have run since the state check
	if c.conn == nil {
		return Response{}, ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := c.conn.Write(frame); err != nil {
		return Response{}, fmt.Errorf("write: %w", err)
	}
	c.opts.logger.Debug("sent", slog.String("frame", strings.TrimSpace(string(frame))))

	buf := make([]byte, transport.MaxDatagramSize)
	for {
		reply, ok, err := c.framer.Next()
		if err != nil {
			return Response{}, err
		}
		if ok {
			resp, err := DecodeResponse(reply, []byte(m.Key))
			if err != nil {
				return resp, err
			}
			want := fmt.Sprintf("%04d", m.Sequence%10000)
			if resp.Kind != ResponseNAK && resp.Sequence != want {
				return resp, fmt.Errorf("%w: sequence %s, want %s", ErrInvalidResponse, resp.Sequence, want)
			}
			return resp, nil
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.framer.Write(buf[:n])
			continue
		}
		if err != nil {
			return Response{}, fmt.Errorf("read: %w", err)
		}
	}
}
