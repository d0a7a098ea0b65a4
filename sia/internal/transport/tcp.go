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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPListener accepts panel connections
type TCPListener struct {
	localAddr string
	ln        net.Listener
	mu        sync.RWMutex
	closed    bool
}

// NewTCPListener creates a listener bound to localAddr on Open
func NewTCPListener(localAddr string) *TCPListener {
	return &TCPListener{localAddr: localAddr}
}

// Open binds the listening socket
func (l *TCPListener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.localAddr)
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}

	l.ln = ln
	l.closed = false
	return nil
}

// Accept waits for the next connection. It returns ErrClosed once Close was called.
func (l *TCPListener) Accept() (net.Conn, error) {
	l.mu.RLock()
	ln := l.ln
	l.mu.RUnlock()

	if ln == nil {
		return nil, ErrClosed
	}

	conn, err := ln.Accept()
	if err != nil {
		if l.IsClosed() || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return conn, nil
}

// Close stops accepting connections
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil || l.closed {
		return nil
	}

	l.closed = true
	return l.ln.Close()
}

// Addr returns the bound address
func (l *TCPListener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// IsClosed returns true if the listener is closed
func (l *TCPListener) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Read reads from conn, applying timeout when it is positive
func Read(conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	return conn.Read(buf)
}

// Write writes all of data to conn within timeout
func Write(conn net.Conn, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	n, err := conn.Write(data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}
	return nil
}

// Dial opens a client connection to a receiver over "tcp" or "udp"
func Dial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	return conn, nil
}
