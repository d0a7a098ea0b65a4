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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPListener_AcceptAndClose(t *testing.T) {
	ln := NewTCPListener("127.0.0.1:0")
	require.NoError(t, ln.Open(context.Background()))
	require.NotNil(t, ln.Addr())

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := Dial(context.Background(), "tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not accepted")
	}
	defer server.Close()

	require.NoError(t, Write(client, []byte("ping"), time.Second))
	buf := make([]byte, 16)
	n, err := Read(server, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, ln.Close())
	assert.True(t, ln.IsClosed())
	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, ln.Close())
}

func TestRead_Timeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := Read(a, make([]byte, 1), 20*time.Millisecond)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

func TestUDPTransport_RoundTrip(t *testing.T) {
	server := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, server.Open(context.Background()))
	defer server.Close()

	client, err := Dial(context.Background(), "udp", server.LocalAddr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("frame"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, addr, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(data))

	require.NoError(t, server.Send(ctx, addr, []byte("reply")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(buf[:n]))
}

func TestUDPTransport_CloseInterruptsReceive(t *testing.T) {
	tr := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, tr.Open(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, _, err := tr.Receive(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive not interrupted")
	}
	assert.True(t, tr.IsClosed())

	_, _, err := tr.Receive(context.Background())
	assert.Error(t, err)
}
