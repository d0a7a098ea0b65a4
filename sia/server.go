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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/sia/sia/internal/transport"
)

// ServerState represents the supervisor lifecycle
type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerStarting
	ServerRunning
	ServerStopping
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerStarting:
		return "starting"
	case ServerRunning:
		return "running"
	case ServerStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Server receives DC-09 frames over TCP and/or UDP, answers every frame and
// hands validated events to an EventHandler
type Server struct {
	opts     *serverOptions
	registry *Registry
	handler  EventHandler
	proc     *processor
	metrics  *Metrics
	logger   *slog.Logger

	state atomic.Int32

	tcp *transport.TCPListener
	udp *transport.UDPTransport

	dispatcher *dispatcher
	serial     chan serialJob
	stopping   chan struct{}
	wg         sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

type serialJob struct {
	frame  Frame
	remote string
	done   chan outcome
}

// NewServer creates a receiver for the accounts in registry
func NewServer(registry *Registry, handler EventHandler, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("sia: registry is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("sia: event handler is required")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		opts:     options,
		registry: registry,
		handler:  handler,
		proc:     &processor{registry: registry, now: options.now},
		metrics:  NewMetrics(),
		logger:   options.logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the configured sockets on host:port and begins serving. The
// registry is frozen: accounts cannot be added while the server runs.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	if !s.state.CompareAndSwap(int32(ServerStopped), int32(ServerStarting)) {
		return ErrServerRunning
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.registry.Freeze()

	var tcp *transport.TCPListener
	var udp *transport.UDPTransport

	if s.opts.transport != TransportUDP {
		tcp = transport.NewTCPListener(addr)
		if err := tcp.Open(ctx); err != nil {
			s.state.Store(int32(ServerStopped))
			return err
		}
	}
	if s.opts.transport != TransportTCP {
		udpAddr := addr
		if tcp != nil && port == 0 {
			// share the ephemeral port picked for TCP
			udpAddr = tcp.Addr().String()
		}
		udp = transport.NewUDPTransport(udpAddr)
		udp.SetWriteTimeout(s.opts.writeTimeout)
		if err := udp.Open(ctx); err != nil {
			if tcp != nil {
				tcp.Close()
			}
			s.state.Store(int32(ServerStopped))
			return err
		}
	}

	s.tcp, s.udp = tcp, udp
	s.stopping = make(chan struct{})
	s.dispatcher = newDispatcher(s.handler, s.opts.queueSize, s.opts.queueWorkers,
		s.opts.queuePolicy, s.logger, s.metrics)
	s.dispatcher.start()

	if s.opts.scheduling == ScheduleSerial {
		s.serial = make(chan serialJob)
		s.wg.Add(1)
		go s.serialLoop(s.serial, s.stopping)
	} else {
		s.serial = nil
	}

	if tcp != nil {
		s.wg.Add(1)
		go s.acceptLoop(tcp)
	}
	if udp != nil {
		s.wg.Add(1)
		go s.datagramLoop(udp)
	}

	s.state.Store(int32(ServerRunning))
	s.logger.Info("server started",
		slog.String("addr", addr),
		slog.String("transport", s.opts.transport.String()),
		slog.String("scheduling", s.opts.scheduling.String()),
		slog.Int("accounts", s.registry.Len()),
	)
	return nil
}

// Stop closes the sockets and every open connection, then waits for in-flight
// frames and queued events to finish. ctx bounds the wait; without a deadline
// the WithShutdownTimeout value applies. No event is dispatched after Stop returns.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerRunning), int32(ServerStopping)) {
		return ErrServerStopped
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.shutdownTimeout)
		defer cancel()
	}

	close(s.stopping)
	if s.tcp != nil {
		s.tcp.Close()
	}
	if s.udp != nil {
		s.udp.Close()
	}

	// Interrupt readers blocked on idle connections
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	var errs []error
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("%w: connection handlers still running", ErrShutdownTimeout))
	}

	if err := s.dispatcher.close(ctx); err != nil {
		errs = append(errs, err)
	}

	s.state.Store(int32(ServerStopped))
	s.logger.Info("server stopped", slog.Int64("events", s.metrics.EventsDispatched.Value()))
	return errors.Join(errs...)
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Addr returns the TCP listening address, or nil when TCP is not served
func (s *Server) Addr() net.Addr {
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// UDPAddr returns the UDP socket address, or nil when UDP is not served
func (s *Server) UDPAddr() net.Addr {
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

// Metrics returns the server metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the account registry
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) acceptLoop(ln *transport.TCPListener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			select {
			case <-s.stopping:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// track registers conn so Stop can close it. It fails once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.stopping:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ActiveConnections.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.metrics.ActiveConnections.Dec()
	s.metrics.ConnectionsClosed.Inc()
}

// serveConn processes the frames of one TCP connection in arrival order
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With(slog.String("conn", connID), slog.String("remote", remote))
	logger.Debug("connection opened")

	framer := NewFramer(s.opts.maxFrameLength)
	buf := make([]byte, 4096)

	for {
		n, err := transport.Read(conn, buf, s.opts.readTimeout)
		if n > 0 {
			s.metrics.BytesReceived.Add(int64(n))
			s.metrics.RecordActivity()
			framer.Write(buf[:n])
			if !s.drain(framer, connID, "tcp", remote, func(resp []byte) error {
				return transport.Write(conn, resp, s.opts.writeTimeout)
			}) {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug("connection closed")
			default:
				logger.Debug("connection read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// datagramLoop receives UDP datagrams; each is handled on its own goroutine
func (s *Server) datagramLoop(udp *transport.UDPTransport) {
	defer s.wg.Done()

	for {
		data, addr, err := udp.Receive(context.Background())
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			s.logger.Debug("receive failed", slog.String("error", err.Error()))
			select {
			case <-s.stopping:
				return
			default:
			}
			continue
		}

		s.metrics.DatagramsReceived.Inc()
		s.metrics.BytesReceived.Add(int64(len(data)))
		s.metrics.RecordActivity()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			framer := NewFramer(s.opts.maxFrameLength)
			framer.Write(data)
			s.drain(framer, uuid.NewString(), "udp", addr.String(), func(resp []byte) error {
				ctx, cancel := context.WithTimeout(context.Background(), s.opts.writeTimeout)
				defer cancel()
				return udp.Send(ctx, addr, resp)
			})
		}()
	}
}

// drain handles every complete frame buffered in framer. It returns false when
// the connection must be closed.
func (s *Server) drain(framer *Framer, connID, network, remote string, reply func([]byte) error) bool {
	garbage := framer.Discarded()
	defer func() {
		if d := framer.Discarded() - garbage; d > 0 {
			s.metrics.GarbageBytes.Add(int64(d))
		}
	}()

	for {
		frame, ok, err := framer.Next()
		if err != nil {
			s.metrics.FramingErrors.Inc()
			s.logger.Warn("closing connection on framing error",
				slog.String("conn", connID),
				slog.String("remote", remote),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !ok {
			return true
		}

		start := time.Now()
		o, ok := s.evaluate(frame, remote)
		if !ok {
			return false
		}
		resp := o.encode(s.logger)

		if err := reply(resp); err != nil {
			s.logger.Debug("failed to send response",
				slog.String("conn", connID),
				slog.String("error", err.Error()),
			)
			return false
		}
		s.metrics.BytesSent.Add(int64(len(resp)))
		o.record(s.metrics)

		// the reply is on the wire before the event is queued
		if o.event != nil {
			if err := s.dispatcher.enqueue(connID, *o.event); err != nil {
				s.logger.Warn("event not dispatched", append(o.logAttrs(connID), slog.String("reason", err.Error()))...)
			}
		}
		o.reached = StateResponded
		s.metrics.HandleLatency.Record(time.Since(start))

		if o.err != nil {
			s.logger.Warn("frame rejected", o.logAttrs(connID)...)
		} else {
			s.logger.Debug("frame handled", o.logAttrs(connID)...)
		}
		if s.opts.recorder != nil {
			s.opts.recorder.Record(RawRecord{
				ConnID:     connID,
				Transport:  network,
				RemoteAddr: remote,
				ReceivedAt: start,
				Frame:      frame.Body,
				Response:   resp,
				Failure:    o.failure(),
			})
		}
	}
}

// evaluate runs the pipeline for f, on the serial loop when one is configured.
// ok is false when the server stopped before the frame could be processed.
func (s *Server) evaluate(f Frame, remote string) (outcome, bool) {
	if s.serial == nil {
		return s.proc.process(f, remote), true
	}

	job := serialJob{frame: f, remote: remote, done: make(chan outcome, 1)}
	select {
	case s.serial <- job:
	case <-s.stopping:
		return outcome{}, false
	}
	return <-job.done, true
}

// serialLoop processes frames from every connection one at a time
func (s *Server) serialLoop(jobs <-chan serialJob, stopping <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case job := <-jobs:
			job.done <- s.proc.process(job.frame, job.remote)
		case <-stopping:
			return
		}
	}
}
