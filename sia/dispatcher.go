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
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventHandler consumes validated events. It runs off the network path; an
// error or panic is logged and never changes the reply already sent.
type EventHandler func(ctx context.Context, ev Event) error

// dispatcher hands events to the EventHandler through bounded queues. Events
// carrying the same key land on the same queue, so they are delivered in order.
type dispatcher struct {
	handler EventHandler
	policy  QueuePolicy
	shards  []chan Event
	logger  *slog.Logger
	metrics *Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	closing chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup

	// gate orders delivery admission against a timed-out close: a worker
	// admits an event under the read lock, close sets halted under the write lock
	gate   sync.RWMutex
	halted bool
}

func newDispatcher(handler EventHandler, size, workers int, policy QueuePolicy, logger *slog.Logger, metrics *Metrics) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		handler: handler,
		policy:  policy,
		shards:  make([]chan Event, workers),
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan Event, size)
	}
	return d
}

func (d *dispatcher) start() {
	for i := range d.shards {
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
}

func (d *dispatcher) shardFor(key string) chan Event {
	if len(d.shards) == 1 {
		return d.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// enqueue queues ev behind earlier events with the same key
func (d *dispatcher) enqueue(key string, ev Event) error {
	if d.closed.Load() {
		return ErrServerStopped
	}
	ch := d.shardFor(key)

	switch d.policy {
	case Block:
		select {
		case ch <- ev:
		case <-d.closing:
			return ErrServerStopped
		}
	default:
		for {
			select {
			case ch <- ev:
				d.metrics.QueueDepth.Inc()
				return nil
			default:
			}
			select {
			case old := <-ch:
				d.metrics.QueueDepth.Dec()
				d.metrics.EventsDropped.Inc()
				d.logger.Warn("dispatch queue full, dropping oldest event",
					slog.String("account", old.Account),
					slog.String("seq", old.Sequence),
				)
			default:
			}
		}
	}
	d.metrics.QueueDepth.Inc()
	return nil
}

func (d *dispatcher) worker(ch chan Event) {
	defer d.wg.Done()

	for {
		select {
		case ev := <-ch:
			d.metrics.QueueDepth.Dec()
			d.deliver(ev)
		case <-d.closing:
			// drain what was queued before close
			for {
				select {
				case ev := <-ch:
					d.metrics.QueueDepth.Dec()
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// admit reports whether ev may still be handed to the handler. Once a timed-out
// close has returned, admit is false for every worker.
func (d *dispatcher) admit() bool {
	d.gate.RLock()
	defer d.gate.RUnlock()
	return !d.halted && d.ctx.Err() == nil
}

func (d *dispatcher) deliver(ev Event) {
	if !d.admit() {
		d.metrics.EventsDropped.Inc()
		return
	}
	if err := d.invoke(ev); err != nil {
		d.metrics.CallbackErrors.Inc()
		d.logger.Error("event handler failed",
			slog.String("account", ev.Account),
			slog.String("seq", ev.Sequence),
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.EventsDispatched.Inc()
}

func (d *dispatcher) invoke(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Account: ev.Account, Sequence: ev.Sequence, Panic: r}
		}
	}()
	if herr := d.handler(d.ctx, ev.clone()); herr != nil {
		return &CallbackError{Account: ev.Account, Sequence: ev.Sequence, Err: herr}
	}
	return nil
}

// close stops accepting events and lets the workers drain their queues. If ctx
// expires first, queued events are discarded, the handler context is cancelled
// and ErrShutdownTimeout is returned.
func (d *dispatcher) close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.closing)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.gate.Lock()
		d.halted = true
		d.cancel()
		d.gate.Unlock()
		return fmt.Errorf("%w: event handlers still running", ErrShutdownTimeout)
	}
}
