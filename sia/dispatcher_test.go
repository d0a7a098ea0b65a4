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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) sequences() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Sequence)
	}
	return out
}

func seqEvent(i int) Event {
	return Event{Account: "1234", Sequence: fmt.Sprintf("%04d", i)}
}

func TestDispatcher_PreservesOrderPerKey(t *testing.T) {
	var log eventLog
	d := newDispatcher(func(_ context.Context, ev Event) error {
		log.add(ev)
		return nil
	}, 16, 4, Block, discardLogger, NewMetrics())
	d.start()

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		require.NoError(t, d.enqueue("conn-a", seqEvent(i)))
		want = append(want, fmt.Sprintf("%04d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.close(ctx))
	require.Equal(t, want, log.sequences())
	require.Equal(t, int64(100), d.metrics.EventsDispatched.Value())
}

func TestDispatcher_DropOldest(t *testing.T) {
	var log eventLog
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	d := newDispatcher(func(_ context.Context, ev Event) error {
		once.Do(func() {
			close(started)
			<-release
		})
		log.add(ev)
		return nil
	}, 1, 1, DropOldest, discardLogger, NewMetrics())
	d.start()

	require.NoError(t, d.enqueue("k", seqEvent(1)))
	<-started

	require.NoError(t, d.enqueue("k", seqEvent(2)))
	require.NoError(t, d.enqueue("k", seqEvent(3))) // evicts 2
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.close(ctx))

	require.Equal(t, []string{"0001", "0003"}, log.sequences())
	require.Equal(t, int64(1), d.metrics.EventsDropped.Value())
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	var log eventLog
	d := newDispatcher(func(_ context.Context, ev Event) error {
		switch ev.Sequence {
		case "0001":
			panic("boom")
		case "0002":
			return errors.New("handler failed")
		}
		log.add(ev)
		return nil
	}, 4, 1, Block, discardLogger, NewMetrics())
	d.start()

	for i := 1; i <= 3; i++ {
		require.NoError(t, d.enqueue("k", seqEvent(i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.close(ctx))

	require.Equal(t, []string{"0003"}, log.sequences())
	require.Equal(t, int64(2), d.metrics.CallbackErrors.Value())
	require.Equal(t, int64(1), d.metrics.EventsDispatched.Value())
}

func TestDispatcher_CallbackErrorShape(t *testing.T) {
	d := newDispatcher(nil, 1, 1, Block, discardLogger, NewMetrics())

	d.handler = func(context.Context, Event) error { panic("boom") }
	err := d.invoke(seqEvent(7))
	var ce *CallbackError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "boom", ce.Panic)
	require.ErrorIs(t, err, ErrCallback)

	cause := errors.New("cause")
	d.handler = func(context.Context, Event) error { return cause }
	err = d.invoke(seqEvent(8))
	require.ErrorIs(t, err, ErrCallback)
	require.ErrorIs(t, err, cause)
}

func TestDispatcher_CloseDeadline(t *testing.T) {
	entered := make(chan struct{})
	d := newDispatcher(func(ctx context.Context, _ Event) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}, 4, 1, Block, discardLogger, NewMetrics())
	d.start()

	require.NoError(t, d.enqueue("k", seqEvent(1)))
	require.NoError(t, d.enqueue("k", seqEvent(2)))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.close(ctx)
	require.ErrorIs(t, err, ErrShutdownTimeout)

	// the queued event is discarded, never delivered
	require.ErrorIs(t, d.enqueue("k", seqEvent(3)), ErrServerStopped)
	require.Eventually(t, func() bool {
		return d.metrics.EventsDropped.Value() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_NothingStartsAfterTimedOutClose(t *testing.T) {
	var entered atomic.Int64
	release := make(chan struct{})
	d := newDispatcher(func(_ context.Context, _ Event) error {
		entered.Add(1)
		<-release
		return nil
	}, 64, 4, Block, discardLogger, NewMetrics())
	d.start()

	const total = 40
	shards := make(map[chan Event]struct{})
	for i := 0; i < total; i++ {
		key := fmt.Sprintf("conn-%d", i)
		shards[d.shardFor(key)] = struct{}{}
		require.NoError(t, d.enqueue(key, seqEvent(i)))
	}

	// every busy worker is parked inside the handler
	require.Eventually(t, func() bool {
		return entered.Load() == int64(len(shards))
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.close(ctx), ErrShutdownTimeout)
	inFlight := entered.Load()

	close(release)
	require.Eventually(t, func() bool {
		return d.metrics.EventsDropped.Value() == total-inFlight &&
			d.metrics.EventsDispatched.Value() == inFlight
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, inFlight, entered.Load())
}
