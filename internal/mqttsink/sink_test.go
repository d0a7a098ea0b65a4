package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/sia/sia"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	token    func() mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	p.messages = append(p.messages, published{topic, qos, retained, payload.([]byte)})
	p.mu.Unlock()
	if p.token != nil {
		return p.token()
	}
	return newToken(nil, true)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSink_PublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	s := New(pub, Config{Topic: "alarms/", QoS: 1, Retain: true}, discard)

	ev := sia.Event{
		Account:   "1234",
		ID:        sia.IDSIA,
		Sequence:  "0002",
		Code:      "BA",
		Zone:      "1",
		Quality:   sia.QualityStrict,
		Timestamp: time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Handle(context.Background(), ev))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	require.Equal(t, "alarms/1234", msg.topic)
	require.Equal(t, byte(1), msg.qos)
	require.True(t, msg.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	require.Equal(t, "BA", got["code"])
	require.Equal(t, "1", got["zone"])
	require.Equal(t, "strict", got["quality"])
	require.Equal(t, "2024-01-02T12:00:00Z", got["timestamp"])
}

func TestSink_PublishError(t *testing.T) {
	pub := &fakePublisher{token: func() mqtt.Token { return newToken(errors.New("not connected"), true) }}
	s := New(pub, Config{}, discard)

	err := s.Handle(context.Background(), sia.Event{Account: "1234"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sia/1234")
	require.Contains(t, err.Error(), "not connected")
}

func TestSink_PublishTimeout(t *testing.T) {
	pub := &fakePublisher{token: func() mqtt.Token { return newToken(nil, false) }}
	s := New(pub, Config{Timeout: 20 * time.Millisecond}, discard)

	err := s.Handle(context.Background(), sia.Event{Account: "1234"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = New(pub, Config{Timeout: time.Minute}, discard)
	require.ErrorIs(t, s.Handle(ctx, sia.Event{Account: "1234"}), context.Canceled)
}
