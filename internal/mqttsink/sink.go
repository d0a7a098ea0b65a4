// Package mqttsink forwards receiver events to an MQTT broker
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeo-scada/sia/sia"
)

// Publisher is the subset of mqtt.Client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config holds the broker settings
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
	Timeout  time.Duration
}

// Sink publishes one JSON message per event on <topic>/<account>
type Sink struct {
	pub    Publisher
	client mqtt.Client
	cfg    Config
	logger *slog.Logger
}

// Connect dials the broker and returns a sink publishing through it
func Connect(cfg Config, logger *slog.Logger) (*Sink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	logger.Info("connected to mqtt broker", slog.String("broker", cfg.Broker))

	s := New(client, cfg, logger)
	s.client = client
	return s, nil
}

// New creates a sink on top of an existing publisher
func New(pub Publisher, cfg Config, logger *slog.Logger) *Sink {
	if cfg.Topic == "" {
		cfg.Topic = "sia"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Sink{pub: pub, cfg: cfg, logger: logger}
}

// payload is the wire form of a forwarded event
type payload struct {
	Account      string     `json:"account"`
	ID           string     `json:"id"`
	Sequence     string     `json:"sequence"`
	Receiver     string     `json:"receiver,omitempty"`
	Prefix       string     `json:"prefix,omitempty"`
	Code         string     `json:"code"`
	Zone         string     `json:"zone,omitempty"`
	Message      string     `json:"message,omitempty"`
	Qualifier    string     `json:"qualifier,omitempty"`
	Partition    string     `json:"partition,omitempty"`
	ExtendedData []string   `json:"extended_data,omitempty"`
	Quality      string     `json:"quality"`
	Confidence   float64    `json:"confidence"`
	Encrypted    bool       `json:"encrypted"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// Topic returns the topic events of account are published on
func (s *Sink) Topic(account string) string {
	return strings.TrimSuffix(s.cfg.Topic, "/") + "/" + account
}

// Handle is a sia.EventHandler
func (s *Sink) Handle(ctx context.Context, ev sia.Event) error {
	p := payload{
		Account:      ev.Account,
		ID:           ev.ID,
		Sequence:     ev.Sequence,
		Receiver:     ev.Receiver,
		Prefix:       ev.Prefix,
		Code:         ev.Code,
		Zone:         ev.Zone,
		Message:      ev.Message,
		Qualifier:    ev.Qualifier,
		Partition:    ev.Partition,
		ExtendedData: ev.ExtendedData,
		Quality:      ev.Quality.String(),
		Confidence:   ev.Confidence,
		Encrypted:    ev.Encrypted,
		ReceivedAt:   ev.ReceivedAt,
	}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp
		p.Timestamp = &ts
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	topic := s.Topic(ev.Account)
	token := s.pub.Publish(topic, s.cfg.QoS, s.cfg.Retain, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Timeout):
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.logger.Debug("event published", slog.String("topic", topic), slog.String("code", ev.Code))
	return nil
}

// Close disconnects from the broker
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
