// Package config loads the receiver configuration from file, environment and flags
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/sia/sia"
)

// Account is one entry of the accounts list
type Account struct {
	ID             string        `mapstructure:"id"`
	Key            string        `mapstructure:"key"`
	TimebandBefore time.Duration `mapstructure:"timeband_before"`
	TimebandAfter  time.Duration `mapstructure:"timeband_after"`
}

// Queue configures the event hand-off
type Queue struct {
	Size    int    `mapstructure:"size"`
	Workers int    `mapstructure:"workers"`
	Policy  string `mapstructure:"policy"`
}

// Journal configures the raw frame journal
type Journal struct {
	Path string `mapstructure:"path"`
}

// MQTT configures event forwarding
type MQTT struct {
	Broker   string        `mapstructure:"broker"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Topic    string        `mapstructure:"topic"`
	QoS      int           `mapstructure:"qos"`
	Retain   bool          `mapstructure:"retain"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Health configures the HTTP status endpoint
type Health struct {
	Addr string `mapstructure:"addr"`
}

// Config holds all receiver configuration
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Transport       string        `mapstructure:"transport"`
	Scheduling      string        `mapstructure:"scheduling"`
	MaxFrameLength  int           `mapstructure:"max_frame_length"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Queue    Queue     `mapstructure:"queue"`
	Accounts []Account `mapstructure:"accounts"`
	Journal  Journal   `mapstructure:"journal"`
	MQTT     MQTT      `mapstructure:"mqtt"`
	Health   Health    `mapstructure:"health"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", sia.DefaultPort)
	v.SetDefault("transport", "tcp")
	v.SetDefault("scheduling", "per-connection")
	v.SetDefault("max_frame_length", sia.DefaultMaxFrameLength)
	v.SetDefault("read_timeout", 0)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("queue.size", 256)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.policy", "drop-oldest")
	v.SetDefault("mqtt.client_id", "edgeo-sia")
	v.SetDefault("mqtt.topic", "sia")
	v.SetDefault("mqtt.timeout", 5*time.Second)
}

// Load decodes v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate ensures configuration is coherent
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := sia.ParseTransport(c.Transport); err != nil {
		return err
	}
	if _, err := parseScheduling(c.Scheduling); err != nil {
		return err
	}
	if _, err := sia.ParseQueuePolicy(c.Queue.Policy); err != nil {
		return err
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	if c.MQTT.Broker != "" && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		return fmt.Errorf("invalid mqtt qos %d (supported: 0, 1, 2)", c.MQTT.QoS)
	}

	// surface account errors at load time rather than at start
	_, err := c.Registry()
	return err
}

// Registry builds the account registry
func (c *Config) Registry() (*sia.Registry, error) {
	reg, err := sia.NewRegistry()
	if err != nil {
		return nil, err
	}
	for i, a := range c.Accounts {
		var band *sia.Timeband
		if a.TimebandBefore != 0 || a.TimebandAfter != 0 {
			band = &sia.Timeband{Before: a.TimebandBefore, After: a.TimebandAfter}
			if band.Before == 0 {
				band.Before = sia.DefaultTimeband.Before
			}
			if band.After == 0 {
				band.After = sia.DefaultTimeband.After
			}
		}
		acct, err := sia.NewAccount(a.ID, a.Key, band)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		if err := reg.Register(acct); err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
	}
	return reg, nil
}

// ServerOptions translates the configuration into server options
func (c *Config) ServerOptions(logger *slog.Logger) ([]sia.Option, error) {
	transport, err := sia.ParseTransport(c.Transport)
	if err != nil {
		return nil, err
	}
	scheduling, err := parseScheduling(c.Scheduling)
	if err != nil {
		return nil, err
	}
	policy, err := sia.ParseQueuePolicy(c.Queue.Policy)
	if err != nil {
		return nil, err
	}

	return []sia.Option{
		sia.WithTransport(transport),
		sia.WithScheduling(scheduling),
		sia.WithMaxFrameLength(c.MaxFrameLength),
		sia.WithReadTimeout(c.ReadTimeout),
		sia.WithShutdownTimeout(c.ShutdownTimeout),
		sia.WithDispatchQueue(c.Queue.Size, c.Queue.Workers, policy),
		sia.WithLogger(logger),
	}, nil
}

func parseScheduling(s string) (sia.Scheduling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-connection", "concurrent":
		return sia.SchedulePerConnection, nil
	case "serial", "single":
		return sia.ScheduleSerial, nil
	}
	return sia.SchedulePerConnection, fmt.Errorf("unsupported scheduling %q (supported: per-connection, serial)", s)
}
