package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/sia/sia"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, `
accounts:
  - id: "1234"
`)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, sia.DefaultPort, cfg.Port)
	require.Equal(t, "tcp", cfg.Transport)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, 256, cfg.Queue.Size)
	require.Equal(t, "drop-oldest", cfg.Queue.Policy)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	acct, err := reg.Lookup("1234")
	require.NoError(t, err)
	require.Equal(t, sia.DefaultTimeband, acct.Window())
}

func TestLoad_Full(t *testing.T) {
	cfg, err := load(t, `
host: 127.0.0.1
port: 12128
transport: both
scheduling: serial
shutdown_timeout: 2s
queue:
  size: 8
  workers: 2
  policy: block
accounts:
  - id: "ab12"
    key: "0123456789abcdef"
    timeband_before: 5m
  - id: "5678"
mqtt:
  broker: tcp://localhost:1883
  qos: 1
journal:
  path: /tmp/sia.jsonl
health:
  addr: ":8080"
`)
	require.NoError(t, err)
	require.Equal(t, 12128, cfg.Port)
	require.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	require.Equal(t, "sia", cfg.MQTT.Topic)
	require.Equal(t, "/tmp/sia.jsonl", cfg.Journal.Path)
	require.Equal(t, ":8080", cfg.Health.Addr)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	require.Equal(t, []string{"5678", "AB12"}, reg.IDs())

	acct, err := reg.Lookup("AB12")
	require.NoError(t, err)
	require.True(t, acct.Encrypted())
	require.Equal(t, sia.Timeband{Before: 5 * time.Minute, After: 20 * time.Second}, acct.Window())

	opts, err := cfg.ServerOptions(nil)
	require.NoError(t, err)
	require.Len(t, opts, 7)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no accounts", `port: 7777`, "at least one account"},
		{"bad transport", "transport: sctp\naccounts:\n  - id: \"1234\"", "unsupported transport"},
		{"bad scheduling", "scheduling: magic\naccounts:\n  - id: \"1234\"", "unsupported scheduling"},
		{"bad policy", "queue:\n  policy: lifo\naccounts:\n  - id: \"1234\"", "unknown queue policy"},
		{"bad key", "accounts:\n  - id: \"1234\"\n    key: short", "invalid key length"},
		{"duplicate", "accounts:\n  - id: \"1234\"\n  - id: \"1234\"", "duplicate account"},
		{"bad qos", "mqtt:\n  broker: tcp://x:1883\n  qos: 3\naccounts:\n  - id: \"1234\"", "invalid mqtt qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
