package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/sia/internal/config"
	"github.com/edgeo-scada/sia/internal/health"
	"github.com/edgeo-scada/sia/internal/journal"
	"github.com/edgeo-scada/sia/internal/mqttsink"
	"github.com/edgeo-scada/sia/sia"
)

var (
	serveAccounts []string
	serveQuiet    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DC-09 receiver",
	Long: `Serve listens for DC-09 frames, answers every frame with ACK, NAK or DUH
and forwards validated events to stdout and optionally to MQTT.

Accounts come from the config file. --account adds accounts on the command
line as ID or ID:KEY, where KEY is a 16, 24 or 32 character AES key.

Examples:
  # Plaintext account on TCP
  edgeo-sia serve --account 1234

  # Encrypted account on TCP and UDP with a frame journal
  edgeo-sia serve --transport both --account AAA:0123456789abcdef --journal /var/log/sia.jsonl

  # Expose health and metrics
  edgeo-sia serve --account 1234 --health-addr :8080 -o json`,

	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVarP(&serveAccounts, "account", "a", nil, "Account as ID or ID:KEY (repeatable)")
	serveCmd.Flags().String("transport", "tcp", "Transport (tcp, udp, both)")
	serveCmd.Flags().String("scheduling", "per-connection", "Processing model (per-connection, serial)")
	serveCmd.Flags().String("journal", "", "Append every frame and reply to this file")
	serveCmd.Flags().String("mqtt-broker", "", "Forward events to this MQTT broker (e.g. tcp://localhost:1883)")
	serveCmd.Flags().String("mqtt-topic", "sia", "MQTT topic prefix")
	serveCmd.Flags().String("health-addr", "", "Serve /health, /ready and /metrics on this address")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Do not print events")

	viper.BindPFlag("transport", serveCmd.Flags().Lookup("transport"))
	viper.BindPFlag("scheduling", serveCmd.Flags().Lookup("scheduling"))
	viper.BindPFlag("journal.path", serveCmd.Flags().Lookup("journal"))
	viper.BindPFlag("mqtt.broker", serveCmd.Flags().Lookup("mqtt-broker"))
	viper.BindPFlag("mqtt.topic", serveCmd.Flags().Lookup("mqtt-topic"))
	viper.BindPFlag("health.addr", serveCmd.Flags().Lookup("health-addr"))
}

// accountsFromFlags turns ID[:KEY] values into config entries
func accountsFromFlags(values []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		id, key, _ := strings.Cut(v, ":")
		out = append(out, map[string]interface{}{"id": id, "key": key})
	}
	return out
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(serveAccounts) > 0 {
		accounts := accountsFromFlags(serveAccounts)
		if existing, ok := viper.Get("accounts").([]interface{}); ok {
			for _, a := range existing {
				if m, ok := a.(map[string]interface{}); ok {
					accounts = append(accounts, m)
				}
			}
		}
		viper.Set("accounts", accounts)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	opts, err := cfg.ServerOptions(logger)
	if err != nil {
		return err
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, sia.WithRawRecorder(j))
	}

	var sink *mqttsink.Sink
	if cfg.MQTT.Broker != "" {
		sink, err = mqttsink.Connect(mqttsink.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Retain:   cfg.MQTT.Retain,
			Timeout:  cfg.MQTT.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	formatter := NewFormatter(outputFmt)
	handler := func(ctx context.Context, ev sia.Event) error {
		logger.Debug("event",
			slog.String("account", ev.Account),
			slog.String("code", ev.Code),
			slog.String("zone", ev.Zone),
			slog.String("remote", ev.RemoteAddr),
		)
		if !serveQuiet {
			if err := formatter.PrintEvent(ev); err != nil {
				return fmt.Errorf("print event: %w", err)
			}
		}
		if sink != nil {
			return sink.Handle(ctx, ev)
		}
		return nil
	}

	srv, err := sia.NewServer(registry, handler, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, cfg.Host, cfg.Port); err != nil {
		return err
	}
	logger.Info("receiver started",
		slog.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		slog.String("transport", cfg.Transport),
		slog.Int("accounts", registry.Len()),
	)
	if !serveQuiet {
		formatter.PrintEventHeader()
	}

	g, gctx := errgroup.WithContext(ctx)

	var hs *health.Server
	if cfg.Health.Addr != "" {
		hs = health.NewServer(cfg.Health.Addr, srv.Metrics().Snapshot, logger)
		hs.SetReady(true)
		g.Go(hs.ListenAndServe)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if hs != nil {
			hs.SetReady(false)
		}
		if err := srv.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if hs != nil {
			if err := hs.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		m := srv.Metrics().Snapshot()
		logger.Info("receiver stopped",
			slog.Int64("frames", m.FramesReceived),
			slog.Int64("acks", m.ACKsSent),
			slog.Int64("naks", m.NAKsSent),
			slog.Int64("events", m.EventsDispatched),
		)
		return nil
	})

	return g.Wait()
}
