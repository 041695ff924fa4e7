package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"
	"tracerbot/pkg/channel/telegram"
	"tracerbot/pkg/config"
	"tracerbot/pkg/gateway"
	"tracerbot/pkg/logger"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot on the configured channels",
	Long:  "Runs the tracer study bot on every enabled channel with health, readiness and status endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(runCtx, cfg, nil, adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		events, unsubscribe := svc.Bus().SubscribeEvents(runCtx, 0)
		defer unsubscribe()
		go logEvents(log, events)

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "nlu", cfg.NLU.URL, "concurrency", cfg.Dispatcher.Concurrency)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err, logger.AlertKey, true)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

func logEvents(log *slog.Logger, events <-chan bus.Event) {
	for event := range events {
		logEvent(log, event)
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event", string(event.Type),
		"session_key", event.SessionKey,
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	for key, value := range event.Payload {
		attrs = append(attrs, key, value)
	}

	switch event.Type {
	case bus.EventMessageFailed, bus.EventTranscriptFailed:
		log.Error("Lifecycle event", append(attrs, "error", event.Error)...)
	case bus.EventMessageReceived:
		log.Debug("Lifecycle event", attrs...)
	default:
		log.Info("Lifecycle event", attrs...)
	}
}
