package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"
	"tracerbot/pkg/channel/console"
	"tracerbot/pkg/config"
	"tracerbot/pkg/gateway"
	"tracerbot/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	chatID      string
	chatLogFile string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot from the terminal",
	Long:  "Runs the full conversation engine against a local terminal channel, useful for exercising survey flows without Telegram.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Gateway.Port = -1

		logWriter, closeLog, err := openChatLog(chatLogFile)
		if err != nil {
			return err
		}
		defer closeLog()

		appLogger, err := logger.NewWithWriter(cfg.Logging, logWriter)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.chat")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runCtx, cancel := context.WithCancel(runCtx)
		defer cancel()

		mb := bus.NewMessageBus()
		adapter, err := console.NewAdapter(mb, log,
			console.WithChatID(chatID),
			console.WithNLUEndpoint(cfg.NLU.URL),
			console.WithQuit(cancel),
		)
		if err != nil {
			return err
		}

		svc, err := gateway.NewService(runCtx, cfg, mb, []channel.Adapter{adapter}, log)
		if err != nil {
			return fmt.Errorf("initialize chat service: %w", err)
		}

		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatID, "chat-id", "local", "chat identifier for the local session")
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "", "append logs to this file instead of discarding them")
}

// openChatLog keeps logs off the terminal while the TUI owns it.
func openChatLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open chat log: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
