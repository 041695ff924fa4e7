package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tracerbot/pkg/config"
	"tracerbot/pkg/conversation"
	"tracerbot/pkg/nlu"
	"tracerbot/pkg/reply"
	"tracerbot/pkg/session"

	"github.com/spf13/cobra"
)

const probeChannel = "cli"

var (
	probeMessage string
	probeSender  string
)

var nluCmd = &cobra.Command{
	Use:   "nlu [message]",
	Short: "Send a message to the NLU backend and show the interpreted reply",
	Long:  "Posts one message (or an interactive sequence) to the configured NLU webhook and prints the actions the bot would send.",
	RunE: func(cmd *cobra.Command, args []string) error {
		message := resolveMessage(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		client, err := nlu.New(cfg.NLU.URL, cfg.NLU.RequestTimeout())
		if err != nil {
			return fmt.Errorf("initialize nlu client: %w", err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := client.Health(ctx); err != nil {
			return fmt.Errorf("nlu health check failed: %w", err)
		}

		p := newProber(client, cfg, probeSender)
		if message != "" {
			return p.probe(ctx, message, os.Stdout)
		}

		return p.interactive(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(nluCmd)
	nluCmd.Flags().StringVarP(&probeMessage, "message", "m", "", "message text to send")
	nluCmd.Flags().StringVar(&probeSender, "sender", "probe", "chat identifier sent to the NLU backend")
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(probeMessage); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// prober keeps one local session so numbered menu answers resolve the same way
// they do in a real chat.
type prober struct {
	client      conversation.NLU
	interpreter *reply.Interpreter
	resolver    *session.Resolver
	session     *session.ChatSession
}

func newProber(client conversation.NLU, cfg *config.Config, sender string) *prober {
	store := session.NewStore()
	sess, _ := store.GetOrCreate(session.Address{Channel: probeChannel, ChatID: sender})

	return &prober{
		client:      client,
		interpreter: reply.NewInterpreter(cfg.Session.MenuTTL(), cfg.Messages.Fallback, nil),
		resolver:    session.NewResolver(nil),
		session:     sess,
	}
}

func (p *prober) probe(ctx context.Context, input string, out io.Writer) error {
	message := input
	if payload, ok := p.resolver.Resolve(p.session, input); ok {
		fmt.Fprintf(out, "↪ %s\n", payload)
		message = payload
	}

	raw, err := p.client.Send(ctx, nlu.Request{Sender: p.session.Key, Message: message})
	if err != nil {
		return fmt.Errorf("nlu request failed: %w", err)
	}

	plan, err := p.interpreter.Interpret(raw)
	if err != nil {
		fmt.Fprintf(out, "⚠️ unreadable reply: %v\n", err)
	}
	if plan.Menu != nil {
		p.session.SetPendingMenu(*plan.Menu)
	}

	printPlan(out, plan)
	return nil
}

func (p *prober) interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "🧑‍🎓 ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return nil
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if isExitCommand(input) {
			return nil
		}

		if err := p.probe(ctx, input, out); err != nil {
			fmt.Fprintf(out, "%v\n", err)
		}
	}
}

func printPlan(out io.Writer, plan reply.Plan) {
	for _, action := range plan.Actions {
		for _, line := range botLines(reply.Describe(action)) {
			fmt.Fprintf(out, "🤖 %s\n", line)
		}
	}
	if plan.Menu != nil {
		fmt.Fprintf(out, "   menu: %d options until %s\n", len(plan.Menu.Options), plan.Menu.ExpiresAt.Local().Format(time.Kitchen))
	}
	if plan.SurveyDone {
		fmt.Fprintln(out, "   survey_done: transcript would be saved and a reminder armed")
	}
	fmt.Fprintln(out)
}

func botLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
