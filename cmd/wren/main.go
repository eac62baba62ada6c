// Wren is a conversational agent for chat platforms.
//
// This binary runs the activation cache subsystem: it follows the
// gateway's message events, keeps the channel message ledger current,
// reconciles persisted activation records when messages are deleted,
// and exposes the cache to the agent loop. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	wren serve                    Follow the gateway and reconcile the cache
//	wren inspect <channel-id>     Reconstruct a channel from the cache and print it
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wrenbot/wren/internal/activation"
	"github.com/wrenbot/wren/internal/config"
	"github.com/wrenbot/wren/internal/events"
	"github.com/wrenbot/wren/internal/gateway"
	"github.com/wrenbot/wren/internal/ledger"
)

// main is intentionally minimal. It constructs the OS-level
// environment (context, stdio, argv) and delegates immediately to
// [run], keeping os.Exit and os.Args out of the application logic so
// the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the wren command. Arguments are
// parsed manually rather than with the flag package to avoid global
// state that interferes with parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var rest []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" || args[i] == "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("-config requires a path")
			}
			i++
			configPath = args[i]
		case command == "":
			command = args[i]
		default:
			rest = append(rest, args[i])
		}
	}
	if command == "" {
		command = "serve"
	}

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}))

	switch command {
	case "serve":
		return serve(ctx, logger, cfg)
	case "inspect":
		return inspect(stdout, logger, cfg, rest)
	default:
		return fmt.Errorf("unknown command %q (valid: serve, inspect)", command)
	}
}

// serve follows the gateway until the process is signalled.
func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	led, err := ledger.NewStore(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("open message ledger: %w", err)
	}
	defer led.Close()

	bus := events.New()
	store := activation.NewStore(cfg.CacheDir, logger, bus)
	reconciler := activation.NewReconciler(store, logger, bus)

	sink := &gatewaySink{
		botID:      cfg.Bot.ID,
		ledger:     led,
		reconciler: reconciler,
		logger:     logger,
	}
	client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, sink, logger, bus)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	logger.Info("wren serving", "bot_id", cfg.Bot.ID, "cache_dir", cfg.CacheDir)

	listenErr := make(chan error, 1)
	go func() { listenErr <- client.Listen() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		client.Close()
		<-listenErr
		return nil
	case err := <-listenErr:
		return err
	}
}

// gatewaySink routes gateway events into the ledger and the
// activation reconciler. Failures are logged, never fatal: a missed
// ledger update degrades reconstruction accuracy but must not drop
// the connection.
type gatewaySink struct {
	botID      string
	ledger     *ledger.Store
	reconciler *activation.Reconciler
	logger     *slog.Logger
}

func (s *gatewaySink) MessageCreated(channelID, messageID, authorID string) {
	if err := s.ledger.Record(channelID, messageID, authorID); err != nil {
		s.logger.Warn("record message", "channel_id", channelID, "message_id", messageID, "error", err)
	}
}

func (s *gatewaySink) MessageDeleted(channelID, messageID string) {
	if err := s.ledger.Remove(channelID, messageID); err != nil {
		s.logger.Warn("remove message from ledger",
			"channel_id", channelID, "message_id", messageID, "error", err)
	}
	if err := s.reconciler.OnMessageDeleted(s.botID, channelID, messageID); err != nil {
		s.logger.Warn("reconcile deletion",
			"channel_id", channelID, "message_id", messageID, "error", err)
	}
}

// inspect reconstructs one channel from the cache and prints a
// summary of what the renderer would receive.
func inspect(stdout io.Writer, logger *slog.Logger, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wren inspect <channel-id>")
	}
	channelID := args[0]

	led, err := ledger.NewStore(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("open message ledger: %w", err)
	}
	defer led.Close()

	live, err := led.Live(channelID)
	if err != nil {
		return err
	}

	store := activation.NewStore(cfg.CacheDir, logger, nil)
	activations, err := store.Load(cfg.Bot.ID, channelID, live)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "channel %s: %d live messages, %d activations\n",
		channelID, len(live), len(activations))
	for _, a := range activations {
		fmt.Fprintf(stdout, "  %s  started=%s completions=%d phantoms=%d\n",
			a.ID, a.StartedAt.Format("2006-01-02 15:04:05"),
			len(a.Completions), a.PhantomCount())
	}

	insertions := activation.Insertions(activations, live)
	for anchor, completions := range insertions {
		fmt.Fprintf(stdout, "  after %s: %d spliced completion(s)\n", anchor, len(completions))
	}
	return nil
}
