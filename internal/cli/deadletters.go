package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilient/internal/control"
	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/infra/amqp"
)

var (
	dlConsumer string
	dlLimit    int
)

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Inspect and replay dead-lettered messages",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending dead-lettered messages",
	Run:   runDeadLettersList,
}

var deadLettersReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish pending dead-lettered messages and mark them resolved",
	Run:   runDeadLettersReplay,
}

var deadLettersResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Mark a dead-lettered message resolved without replaying it",
	Args:  cobra.ExactArgs(1),
	Run:   runDeadLettersResolve,
}

func init() {
	deadLettersCmd.PersistentFlags().StringVar(&dlConsumer, "consumer", "", "consumer name (default from config)")
	deadLettersCmd.PersistentFlags().IntVar(&dlLimit, "limit", 100, "maximum messages, 0 for all")
	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersReplayCmd, deadLettersResolveCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

// openStore opens the configured dead-letter backend or exits.
func openStore(ctx context.Context, cfg *config.AppConfig) *control.DeadLetterStore {
	if cfg.DeadLetter.Backend == config.BackendMemory {
		slog.Warn("Memory dead-letter storage does not outlive the consumer process")
	}
	store, err := control.OpenDeadLetters(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to open dead-letter storage", "error", err)
		os.Exit(1)
	}
	if store.Repo == nil {
		slog.Error("Dead-letter storage is disabled")
		os.Exit(1)
	}
	return store
}

func consumerName(cfg *config.AppConfig) string {
	if dlConsumer != "" {
		return dlConsumer
	}
	return cfg.Consumer.Name
}

func runDeadLettersList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	store := openStore(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	pending, err := store.Repo.ListPending(ctx, consumerName(cfg), dlLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tMESSAGE\tROUTING KEY\tFAILURE\tATTEMPTS\tCREATED\tERROR")
	for _, fm := range pending {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			fm.ID, fm.MessageID, fm.RoutingKey, fm.Failure, fm.Attempts,
			fm.CreatedAt.Format(time.RFC3339), fm.Error)
	}
	_ = w.Flush()
}

func runDeadLettersReplay(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	store := openStore(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	pub, err := amqp.NewPublisher(ctx, cfg.AMQP, cfg.Publish.Policy(), slog.Default())
	if err != nil {
		slog.Error("Failed to connect publisher", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = pub.Close()
	}()

	n, err := control.Replay(ctx, store.Repo, pub, control.ReplayOptions{
		Consumer: consumerName(cfg),
		Exchange: cfg.AMQP.Exchange,
		Queue:    cfg.AMQP.Queue,
		Limit:    dlLimit,
	}, slog.Default())
	if err != nil {
		slog.Error("Replay stopped", "replayed", n, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully replayed %d messages\n", n)
}

func runDeadLettersResolve(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	store := openStore(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	if err := store.Repo.MarkResolved(ctx, args[0]); err != nil {
		slog.Error("Failed to resolve dead letter", "id", args[0], "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully resolved %s\n", args[0])
}
