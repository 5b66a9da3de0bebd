// Command bridge connects a local text-generation model server to the
// brokering cluster.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-prompt-broker/internal/bridge"
)

var flags struct {
	apiKey     string
	name       string
	modelURL   string
	clusterURL string
	interval   time.Duration
	priority   []string
}

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve cluster prompts with a local model server",
	Long: `bridge announces a local text-generation server to the brokering
cluster, polls for prompts it is eligible for, drives the generations, and
submits the results to earn kudos for the owner's account.

Configuration resolves in three layers: bridge.yaml (or the file named by
BRIDGE_CONFIG_FILE), then BRIDGE_* environment variables, then these flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

func init() {
	rootCmd.Flags().StringVarP(&flags.apiKey, "api-key", "k", "", "owner API key (BRIDGE_API_KEY)")
	rootCmd.Flags().StringVarP(&flags.name, "name", "n", "", "worker name shown on /servers (BRIDGE_NAME)")
	rootCmd.Flags().StringVar(&flags.modelURL, "model-url", "", "local model server URL (BRIDGE_MODEL_URL)")
	rootCmd.Flags().StringVar(&flags.clusterURL, "cluster-url", "", "cluster URL (BRIDGE_CLUSTER_URL)")
	rootCmd.Flags().DurationVarP(&flags.interval, "interval", "i", 0, "pause between polls (BRIDGE_INTERVAL)")
	rootCmd.Flags().StringSliceVar(&flags.priority, "priority-usernames", nil, "aliases whose prompts this bridge serves first")
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := bridge.Load()
	if err != nil {
		return err
	}
	if flags.apiKey != "" {
		cfg.APIKey = flags.apiKey
	}
	if flags.name != "" {
		cfg.Name = flags.name
	}
	if flags.modelURL != "" {
		cfg.ModelURL = strings.TrimRight(flags.modelURL, "/")
	}
	if flags.clusterURL != "" {
		cfg.ClusterURL = strings.TrimRight(flags.clusterURL, "/")
	}
	if cmd.Flags().Changed("interval") {
		cfg.Interval = flags.interval
	}
	if len(flags.priority) > 0 {
		cfg.PriorityUsernames = flags.priority
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- bridge.New(cfg).Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancel()
		return <-done
	case err := <-done:
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("bridge failed", slog.Any("error", err))
		os.Exit(1)
	}
}
