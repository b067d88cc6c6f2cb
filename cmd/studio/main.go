// Command studio is the terminal client of the relay: streamed chat and image
// generation with a locally persisted history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/studio-relay/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// options holds persistent flag values; set flags override the environment.
type options struct {
	relayURL  string
	backend   string
	storePath string
	redisURL  string
	logLevel  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "studio",
		Short:         "Studio: streamed chat and image generation",
		Long:          "Studio talks to the relay server, streams chat replies and keeps chat and image history in a local store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.relayURL, "relay-url", "", "relay server base URL (env RELAY_URL)")
	flags.StringVar(&opts.backend, "store", "", "store backend: sqlite, redis or memory (env STORE_BACKEND)")
	flags.StringVar(&opts.storePath, "store-path", "", "SQLite database path (env STORE_PATH)")
	flags.StringVar(&opts.redisURL, "redis-url", "", "Redis URL (env REDIS_URL)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newTranscriptCmd(opts))
	cmd.AddCommand(newImageCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newClearCmd(opts))
	return cmd
}

func (o *options) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	overrides := map[string]string{
		"relay-url":  "RELAY_URL",
		"store":      "STORE_BACKEND",
		"store-path": "STORE_PATH",
		"redis-url":  "REDIS_URL",
		"log-level":  "LOG_LEVEL",
	}
	for flag, env := range overrides {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := os.Setenv(env, f.Value.String()); err != nil {
				return fmt.Errorf("apply --%s: %w", flag, err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "studio %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}
