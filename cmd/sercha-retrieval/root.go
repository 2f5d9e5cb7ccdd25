package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/config"
	"github.com/custodia-labs/sercha-retrieval/internal/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	// loadConfig is swapped in tests
	loadConfig = config.Load
)

var rootCmd = &cobra.Command{
	Use:   "sercha-retrieval",
	Short: "Hybrid knowledge retrieval service",
	Long: `sercha-retrieval answers knowledge queries over a Weaviate vector index
and a Vespa keyword index, and keeps both indexes in sync with PostgreSQL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["config"] == "none" {
			return nil
		}
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = c
		logger = logging.New(os.Stderr, c.LogFormat, c.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Annotations: map[string]string{"config": "none"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "sercha-retrieval "+version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
