package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

var (
	reindexProject     string
	reindexSince       string
	reindexIncremental bool
	driftProject       string
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the keyword index from PostgreSQL",
	Long: `Rebuild the keyword index from PostgreSQL in batches.

Without flags every chunk is reindexed. --since restricts the run to chunks
updated after an RFC3339 timestamp, and --incremental uses the last 24 hours.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := domain.ReindexRequest{ProjectID: reindexProject}
		switch {
		case reindexSince != "":
			since, err := time.Parse(time.RFC3339, reindexSince)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			req.Since = &since
		case reindexIncremental:
			since := time.Now().Add(-domain.DefaultIncrementalWindow)
			req.Since = &since
		}

		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sync.Reindex(cmd.Context(), req)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result.Status != domain.SyncStatusCompleted {
			return fmt.Errorf("reindex finished with status %s", result.Status)
		}
		return nil
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare chunk counts between PostgreSQL and the keyword index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		record, err := a.Sync.DriftStatus(cmd.Context(), driftProject)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), record)
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexProject, "project", "", "restrict to one project")
	reindexCmd.Flags().StringVar(&reindexSince, "since", "", "only chunks updated after this RFC3339 time")
	reindexCmd.Flags().BoolVar(&reindexIncremental, "incremental", false, "only chunks updated in the last 24h")
	reindexCmd.MarkFlagsMutuallyExclusive("since", "incremental")
	driftCmd.Flags().StringVar(&driftProject, "project", "", "restrict to one project")

	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(driftCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
