package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

var (
	queryProject   string
	queryUser      string
	queryMaxChunks int
	queryThreshold float64
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a retrieval query and print the context",
	Long: `Run a retrieval query and print the resulting context as JSON.

A failed query still prints a context: it is empty and carries an "error"
key in its metadata.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.Retrieval.Query(cmd.Context(), strings.Join(args, " "), domain.QueryScope{
			ProjectID:           queryProject,
			UserID:              queryUser,
			MaxChunks:           queryMaxChunks,
			SimilarityThreshold: queryThreshold,
		})
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryProject, "project", "p", "", "project to scope the query to")
	queryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "user the query runs as")
	queryCmd.Flags().IntVarP(&queryMaxChunks, "max-chunks", "n", 0, "maximum chunks to return (0 for the default)")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "similarity threshold (0 for the default)")
	rootCmd.AddCommand(queryCmd)
}
