package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/vespa"
)

var vespaCmd = &cobra.Command{
	Use:   "vespa",
	Short: "Manage the Vespa keyword index",
}

var vespaDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the chunk schema to the Vespa config server",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := vespa.NewDeployer(vespa.DeployerConfig{ConfigURL: cfg.VespaConfigURL, Logger: logger})
		if err != nil {
			return err
		}
		if err := d.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("vespa config server: %w", err)
		}
		result, err := d.Deploy(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	vespaCmd.AddCommand(vespaDeployCmd)
	rootCmd.AddCommand(vespaCmd)
}
